package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foxzi/pageforge/internal/models"
)

type mockStatsProvider struct {
	stats *models.Stats
	err   error
}

func (m *mockStatsProvider) Stats(ctx context.Context) (*models.Stats, error) {
	return m.stats, m.err
}

func TestCollectorCollect(t *testing.T) {
	m := New()
	provider := &mockStatsProvider{stats: &models.Stats{Layouts: 4, Versions: 11}}
	c := NewCollector(m, provider, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	c.Collect(context.Background())

	if got := testutil.ToFloat64(m.Layouts); got != 4 {
		t.Errorf("layouts = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.LayoutVersions); got != 11 {
		t.Errorf("layout versions = %v, want 11", got)
	}
	if got := testutil.ToFloat64(m.Goroutines); got <= 0 {
		t.Errorf("goroutines = %v, want > 0", got)
	}
}

func TestCollectorKeepsGaugesOnError(t *testing.T) {
	m := New()
	m.Layouts.Set(9)
	provider := &mockStatsProvider{err: errors.New("database is locked")}
	c := NewCollector(m, provider, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	c.Collect(context.Background())

	if got := testutil.ToFloat64(m.Layouts); got != 9 {
		t.Errorf("layouts = %v, want 9", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	m := New()
	provider := &mockStatsProvider{stats: &models.Stats{Layouts: 1, Versions: 1}}
	c := NewCollector(m, provider, 0, nil)

	if c.interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s", c.interval)
	}

	c.Start(context.Background())
	c.Stop()
	c.Stop()

	// The loop collects once on start
	if got := testutil.ToFloat64(m.Layouts); got != 1 {
		t.Errorf("layouts = %v, want 1", got)
	}
}
