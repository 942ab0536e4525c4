package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/foxzi/pageforge/internal/models"
)

// StatsProvider reports content counts for the gauges
type StatsProvider interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

// Collector periodically refreshes system and content gauges
type Collector struct {
	metrics   *Metrics
	stats     StatsProvider
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(m *Metrics, stats StatsProvider, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		metrics:   m,
		stats:     stats,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collector loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	c.Collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect refreshes every gauge once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.stats == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	stats, err := c.stats.Stats(ctx)
	if err != nil {
		c.logger.Warn("failed to collect layout stats", "error", err)
		return
	}
	c.metrics.Layouts.Set(float64(stats.Layouts))
	c.metrics.LayoutVersions.Set(float64(stats.Versions))
}
