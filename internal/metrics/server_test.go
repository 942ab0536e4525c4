package metrics

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServerAllowedIPs(t *testing.T) {
	m := New()

	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR notation", []string{"192.168.0.0/16", "10.0.0.0/8"}, 2},
		{"with invalid", []string{"192.168.1.1", "invalid", "10.0.0.0/33"}, 1},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(m, ServerConfig{AllowedIPs: tt.allowedIPs}, testLogger())
			if len(s.allowed) != tt.wantCount {
				t.Errorf("allowed networks = %d, want %d", len(s.allowed), tt.wantCount)
			}
		})
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(New(), ServerConfig{}, testLogger())
	if s.cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", s.cfg.Addr)
	}
	if s.cfg.Path != "/metrics" {
		t.Errorf("Path = %q, want /metrics", s.cfg.Path)
	}
}

func TestClientIP(t *testing.T) {
	direct := NewServer(New(), ServerConfig{}, testLogger())
	proxied := NewServer(New(), ServerConfig{TrustProxy: true}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := direct.clientIP(req); !got.Equal(net.ParseIP("10.0.0.5")) {
		t.Errorf("clientIP() without proxy trust = %v, want 10.0.0.5", got)
	}
	if got := proxied.clientIP(req); !got.Equal(net.ParseIP("203.0.113.7")) {
		t.Errorf("clientIP() with proxy trust = %v, want 203.0.113.7", got)
	}
}

func TestServerHandler(t *testing.T) {
	m := New()
	m.Layouts.Set(3)
	s := NewServer(m, ServerConfig{AllowedIPs: []string{"127.0.0.1"}}, testLogger())
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("allowed status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pageforge_layouts 3") {
		t.Errorf("body missing pageforge_layouts gauge:\n%s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("denied status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
