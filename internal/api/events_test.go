package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foxzi/pageforge/internal/bus"
	"github.com/foxzi/pageforge/internal/layout"
)

func TestWritesPublishEvents(t *testing.T) {
	env := setupTestServer(t)

	sub := env.bus.Subscribe(bus.SubscribeOptions{Origin: testOrigin})
	defer sub.Close()

	w := env.do(t, "POST", "/api/v1/layouts", env.adminToken,
		layout.CreateLayoutRequest{Title: "Home", Slug: "home"},
		"Origin", testOrigin)
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d", w.Code)
	}

	select {
	case e := <-sub.C:
		if e.Kind != bus.KindCreated || e.Origin != testOrigin || e.LayoutID == "" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestEventsSocket(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	header := http.Header{"Origin": []string{testOrigin}}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: resp %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+env.userToken, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for env.bus.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w := env.do(t, "POST", "/api/v1/layouts", env.adminToken,
		layout.CreateLayoutRequest{Title: "Home", Slug: "home"},
		"Origin", testOrigin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d", w.Code)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e bus.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Type != bus.EventLayoutsChanged || e.Kind != bus.KindCreated {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "OPTIONS", "/api/v1/layouts", "", nil,
		"Origin", testOrigin,
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Authorization, Content-Type",
	)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testOrigin)
	}

	w = env.do(t, "OPTIONS", "/api/v1/layouts", "", nil,
		"Origin", "https://evil.example.com",
		"Access-Control-Request-Method", "POST",
	)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Access-Control-Allow-Origin %q for unknown origin", got)
	}
}
