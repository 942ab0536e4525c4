package bus

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, b *Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", b.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return e
}

func TestHub_PushesBusEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(logger)
	hub := NewHub(b, []string{"https://admin.example"}, 8, logger)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv, "https://admin.example")
	waitSubscribers(t, b, 1)

	b.Publish(Event{LayoutID: "l1", Kind: KindReverted, Origin: "https://admin.example"})

	e := readEvent(t, conn)
	if e.Type != EventLayoutsChanged {
		t.Errorf("Type = %q, want %q", e.Type, EventLayoutsChanged)
	}
	if e.LayoutID != "l1" || e.Kind != KindReverted {
		t.Errorf("event = %+v, want layout l1 reverted", e)
	}
}

func TestHub_RelaysToSiblingTabs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(logger)
	hub := NewHub(b, []string{"*"}, 8, logger)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	writer := dialHub(t, srv, "https://admin.example")
	sibling := dialHub(t, srv, "https://admin.example")
	waitSubscribers(t, b, 2)

	err := writer.WriteJSON(map[string]string{
		"type":      EventLayoutsChanged,
		"layout_id": "l7",
		"kind":      string(KindDeleted),
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	e := readEvent(t, sibling)
	if e.LayoutID != "l7" {
		t.Errorf("LayoutID = %q, want l7", e.LayoutID)
	}
	if e.Origin != "https://admin.example" {
		t.Errorf("Origin = %q, want https://admin.example", e.Origin)
	}
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(logger)
	hub := NewHub(b, []string{"https://admin.example"}, 8, logger)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Dial() should fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}
}
