package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/foxzi/pageforge/internal/bus"
)

// Watch subscribes to the invalidation socket. Events arrive on the
// returned channel, which is closed when ctx ends or the connection drops.
func (c *Client) Watch(ctx context.Context) (<-chan bus.Event, error) {
	wsURL := c.baseURL + "/api/v1/events"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			var errResp errorResponse
			if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
				apiErr.Code = errResp.Code
				apiErr.Message = errResp.Error
			}
			return nil, apiErr
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}

	events := make(chan bus.Event)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer close(done)
		for {
			var e bus.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			if e.Type != bus.EventLayoutsChanged {
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
