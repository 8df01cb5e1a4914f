package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"worktracker/internal/logfields"
)

// PresenceEvent is a status change reported by the server.
type PresenceEvent struct {
	UserID string
	Status string
	Mobile bool
}

// wsEvent is the envelope of every message on the event websocket.
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Seq   int64           `json:"seq"`
}

type statusChangeData struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// PresenceStream follows the server's event websocket and reports status
// changes. It reconnects with exponential backoff until its context ends.
type PresenceStream struct {
	url        string
	origin     string
	token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// PresenceStream returns a stream on the client's server and credentials.
func (c *Client) PresenceStream() *PresenceStream {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return &PresenceStream{
		url:        ws + "/api/v4/websocket",
		origin:     c.baseURL,
		token:      c.botToken,
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run delivers events to handle until ctx is cancelled. handle is called
// from a single goroutine.
func (s *PresenceStream) Run(ctx context.Context, handle func(PresenceEvent)) error {
	backoff := s.MinBackoff
	for {
		connected, err := s.listen(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.MinBackoff
		}
		slog.Warn("Presence stream disconnected", logfields.Error(err), slog.Duration("retry_in", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, s.MaxBackoff)
	}
}

// listen runs one connection. connected reports whether the handshake
// succeeded.
func (s *PresenceStream) listen(ctx context.Context, handle func(PresenceEvent)) (connected bool, err error) {
	cfg, err := websocket.NewConfig(s.url, s.origin)
	if err != nil {
		return false, fmt.Errorf("websocket config: %w", err)
	}
	cfg.Header = http.Header{"Authorization": []string{"Bearer " + s.token}}

	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return false, fmt.Errorf("dial websocket: %w", err)
	}
	slog.Info("Presence stream connected", slog.String("url", s.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var ev wsEvent
		if err := websocket.JSON.Receive(conn, &ev); err != nil {
			return true, fmt.Errorf("receive event: %w", err)
		}
		if ev.Event != "status_change" {
			continue
		}
		var data statusChangeData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			slog.Warn("Malformed status_change event", logfields.Error(err))
			continue
		}
		if data.UserID == "" {
			continue
		}
		handle(PresenceEvent{UserID: data.UserID, Status: data.Status})
	}
}
