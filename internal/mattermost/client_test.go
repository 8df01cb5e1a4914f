package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestClient_CreatePost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v4/posts", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var p Post
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "ch1", p.ChannelID)
		p.ID = "post1"
		_ = json.NewEncoder(w).Encode(p)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", 0)
	post, err := c.CreatePost(context.Background(), &Post{ChannelID: "ch1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "post1", post.ID)
	assert.Equal(t, "hi", post.Message)
}

func TestClient_SendDM(t *testing.T) {
	var posted Post
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bot"}`))
	})
	mux.HandleFunc("POST /api/v4/channels/direct", func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		assert.Equal(t, []string{"bot", "u1"}, ids)
		_, _ = w.Write([]byte(`{"id":"dm1"}`))
	})
	mux.HandleFunc("POST /api/v4/posts", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		_, _ = w.Write([]byte(`{"id":"p1"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 0)
	require.NoError(t, c.SendDM(context.Background(), "u1", "break ends soon"))
	assert.Equal(t, "dm1", posted.ChannelID)
	assert.Equal(t, "break ends soon", posted.Message)
}

func TestClient_GetUserStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/users/status/ids", r.URL.Path)
		var ids []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		out := make([]Status, 0, len(ids))
		for _, id := range ids {
			out = append(out, Status{UserID: id, Status: "away"})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 0)
	statuses, err := c.GetUserStatuses(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "b", statuses[1].UserID)
	assert.Equal(t, "away", statuses[1].Status)

	none, err := c.GetUserStatuses(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"missing"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 0)
	_, err := c.GetUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Body, "missing")
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"id":"c1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 0.1)
	_, err := c.GetChannel(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GetChannel(ctx, "c1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "the second request waits for a token")
}

func TestUser_FullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&User{Username: "ada", FirstName: "Ada", LastName: "Lovelace"}).FullName())
	assert.Equal(t, "ada", (&User{Username: "ada"}).FullName())
	assert.True(t, (&User{Roles: "system_user system_admin"}).IsAdmin())
	assert.False(t, (&User{Roles: "system_user"}).IsAdmin())
}

func TestPresenceStream_Run(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		auth.Store(ws.Request().Header.Get("Authorization"))
		_ = websocket.JSON.Send(ws, map[string]any{"event": "hello", "seq": 0})
		_ = websocket.JSON.Send(ws, map[string]any{"event": "status_change", "seq": 1, "data": "not an object"})
		_ = websocket.JSON.Send(ws, map[string]any{"event": "status_change", "seq": 2, "data": map[string]string{"user_id": "u1", "status": "away"}})
		// Hold the connection open until the client goes away.
		var discard json.RawMessage
		_ = websocket.JSON.Receive(ws, &discard)
	}))
	defer srv.Close()

	stream := NewClient(srv.URL, "secret", 0).PresenceStream()
	stream.MinBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan PresenceEvent, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- stream.Run(ctx, func(ev PresenceEvent) { events <- ev })
	}()

	select {
	case ev := <-events:
		assert.Equal(t, PresenceEvent{UserID: "u1", Status: "away"}, ev)
	case <-ctx.Done():
		t.Fatal("no presence event received")
	}
	assert.Equal(t, "Bearer secret", auth.Load())

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestPresenceStream_RetriesUntilCancelled(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	stream := NewClient(srv.URL, "secret", 0).PresenceStream()
	stream.MinBackoff = time.Millisecond
	stream.MaxBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := stream.Run(ctx, func(PresenceEvent) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts.Load(), int32(1))
}
