package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Shutdown()

	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	defer srv.Close()

	conn := dialHub(t, srv)

	// give the hub a moment to process the registration
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(Message{
		Type:         "thumbnail_ready",
		ImageID:      12,
		Title:        "cat",
		ThumbnailURL: "/api/images/12/thumbnail",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "thumbnail_ready", msg.Type)
	assert.Equal(t, int64(12), msg.ImageID)
	assert.Equal(t, "/api/images/12/thumbnail", msg.ThumbnailURL)
}

func TestHubBroadcastAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Shutdown()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(Message{Type: "thumbnail_ready", ImageID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after shutdown")
	}
}
