package fanout

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestServeWSStreamsTopic(t *testing.T) {
	hub := NewHub(HubOptions{})
	r := chi.NewRouter()
	r.Get("/ws/{topic}", ServeWS(hub, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count(TopicEvents) == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(TopicEvents, map[string]string{"id": "ev-1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Topic string            `json:"topic"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, TopicEvents, msg.Topic)
	require.Equal(t, "ev-1", msg.Data["id"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count(TopicEvents) == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeWSRejectsUnknownTopic(t *testing.T) {
	hub := NewHub(HubOptions{})
	r := chi.NewRouter()
	r.Get("/ws/{topic}", ServeWS(hub, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/gossip"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, 404, resp.StatusCode)
}

func TestServeWSIdleClientIsReaped(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(d)
	}

	hub := NewHub(HubOptions{IdleTimeout: 30 * time.Minute, Now: now})
	r := chi.NewRouter()
	r.Get("/ws/{topic}", ServeWS(hub, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	silent, _, err := websocket.DefaultDialer.Dial(base, nil)
	require.NoError(t, err)
	defer silent.Close()
	chatty, _, err := websocket.DefaultDialer.Dial(base, nil)
	require.NoError(t, err)
	defer chatty.Close()
	require.Eventually(t, func() bool { return hub.Count(TopicAlerts) == 2 }, time.Second, 5*time.Millisecond)

	advance(20 * time.Minute)
	require.NoError(t, chatty.WriteMessage(websocket.TextMessage, []byte("still here")))
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		for _, sub := range hub.topics[TopicAlerts] {
			if sub.lastActive.Load() == now().UnixNano() {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	advance(15 * time.Minute)

	require.Equal(t, 1, hub.Reap())
	require.Equal(t, 1, hub.Count(TopicAlerts))

	require.NoError(t, silent.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = silent.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
