package fanout

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and streams the topic named by the {topic}
// route parameter until either side goes away.
func ServeWS(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(w http.ResponseWriter, r *http.Request) {
		topic := chi.URLParam(r, "topic")
		sub, err := hub.Subscribe(topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sub.Close()
			logger.Warn("websocket upgrade failed", slog.Any("err", err))
			return
		}

		go writePump(conn, sub, logger)
		readPump(conn, sub, logger)
	}
}

// readPump notices the client going away. Any client frame counts as
// activity; there is no ping, so a silent client is left to the hub's idle
// reaper.
func readPump(conn *websocket.Conn, sub *Subscription, logger *slog.Logger) {
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed", slog.Any("err", err))
			}
			return
		}
		sub.Touch()
	}
}

// writePump drains the subscription. A failed write drops the subscriber.
func writePump(conn *websocket.Conn, sub *Subscription, logger *slog.Logger) {
	defer conn.Close()

	for msg := range sub.C() {
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Error("encode fanout message", slog.Any("err", err))
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("websocket write failed", slog.Any("err", err))
			}
			sub.Close()
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "unsubscribed"))
}
