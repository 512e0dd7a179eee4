package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"signalbridge/src/events"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = (eventsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler streams signal lifecycle events to operators over a websocket.
// An empty token or a nil hub disables the feed.
func EventsHandler(hub *events.Hub, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" || hub == nil {
			writeError(w, http.StatusNotFound, "events_disabled")
			return
		}
		given := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("events upgrade failed")
			return
		}
		defer conn.Close()

		feed, cancel := hub.Subscribe()
		defer cancel()

		// Reads only serve control frames; any error means the client left.
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(eventsPingPeriod)
		defer ping.Stop()

		logger.WithField("remote", r.RemoteAddr).Info("events subscriber connected")
		for {
			select {
			case <-closed:
				logger.WithField("remote", r.RemoteAddr).Info("events subscriber disconnected")
				return
			case <-r.Context().Done():
				return
			case e, ok := <-feed:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteJSON(e); err != nil {
					logger.WithError(err).Debug("events write failed")
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
