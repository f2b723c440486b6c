package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sightline/internal/api"
	"sightline/internal/logging"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Extension pages connect from chrome-extension:// and moz-extension://
// origins, so origin is not checked; the bearer token guards the route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStatusStream pushes every published status snapshot to a websocket
// client, starting with the latest one.
func (s *apiServer) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("status stream upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	publisher := s.daemon.comps.Publisher
	updates, unsubscribe := publisher.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(payload any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(payload); err != nil {
			s.logger.Debug("status stream write failed", logging.Error(err))
			return false
		}
		return true
	}

	if !write(api.FromSnapshot(publisher.Latest())) {
		return
	}
	s.logger.Debug("status stream subscriber connected", logging.String("remote", r.RemoteAddr))

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case snap := <-updates:
			if !write(api.FromSnapshot(snap)) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
