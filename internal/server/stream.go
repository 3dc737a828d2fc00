package server

import (
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/healthsynth/internal/joblog"
	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 4096
	wsWriteDeadline   = 10 * time.Second
	wsReadDeadline    = 60 * time.Second
	wsPingInterval    = 30 * time.Second
	streamBuffer      = joblog.DefaultBuffer
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client.
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
}

// streamHub tracks open log streams so shutdown can close them.
type streamHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *streamHub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
	return len(h.conns)
}

func (h *streamHub) remove(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	return len(h.conns)
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// handleStream sends the current log, then every new entry, one JSON text
// message per entry. A client that falls behind is disconnected with
// CloseTryAgainLater and should reconnect to resync.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	backlog, entries, cancel := s.sink.Follow(streamBuffer)
	defer cancel()

	n := s.streams.add(conn)
	s.log.Debug().Int("streams", n).Msg("Log stream opened")
	defer func() {
		n := s.streams.remove(conn)
		conn.Close()
		s.log.Debug().Int("streams", n).Msg("Log stream closed")
	}()

	// Reader: handles control frames and notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("Log stream read error")
				}
				return
			}
		}
	}()

	write := func(e joblog.Entry) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteJSON(e)
	}

	for _, e := range backlog {
		if err := write(e); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "log stream fell behind"),
					time.Now().Add(time.Second))
				return
			}
			if err := write(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
