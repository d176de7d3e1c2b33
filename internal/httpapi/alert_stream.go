package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
	streamSendBuffer = 32
)

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// AlertStream fans newly raised alerts out to connected websocket clients.
// It implements service.AlertPublisher. A client whose buffer is full
// misses the alert rather than blocking the publisher.
type AlertStream struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

func NewAlertStream(logger *slog.Logger) *AlertStream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AlertStream{
		logger: logger,
		upgrader: websocket.Upgrader{
			// The feed is read-only and carries no credentials.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

func (s *AlertStream) Publish(a model.Alert) {
	msg, err := json.Marshal(alertRecord(a))
	if err != nil {
		s.logger.Error("alert stream marshal", "alert_id", a.ID, "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn("alert stream client too slow, alert dropped", "alert_id", a.ID)
		}
	}
}

// Clients reports the number of connected clients.
func (s *AlertStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *AlertStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	c := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}
	if !s.register(c) {
		_ = conn.Close()
		return
	}
	s.logger.Info("alert stream client connected", "from", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// Close disconnects every client.
func (s *AlertStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *AlertStream) register(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *AlertStream) unregister(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and returns when the connection
// drops. Clients only listen; reading keeps pong handling alive.
func (s *AlertStream) readPump(c *streamClient) {
	defer s.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *AlertStream) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
