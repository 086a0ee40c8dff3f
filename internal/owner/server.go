package owner

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeDeadline = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The listener is loopback-only; the UI runs on the same machine.
		return true
	},
}

// MessageHandler receives UI requests (spawn, write, resize, kill, ...)
// from a connected channel.
type MessageHandler func(ch Channel, msgType string, payload json.RawMessage)

// ClosedHandler fires after a channel's connection is gone, so sessions
// owned by it can be evicted.
type ClosedHandler func(ch Channel)

// Server accepts UI websocket connections and turns each into a Channel.
type Server struct {
	onMessage MessageHandler
	onClosed  ClosedHandler
	status    func() any

	mu       sync.RWMutex
	channels map[string]*wsChannel
	server   *http.Server
}

func NewServer() *Server {
	return &Server{channels: make(map[string]*wsChannel)}
}

func (s *Server) SetMessageHandler(handler MessageHandler) { s.onMessage = handler }
func (s *Server) SetClosedHandler(handler ClosedHandler)   { s.onClosed = handler }

// SetStatusFunc provides the payload served at /healthz, for one-shot
// CLI queries against a running daemon.
func (s *Server) SetStatusFunc(fn func() any) { s.status = fn }

// Start begins serving websocket upgrades on the given loopback address.
func (s *Server) Start(listen string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.server = &http.Server{Addr: listen, Handler: mux}
	go func() {
		log.Printf("owner channel server listening on %s", listen)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("owner channel server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	if s.server != nil {
		_ = s.server.Close()
	}

	s.mu.Lock()
	for _, ch := range s.channels {
		ch.close()
	}
	s.channels = make(map[string]*wsChannel)
	s.mu.Unlock()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.status != nil {
		body["sessions"] = s.status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("owner websocket upgrade error: %v", err)
		return
	}

	ch := &wsChannel{id: uuid.New().String(), conn: conn}
	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	go s.readLoop(ch)
}

func (s *Server) readLoop(ch *wsChannel) {
	defer func() {
		ch.close()
		s.mu.Lock()
		delete(s.channels, ch.id)
		s.mu.Unlock()
		if s.onClosed != nil {
			s.onClosed(ch)
		}
	}()

	for {
		_, message, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			log.Printf("owner channel %s: bad message: %v", ch.id, err)
			continue
		}
		if s.onMessage != nil {
			s.onMessage(ch, envelope.Type, envelope.Payload)
		}
	}
}

// wsChannel is one UI connection. Writes are serialized; a closed
// channel reports Valid() == false and swallows sends.
type wsChannel struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (ch *wsChannel) Send(sessionID, event string, payload any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}

	msg := map[string]any{
		"type":      event,
		"sessionId": sessionID,
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_ = ch.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

func (ch *wsChannel) Valid() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return !ch.closed
}

func (ch *wsChannel) close() {
	ch.mu.Lock()
	if !ch.closed {
		ch.closed = true
		ch.conn.Close()
	}
	ch.mu.Unlock()
}
