// Package hookserver is the local callback server the spawned agent
// reports lifecycle events to. One loopback listener per daemon, bound
// to an OS-assigned ephemeral port; every route is scoped by a ptyId
// query parameter.
package hookserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-command/sessiond/internal/owner"
)

var (
	hookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_hook_requests_total",
		Help: "Hook callbacks received, by category.",
	}, []string{"category"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessiond_active_sessions",
		Help: "Sessions currently registered with the activity monitor.",
	})
)

// SetActiveSessions updates the exported session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// ActivitySink receives parsed signals. Satisfied by *activity.Monitor;
// kept as an interface so the server is testable without one.
type ActivitySink interface {
	TurnStarted(sessionID string)
	TurnEnded(sessionID string)
	Notify(sessionID, category string)
}

// OwnerResolver maps a session id to its current owner channel, or nil.
// Unknown ids are normal: the agent may fire hooks after the UI evicted
// the session.
type OwnerResolver func(sessionID string) owner.Channel

// notificationBody is the JSON payload of a notification callback.
type notificationBody struct {
	Category          string          `json:"category"`
	Message           string          `json:"message"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	AdditionalContext string          `json:"additionalContext,omitempty"`
}

type Server struct {
	sink    ActivitySink
	resolve OwnerResolver

	muted atomic.Bool

	listener net.Listener
	server   *http.Server
	port     atomic.Int64
}

func New(sink ActivitySink, resolve OwnerResolver) *Server {
	return &Server{sink: sink, resolve: resolve}
}

// Handler returns the route table; exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook/busy", s.handleBusy)
	mux.HandleFunc("/hook/stop", s.handleStop)
	mux.HandleFunc("/hook/notification", s.handleNotification)
	mux.HandleFunc("POST /mute", s.handleMute(true))
	mux.HandleFunc("POST /unmute", s.handleMute(false))
	mux.HandleFunc("GET /muted", s.handleMuted)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the loopback listener. Port reports 0 until this returns.
func (s *Server) Start(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("binding callback listener: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler()}
	s.port.Store(int64(ln.Addr().(*net.TCPAddr).Port))

	go func() {
		log.Printf("callback server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("callback server error: %v", err)
		}
	}()
	return nil
}

// Port returns the bound port, or 0 if the server has not started.
func (s *Server) Port() int {
	return int(s.port.Load())
}

func (s *Server) Stop() {
	if s.server != nil {
		_ = s.server.Close()
	}
	s.port.Store(0)
}

// Muted reports whether desktop notification alerts are suppressed.
// Muting gates the user-visible alert only; activity state still updates.
func (s *Server) Muted() bool {
	return s.muted.Load()
}

func (s *Server) handleBusy(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("ptyId")
	hookRequests.WithLabelValues("busy").Inc()
	s.sink.TurnStarted(sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("ptyId")
	hookRequests.WithLabelValues("stop").Inc()
	s.sink.TurnEnded(sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("ptyId")
	hookRequests.WithLabelValues("notification").Inc()

	var body notificationBody
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		// A malformed body still gets a 200: the hook fired, we just
		// cannot classify it.
		if err := json.Unmarshal(data, &body); err != nil {
			log.Printf("session %s: unparseable notification body: %v", sessionID, err)
		}
	}

	s.sink.Notify(sessionID, body.Category)

	if ch := s.resolve(sessionID); ch != nil && ch.Valid() {
		payload := map[string]any{
			"category": body.Category,
			"message":  body.Message,
			"muted":    s.muted.Load(),
		}
		if len(body.Payload) > 0 {
			payload["payload"] = body.Payload
		}
		if err := ch.Send(sessionID, owner.EventNotification, payload); err != nil {
			log.Printf("session %s: notification forward failed: %v", sessionID, err)
		}
	}

	// The additional-context field is echoed back synchronously; the
	// agent feeds it into its own context.
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{}
	if body.AdditionalContext != "" {
		resp["additionalContext"] = body.AdditionalContext
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMute(mute bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.muted.Store(mute)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleMuted(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"muted": s.muted.Load()})
}
