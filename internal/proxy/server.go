package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/config"
	"github.com/intervoxai/intervox/internal/observability"
	"github.com/intervoxai/intervox/internal/protocol"
	"github.com/intervoxai/intervox/internal/store"
)

// UpstreamDialer opens the provider live connection for one session.
// Swapped for a fake in tests.
type UpstreamDialer func(ctx context.Context, req protocol.ConnectRequest) (*websocket.Conn, error)

// Server is the proxy: it holds the upstream API key, issues session
// credentials and bridges device websockets to the provider.
type Server struct {
	cfg      config.ProxyConfig
	registry *Registry
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	records  store.Store
	dial     UpstreamDialer
	upgrader websocket.Upgrader
}

func New(cfg config.ProxyConfig, registry *Registry, metrics *observability.Metrics, latency *observability.LatencyWindow, records store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		latency:  latency,
		records:  records,
	}
	s.dial = func(ctx context.Context, req protocol.ConnectRequest) (*websocket.Conn, error) {
		return dialUpstream(ctx, cfg.UpstreamURL, cfg.UpstreamAPIKey, req)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Browsers must come from the same origin; non-browser clients
			// omit Origin and are allowed.
			if cfg.AllowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

// SetUpstreamDialer overrides the provider dialer.
func (s *Server) SetUpstreamDialer(dial UpstreamDialer) { s.dial = dial }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handleLatency)

	r.Post("/v1/session/credential", s.handleCredential)
	r.Get("/v1/live", s.handleLive)

	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_grants": s.registry.ActiveCount(),
	})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	if s.latency == nil {
		respondJSON(w, http.StatusOK, map[string]any{"stages": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, s.latency.Snapshot())
}

type credentialResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	LiveURL   string    `json:"live_url"`
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	token, expiresAt := s.registry.Issue()
	s.metrics.SessionEvents.WithLabelValues("credential_issued").Inc()

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	respondJSON(w, http.StatusCreated, credentialResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		LiveURL:   fmt.Sprintf("%s://%s/v1/live?token=%s", scheme, r.Host, token),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, http.StatusNotImplemented, "no_store", "session store not configured")
		return
	}
	records, err := s.records.ListSessions(r.Context(), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, http.StatusNotImplemented, "no_store", "session store not configured")
		return
	}
	rec, err := s.records.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	ok, reattach := s.registry.Attach(token)
	if token == "" || !ok {
		respondError(w, http.StatusUnauthorized, "invalid_token", "missing or expired session token")
		return
	}
	if reattach {
		s.metrics.ReconnectAttempts.Inc()
		log.Printf("proxy: device reattached with an existing grant")
	}

	device, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer device.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.metrics.ActiveSessions.Inc()
	defer s.metrics.ActiveSessions.Dec()

	device.SetReadLimit(2 << 20)

	// First message must be the connect request.
	_, data, err := device.ReadMessage()
	if err != nil {
		return
	}
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		_ = device.WriteJSON(protocol.ErrorMessage{Type: protocol.TypeError, Message: err.Error()})
		return
	}
	req, ok := msg.(protocol.ConnectRequest)
	if !ok {
		_ = device.WriteJSON(protocol.ErrorMessage{Type: protocol.TypeError, Message: "expected connect"})
		return
	}

	connectStart := time.Now()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	upstream, err := s.dial(ctx, req)
	if err != nil {
		log.Printf("proxy: upstream dial failed: %v", err)
		s.metrics.UpstreamErrors.WithLabelValues("dial").Inc()
		_ = device.WriteJSON(protocol.ErrorMessage{Type: protocol.TypeError, Message: "upstream unavailable"})
		return
	}
	defer upstream.Close()

	sessionID := uuid.NewString()
	log.Printf("proxy: session %s attached, model %s", sessionID, req.Model)

	turns := &turnClock{}
	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		s.pumpUpstream(device, upstream, sessionID, connectStart, turns)
	}()

	s.pumpDevice(device, upstream, turns)
	cancel()
	_ = upstream.Close()
	<-upstreamDone

	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	log.Printf("proxy: session %s detached", sessionID)
}

// turnClock tracks one in-flight turn for latency accounting, shared by the
// two pump goroutines.
type turnClock struct {
	mu         sync.Mutex
	audioStart time.Time
	firstOut   bool
}

func (t *turnClock) markAudioIn(now time.Time) {
	t.mu.Lock()
	if t.audioStart.IsZero() {
		t.audioStart = now
	}
	t.mu.Unlock()
}

// markFirstOut returns the elapsed time since the turn's first input audio,
// once per turn; zero otherwise.
func (t *turnClock) markFirstOut(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstOut || t.audioStart.IsZero() {
		return 0
	}
	t.firstOut = true
	return now.Sub(t.audioStart)
}

// finishTurn returns the full turn duration and resets for the next one.
func (t *turnClock) finishTurn(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	if !t.audioStart.IsZero() {
		total = now.Sub(t.audioStart)
	}
	t.audioStart = time.Time{}
	t.firstOut = false
	return total
}

// pumpUpstream forwards provider messages to the device, wrapping them in
// the passthrough envelope. The setup acknowledgment becomes the connected
// ack.
func (s *Server) pumpUpstream(device, upstream *websocket.Conn, sessionID string, connectStart time.Time, turns *turnClock) {
	acked := false
	for {
		_, raw, err := upstream.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code = closeErr.Code
				reason = closeErr.Text
			}
			_ = device.WriteJSON(protocol.UpstreamClose{
				Type:   protocol.TypeUpstreamClose,
				Code:   code,
				Reason: reason,
			})
			return
		}

		if !acked && isSetupComplete(raw) {
			acked = true
			if s.latency != nil {
				s.latency.Observe(observability.StageConnectToAck, time.Since(connectStart))
			}
			s.metrics.WSMessages.WithLabelValues("outbound", string(protocol.TypeConnected)).Inc()
			if err := device.WriteJSON(protocol.Connected{Type: protocol.TypeConnected, SessionID: sessionID}); err != nil {
				return
			}
			continue
		}

		s.metrics.WSMessages.WithLabelValues("outbound", string(protocol.TypeUpstreamMessage)).Inc()
		if err := device.WriteJSON(protocol.UpstreamMessage{
			Type: protocol.TypeUpstreamMessage,
			Data: json.RawMessage(raw),
		}); err != nil {
			return
		}
		s.observeTurn(raw, turns)
	}
}

// observeTurn feeds turn latency accounting from the raw upstream payload.
func (s *Server) observeTurn(raw []byte, turns *turnClock) {
	env, err := protocol.ParseServerEnvelope(raw)
	if err != nil || env.ServerContent == nil {
		return
	}
	now := time.Now()
	if env.ServerContent.ModelTurn != nil {
		for _, part := range env.ServerContent.ModelTurn.Parts {
			if part.InlineData == nil {
				continue
			}
			if d := turns.markFirstOut(now); d > 0 {
				s.metrics.ObserveFirstAudioLatency(d)
				if s.latency != nil {
					s.latency.Observe(observability.StageAudioToFirstOut, d)
				}
			}
			break
		}
	}
	if env.ServerContent.TurnComplete {
		if d := turns.finishTurn(now); d > 0 && s.latency != nil {
			s.latency.Observe(observability.StageTurnTotal, d)
		}
	}
}

// pumpDevice forwards device messages to the provider until the device
// disconnects.
func (s *Server) pumpDevice(device, upstream *websocket.Conn, turns *turnClock) {
	for {
		msgType, data, err := device.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			log.Printf("proxy: dropping device message: %v", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.AudioFrame:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeAudio)).Inc()
			turns.markAudioIn(time.Now())
			if err := upstream.WriteJSON(buildRealtimeAudio(m)); err != nil {
				s.metrics.DroppedFrames.WithLabelValues("upstream_write").Inc()
				return
			}
		case protocol.TextInput:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeText)).Inc()
			if err := upstream.WriteJSON(buildTextTurn(m)); err != nil {
				return
			}
		case protocol.DisconnectRequest:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeDisconnect)).Inc()
			_ = upstream.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
			return
		case protocol.ConnectRequest:
			// The session is already attached; the upstream pump owns
			// device writes, so just drop the duplicate.
			log.Printf("proxy: duplicate connect ignored")
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}
