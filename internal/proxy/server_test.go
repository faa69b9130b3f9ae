package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/config"
	"github.com/intervoxai/intervox/internal/observability"
	"github.com/intervoxai/intervox/internal/protocol"
	"github.com/intervoxai/intervox/internal/store"
	"github.com/intervoxai/intervox/internal/transcript"
)

var (
	testMetricsOnce sync.Once
	testMetrics     *observability.Metrics
)

// Prometheus collectors register globally, so all tests share one set.
func sharedMetrics() *observability.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = observability.NewMetrics("intervox_test")
	})
	return testMetrics
}

func newTestServer(records store.Store) *Server {
	cfg := config.ProxyConfig{
		BindAddr:       ":0",
		UpstreamURL:    "ws://upstream.invalid",
		UpstreamAPIKey: "k",
		CredentialTTL:  time.Minute,
		AllowAnyOrigin: true,
	}
	return New(cfg, NewRegistry(cfg.CredentialTTL), sharedMetrics(), observability.NewLatencyWindow(16), records)
}

func TestCredentialEndpoint(t *testing.T) {
	s := newTestServer(nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/session/credential", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST credential error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var cred credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		t.Fatalf("decode credential: %v", err)
	}
	if cred.Token == "" || !strings.Contains(cred.LiveURL, cred.Token) {
		t.Fatalf("credential = %+v", cred)
	}
	if !s.registry.Validate(cred.Token) {
		t.Fatalf("issued token not valid in registry")
	}
}

func TestLiveRejectsInvalidToken(t *testing.T) {
	s := newTestServer(nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/live?token=bogus")
	if err != nil {
		t.Fatalf("GET live error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionReadEndpoints(t *testing.T) {
	mem := store.NewMemoryStore()
	_ = mem.SaveSession(context.Background(), store.SessionRecord{
		ID:        "sess-1",
		StartedAt: time.Now().UTC(),
		Entries:   []transcript.Entry{{Speaker: transcript.SpeakerAgent, Text: "Hi."}},
	})

	s := newTestServer(mem)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/sess-1")
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/v1/sessions/nope")
	if err != nil {
		t.Fatalf("GET missing session error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.StatusCode)
	}
}

func TestTurnClock(t *testing.T) {
	turns := &turnClock{}
	base := time.Now()

	if d := turns.markFirstOut(base); d != 0 {
		t.Fatalf("markFirstOut before audio = %v, want 0", d)
	}

	turns.markAudioIn(base)
	turns.markAudioIn(base.Add(time.Second)) // later chunks keep the first stamp

	if d := turns.markFirstOut(base.Add(300 * time.Millisecond)); d != 300*time.Millisecond {
		t.Fatalf("first out latency = %v, want 300ms", d)
	}
	if d := turns.markFirstOut(base.Add(time.Second)); d != 0 {
		t.Fatalf("second markFirstOut = %v, want 0", d)
	}

	if d := turns.finishTurn(base.Add(2 * time.Second)); d != 2*time.Second {
		t.Fatalf("turn total = %v, want 2s", d)
	}
	// Reset: next turn starts fresh.
	if d := turns.finishTurn(base.Add(3 * time.Second)); d != 0 {
		t.Fatalf("finish with no turn = %v, want 0", d)
	}
}

// fakeUpstream is a stand-in provider live endpoint.
type fakeUpstream struct {
	ts *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	setup []setupMessage
	raw   [][]byte
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var setup setupMessage
			if json.Unmarshal(data, &setup) == nil && setup.Setup.Model != "" {
				f.mu.Lock()
				f.setup = append(f.setup, setup)
				f.mu.Unlock()
				_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
				continue
			}
			f.mu.Lock()
			f.raw = append(f.raw, data)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http")
}

func (f *fakeUpstream) send(t *testing.T, v any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.conns) > 0 {
			conn := f.conns[len(f.conns)-1]
			f.mu.Unlock()
			if err := conn.WriteJSON(v); err != nil {
				t.Fatalf("upstream write: %v", err)
			}
			return
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no upstream connection")
}

func (f *fakeUpstream) rawCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.raw)
}

func TestLiveBridge(t *testing.T) {
	upstream := newFakeUpstream(t)

	s := newTestServer(nil)
	s.SetUpstreamDialer(func(ctx context.Context, req protocol.ConnectRequest) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, upstream.wsURL(), nil)
		if err != nil {
			return nil, err
		}
		if err := conn.WriteJSON(buildSetup(req)); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	})

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	token, _ := s.registry.Issue()
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")
	device, _, err := websocket.DefaultDialer.Dial(wsBase+"/v1/live?token="+token, nil)
	if err != nil {
		t.Fatalf("device dial: %v", err)
	}
	defer device.Close()

	err = device.WriteJSON(protocol.ConnectRequest{
		Type:  protocol.TypeConnect,
		Token: token,
		Model: "models/gemini-2.0-flash-live-001",
		Voice: "Aoede",
	})
	if err != nil {
		t.Fatalf("send connect: %v", err)
	}

	// Handshake completes through the bridge.
	_ = device.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := device.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	ack, ok := msg.(protocol.Connected)
	if !ok || ack.SessionID == "" {
		t.Fatalf("ack = %#v, want Connected with session id", msg)
	}

	// The setup carried the device's session parameters.
	upstream.mu.Lock()
	if len(upstream.setup) != 1 || upstream.setup[0].Setup.Model != "models/gemini-2.0-flash-live-001" {
		upstream.mu.Unlock()
		t.Fatalf("upstream setup = %+v", upstream.setup)
	}
	voice := upstream.setup[0].Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
	upstream.mu.Unlock()
	if voice != "Aoede" {
		t.Fatalf("setup voice = %q, want Aoede", voice)
	}

	// Upstream content is wrapped in the passthrough envelope.
	upstream.send(t, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
	_, data, err = device.ReadMessage()
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	msg, err = protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("decode content: %v", err)
	}
	wrapped, ok := msg.(protocol.UpstreamMessage)
	if !ok {
		t.Fatalf("content = %#v, want UpstreamMessage", msg)
	}
	env, err := protocol.ParseServerEnvelope(wrapped.Data)
	if err != nil || env.ServerContent == nil || !env.ServerContent.TurnComplete {
		t.Fatalf("envelope = %+v, err = %v", env, err)
	}

	// Device audio reaches the provider as realtime input.
	err = device.WriteJSON(protocol.AudioFrame{
		Type:        protocol.TypeAudio,
		PCM16Base64: "AAECAw==",
		SampleRate:  16000,
	})
	if err != nil {
		t.Fatalf("send audio: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for upstream.rawCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	upstream.mu.Lock()
	raw := append([][]byte(nil), upstream.raw...)
	upstream.mu.Unlock()
	if len(raw) != 1 {
		t.Fatalf("upstream received %d messages, want 1", len(raw))
	}
	var rt realtimeInputMessage
	if err := json.Unmarshal(raw[0], &rt); err != nil || rt.RealtimeInput.Audio == nil {
		t.Fatalf("realtime input = %s, err = %v", raw[0], err)
	}
	if rt.RealtimeInput.Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("mime = %q", rt.RealtimeInput.Audio.MIMEType)
	}

	// Polite disconnect tears the bridge down.
	if err := device.WriteJSON(protocol.DisconnectRequest{Type: protocol.TypeDisconnect}); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}
}
