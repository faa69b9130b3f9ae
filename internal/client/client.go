package client

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/codec"
	"github.com/intervoxai/intervox/internal/protocol"
	"github.com/intervoxai/intervox/internal/reliability"
	"github.com/intervoxai/intervox/internal/transcript"
)

// ErrClosed is returned by operations on a disposed client.
var ErrClosed = errors.New("live client closed")

const (
	defaultInputSampleRate  = 16000
	defaultOutputSampleRate = 24000
	redialTimeout           = 10 * time.Second
)

// Config carries everything needed to open and re-open a live session. A
// reconnect reuses the original config verbatim.
type Config struct {
	URL                string
	Token              string
	Model              string
	Voice              string
	Language           string
	SystemPrompt       string
	ResponseModalities []string
	InputSampleRate    int

	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *Config) normalize() {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = defaultInputSampleRate
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 3
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if len(c.ResponseModalities) == 0 {
		c.ResponseModalities = []string{"AUDIO"}
	}
}

// Client is the session protocol client. It owns the proxy transport, the
// session state machine, transcript reconstruction and bounded reconnection.
// All mutation happens under mu; the per-connection read loop is the only
// other writer and is fenced by a connection generation counter.
type Client struct {
	cfg    Config
	dialer Dialer

	writeMu sync.Mutex

	mu           sync.Mutex
	state        State
	conn         Conn
	gen          int
	attempt      int
	hasConnected bool
	disposed     bool
	retryTimer   *time.Timer
	builder      transcript.Builder
	events       chan Event
}

// New builds a client. A nil dialer selects the production websocket dialer.
func New(cfg Config, dialer Dialer) *Client {
	cfg.normalize()
	if dialer == nil {
		dialer = NewDialer()
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		state:  StateIdle,
		events: make(chan Event, 256),
	}
}

// Events returns the session event stream. The channel is closed by Close.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect tears down any prior transport and opens a fresh session. A failure
// before the first acknowledgment is final; reconnection only covers drops of
// an established session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.teardownLocked()
	c.hasConnected = false
	c.attempt = 0
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	startGen := c.gen
	c.mu.Unlock()

	conn, err := c.dialer.DialContext(ctx, c.cfg.URL)

	c.mu.Lock()
	// Disconnect or Close advanced the generation while the dial was in
	// flight; this connection belongs to a dead session.
	if c.disposed || c.gen != startGen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.failOrRetryLocked(err)
		c.mu.Unlock()
		return err
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.mu.Unlock()

	req := protocol.ConnectRequest{
		Type:               protocol.TypeConnect,
		Token:              c.cfg.Token,
		Model:              c.cfg.Model,
		ResponseModalities: c.cfg.ResponseModalities,
		SystemPrompt:       c.cfg.SystemPrompt,
		Voice:              c.cfg.Voice,
		Language:           c.cfg.Language,
	}
	if err := c.writeJSON(conn, req); err != nil {
		c.transportError(gen, err)
		return err
	}

	go c.readLoop(conn, gen)
	return nil
}

// SendAudio ships one captured PCM16 frame. Outside the listening and
// processing states the frame is dropped and the call succeeds; hardware
// callbacks must never observe transient transport failures.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateListening && c.state != StateProcessing {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateListening {
		c.setStateLocked(StateProcessing)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	frame := protocol.AudioFrame{
		Type:        protocol.TypeAudio,
		PCM16Base64: codec.EncodeBase64(pcm),
		SampleRate:  c.cfg.InputSampleRate,
	}
	return c.writeJSON(conn, frame)
}

// SendText submits a typed turn. Dropped silently when the session holds no
// established transport.
func (c *Client) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.state.Active() {
		c.mu.Unlock()
		return nil
	}
	// A typed turn starts a new exchange even when the agent is mid-reply.
	if c.state != StateProcessing {
		c.setStateLocked(StateProcessing)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeJSON(conn, protocol.TextInput{Type: protocol.TypeText, Text: text})
}

// Disconnect politely ends the session and returns the client to idle. It
// always succeeds, even when no session is open.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.builder.Discard()
	c.attempt = 0
	c.hasConnected = false
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if conn != nil {
		_ = c.writeJSON(conn, protocol.DisconnectRequest{Type: protocol.TypeDisconnect})
		_ = conn.Close()
	}
	return nil
}

// Close disposes the client. Idempotent; the event channel is closed exactly
// once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	c.disposed = true
	c.teardownLocked()
	c.state = StateIdle
	close(c.events)
	return nil
}

func (c *Client) teardownLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++
	c.builder.Discard()
}

func (c *Client) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.transportError(gen, err)
			return
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			log.Printf("live client: dropping message: %v", err)
			continue
		}
		c.handleMessage(gen, msg)
	}
}

func (c *Client) transportError(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.gen {
		return
	}
	c.failOrRetryLocked(err)
}

func (c *Client) failOrRetryLocked(err error) {
	if c.disposed {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++

	if !c.hasConnected || !reliability.IsRetryable(err) || c.attempt >= c.cfg.ReconnectMaxAttempts {
		c.builder.Discard()
		c.setStateLocked(StateError)
		c.emitLocked(Event{Type: EventClosed, Err: err})
		return
	}

	c.attempt++
	delay := reliability.ReconnectDelay(c.attempt, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	log.Printf("live client: transport lost, reconnect %d/%d in %v: %v",
		c.attempt, c.cfg.ReconnectMaxAttempts, delay, err)
	c.setStateLocked(StateConnecting)
	c.retryTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), redialTimeout)
		defer cancel()
		_ = c.dial(ctx)
	})
}

func (c *Client) handleMessage(gen int, msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.gen {
		return
	}

	switch m := msg.(type) {
	case protocol.Connected:
		c.hasConnected = true
		c.attempt = 0
		c.setStateLocked(StateListening)
		c.emitLocked(Event{Type: EventOpen, SessionID: m.SessionID})
	case protocol.ErrorMessage:
		c.emitLocked(Event{Type: EventError, Err: errors.New(m.Message)})
	case protocol.UpstreamClose:
		c.failOrRetryLocked(&websocket.CloseError{Code: m.Code, Text: m.Reason})
	case protocol.UpstreamMessage:
		c.handleUpstreamLocked(m)
	}
}

func (c *Client) handleUpstreamLocked(msg protocol.UpstreamMessage) {
	env, err := protocol.ParseServerEnvelope(msg.Data)
	if err != nil {
		log.Printf("live client: %v", err)
		return
	}
	sc := env.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted {
		c.builder.Discard()
		c.setStateLocked(StateListening)
		c.emitLocked(Event{Type: EventInterrupted})
		return
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				pcm, err := codec.DecodeBase64(part.InlineData.Data)
				if err != nil {
					log.Printf("live client: bad audio frame: %v", err)
					continue
				}
				c.setStateLocked(StateSpeaking)
				c.emitLocked(Event{
					Type:       EventAudio,
					PCM:        pcm,
					SampleRate: rateFromMIME(part.InlineData.MIMEType),
				})
			}
			if part.Text != "" {
				c.emitLocked(Event{Type: EventText, Text: part.Text})
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if upd, ok := c.builder.AddInput(sc.InputTranscription.Text); ok {
			c.emitLocked(Event{Type: EventTranscript, Update: upd})
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if upd, ok := c.builder.AddOutput(sc.OutputTranscription.Text); ok {
			c.emitLocked(Event{Type: EventTranscript, Update: upd})
		}
	}

	if sc.TurnComplete {
		entries := c.builder.FinishTurn(time.Now())
		c.setStateLocked(StateListening)
		c.emitLocked(Event{Type: EventTurnComplete, Entries: entries})
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emitLocked(Event{Type: EventStateChange, State: s})
}

func (c *Client) emitLocked(ev Event) {
	if c.disposed {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Printf("live client: event buffer full, dropped %s", ev.Type)
	}
}

func (c *Client) writeJSON(conn Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func rateFromMIME(mime string) int {
	const key = "rate="
	if i := strings.Index(mime, key); i >= 0 {
		rest := mime[i+len(key):]
		if j := strings.IndexByte(rest, ';'); j >= 0 {
			rest = rest[:j]
		}
		if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
			return rate
		}
	}
	return defaultOutputSampleRate
}
