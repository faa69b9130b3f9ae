package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/intervoxai/intervox/internal/audio"
	"github.com/intervoxai/intervox/internal/capture"
	"github.com/intervoxai/intervox/internal/client"
	"github.com/intervoxai/intervox/internal/observability"
	"github.com/intervoxai/intervox/internal/playback"
	"github.com/intervoxai/intervox/internal/reliability"
	"github.com/intervoxai/intervox/internal/store"
	"github.com/intervoxai/intervox/internal/transcript"
)

var (
	// ErrUnsupported means the platform has no usable audio stack. Reported
	// before any pipeline is constructed.
	ErrUnsupported = errors.New("audio not supported on this platform")
	// ErrDisposed is returned by operations on a disposed orchestrator.
	ErrDisposed = errors.New("orchestrator disposed")
)

const defaultFadeOut = 200 * time.Millisecond

// Config carries the session parameters shared by every connect.
type Config struct {
	Model            string
	Voice            string
	Language         string
	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
	Lookahead        time.Duration
	FadeOut          time.Duration

	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	// RecordPath, when set, dumps agent audio to a WAV file per session.
	RecordPath string
}

// Deps are the orchestrator's collaborators. Nil factories select the
// production implementations; Store, Context and Latency are optional.
type Deps struct {
	Credentials CredentialSource
	Context     ContextProvider
	Store       store.Store
	Latency     *observability.LatencyWindow

	NewCapture     func() CapturePipeline
	NewPlayback    func() PlaybackPipeline
	NewClient      func(cfg client.Config) ProtocolClient
	AudioAvailable func() bool
}

// Snapshot is the externally observable session state.
type Snapshot struct {
	SessionID        string             `json:"session_id"`
	State            client.State       `json:"session_state"`
	IsConnected      bool               `json:"is_connected"`
	IsMicOn          bool               `json:"is_mic_on"`
	InputVolume      float64            `json:"input_volume"`
	OutputVolume     float64            `json:"output_volume"`
	ElapsedSeconds   int                `json:"elapsed_seconds"`
	Transcripts      []transcript.Entry `json:"transcripts"`
	InterimUserText  string             `json:"interim_user_text"`
	InterimAgentText string             `json:"interim_agent_text"`
	LastError        string             `json:"last_error,omitempty"`
}

// Orchestrator wires capture, the protocol client and playback behind a
// single connect/disconnect/toggle-mic/send-text surface. It is the only
// component holding references to all three; state transitions flow one way,
// from the client's event stream into the snapshot.
type Orchestrator struct {
	cfg  Config
	deps Deps

	connecting atomic.Bool

	mu        sync.Mutex
	disposed  bool
	cli       ProtocolClient
	mic       CapturePipeline
	spk       PlaybackPipeline
	recorder  *audio.Recorder
	stopPumps chan struct{}
	wg        sync.WaitGroup

	sessionID      string
	startedAt      time.Time
	connectStarted time.Time
	firstAudioSeen bool
	state          client.State
	connected      bool
	elapsedSeconds int
	inputVolume    float64
	outputVolume   float64
	transcripts    []transcript.Entry
	interimUser    string
	interimAgent   string
	lastErr        error
}

// NewOrchestrator builds an orchestrator. Missing factories fall back to the
// hardware pipelines and the websocket client.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = 24000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = cfg.InputSampleRate / 50 // 20 ms
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 100 * time.Millisecond
	}
	if cfg.FadeOut <= 0 {
		cfg.FadeOut = defaultFadeOut
	}
	if deps.NewCapture == nil {
		deps.NewCapture = func() CapturePipeline {
			return capture.NewPipeline(cfg.InputSampleRate, cfg.FrameSize, nil)
		}
	}
	if deps.NewPlayback == nil {
		deps.NewPlayback = func() PlaybackPipeline {
			return playback.NewPipeline(cfg.OutputSampleRate, cfg.OutputSampleRate/50, cfg.Lookahead, nil)
		}
	}
	if deps.NewClient == nil {
		deps.NewClient = func(c client.Config) ProtocolClient {
			return client.New(c, nil)
		}
	}
	if deps.AudioAvailable == nil {
		deps.AudioAvailable = func() bool { return true }
	}
	return &Orchestrator{cfg: cfg, deps: deps, state: client.StateIdle}
}

// Connect establishes a session: credential fetch, pipeline construction,
// protocol handshake, then the pump goroutines. Overlapping calls collapse
// into one; the second call is a logged no-op.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if !o.connecting.CompareAndSwap(false, true) {
		log.Printf("session: connect already in flight")
		return nil
	}
	defer o.connecting.Store(false)

	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return ErrDisposed
	}
	if o.connected || o.state == client.StateConnecting {
		o.mu.Unlock()
		log.Printf("session: already connected")
		return nil
	}
	// A dead prior session (reconnect exhaustion, transport error) leaves
	// its pipelines and pump goroutines behind; release them before
	// building replacements, or the old mic keeps the device.
	hasPrior := o.cli != nil || o.mic != nil || o.spk != nil
	o.mu.Unlock()
	if hasPrior {
		o.teardownSession()
	}

	if !o.deps.AudioAvailable() {
		o.setError(ErrUnsupported)
		return ErrUnsupported
	}

	cred, err := o.deps.Credentials.Fetch(ctx)
	if err != nil {
		err = fmt.Errorf("session credential: %w", err)
		o.setError(err)
		return err
	}

	prompt := ""
	if o.deps.Context != nil {
		prompt, err = o.deps.Context.SystemPrompt(ctx)
		if err != nil {
			err = fmt.Errorf("session context: %w", err)
			o.setError(err)
			return err
		}
	}

	mic := o.deps.NewCapture()
	if err := mic.Start(); err != nil {
		_ = mic.Close()
		o.setError(err)
		return err
	}
	spk := o.deps.NewPlayback()

	cli := o.deps.NewClient(client.Config{
		URL:                  cred.LiveURL,
		Token:                cred.Token,
		Model:                o.cfg.Model,
		Voice:                o.cfg.Voice,
		Language:             o.cfg.Language,
		SystemPrompt:         prompt,
		InputSampleRate:      o.cfg.InputSampleRate,
		ReconnectMaxAttempts: o.cfg.ReconnectMaxAttempts,
		ReconnectBaseDelay:   o.cfg.ReconnectBaseDelay,
	})

	var recorder *audio.Recorder
	if o.cfg.RecordPath != "" {
		recorder, err = audio.NewRecorder(o.cfg.RecordPath, o.cfg.OutputSampleRate)
		if err != nil {
			log.Printf("session: recording disabled: %v", err)
		}
	}

	now := time.Now()
	o.mu.Lock()
	o.cli = cli
	o.mic = mic
	o.spk = spk
	o.recorder = recorder
	o.sessionID = uuid.NewString()
	o.startedAt = now
	o.connectStarted = now
	o.firstAudioSeen = false
	o.elapsedSeconds = 0
	o.transcripts = nil
	o.interimUser, o.interimAgent = "", ""
	o.lastErr = nil
	o.state = client.StateConnecting
	stop := make(chan struct{})
	o.stopPumps = stop
	o.mu.Unlock()

	if err := cli.Connect(ctx); err != nil {
		o.teardownSession()
		o.setError(err)
		return err
	}

	o.wg.Add(6)
	go o.pumpFrames(cli, mic, stop)
	go o.pumpEvents(cli, spk)
	go o.pumpInputLevels(mic, stop)
	go o.pumpOutputLevels(spk, stop)
	go o.pumpComplete(spk, stop)
	go o.tick(stop)
	return nil
}

// Disconnect ends the session politely, persists the transcript and tears
// down the pipelines. Always succeeds.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	cli := o.cli
	o.mu.Unlock()

	if cli != nil {
		_ = cli.Disconnect()
	}
	o.persistSession()
	o.teardownSession()
	return nil
}

// ToggleMic flips the mute flag and reports whether the mic is now live.
// Volume events keep flowing while muted.
func (o *Orchestrator) ToggleMic() bool {
	o.mu.Lock()
	mic := o.mic
	o.mu.Unlock()
	if mic == nil {
		return false
	}
	mic.SetMuted(!mic.Muted())
	return !mic.Muted()
}

// SendText submits a typed turn to the agent.
func (o *Orchestrator) SendText(text string) error {
	o.mu.Lock()
	cli := o.cli
	disposed := o.disposed
	o.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if cli == nil {
		return nil
	}
	return cli.SendText(text)
}

// Snapshot returns a copy of the observable session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		SessionID:        o.sessionID,
		State:            o.state,
		IsConnected:      o.connected,
		IsMicOn:          o.mic != nil && !o.mic.Muted(),
		InputVolume:      o.inputVolume,
		OutputVolume:     o.outputVolume,
		ElapsedSeconds:   o.elapsedSeconds,
		InterimUserText:  o.interimUser,
		InterimAgentText: o.interimAgent,
	}
	snap.Transcripts = make([]transcript.Entry, len(o.transcripts))
	copy(snap.Transcripts, o.transcripts)
	if o.lastErr != nil {
		snap.LastError = o.lastErr.Error()
	}
	return snap
}

// Close disposes the orchestrator. Idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	o.disposed = true
	o.mu.Unlock()

	o.persistSession()
	o.teardownSession()
	return nil
}

func (o *Orchestrator) teardownSession() {
	o.mu.Lock()
	cli, mic, spk := o.cli, o.mic, o.spk
	recorder := o.recorder
	stop := o.stopPumps
	o.cli, o.mic, o.spk, o.recorder = nil, nil, nil, nil
	o.stopPumps = nil
	o.connected = false
	o.state = client.StateIdle
	o.inputVolume, o.outputVolume = 0, 0
	o.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if cli != nil {
		_ = cli.Close()
	}
	if mic != nil {
		_ = mic.Close()
	}
	if spk != nil {
		_ = spk.Close()
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("session: finalize recording: %v", err)
		}
	}
	o.wg.Wait()
}

func (o *Orchestrator) persistSession() {
	o.mu.Lock()
	rec := store.SessionRecord{
		ID:              o.sessionID,
		StartedAt:       o.startedAt,
		DurationSeconds: o.elapsedSeconds,
		Model:           o.cfg.Model,
		Language:        o.cfg.Language,
	}
	rec.Entries = make([]transcript.Entry, len(o.transcripts))
	copy(rec.Entries, o.transcripts)
	o.mu.Unlock()

	if o.deps.Store == nil || rec.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Store.SaveSession(ctx, rec); err != nil {
		log.Printf("session: persist transcript: %v", err)
	}
}

func (o *Orchestrator) setError(err error) {
	log.Printf("session: %s failure: %v", failureKind(err), err)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = err
	o.state = client.StateError
	o.connected = false
}

// failureKind buckets a connect failure for the log line. ErrUnsupported is
// a local device problem, which the shared classifier cannot know.
func failureKind(err error) reliability.FailureKind {
	if errors.Is(err, ErrUnsupported) {
		return reliability.FailureDevice
	}
	return reliability.Classify(err)
}

func (o *Orchestrator) pumpFrames(cli ProtocolClient, mic CapturePipeline, stop <-chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-mic.Frames():
			if !ok {
				return
			}
			if err := cli.SendAudio(frame.PCM); err != nil {
				log.Printf("session: send audio: %v", err)
				return
			}
		}
	}
}

func (o *Orchestrator) pumpEvents(cli ProtocolClient, spk PlaybackPipeline) {
	defer o.wg.Done()
	for ev := range cli.Events() {
		o.handleEvent(ev, spk)
	}
}

func (o *Orchestrator) pumpInputLevels(mic CapturePipeline, stop <-chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-stop:
			return
		case level, ok := <-mic.Levels():
			if !ok {
				return
			}
			o.mu.Lock()
			o.inputVolume = level
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) pumpOutputLevels(spk PlaybackPipeline, stop <-chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-stop:
			return
		case level, ok := <-spk.Levels():
			if !ok {
				return
			}
			o.mu.Lock()
			o.outputVolume = level
			o.mu.Unlock()
		}
	}
}

// pumpComplete drains the playback completion signal. The level stream stops
// at whatever sample window it last saw, so the meter is forced back to zero
// once the agent's turn has fully played out.
func (o *Orchestrator) pumpComplete(spk PlaybackPipeline, stop <-chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-stop:
			return
		case _, ok := <-spk.Complete():
			if !ok {
				return
			}
			o.mu.Lock()
			o.outputVolume = 0
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) tick(stop <-chan struct{}) {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.connected {
				o.elapsedSeconds++
			}
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) handleEvent(ev client.Event, spk PlaybackPipeline) {
	switch ev.Type {
	case client.EventStateChange:
		o.mu.Lock()
		o.state = ev.State
		if ev.State == client.StateError {
			o.connected = false
		}
		o.mu.Unlock()
	case client.EventOpen:
		o.mu.Lock()
		o.connected = true
		if ev.SessionID != "" {
			o.sessionID = ev.SessionID
		}
		if o.deps.Latency != nil && !o.connectStarted.IsZero() {
			o.deps.Latency.Observe(observability.StageConnectToAck, time.Since(o.connectStarted))
			o.connectStarted = time.Time{}
		}
		o.mu.Unlock()
	case client.EventAudio:
		if err := spk.AddFrame(ev.PCM); err != nil {
			log.Printf("session: playback frame: %v", err)
		}
		o.mu.Lock()
		if o.recorder != nil {
			_ = o.recorder.Write(ev.PCM)
		}
		if !o.firstAudioSeen {
			o.firstAudioSeen = true
			if o.deps.Latency != nil {
				o.deps.Latency.Observe(observability.StageAudioToFirstOut, time.Since(o.startedAt))
			}
		}
		o.mu.Unlock()
	case client.EventTranscript:
		o.mu.Lock()
		if ev.Update.Speaker == transcript.SpeakerUser {
			o.interimUser = ev.Update.Text
		} else {
			o.interimAgent = ev.Update.Text
		}
		o.mu.Unlock()
	case client.EventTurnComplete:
		o.mu.Lock()
		o.transcripts = append(o.transcripts, ev.Entries...)
		o.interimUser, o.interimAgent = "", ""
		o.firstAudioSeen = false
		o.mu.Unlock()
	case client.EventInterrupted:
		spk.FadeOut(o.cfg.FadeOut)
		o.mu.Lock()
		o.interimAgent = ""
		o.mu.Unlock()
	case client.EventError:
		log.Printf("session: %s error from agent: %v", reliability.FailureProtocol, ev.Err)
		o.mu.Lock()
		o.lastErr = ev.Err
		o.mu.Unlock()
	case client.EventClosed:
		o.mu.Lock()
		o.connected = false
		if ev.Err != nil {
			o.lastErr = ev.Err
		}
		o.mu.Unlock()
	}
}
