package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/codec"
	"github.com/intervoxai/intervox/internal/protocol"
)

// intervox-replay drives a synthetic session against a running proxy and
// reports handshake and turn latencies. It needs no audio hardware.

type options struct {
	baseURL     string
	model       string
	voice       string
	turns       int
	chunkMS     int
	utteranceMS int
	sampleRate  int
	realtime    float64
	turnTimeout time.Duration
	verbose     bool
}

type credentialGrant struct {
	Token     string `json:"token"`
	LiveURL   string `json:"live_url"`
	ExpiresAt string `json:"expires_at"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "intervox-replay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "intervox-replay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "proxy base URL")
	flag.StringVar(&cfg.model, "model", "models/gemini-2.0-flash-live-001", "live model identifier")
	flag.StringVar(&cfg.voice, "voice", "Aoede", "prebuilt voice name")
	flag.IntVar(&cfg.turns, "turns", 4, "number of synthetic turns")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 20, "audio chunk size in milliseconds")
	flag.IntVar(&cfg.utteranceMS, "utterance-ms", 1500, "synthetic utterance length in milliseconds")
	flag.IntVar(&cfg.sampleRate, "sample-rate", 16000, "input sample rate")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime)")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for turn completion in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.utteranceMS < cfg.chunkMS {
		return options{}, fmt.Errorf("utterance-ms must be at least chunk-ms")
	}
	if cfg.sampleRate <= 0 {
		return options{}, fmt.Errorf("sample-rate must be > 0")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	grant, err := fetchCredential(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("intervox-replay: credential expires %s\n", grant.ExpiresAt)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, grant.LiveURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	connectStart := time.Now()
	err = conn.WriteJSON(protocol.ConnectRequest{
		Type:  protocol.TypeConnect,
		Token: grant.Token,
		Model: cfg.model,
		Voice: cfg.voice,
	})
	if err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	turnEndCh := make(chan struct{}, 8)
	firstAudioCh := make(chan struct{}, 8)
	ackCh := make(chan string, 1)
	readErrCh := make(chan error, 1)
	go readLoop(conn, ackCh, turnEndCh, firstAudioCh, readErrCh)

	var sessionID string
	select {
	case sessionID = <-ackCh:
	case err := <-readErrCh:
		return fmt.Errorf("ws read: %w", err)
	case <-time.After(cfg.turnTimeout):
		return fmt.Errorf("timeout waiting for connect ack")
	}
	if cfg.verbose {
		fmt.Printf("intervox-replay: session=%s ack_latency=%s\n", sessionID, time.Since(connectStart).Round(time.Millisecond))
	}

	clip := synthesizeTone(cfg.sampleRate, cfg.utteranceMS)
	for i := 0; i < cfg.turns; i++ {
		turnStart := time.Now()
		if err := sendTurnAudio(conn, clip, cfg.sampleRate, cfg.chunkMS, cfg.realtime); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		if err := awaitTurnEnd(turnEndCh, firstAudioCh, readErrCh, cfg.turnTimeout, cfg.verbose, i+1); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("intervox-replay: turn %d/%d total=%s\n", i+1, cfg.turns, time.Since(turnStart).Round(time.Millisecond))
		}
	}

	_ = conn.WriteJSON(protocol.DisconnectRequest{Type: protocol.TypeDisconnect})

	if err := printLatency(ctx, httpClient, cfg.baseURL); err != nil && cfg.verbose {
		fmt.Fprintf(os.Stderr, "intervox-replay: latency snapshot unavailable: %v\n", err)
	}
	if cfg.verbose {
		fmt.Println("intervox-replay: replay completed")
	}
	return nil
}

func fetchCredential(ctx context.Context, client *http.Client, baseURL string) (credentialGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/session/credential", bytes.NewReader([]byte("{}")))
	if err != nil {
		return credentialGrant{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return credentialGrant{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return credentialGrant{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return credentialGrant{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant credentialGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return credentialGrant{}, err
	}
	if grant.Token == "" || grant.LiveURL == "" {
		return credentialGrant{}, fmt.Errorf("incomplete credential grant")
	}
	return grant, nil
}

func readLoop(conn *websocket.Conn, ackCh chan<- string, turnEndCh, firstAudioCh chan<- struct{}, readErrCh chan<- error) {
	audioSeen := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			continue
		}
		switch m := msg.(type) {
		case protocol.Connected:
			select {
			case ackCh <- m.SessionID:
			default:
			}
		case protocol.UpstreamMessage:
			env, err := protocol.ParseServerEnvelope(m.Data)
			if err != nil || env.ServerContent == nil {
				continue
			}
			if !audioSeen && env.ServerContent.ModelTurn != nil {
				for _, part := range env.ServerContent.ModelTurn.Parts {
					if part.InlineData != nil {
						audioSeen = true
						select {
						case firstAudioCh <- struct{}{}:
						default:
						}
						break
					}
				}
			}
			if env.ServerContent.TurnComplete {
				audioSeen = false
				select {
				case turnEndCh <- struct{}{}:
				default:
				}
			}
		case protocol.ErrorMessage:
			fmt.Fprintf(os.Stderr, "intervox-replay: server error: %s\n", m.Message)
		}
	}
}

// synthesizeTone produces a 440 Hz sine utterance at modest amplitude.
func synthesizeTone(sampleRate, durationMS int) []byte {
	samples := make([]int16, sampleRate*durationMS/1000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return codec.Int16ToBytes(samples)
}

func sendTurnAudio(conn *websocket.Conn, clip []byte, sampleRate, chunkMS int, realtime float64) error {
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}

	for off := 0; off < len(clip); {
		end := off + bytesPerChunk
		if end > len(clip) {
			end = len(clip)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		msg := protocol.AudioFrame{
			Type:        protocol.TypeAudio,
			PCM16Base64: codec.EncodeBase64(clip[off:end]),
			SampleRate:  sampleRate,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		chunkBytes := end - off
		off = end

		chunkDuration := time.Duration(float64(codec.FrameDuration(chunkBytes, sampleRate)) / realtime)
		if chunkDuration <= 0 {
			chunkDuration = 10 * time.Millisecond
		}
		time.Sleep(chunkDuration)
	}
	return nil
}

func awaitTurnEnd(turnEndCh, firstAudioCh <-chan struct{}, readErrCh <-chan error, timeout time.Duration, verbose bool, turn int) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	start := time.Now()
	for {
		select {
		case <-firstAudioCh:
			if verbose {
				fmt.Printf("intervox-replay: turn %d first_audio=%s\n", turn, time.Since(start).Round(time.Millisecond))
			}
		case <-turnEndCh:
			return nil
		case err := <-readErrCh:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s waiting for turn completion", timeout)
		}
	}
}

func printLatency(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	fmt.Printf("intervox-replay: proxy latency snapshot: %s\n", strings.TrimSpace(string(body)))
	return nil
}
