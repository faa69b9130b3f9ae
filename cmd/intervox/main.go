package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/intervoxai/intervox/internal/client"
	"github.com/intervoxai/intervox/internal/config"
	"github.com/intervoxai/intervox/internal/session"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	flag.StringVar(&cfg.ProxyBaseURL, "proxy", cfg.ProxyBaseURL, "proxy base URL")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "live model identifier")
	flag.StringVar(&cfg.Voice, "voice", cfg.Voice, "prebuilt voice name")
	flag.StringVar(&cfg.Language, "language", cfg.Language, "BCP-47 language code")
	flag.StringVar(&cfg.RecordPath, "record", cfg.RecordPath, "write agent audio to this WAV file")
	quiet := flag.Bool("quiet", false, "suppress the periodic status line")
	flag.Parse()

	orch := session.NewOrchestrator(session.Config{
		Model:                cfg.Model,
		Voice:                cfg.Voice,
		Language:             cfg.Language,
		InputSampleRate:      cfg.InputSampleRate,
		OutputSampleRate:     cfg.OutputSampleRate,
		FrameSize:            cfg.FrameSize,
		Lookahead:            cfg.Lookahead,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		RecordPath:           cfg.RecordPath,
	}, session.Deps{
		Credentials: session.NewHTTPCredentialSource(cfg.ProxyBaseURL),
		Context:     session.StaticContext(cfg.SystemPrompt),
	})
	defer orch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Connect(ctx); err != nil {
		cancel()
		log.Fatalf("connect failed: %v", err)
	}
	cancel()

	fmt.Println("intervox: connected. Speak, or type a message.")
	fmt.Println("intervox: /mute toggles the mic, /quit ends the session.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lineCh := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		close(lineCh)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastShown int
	for {
		select {
		case <-sigCh:
			fmt.Println()
			shutdown(orch)
			return
		case line, ok := <-lineCh:
			if !ok {
				shutdown(orch)
				return
			}
			switch strings.TrimSpace(line) {
			case "":
			case "/quit", "/q":
				shutdown(orch)
				return
			case "/mute", "/m":
				if orch.ToggleMic() {
					fmt.Println("intervox: mic on")
				} else {
					fmt.Println("intervox: mic muted")
				}
			default:
				if err := orch.SendText(line); err != nil {
					log.Printf("send text: %v", err)
				}
			}
		case <-ticker.C:
			snap := orch.Snapshot()
			for _, entry := range snap.Transcripts[lastShown:] {
				fmt.Printf("[%s] %s\n", entry.Speaker, entry.Text)
			}
			lastShown = len(snap.Transcripts)
			if !*quiet {
				fmt.Printf("\r%s | %4ds | in %.2f out %.2f   ",
					snap.State, snap.ElapsedSeconds, snap.InputVolume, snap.OutputVolume)
			}
			if snap.State == client.StateError && snap.LastError != "" {
				fmt.Printf("\nintervox: session error: %s\n", snap.LastError)
				shutdown(orch)
				return
			}
		}
	}
}

func shutdown(orch *session.Orchestrator) {
	fmt.Println("intervox: disconnecting")
	_ = orch.Disconnect()
	snap := orch.Snapshot()
	if snap.SessionID != "" {
		fmt.Printf("intervox: session %s ended after %ds\n", snap.SessionID, snap.ElapsedSeconds)
	}
}
