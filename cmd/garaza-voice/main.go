// garaza-voice runs the voice interview engine and its browser gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cofyye/ai-garaza/internal/audio"
	"github.com/cofyye/ai-garaza/internal/bus"
	"github.com/cofyye/ai-garaza/internal/config"
	"github.com/cofyye/ai-garaza/internal/engine"
	"github.com/cofyye/ai-garaza/internal/gateway"
	"github.com/cofyye/ai-garaza/internal/idle"
	"github.com/cofyye/ai-garaza/internal/interview"
	"github.com/cofyye/ai-garaza/internal/logging"
)

func main() {
	sessionID := flag.String("session", "", "interview session token (default: a fresh UUID)")
	resume := flag.Bool("resume", false, "reconcile state from the server instead of starting fresh")
	listenAddr := flag.String("listen", "", "gateway listen address (overrides config)")
	flag.Parse()

	if err := run(*sessionID, *resume, *listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "garaza-voice: %v\n", err)
		os.Exit(1)
	}
}

func run(sessionID string, resume bool, listenAddr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddr != "" {
		cfg.Gateway.ListenAddr = listenAddr
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	logStore, err := logging.New(&logging.Config{
		LogDir:     cfg.Logging.Dir,
		Level:      logging.LogLevel(cfg.Logging.Level),
		MaxHistory: 500,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logStore.Close()
	log := logStore.Component("main")

	client := interview.NewClient(&interview.ClientConfig{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, logStore.Zerolog())

	eventBus := bus.NewEventBus()

	gw := gateway.New(gateway.Config{
		ListenAddr:    cfg.Gateway.ListenAddr,
		PlayedTimeout: cfg.Gateway.PlayedTimeout,
	}, logStore)

	eng := engine.New(sessionID, &engine.Config{
		Mode:            engine.Mode(cfg.Engine.Mode),
		MinClipBytes:    cfg.Audio.MinClipBytes,
		RetryBackoff:    cfg.Engine.RetryBackoff,
		RetryBackoffMax: cfg.Engine.RetryBackoffMax,
		MaxRetries:      cfg.Engine.MaxRetries,
	}, engine.Deps{
		Client:  client,
		Capture: gw.Capture(),
		Output:  gw.Output(),
		Bus:     eventBus,
		Audio: &audio.Config{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			BitDepth:        cfg.Audio.BitDepth,
			Format:          audio.FormatWebM,
			VADThreshold:    cfg.Audio.VADThreshold,
			SmoothingFrames: cfg.Audio.SmoothingFrames,
			SilenceDuration: cfg.Audio.SilenceDuration,
			MaxDuration:     cfg.Audio.MaxClipDuration,
			MinClipBytes:    cfg.Audio.MinClipBytes,
		},
		Idle: &idle.Config{
			Threshold:    cfg.Idle.Threshold,
			Cooldown:     cfg.Idle.Cooldown,
			PollInterval: cfg.Idle.PollInterval,
		},
		Autosave: cfg.Autosave.Debounce,
		Logger:   logStore.Zerolog(),
	})
	defer eng.Close()

	gw.Attach(eng, eventBus)

	watcher := watchConfig(logStore, eng)
	if watcher != nil {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resume {
		if err := eng.Resume(ctx); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
	} else {
		// Start once a client is around to hear the greeting.
		go startWhenReady(ctx, eng, log)
	}

	log.Info().Str("sessionId", sessionID).Str("mode", cfg.Engine.Mode).Msg("Engine ready")
	return gw.Run(ctx)
}

// watchConfig applies tuning changes from the config file to the running
// engine. Best-effort: a watcher failure only loses hot reload.
func watchConfig(logStore *logging.Logger, eng *engine.Engine) *config.Watcher {
	dir, err := config.Dir()
	if err != nil {
		return nil
	}

	log := logStore.Component("main")
	watcher, err := config.NewWatcher(filepath.Join(dir, "config.yaml"), func(next *config.Config) {
		eng.SetVADThreshold(next.Audio.VADThreshold)
	}, logStore.Zerolog())
	if err != nil {
		log.Warn().Err(err).Msg("Config hot reload unavailable")
		return nil
	}
	return watcher
}

// startWhenReady issues the start call, retrying while the backend is
// still coming up. The greeting plays through the gateway output, which
// blocks until a client is connected to hear it.
func startWhenReady(ctx context.Context, eng *engine.Engine, log zerolog.Logger) {
	backoff := time.Second
	for {
		err := eng.Start(ctx)
		if err == nil || errors.Is(err, engine.ErrAlreadyStarted) {
			return
		}
		log.Warn().Err(err).Dur("retryIn", backoff).Msg("Interview start failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
