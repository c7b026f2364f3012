package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voice-code/config"
	"voice-code/internal/application"
	"voice-code/internal/domain"
	"voice-code/internal/infra"
	"voice-code/internal/infra/anthropic"
	"voice-code/internal/infra/audio"
	"voice-code/internal/infra/control"
	"voice-code/internal/infra/editor"
	"voice-code/internal/infra/gemini"
	"voice-code/internal/infra/metrics"
	"voice-code/internal/infra/openai"
	"voice-code/internal/infra/secrets"
	"voice-code/internal/infra/terminal"
	"voice-code/internal/infra/vosk"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	listen := flag.Bool("listen", false, "start listening immediately")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ui := terminal.New(os.Stdin, os.Stdout)
	secretStore := secrets.NewFileStore(cfg.Secrets.Path)
	credentials := application.NewCredentialStore(secretStore, ui, logger)

	// Keys present in the config file at startup are stored like later edits.
	for name, value := range config.ChangedKeys(nil, cfg) {
		if err := credentials.Set(ctx, name, value); err != nil {
			logger.Warn("storing configured API key", "provider", name, "error", err)
		}
	}

	audioSource, err := createAudioSource(ctx, cfg.Audio, logger)
	if err != nil {
		logger.Error("creating audio source", "error", err)
		os.Exit(1)
	}

	speech := createRecognizer(ctx, cfg, secretStore, logger)
	generator := createGenerator(cfg.Generation)

	document, err := createDocument(cfg.Editor)
	if err != nil {
		logger.Error("creating editor", "error", err)
		os.Exit(1)
	}

	promMetrics := metrics.New()

	controller := application.NewSessionController(
		audioSource,
		speech,
		generator,
		credentials,
		application.NewEditorSink(document, ui),
		promMetrics,
		cfg.Generation.Provider,
		logger,
	)
	promMetrics.WatchSession(controller.Status)

	controlServer := control.NewServer(cfg.Control.Addr, controller, promMetrics.Handler(), logger)
	if err := controlServer.Start(ctx); err != nil {
		logger.Error("starting control server", "error", err)
		os.Exit(1)
	}
	defer controlServer.Stop()

	go watchConfig(ctx, *configPath, cfg, credentials, ui, logger)

	logger.Info("starting voice code",
		"audio_source", audioSource.Name(),
		"recognizer", speech.Name(),
		"generator", generator.Name(),
		"editor", cfg.Editor.Mode,
		"control_addr", controlServer.Addr(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append([]os.Signal{syscall.SIGINT, syscall.SIGTERM}, toggleSignals...)...)

	if *listen {
		if err := controller.Toggle(ctx); err != nil {
			logger.Warn("starting to listen", "error", err)
		}
	}

	for sig := range sigCh {
		if isToggleSignal(sig) {
			if err := controller.Toggle(ctx); err != nil {
				logger.Warn("toggle failed", "error", err)
			}
			continue
		}
		break
	}

	logger.Info("shutting down")
	if err := controller.Stop(ctx); err != nil {
		logger.Warn("stopping session", "error", err)
	}
	cancel()
	controller.Wait()

	if stopper, ok := audioSource.(interface{ Stop() error }); ok {
		if err := stopper.Stop(); err != nil {
			logger.Warn("stopping audio source", "error", err)
		}
	}
}

func watchConfig(ctx context.Context, path string, initial *config.Config, credentials *application.CredentialStore, ui *terminal.Terminal, logger *slog.Logger) {
	current := initial
	err := config.Watch(ctx, path, logger, func(next *config.Config) {
		for name, value := range config.ChangedKeys(current, next) {
			if err := credentials.Set(ctx, name, value); err != nil {
				logger.Error("storing API key", "provider", name, "error", err)
				ui.ShowMessage("Failed to store API key securely", domain.SeverityError)
				continue
			}
			ui.ShowMessage("API key stored securely", domain.SeverityInfo)
		}
		current = next
	})
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
	}
}

func createAudioSource(ctx context.Context, cfg config.AudioConfig, logger *slog.Logger) (application.AudioSource, error) {
	switch cfg.Source {
	case "http":
		source := audio.NewHTTPSource(cfg.HTTPAddr, cfg.SampleRate, cfg.AuthToken, logger)
		if err := source.Start(ctx); err != nil {
			return nil, err
		}
		return source, nil
	case "file":
		return audio.NewFileSource(cfg.FilePath, cfg.FrameSamples, cfg.Realtime), nil
	default:
		return audio.NewMicrophoneSource(cfg.SampleRate, cfg.FrameSamples, cfg.CaptureBuffer, logger), nil
	}
}

func createRecognizer(ctx context.Context, cfg *config.Config, store application.SecretStore, logger *slog.Logger) application.SpeechRecognizer {
	if cfg.Recognition.Engine == "vosk" {
		return vosk.NewEngine(cfg.Recognition.VoskURL, logger)
	}

	whisper := cfg.Recognition.Whisper
	apiKey := whisper.APIKey
	if apiKey == "" {
		apiKey = cfg.Generation.APIKeys["openai"]
	}
	if apiKey == "" {
		if stored, ok, err := store.ReadSecret(ctx, "openai"); err == nil && ok {
			apiKey = stored
		}
	}

	var transcriber application.Transcriber = &application.NoopTranscriber{}
	switch {
	case apiKey == "":
		logger.Warn("no OpenAI key for transcription; set recognition.whisper.api_key or use recognition.engine vosk")
	case whisper.BaseURL != "":
		transcriber = openai.NewWhisperClientWithURL(apiKey, whisper.Language, whisper.BaseURL)
	default:
		transcriber = openai.NewWhisperClient(apiKey, whisper.Language)
	}

	seg := cfg.Recognition.Segmenter
	return audio.NewSegmenter(transcriber, audio.SegmenterConfig{
		SilenceThreshold: int16(min(seg.SilenceThreshold, 32767)),
		SilenceDuration:  seg.SilenceDuration,
		MinSpeech:        seg.MinSpeech,
		MaxSegment:       seg.MaxSegment,
	}, logger)
}

func createGenerator(cfg config.GenerationConfig) application.CodeGenerator {
	opts := infra.GenerationOptions{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: *cfg.Temperature,
		Language:    cfg.Language,
	}

	switch cfg.Provider {
	case "anthropic":
		if cfg.BaseURL != "" {
			return anthropic.NewClaudeClientWithURL(opts, cfg.BaseURL)
		}
		return anthropic.NewClaudeClient(opts)
	case "gemini":
		if cfg.BaseURL != "" {
			return gemini.NewClientWithURL(opts, cfg.BaseURL)
		}
		return gemini.NewClient(opts)
	default:
		if cfg.BaseURL != "" {
			return openai.NewCompletionClientWithURL(opts, cfg.BaseURL)
		}
		return openai.NewCompletionClient(opts)
	}
}

func createDocument(cfg config.EditorConfig) (application.Document, error) {
	if cfg.Mode == "file" {
		return editor.NewFileDocument(cfg.Path, cfg.Caret)
	}
	return editor.NewClipboardDocument(), nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	// Logs go to stderr so they do not interleave with prompts on stdout.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
