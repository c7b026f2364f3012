package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

// SegmenterConfig controls energy-based endpointing.
type SegmenterConfig struct {
	SilenceThreshold int16
	SilenceDuration  time.Duration
	MinSpeech        time.Duration
	MaxSegment       time.Duration
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SilenceThreshold: 500,
		SilenceDuration:  time.Second,
		MinSpeech:        300 * time.Millisecond,
		MaxSegment:       10 * time.Second,
	}
}

// Segmenter recognizes speech by cutting the stream at pauses and sending
// each segment to a batch Transcriber.
type Segmenter struct {
	transcriber application.Transcriber
	cfg         SegmenterConfig
	logger      *slog.Logger
}

func NewSegmenter(transcriber application.Transcriber, cfg SegmenterConfig, logger *slog.Logger) *Segmenter {
	defaults := DefaultSegmenterConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = defaults.SilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = defaults.SilenceDuration
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = defaults.MaxSegment
	}
	return &Segmenter{
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *Segmenter) Name() string {
	return "segmenter"
}

func (s *Segmenter) NewRecognizer(_ context.Context, sampleRate int) (application.Recognizer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &segmentRecognizer{
		segmenter:      s,
		sampleRate:     sampleRate,
		silenceSamples: samplesFor(s.cfg.SilenceDuration, sampleRate),
		minSamples:     samplesFor(s.cfg.MinSpeech, sampleRate),
		maxSamples:     samplesFor(s.cfg.MaxSegment, sampleRate),
	}, nil
}

func samplesFor(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate) / time.Second)
}

type segmentRecognizer struct {
	segmenter      *Segmenter
	sampleRate     int
	silenceSamples int
	minSamples     int
	maxSamples     int

	samples  []int16
	voiced   int
	silence  int
	finished bool
}

func (r *segmentRecognizer) PushFrame(ctx context.Context, frame domain.AudioFrame) (*domain.Utterance, error) {
	if r.finished {
		return nil, nil
	}

	loud := isLoud(frame.Samples, r.segmenter.cfg.SilenceThreshold)

	// Leading silence is not part of any segment.
	if !loud && r.voiced == 0 {
		return nil, nil
	}

	r.samples = append(r.samples, frame.Samples...)
	if loud {
		r.voiced += len(frame.Samples)
		r.silence = 0
	} else {
		r.silence += len(frame.Samples)
	}

	if r.silence >= r.silenceSamples || len(r.samples) >= r.maxSamples {
		return r.flush(ctx)
	}
	return nil, nil
}

func (r *segmentRecognizer) Finish(ctx context.Context) (*domain.Utterance, error) {
	if r.finished {
		return nil, nil
	}
	r.finished = true
	return r.flush(ctx)
}

func (r *segmentRecognizer) flush(ctx context.Context) (*domain.Utterance, error) {
	samples, voiced := r.samples, r.voiced
	r.samples, r.voiced, r.silence = nil, 0, 0

	if voiced < r.minSamples {
		return nil, nil
	}

	wav := encodeWAV(samples, r.sampleRate)
	text, err := r.segmenter.transcriber.Transcribe(ctx, wav)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrProviderAuth), errors.Is(err, domain.ErrCredentialMissing), ctx.Err() != nil:
		return nil, fmt.Errorf("transcribing segment: %w", err)
	default:
		// One lost segment does not end the session.
		r.segmenter.logger.Error("transcribing segment, dropping it", "samples", len(samples), "error", err)
		return nil, nil
	}

	text = strings.TrimSpace(text)
	r.segmenter.logger.Debug("segment transcribed", "samples", len(samples), "chars", len(text))
	if text == "" {
		return nil, nil
	}

	return &domain.Utterance{Text: text, IsFinal: true, Timestamp: time.Now()}, nil
}

func isLoud(samples []int16, threshold int16) bool {
	for _, sample := range samples {
		if sample > threshold || sample < -threshold {
			return true
		}
	}
	return false
}
