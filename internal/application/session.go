package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-code/internal/domain"
)

const finishTimeout = 5 * time.Second

// Credentials resolves provider keys for generation requests.
type Credentials interface {
	Get(ctx context.Context, name string) (domain.Credential, error)
	Reprompt(ctx context.Context, name string) (domain.Credential, error)
}

// SessionController runs the listen, recognize, generate, confirm and insert
// cycle for a single listening session. At most one generation request is
// outstanding at a time; utterances finalized while one is outstanding are
// dropped.
type SessionController struct {
	audio       AudioSource
	speech      SpeechRecognizer
	generator   CodeGenerator
	credentials Credentials
	editor      EditorSink
	metrics     Metrics
	providerKey string
	logger      *slog.Logger

	now   func() time.Time
	newID func() string

	// lifecycleMu serializes Start, Stop and Toggle.
	lifecycleMu sync.Mutex

	mu      sync.Mutex
	current *activeSession

	responders sync.WaitGroup
}

type activeSession struct {
	session domain.Session // guarded by SessionController.mu

	ctx         context.Context
	cancel      context.CancelFunc
	stream      AudioStream
	recognizer  Recognizer
	captureDone chan struct{}
}

func NewSessionController(
	audio AudioSource,
	speech SpeechRecognizer,
	generator CodeGenerator,
	credentials Credentials,
	editor EditorSink,
	metrics Metrics,
	providerKey string,
	logger *slog.Logger,
) *SessionController {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &SessionController{
		audio:       audio,
		speech:      speech,
		generator:   generator,
		credentials: credentials,
		editor:      editor,
		metrics:     metrics,
		providerKey: providerKey,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Start opens the audio source and begins listening. ctx bounds the whole
// session, not just the call.
func (c *SessionController) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.start(ctx)
}

// Stop ends the active session. It is a no-op when idle.
func (c *SessionController) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return nil
	}

	c.stop(ctx, active)
	return nil
}

// Toggle stops a listening session or starts a new one.
func (c *SessionController) Toggle(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active != nil {
		c.stop(ctx, active)
		return nil
	}
	return c.start(ctx)
}

// Status returns a snapshot of the session.
func (c *SessionController) Status() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Session{State: domain.SessionIdle}
	}
	return c.current.session
}

// Wait blocks until every response handler has returned.
func (c *SessionController) Wait() {
	c.responders.Wait()
}

func (c *SessionController) start(ctx context.Context) error {
	c.mu.Lock()
	busy := c.current != nil
	c.mu.Unlock()
	if busy {
		c.editor.ShowMessage("Speech to Code is already listening", domain.SeverityInfo)
		return domain.ErrAlreadyListening
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	stream, err := c.audio.Open(sessionCtx)
	if err != nil {
		cancel()
		c.reportOpenError(err)
		return fmt.Errorf("opening %s audio: %w", c.audio.Name(), err)
	}

	recognizer, err := c.speech.NewRecognizer(sessionCtx, stream.SampleRate())
	if err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			c.logger.Warn("closing audio stream", "error", closeErr)
		}
		cancel()
		c.logger.Error("starting recognizer", "recognizer", c.speech.Name(), "error", err)
		c.editor.ShowMessage("Failed to start speech recognition", domain.SeverityError)
		return fmt.Errorf("starting %s recognizer: %w", c.speech.Name(), err)
	}

	active := &activeSession{
		session: domain.Session{
			State:     domain.SessionListening,
			StartedAt: c.now(),
		},
		ctx:         sessionCtx,
		cancel:      cancel,
		stream:      stream,
		recognizer:  recognizer,
		captureDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	go c.capture(active)

	c.metrics.SessionStarted()
	c.logger.Info("listening",
		"audio_source", c.audio.Name(),
		"recognizer", c.speech.Name(),
		"generator", c.generator.Name(),
		"sample_rate", stream.SampleRate(),
	)
	c.editor.ShowMessage("Speech to Code: On", domain.SeverityInfo)
	return nil
}

func (c *SessionController) stop(ctx context.Context, active *activeSession) {
	c.mu.Lock()
	active.session.State = domain.SessionStopping
	c.mu.Unlock()

	active.cancel()
	<-active.captureDone

	if err := active.stream.Close(); err != nil {
		c.logger.Warn("closing audio stream", "error", err)
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	trailing, err := active.recognizer.Finish(finishCtx)
	cancel()
	if err != nil {
		c.logger.Warn("finishing recognizer", "error", err)
	} else if trailing != nil {
		c.logger.Debug("discarding trailing utterance", "chars", len(trailing.Text))
	}

	c.mu.Lock()
	active.session.State = domain.SessionIdle
	active.session.ActiveRequestID = ""
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	c.metrics.SessionStopped()
	c.logger.Info("stopped listening", "duration", c.now().Sub(active.session.StartedAt).Round(time.Millisecond))
	c.editor.ShowMessage("Speech to Code: Off", domain.SeverityInfo)
}

// end stops active from inside the session, when its audio or recognizer
// gives out. It does nothing if the session was already replaced or stopped.
func (c *SessionController) end(active *activeSession) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	live := c.current == active && active.session.State == domain.SessionListening
	c.mu.Unlock()
	if !live {
		return
	}
	c.stop(context.Background(), active)
}

func (c *SessionController) capture(active *activeSession) {
	defer close(active.captureDone)

	for {
		frame, err := active.stream.NextFrame(active.ctx)
		if err != nil {
			if active.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("audio stream ended")
			} else {
				c.logger.Error("reading audio", "error", err)
				c.editor.ShowMessage("Audio capture failed, stopping Speech to Code", domain.SeverityError)
			}
			go c.end(active)
			return
		}

		utterance, err := active.recognizer.PushFrame(active.ctx, frame)
		if err != nil {
			if active.ctx.Err() != nil {
				return
			}
			c.logger.Error("recognizing audio", "sequence", frame.Sequence, "error", err)
			c.editor.ShowMessage("Speech recognition failed, stopping Speech to Code", domain.SeverityError)
			go c.end(active)
			return
		}

		if utterance != nil {
			c.handleUtterance(active, *utterance)
		}
	}
}

func (c *SessionController) handleUtterance(active *activeSession, utterance domain.Utterance) {
	text := strings.TrimSpace(utterance.Text)
	if !utterance.IsFinal || text == "" {
		return
	}
	c.metrics.UtteranceFinalized()
	c.logger.Info("transcribed", "text", text)

	c.mu.Lock()
	if active.session.State != domain.SessionListening {
		c.mu.Unlock()
		return
	}
	if outstanding := active.session.ActiveRequestID; outstanding != "" {
		c.mu.Unlock()
		c.metrics.UtteranceDropped()
		c.logger.Debug("request outstanding, dropping utterance", "request_id", outstanding, "text", text)
		return
	}
	req := domain.GenerationRequest{
		ID:            c.newID(),
		UtteranceText: text,
		ProviderKey:   c.providerKey,
	}
	active.session.ActiveRequestID = req.ID
	c.mu.Unlock()

	c.metrics.RequestIssued()
	c.responders.Add(1)
	go func() {
		defer c.responders.Done()
		c.respond(active, req)
	}()
}

func (c *SessionController) respond(active *activeSession, req domain.GenerationRequest) {
	defer c.release(active, req.ID)

	cred, err := c.credentials.Get(active.ctx, req.ProviderKey)
	if err != nil {
		c.deliver(active, domain.GenerationResult{RequestID: req.ID, Err: err})
		return
	}

	c.logger.Info("generating code", "request_id", req.ID, "generator", c.generator.Name())
	code, err := c.generator.Generate(active.ctx, req.UtteranceText, cred)
	c.deliver(active, domain.GenerationResult{RequestID: req.ID, Code: code, Err: err})
}

// deliver routes a result through the confirmation gate, unless it is stale.
func (c *SessionController) deliver(active *activeSession, result domain.GenerationResult) {
	if !c.outstanding(active, result.RequestID) {
		c.metrics.ResultDiscarded()
		c.logger.Debug("discarding stale generation result", "request_id", result.RequestID)
		return
	}

	if result.Err != nil {
		c.reportGenerationError(active, result)
		return
	}

	if strings.TrimSpace(result.Code) == "" {
		c.metrics.RequestFailed("empty")
		c.editor.ShowMessage("The provider returned no code", domain.SeverityWarning)
		return
	}

	c.logger.Debug("generated code", "request_id", result.RequestID, "chars", len(result.Code))
	c.confirmAndInsert(active, result)
}

func (c *SessionController) confirmAndInsert(active *activeSession, result domain.GenerationResult) {
	accepted, err := c.editor.Confirm(active.ctx, result.Code)
	if err != nil {
		if active.ctx.Err() != nil {
			c.metrics.ResultDiscarded()
			return
		}
		c.logger.Warn("confirmation failed", "request_id", result.RequestID, "error", err)
		c.editor.ShowMessage("Code insertion canceled", domain.SeverityInfo)
		return
	}
	if !accepted {
		c.metrics.CodeRejected()
		c.editor.ShowMessage("Code insertion canceled", domain.SeverityInfo)
		return
	}

	// The session may have stopped while the prompt was open.
	if !c.outstanding(active, result.RequestID) {
		c.metrics.ResultDiscarded()
		c.logger.Debug("session ended during confirmation, discarding", "request_id", result.RequestID)
		return
	}

	loc, err := c.editor.ActiveSelection(active.ctx)
	if err != nil {
		c.metrics.RequestFailed("insert")
		c.logger.Warn("no active selection", "error", err)
		c.editor.ShowMessage("No active text editor found", domain.SeverityInfo)
		return
	}

	if err := c.editor.Insert(active.ctx, loc, result.Code); err != nil {
		c.metrics.RequestFailed("insert")
		c.logger.Error("inserting code", "request_id", result.RequestID, "line", loc.Line, "column", loc.Column, "error", err)
		c.editor.ShowMessage("Failed to insert code", domain.SeverityError)
		return
	}

	c.metrics.CodeInserted()
	c.logger.Info("code inserted", "request_id", result.RequestID, "line", loc.Line, "column", loc.Column)
	c.editor.ShowMessage("Code inserted successfully!", domain.SeverityInfo)
}

func (c *SessionController) reportGenerationError(active *activeSession, result domain.GenerationResult) {
	err := result.Err
	c.logger.Warn("generation failed", "request_id", result.RequestID, "error", err)

	switch {
	case errors.Is(err, domain.ErrProviderAuth):
		c.metrics.RequestFailed("auth")
		c.editor.ShowMessage("The code generation provider rejected the API key", domain.SeverityError)
		if _, err := c.credentials.Reprompt(active.ctx, c.providerKey); err != nil {
			c.logger.Warn("re-prompting for credential", "error", err)
			return
		}
		c.editor.ShowMessage("API key stored securely! Repeat the request to try again.", domain.SeverityInfo)
	case errors.Is(err, domain.ErrCredentialMissing):
		c.metrics.RequestFailed("credential")
		c.editor.ShowMessage("An API key is required to generate code", domain.SeverityWarning)
	case errors.Is(err, domain.ErrProviderQuota):
		c.metrics.RequestFailed("quota")
		c.editor.ShowMessage("Failed to generate code: provider quota exceeded", domain.SeverityError)
	default:
		c.metrics.RequestFailed("request")
		c.editor.ShowMessage("Failed to generate code", domain.SeverityError)
	}
}

func (c *SessionController) reportOpenError(err error) {
	c.logger.Error("starting listening", "audio_source", c.audio.Name(), "error", err)
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.editor.ShowMessage("Please allow microphone access in your settings.", domain.SeverityWarning)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		c.editor.ShowMessage("Failed to start listening: no microphone available", domain.SeverityError)
	default:
		c.editor.ShowMessage("Failed to start listening", domain.SeverityError)
	}
}

func (c *SessionController) outstanding(active *activeSession, requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return requestID != "" &&
		c.current == active &&
		active.session.State == domain.SessionListening &&
		active.session.ActiveRequestID == requestID
}

func (c *SessionController) release(active *activeSession, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active.session.ActiveRequestID == requestID {
		active.session.ActiveRequestID = ""
	}
}
