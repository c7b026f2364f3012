package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAudioSource struct {
	openErr error
	opens   atomic.Int32
	stream  *fakeStream
}

func newFakeAudioSource() *fakeAudioSource {
	return &fakeAudioSource{stream: &fakeStream{frames: make(chan domain.AudioFrame)}}
}

func (f *fakeAudioSource) Name() string { return "fake" }

func (f *fakeAudioSource) Open(_ context.Context) (application.AudioStream, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

type fakeStream struct {
	frames chan domain.AudioFrame
	closed atomic.Int32
}

func (s *fakeStream) SampleRate() int { return 16000 }

func (s *fakeStream) NextFrame(ctx context.Context) (domain.AudioFrame, error) {
	select {
	case <-ctx.Done():
		return domain.AudioFrame{}, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			return domain.AudioFrame{}, io.EOF
		}
		return frame, nil
	}
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeSpeech finalizes an utterance for every frame whose sequence number is
// listed in texts.
type fakeSpeech struct {
	texts    map[uint64]string
	finishes atomic.Int32
}

func (f *fakeSpeech) Name() string { return "fake" }

func (f *fakeSpeech) NewRecognizer(_ context.Context, _ int) (application.Recognizer, error) {
	return &fakeRecognizer{speech: f}, nil
}

type fakeRecognizer struct {
	speech   *fakeSpeech
	finished bool
}

func (r *fakeRecognizer) PushFrame(_ context.Context, frame domain.AudioFrame) (*domain.Utterance, error) {
	text, ok := r.speech.texts[frame.Sequence]
	if !ok {
		return nil, nil
	}
	return &domain.Utterance{Text: text, IsFinal: true}, nil
}

func (r *fakeRecognizer) Finish(_ context.Context) (*domain.Utterance, error) {
	if r.finished {
		return nil, nil
	}
	r.finished = true
	r.speech.finishes.Add(1)
	return nil, nil
}

type generatorReply struct {
	code string
	err  error
}

// fakeGenerator blocks every call until the test sends a reply. It ignores
// ctx so that results can arrive after the session stopped.
type fakeGenerator struct {
	calls   chan string
	replies chan generatorReply

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		calls:   make(chan string, 16),
		replies: make(chan generatorReply),
	}
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, utterance string, _ domain.Credential) (string, error) {
	n := g.active.Add(1)
	for {
		m := g.maxActive.Load()
		if n <= m || g.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	defer g.active.Add(-1)

	g.calls <- utterance
	reply := <-g.replies
	return reply.code, reply.err
}

type fakeCredentials struct {
	err       error
	gets      atomic.Int32
	reprompts atomic.Int32
}

func (f *fakeCredentials) Get(_ context.Context, name string) (domain.Credential, error) {
	f.gets.Add(1)
	if f.err != nil {
		return domain.Credential{}, f.err
	}
	return domain.Credential{Provider: name, Secret: "sk-test"}, nil
}

func (f *fakeCredentials) Reprompt(_ context.Context, name string) (domain.Credential, error) {
	f.reprompts.Add(1)
	return domain.Credential{Provider: name, Secret: "sk-new"}, nil
}

type message struct {
	text     string
	severity domain.Severity
}

type insertion struct {
	loc  domain.Location
	text string
}

type fakeEditor struct {
	accept    bool
	insertErr error

	// When hold is set, Confirm reports on prompted and waits for hold to
	// close. With ignoreCancel the wait outlives ctx, like a user answering
	// a prompt the session no longer owns.
	hold         chan struct{}
	prompted     chan struct{}
	ignoreCancel bool

	confirms []string

	mu       sync.Mutex
	inserts  []insertion
	messages []message
}

func newFakeEditor(accept bool) *fakeEditor {
	return &fakeEditor{accept: accept}
}

func (e *fakeEditor) ActiveSelection(_ context.Context) (domain.Location, error) {
	return domain.Location{Line: 3, Column: 1}, nil
}

func (e *fakeEditor) Insert(_ context.Context, loc domain.Location, text string) error {
	if e.insertErr != nil {
		return e.insertErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inserts = append(e.inserts, insertion{loc: loc, text: text})
	return nil
}

func (e *fakeEditor) Confirm(ctx context.Context, text string) (bool, error) {
	e.mu.Lock()
	e.confirms = append(e.confirms, text)
	e.mu.Unlock()

	if e.hold == nil {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return e.accept, nil
	}

	select {
	case e.prompted <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	if e.ignoreCancel {
		<-e.hold
		return e.accept, nil
	}
	select {
	case <-e.hold:
		return e.accept, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// holdConfirmations makes Confirm block until the returned func is called.
func (e *fakeEditor) holdConfirmations(ignoreCancel bool) (release func()) {
	e.hold = make(chan struct{})
	e.prompted = make(chan struct{}, 1)
	e.ignoreCancel = ignoreCancel
	return func() { close(e.hold) }
}

func (e *fakeEditor) snapshotConfirms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.confirms...)
}

func (e *fakeEditor) ShowMessage(text string, severity domain.Severity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, message{text: text, severity: severity})
}

func (e *fakeEditor) snapshotInserts() []insertion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]insertion(nil), e.inserts...)
}

func (e *fakeEditor) snapshotMessages() []message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]message(nil), e.messages...)
}

func (e *fakeEditor) lastMessage() message {
	msgs := e.snapshotMessages()
	if len(msgs) == 0 {
		return message{}
	}
	return msgs[len(msgs)-1]
}

type fakeMetrics struct {
	application.NoopMetrics

	dropped   atomic.Int32
	issued    atomic.Int32
	discarded atomic.Int32
	inserted  atomic.Int32
	rejected  atomic.Int32

	mu       sync.Mutex
	failures []string
}

func (m *fakeMetrics) UtteranceDropped() { m.dropped.Add(1) }
func (m *fakeMetrics) RequestIssued()    { m.issued.Add(1) }
func (m *fakeMetrics) ResultDiscarded()  { m.discarded.Add(1) }
func (m *fakeMetrics) CodeInserted()     { m.inserted.Add(1) }
func (m *fakeMetrics) CodeRejected()     { m.rejected.Add(1) }

func (m *fakeMetrics) RequestFailed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, kind)
}

func (m *fakeMetrics) snapshotFailures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failures...)
}
