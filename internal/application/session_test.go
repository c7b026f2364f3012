package application_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

const addNumbers = "create a function that adds two numbers"

type harness struct {
	audio   *fakeAudioSource
	speech  *fakeSpeech
	gen     *fakeGenerator
	creds   *fakeCredentials
	editor  *fakeEditor
	metrics *fakeMetrics
	ctrl    *application.SessionController
}

func newHarness(accept bool, texts map[uint64]string) *harness {
	h := &harness{
		audio:   newFakeAudioSource(),
		speech:  &fakeSpeech{texts: texts},
		gen:     newFakeGenerator(),
		creds:   &fakeCredentials{},
		editor:  newFakeEditor(accept),
		metrics: &fakeMetrics{},
	}
	h.ctrl = application.NewSessionController(
		h.audio,
		h.speech,
		h.gen,
		h.creds,
		h.editor,
		h.metrics,
		"openai",
		discardLogger(),
	)
	return h
}

func (h *harness) push(t *testing.T, seq uint64) {
	t.Helper()
	select {
	case h.audio.stream.frames <- domain.AudioFrame{Sequence: seq, SampleRate: 16000, Samples: make([]int16, 160)}:
	case <-time.After(2 * time.Second):
		t.Fatalf("frame %d was not consumed", seq)
	}
}

func (h *harness) awaitCall(t *testing.T) string {
	t.Helper()
	select {
	case text := <-h.gen.calls:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("generator was not called")
		return ""
	}
}

func (h *harness) reply(t *testing.T, code string, err error) {
	t.Helper()
	select {
	case h.gen.replies <- generatorReply{code: code, err: err}:
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not accept a reply")
	}
}

func (h *harness) awaitPrompt(t *testing.T) {
	t.Helper()
	select {
	case <-h.editor.prompted:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation prompt was not shown")
	}
}

func TestSessionController_StartOpensSourceOnce(t *testing.T) {
	h := newHarness(true, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	status := h.ctrl.Status()
	assert.Equal(t, domain.SessionListening, status.State)
	assert.False(t, status.StartedAt.IsZero())
	assert.Empty(t, status.ActiveRequestID)
	assert.Equal(t, int32(1), h.audio.opens.Load())
}

func TestSessionController_StartWhileListening(t *testing.T) {
	h := newHarness(true, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrAlreadyListening)

	assert.Equal(t, domain.SessionListening, h.ctrl.Status().State)
	assert.Equal(t, int32(1), h.audio.opens.Load())
	assert.Equal(t, domain.SeverityInfo, h.editor.lastMessage().severity)
}

func TestSessionController_StartPermissionDenied(t *testing.T) {
	h := newHarness(true, nil)
	h.audio.openErr = fmt.Errorf("opening stream: %w", domain.ErrPermissionDenied)

	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	assert.Equal(t, domain.SessionIdle, h.ctrl.Status().State)
	last := h.editor.lastMessage()
	assert.Equal(t, domain.SeverityWarning, last.severity)
	assert.Contains(t, last.text, "allow microphone access")
}

func TestSessionController_StartDeviceUnavailable(t *testing.T) {
	h := newHarness(true, nil)
	h.audio.openErr = fmt.Errorf("opening stream: %w", domain.ErrDeviceUnavailable)

	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	assert.Equal(t, domain.SessionIdle, h.ctrl.Status().State)
	assert.Equal(t, domain.SeverityError, h.editor.lastMessage().severity)
}

func TestSessionController_StopWhenIdle(t *testing.T) {
	h := newHarness(true, nil)

	require.NoError(t, h.ctrl.Stop(context.Background()))

	assert.Equal(t, domain.SessionIdle, h.ctrl.Status().State)
	assert.Equal(t, int32(0), h.audio.opens.Load())
	assert.Empty(t, h.editor.snapshotMessages())
}

func TestSessionController_Toggle(t *testing.T) {
	h := newHarness(true, nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Equal(t, domain.SessionListening, h.ctrl.Status().State)

	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Equal(t, domain.SessionIdle, h.ctrl.Status().State)

	assert.Equal(t, int32(1), h.audio.opens.Load())
	assert.Equal(t, int32(1), h.audio.stream.closed.Load())
	assert.Equal(t, int32(1), h.speech.finishes.Load())
}

func TestSessionController_AcceptedCodeIsInserted(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	assert.Equal(t, addNumbers, h.awaitCall(t))
	assert.NotEmpty(t, h.ctrl.Status().ActiveRequestID)

	code := "```go\nfunc add(a, b int) int { return a + b }\n```"
	h.reply(t, code, nil)
	h.ctrl.Wait()

	inserts := h.editor.snapshotInserts()
	require.Len(t, inserts, 1)
	assert.Equal(t, code, inserts[0].text)
	assert.Equal(t, domain.Location{Line: 3, Column: 1}, inserts[0].loc)
	assert.Equal(t, "Code inserted successfully!", h.editor.lastMessage().text)
	assert.Empty(t, h.ctrl.Status().ActiveRequestID)
	assert.Equal(t, int32(1), h.metrics.inserted.Load())
}

func TestSessionController_OverlappingUtteranceIsDropped(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers, 2: "now make it subtract"})
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.awaitCall(t)

	h.push(t, 2)
	// The loop handles frames in order, so frame 3 being taken means frame
	// 2 was fully processed.
	h.push(t, 3)

	assert.Equal(t, int32(1), h.metrics.dropped.Load())
	assert.Equal(t, int32(1), h.metrics.issued.Load())
	assert.Len(t, h.gen.calls, 0)

	h.reply(t, "func add() {}", nil)
	h.ctrl.Wait()

	assert.Len(t, h.editor.snapshotInserts(), 1)
	assert.Len(t, h.gen.calls, 0)
}

func TestSessionController_StaleResultAfterStopIsDiscarded(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.push(t, 1)
	h.awaitCall(t)

	require.NoError(t, h.ctrl.Stop(context.Background()))
	assert.Equal(t, domain.SessionIdle, h.ctrl.Status().State)

	h.reply(t, "func add() {}", nil)
	h.ctrl.Wait()

	assert.Empty(t, h.editor.snapshotInserts())
	assert.Empty(t, h.editor.snapshotConfirms())
	assert.Equal(t, int32(1), h.metrics.discarded.Load())
}

func TestSessionController_StopDuringConfirmationCancelsPrompt(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	release := h.editor.holdConfirmations(false)
	defer release()
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.push(t, 1)
	h.awaitCall(t)
	h.reply(t, "func add() {}", nil)
	h.awaitPrompt(t)

	require.NoError(t, h.ctrl.Stop(context.Background()))
	h.ctrl.Wait()

	assert.Empty(t, h.editor.snapshotInserts())
	assert.Len(t, h.editor.snapshotConfirms(), 1)
	assert.Equal(t, int32(1), h.metrics.discarded.Load())
	assert.Zero(t, h.metrics.inserted.Load())
	assert.Zero(t, h.metrics.rejected.Load())
}

func TestSessionController_AcceptAfterStopIsNotInserted(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	release := h.editor.holdConfirmations(true)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.push(t, 1)
	h.awaitCall(t)
	h.reply(t, "func add() {}", nil)
	h.awaitPrompt(t)

	require.NoError(t, h.ctrl.Stop(context.Background()))
	assert.Equal(t, domain.SessionIdle, h.ctrl.Status().State)

	// The user accepts after the session has already ended.
	release()
	h.ctrl.Wait()

	assert.Empty(t, h.editor.snapshotInserts())
	assert.Equal(t, int32(1), h.metrics.discarded.Load())
	assert.Zero(t, h.metrics.inserted.Load())
	assert.NotEqual(t, "Code inserted successfully!", h.editor.lastMessage().text)
}

func TestSessionController_StaleResultAfterRestartIsDiscarded(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	h.push(t, 1)
	h.awaitCall(t)

	require.NoError(t, h.ctrl.Stop(ctx))
	require.NoError(t, h.ctrl.Start(ctx))
	defer h.ctrl.Stop(ctx)

	h.reply(t, "func add() {}", nil)
	h.ctrl.Wait()

	assert.Empty(t, h.editor.snapshotInserts())
	assert.Equal(t, int32(1), h.metrics.discarded.Load())
	assert.Equal(t, domain.SessionListening, h.ctrl.Status().State)
}

func TestSessionController_RejectedCodeIsNotInserted(t *testing.T) {
	h := newHarness(false, map[uint64]string{1: addNumbers})
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.awaitCall(t)
	h.reply(t, "func add() {}", nil)
	h.ctrl.Wait()

	assert.Empty(t, h.editor.snapshotInserts())
	assert.Equal(t, domain.SessionListening, h.ctrl.Status().State)
	assert.Equal(t, int32(1), h.metrics.rejected.Load())
	assert.Equal(t, "Code insertion canceled", h.editor.lastMessage().text)
}

func TestSessionController_InsertionFailureKeepsListening(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	h.editor.insertErr = fmt.Errorf("buffer is read-only: %w", domain.ErrInsertionFailure)
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.awaitCall(t)
	h.reply(t, "func add() {}", nil)
	h.ctrl.Wait()

	assert.Equal(t, domain.SessionListening, h.ctrl.Status().State)
	last := h.editor.lastMessage()
	assert.Equal(t, domain.SeverityError, last.severity)
	assert.Equal(t, "Failed to insert code", last.text)
	assert.Equal(t, []string{"insert"}, h.metrics.snapshotFailures())
}

func TestSessionController_AuthErrorReprompts(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.awaitCall(t)
	h.reply(t, "", fmt.Errorf("openai status 401: %w", domain.ErrProviderAuth))
	h.ctrl.Wait()

	assert.Equal(t, int32(1), h.creds.reprompts.Load())
	assert.Empty(t, h.editor.snapshotInserts())
	assert.Equal(t, domain.SessionListening, h.ctrl.Status().State)
	assert.Equal(t, []string{"auth"}, h.metrics.snapshotFailures())
}

func TestSessionController_QuotaErrorAllowsNextUtterance(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers, 2: "add a comment"})
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.awaitCall(t)
	h.reply(t, "", fmt.Errorf("openai status 429: %w", domain.ErrProviderQuota))
	h.ctrl.Wait()

	assert.Equal(t, []string{"quota"}, h.metrics.snapshotFailures())
	assert.Equal(t, domain.SeverityError, h.editor.lastMessage().severity)

	h.push(t, 2)
	assert.Equal(t, "add a comment", h.awaitCall(t))
	h.reply(t, "// comment", nil)
	h.ctrl.Wait()

	assert.Len(t, h.editor.snapshotInserts(), 1)
}

func TestSessionController_MissingCredential(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: addNumbers})
	h.creds.err = fmt.Errorf("openai: %w", domain.ErrCredentialMissing)
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.push(t, 2)
	h.ctrl.Wait()

	assert.Len(t, h.gen.calls, 0)
	assert.Equal(t, []string{"credential"}, h.metrics.snapshotFailures())
	assert.Equal(t, int32(0), h.creds.reprompts.Load())
}

func TestSessionController_BlankUtteranceIsIgnored(t *testing.T) {
	h := newHarness(true, map[uint64]string{1: "   ", 2: ""})
	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop(context.Background())

	h.push(t, 1)
	h.push(t, 2)
	h.push(t, 3)

	assert.Len(t, h.gen.calls, 0)
	assert.Equal(t, int32(0), h.metrics.issued.Load())
}

func TestSessionController_StreamEndStopsSession(t *testing.T) {
	h := newHarness(true, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))

	close(h.audio.stream.frames)

	require.Eventually(t, func() bool {
		return h.ctrl.Status().State == domain.SessionIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), h.audio.stream.closed.Load())
	assert.Equal(t, int32(1), h.speech.finishes.Load())
}

func TestSessionController_AtMostOneOutstandingRequest(t *testing.T) {
	const frames = 60
	texts := make(map[uint64]string, frames)
	for i := uint64(1); i <= frames; i++ {
		texts[i] = fmt.Sprintf("utterance %d", i)
	}
	h := newHarness(true, texts)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	answered := make(chan struct{})
	go func() {
		defer close(answered)
		for range h.gen.calls {
			h.gen.replies <- generatorReply{code: "x := 1"}
		}
	}()

	for i := uint64(1); i <= frames; i++ {
		h.push(t, i)
		if i%7 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	require.NoError(t, h.ctrl.Stop(ctx))
	h.ctrl.Wait()
	close(h.gen.calls)
	<-answered

	assert.LessOrEqual(t, h.gen.maxActive.Load(), int32(1))
	assert.Equal(t, int32(frames), h.metrics.issued.Load()+h.metrics.dropped.Load())
	assert.GreaterOrEqual(t, h.metrics.issued.Load(), int32(1))
}
