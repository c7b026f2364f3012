package vosk_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-code/internal/domain"
	"voice-code/internal/infra/vosk"
)

// fakeServer finalizes an utterance on every third audio chunk and answers
// end-of-stream with a trailing result.
type fakeServer struct {
	sampleRate atomic.Int32
	samples    atomic.Int32
	eofs       atomic.Int32
	stall      bool
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		chunks := 0
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if messageType == websocket.TextMessage {
				var msg struct {
					Config *struct {
						SampleRate int `json:"sample_rate"`
					} `json:"config"`
					EOF int `json:"eof"`
				}
				if err := json.Unmarshal(payload, &msg); err != nil {
					t.Errorf("bad text message %q", payload)
					return
				}
				if msg.Config != nil {
					f.sampleRate.Store(int32(msg.Config.SampleRate))
					continue
				}
				if msg.EOF == 1 {
					f.eofs.Add(1)
					conn.WriteJSON(map[string]string{"text": "trailing words"})
					continue
				}
			}

			if f.stall {
				continue
			}

			f.samples.Add(int32(len(payload) / 2))
			chunks++
			if chunks%3 == 0 {
				conn.WriteJSON(map[string]string{"text": fmt.Sprintf("utterance %d", chunks/3)})
			} else {
				conn.WriteJSON(map[string]string{"partial": "utter"})
			}
		}
	}
}

func dial(t *testing.T, server *fakeServer) *vosk.Engine {
	t.Helper()
	ts := httptest.NewServer(server.handler(t))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	return vosk.NewEngine(url, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func frame(seq uint64) domain.AudioFrame {
	return domain.AudioFrame{Samples: make([]int16, 160), SampleRate: 16000, Sequence: seq}
}

func TestRecognizer_StreamsFramesAndFinalizes(t *testing.T) {
	server := &fakeServer{}
	engine := dial(t, server)
	ctx := context.Background()

	rec, err := engine.NewRecognizer(ctx, 16000)
	require.NoError(t, err)

	var texts []string
	for i := uint64(1); i <= 6; i++ {
		u, err := rec.PushFrame(ctx, frame(i))
		require.NoError(t, err)
		if u != nil {
			assert.True(t, u.IsFinal)
			texts = append(texts, u.Text)
		}
	}

	assert.Equal(t, []string{"utterance 1", "utterance 2"}, texts)
	assert.EqualValues(t, 16000, server.sampleRate.Load())
	assert.EqualValues(t, 6*160, server.samples.Load())
}

func TestRecognizer_FinishIsIdempotent(t *testing.T) {
	server := &fakeServer{}
	engine := dial(t, server)
	ctx := context.Background()

	rec, err := engine.NewRecognizer(ctx, 16000)
	require.NoError(t, err)

	_, err = rec.PushFrame(ctx, frame(1))
	require.NoError(t, err)

	u, err := rec.Finish(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "trailing words", u.Text)

	u, err = rec.Finish(ctx)
	assert.NoError(t, err)
	assert.Nil(t, u)
	assert.EqualValues(t, 1, server.eofs.Load())
}

func TestRecognizer_PushHonoursCancellation(t *testing.T) {
	server := &fakeServer{stall: true}
	engine := dial(t, server)

	rec, err := engine.NewRecognizer(context.Background(), 16000)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err = rec.PushFrame(ctx, frame(1))
	assert.ErrorIs(t, err, context.Canceled)

	u, err := rec.Finish(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestEngine_DialFailure(t *testing.T) {
	engine := vosk.NewEngine("ws://127.0.0.1:1/", slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := engine.NewRecognizer(context.Background(), 16000)
	assert.Error(t, err)
}
