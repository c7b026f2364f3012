// Package vosk streams audio to a Vosk server over its websocket protocol.
package vosk

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

type Engine struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewEngine(url string, logger *slog.Logger) *Engine {
	return &Engine{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (e *Engine) Name() string {
	return "vosk"
}

type configMessage struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

type result struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

// NewRecognizer opens one websocket connection for the session.
func (e *Engine) NewRecognizer(ctx context.Context, sampleRate int) (application.Recognizer, error) {
	conn, _, err := e.dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to vosk server: %w", err)
	}

	var cfg configMessage
	cfg.Config.SampleRate = sampleRate
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring vosk recognizer: %w", err)
	}

	e.logger.Debug("vosk recognizer connected", "url", e.url, "sample_rate", sampleRate)
	return &Recognizer{conn: conn, logger: e.logger}, nil
}

// Recognizer is not safe for concurrent use; the capture loop owns it.
type Recognizer struct {
	conn   *websocket.Conn
	logger *slog.Logger

	broken   bool
	finished bool
}

func (r *Recognizer) PushFrame(ctx context.Context, frame domain.AudioFrame) (*domain.Utterance, error) {
	if r.finished {
		return nil, nil
	}

	payload := make([]byte, 2*len(frame.Samples))
	for i, sample := range frame.Samples {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(sample))
	}

	res, err := r.roundTrip(ctx, websocket.BinaryMessage, payload)
	if err != nil {
		return nil, err
	}
	return finalUtterance(res), nil
}

// Finish sends end-of-stream, returns the server's final result and closes
// the connection.
func (r *Recognizer) Finish(ctx context.Context) (*domain.Utterance, error) {
	if r.finished {
		return nil, nil
	}
	r.finished = true
	defer r.conn.Close()

	// A cancelled read leaves the connection unusable.
	if r.broken {
		return nil, nil
	}

	res, err := r.roundTrip(ctx, websocket.TextMessage, []byte(`{"eof" : 1}`))
	if err != nil {
		return nil, err
	}

	r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return finalUtterance(res), nil
}

func (r *Recognizer) roundTrip(ctx context.Context, messageType int, payload []byte) (result, error) {
	if deadline, ok := ctx.Deadline(); ok {
		r.conn.SetWriteDeadline(deadline)
		r.conn.SetReadDeadline(deadline)
	} else {
		r.conn.SetWriteDeadline(time.Time{})
		r.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(time.Now())
		r.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := r.conn.WriteMessage(messageType, payload); err != nil {
		r.broken = true
		return result{}, r.wrap(ctx, "sending audio", err)
	}

	_, reply, err := r.conn.ReadMessage()
	if err != nil {
		r.broken = true
		return result{}, r.wrap(ctx, "reading result", err)
	}

	var res result
	if err := json.Unmarshal(reply, &res); err != nil {
		return result{}, fmt.Errorf("decoding vosk result: %w", err)
	}
	return res, nil
}

func (r *Recognizer) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("vosk %s: %w", op, ctxErr)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("vosk %s: server closed the stream: %w", op, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("vosk %s: timed out: %w", op, err)
	}
	return fmt.Errorf("vosk %s: %w", op, err)
}

func finalUtterance(res result) *domain.Utterance {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil
	}
	return &domain.Utterance{Text: text, IsFinal: true, Timestamp: time.Now()}
}
