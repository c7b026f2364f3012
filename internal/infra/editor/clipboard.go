package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"

	"voice-code/internal/domain"
)

// ClipboardDocument hands accepted code to the system clipboard so it can be
// pasted into any editor.
type ClipboardDocument struct {
	write func(string) error
}

func NewClipboardDocument() *ClipboardDocument {
	return &ClipboardDocument{write: clipboard.WriteAll}
}

func (d *ClipboardDocument) ActiveSelection(_ context.Context) (domain.Location, error) {
	if clipboard.Unsupported {
		return domain.Location{}, errors.New("no clipboard utility available")
	}
	return domain.Location{Line: 1, Column: 1}, nil
}

func (d *ClipboardDocument) Insert(_ context.Context, _ domain.Location, text string) error {
	if err := d.write(text); err != nil {
		return fmt.Errorf("copying to clipboard: %w: %w", domain.ErrInsertionFailure, err)
	}
	return nil
}
