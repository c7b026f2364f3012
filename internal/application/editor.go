package application

import (
	"context"

	"voice-code/internal/domain"
)

// EditorSink is the host editor surface.
type EditorSink interface {
	ActiveSelection(ctx context.Context) (domain.Location, error)
	Insert(ctx context.Context, loc domain.Location, text string) error
	Confirm(ctx context.Context, text string) (bool, error)
	ShowMessage(text string, severity domain.Severity)
}

// Document is the buffer half of an EditorSink.
type Document interface {
	ActiveSelection(ctx context.Context) (domain.Location, error)
	Insert(ctx context.Context, loc domain.Location, text string) error
}

// Prompter is the UI half of an EditorSink.
type Prompter interface {
	Confirm(ctx context.Context, text string) (bool, error)
	ShowMessage(text string, severity domain.Severity)
}

type editorHost struct {
	Document
	Prompter
}

// NewEditorSink joins a buffer and a UI into one EditorSink.
func NewEditorSink(doc Document, ui Prompter) EditorSink {
	return editorHost{Document: doc, Prompter: ui}
}
