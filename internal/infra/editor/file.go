// Package editor holds the buffers generated code can be inserted into.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"voice-code/internal/domain"
)

// FileDocument treats a source file on disk as the active editor. The caret
// is either pinned to the end of the file or tracked from a starting
// position, advancing past every insertion.
type FileDocument struct {
	path string

	mu       sync.Mutex
	atEnd    bool
	caret    domain.Location
	inserted int
}

// NewFileDocument parses caret as "end" or "line:column" (1-based).
func NewFileDocument(path, caret string) (*FileDocument, error) {
	doc := &FileDocument{path: path}

	caret = strings.TrimSpace(caret)
	if caret == "" || caret == "end" {
		doc.atEnd = true
		return doc, nil
	}

	loc, err := ParseLocation(caret)
	if err != nil {
		return nil, err
	}
	doc.caret = loc
	return doc, nil
}

func ParseLocation(s string) (domain.Location, error) {
	lineStr, colStr, ok := strings.Cut(s, ":")
	if !ok {
		colStr = "1"
	}
	line, err := strconv.Atoi(strings.TrimSpace(lineStr))
	if err != nil || line < 1 {
		return domain.Location{}, fmt.Errorf("invalid caret line %q", lineStr)
	}
	col, err := strconv.Atoi(strings.TrimSpace(colStr))
	if err != nil || col < 1 {
		return domain.Location{}, fmt.Errorf("invalid caret column %q", colStr)
	}
	return domain.Location{Line: line, Column: col}, nil
}

func (d *FileDocument) ActiveSelection(_ context.Context) (domain.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	content, err := os.ReadFile(d.path)
	if err != nil {
		return domain.Location{}, fmt.Errorf("opening %s: %w", d.path, err)
	}

	if d.atEnd {
		return endOf(string(content)), nil
	}
	return d.caret, nil
}

func (d *FileDocument) Insert(_ context.Context, loc domain.Location, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsertionFailure, err)
	}
	content, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsertionFailure, err)
	}

	offset, err := offsetOf(string(content), loc)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsertionFailure, err)
	}

	updated := string(content[:offset]) + text + string(content[offset:])
	if err := writeAtomic(d.path, []byte(updated), info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsertionFailure, err)
	}

	d.inserted++
	if !d.atEnd {
		d.caret = advance(loc, text)
	}
	return nil
}

// Insertions reports how many snippets were written.
func (d *FileDocument) Insertions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inserted
}

func endOf(content string) domain.Location {
	return advance(domain.Location{Line: 1, Column: 1}, content)
}

// advance returns the position just after text when it is typed at loc.
func advance(loc domain.Location, text string) domain.Location {
	lines := strings.Split(text, "\n")
	if len(lines) == 1 {
		return domain.Location{Line: loc.Line, Column: loc.Column + utf8.RuneCountInString(text)}
	}
	last := lines[len(lines)-1]
	return domain.Location{Line: loc.Line + len(lines) - 1, Column: 1 + utf8.RuneCountInString(last)}
}

var errOutOfRange = errors.New("location outside the document")

func offsetOf(content string, loc domain.Location) (int, error) {
	offset := 0
	for line := 1; line < loc.Line; line++ {
		i := strings.IndexByte(content[offset:], '\n')
		if i < 0 {
			return 0, fmt.Errorf("line %d: %w", loc.Line, errOutOfRange)
		}
		offset += i + 1
	}

	lineEnd := len(content)
	if i := strings.IndexByte(content[offset:], '\n'); i >= 0 {
		lineEnd = offset + i
	}

	for col := 1; col < loc.Column; col++ {
		if offset >= lineEnd {
			return 0, fmt.Errorf("line %d column %d: %w", loc.Line, loc.Column, errOutOfRange)
		}
		_, size := utf8.DecodeRuneInString(content[offset:])
		offset += size
	}
	return offset, nil
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
