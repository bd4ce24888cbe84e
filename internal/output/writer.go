// Package output writes command results as JSON to stdout or a file.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Config holds output configuration.
type Config struct {
	Pretty bool
	// FilePath, when set, receives the output instead of stdout.
	FilePath string
}

// Writer serializes results. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	pretty bool
	closed bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer, pretty bool) *Writer {
	return &Writer{w: w, pretty: pretty}
}

// Open returns a writer for cfg.FilePath, or stdout when it is empty.
func Open(cfg Config) (*Writer, error) {
	if cfg.FilePath == "" {
		return NewWriter(os.Stdout, cfg.Pretty), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	w := NewWriter(f, cfg.Pretty)
	w.closer = f
	return w, nil
}

// Write encodes v followed by a newline.
func (w *Writer) Write(v interface{}) error {
	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return w.write(append(data, '\n'))
}

// WriteText writes s as is, adding a trailing newline when missing.
func (w *Writer) WriteText(s string) error {
	if len(s) == 0 || s[len(s)-1] != '\n' {
		s += "\n"
	}
	return w.write([]byte(s))
}

func (w *Writer) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	_, err := w.w.Write(data)
	return err
}

// Close closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
