package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogAppender is an output destination of a Logger.
type LogAppender interface {
	io.Writer
	Name() string
	Close() error
}

// ConsoleAppender writes human readable lines to stderr.
type ConsoleAppender struct {
	zerolog.ConsoleWriter
}

// NewConsoleAppender creates a console appender writing to stderr.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{
		ConsoleWriter: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano},
	}
}

func (a *ConsoleAppender) Name() string { return "console" }
func (a *ConsoleAppender) Close() error { return nil }

// FileAppender appends JSON lines to a file.
type FileAppender struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileAppender opens path for appending, creating missing directories.
func NewFileAppender(path string) (*FileAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileAppender{path: path, file: f}, nil
}

func (a *FileAppender) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return 0, os.ErrClosed
	}
	return a.file.Write(p)
}

func (a *FileAppender) Name() string { return "file" }

// Path returns the file being appended to.
func (a *FileAppender) Path() string { return a.path }

func (a *FileAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// WriterAppender adapts any io.Writer, such as a test buffer.
type WriterAppender struct {
	io.Writer
	name string
}

// NewWriterAppender wraps w under the given name.
func NewWriterAppender(name string, w io.Writer) *WriterAppender {
	return &WriterAppender{Writer: w, name: name}
}

func (a *WriterAppender) Name() string { return a.name }
func (a *WriterAppender) Close() error { return nil }
