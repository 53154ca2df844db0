package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileAdapter appends events as JSON lines to a single file, for offline
// decision forensics. Writes are serialized; the OS buffer is flushed on
// Flush and Close.
type FileAdapter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewFileAdapter opens (or creates) the JSONL file in append mode.
func NewFileAdapter(path string) (*FileAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	//nolint:gosec // Path is operator-supplied configuration.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	return &FileAdapter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (a *FileAdapter) Log(_ context.Context, event *Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.writeLine(event)
}

func (a *FileAdapter) LogBatch(_ context.Context, events []*Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, event := range events {
		if err := a.writeLine(event); err != nil {
			return err
		}
	}

	return nil
}

func (a *FileAdapter) writeLine(event *Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := a.writer.Write(raw); err != nil {
		return err
	}

	return a.writer.WriteByte('\n')
}

func (a *FileAdapter) Flush(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.writer.Flush()
}

func (a *FileAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writer.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}

	return a.file.Close()
}
