package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"sentinel/internal/model"
)

// Sink is the durable append-only destination for emitted events.
type Sink interface {
	Append(ev model.AnomalyEvent) error
	Close() error
}

// fileSink writes line-delimited JSON and fsyncs after every event, so an
// abrupt termination can lose at most the event being written.
type fileSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileSink(path string) (Sink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	return &fileSink{file: f}, nil
}

func (s *fileSink) Append(ev model.AnomalyEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return s.file.Sync()
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// writerSink adapts any io.Writer, mainly for tests.
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

func (s *writerSink) Append(ev model.AnomalyEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(data, '\n'))
	return err
}

func (s *writerSink) Close() error { return nil }
