package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wrenlabs/danmucap/capture"
)

// JSONL appends one JSON object per line to a file, unbuffered so every
// event is on disk once Append returns.
type JSONL struct {
	loc *time.Location

	mu sync.Mutex
	f  *os.File
}

// OpenJSONL opens (or creates) the output file in append mode.
func OpenJSONL(path string, loc *time.Location) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return &JSONL{loc: loc, f: f}, nil
}

func (s *JSONL) Append(ev capture.ChatEvent) error {
	b, err := json.Marshal(NewRecord(ev, s.loc))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	b = append(b, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(b); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
