package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/wrenlabs/danmucap/capture"
)

// Console echoes each event as "[iso] name: content", one line per event.
type Console struct {
	loc *time.Location

	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes to stdout by default.
func NewConsole(loc *time.Location) *Console {
	return &Console{loc: loc, w: os.Stdout}
}

func (s *Console) Append(ev capture.ChatEvent) error {
	rec := NewRecord(ev, s.loc)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "[%s] %s: %s\n", rec.EventISO, rec.UserName, rec.Content)
	return err
}

func (s *Console) Close() error { return nil }
