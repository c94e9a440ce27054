// Package sink contains the event consumers: JSONL file, console echo,
// Postgres, and a fan-out combinator. The capture core hands each decoded
// chat event to exactly one Sink and never owns the destination's lifetime
// or naming.
package sink

import (
	"errors"

	"github.com/wrenlabs/danmucap/capture"
)

// Sink persists chat events. Append is synchronous; implementations decide
// their own durability. Close releases the underlying resource.
type Sink interface {
	capture.Sink
	Close() error
}

// Multi fans each event out to every child sink. One child's failure never
// prevents delivery to the others; errors are joined.
type Multi []Sink

func (m Multi) Append(ev capture.ChatEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
