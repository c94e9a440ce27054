// Package capture owns one live push connection per room: the websocket
// receive/heartbeat loops, ack replies, and delivery of decoded chat events
// to a caller-supplied sink.
package capture

import "time"

// ChatEvent is one decoded chat message. Immutable after construction;
// ownership passes to the sink.
type ChatEvent struct {
	// EventTimeMs is the sender-side event timestamp, normalized to
	// millisecond epoch.
	EventTimeMs int64
	// ServerNowMs is the server-reported "now" of the batch that carried the
	// event, normalized to millisecond epoch.
	ServerNowMs int64
	// ReceivedAt is the local receipt time.
	ReceivedAt time.Time

	UserID   string
	UserName string
	Content  string
}

// Sink consumes decoded chat events. Implementations (file, console,
// Postgres) live in the sink package; the capture core never owns the
// destination's lifetime.
type Sink interface {
	Append(ev ChatEvent) error
}

// NormalizeMillis converts a timestamp of unknown unit to milliseconds by
// digit count: below 1e10 the value is seconds, below 1e13 milliseconds,
// below 1e16 microseconds, otherwise nanoseconds. The platform is not
// consistent about units across message kinds, so this heuristic is part of
// the output contract and must not be tightened.
func NormalizeMillis(ts int64) int64 {
	switch {
	case ts < 10_000_000_000:
		return ts * 1000
	case ts < 10_000_000_000_000:
		return ts
	case ts < 10_000_000_000_000_000:
		return ts / 1000
	default:
		return ts / 1_000_000
	}
}
