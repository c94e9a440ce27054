package capture

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wrenlabs/danmucap/telemetry"
)

const defaultStopTimeout = 5 * time.Second

// ConnectFunc produces the signed push endpoint for one room: URL plus the
// headers (cookies, user agent) the platform expects. Signature acquisition
// happens inside, so a signing failure surfaces as a SessionStartError.
type ConnectFunc func(ctx context.Context) (url string, header http.Header, err error)

// CaptureSession binds one PushStream to one room's runtime parameters and a
// single event sink. It is single-use: after Stop (or after the stream closes
// itself) the owning monitor creates a fresh session for the next broadcast.
type CaptureSession struct {
	room        string
	connect     ConnectFunc
	heartbeat   time.Duration
	stopTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	stream  *PushStream
	running bool
	stopped bool
}

// NewCaptureSession builds a session for a room. The room string is used only
// for logging and error context.
func NewCaptureSession(room string, connect ConnectFunc) *CaptureSession {
	return &CaptureSession{
		room:        room,
		connect:     connect,
		heartbeat:   defaultHeartbeatInterval,
		stopTimeout: defaultStopTimeout,
		log:         slog.Default().With(slog.String("component", "capture_session"), slog.String("room", room)),
	}
}

// SetHeartbeatInterval overrides the keepalive cadence for the underlying
// stream. Must be called before Start.
func (cs *CaptureSession) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		cs.heartbeat = d
	}
}

// SetStopTimeout bounds how long Stop waits for the internal loops to exit.
func (cs *CaptureSession) SetStopTimeout(d time.Duration) {
	if d > 0 {
		cs.stopTimeout = d
	}
}

// Start acquires the signed endpoint, opens the push stream, and begins
// forwarding decoded chat events to sink. Sink append errors are logged and
// counted but never interrupt the stream.
func (cs *CaptureSession) Start(ctx context.Context, sink Sink) error {
	cs.mu.Lock()
	if cs.running || cs.stopped {
		cs.mu.Unlock()
		return &SessionStartError{Room: cs.room, Err: errAlreadyUsed}
	}
	cs.mu.Unlock()

	url, header, err := cs.connect(ctx)
	if err != nil {
		return &SessionStartError{Room: cs.room, Err: err}
	}

	stream := NewPushStream(url, header, func(ev ChatEvent) {
		if err := sink.Append(ev); err != nil {
			telemetry.SinkErrors.Inc()
			cs.log.Error("sink append failed", slog.Any("err", err))
		}
	})
	stream.SetHeartbeatInterval(cs.heartbeat)
	if err := stream.Open(ctx); err != nil {
		return &SessionStartError{Room: cs.room, Err: err}
	}

	cs.mu.Lock()
	cs.stream = stream
	cs.running = true
	cs.mu.Unlock()
	telemetry.SessionsStarted.Inc()
	telemetry.ActiveSessions.Inc()

	go func() {
		<-stream.Done()
		cs.mu.Lock()
		wasRunning := cs.running
		cs.running = false
		cs.mu.Unlock()
		if wasRunning {
			telemetry.ActiveSessions.Dec()
		}
		if err := stream.Err(); err != nil {
			cs.log.Warn("stream closed", slog.Any("err", err))
		} else {
			cs.log.Info("stream closed")
		}
	}()
	return nil
}

// Stop requests graceful shutdown: it closes the stream and waits up to the
// stop timeout for the internal loops to exit. Idempotent; never blocks
// indefinitely.
func (cs *CaptureSession) Stop() {
	cs.mu.Lock()
	if cs.stopped {
		cs.mu.Unlock()
		return
	}
	cs.stopped = true
	stream := cs.stream
	cs.mu.Unlock()

	if stream == nil {
		return
	}
	stream.Close()
	select {
	case <-stream.Done():
	case <-time.After(cs.stopTimeout):
		cs.log.Warn("stream did not stop within budget", slog.Duration("timeout", cs.stopTimeout))
	}
	telemetry.SessionsStopped.Inc()
}

// IsRunning reports whether the underlying stream is still alive. It turns
// false on its own when the stream closes itself.
func (cs *CaptureSession) IsRunning() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.running
}
