// Package monitor drives the per-room capture lifecycle: it polls live
// status, starts a capture session when the room goes live, and tears it
// down only after an offline grace window, so brief probe false negatives
// never truncate an active broadcast's recording.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wrenlabs/danmucap/capture"
	"github.com/wrenlabs/danmucap/telemetry"
)

// State is the room lifecycle state. It is owned by the monitor's own loop
// and mutated nowhere else; Snapshot reads it under the monitor's lock.
type State int

const (
	// StateIdle: not capturing, no pending deadline.
	StateIdle State = iota
	// StateCapturing: a session is active and the room was live on the last
	// confirmed probe.
	StateCapturing
	// StateGrace: offline observed, session still active, deadline pending.
	StateGrace
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateGrace:
		return "grace"
	default:
		return "unknown"
	}
}

// Status is the outcome of one live-status probe, in monitor terms.
type Status struct {
	IsLive bool
	Status int
	Anchor string
	Title  string
}

// StatusProbe reports whether a room is currently broadcasting. Implemented
// by the platform client; faked in tests.
type StatusProbe interface {
	LiveStatus(ctx context.Context, webRID string) (Status, error)
}

// ResolveFunc resolves a public web room id to the internal room id.
type ResolveFunc func(ctx context.Context, webRID string) (string, error)

// Session is the capture-session surface the monitor drives.
type Session interface {
	Start(ctx context.Context, sink capture.Sink) error
	Stop()
	IsRunning() bool
}

// SessionFactory builds a fresh session for a resolved room id. Sessions are
// single-use; the monitor asks for a new one per broadcast.
type SessionFactory func(roomID string) Session

// Options configures one room monitor.
type Options struct {
	// WebRID is the public room id (path segment of the room URL).
	WebRID string
	// DisplayName is an optional operator-facing label; falls back to the
	// probed anchor name, then the web rid.
	DisplayName string
	// Quality is the configured stream-quality hint, carried for reporting.
	Quality string

	PollLive     time.Duration // poll cadence while capturing (default 120s)
	PollIdle     time.Duration // poll cadence while idle (default 120s)
	GraceWindow  time.Duration // offline hysteresis (default 30m)
	ProbeTimeout time.Duration // per-probe bound (default 10s)
}

const (
	defaultPollInterval = 120 * time.Second
	minPollInterval     = 5 * time.Second
	defaultGraceWindow  = 30 * time.Minute
	defaultProbeTimeout = 10 * time.Second
)

func (o *Options) withDefaults() Options {
	out := *o
	if out.PollLive <= 0 {
		out.PollLive = defaultPollInterval
	}
	if out.PollIdle <= 0 {
		out.PollIdle = defaultPollInterval
	}
	// Floor, not validation: a sub-second cadence is a config mistake that
	// would hammer the platform.
	if out.PollLive < minPollInterval {
		out.PollLive = minPollInterval
	}
	if out.PollIdle < minPollInterval {
		out.PollIdle = minPollInterval
	}
	if out.GraceWindow <= 0 {
		out.GraceWindow = defaultGraceWindow
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = defaultProbeTimeout
	}
	return out
}

// RoomMonitor is the per-room state machine. Each monitor runs in its own
// goroutine; rooms share no mutable state with each other.
type RoomMonitor struct {
	opts       Options
	probe      StatusProbe
	resolve    ResolveFunc
	newSession SessionFactory
	sink       capture.Sink
	log        *slog.Logger
	now        func() time.Time

	mu         sync.Mutex // guards everything below; Snapshot reads it concurrently
	state      State
	graceUntil time.Time
	roomID     string
	anchor     string
	title      string
	session    Session
}

// NewRoomMonitor wires a monitor. probe, resolve, newSession and sink are
// required.
func NewRoomMonitor(opts Options, probe StatusProbe, resolve ResolveFunc, factory SessionFactory, sink capture.Sink) *RoomMonitor {
	o := opts.withDefaults()
	return &RoomMonitor{
		opts:       o,
		probe:      probe,
		resolve:    resolve,
		newSession: factory,
		sink:       sink,
		log:        slog.Default().With(slog.String("component", "room_monitor"), slog.String("room", o.WebRID)),
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled, then stops any active session. It never
// returns an error: every failure mode inside a room is recoverable and
// must not take down sibling rooms.
func (m *RoomMonitor) Run(ctx context.Context) {
	m.log.Info("room monitor started",
		slog.Duration("poll_live", m.opts.PollLive),
		slog.Duration("poll_idle", m.opts.PollIdle),
		slog.Duration("grace_window", m.opts.GraceWindow))
	for {
		m.step(ctx)
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-time.After(m.pollInterval()):
		}
	}
}

func (m *RoomMonitor) pollInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return m.opts.PollIdle
	}
	return m.opts.PollLive
}

// step runs one poll cycle: probe, then apply the state transition table.
// A probe failure means "status unknown this cycle": logged, state
// unchanged, next poll on schedule.
func (m *RoomMonitor) step(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	telemetry.ProbeCycles.Inc()
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	pctx, span := telemetry.StartSpan(pctx, "room-monitor", "probe", telemetry.RoomAttr(m.opts.WebRID))
	var st Status
	var err error
	telemetry.TimeFunc(telemetry.ProbeDuration, func() {
		st, err = m.probe.LiveStatus(pctx, m.opts.WebRID)
	})
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanSuccess(span)
	}
	span.End()
	cancel()
	if err != nil {
		telemetry.ProbeFailures.Inc()
		m.log.Warn("status probe failed", slog.String("phase", m.stateName()), slog.Any("err", err))
		return
	}

	m.mu.Lock()
	if st.Anchor != "" {
		m.anchor = st.Anchor
	}
	if st.Title != "" {
		m.title = st.Title
	}
	state := m.state
	session := m.session
	graceUntil := m.graceUntil
	m.mu.Unlock()

	// A session that died on its own (peer close, send failure) leaves the
	// capturing states without a stop of ours; fall back to idle so a live
	// confirmation below opens a fresh one.
	if state != StateIdle && session != nil && !session.IsRunning() {
		m.log.Info("capture session ended on its own; will restart on next live confirmation")
		session.Stop() // release the stream; idempotent
		m.setSession(nil)
		m.transition(StateIdle)
		state = StateIdle
	}

	switch state {
	case StateIdle:
		if !st.IsLive {
			return
		}
		roomID, err := m.resolvedRoomID(ctx)
		if err != nil {
			m.log.Warn("room id resolution failed", slog.Any("err", err))
			return
		}
		sess := m.newSession(roomID)
		if err := sess.Start(ctx, m.sink); err != nil {
			m.log.Warn("capture session start failed", slog.Any("err", err))
			return
		}
		m.setSession(sess)
		m.transition(StateCapturing)
		m.log.Info("broadcast live; capture started",
			slog.String("anchor", st.Anchor), slog.String("title", st.Title), slog.String("room_id", roomID))

	case StateCapturing:
		if st.IsLive {
			return
		}
		deadline := m.now().Add(m.opts.GraceWindow)
		m.mu.Lock()
		m.graceUntil = deadline
		m.mu.Unlock()
		m.transition(StateGrace)
		m.log.Info("offline observed; holding session through grace window", slog.Time("deadline", deadline))

	case StateGrace:
		if st.IsLive {
			m.mu.Lock()
			m.graceUntil = time.Time{}
			m.mu.Unlock()
			m.transition(StateCapturing)
			m.log.Info("liveness reconfirmed within grace window; capture continues")
			return
		}
		if m.now().Before(graceUntil) {
			return
		}
		m.log.Info("grace window elapsed; stopping capture")
		if session != nil {
			session.Stop()
		}
		m.setSession(nil)
		m.mu.Lock()
		m.graceUntil = time.Time{}
		m.mu.Unlock()
		m.transition(StateIdle)
	}
}

// resolvedRoomID returns the cached internal room id, resolving it on first
// use. An empty cache after a failure is retried on each poll.
func (m *RoomMonitor) resolvedRoomID(ctx context.Context) (string, error) {
	m.mu.Lock()
	cached := m.roomID
	m.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	rctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	id, err := m.resolve(rctx, m.opts.WebRID)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.roomID = id
	m.mu.Unlock()
	return id, nil
}

func (m *RoomMonitor) setSession(s Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

func (m *RoomMonitor) transition(to State) {
	m.mu.Lock()
	m.state = to
	m.mu.Unlock()
}

func (m *RoomMonitor) stateName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.String()
}

// shutdown stops the active session (bounded by the session's own stop
// timeout) and resets to idle. Called once from Run on ctx cancellation.
func (m *RoomMonitor) shutdown() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.state = StateIdle
	m.graceUntil = time.Time{}
	m.mu.Unlock()
	if session != nil {
		session.Stop()
	}
	m.log.Info("room monitor stopped")
}

// RoomSnapshot is one room's entry in the aggregate status report.
type RoomSnapshot struct {
	Room        string     `json:"room"`
	DisplayName string     `json:"display_name,omitempty"`
	Quality     string     `json:"quality,omitempty"`
	State       string     `json:"state"`
	Running     bool       `json:"running"`
	RoomID      string     `json:"room_id,omitempty"`
	Anchor      string     `json:"anchor,omitempty"`
	Title       string     `json:"title,omitempty"`
	GraceUntil  *time.Time `json:"grace_until,omitempty"`
}

// Snapshot returns a consistent view of the monitor's state. Safe to call
// concurrently with the monitor loop.
func (m *RoomMonitor) Snapshot() RoomSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := RoomSnapshot{
		Room:        m.opts.WebRID,
		DisplayName: m.opts.DisplayName,
		Quality:     m.opts.Quality,
		State:       m.state.String(),
		Running:     m.session != nil && m.session.IsRunning(),
		RoomID:      m.roomID,
		Anchor:      m.anchor,
		Title:       m.title,
	}
	if !m.graceUntil.IsZero() {
		t := m.graceUntil
		snap.GraceUntil = &t
	}
	return snap
}
