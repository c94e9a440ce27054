package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wrenlabs/danmucap/capture"
)

type fakeProbe struct {
	mu  sync.Mutex
	st  Status
	err error
}

func (p *fakeProbe) set(st Status, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st, p.err = st, err
}

func (p *fakeProbe) LiveStatus(ctx context.Context, webRID string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st, p.err
}

type fakeSession struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	failure error
}

func (s *fakeSession) Start(ctx context.Context, sink capture.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.failure != nil {
		return s.failure
	}
	s.running = true
	return nil
}

func (s *fakeSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
}

func (s *fakeSession) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSession) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *fakeSession) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	next     *fakeSession
}

func (f *fakeFactory) build(roomID string) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.next
	if s == nil {
		s = &fakeSession{}
	}
	f.next = nil
	f.sessions = append(f.sessions, s)
	return s
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type nopSink struct{}

func (nopSink) Append(capture.ChatEvent) error { return nil }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func okResolve(ctx context.Context, webRID string) (string, error) {
	return "7000000000000000001", nil
}

func newTestMonitor(t *testing.T, probe *fakeProbe, factory *fakeFactory) (*RoomMonitor, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewRoomMonitor(Options{WebRID: "246286", GraceWindow: 30 * time.Minute}, probe, okResolve, factory.build, nopSink{})
	m.now = clock.now
	return m, clock
}

func stateOf(m *RoomMonitor) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func TestIdleStaysIdleWhileOffline(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, _ := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: false, Status: 4}, nil)
	m.step(context.Background())
	if got := stateOf(m); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if factory.created() != 0 {
		t.Errorf("sessions created = %d, want 0", factory.created())
	}
}

func TestIdleToCapturing(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, _ := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true, Status: 2, Anchor: "anchor-a", Title: "morning show"}, nil)
	m.step(context.Background())

	if got := stateOf(m); got != StateCapturing {
		t.Fatalf("state = %v, want capturing", got)
	}
	if factory.created() != 1 || !factory.last().IsRunning() {
		t.Fatalf("expected one running session, created = %d", factory.created())
	}
	snap := m.Snapshot()
	if snap.State != "capturing" || !snap.Running {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.RoomID != "7000000000000000001" || snap.Anchor != "anchor-a" || snap.Title != "morning show" {
		t.Errorf("snapshot metadata = %+v", snap)
	}
	if snap.GraceUntil != nil {
		t.Error("grace deadline set while capturing")
	}
}

func TestResolveFailureRetriedNextPoll(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	clock := &fakeClock{t: time.Now()}

	var mu sync.Mutex
	calls := 0
	resolve := func(ctx context.Context, webRID string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return "", errors.New("room id pattern not found")
		}
		return "7000000000000000002", nil
	}
	m := NewRoomMonitor(Options{WebRID: "246286"}, probe, resolve, factory.build, nopSink{})
	m.now = clock.now

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	if got := stateOf(m); got != StateIdle {
		t.Fatalf("state after failed resolve = %v, want idle", got)
	}
	m.step(context.Background())
	if got := stateOf(m); got != StateCapturing {
		t.Fatalf("state after retry = %v, want capturing", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("resolve calls = %d, want 2", calls)
	}
}

func TestResolveCachedAcrossSessions(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	var mu sync.Mutex
	calls := 0
	resolve := func(ctx context.Context, webRID string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "7000000000000000003", nil
	}
	m := NewRoomMonitor(Options{WebRID: "246286"}, probe, resolve, factory.build, nopSink{})
	clock := &fakeClock{t: time.Now()}
	m.now = clock.now

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	factory.last().kill()
	m.step(context.Background()) // dead session detected, new one started

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("resolve calls = %d, want 1 (cached)", calls)
	}
}

func TestSessionStartFailureStaysIdle(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{next: &fakeSession{failure: errors.New("signature rejected")}}
	m, _ := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	if got := stateOf(m); got != StateIdle {
		t.Errorf("state = %v, want idle after start failure", got)
	}
}

func TestOfflineEntersGraceNotStop(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, clock := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	sess := factory.last()

	probe.set(Status{IsLive: false}, nil)
	m.step(context.Background())
	if got := stateOf(m); got != StateGrace {
		t.Fatalf("state = %v, want grace", got)
	}
	if sess.stopCount() != 0 {
		t.Error("session stopped at grace entry")
	}
	snap := m.Snapshot()
	if snap.GraceUntil == nil {
		t.Fatal("no grace deadline in snapshot")
	}
	want := clock.now().Add(30 * time.Minute)
	if !snap.GraceUntil.Equal(want) {
		t.Errorf("grace deadline = %v, want %v", snap.GraceUntil, want)
	}
}

func TestGraceRecoveryKeepsSession(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, clock := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	sess := factory.last()

	probe.set(Status{IsLive: false}, nil)
	m.step(context.Background())

	// Liveness returns with time still inside the window.
	clock.advance(10 * time.Minute)
	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())

	if got := stateOf(m); got != StateCapturing {
		t.Fatalf("state = %v, want capturing after recovery", got)
	}
	if sess.stopCount() != 0 {
		t.Error("session stopped despite recovery within grace window")
	}
	if factory.created() != 1 {
		t.Errorf("sessions created = %d, want the original only", factory.created())
	}
	if m.Snapshot().GraceUntil != nil {
		t.Error("grace deadline not cleared after recovery")
	}
}

func TestGraceHoldsUntilDeadline(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, clock := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	sess := factory.last()

	probe.set(Status{IsLive: false}, nil)
	m.step(context.Background())

	// Repeated offline confirmations before the deadline never stop.
	for i := 0; i < 3; i++ {
		clock.advance(9 * time.Minute)
		m.step(context.Background())
		if got := stateOf(m); got != StateGrace {
			t.Fatalf("cycle %d: state = %v, want grace", i, got)
		}
	}
	if sess.stopCount() != 0 {
		t.Error("session stopped before deadline")
	}

	// Deadline passes: stop exactly once.
	clock.advance(5 * time.Minute)
	m.step(context.Background())
	if got := stateOf(m); got != StateIdle {
		t.Fatalf("state = %v, want idle after expiry", got)
	}
	if sess.stopCount() != 1 {
		t.Errorf("stops = %d, want exactly 1", sess.stopCount())
	}
	if m.Snapshot().GraceUntil != nil {
		t.Error("grace deadline not cleared after expiry")
	}

	m.step(context.Background())
	if sess.stopCount() != 1 {
		t.Errorf("stops after extra cycle = %d, want still 1", sess.stopCount())
	}
}

func TestProbeErrorLeavesStateUnchanged(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, clock := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	sess := factory.last()

	probe.set(Status{IsLive: false}, nil)
	m.step(context.Background()) // grace

	// Even past the deadline, an unknown status must not trigger the stop.
	clock.advance(time.Hour)
	probe.set(Status{}, errors.New("enter api 502"))
	m.step(context.Background())
	if got := stateOf(m); got != StateGrace {
		t.Errorf("state = %v, want grace preserved on probe error", got)
	}
	if sess.stopCount() != 0 {
		t.Error("session stopped on probe error")
	}
}

func TestDeadSessionRestartsOnLive(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, _ := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	first := factory.last()

	// Peer dropped the connection between polls.
	first.kill()
	m.step(context.Background())

	if got := stateOf(m); got != StateCapturing {
		t.Fatalf("state = %v, want capturing with a fresh session", got)
	}
	if factory.created() != 2 {
		t.Fatalf("sessions created = %d, want 2", factory.created())
	}
	if first.stopCount() == 0 {
		t.Error("dead session never released")
	}
	if !factory.last().IsRunning() {
		t.Error("replacement session not running")
	}
}

func TestDeadSessionWhileOfflineGoesIdle(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, _ := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	factory.last().kill()

	probe.set(Status{IsLive: false}, nil)
	m.step(context.Background())
	if got := stateOf(m); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if factory.created() != 1 {
		t.Errorf("sessions created = %d, want 1", factory.created())
	}
}

func TestRunStopsSessionOnCancel(t *testing.T) {
	probe := &fakeProbe{}
	factory := &fakeFactory{}
	m, _ := newTestMonitor(t, probe, factory)

	probe.set(Status{IsLive: true}, nil)
	m.step(context.Background())
	sess := factory.last()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	if sess.stopCount() != 1 {
		t.Errorf("stops = %d, want 1 after shutdown", sess.stopCount())
	}
	if got := stateOf(m); got != StateIdle {
		t.Errorf("state = %v, want idle after shutdown", got)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := (&Options{WebRID: "x"}).withDefaults()
	if o.PollLive != defaultPollInterval || o.PollIdle != defaultPollInterval {
		t.Errorf("poll defaults = %v/%v", o.PollLive, o.PollIdle)
	}
	if o.GraceWindow != defaultGraceWindow {
		t.Errorf("grace default = %v", o.GraceWindow)
	}
	if o.ProbeTimeout != defaultProbeTimeout {
		t.Errorf("probe timeout default = %v", o.ProbeTimeout)
	}

	o = (&Options{WebRID: "x", PollLive: time.Second, PollIdle: 2 * time.Second}).withDefaults()
	if o.PollLive != minPollInterval || o.PollIdle != minPollInterval {
		t.Errorf("sub-floor cadences not floored: %v/%v", o.PollLive, o.PollIdle)
	}
}
