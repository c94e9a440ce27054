package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultReportInterval = time.Minute

// Orchestrator owns the full set of room monitors: it runs them
// concurrently, aggregates their snapshots for reporting, and drains them
// on shutdown. Rooms are independent; one misbehaving room never delays the
// others or the process exit beyond its own bounded stop.
type Orchestrator struct {
	monitors    []*RoomMonitor
	reportEvery time.Duration
	log         *slog.Logger
}

// NewOrchestrator builds an orchestrator over the given monitors.
func NewOrchestrator(monitors ...*RoomMonitor) *Orchestrator {
	return &Orchestrator{
		monitors:    monitors,
		reportEvery: defaultReportInterval,
		log:         slog.Default().With(slog.String("component", "orchestrator")),
	}
}

// SetReportInterval overrides the periodic status-report cadence.
func (o *Orchestrator) SetReportInterval(d time.Duration) {
	if d > 0 {
		o.reportEvery = d
	}
}

// Run starts every monitor plus the reporting loop and blocks until ctx is
// cancelled and all monitors have drained. Each monitor bounds its own
// shutdown, so Run returns promptly even if one room's session hangs.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("starting room monitors", slog.Int("room_count", len(o.monitors)))
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range o.monitors {
		g.Go(func() error {
			m.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		o.reportLoop(ctx)
		return nil
	})
	err := g.Wait()
	o.log.Info("all room monitors stopped")
	return err
}

func (o *Orchestrator) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(o.reportEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snaps := o.Snapshot()
			capturing, grace := 0, 0
			for _, s := range snaps {
				switch s.State {
				case StateCapturing.String():
					capturing++
				case StateGrace.String():
					grace++
				}
			}
			o.log.Info("room status",
				slog.Int("rooms", len(snaps)),
				slog.Int("capturing", capturing),
				slog.Int("grace", grace))
		}
	}
}

// Snapshot returns a point-in-time view of every room. Each entry is read
// under its monitor's lock, so no individual snapshot tears; the slice as a
// whole is only loosely ordered in time, which is fine for reporting.
func (o *Orchestrator) Snapshot() []RoomSnapshot {
	out := make([]RoomSnapshot, 0, len(o.monitors))
	for _, m := range o.monitors {
		out = append(out, m.Snapshot())
	}
	return out
}
