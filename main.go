// Command danmucap is the main entrypoint for the multi-room danmu capture
// service. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs idempotent migrations.
//   - Starts one room monitor per configured room; each monitor polls live
//     status and opens/closes a push-protocol capture session as the room
//     goes live/offline.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and
//     /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wrenlabs/danmucap/capture"
	"github.com/wrenlabs/danmucap/config"
	"github.com/wrenlabs/danmucap/db"
	"github.com/wrenlabs/danmucap/douyin"
	"github.com/wrenlabs/danmucap/monitor"
	"github.com/wrenlabs/danmucap/server"
	"github.com/wrenlabs/danmucap/sink"
	"github.com/wrenlabs/danmucap/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if len(cfg.Rooms) == 0 {
		slog.Warn("no rooms configured; running with HTTP surface only")
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("danmucap", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Optional Postgres sink: enabled only when DB_DSN is set.
	var database *sql.DB
	if cfg.DBDsn != "" {
		database, err = db.ConnectDSN(cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		// Versioned migrations first; embedded SQL as fallback for
		// deployments without a schema_migrations table.
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting embedded SQL fallback", slog.Any("err", err), slog.String("component", "db_migrate"))
			if err := db.Migrate(context.Background(), database); err != nil {
				slog.Error("failed to migrate db", slog.Any("err", err))
				os.Exit(1)
			}
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", slog.String("dir", cfg.DataDir), slog.Any("err", err))
		os.Exit(1)
	}

	// Platform client with the node-backed signer.
	signer := &douyin.ExecSigner{Node: cfg.NodeBin, SignScript: cfg.SignScript, BogusScript: cfg.BogusScript}
	client := douyin.NewClient(signer)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitors := make([]*monitor.RoomMonitor, 0, len(cfg.Rooms))
	var sinks []sink.Sink
	for _, room := range cfg.Rooms {
		out, err := sink.OpenJSONL(cfg.OutPath(room), cfg.Timezone)
		if err != nil {
			slog.Error("failed to open output file", slog.String("room", room.WebRID), slog.Any("err", err))
			os.Exit(1)
		}
		roomSink := sink.Multi{out}
		if cfg.ConsoleEcho {
			roomSink = append(roomSink, sink.NewConsole(cfg.Timezone))
		}
		if database != nil {
			roomSink = append(roomSink, sink.NewPostgres(database, room.WebRID, cfg.Timezone))
		}
		sinks = append(sinks, roomSink)

		factory := func(roomID string) monitor.Session {
			sess := capture.NewCaptureSession(roomID, func(cctx context.Context) (string, http.Header, error) {
				return client.PushConnect(cctx, roomID)
			})
			sess.SetHeartbeatInterval(cfg.Heartbeat)
			sess.SetStopTimeout(cfg.StopTimeout)
			return sess
		}

		opts := monitor.Options{
			WebRID:       room.WebRID,
			DisplayName:  room.Name,
			Quality:      string(room.Quality),
			PollLive:     firstDuration(room.PollLive.Std(), cfg.PollLive),
			PollIdle:     firstDuration(room.PollIdle.Std(), cfg.PollIdle),
			GraceWindow:  cfg.GraceWindow,
			ProbeTimeout: cfg.ProbeTimeout,
		}
		monitors = append(monitors, monitor.NewRoomMonitor(opts, probeAdapter{client}, client.ResolveRoomID, factory, roomSink))
	}

	orch := monitor.NewOrchestrator(monitors...)

	// HTTP server (health/status/metrics)
	handlers := server.NewHandlers(orch, database)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal, then drain (each monitor bounds its own
	// session stop, so this cannot hang on one misbehaving room).
	if err := orch.Run(ctx); err != nil {
		slog.Error("orchestrator exited with error", slog.Any("err", err))
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			slog.Error("sink close failed", slog.Any("err", err))
		}
	}
	slog.Info("shutting down")
}

// probeAdapter maps the platform client's status type onto the monitor's.
type probeAdapter struct{ c *douyin.Client }

func (p probeAdapter) LiveStatus(ctx context.Context, webRID string) (monitor.Status, error) {
	st, err := p.c.LiveStatus(ctx, webRID)
	if err != nil {
		return monitor.Status{}, err
	}
	return monitor.Status{IsLive: st.IsLive, Status: st.Status, Anchor: st.Anchor, Title: st.Title}, nil
}

func firstDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
