// Package config loads environment variables plus the YAML rooms file and
// provides a typed Config used across the service. It applies sensible
// defaults so the binary can run locally with minimal setup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Quality is the desired stream-quality hint for a room. Chat capture does
// not consume it, but it is part of the room's configuration contract and is
// surfaced in status reporting.
type Quality string

const (
	QualityOrigin Quality = "origin"
	QualityBluRay Quality = "blu_ray"
	QualityUHD    Quality = "uhd"
	QualityHD     Quality = "hd"
	QualitySD     Quality = "sd"
	QualitySmooth Quality = "smooth"
)

func (q Quality) valid() bool {
	switch q {
	case QualityOrigin, QualityBluRay, QualityUHD, QualityHD, QualitySD, QualitySmooth:
		return true
	}
	return false
}

// Duration accepts human-readable YAML values like "90s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Room is one monitored live room. Immutable after load.
type Room struct {
	// URL is the public room URL; WebRID may be given directly instead.
	URL    string `yaml:"url"`
	WebRID string `yaml:"web_rid"`
	// Name is an optional operator-facing label.
	Name    string  `yaml:"name"`
	Quality Quality `yaml:"quality"`
	// Out is the JSONL output path; defaults to <data_dir>/<web_rid>.jsonl.
	Out string `yaml:"out"`
	// Optional per-room poll overrides.
	PollLive Duration `yaml:"poll_live"`
	PollIdle Duration `yaml:"poll_idle"`
}

type roomsFile struct {
	Rooms []Room `yaml:"rooms"`
}

// Config is the process configuration.
type Config struct {
	Rooms []Room

	// Timezone used for every formatted timestamp in persisted records.
	Timezone *time.Location

	PollLive     time.Duration
	PollIdle     time.Duration
	GraceWindow  time.Duration
	ProbeTimeout time.Duration
	Heartbeat    time.Duration
	StopTimeout  time.Duration

	// DBDsn enables the Postgres sink when non-empty.
	DBDsn   string
	DataDir string

	// Signing scripts (the platform's own JS, run through node).
	NodeBin     string
	SignScript  string
	BogusScript string

	// ConsoleEcho additionally prints every event to stdout.
	ConsoleEcho bool

	HTTPAddr string
}

// Load reads env vars, applies defaults, and loads the rooms file named by
// ROOMS_FILE (default config/rooms.yaml). A missing rooms file is not an
// error; the service then just runs the HTTP surface with zero rooms.
func Load() (*Config, error) {
	cfg := &Config{
		PollLive:     envDuration("POLL_LIVE_INTERVAL", 120*time.Second),
		PollIdle:     envDuration("POLL_IDLE_INTERVAL", 120*time.Second),
		GraceWindow:  envDuration("GRACE_WINDOW", 30*time.Minute),
		ProbeTimeout: envDuration("PROBE_TIMEOUT", 10*time.Second),
		Heartbeat:    envDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		StopTimeout:  envDuration("SESSION_STOP_TIMEOUT", 5*time.Second),
		DBDsn:        os.Getenv("DB_DSN"),
	}

	tzName := os.Getenv("TZ_NAME")
	if tzName == "" {
		tzName = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ_NAME %q: %w", tzName, err)
	}
	cfg.Timezone = loc

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	cfg.NodeBin = os.Getenv("NODE_BIN")
	cfg.SignScript = os.Getenv("SIGN_SCRIPT")
	if cfg.SignScript == "" {
		cfg.SignScript = "sign.js"
	}
	cfg.BogusScript = os.Getenv("ABOGUS_SCRIPT")
	if cfg.BogusScript == "" {
		cfg.BogusScript = "a_bogus.js"
	}

	cfg.ConsoleEcho = os.Getenv("CONSOLE_ECHO") == "1"

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	roomsPath := os.Getenv("ROOMS_FILE")
	if roomsPath == "" {
		roomsPath = "config/rooms.yaml"
	}
	rooms, err := LoadRooms(roomsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	cfg.Rooms = rooms
	return cfg, nil
}

// LoadRooms parses a rooms YAML file and normalizes every entry.
func LoadRooms(path string) ([]Room, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f roomsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse rooms file %s: %w", path, err)
	}
	for i := range f.Rooms {
		if err := normalizeRoom(&f.Rooms[i]); err != nil {
			return nil, fmt.Errorf("rooms file %s, entry %d: %w", path, i, err)
		}
	}
	return f.Rooms, nil
}

func normalizeRoom(r *Room) error {
	if r.WebRID == "" && r.URL != "" {
		rid, err := WebRIDFromURL(r.URL)
		if err != nil {
			return err
		}
		r.WebRID = rid
	}
	if r.WebRID == "" {
		return fmt.Errorf("room needs web_rid or url")
	}
	if r.Quality == "" {
		r.Quality = QualityOrigin
	}
	if !r.Quality.valid() {
		return fmt.Errorf("unknown quality %q", r.Quality)
	}
	return nil
}

// WebRIDFromURL extracts the public room id from a room URL
// (live.douyin.com/<id>, trailing slash and query tolerated).
func WebRIDFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return "", fmt.Errorf("room url %q has no room id path", raw)
	}
	parts := strings.Split(p, "/")
	return parts[len(parts)-1], nil
}

// OutPath returns the room's configured output path or the data-dir default.
func (c *Config) OutPath(r Room) string {
	if r.Out != "" {
		return r.Out
	}
	return c.DataDir + "/" + r.WebRID + ".jsonl"
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
