package sink

import (
	"time"

	"github.com/wrenlabs/danmucap/capture"
)

// Record is the persisted per-event shape. Field names are the compatibility
// contract with downstream consumers; do not rename.
type Record struct {
	EventTsMs   int64  `json:"event_ts_ms"`
	EventISO    string `json:"event_iso"`
	ServerNowMs int64  `json:"server_now_ms"`
	ServerNow   string `json:"server_now_iso"`
	RecvISO     string `json:"recv_iso"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Content     string `json:"content"`
}

// isoFormat is RFC 3339 with microsecond precision and a numeric zone
// offset, matching what existing downstream tooling parses.
const isoFormat = "2006-01-02T15:04:05.000000-07:00"

// NewRecord formats a chat event for persistence. The display zone is passed
// in explicitly; no formatting here consults process-global timezone state.
func NewRecord(ev capture.ChatEvent, loc *time.Location) Record {
	if loc == nil {
		loc = time.UTC
	}
	return Record{
		EventTsMs:   ev.EventTimeMs,
		EventISO:    time.UnixMilli(ev.EventTimeMs).In(loc).Format(isoFormat),
		ServerNowMs: ev.ServerNowMs,
		ServerNow:   time.UnixMilli(ev.ServerNowMs).In(loc).Format(isoFormat),
		RecvISO:     ev.ReceivedAt.In(loc).Format(isoFormat),
		UserID:      ev.UserID,
		UserName:    ev.UserName,
		Content:     ev.Content,
	}
}
