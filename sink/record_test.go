package sink

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/wrenlabs/danmucap/capture"
)

func sampleEvent() capture.ChatEvent {
	return capture.ChatEvent{
		EventTimeMs: 1_600_000_000_000,
		ServerNowMs: 1_600_000_000_500,
		ReceivedAt:  time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC),
		UserID:      "42",
		UserName:    "观众甲",
		Content:     "hello",
	}
}

// The serialized field names are a compatibility contract with downstream
// consumers of the JSONL files.
func TestRecordFieldNames(t *testing.T) {
	b, err := json.Marshal(NewRecord(sampleEvent(), time.UTC))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"event_ts_ms", "event_iso", "server_now_ms", "server_now_iso", "recv_iso", "user_id", "user_name", "content"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing field %q", key)
		}
	}
	if len(m) != 8 {
		t.Errorf("got %d fields, want 8: %v", len(m), m)
	}
}

func TestRecordFormatting(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	rec := NewRecord(sampleEvent(), shanghai)

	if rec.EventTsMs != 1_600_000_000_000 || rec.ServerNowMs != 1_600_000_000_500 {
		t.Errorf("millis = %d/%d", rec.EventTsMs, rec.ServerNowMs)
	}
	// 1600000000000 ms = 2020-09-13T12:26:40Z = 20:26:40 +08:00.
	if rec.EventISO != "2020-09-13T20:26:40.000000+08:00" {
		t.Errorf("EventISO = %q", rec.EventISO)
	}
	if rec.ServerNow != "2020-09-13T20:26:40.500000+08:00" {
		t.Errorf("ServerNow = %q", rec.ServerNow)
	}
	if rec.RecvISO != "2026-03-01T20:00:00.123456+08:00" {
		t.Errorf("RecvISO = %q", rec.RecvISO)
	}
	if rec.UserID != "42" || rec.UserName != "观众甲" || rec.Content != "hello" {
		t.Errorf("identity fields = %+v", rec)
	}
}

func TestRecordNilLocationFallsBackToUTC(t *testing.T) {
	rec := NewRecord(sampleEvent(), nil)
	if rec.EventISO != "2020-09-13T12:26:40.000000+00:00" {
		t.Errorf("EventISO = %q, want UTC rendering", rec.EventISO)
	}
}
