package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wrenlabs/danmucap/capture"
)

// Postgres appends events to the danmu_events table. The table is owned by
// the db package's migrations; this sink only inserts.
type Postgres struct {
	db   *sql.DB
	room string
	loc  *time.Location
}

// NewPostgres binds a sink to one room's rows. The db handle is shared and
// stays owned by the caller.
func NewPostgres(db *sql.DB, room string, loc *time.Location) *Postgres {
	return &Postgres{db: db, room: room, loc: loc}
}

func (s *Postgres) Append(ev capture.ChatEvent) error {
	rec := NewRecord(ev, s.loc)
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO danmu_events (room, user_id, user_name, content, event_ts, server_now_ts, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.room, rec.UserID, rec.UserName, rec.Content,
		time.UnixMilli(rec.EventTsMs).UTC(), time.UnixMilli(rec.ServerNowMs).UTC(), ev.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert danmu event: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error { return nil }
