// Package journal records every frame that crosses an Endpoint in a local
// SQLite database, tagged with a per-process session id.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/timeutil"
	"github.com/banshee-data/framelink/internal/transport"
)

// DefaultRecentLimit caps Recent when no limit is given.
const DefaultRecentLimit = 100

// Journal is a SQLite-backed frame log.
type Journal struct {
	db      *sql.DB
	path    string
	session string
	clock   timeutil.Clock
}

// Entry is one recorded frame.
type Entry struct {
	Seq       int64               `json:"seq"`
	Session   string              `json:"session"`
	Direction transport.Direction `json:"direction"`
	Transport string              `json:"transport"`
	At        time.Time           `json:"at"`
	Packet    packet.Packet       `json:"-"`
}

// Stats summarises the journal contents.
type Stats struct {
	Session      string    `json:"session"`
	Sessions     int64     `json:"sessions"`
	Frames       int64     `json:"frames"`
	PayloadBytes int64     `json:"payload_bytes"`
	First        time.Time `json:"first,omitzero"`
	Last         time.Time `json:"last,omitzero"`

	ByDirection map[transport.Direction]int64 `json:"by_direction"`
	ByTransport map[string]int64              `json:"by_transport"`
}

// Open opens (creating if needed) the journal at path, applies the schema
// migrations and starts a new session.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases alive for the lifetime of the journal.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	j := &Journal{db: db, path: path, session: uuid.NewString(), clock: timeutil.RealClock{}}
	if err := j.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	host, _ := os.Hostname()
	if _, err := db.Exec(
		`INSERT INTO sessions (session, started_at, hostname) VALUES (?, ?, ?)`,
		j.session, j.clock.Now().UnixNano(), host,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return j, nil
}

// SetClock replaces the clock used for entries recorded without a time.
func (j *Journal) SetClock(c timeutil.Clock) { j.clock = c }

// Session returns the id stamped on entries recorded by this process.
func (j *Journal) Session() string { return j.session }

// DB exposes the underlying handle for read-only tooling.
func (j *Journal) DB() *sql.DB { return j.db }

func (j *Journal) Close() error { return j.db.Close() }

// Record stores one frame. Only the payload bytes are kept.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Packet.Size > packet.Capacity {
		return fmt.Errorf("%w: %d", packet.ErrSizeOutOfRange, e.Packet.Size)
	}
	if e.At.IsZero() {
		e.At = j.clock.Now()
	}
	payload := e.Packet.Payload()
	if payload == nil {
		payload = []byte{}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO frames (session, direction, transport, peer_id, size, payload, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.session, string(e.Direction), e.Transport, e.Packet.ID, e.Packet.Size, payload, e.At.UnixNano(),
	)
	return err
}

// Observe implements transport.Observer.
func (j *Journal) Observe(ctx context.Context, ev *transport.Event) error {
	return j.Record(ctx, Entry{
		Direction: ev.Direction,
		Transport: ev.Transport,
		At:        ev.At,
		Packet:    ev.Packet,
	})
}

// Recent returns up to limit entries, newest first. A non-positive limit
// means DefaultRecentLimit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, session, direction, transport, peer_id, size, payload, recorded_at
		 FROM frames ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			dir     string
			size    int
			payload []byte
			at      int64
		)
		if err := rows.Scan(&e.Seq, &e.Session, &dir, &e.Transport, &e.Packet.ID, &size, &payload, &at); err != nil {
			return nil, err
		}
		e.Direction = transport.Direction(dir)
		e.At = time.Unix(0, at)
		if size > 0 && !e.Packet.SetPayload(payload, size) {
			return nil, fmt.Errorf("journal: corrupt entry %d (size %d, %d payload bytes)", e.Seq, size, len(payload))
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarises all recorded sessions.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Session:     j.session,
		ByDirection: map[transport.Direction]int64{},
		ByTransport: map[string]int64{},
	}
	var first, last sql.NullInt64
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), MIN(recorded_at), MAX(recorded_at) FROM frames`,
	).Scan(&s.Frames, &s.PayloadBytes, &first, &last)
	if err != nil {
		return s, err
	}
	if first.Valid {
		s.First = time.Unix(0, first.Int64)
		s.Last = time.Unix(0, last.Int64)
	}
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&s.Sessions); err != nil {
		return s, err
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT direction, transport, COUNT(*) FROM frames GROUP BY direction, transport`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			dir, name string
			n         int64
		)
		if err := rows.Scan(&dir, &name, &n); err != nil {
			return s, err
		}
		s.ByDirection[transport.Direction(dir)] += n
		s.ByTransport[name] += n
	}
	return s, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM frames WHERE recorded_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Backup writes a consistent copy of the journal to dst, which must not
// exist.
func (j *Journal) Backup(ctx context.Context, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("journal: backup target %s already exists", dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_, err := j.db.ExecContext(ctx, "VACUUM INTO ?", dst)
	return err
}
