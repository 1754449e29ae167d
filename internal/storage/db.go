package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
)

// SchemaVersion is the current on-disk schema version, kept in PRAGMA user_version.
const SchemaVersion = 4

const (
	processTable = "process"
	eventTable   = "event"
)

// tables lists every managed table in creation order.
var tables = []string{processTable, eventTable}

const schema = `
CREATE TABLE IF NOT EXISTS process (
	id INTEGER PRIMARY KEY,
	timestamp int,
	process_uid TEXT,
	process_pid TEXT,
	process_name TEXT
);

CREATE TABLE IF NOT EXISTS event (
	id INTEGER PRIMARY KEY,
	timestamp int,
	type int,
	more TEXT
);
`

// ErrInvalidRowID is returned when an insert did not yield a usable row id.
var ErrInvalidRowID = errors.New("insert returned invalid row id")

// DB wraps the SQLite database holding process snapshots and platform events.
type DB struct {
	db      *sql.DB
	log     *slog.Logger
	version int
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	version int
}

// WithLogger sets the logger used for upgrade and reset messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// withSchemaVersion overrides the target schema version. Tests use it to
// simulate databases written by older releases.
func withSchemaVersion(v int) Option {
	return func(o *options) { o.version = v }
}

// Open opens or creates the SQLite database at the given path, upgrading the
// schema if it was written at a different version.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{version: SchemaVersion}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: every write goes through the same handle.
	db.SetMaxOpenConns(1)

	d := &DB{db: db, log: o.logger, version: o.version}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Version returns the schema version the database is at.
func (d *DB) Version() int {
	return d.version
}

// InsertProcess inserts a process record in its own transaction.
func (d *DB) InsertProcess(p collector.ProcessRecord) error {
	return d.insert(
		"INSERT INTO process (timestamp, process_pid, process_name, process_uid) VALUES (?, ?, ?, ?)",
		p.Timestamp, p.PID, p.Name, p.UID,
	)
}

// InsertEvent inserts an event record in its own transaction.
func (d *DB) InsertEvent(e collector.EventRecord) error {
	return d.insert(
		"INSERT INTO event (timestamp, type, more) VALUES (?, ?, ?)",
		e.Timestamp, int(e.Type), e.Extra,
	)
}

func (d *DB) insert(query string, args ...any) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(query, args...)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil || id <= 0 {
		return ErrInvalidRowID
	}
	return nil
}

// ProcessesInRange returns process records whose timestamp lies within
// [from, to]. It returns an empty slice when nothing matches.
func (d *DB) ProcessesInRange(from, to int64) ([]collector.ProcessRecord, error) {
	rows, err := d.db.Query(
		"SELECT id, timestamp, process_pid, process_uid, process_name FROM process WHERE timestamp BETWEEN ? AND ? ORDER BY id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []collector.ProcessRecord{}
	for rows.Next() {
		var (
			r             collector.ProcessRecord
			pid, uid, nme sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &pid, &uid, &nme); err != nil {
			return nil, err
		}
		r.PID, r.UID, r.Name = pid.String, uid.String, nme.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// EventsInRange returns event records whose timestamp lies within [from, to].
func (d *DB) EventsInRange(from, to int64) ([]collector.EventRecord, error) {
	rows, err := d.db.Query(
		"SELECT id, timestamp, type, more FROM event WHERE timestamp BETWEEN ? AND ? ORDER BY id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []collector.EventRecord{}
	for rows.Next() {
		var (
			r     collector.EventRecord
			typ   int
			extra sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &typ, &extra); err != nil {
			return nil, err
		}
		r.Type = collector.EventType(typ)
		r.Extra = extra.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// ResetAllData deletes every row from every table.
func (d *DB) ResetAllData() error {
	d.log.Info("resetting data on user command")
	for _, t := range tables {
		// Table names come from the fixed tables slice.
		if _, err := d.db.Exec(fmt.Sprintf("DELETE FROM %s", t)); err != nil {
			return fmt.Errorf("delete from %s: %w", t, err)
		}
	}
	return nil
}
