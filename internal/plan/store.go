// Package plan owns the diagnostic plan lifecycle: append-only plan
// versions, the requested-measurement list attached to the current plan,
// and the accepted readings that complete those requests. Plan bodies come
// from the LLM collaborator; everything stored here has already passed the
// net guardrail.
package plan

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNoPlan is returned when a case has no plan yet.
var ErrNoPlan = errors.New("plan: no plan recorded for case")

// Reading is one accepted measurement, append-only.
type Reading struct {
	ID        string
	Net       string
	Type      string
	Value     string
	Unit      string
	Note      string
	Raw       string
	MessageID string
	CreatedAt time.Time
}

// Row is one stored plan version.
type Row struct {
	CaseID    string
	Version   int
	Body      string
	CreatedAt time.Time
}

// Store persists plans, requested measurements, and readings.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open creates or opens the case database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create case db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open case db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}
	s := &Store{db: db, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		case_id    TEXT NOT NULL,
		version    INTEGER NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (case_id, version)
	);
	CREATE TABLE IF NOT EXISTS requested_measurements (
		case_id TEXT NOT NULL,
		key     TEXT NOT NULL,
		net     TEXT NOT NULL,
		mtype   TEXT NOT NULL DEFAULT '',
		prompt  TEXT NOT NULL,
		hint    TEXT NOT NULL DEFAULT '',
		status  TEXT NOT NULL DEFAULT 'pending',
		ord     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (case_id, key)
	);
	CREATE TABLE IF NOT EXISTS readings (
		id         TEXT PRIMARY KEY,
		case_id    TEXT NOT NULL,
		net        TEXT NOT NULL,
		rtype      TEXT NOT NULL,
		value      TEXT NOT NULL,
		unit       TEXT NOT NULL DEFAULT '',
		note       TEXT NOT NULL DEFAULT '',
		raw        TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_case_net ON readings(case_id, net);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create case schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddReading appends an accepted reading and returns its id.
func (s *Store) AddReading(caseID string, r Reading) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO readings (id, case_id, net, rtype, value, unit, note, raw, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, caseID, r.Net, r.Type, r.Value, r.Unit, r.Note, r.Raw, r.MessageID,
		r.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("failed to append reading: %w", err)
	}
	return r.ID, nil
}

// Readings returns a case's accepted readings in insertion order.
func (s *Store) Readings(caseID string) ([]Reading, error) {
	rows, err := s.db.Query(
		`SELECT id, net, rtype, value, unit, note, raw, message_id, created_at
		 FROM readings WHERE case_id = ? ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		var r Reading
		var ts string
		if err := rows.Scan(&r.ID, &r.Net, &r.Type, &r.Value, &r.Unit, &r.Note, &r.Raw, &r.MessageID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Version returns the current plan version, zero when no plan exists.
func (s *Store) Version(caseID string) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(version) FROM plans WHERE case_id = ?`, caseID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read plan version: %w", err)
	}
	return int(v.Int64), nil
}

// Latest returns the newest plan row for a case.
func (s *Store) Latest(caseID string) (Row, error) {
	var row Row
	var ts string
	err := s.db.QueryRow(
		`SELECT case_id, version, body, created_at FROM plans
		 WHERE case_id = ? ORDER BY version DESC LIMIT 1`, caseID,
	).Scan(&row.CaseID, &row.Version, &row.Body, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNoPlan
	}
	if err != nil {
		return Row{}, fmt.Errorf("failed to read latest plan: %w", err)
	}
	row.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	return row, nil
}

// Requested returns the case's requested measurements in plan order.
func (s *Store) Requested(caseID string) ([]Item, error) {
	rows, err := s.db.Query(
		`SELECT key, net, mtype, prompt, hint, status FROM requested_measurements
		 WHERE case_id = ? ORDER BY ord`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requested measurements: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Key, &it.Net, &it.Type, &it.Prompt, &it.Hint, &it.Status); err != nil {
			return nil, fmt.Errorf("failed to scan requested measurement: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkDoneWhereMeasured flips every pending item whose net has at least one
// accepted reading to done, returning how many changed.
func (s *Store) MarkDoneWhereMeasured(caseID string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE requested_measurements SET status = ?
		 WHERE case_id = ? AND status = ?
		   AND net IN (SELECT DISTINCT net FROM readings WHERE case_id = ?)`,
		StatusDone, caseID, StatusPending, caseID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark measured items done: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
