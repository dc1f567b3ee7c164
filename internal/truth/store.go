// Package truth persists per-board knowledge derived at ingest time: the
// netlist, the component index, and the net-to-refdes probe index. Each
// board row records its truth source so downstream answers can be labeled
// schematic-confirmed or approximate. Rebuilds are transactional; a failed
// rebuild leaves the previous cache untouched.
package truth

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"boardbrain/internal/boardview"
	"boardbrain/internal/kbtext"
	"boardbrain/internal/netname"
)

// Source labels where a board's truth came from.
type Source string

const (
	SourceBoardview  Source = "boardview"
	SourceKBFallback Source = "kb_fallback"
	SourceNone       Source = "none"
)

// ErrNotFound is returned when a board or net has no row.
var ErrNotFound = errors.New("truth: not found")

// Net is a stored net with its truth kind.
type Net struct {
	Name string
	Kind string
}

// Candidate is one stored net-to-refdes association. Order preserves
// boardview discovery order; Score carries the KB co-occurrence weight.
type Candidate struct {
	Refdes string
	Pin    string
	Source Source
	Score  int
	Order  int
}

// Store wraps the sqlite database holding all per-board caches.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open creates or opens the truth database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create truth db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open truth db: %w", err)
	}
	// Single connection avoids SQLITE_BUSY between the rebuild
	// transaction and concurrent readers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
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
	CREATE TABLE IF NOT EXISTS boards (
		board_id     TEXT PRIMARY KEY,
		truth_source TEXT NOT NULL,
		format       TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS nets (
		board_id TEXT NOT NULL,
		name     TEXT NOT NULL,
		kind     TEXT NOT NULL,
		PRIMARY KEY (board_id, name)
	);
	CREATE TABLE IF NOT EXISTS components (
		board_id TEXT NOT NULL,
		refdes   TEXT NOT NULL,
		kind     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (board_id, refdes)
	);
	CREATE TABLE IF NOT EXISTS net_refs (
		board_id TEXT NOT NULL,
		net      TEXT NOT NULL,
		refdes   TEXT NOT NULL,
		pin      TEXT NOT NULL DEFAULT '',
		source   TEXT NOT NULL,
		score    INTEGER NOT NULL DEFAULT 0,
		ord      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_net_refs_lookup ON net_refs(board_id, net, ord);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create truth schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CommitBoardview replaces a board's cache with a parsed boardview in one
// transaction. On any failure the previous cache is retained unchanged.
func (s *Store) CommitBoardview(boardID string, b *boardview.Board) error {
	return s.rebuild(boardID, SourceBoardview, string(b.Format), func(tx *sql.Tx) error {
		for name, net := range b.Nets {
			if _, err := tx.Exec(
				`INSERT INTO nets (board_id, name, kind) VALUES (?, ?, ?)`,
				boardID, name, string(net.Kind),
			); err != nil {
				return fmt.Errorf("failed to insert net %s: %w", name, err)
			}
			for _, ref := range net.Refs {
				if _, err := tx.Exec(
					`INSERT INTO net_refs (board_id, net, refdes, pin, source, score, ord)
					 VALUES (?, ?, ?, ?, ?, 0, ?)`,
					boardID, name, ref.Refdes, ref.Pin, string(SourceBoardview), ref.Order,
				); err != nil {
					return fmt.Errorf("failed to insert net ref %s/%s: %w", name, ref.Refdes, err)
				}
			}
		}
		for refdes, comp := range b.Components {
			if _, err := tx.Exec(
				`INSERT INTO components (board_id, refdes, kind) VALUES (?, ?, ?)`,
				boardID, refdes, comp.Kind,
			); err != nil {
				return fmt.Errorf("failed to insert component %s: %w", refdes, err)
			}
		}
		return nil
	})
}

// CommitKBFallback replaces a board's cache with text-mined knowledge.
func (s *Store) CommitKBFallback(boardID string, nets map[string]int, components []string, refs map[string][]kbtext.RefScore) error {
	return s.rebuild(boardID, SourceKBFallback, "", func(tx *sql.Tx) error {
		for name := range nets {
			kind := string(boardview.KindSignal)
			if netname.IsPowerRail(name) {
				kind = string(boardview.KindPowerRail)
			}
			if _, err := tx.Exec(
				`INSERT INTO nets (board_id, name, kind) VALUES (?, ?, ?)`,
				boardID, name, kind,
			); err != nil {
				return fmt.Errorf("failed to insert net %s: %w", name, err)
			}
		}
		for _, refdes := range components {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO components (board_id, refdes, kind) VALUES (?, ?, ?)`,
				boardID, refdes, netname.RefdesClass(refdes),
			); err != nil {
				return fmt.Errorf("failed to insert component %s: %w", refdes, err)
			}
		}
		for net, scored := range refs {
			for i, rs := range scored {
				if _, err := tx.Exec(
					`INSERT INTO net_refs (board_id, net, refdes, pin, source, score, ord)
					 VALUES (?, ?, ?, '', ?, ?, ?)`,
					boardID, net, rs.Refdes, string(SourceKBFallback), rs.Score, i,
				); err != nil {
					return fmt.Errorf("failed to insert net ref %s/%s: %w", net, rs.Refdes, err)
				}
			}
		}
		return nil
	})
}

// CommitNone records that a board has no usable truth source.
func (s *Store) CommitNone(boardID string) error {
	return s.rebuild(boardID, SourceNone, "", func(tx *sql.Tx) error { return nil })
}

// rebuild runs the delete-and-insert of one board's rows inside a single
// transaction and stamps the board row on success.
func (s *Store) rebuild(boardID string, source Source, format string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"nets", "components", "net_refs"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE board_id = ?", table), boardID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := fill(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO boards (board_id, truth_source, format, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(board_id) DO UPDATE SET truth_source=excluded.truth_source,
		 format=excluded.format, updated_at=excluded.updated_at`,
		boardID, string(source), format, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to stamp board row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	s.log.Info("truth cache rebuilt",
		zap.String("board_id", boardID),
		zap.String("source", string(source)))
	return nil
}

// Source reports a board's truth source; a board never ingested is
// SourceNone.
func (s *Store) Source(boardID string) (Source, error) {
	var src string
	err := s.db.QueryRow(`SELECT truth_source FROM boards WHERE board_id = ?`, boardID).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceNone, nil
	}
	if err != nil {
		return SourceNone, fmt.Errorf("failed to read board source: %w", err)
	}
	return Source(src), nil
}

// Lookup returns a stored net by canonical name.
func (s *Store) Lookup(boardID, net string) (Net, error) {
	canon := netname.Canonical(net)
	var out Net
	err := s.db.QueryRow(
		`SELECT name, kind FROM nets WHERE board_id = ? AND name = ?`,
		boardID, canon,
	).Scan(&out.Name, &out.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Net{}, ErrNotFound
	}
	if err != nil {
		return Net{}, fmt.Errorf("failed to look up net %s: %w", canon, err)
	}
	return out, nil
}

// NetNames returns every stored net name for a board, sorted.
func (s *Store) NetNames(boardID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM nets WHERE board_id = ? ORDER BY name`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan net name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RefdesCandidates returns a net's stored associations in persisted order:
// discovery order for boardview rows, score-descending order for KB rows.
func (s *Store) RefdesCandidates(boardID, net string) ([]Candidate, error) {
	canon := netname.Canonical(net)
	rows, err := s.db.Query(
		`SELECT refdes, pin, source, score, ord FROM net_refs
		 WHERE board_id = ? AND net = ? ORDER BY ord`,
		boardID, canon,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates for %s: %w", canon, err)
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		var src string
		if err := rows.Scan(&c.Refdes, &c.Pin, &src, &c.Score, &c.Order); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.Source = Source(src)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Components returns the refdes-to-kind index for a board.
func (s *Store) Components(boardID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT refdes, kind FROM components WHERE board_id = ?`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var refdes, kind string
		if err := rows.Scan(&refdes, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		out[refdes] = kind
	}
	return out, rows.Err()
}
