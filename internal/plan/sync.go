package plan

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ListSource names where the requested-measurement list came from on the
// last apply.
type ListSource string

const (
	SourceJSON      ListSource = "json"
	SourceLegacy    ListSource = "legacy"
	SourcePreserved ListSource = "preserved"
)

// ApplyResult reports one accepted plan application.
type ApplyResult struct {
	Version int
	Items   []Item
	Source  ListSource
	// ParseErr records why extraction fell back or preserved; the plan
	// version was still accepted.
	ParseErr error
}

// Apply records an accepted plan body and synchronizes the requested
// measurement list in one transaction. The version always advances by
// exactly one, content changes or not. Extraction order: sentinel JSON
// block, then legacy KEY:/PROMPT: lines, and on double failure the prior
// list is preserved unchanged rather than cleared.
func (s *Store) Apply(caseID, body string, knownNets map[string]bool) (ApplyResult, error) {
	var res ApplyResult

	items, source, parseErr := extractItems(body, knownNets)
	res.Source = source
	res.ParseErr = parseErr

	tx, err := s.db.Begin()
	if err != nil {
		return res, fmt.Errorf("failed to begin plan transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := versionTx(tx, caseID)
	if err != nil {
		return res, err
	}
	res.Version = cur + 1
	if _, err := tx.Exec(
		`INSERT INTO plans (case_id, version, body, created_at) VALUES (?, ?, ?, ?)`,
		caseID, res.Version, body, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return res, fmt.Errorf("failed to insert plan version: %w", err)
	}

	if source != SourcePreserved {
		// Carry completion across recomputations: a key that was already
		// done stays done when the new plan requests it again.
		done := map[string]bool{}
		rows, err := tx.Query(
			`SELECT key FROM requested_measurements WHERE case_id = ? AND status = ?`,
			caseID, StatusDone)
		if err != nil {
			return res, fmt.Errorf("failed to read completed items: %w", err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return res, fmt.Errorf("failed to scan completed key: %w", err)
			}
			done[key] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return res, fmt.Errorf("failed to read completed items: %w", err)
		}

		if _, err := tx.Exec(
			`DELETE FROM requested_measurements WHERE case_id = ?`, caseID); err != nil {
			return res, fmt.Errorf("failed to clear requested measurements: %w", err)
		}
		for i := range items {
			if done[items[i].Key] {
				items[i].Status = StatusDone
			}
			if _, err := tx.Exec(
				`INSERT INTO requested_measurements (case_id, key, net, mtype, prompt, hint, status, ord)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(case_id, key) DO NOTHING`,
				caseID, items[i].Key, items[i].Net, items[i].Type,
				items[i].Prompt, items[i].Hint, items[i].Status, i,
			); err != nil {
				return res, fmt.Errorf("failed to insert requested measurement %s: %w", items[i].Key, err)
			}
		}
		res.Items = items
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit plan: %w", err)
	}

	if source == SourcePreserved {
		s.log.Warn("requested-measurements extraction failed, prior list preserved",
			zap.String("case_id", caseID),
			zap.Int("version", res.Version),
			zap.Error(parseErr))
		res.Items, err = s.Requested(caseID)
		if err != nil {
			return res, err
		}
	} else {
		s.log.Info("plan applied",
			zap.String("case_id", caseID),
			zap.Int("version", res.Version),
			zap.String("source", string(source)),
			zap.Int("items", len(res.Items)))
	}
	return res, nil
}

// extractItems runs the JSON-then-legacy-then-preserve chain.
func extractItems(body string, knownNets map[string]bool) ([]Item, ListSource, error) {
	block, err := ExtractJSONBlock(body)
	if err == nil {
		items, jerr := ParseRequestedJSON(block, knownNets)
		if jerr == nil {
			return items, SourceJSON, nil
		}
		err = jerr
	}
	items, lerr := ParseRequestedLegacy(body, knownNets)
	if lerr == nil {
		return items, SourceLegacy, err
	}
	return nil, SourcePreserved, errors.Join(err, lerr)
}

func versionTx(tx *sql.Tx, caseID string) (int, error) {
	var v sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(version) FROM plans WHERE case_id = ?`, caseID).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read plan version: %w", err)
	}
	return int(v.Int64), nil
}
