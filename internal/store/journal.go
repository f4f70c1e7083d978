package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/stagehand/internal/engine"
)

// AppendBatch persists one command's envelopes in a single
// transaction. (case_id, seq) conflicts are ignored so a retried
// batch lands exactly once. The cases summary row advances with the
// batch.
func (s *Store) AppendBatch(ctx context.Context, envelopes []engine.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, env := range envelopes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (case_id, seq, kind, version, data)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(case_id, seq) DO NOTHING
		`, env.CaseID, env.Seq, env.Kind, env.Version, []byte(env.Data))
		if err != nil {
			return fmt.Errorf("append batch: event %s/%d: %w", env.CaseID, env.Seq, err)
		}
		if err := updateSummary(ctx, tx, env); err != nil {
			return fmt.Errorf("append batch: summary %s: %w", env.CaseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append batch: commit: %w", err)
	}
	return nil
}

// updateSummary folds one envelope into the cases row. Definition and
// modification time come from the events that carry them; last_seq
// never moves backwards.
func updateSummary(ctx context.Context, tx *sql.Tx, env engine.Envelope) error {
	definition := ""
	modifiedAt := ""
	switch env.Kind {
	case "case.started":
		var started struct {
			Definition string `json:"definition"`
		}
		if err := json.Unmarshal(env.Data, &started); err != nil {
			return fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		definition = started.Definition
	case "case.modified":
		var modified struct {
			ModifiedAt string `json:"modifiedAt"`
		}
		if err := json.Unmarshal(env.Data, &modified); err != nil {
			return fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		modifiedAt = modified.ModifiedAt
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO cases (case_id, definition, last_seq, modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			last_seq    = MAX(last_seq, excluded.last_seq),
			definition  = CASE WHEN excluded.definition != '' THEN excluded.definition ELSE definition END,
			modified_at = CASE WHEN excluded.modified_at != '' THEN excluded.modified_at ELSE modified_at END
	`, env.CaseID, definition, env.Seq, modifiedAt)
	return err
}

// Replay returns every envelope of a case in sequence order. An
// unknown case yields an empty slice.
func (s *Store) Replay(ctx context.Context, caseID string) ([]engine.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, seq, kind, version, data
		FROM events
		WHERE case_id = ?
		ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", caseID, err)
	}
	defer rows.Close()

	var envelopes []engine.Envelope
	for rows.Next() {
		var env engine.Envelope
		var data []byte
		if err := rows.Scan(&env.CaseID, &env.Seq, &env.Kind, &env.Version, &data); err != nil {
			return nil, fmt.Errorf("replay %s: scan: %w", caseID, err)
		}
		env.Data = json.RawMessage(data)
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replay %s: %w", caseID, err)
	}
	return envelopes, nil
}

// LastSeq returns the highest stored sequence for a case, zero when
// the case is unknown.
func (s *Store) LastSeq(ctx context.Context, caseID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seq FROM cases WHERE case_id = ?`, caseID,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last seq %s: %w", caseID, err)
	}
	return seq.Int64, nil
}

// CaseSummary is one row of the cases table, enough for listings
// without replaying anything.
type CaseSummary struct {
	CaseID     string
	Definition string
	LastSeq    int64
	ModifiedAt string
}

// Summaries lists every journaled case with its summary row, ordered
// by case id.
func (s *Store) Summaries(ctx context.Context) ([]CaseSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, definition, last_seq, modified_at
		FROM cases
		ORDER BY case_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []CaseSummary
	for rows.Next() {
		var cs CaseSummary
		if err := rows.Scan(&cs.CaseID, &cs.Definition, &cs.LastSeq, &cs.ModifiedAt); err != nil {
			return nil, fmt.Errorf("list summaries: scan: %w", err)
		}
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return summaries, nil
}

// Cases lists every journaled case id, ordered for stable output.
func (s *Store) Cases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT case_id FROM cases ORDER BY case_id`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list cases: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return ids, nil
}
