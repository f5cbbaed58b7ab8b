package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const maxStoredBody = 4 << 10

// RecordCorruption upserts a ledger entry. A previously resolved entry is
// reopened.
func (s *Store) RecordCorruption(ctx context.Context, objType, id, body string) error {
	if len(body) > maxStoredBody {
		body = body[:maxStoredBody]
	}
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corruptions (object_type, record_id, first_seen, last_seen, occurrences, last_body)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(object_type, record_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			occurrences = corruptions.occurrences + 1,
			last_body = excluded.last_body,
			resolved_at = NULL`,
		objType, id, now, now, body,
	)
	return err
}

// ResolveCorruption marks an open entry resolved. It returns ErrNotFound
// when there is no open entry.
func (s *Store) ResolveCorruption(ctx context.Context, objType, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE corruptions SET resolved_at = ? WHERE object_type = ? AND record_id = ? AND resolved_at IS NULL`,
		s.timestamp(), objType, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetCorruption(ctx context.Context, objType, id string) (Corruption, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_type, record_id, first_seen, last_seen, occurrences, last_body, resolved_at
		FROM corruptions WHERE object_type = ? AND record_id = ?`, objType, id)
	c, err := scanCorruption(row)
	if err == sql.ErrNoRows {
		return Corruption{}, ErrNotFound
	}
	return c, err
}

// ListCorruptions returns entries by most recent sighting. Resolved entries
// are included only when includeResolved is set.
func (s *Store) ListCorruptions(ctx context.Context, includeResolved bool, limit int) ([]Corruption, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT object_type, record_id, first_seen, last_seen, occurrences, last_body, resolved_at FROM corruptions`
	if !includeResolved {
		q += ` WHERE resolved_at IS NULL`
	}
	q += ` ORDER BY last_seen DESC, record_id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Corruption{}
	for rows.Next() {
		c, err := scanCorruption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountOpenCorruptions returns the number of unresolved entries.
func (s *Store) CountOpenCorruptions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corruptions WHERE resolved_at IS NULL`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCorruption(row scanner) (Corruption, error) {
	var c Corruption
	var firstSeen, lastSeen string
	var resolvedAt sql.NullString
	if err := row.Scan(&c.ObjectType, &c.RecordID, &firstSeen, &lastSeen, &c.Occurrences, &c.LastBody, &resolvedAt); err != nil {
		return Corruption{}, err
	}
	var err error
	if c.FirstSeen, err = parseTimestamp("first_seen", firstSeen); err != nil {
		return Corruption{}, err
	}
	if c.LastSeen, err = parseTimestamp("last_seen", lastSeen); err != nil {
		return Corruption{}, err
	}
	if resolvedAt.Valid {
		t, err := parseTimestamp("resolved_at", resolvedAt.String)
		if err != nil {
			return Corruption{}, fmt.Errorf("corruption %s/%s: %w", c.ObjectType, c.RecordID, err)
		}
		c.ResolvedAt = &t
	}
	return c, nil
}
