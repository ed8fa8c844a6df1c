package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netrunner/regfeed/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get implements Registry.
func (s *Store) Get(ctx context.Context, name string) (ir.Entry, bool, error) {
	return getEntry(ctx, s.db, name)
}

func getEntry(ctx context.Context, q querier, name string) (ir.Entry, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT name, seq, author, tombstone, value
		FROM registry
		WHERE name = ?
	`, name)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Entry{}, false, nil
	}
	if err != nil {
		return ir.Entry{}, false, fmt.Errorf("get %s: %w", name, err)
	}
	return e, true, nil
}

// List implements Lister. Results are ordered by name using byte-wise
// collation.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]ir.Entry, error) {
	query := `
		SELECT name, seq, author, tombstone, value
		FROM registry
		WHERE 1 = 1`
	var args []any

	if opts.Prefix != "" {
		// Byte-wise prefix match. LIKE is case-insensitive and treats % and _
		// as wildcards.
		query += ` AND substr(CAST(name AS BLOB), 1, ?) = CAST(? AS BLOB)`
		args = append(args, len(opts.Prefix), opts.Prefix)
	}
	if !opts.IncludeTombstones {
		query += ` AND tombstone = 0`
	}
	query += ` ORDER BY name COLLATE BINARY ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	entries := []ir.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry: %w", err)
	}

	return entries, nil
}

// Count returns the number of stored rows, tombstones included.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count registry: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ir.Entry, error) {
	var (
		e         ir.Entry
		author    string
		tombstone int
		value     string
	)
	if err := row.Scan(&e.Name, &e.Seq, &author, &tombstone, &value); err != nil {
		return ir.Entry{}, err
	}
	v, err := unmarshalValue(value)
	if err != nil {
		return ir.Entry{}, fmt.Errorf("scan %s: %w", e.Name, err)
	}
	e.Author = ir.FeedID(author)
	e.Tombstone = tombstone == 1
	e.Value = v
	return e, nil
}
