package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put implements Registry. It replaces whatever is stored for name.
//
// The value is serialized to canonical JSON per RFC 8785 and the entry's
// content hash is stored alongside it.
func (s *Store) Put(ctx context.Context, name string, e ir.Entry) error {
	if err := putEntry(ctx, s.db, name, e); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func putEntry(ctx context.Context, x execer, name string, e ir.Entry) error {
	valueJSON, err := marshalValue(e.Value)
	if err != nil {
		return err
	}
	hash, err := ir.EntryHash(e)
	if err != nil {
		return err
	}

	_, err = x.ExecContext(ctx, `
		INSERT INTO registry (name, seq, author, tombstone, value, hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			seq = excluded.seq,
			author = excluded.author,
			tombstone = excluded.tombstone,
			value = excluded.value,
			hash = excluded.hash
	`,
		name,
		e.Seq,
		string(e.Author),
		boolToInt(e.Tombstone),
		valueJSON,
		hash,
	)
	return err
}

// Delete implements Registry. Deleting an absent name is a no-op.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM registry WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Apply implements Conditional. The read, the policy decision and the
// write share one transaction, and the single connection serializes
// transactions, so concurrent entries for one name cannot interleave.
func (s *Store) Apply(ctx context.Context, e ir.Entry, prune bool) (d policy.Decision, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: begin: %w", e.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cur, ok, err := getEntry(ctx, tx, e.Name)
	if err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: %w", e.Name, err)
	}
	var current *ir.Entry
	if ok {
		current = &cur
	}

	d = decide(e, current, prune)
	switch {
	case d == policy.DecisionRemove && prune:
		_, err = tx.ExecContext(ctx, `DELETE FROM registry WHERE name = ?`, e.Name)
	case d.Mutates():
		err = putEntry(ctx, tx, e.Name, e)
	}
	if err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: %w", e.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: commit: %w", e.Name, err)
	}
	return d, nil
}

var (
	_ Registry    = (*Store)(nil)
	_ Conditional = (*Store)(nil)
	_ Lister      = (*Store)(nil)
)
