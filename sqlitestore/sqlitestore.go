// Package sqlitestore is an event store backed by SQLite. Scalar filter
// constraints are compiled into the query; tag constraints are re-checked
// on the decoded events.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fluxnode/nostrkit"
)

const schema = `
CREATE TABLE IF NOT EXISTS event (
	id         TEXT    PRIMARY KEY,
	pubkey     TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	tags       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	sig        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_created_at ON event (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_pubkey ON event (pubkey);
CREATE INDEX IF NOT EXISTS idx_event_kind ON event (kind);
`

type Store struct {
	db *sqlx.DB
}

var _ nostrkit.Store = (*Store)(nil)

type eventRow struct {
	ID        string `db:"id"`
	PubKey    string `db:"pubkey"`
	CreatedAt int64  `db:"created_at"`
	Kind      int    `db:"kind"`
	Tags      string `db:"tags"`
	Content   string `db:"content"`
	Sig       string `db:"sig"`
}

// Open opens (or creates) a store at the given database path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at '%s': %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveEvent(ctx context.Context, evt *nostrkit.Event) error {
	if evt.ID == "" {
		return fmt.Errorf("refusing to save event without id: %w", nostrkit.ErrInvalidEvent)
	}

	tags, err := json.Marshal(evt.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO event (id, pubkey, created_at, kind, tags, content, sig)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.PubKey, int64(evt.CreatedAt), evt.Kind, string(tags), evt.Content, evt.Sig)
	return err
}

func (s *Store) QueryEvents(ctx context.Context, filter nostrkit.Filter) ([]*nostrkit.Event, error) {
	query, args := buildQuery(filter)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	events := make([]*nostrkit.Event, 0, len(rows))
	for _, row := range rows {
		var tags nostrkit.Tags
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return nil, fmt.Errorf("corrupted tags on stored event %s: %w", row.ID, err)
		}

		evt := &nostrkit.Event{
			ID:        row.ID,
			PubKey:    row.PubKey,
			CreatedAt: nostrkit.Timestamp(row.CreatedAt),
			Kind:      row.Kind,
			Tags:      tags,
			Content:   row.Content,
			Sig:       row.Sig,
		}

		// tag constraints can't be pushed into SQL, re-check here
		if !filter.Matches(evt) {
			continue
		}

		events = append(events, evt)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}

	return events, nil
}

func buildQuery(filter nostrkit.Filter) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)

	if len(filter.IDs) > 0 {
		conditions = append(conditions, `id IN (?)`)
		args = append(args, filter.IDs)
	}
	if len(filter.Authors) > 0 {
		conditions = append(conditions, `pubkey IN (?)`)
		args = append(args, filter.Authors)
	}
	if len(filter.Kinds) > 0 {
		conditions = append(conditions, `kind IN (?)`)
		args = append(args, filter.Kinds)
	}
	if filter.Since != nil {
		conditions = append(conditions, `created_at >= ?`)
		args = append(args, int64(*filter.Since))
	}
	if filter.Until != nil {
		conditions = append(conditions, `created_at <= ?`)
		args = append(args, int64(*filter.Until))
	}

	query := `SELECT id, pubkey, created_at, kind, tags, content, sig FROM event`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, ` AND `)
	}
	query += ` ORDER BY created_at DESC`

	// the limit can only be pushed down when no tag re-check will drop rows
	if filter.Limit > 0 && len(filter.Tags) == 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return query, args
}
