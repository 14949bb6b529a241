// Package badgerstore is an event store backed by Badger. Events are kept
// under keys ordered by inverted timestamp so queries iterate newest first.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxnode/nostrkit"
)

var (
	idPrefix      = []byte("i|")
	createdPrefix = []byte("c|")
)

type Store struct {
	db *badger.DB
}

var _ nostrkit.Store = (*Store)(nil)

// Open opens (or creates) a store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at '%s': %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveEvent(ctx context.Context, evt *nostrkit.Event) error {
	if evt.ID == "" {
		return fmt.Errorf("refusing to save event without id: %w", nostrkit.ErrInvalidEvent)
	}

	serialized, err := evt.MarshalJSON()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		idKey := append(append([]byte{}, idPrefix...), evt.ID...)

		// saving an already-stored event is a no-op
		if _, err := txn.Get(idKey); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(idKey, nil); err != nil {
			return err
		}
		return txn.Set(createdKey(evt), serialized)
	})
}

func (s *Store) QueryEvents(ctx context.Context, filter nostrkit.Filter) ([]*nostrkit.Event, error) {
	var events []*nostrkit.Event

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   100,
			Prefix:         createdPrefix,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var evt nostrkit.Event
			err := it.Item().Value(func(val []byte) error {
				return evt.UnmarshalJSON(val)
			})
			if err != nil {
				return err
			}

			if !filter.Matches(&evt) {
				continue
			}

			events = append(events, &evt)
			if filter.Limit > 0 && len(events) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// createdKey orders events newest first: the created_at timestamp is
// bit-inverted so ascending key order is descending time order.
func createdKey(evt *nostrkit.Event) []byte {
	key := make([]byte, 0, len(createdPrefix)+8+len(evt.ID))
	key = append(key, createdPrefix...)
	key = binary.BigEndian.AppendUint64(key, ^uint64(evt.CreatedAt))
	key = append(key, evt.ID...)
	return key
}
