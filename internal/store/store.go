// Package store keeps trip items in a bbolt database, one JSON document
// per item keyed by its UUID.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"calmh.dev/tripd/internal/trip"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var itemsBucket = []byte("items")

var _ trip.Store = (*Store)(nil)

type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path. Only one process can hold
// a writable database open; others wait up to a second and then fail.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(itemsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a write transaction which is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) Update(ctx context.Context, fn func(tx trip.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&tx{bucket: btx.Bucket(itemsBucket)})
	})
}

// Items returns all items, newest first.
func (s *Store) Items(ctx context.Context) ([]trip.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []trip.Item
	err := s.db.View(func(btx *bbolt.Tx) error {
		var err error
		items, err = (&tx{bucket: btx.Bucket(itemsBucket)}).items(func(trip.Item) bool { return true })
		return err
	})
	return items, err
}

// DeleteType removes all items of the given type and returns how many
// there were.
func (s *Store) DeleteType(ctx context.Context, typ trip.Type) (int, error) {
	n := 0
	err := s.Update(ctx, func(ttx trip.Tx) error {
		t := ttx.(*tx)
		items, err := t.ItemsOfType(typ)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := t.bucket.Delete(item.ID[:]); err != nil {
				return err
			}
		}
		n = len(items)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// StartCalculation stores a new calculation record. Trips flushed from
// now on are recorded in its unit.
func (s *Store) StartCalculation(ctx context.Context, unit trip.Unit) (trip.Item, error) {
	item := trip.NewCalculation(uuid.New(), time.Now(), unit)
	err := s.Update(ctx, func(tx trip.Tx) error {
		return tx.Put(item)
	})
	if err != nil {
		return trip.Item{}, err
	}
	return item, nil
}

// StopCalculation removes all calculation records. Until a new one is
// started the tracker keeps accumulating distance without storing it.
func (s *Store) StopCalculation(ctx context.Context) (int, error) {
	return s.DeleteType(ctx, trip.TypeNewCalculation)
}

type tx struct {
	bucket *bbolt.Bucket
}

func (t *tx) ItemsOfType(typ trip.Type) ([]trip.Item, error) {
	return t.items(func(item trip.Item) bool { return item.Type == typ })
}

func (t *tx) Put(item trip.Item) error {
	bs, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s: %w", item.ID, err)
	}
	return t.bucket.Put(item.ID[:], bs)
}

func (t *tx) items(match func(trip.Item) bool) ([]trip.Item, error) {
	var items []trip.Item
	err := t.bucket.ForEach(func(k, v []byte) error {
		var item trip.Item
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("decode item %x: %w", k, err)
		}
		if match(item) {
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b trip.Item) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return items, nil
}
