package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sliink/commitstream/internal/checkpoint"
)

const checkpointPrefix = "checkpoint/"

// CheckpointStore implements checkpoint.Store on a DB
type CheckpointStore struct {
	db *DB
}

var _ checkpoint.Store = (*CheckpointStore)(nil)

// NewCheckpointStore creates a checkpoint store backed by db
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func checkpointKey(key string) []byte {
	return []byte(checkpointPrefix + key)
}

func (s *CheckpointStore) Save(ctx context.Context, key string, value []byte) error {
	if err := s.db.Set(ctx, checkpointKey(key), value); err != nil {
		return fmt.Errorf("pebble save %s: %w", key, err)
	}
	return nil
}

func (s *CheckpointStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := s.db.Get(checkpointKey(key))
	if errors.Is(err, ErrNotFound) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble load %s: %w", key, err)
	}
	return value, nil
}

func (s *CheckpointStore) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete(ctx, checkpointKey(key)); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the source ids that have a stored checkpoint
func (s *CheckpointStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.ScanPrefix([]byte(checkpointPrefix), func(key, _ []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys = append(keys, strings.TrimPrefix(string(key), checkpointPrefix))
		return nil
	})
	return keys, err
}
