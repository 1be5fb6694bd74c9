// Package checkpoint persists source cursors so polling resumes where it
// stopped after a restart.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CurrentVersion is the snapshot format written by Encode
const CurrentVersion uint8 = 1

// ErrCorruptSnapshot is returned when persisted bytes cannot be decoded
var ErrCorruptSnapshot = errors.New("checkpoint: corrupt snapshot")

// Snapshot is one completed checkpoint of a single source
type Snapshot struct {
	// ID increases with every checkpoint taken by a coordinator
	ID       int64
	Version  uint8
	SourceID string
	Cursor   time.Time
	TakenAt  time.Time
}

// State returns the snapshot in the form accepted by Checkpointed.Restore
func (s Snapshot) State() []time.Time {
	return []time.Time{s.Cursor}
}

// Encode serializes the cursor of s. The layout is one version byte
// followed by a protobuf Timestamp.
func Encode(s Snapshot) ([]byte, error) {
	if s.Cursor.IsZero() {
		return nil, errors.New("checkpoint: cannot encode zero cursor")
	}
	payload, err := proto.Marshal(timestamppb.New(s.Cursor))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal cursor: %w", err)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, CurrentVersion)
	return append(out, payload...), nil
}

// Decode parses bytes written by Encode. A version byte with an empty
// payload is the Unix epoch, which protobuf encodes as zero bytes.
func Decode(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %d bytes", ErrCorruptSnapshot, len(data))
	}
	if data[0] != CurrentVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, data[0])
	}

	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(data[1:], &ts); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if err := ts.CheckValid(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	return Snapshot{
		Version: data[0],
		Cursor:  ts.AsTime(),
	}, nil
}
