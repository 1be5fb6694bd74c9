package poller

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCursorRegression is returned when a cursor would move backwards
	ErrCursorRegression = errors.New("poller: cursor cannot move backwards")
	// ErrInvalidCursor is returned for a zero cursor value
	ErrInvalidCursor = errors.New("poller: invalid cursor value")
	// ErrEmptyState is returned when restoring from an empty snapshot list
	ErrEmptyState = errors.New("poller: empty checkpoint state")
)

// Cursor is the boundary up to which the source has been fully consumed.
// It is not safe for concurrent use; the engine guards it with its
// checkpoint lock.
type Cursor struct {
	last time.Time
}

// NewCursor creates a cursor positioned at start
func NewCursor(start time.Time) Cursor {
	return Cursor{last: start}
}

// Time returns the cursor position
func (c *Cursor) Time() time.Time {
	return c.last
}

// Advance moves the cursor forward to t
func (c *Cursor) Advance(t time.Time) error {
	if t.Before(c.last) {
		return fmt.Errorf("%w: %s -> %s", ErrCursorRegression, c.last.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano))
	}
	c.last = t
	return nil
}

// Reset positions the cursor at a restored value
func (c *Cursor) Reset(t time.Time) error {
	if t.IsZero() {
		return ErrInvalidCursor
	}
	c.last = t
	return nil
}
