package poller

import (
	"fmt"
	"time"
)

// DefaultMaxWindow bounds a single fetch when no width is configured
const DefaultMaxWindow = time.Hour

// Window is the half-open interval [Since, Until) queried in one iteration
type Window struct {
	Since time.Time
	Until time.Time
}

// Empty reports whether the window covers no time at all
func (w Window) Empty() bool {
	return !w.Until.After(w.Since)
}

// Duration returns the width of the window
func (w Window) Duration() time.Duration {
	return w.Until.Sub(w.Since)
}

// Contains reports whether ts lies in [Since, Until)
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Since) && ts.Before(w.Until)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Since.Format(time.RFC3339), w.Until.Format(time.RFC3339))
}

// NextWindow plans the next interval to query. The window starts at the
// cursor, is at most maxWidth wide and never reaches past now. If now lies
// before the cursor the window is empty at the cursor.
func NextWindow(cursor time.Time, maxWidth time.Duration, now time.Time) Window {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWindow
	}

	until := cursor.Add(maxWidth)
	if until.After(now) {
		until = now
	}
	if until.Before(cursor) {
		until = cursor
	}

	return Window{Since: cursor, Until: until}
}
