package poller

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when Run is called a second time
	ErrAlreadyRunning = errors.New("poller: engine already running")
	// ErrRestoreAfterStart is returned when Restore is called once polling began
	ErrRestoreAfterStart = errors.New("poller: restore after start")
)

// FetchError is a transient failure to fetch a window. The engine retries
// it on the next pass and never returns it from Run.
type FetchError struct {
	Window Window
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Window, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TranslateError reports a raw event that could not be translated
type TranslateError struct {
	Window Window
	Index  int
	Err    error
}

func (e *TranslateError) Error() string {
	return fmt.Sprintf("translate event %d of %s: %v", e.Index, e.Window, e.Err)
}

func (e *TranslateError) Unwrap() error {
	return e.Err
}

// SinkError reports a downstream failure inside the atomic section
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is retried by the engine
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
