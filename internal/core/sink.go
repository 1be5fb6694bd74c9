package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sliink/commitstream/internal/model"
)

var (
	// ErrWatermarkRegression is returned when a source moves its watermark back
	ErrWatermarkRegression = errors.New("watermark regression")
	// ErrLateRecord is returned for a record older than the current watermark
	ErrLateRecord = errors.New("record behind watermark")
)

// WindowSink collects the records of one source window and, when the
// watermark advances, runs them through the pipeline and delivers them to
// every output before returning.
type WindowSink struct {
	core     *Core
	sourceID string

	mu        sync.Mutex
	batch     *model.DataBatch
	since     time.Time
	watermark int64
	started   bool
}

func newWindowSink(c *Core, sourceID string, since time.Time) *WindowSink {
	s := &WindowSink{core: c, sourceID: sourceID, since: since}
	if !since.IsZero() {
		s.watermark = since.UnixMilli()
		s.started = true
	}
	s.batch = s.newBatch()
	return s
}

func (s *WindowSink) newBatch() *model.DataBatch {
	batch := model.NewDataBatch(s.sourceID)
	batch.Since = s.since
	return batch
}

// Emit adds a record to the pending window
func (s *WindowSink) Emit(record model.Record, eventTimeMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && eventTimeMillis < s.watermark {
		return fmt.Errorf("%w: %s at %d, watermark %d", ErrLateRecord, record.ID, eventTimeMillis, s.watermark)
	}
	s.batch.AddRecord(record)
	return nil
}

// AdvanceWatermark closes the pending window and delivers it
func (s *WindowSink) AdvanceWatermark(timestampMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && timestampMillis < s.watermark {
		return fmt.Errorf("%w: %d < %d", ErrWatermarkRegression, timestampMillis, s.watermark)
	}

	batch := s.batch
	batch.Watermark = time.UnixMilli(timestampMillis).UTC()
	if err := s.core.deliver(batch); err != nil {
		return err
	}

	s.watermark = timestampMillis
	s.started = true
	s.since = batch.Watermark
	s.batch = s.newBatch()
	return nil
}

// Watermark returns the last delivered watermark
func (s *WindowSink) Watermark() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}, false
	}
	return time.UnixMilli(s.watermark).UTC(), true
}
