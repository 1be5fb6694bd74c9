// Package poller turns a paginated, time-ordered remote source into a
// restart-safe stream of records and watermarks.
//
// An Engine repeatedly plans a window starting at its cursor, fetches every
// event in it, translates the events, and then, under its checkpoint lock,
// emits the records, advances the cursor to the window end and publishes a
// watermark at that position. Snapshot takes the same lock, so a checkpoint
// never observes records emitted for a window whose cursor has not moved.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sliink/commitstream/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPollInterval is the sleep between two iterations
	DefaultPollInterval = time.Second
	// DefaultFetchTimeout bounds a single fetch call
	DefaultFetchTimeout = 30 * time.Second
)

// Fetcher lists every raw event with a timestamp in [since, until). It must
// drain all pages before returning.
type Fetcher[E any] interface {
	ListEvents(ctx context.Context, since, until time.Time) ([]E, error)
}

// Translator maps a raw event to a record
type Translator[E any] interface {
	Translate(event E) (model.Record, error)
}

// TranslatorFunc adapts a function to the Translator interface
type TranslatorFunc[E any] func(event E) (model.Record, error)

// Translate calls f(event)
func (f TranslatorFunc[E]) Translate(event E) (model.Record, error) {
	return f(event)
}

// Listener is notified about iteration outcomes. Callbacks run on the
// engine goroutine outside the checkpoint lock.
type Listener interface {
	WindowCommitted(w Window, records int)
	FetchFailed(w Window, err error)
}

// State is a step of the poll loop
type State string

const (
	StateIdle         State = "IDLE"
	StateStarting     State = "STARTING"
	StatePolling      State = "POLLING"
	StateEmitting     State = "EMITTING"
	StateAdvancing    State = "ADVANCING"
	StateWatermarking State = "WATERMARKING"
	StateSleeping     State = "SLEEPING"
	StateCancelled    State = "CANCELLED"
	StateFailed       State = "FAILED"
)

// Config holds the engine settings
type Config struct {
	// StartTime is the initial cursor. Zero means now.
	StartTime time.Time
	// PollInterval is the sleep between iterations
	PollInterval time.Duration
	// MaxWindow bounds the width of a single fetch
	MaxWindow time.Duration
	// FetchTimeout bounds a fetch call. Negative disables the timeout.
	FetchTimeout time.Duration
	// MaxBackoff caps exponential backoff after consecutive fetch
	// failures. Values not above PollInterval disable backoff.
	MaxBackoff time.Duration
	// SkipMalformed drops events that fail translation instead of
	// stopping the engine
	SkipMalformed bool
}

func (c Config) withDefaults(now func() time.Time) Config {
	if c.StartTime.IsZero() {
		c.StartTime = now()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = DefaultMaxWindow
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

type options struct {
	sourceID string
	now      func() time.Time
	logger   *slog.Logger
	listener Listener
	tracer   trace.Tracer
	meter    metric.Meter
}

// Option configures an Engine
type Option func(*options)

// WithSourceID tags logs, spans and metrics with a source identifier
func WithSourceID(id string) Option {
	return func(o *options) { o.sourceID = id }
}

// WithClock replaces the wall clock used for window planning
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithListener registers a listener for iteration outcomes
func WithListener(l Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithTracer sets the tracer used for per-window spans
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMeter sets the meter used for engine counters
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

type instruments struct {
	emitted       metric.Int64Counter
	windows       metric.Int64Counter
	fetchFailures metric.Int64Counter
	dropped       metric.Int64Counter
}

func newInstruments(m metric.Meter) instruments {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			return noop.Int64Counter{}
		}
		return c
	}
	return instruments{
		emitted:       counter("poller.records.emitted", "Records emitted downstream"),
		windows:       counter("poller.windows.committed", "Windows committed with a watermark"),
		fetchFailures: counter("poller.fetch.failures", "Transient fetch failures"),
		dropped:       counter("poller.records.dropped", "Malformed events skipped"),
	}
}

// Engine is the checkpointed, windowed poll loop
type Engine[E any] struct {
	fetcher    Fetcher[E]
	translator Translator[E]
	sink       model.Sink
	cfg        Config

	sourceID string
	now      func() time.Time
	logger   *slog.Logger
	listener Listener
	tracer   trace.Tracer
	inst     instruments
	attrs    metric.MeasurementOption

	// mu is the checkpoint lock. It guards the cursor and spans every
	// sink call.
	mu     sync.Mutex
	cursor Cursor

	state   atomic.Value
	started atomic.Bool
	dropped atomic.Int64
}

// New creates an engine. The cursor starts at cfg.StartTime.
func New[E any](fetcher Fetcher[E], translator Translator[E], sink model.Sink, cfg Config, opts ...Option) (*Engine[E], error) {
	if fetcher == nil {
		return nil, errors.New("poller: nil fetcher")
	}
	if translator == nil {
		return nil, errors.New("poller: nil translator")
	}
	if sink == nil {
		return nil, errors.New("poller: nil sink")
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("commitstream/poller")
	}
	if o.meter == nil {
		o.meter = otel.Meter("commitstream/poller")
	}

	cfg = cfg.withDefaults(o.now)

	e := &Engine[E]{
		fetcher:    fetcher,
		translator: translator,
		sink:       sink,
		cfg:        cfg,
		sourceID:   o.sourceID,
		now:        o.now,
		logger:     o.logger.With("component", "poller", "source", o.sourceID),
		listener:   o.listener,
		tracer:     o.tracer,
		inst:       newInstruments(o.meter),
		attrs:      metric.WithAttributes(attribute.String("source", o.sourceID)),
		cursor:     NewCursor(cfg.StartTime),
	}
	e.state.Store(StateIdle)
	return e, nil
}

// Config returns the effective configuration
func (e *Engine[E]) Config() Config {
	return e.cfg
}

// Cursor returns the current cursor
func (e *Engine[E]) Cursor() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor.Time()
}

// State returns the current loop state
func (e *Engine[E]) State() State {
	return e.state.Load().(State)
}

// Dropped returns how many malformed events were skipped
func (e *Engine[E]) Dropped() int64 {
	return e.dropped.Load()
}

// Snapshot returns the cursor as a singleton list. It never observes a
// window half committed.
func (e *Engine[E]) Snapshot() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []time.Time{e.cursor.Time()}
}

// Restore positions the cursor at the first element of state. It must be
// called before Run.
func (e *Engine[E]) Restore(state []time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started.Load() {
		return ErrRestoreAfterStart
	}
	if len(state) == 0 {
		return ErrEmptyState
	}
	if err := e.cursor.Reset(state[0]); err != nil {
		return err
	}
	e.logger.Info("cursor restored", "cursor", state[0])
	return nil
}

// Run polls until ctx is cancelled, returning nil, or until a fatal error
// occurs, returning it. Transient fetch failures are retried.
func (e *Engine[E]) Run(ctx context.Context) error {
	e.mu.Lock()
	first := e.started.CompareAndSwap(false, true)
	e.mu.Unlock()
	if !first {
		return ErrAlreadyRunning
	}

	e.setState(StateStarting)
	e.logger.Info("poll engine starting",
		"cursor", e.Cursor(),
		"poll_interval", e.cfg.PollInterval,
		"max_window", e.cfg.MaxWindow)

	retry := e.newBackOff()
	for {
		if ctx.Err() != nil {
			return e.cancelled()
		}

		e.setState(StatePolling)
		wait := e.cfg.PollInterval
		err := e.pollOnce(ctx)
		switch {
		case err == nil:
			retry.Reset()
		case ctx.Err() != nil:
			return e.cancelled()
		case IsTransient(err):
			wait = retry.NextBackOff()
			e.logger.Warn("fetch failed, will retry", "error", err, "retry_in", wait)
		default:
			e.setState(StateFailed)
			e.logger.Error("poll engine stopped", "error", err)
			return err
		}

		e.setState(StateSleeping)
		if !sleep(ctx, wait) {
			return e.cancelled()
		}
	}
}

func (e *Engine[E]) pollOnce(ctx context.Context) error {
	w := NextWindow(e.Cursor(), e.cfg.MaxWindow, e.now())

	ctx, span := e.tracer.Start(ctx, "poller.poll_window", trace.WithAttributes(
		attribute.String("source", e.sourceID),
		attribute.String("window.since", w.Since.Format(time.RFC3339)),
		attribute.String("window.until", w.Until.Format(time.RFC3339)),
	))
	defer span.End()

	events, err := e.fetch(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		e.inst.fetchFailures.Add(ctx, 1, e.attrs)
		if e.listener != nil {
			e.listener.FetchFailed(w, err)
		}
		return &FetchError{Window: w, Err: err}
	}

	records, err := e.translate(ctx, w, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "translate failed")
		return err
	}

	// Nothing has been emitted yet, so stopping here leaves no partial window.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := e.commit(w, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return err
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	e.inst.emitted.Add(ctx, int64(len(records)), e.attrs)
	e.inst.windows.Add(ctx, 1, e.attrs)
	e.logger.Debug("window committed", "window", w.String(), "records", len(records))
	if e.listener != nil {
		e.listener.WindowCommitted(w, len(records))
	}
	return nil
}

func (e *Engine[E]) fetch(ctx context.Context, w Window) ([]E, error) {
	if w.Empty() {
		return nil, nil
	}
	if e.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	events, err := e.fetcher.ListEvents(ctx, w.Since, w.Until)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("window fetched", "window", w.String(), "events", len(events), "elapsed", time.Since(start))
	return events, nil
}

func (e *Engine[E]) translate(ctx context.Context, w Window, events []E) ([]model.Record, error) {
	records := make([]model.Record, 0, len(events))
	for i, event := range events {
		record, err := e.translator.Translate(event)
		if err != nil {
			terr := &TranslateError{Window: w, Index: i, Err: err}
			if !e.cfg.SkipMalformed {
				return nil, terr
			}
			e.dropped.Add(1)
			e.inst.dropped.Add(ctx, 1, e.attrs)
			e.logger.Warn("dropping malformed event", "error", terr)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// commit is the atomic section: emit every record, advance the cursor and
// publish the watermark without letting a snapshot in between.
func (e *Engine[E]) commit(w Window, records []model.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setState(StateEmitting)
	for _, record := range records {
		if err := e.sink.Emit(record, record.TimestampMillis()); err != nil {
			return &SinkError{Op: "emit", Err: err}
		}
	}

	// The advanced cursor is staged and only kept once the watermark has
	// been accepted, so a snapshot never covers an undelivered window.
	e.setState(StateAdvancing)
	next := e.cursor
	if err := next.Advance(w.Until); err != nil {
		return err
	}

	e.setState(StateWatermarking)
	if err := e.sink.AdvanceWatermark(w.Until.UnixMilli()); err != nil {
		return &SinkError{Op: "watermark", Err: err}
	}
	e.cursor = next
	return nil
}

func (e *Engine[E]) newBackOff() backoff.BackOff {
	if e.cfg.MaxBackoff <= e.cfg.PollInterval {
		return backoff.NewConstantBackOff(e.cfg.PollInterval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.PollInterval
	b.MaxInterval = e.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (e *Engine[E]) cancelled() error {
	e.setState(StateCancelled)
	e.logger.Info("poll engine cancelled", "cursor", e.Cursor())
	return nil
}

func (e *Engine[E]) setState(s State) {
	e.state.Store(s)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
