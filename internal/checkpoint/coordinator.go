package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultInterval is the period between two periodic checkpoints
const DefaultInterval = 10 * time.Second

var (
	// ErrUnknownSource is returned for ids that were never registered
	ErrUnknownSource = errors.New("checkpoint: unknown source")
	// ErrDuplicateSource is returned when an id is registered twice
	ErrDuplicateSource = errors.New("checkpoint: source already registered")
)

// Checkpointed is a source whose progress can be captured and restored
type Checkpointed interface {
	Snapshot() []time.Time
	Restore(state []time.Time) error
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithInterval sets the period used by Run
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock replaces the clock stamped on snapshots
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithObserver registers a callback invoked after each completed checkpoint
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// Coordinator takes and restores checkpoints for a set of sources
type Coordinator struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	observer func(Snapshot)

	mu      sync.RWMutex
	sources map[string]Checkpointed
	last    map[string]Snapshot

	// ckMu serializes checkpoints so ids follow save order
	ckMu   sync.Mutex
	nextID int64
}

// NewCoordinator creates a coordinator persisting to store
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		interval: DefaultInterval,
		now:      time.Now,
		sources:  make(map[string]Checkpointed),
		last:     make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "checkpoint")
	return c
}

// Interval returns the period used by Run
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Register adds a source under id
func (c *Coordinator) Register(id string, src Checkpointed) error {
	if id == "" || src == nil {
		return errors.New("checkpoint: id and source are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sources[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	c.sources[id] = src
	return nil
}

// Unregister removes a source. Its last snapshot stays available.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, id)
}

// Restore loads the stored snapshot for id and hands it to the source. It
// reports false when nothing was stored.
func (c *Coordinator) Restore(ctx context.Context, id string) (bool, error) {
	src, err := c.source(id)
	if err != nil {
		return false, err
	}

	snap, err := c.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		c.logger.Info("no checkpoint found, starting fresh", "source", id)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := src.Restore(snap.State()); err != nil {
		return false, fmt.Errorf("restore %s: %w", id, err)
	}

	c.mu.Lock()
	c.last[id] = snap
	c.mu.Unlock()
	c.logger.Info("source restored", "source", id, "cursor", snap.Cursor)
	return true, nil
}

// Load reads and decodes the stored snapshot for id without touching any
// registered source
func (c *Coordinator) Load(ctx context.Context, id string) (Snapshot, error) {
	data, err := c.store.Load(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", id, err)
	}
	snap.SourceID = id
	return snap, nil
}

// Reset deletes the stored snapshot for id
func (c *Coordinator) Reset(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset %s: %w", id, err)
	}
	c.mu.Lock()
	delete(c.last, id)
	c.mu.Unlock()
	return nil
}

// Checkpoint captures and persists the current state of one source
func (c *Coordinator) Checkpoint(ctx context.Context, id string) (Snapshot, error) {
	src, err := c.source(id)
	if err != nil {
		return Snapshot{}, err
	}

	c.ckMu.Lock()
	defer c.ckMu.Unlock()

	state := src.Snapshot()
	if len(state) == 0 {
		return Snapshot{}, fmt.Errorf("checkpoint %s: empty state", id)
	}

	snap := Snapshot{
		ID:       c.nextID + 1,
		Version:  CurrentVersion,
		SourceID: id,
		Cursor:   state[0],
		TakenAt:  c.now(),
	}
	data, err := Encode(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	if err := c.store.Save(ctx, id, data); err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint %s: save: %w", id, err)
	}
	c.nextID = snap.ID

	c.mu.Lock()
	c.last[id] = snap
	c.mu.Unlock()

	c.logger.Debug("checkpoint completed", "source", id, "checkpoint_id", snap.ID, "cursor", snap.Cursor)
	if c.observer != nil {
		c.observer(snap)
	}
	return snap, nil
}

// CheckpointAll checkpoints every registered source in id order
func (c *Coordinator) CheckpointAll(ctx context.Context) error {
	var errs []error
	for _, id := range c.IDs() {
		if _, err := c.Checkpoint(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run checkpoints all sources every interval until ctx is done
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckpointAll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("periodic checkpoint failed", "error", err)
			}
		}
	}
}

// Last returns the most recent snapshot taken or restored for id
func (c *Coordinator) Last(id string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.last[id]
	return snap, ok
}

// IDs returns the registered source ids, sorted
func (c *Coordinator) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sources))
	for id := range c.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) source(id string) (Checkpointed, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, nil
}
