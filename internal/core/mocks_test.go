package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
	"github.com/sliink/commitstream/internal/poller"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// scriptedWindow is one window emitted by mockInputPlugin
type scriptedWindow struct {
	records   []model.Record
	watermark time.Time
}

// mockInputPlugin emits scripted windows and then blocks until cancelled
type mockInputPlugin struct {
	plugin.BasePlugin
	windows []scriptedWindow
	runErr  error
	valid   bool

	mu        sync.Mutex
	cursor    time.Time
	restored  []time.Time
	sinkErr   error
	delivered chan struct{}
}

func newMockInput(id string, windows ...scriptedWindow) *mockInputPlugin {
	return &mockInputPlugin{
		BasePlugin: plugin.NewBasePlugin(id, "Mock Input", model.InputPluginType),
		windows:    windows,
		valid:      true,
		cursor:     t0,
		delivered:  make(chan struct{}),
	}
}

func (m *mockInputPlugin) Initialize() bool {
	m.SetStatus(model.StatusInitialized)
	return true
}

func (m *mockInputPlugin) Start() bool {
	m.SetStatus(model.StatusRunning)
	return true
}

func (m *mockInputPlugin) Stop() bool {
	m.SetStatus(model.StatusStopped)
	return true
}

func (m *mockInputPlugin) Validate() bool {
	return m.valid
}

func (m *mockInputPlugin) Run(ctx context.Context, sink model.Sink) error {
	for _, w := range m.windows {
		for _, r := range w.records {
			if err := sink.Emit(r, r.TimestampMillis()); err != nil {
				m.setSinkErr(err)
				return err
			}
		}
		if err := sink.AdvanceWatermark(w.watermark.UnixMilli()); err != nil {
			m.setSinkErr(err)
			return err
		}
		m.mu.Lock()
		m.cursor = w.watermark
		m.mu.Unlock()
	}
	close(m.delivered)
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return nil
}

func (m *mockInputPlugin) setSinkErr(err error) {
	m.mu.Lock()
	m.sinkErr = err
	m.mu.Unlock()
}

func (m *mockInputPlugin) Snapshot() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []time.Time{m.cursor}
}

func (m *mockInputPlugin) Restore(state []time.Time) error {
	if len(state) == 0 {
		return errors.New("empty state")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restored = state
	m.cursor = state[0]
	return nil
}

func (m *mockInputPlugin) Cursor() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

func (m *mockInputPlugin) State() string {
	return "IDLE"
}

func (m *mockInputPlugin) Dropped() int64 {
	return 0
}

// engineInput runs a real poll engine over a fixed list of records
type engineInput struct {
	plugin.BasePlugin
	engine *poller.Engine[model.Record]
	sink   *switchSink
}

// switchSink forwards to the sink handed to Run
type switchSink struct {
	mu     sync.Mutex
	target model.Sink
}

func (s *switchSink) set(target model.Sink) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

func (s *switchSink) get() model.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *switchSink) Emit(record model.Record, ts int64) error {
	return s.get().Emit(record, ts)
}

func (s *switchSink) AdvanceWatermark(ts int64) error {
	return s.get().AdvanceWatermark(ts)
}

// recordFetcher answers every window with the records that fall inside it
type recordFetcher []model.Record

func (f recordFetcher) ListEvents(ctx context.Context, since, until time.Time) ([]model.Record, error) {
	var out []model.Record
	for _, r := range f {
		if !r.Timestamp.Before(since) && r.Timestamp.Before(until) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newEngineInput(t require.TestingT, id string, now time.Time, records ...model.Record) *engineInput {
	sink := &switchSink{}
	identity := poller.TranslatorFunc[model.Record](func(r model.Record) (model.Record, error) { return r, nil })
	engine, err := poller.New[model.Record](recordFetcher(records), identity, sink,
		poller.Config{StartTime: t0, PollInterval: time.Millisecond, MaxWindow: time.Hour},
		poller.WithSourceID(id),
		poller.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return &engineInput{
		BasePlugin: plugin.NewBasePlugin(id, "Engine Input", model.InputPluginType),
		engine:     engine,
		sink:       sink,
	}
}

func (e *engineInput) Initialize() bool {
	e.SetStatus(model.StatusInitialized)
	return true
}

func (e *engineInput) Start() bool {
	e.SetStatus(model.StatusRunning)
	return true
}

func (e *engineInput) Stop() bool {
	e.SetStatus(model.StatusStopped)
	return true
}

func (e *engineInput) Validate() bool { return true }

func (e *engineInput) Run(ctx context.Context, sink model.Sink) error {
	e.sink.set(sink)
	return e.engine.Run(ctx)
}

func (e *engineInput) Snapshot() []time.Time { return e.engine.Snapshot() }
func (e *engineInput) Restore(state []time.Time) error { return e.engine.Restore(state) }
func (e *engineInput) Cursor() time.Time { return e.engine.Cursor() }
func (e *engineInput) State() string { return string(e.engine.State()) }
func (e *engineInput) Dropped() int64 { return e.engine.Dropped() }

// mockProcessorPlugin applies fn to every batch
type mockProcessorPlugin struct {
	plugin.BasePlugin
	fn func(*model.DataBatch) (*model.DataBatch, error)
}

func newMockProcessor(id string, fn func(*model.DataBatch) (*model.DataBatch, error)) *mockProcessorPlugin {
	return &mockProcessorPlugin{
		BasePlugin: plugin.NewBasePlugin(id, "Mock Processor", model.ProcessorPluginType),
		fn:         fn,
	}
}

func (m *mockProcessorPlugin) Initialize() bool {
	m.SetStatus(model.StatusInitialized)
	return true
}

func (m *mockProcessorPlugin) Start() bool {
	m.SetStatus(model.StatusRunning)
	return true
}

func (m *mockProcessorPlugin) Stop() bool {
	m.SetStatus(model.StatusStopped)
	return true
}

func (m *mockProcessorPlugin) Process(batch *model.DataBatch) (*model.DataBatch, error) {
	return m.fn(batch)
}

// dropAuthor returns a processor function removing records by author
func dropAuthor(author string) func(*model.DataBatch) (*model.DataBatch, error) {
	return func(batch *model.DataBatch) (*model.DataBatch, error) {
		var kept []model.Record
		for _, r := range batch.Records {
			if r.Author != author {
				kept = append(kept, r)
			}
		}
		return batch.WithRecords(kept), nil
	}
}

// mockOutputPlugin records every batch it receives
type mockOutputPlugin struct {
	plugin.BasePlugin
	sendErr error

	mu      sync.Mutex
	batches []*model.DataBatch
}

func newMockOutput(id string) *mockOutputPlugin {
	return &mockOutputPlugin{
		BasePlugin: plugin.NewBasePlugin(id, "Mock Output", model.OutputPluginType),
	}
}

func (m *mockOutputPlugin) Initialize() bool {
	m.SetStatus(model.StatusInitialized)
	return true
}

func (m *mockOutputPlugin) Start() bool {
	m.SetStatus(model.StatusRunning)
	return true
}

func (m *mockOutputPlugin) Stop() bool {
	m.SetStatus(model.StatusStopped)
	return true
}

func (m *mockOutputPlugin) Send(batch *model.DataBatch) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockOutputPlugin) Batches() []*model.DataBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.DataBatch(nil), m.batches...)
}

func record(id, author string, at time.Time) model.Record {
	return model.Record{ID: id, Author: author, Timestamp: at}
}
