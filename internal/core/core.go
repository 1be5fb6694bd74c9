package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sliink/commitstream/internal/checkpoint"
	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
)

// finalCheckpointTimeout bounds the checkpoint written during Stop
const finalCheckpointTimeout = 10 * time.Second

// Option configures a Core
type Option func(*Core)

// WithStore sets the checkpoint store. The default keeps checkpoints in memory.
func WithStore(store checkpoint.Store) Option {
	return func(c *Core) { c.store = store }
}

// WithCheckpointInterval sets the period between periodic checkpoints
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *Core) { c.checkpointInterval = d }
}

// WithConfigManager supplies an already loaded configuration
func WithConfigManager(m *ConfigManager) Option {
	return func(c *Core) { c.configManager = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) { c.logger = l }
}

// Core is the central coordinator of the system
type Core struct {
	eventBus           *EventBus
	registry           *PluginRegistry
	pipeline           *DataPipeline
	configManager      *ConfigManager
	healthMonitor      *HealthMonitor
	coordinator        *checkpoint.Coordinator
	store              checkpoint.Store
	checkpointInterval time.Duration
	logger             *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inputs sync.WaitGroup
	tasks  sync.WaitGroup
	done   chan struct{}

	mu    sync.RWMutex
	sinks map[string]*WindowSink
	errs  map[string]error
	BaseComponent
}

// NewCore creates a new core system
func NewCore(opts ...Option) *Core {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Core{
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		sinks:         make(map[string]*WindowSink),
		errs:          make(map[string]error),
		BaseComponent: NewBaseComponent("core", "Core System"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "core")
	if c.store == nil {
		c.store = checkpoint.NewMemoryStore()
	}
	return c
}

// GetComponent returns a component by ID
func (c *Core) GetComponent(id string) (Component, bool) {
	switch id {
	case "event_bus":
		return c.eventBus, true
	case "plugin_registry":
		return c.registry, true
	case "data_pipeline":
		return c.pipeline, true
	case "config_manager":
		return c.configManager, true
	case "health_monitor":
		return c.healthMonitor, true
	case "core":
		return c, true
	}

	if c.registry != nil {
		if p, exists := c.registry.GetPlugin(id); exists {
			return p, true
		}
	}
	return nil, false
}

// GetDataPipeline returns the data pipeline component
func (c *Core) GetDataPipeline() *DataPipeline {
	return c.pipeline
}

// GetConfigManager returns the configuration manager component
func (c *Core) GetConfigManager() *ConfigManager {
	return c.configManager
}

// GetEventBus returns the event bus
func (c *Core) GetEventBus() *EventBus {
	return c.eventBus
}

// Coordinator returns the checkpoint coordinator
func (c *Core) Coordinator() *checkpoint.Coordinator {
	return c.coordinator
}

// Initialize prepares the core system for operation
func (c *Core) Initialize() bool {
	c.eventBus = NewEventBus()
	c.registry = NewPluginRegistry()
	if c.configManager == nil {
		c.configManager = NewConfigManager()
	}
	c.healthMonitor = NewHealthMonitor()
	c.pipeline = NewDataPipeline(c.registry)

	c.coordinator = checkpoint.NewCoordinator(c.store,
		checkpoint.WithInterval(c.checkpointInterval),
		checkpoint.WithLogger(c.logger),
		checkpoint.WithObserver(func(snap checkpoint.Snapshot) {
			c.PublishEvent(model.EventCheckpointCompleted, snap.SourceID, snap)
		}),
	)

	for _, component := range []Component{c.eventBus, c.registry, c.configManager, c.healthMonitor, c.pipeline} {
		if !component.Initialize() {
			c.logger.Error("failed to initialize component", "id", component.ID())
			return false
		}
		c.healthMonitor.RegisterComponent(component)
	}
	c.healthMonitor.RegisterComponent(c)
	c.healthMonitor.Observe(c.eventBus)

	c.SetStatus(model.StatusInitialized)
	return true
}

// LoadPlugins creates the plugins declared in settings, registers them and
// builds the processor pipeline
func (c *Core) LoadPlugins(factory *plugin.PluginFactory, settings Settings) error {
	plugins, err := plugin.CreatePlugins(factory, settings.Specs())
	if err != nil {
		return err
	}
	for _, p := range plugins {
		if err := c.RegisterPlugin(p); err != nil {
			return err
		}
	}
	if len(settings.Pipeline) > 0 {
		return c.pipeline.CreatePipeline(settings.Pipeline)
	}
	return nil
}

// RegisterPlugin registers a plugin with the core system
func (c *Core) RegisterPlugin(p model.Plugin) error {
	if p == nil {
		return errors.New("cannot register nil plugin")
	}
	if c.registry == nil {
		return errors.New("core not initialized")
	}

	if !p.Validate() {
		return fmt.Errorf("plugin validation failed: %s", p.ID())
	}

	if !p.RegisterWithCore(c) {
		return fmt.Errorf("plugin failed to register with core: %s", p.ID())
	}

	if !c.registry.RegisterPlugin(p) {
		return fmt.Errorf("plugin registration failed: %s", p.ID())
	}

	c.healthMonitor.RegisterComponent(p)
	return nil
}

// Start starts outputs and processors, restores every input from its last
// checkpoint and runs each input in its own goroutine
func (c *Core) Start() bool {
	for _, component := range []Component{c.eventBus, c.registry, c.configManager, c.healthMonitor, c.pipeline} {
		if !component.Start() {
			c.logger.Error("failed to start component", "id", component.ID())
			return false
		}
	}

	for _, output := range c.registry.GetOutputPlugins() {
		if !output.Initialize() || !output.Start() {
			return c.startFailed(fmt.Errorf("failed to start output plugin: %s", output.ID()))
		}
	}

	var processorIDs []string
	for _, processor := range c.registry.GetProcessorPlugins() {
		if !processor.Initialize() || !processor.Start() {
			return c.startFailed(fmt.Errorf("failed to start processor plugin: %s", processor.ID()))
		}
		processorIDs = append(processorIDs, processor.ID())
	}
	if !c.pipeline.Configured() {
		if err := c.pipeline.CreatePipeline(processorIDs); err != nil {
			return c.startFailed(err)
		}
	}

	inputs := c.registry.GetInputPlugins()
	for _, input := range inputs {
		if err := c.prepareInput(input); err != nil {
			return c.startFailed(err)
		}
	}

	for _, input := range inputs {
		c.runInput(input)
	}
	go func() {
		c.inputs.Wait()
		close(c.done)
	}()

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.coordinator.Run(c.ctx)
	}()

	c.SetStatus(model.StatusRunning)
	c.PublishEvent(model.EventComponentStatusChange, c.ID(), c.GetStatus())
	c.logger.Info("core started", "inputs", len(inputs), "pipeline", c.pipeline.Stages())
	return true
}

func (c *Core) startFailed(err error) bool {
	c.logger.Error("failed to start core", "error", err)
	c.PublishEvent(model.EventError, c.ID(), err)
	c.SetStatus(model.StatusError)
	return false
}

// prepareInput initializes an input and restores its cursor
func (c *Core) prepareInput(input model.InputPlugin) error {
	if !input.Initialize() {
		return fmt.Errorf("failed to initialize input plugin: %s", input.ID())
	}
	if err := c.coordinator.Register(input.ID(), input); err != nil {
		return err
	}
	restored, err := c.coordinator.Restore(c.ctx, input.ID())
	if err != nil {
		return fmt.Errorf("restore %s: %w", input.ID(), err)
	}
	if !input.Start() {
		return fmt.Errorf("failed to start input plugin: %s", input.ID())
	}

	var since time.Time
	if restored {
		since = input.Cursor()
	}
	c.mu.Lock()
	c.sinks[input.ID()] = newWindowSink(c, input.ID(), since)
	c.mu.Unlock()
	return nil
}

func (c *Core) runInput(input model.InputPlugin) {
	c.mu.RLock()
	sink := c.sinks[input.ID()]
	c.mu.RUnlock()

	c.inputs.Add(1)
	go func() {
		defer c.inputs.Done()

		err := input.Run(c.ctx, sink)
		if err == nil {
			return
		}
		c.logger.Error("input stopped with error", "input", input.ID(), "error", err)
		c.mu.Lock()
		c.errs[input.ID()] = err
		c.mu.Unlock()
		c.PublishEvent(model.EventError, input.ID(), err)
	}()
}

// deliver runs a closed window through the pipeline and every output
func (c *Core) deliver(batch *model.DataBatch) error {
	c.PublishEvent(model.EventDataReceived, batch.SourceID, map[string]interface{}{
		"records":   batch.Size(),
		"watermark": batch.Watermark,
	})

	processed, err := c.pipeline.Process(batch)
	if err != nil {
		return err
	}
	c.PublishEvent(model.EventDataProcessed, batch.SourceID, map[string]interface{}{
		"records": processed.Size(),
		"dropped": batch.Size() - processed.Size(),
	})

	for _, output := range c.registry.GetOutputPlugins() {
		if err := output.Send(processed); err != nil {
			return fmt.Errorf("output %s: %w", output.ID(), err)
		}
		c.PublishEvent(model.EventDataSent, output.ID(), map[string]interface{}{
			"source":  batch.SourceID,
			"records": processed.Size(),
		})
	}

	c.PublishEvent(model.EventWatermarkAdvanced, batch.SourceID, map[string]interface{}{
		"watermark": batch.Watermark,
		"records":   processed.Size(),
	})
	return nil
}

// Done is closed once every input has returned
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// Errors returns the fatal errors of inputs that have stopped
func (c *Core) Errors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.errs))
	for id, err := range c.errs {
		out[id] = err
	}
	return out
}

// Stop cancels all inputs, waits for them, writes a final checkpoint for
// each and stops every component
func (c *Core) Stop() bool {
	c.cancel()
	c.inputs.Wait()
	c.tasks.Wait()

	ok := true
	if c.coordinator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finalCheckpointTimeout)
		if err := c.coordinator.CheckpointAll(ctx); err != nil {
			c.logger.Error("final checkpoint failed", "error", err)
			ok = false
		}
		cancel()
	}

	if c.registry != nil {
		c.registry.Stop()
		c.pipeline.Stop()
		c.healthMonitor.Stop()
		c.configManager.Stop()
		c.eventBus.Stop()
	}

	c.SetStatus(model.StatusStopped)
	return ok
}

// CheckpointNow persists the cursor of one input immediately
func (c *Core) CheckpointNow(ctx context.Context, id string) (checkpoint.Snapshot, error) {
	if c.coordinator == nil {
		return checkpoint.Snapshot{}, errors.New("core not initialized")
	}
	return c.coordinator.Checkpoint(ctx, id)
}

// SourceStatus describes the progress of every input
func (c *Core) SourceStatus() []model.SourceStatus {
	if c.registry == nil {
		return nil
	}
	inputs := c.registry.GetInputPlugins()
	out := make([]model.SourceStatus, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, c.sourceStatus(input))
	}
	return out
}

// Source describes the progress of one input
func (c *Core) Source(id string) (model.SourceStatus, bool) {
	if c.registry == nil {
		return model.SourceStatus{}, false
	}
	p, ok := c.registry.GetPlugin(id)
	if !ok {
		return model.SourceStatus{}, false
	}
	input, ok := p.(model.InputPlugin)
	if !ok {
		return model.SourceStatus{}, false
	}
	return c.sourceStatus(input), true
}

func (c *Core) sourceStatus(input model.InputPlugin) model.SourceStatus {
	status := model.SourceStatus{
		ID:      input.ID(),
		Name:    input.Name(),
		Status:  input.GetStatus(),
		State:   input.State(),
		Cursor:  input.Cursor(),
		Dropped: input.Dropped(),
	}
	if c.coordinator != nil {
		if snap, ok := c.coordinator.Last(input.ID()); ok {
			status.LastCheckpoint = snap.TakenAt
		}
	}
	return status
}

// GetHealthStatus returns the health of the system and its components
func (c *Core) GetHealthStatus() model.HealthStatus {
	if c.healthMonitor == nil {
		return model.HealthStatus{Status: c.GetStatus(), Timestamp: time.Now()}
	}
	return c.healthMonitor.GetHealthStatus()
}

// ConfigSnapshot returns the effective configuration with secrets masked
func (c *Core) ConfigSnapshot() map[string]interface{} {
	if c.configManager == nil {
		return map[string]interface{}{}
	}
	return c.configManager.Redacted()
}

// PublishEvent publishes an event to the event bus
func (c *Core) PublishEvent(eventType model.EventType, sourceID string, data interface{}) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(NewEvent(eventType, sourceID, data))
}
