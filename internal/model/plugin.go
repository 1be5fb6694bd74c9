package model

import (
	"context"
	"time"
)

// CoreAPI is an interface for core functions needed by plugins
type CoreAPI interface {
	// PublishEvent publishes an event to the event bus
	PublishEvent(eventType EventType, sourceID string, data interface{})
}

// Sink receives the records and watermarks of a source. Both calls are made
// while the source holds its checkpoint lock.
type Sink interface {
	// Emit hands one record downstream, stamped with its event time
	Emit(record Record, eventTimeMillis int64) error

	// AdvanceWatermark declares that no record older than ts will follow
	AdvanceWatermark(timestampMillis int64) error
}

// Plugin is the base interface for all plugins
type Plugin interface {
	// Initialize prepares the plugin for operation
	Initialize() bool

	// Start begins plugin operation
	Start() bool

	// Stop halts plugin operation
	Stop() bool

	// GetStatus returns the current plugin status
	GetStatus() ComponentStatus

	// SetStatus updates the plugin status
	SetStatus(status ComponentStatus)

	// Configure applies configuration to the plugin
	Configure(config map[string]interface{}) bool

	// ID returns the plugin's unique identifier
	ID() string

	// Name returns the plugin's human-readable name
	Name() string

	// GetType returns the plugin type
	GetType() PluginType

	// Validate checks if the plugin is properly configured
	Validate() bool

	// RegisterWithCore registers the plugin with the core system
	RegisterWithCore(core CoreAPI) bool
}

// InputPlugin polls a remote source and emits windows into a Sink
type InputPlugin interface {
	Plugin

	// Run polls until ctx is cancelled or a fatal error occurs
	Run(ctx context.Context, sink Sink) error

	// Snapshot returns the cursor as a singleton list
	Snapshot() []time.Time

	// Restore resets the cursor from the first element of state
	Restore(state []time.Time) error

	// Cursor returns the current cursor
	Cursor() time.Time

	// State returns the current poll loop state
	State() string

	// Dropped returns the number of malformed events skipped
	Dropped() int64
}

// ProcessorPlugin transforms data
type ProcessorPlugin interface {
	Plugin

	// Process transforms a data batch. The watermark must be preserved.
	Process(batch *DataBatch) (*DataBatch, error)
}

// OutputPlugin exports data to destinations
type OutputPlugin interface {
	Plugin

	// Send exports a data batch
	Send(batch *DataBatch) error
}
