package model

import "time"

// ComponentStatus represents the current status of a component
type ComponentStatus string

const (
	// StatusUninitialized indicates the component has not been initialized
	StatusUninitialized ComponentStatus = "UNINITIALIZED"
	// StatusInitialized indicates the component has been initialized but not started
	StatusInitialized ComponentStatus = "INITIALIZED"
	// StatusRunning indicates the component is currently running
	StatusRunning ComponentStatus = "RUNNING"
	// StatusStopped indicates the component has been stopped
	StatusStopped ComponentStatus = "STOPPED"
	// StatusError indicates the component is in an error state
	StatusError ComponentStatus = "ERROR"
)

// PluginType represents the type of plugin
type PluginType string

const (
	// InputPluginType represents plugins that poll a remote source
	InputPluginType PluginType = "INPUT"
	// ProcessorPluginType represents plugins that transform committed windows
	ProcessorPluginType PluginType = "PROCESSOR"
	// OutputPluginType represents plugins that export committed windows
	OutputPluginType PluginType = "OUTPUT"
)

// EventType represents the type of system event
type EventType string

const (
	// EventComponentStatusChange indicates a component status has changed
	EventComponentStatusChange EventType = "COMPONENT_STATUS_CHANGE"
	// EventConfigChange indicates a configuration has changed
	EventConfigChange EventType = "CONFIG_CHANGE"
	// EventDataReceived indicates a window has been emitted by a source
	EventDataReceived EventType = "DATA_RECEIVED"
	// EventDataProcessed indicates a window has passed the processor pipeline
	EventDataProcessed EventType = "DATA_PROCESSED"
	// EventDataSent indicates a window has been delivered to an output
	EventDataSent EventType = "DATA_SENT"
	// EventWatermarkAdvanced indicates a source published a new watermark
	EventWatermarkAdvanced EventType = "WATERMARK_ADVANCED"
	// EventFetchFailed indicates a transient fetch failure for a window
	EventFetchFailed EventType = "FETCH_FAILED"
	// EventCheckpointCompleted indicates a source cursor was persisted
	EventCheckpointCompleted EventType = "CHECKPOINT_COMPLETED"
	// EventError indicates an error has occurred
	EventError EventType = "ERROR"
)

// HealthStatus represents the health status of the system or a component
type HealthStatus struct {
	Status     ComponentStatus         `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Message    string                  `json:"message,omitempty"`
	Details    map[string]any          `json:"details,omitempty"`
	Components map[string]HealthStatus `json:"components,omitempty"`
}

// SourceStatus describes the progress of one input
type SourceStatus struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Status         ComponentStatus `json:"status"`
	State          string          `json:"state"`
	Cursor         time.Time       `json:"cursor"`
	LastCheckpoint time.Time       `json:"last_checkpoint,omitempty"`
	Dropped        int64           `json:"dropped"`
}
