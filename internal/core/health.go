package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sliink/commitstream/internal/checkpoint"
	"github.com/sliink/commitstream/internal/model"
)

// Per-source metric names, recorded as "<source id>.<name>"
const (
	MetricWatermark      = "watermark"
	MetricWindows        = "windows"
	MetricRecordsSent    = "records_sent"
	MetricFetchFailures  = "fetch_failures"
	MetricLastCheckpoint = "last_checkpoint"
	MetricLastError      = "last_error"
)

// HealthMonitor tracks system and component health
type HealthMonitor struct {
	components map[string]Component
	metrics    map[string]map[string]interface{}
	mutex      sync.RWMutex
	now        func() time.Time
	BaseComponent
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		components:    make(map[string]Component),
		metrics:       make(map[string]map[string]interface{}),
		now:           time.Now,
		BaseComponent: NewBaseComponent("health_monitor", "Health Monitor"),
	}
}

// Initialize prepares the health monitor for operation
func (h *HealthMonitor) Initialize() bool {
	h.SetStatus(model.StatusInitialized)
	return true
}

// Start begins health monitor operation
func (h *HealthMonitor) Start() bool {
	h.SetStatus(model.StatusRunning)
	return true
}

// Stop halts health monitor operation. Metrics stay readable.
func (h *HealthMonitor) Stop() bool {
	h.SetStatus(model.StatusStopped)
	return true
}

// RegisterComponent adds a component to be monitored
func (h *HealthMonitor) RegisterComponent(component Component) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.components[component.ID()] = component
}

// Observe subscribes the monitor to the events it turns into metrics
func (h *HealthMonitor) Observe(bus *EventBus) {
	bus.Subscribe(model.EventWatermarkAdvanced, h.ID(), func(e Event) {
		if data, ok := e.Data.(map[string]interface{}); ok {
			h.AddMetric(e.SourceID+"."+MetricWatermark, data["watermark"], nil)
		}
		h.IncrMetric(e.SourceID+"."+MetricWindows, 1)
	})
	bus.Subscribe(model.EventDataSent, h.ID(), func(e Event) {
		if data, ok := e.Data.(map[string]interface{}); ok {
			if n, ok := data["records"].(int); ok {
				h.IncrMetric(e.SourceID+"."+MetricRecordsSent, int64(n))
			}
		}
	})
	bus.Subscribe(model.EventFetchFailed, h.ID(), func(e Event) {
		h.IncrMetric(e.SourceID+"."+MetricFetchFailures, 1)
	})
	bus.Subscribe(model.EventCheckpointCompleted, h.ID(), func(e Event) {
		if snap, ok := e.Data.(checkpoint.Snapshot); ok {
			h.AddMetric(e.SourceID+"."+MetricLastCheckpoint, snap.Cursor, map[string]interface{}{
				"checkpoint_id": snap.ID,
			})
		}
	})
	bus.Subscribe(model.EventError, h.ID(), func(e Event) {
		h.AddMetric(e.SourceID+"."+MetricLastError, fmt.Sprint(e.Data), nil)
	})
}

// AddMetric adds a metric value with optional metadata
func (h *HealthMonitor) AddMetric(name string, value interface{}, metadata map[string]interface{}) {
	entry := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		entry[k] = v
	}
	entry["value"] = value
	entry["timestamp"] = h.now()

	h.mutex.Lock()
	h.metrics[name] = entry
	h.mutex.Unlock()
}

// IncrMetric adds delta to an integer metric, creating it at zero
func (h *HealthMonitor) IncrMetric(name string, delta int64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var current int64
	if entry, ok := h.metrics[name]; ok {
		current, _ = entry["value"].(int64)
	}
	h.metrics[name] = map[string]interface{}{
		"value":     current + delta,
		"timestamp": h.now(),
	}
}

// GetMetric retrieves a metric value
func (h *HealthMonitor) GetMetric(name string) (interface{}, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	entry, exists := h.metrics[name]
	if !exists {
		return nil, false
	}
	return entry["value"], true
}

// GetAllMetrics retrieves all metrics
func (h *HealthMonitor) GetAllMetrics() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.copyMetrics()
}

func (h *HealthMonitor) copyMetrics() map[string]interface{} {
	metrics := make(map[string]interface{}, len(h.metrics))
	for k, entry := range h.metrics {
		c := make(map[string]interface{}, len(entry))
		for ek, ev := range entry {
			c[ek] = ev
		}
		metrics[k] = c
	}
	return metrics
}

// GetHealthStatus retrieves the health status of the system
func (h *HealthMonitor) GetHealthStatus() model.HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	now := h.now()
	components := make(map[string]model.HealthStatus, len(h.components))
	statusCounts := make(map[model.ComponentStatus]int)
	for id, component := range h.components {
		status := component.GetStatus()
		statusCounts[status]++
		components[id] = model.HealthStatus{
			Status:    status,
			Timestamp: now,
			Message:   component.Name() + " status: " + string(status),
		}
	}

	systemStatus := model.StatusRunning
	var statusMessage string
	switch {
	case statusCounts[model.StatusError] > 0:
		systemStatus = model.StatusError
		statusMessage = fmt.Sprintf("System has errors: %d components in ERROR state", statusCounts[model.StatusError])
	case len(components) > 0 && statusCounts[model.StatusStopped] == len(components):
		systemStatus = model.StatusStopped
		statusMessage = "System is stopped"
	case statusCounts[model.StatusRunning] == 0:
		systemStatus = model.StatusInitialized
		statusMessage = "System is initializing"
	case statusCounts[model.StatusRunning] < len(components):
		statusMessage = fmt.Sprintf("System is partially running: %d of %d components running",
			statusCounts[model.StatusRunning], len(components))
	default:
		statusMessage = "System is healthy: all components running"
	}

	return model.HealthStatus{
		Status:     systemStatus,
		Timestamp:  now,
		Message:    statusMessage,
		Components: components,
		Details:    h.copyMetrics(),
	}
}
