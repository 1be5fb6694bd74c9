package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sliink/commitstream/internal/model"
)

// ErrPipelineStopped is returned when a batch reaches a pipeline that is not running
var ErrPipelineStopped = errors.New("pipeline not running")

// PipelineStage represents a single processing step
type PipelineStage struct {
	Processor model.ProcessorPlugin
	NextStage *PipelineStage
}

// Process executes this stage and every following one. An empty result
// keeps flowing so the window watermark still reaches the outputs.
func (s *PipelineStage) Process(batch *model.DataBatch) (*model.DataBatch, error) {
	if s == nil || batch == nil {
		return batch, nil
	}

	processed, err := s.Processor.Process(batch)
	if err != nil {
		return nil, fmt.Errorf("processor %s: %w", s.Processor.ID(), err)
	}
	if processed == nil {
		processed = batch.WithRecords(nil)
	}
	processed.Watermark = batch.Watermark

	return s.NextStage.Process(processed)
}

// DataPipeline runs committed windows through an ordered chain of processors
type DataPipeline struct {
	head       *PipelineStage
	ids        []string
	configured bool
	registry   *PluginRegistry
	mutex      sync.RWMutex
	BaseComponent
}

// NewDataPipeline creates a new data pipeline
func NewDataPipeline(registry *PluginRegistry) *DataPipeline {
	return &DataPipeline{
		registry:      registry,
		BaseComponent: NewBaseComponent("data_pipeline", "Data Pipeline"),
	}
}

// Initialize prepares the data pipeline for operation
func (p *DataPipeline) Initialize() bool {
	if p.registry == nil {
		return false
	}

	p.SetStatus(model.StatusInitialized)
	return true
}

// Start begins data pipeline operation
func (p *DataPipeline) Start() bool {
	p.SetStatus(model.StatusRunning)
	return true
}

// Stop halts data pipeline operation
func (p *DataPipeline) Stop() bool {
	p.SetStatus(model.StatusStopped)
	return true
}

// CreatePipeline builds the processing chain from processor ids, in order.
// An empty list yields a pass-through pipeline.
func (p *DataPipeline) CreatePipeline(processorIDs []string) error {
	var head, tail *PipelineStage
	seen := make(map[string]bool, len(processorIDs))

	for _, processorID := range processorIDs {
		if seen[processorID] {
			return fmt.Errorf("processor listed twice in pipeline: %s", processorID)
		}
		seen[processorID] = true

		plugin, exists := p.registry.GetPlugin(processorID)
		if !exists {
			return fmt.Errorf("processor plugin not found: %s", processorID)
		}

		processor, ok := plugin.(model.ProcessorPlugin)
		if !ok {
			return fmt.Errorf("plugin is not a processor: %s", processorID)
		}

		stage := &PipelineStage{Processor: processor}
		if head == nil {
			head = stage
		} else {
			tail.NextStage = stage
		}
		tail = stage
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.head = head
	p.ids = append([]string(nil), processorIDs...)
	p.configured = true
	return nil
}

// Configured reports whether CreatePipeline has been called
func (p *DataPipeline) Configured() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.configured
}

// Stages returns the processor ids in execution order
func (p *DataPipeline) Stages() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return append([]string(nil), p.ids...)
}

// Process sends a data batch through the pipeline
func (p *DataPipeline) Process(batch *model.DataBatch) (*model.DataBatch, error) {
	if batch == nil {
		return nil, errors.New("nil batch")
	}
	if p.GetStatus() != model.StatusRunning {
		return nil, ErrPipelineStopped
	}

	p.mutex.RLock()
	head := p.head
	p.mutex.RUnlock()

	return head.Process(batch)
}
