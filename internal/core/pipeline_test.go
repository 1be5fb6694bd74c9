package core

import (
	"errors"
	"testing"
	"time"

	"github.com/sliink/commitstream/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func windowBatch() *model.DataBatch {
	batch := model.NewDataBatch("commits")
	batch.Since = t0
	batch.Watermark = t0.Add(time.Hour)
	batch.AddRecord(record("a", "ada", t0.Add(time.Minute)))
	batch.AddRecord(record("b", "bot", t0.Add(2*time.Minute)))
	batch.AddRecord(record("c", "cy", t0.Add(3*time.Minute)))
	return batch
}

func recordIDs(batch *model.DataBatch) []string {
	ids := make([]string, 0, batch.Size())
	for _, r := range batch.Records {
		ids = append(ids, r.ID)
	}
	return ids
}

func runningPipeline(t *testing.T, processors ...model.ProcessorPlugin) *DataPipeline {
	t.Helper()
	registry := NewPluginRegistry()
	var ids []string
	for _, p := range processors {
		require.True(t, registry.RegisterPlugin(p))
		ids = append(ids, p.ID())
	}
	pipeline := NewDataPipeline(registry)
	require.True(t, pipeline.Initialize())
	require.NoError(t, pipeline.CreatePipeline(ids))
	require.True(t, pipeline.Start())
	return pipeline
}

func TestPipelineStageProcess(t *testing.T) {
	t.Run("Nil stage returns original batch", func(t *testing.T) {
		var stage *PipelineStage
		batch := windowBatch()
		out, err := stage.Process(batch)
		require.NoError(t, err)
		assert.Same(t, batch, out)
	})

	t.Run("Chained stages process in sequence", func(t *testing.T) {
		stage := &PipelineStage{
			Processor: newMockProcessor("no-bots", dropAuthor("bot")),
			NextStage: &PipelineStage{Processor: newMockProcessor("no-ada", dropAuthor("ada"))},
		}
		out, err := stage.Process(windowBatch())
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, recordIDs(out))
	})

	t.Run("Empty result keeps the watermark flowing", func(t *testing.T) {
		var reached bool
		stage := &PipelineStage{
			Processor: newMockProcessor("drop-all", func(b *model.DataBatch) (*model.DataBatch, error) { return nil, nil }),
			NextStage: &PipelineStage{Processor: newMockProcessor("probe", func(b *model.DataBatch) (*model.DataBatch, error) {
				reached = true
				return b, nil
			})},
		}
		out, err := stage.Process(windowBatch())
		require.NoError(t, err)
		assert.True(t, reached)
		assert.Equal(t, 0, out.Size())
		assert.Equal(t, t0.Add(time.Hour), out.Watermark)
	})

	t.Run("Processors cannot move the watermark", func(t *testing.T) {
		stage := &PipelineStage{Processor: newMockProcessor("shift", func(b *model.DataBatch) (*model.DataBatch, error) {
			out := b.WithRecords(b.Records)
			out.Watermark = t0
			return out, nil
		})}
		out, err := stage.Process(windowBatch())
		require.NoError(t, err)
		assert.Equal(t, t0.Add(time.Hour), out.Watermark)
	})

	t.Run("Processor errors name the processor", func(t *testing.T) {
		boom := errors.New("boom")
		stage := &PipelineStage{Processor: newMockProcessor("broken", func(b *model.DataBatch) (*model.DataBatch, error) { return nil, boom })}
		_, err := stage.Process(windowBatch())
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "broken")
	})
}

func TestDataPipelineLifecycle(t *testing.T) {
	t.Run("Initialize fails with nil registry", func(t *testing.T) {
		assert.False(t, NewDataPipeline(nil).Initialize())
	})

	t.Run("Lifecycle sets statuses", func(t *testing.T) {
		pipeline := NewDataPipeline(NewPluginRegistry())
		assert.Equal(t, "data_pipeline", pipeline.ID())
		assert.True(t, pipeline.Initialize())
		assert.Equal(t, model.StatusInitialized, pipeline.GetStatus())
		assert.True(t, pipeline.Start())
		assert.Equal(t, model.StatusRunning, pipeline.GetStatus())
		assert.True(t, pipeline.Stop())
		assert.Equal(t, model.StatusStopped, pipeline.GetStatus())
	})
}

func TestCreatePipeline(t *testing.T) {
	registry := NewPluginRegistry()
	registry.RegisterPlugin(newMockProcessor("p1", dropAuthor("x")))
	registry.RegisterPlugin(newMockProcessor("p2", dropAuthor("y")))
	registry.RegisterPlugin(newMockOutput("out"))
	pipeline := NewDataPipeline(registry)

	t.Run("Nonexistent processor returns error", func(t *testing.T) {
		assert.Error(t, pipeline.CreatePipeline([]string{"missing"}))
		assert.False(t, pipeline.Configured())
	})

	t.Run("Non-processor plugin returns error", func(t *testing.T) {
		assert.Error(t, pipeline.CreatePipeline([]string{"out"}))
	})

	t.Run("Duplicate processor returns error", func(t *testing.T) {
		assert.Error(t, pipeline.CreatePipeline([]string{"p1", "p1"}))
	})

	t.Run("Valid processor list keeps order", func(t *testing.T) {
		require.NoError(t, pipeline.CreatePipeline([]string{"p2", "p1"}))
		assert.True(t, pipeline.Configured())
		assert.Equal(t, []string{"p2", "p1"}, pipeline.Stages())
	})

	t.Run("Empty list is a pass-through", func(t *testing.T) {
		require.NoError(t, pipeline.CreatePipeline(nil))
		assert.Empty(t, pipeline.Stages())
	})
}

func TestProcessMethod(t *testing.T) {
	t.Run("Process rejects nil batch", func(t *testing.T) {
		_, err := runningPipeline(t).Process(nil)
		assert.Error(t, err)
	})

	t.Run("Process fails when not running", func(t *testing.T) {
		pipeline := runningPipeline(t)
		pipeline.Stop()
		_, err := pipeline.Process(windowBatch())
		assert.ErrorIs(t, err, ErrPipelineStopped)
	})

	t.Run("Process without stages returns the batch", func(t *testing.T) {
		batch := windowBatch()
		out, err := runningPipeline(t).Process(batch)
		require.NoError(t, err)
		assert.Same(t, batch, out)
	})

	t.Run("Process applies processors", func(t *testing.T) {
		out, err := runningPipeline(t, newMockProcessor("no-bots", dropAuthor("bot"))).Process(windowBatch())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, recordIDs(out))
		assert.Equal(t, t0, out.Since)
	})
}
