package processors

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
)

// CELFilterType is the registered name of the CEL filter processor
const CELFilterType = "cel_filter"

// CELFilter keeps the records of a window for which a CEL expression holds.
//
// The expression sees id, author, ts_ms, lines (total changed lines),
// files (list of filenames) and now_ms. Records that fail to evaluate are
// dropped. The window watermark is always kept.
type CELFilter struct {
	plugin.BasePlugin
	expression string
	prog       cel.Program
	rejected   atomic.Int64
	evalErrors atomic.Int64
}

// NewCELFilter creates a new CEL filter processor
func NewCELFilter(id string) *CELFilter {
	return &CELFilter{
		BasePlugin: plugin.NewBasePlugin(id, "CEL Filter", model.ProcessorPluginType),
	}
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("author", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("lines", cel.IntType),
		cel.Variable("files", cel.ListType(cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
}

// CompileFilter type-checks expr and returns a program producing a bool
func CompileFilter(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty expression")
	}
	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

// Initialize compiles the configured expression
func (f *CELFilter) Initialize() bool {
	expr, _ := f.Config["expression"].(string)
	prog, err := CompileFilter(expr)
	if err != nil {
		f.Logger().Error("invalid filter expression", "expression", expr, "error", err)
		f.SetStatus(model.StatusError)
		return false
	}
	f.expression = strings.TrimSpace(expr)
	f.prog = prog
	f.SetStatus(model.StatusInitialized)
	return true
}

// Start begins filter operation
func (f *CELFilter) Start() bool {
	if f.prog == nil {
		return false
	}
	f.SetStatus(model.StatusRunning)
	return true
}

// Stop halts filter operation
func (f *CELFilter) Stop() bool {
	f.SetStatus(model.StatusStopped)
	return true
}

// Validate checks that an expression is configured
func (f *CELFilter) Validate() bool {
	expr, ok := f.Config["expression"].(string)
	return ok && strings.TrimSpace(expr) != ""
}

// Process drops the records for which the expression does not hold
func (f *CELFilter) Process(batch *model.DataBatch) (*model.DataBatch, error) {
	if batch == nil {
		return nil, errors.New("nil batch")
	}
	if f.prog == nil || batch.Size() == 0 {
		return batch, nil
	}

	now := time.Now().UnixMilli()
	kept := make([]model.Record, 0, len(batch.Records))
	for _, record := range batch.Records {
		if f.match(record, now) {
			kept = append(kept, record)
			continue
		}
		f.rejected.Add(1)
	}
	return batch.WithRecords(kept), nil
}

func (f *CELFilter) match(record model.Record, nowMillis int64) bool {
	out, _, err := f.prog.Eval(map[string]any{
		"id":     record.ID,
		"author": record.Author,
		"ts_ms":  record.TimestampMillis(),
		"lines":  int64(record.LinesChanged()),
		"files":  record.Filenames(),
		"now_ms": nowMillis,
	})
	if err != nil {
		f.evalErrors.Add(1)
		f.Logger().Debug("filter evaluation failed", "record", record.ID, "error", err)
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Rejected returns the number of records dropped by the filter
func (f *CELFilter) Rejected() int64 {
	return f.rejected.Load()
}

// EvalErrors returns the number of records that failed evaluation
func (f *CELFilter) EvalErrors() int64 {
	return f.evalErrors.Load()
}
