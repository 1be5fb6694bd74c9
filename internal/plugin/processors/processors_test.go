package processors

import (
	"strconv"
	"testing"
	"time"

	"github.com/sliink/commitstream/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testBatch() *model.DataBatch {
	batch := model.NewDataBatch("commits")
	batch.Since = t0
	batch.Watermark = t0.Add(time.Hour)
	batch.Attributes["repo"] = "octo/repo"
	batch.AddRecord(model.Record{
		ID: "a", Timestamp: t0.Add(time.Minute), Author: "ada",
		FilesChanged: []model.FileChange{{Filename: "main.go", LinesChanged: 40}, {Filename: "docs/README.md", LinesChanged: 2}},
	})
	batch.AddRecord(model.Record{
		ID: "b", Timestamp: t0.Add(2 * time.Minute), Author: "bob",
		FilesChanged: []model.FileChange{{Filename: "docs/guide.md", LinesChanged: 5}},
	})
	batch.AddRecord(model.Record{
		ID: "c", Timestamp: t0.Add(3 * time.Minute), Author: model.UnknownAuthor,
	})
	return batch
}

func ids(batch *model.DataBatch) []string {
	out := make([]string, 0, batch.Size())
	for _, r := range batch.Records {
		out = append(out, r.ID)
	}
	return out
}

func newCELFilter(t *testing.T, expr string) *CELFilter {
	t.Helper()
	f := NewCELFilter("filter")
	f.Configure(map[string]interface{}{"expression": expr})
	require.True(t, f.Validate())
	require.True(t, f.Initialize())
	require.True(t, f.Start())
	return f
}

func TestCELFilterInitialize(t *testing.T) {
	t.Run("Rejects missing expression", func(t *testing.T) {
		f := NewCELFilter("filter")
		f.Configure(map[string]interface{}{})
		assert.False(t, f.Validate())
		assert.False(t, f.Initialize())
		assert.False(t, f.Start())
	})

	t.Run("Rejects unknown variables", func(t *testing.T) {
		f := NewCELFilter("filter")
		f.Configure(map[string]interface{}{"expression": "severity > 2"})
		assert.False(t, f.Initialize())
		assert.Equal(t, model.StatusError, f.GetStatus())
	})

	t.Run("Rejects non-bool expressions", func(t *testing.T) {
		_, err := CompileFilter("lines + 1")
		assert.ErrorContains(t, err, "must return bool")
	})
}

func TestCELFilterProcess(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{name: "by author", expr: `author == "ada"`, want: []string{"a"}},
		{name: "by lines", expr: `lines >= 5`, want: []string{"a", "b"}},
		{name: "by file", expr: `files.exists(f, f.endsWith(".go"))`, want: []string{"a"}},
		{name: "by time", expr: `ts_ms > ` + strconv.FormatInt(t0.Add(90*time.Second).UnixMilli(), 10), want: []string{"b", "c"}},
		{name: "unknown authors", expr: `author != "unknown"`, want: []string{"a", "b"}},
		{name: "nothing", expr: `false`, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCELFilter(t, tt.expr)
			in := testBatch()

			out, err := f.Process(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(out))
			assert.Equal(t, in.Watermark, out.Watermark, "watermark survives filtering")
			assert.Equal(t, in.Since, out.Since)
			assert.Equal(t, "octo/repo", out.Attributes["repo"])
			assert.Equal(t, int64(3-len(tt.want)), f.Rejected())
		})
	}
}

func TestCELFilterEmptyBatch(t *testing.T) {
	f := newCELFilter(t, "true")
	batch := model.NewDataBatch("commits")
	batch.Watermark = t0

	out, err := f.Process(batch)
	require.NoError(t, err)
	assert.Equal(t, t0, out.Watermark)

	_, err = f.Process(nil)
	assert.Error(t, err)
}

func TestPathFilter(t *testing.T) {
	newFilter := func(t *testing.T, config map[string]interface{}) *PathFilter {
		p := NewPathFilter("paths")
		p.Configure(config)
		require.True(t, p.Validate())
		require.True(t, p.Initialize())
		require.True(t, p.Start())
		return p
	}

	t.Run("Requires a pattern", func(t *testing.T) {
		p := NewPathFilter("paths")
		p.Configure(map[string]interface{}{})
		assert.False(t, p.Validate())
	})

	t.Run("Rejects invalid regex", func(t *testing.T) {
		p := NewPathFilter("paths")
		p.Configure(map[string]interface{}{"include": []interface{}{"("}})
		assert.False(t, p.Initialize())
	})

	t.Run("Exclude keeps records with emptied file lists", func(t *testing.T) {
		p := newFilter(t, map[string]interface{}{"exclude": []interface{}{`^docs/`}})
		in := testBatch()

		out, err := p.Process(in)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(out))
		assert.Equal(t, []string{"main.go"}, out.Records[0].Filenames())
		assert.Empty(t, out.Records[1].FilesChanged)
		assert.Equal(t, 42, in.Records[0].LinesChanged(), "input batch is not modified")
	})

	t.Run("Include with drop_empty removes unmatched records", func(t *testing.T) {
		p := newFilter(t, map[string]interface{}{"include": "\\.md$", "drop_empty": true})

		out, err := p.Process(testBatch())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(out))
		assert.Equal(t, 2, out.Records[0].LinesChanged())
		assert.Equal(t, t0.Add(time.Hour), out.Watermark)
	})
}
