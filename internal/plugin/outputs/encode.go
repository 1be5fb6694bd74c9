package outputs

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sliink/commitstream/internal/model"
)

const (
	colorReset  = "\033[0m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
)

const shortSHALen = 7

// writeJSON writes one line per record followed by a watermark line
func writeJSON(w io.Writer, batch *model.DataBatch) error {
	enc := json.NewEncoder(w)
	for _, record := range batch.Records {
		line := record.ToMap()
		line["kind"] = "record"
		line["source_id"] = batch.SourceID
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return enc.Encode(map[string]interface{}{
		"kind":      "watermark",
		"source_id": batch.SourceID,
		"since":     batch.Since,
		"watermark": batch.Watermark,
		"records":   batch.Size(),
	})
}

func writeText(w io.Writer, batch *model.DataBatch, colorize bool) error {
	paint := func(color, s string) string {
		if !colorize {
			return s
		}
		return color + s + colorReset
	}

	for _, record := range batch.Records {
		sha := record.ID
		if len(sha) > shortSHALen {
			sha = sha[:shortSHALen]
		}
		_, err := fmt.Fprintf(w, "[%s] %s %s %s +%d (%d files)\n",
			record.Timestamp.UTC().Format(time.RFC3339),
			batch.SourceID,
			paint(colorYellow, sha),
			paint(colorCyan, record.Author),
			record.LinesChanged(),
			len(record.FilesChanged))
		if err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "[%s] %s %s records=%d\n",
		batch.Watermark.UTC().Format(time.RFC3339),
		batch.SourceID,
		paint(colorGreen, "watermark"),
		batch.Size())
	return err
}
