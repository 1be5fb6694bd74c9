package model

import (
	"time"
)

// DataBatch is one committed window as it travels from a source to the outputs
type DataBatch struct {
	SourceID   string
	Records    []Record
	Since      time.Time
	Watermark  time.Time
	Timestamp  time.Time
	Attributes map[string]interface{}
}

// NewDataBatch creates an empty batch for a source
func NewDataBatch(sourceID string) *DataBatch {
	return &DataBatch{
		SourceID:   sourceID,
		Records:    make([]Record, 0),
		Timestamp:  time.Now(),
		Attributes: make(map[string]interface{}),
	}
}

// AddRecord adds a record to the batch
func (b *DataBatch) AddRecord(record Record) {
	b.Records = append(b.Records, record)
}

// Size returns the number of records in the batch
func (b *DataBatch) Size() int {
	return len(b.Records)
}

// WithRecords returns a copy of the batch carrying the given records.
// Window bounds, watermark and attributes are preserved.
func (b *DataBatch) WithRecords(records []Record) *DataBatch {
	attrs := make(map[string]interface{}, len(b.Attributes))
	for k, v := range b.Attributes {
		attrs[k] = v
	}
	return &DataBatch{
		SourceID:   b.SourceID,
		Records:    records,
		Since:      b.Since,
		Watermark:  b.Watermark,
		Timestamp:  b.Timestamp,
		Attributes: attrs,
	}
}

// ToMap converts the data batch to a map representation
func (b *DataBatch) ToMap() map[string]interface{} {
	records := make([]map[string]interface{}, len(b.Records))
	for i, record := range b.Records {
		records[i] = record.ToMap()
	}

	return map[string]interface{}{
		"source_id":  b.SourceID,
		"since":      b.Since,
		"watermark":  b.Watermark,
		"timestamp":  b.Timestamp,
		"records":    records,
		"attributes": b.Attributes,
	}
}
