package tables

import (
	"time"
)

// Warehouse schema and table names. Column names are relied on by the
// transformation layer and the query API and must stay stable.
const (
	RawSchema       = "raw"
	MessagesTable   = "raw_telegram_messages"
	ChannelsTable   = "raw_channel_info"
	DetectionsTable = "image_detections"
)

// MessageRow is one normalized message in raw.raw_telegram_messages.
// Pointer fields are NULL when the source omitted or mangled them.
type MessageRow struct {
	MessageID       int64
	ChannelTitle    string
	ChannelUsername string

	MessageText *string
	MessageDate *time.Time
	MediaPath   *string
	Views       *int64
	Forwards    *int64
	Replies     *int64
	EditDate    *time.Time
	HasMedia    *bool
	MediaType   *string

	// Lineage
	PartitionDate string
	SourceFile    string

	// Verbatim source record
	RawData string

	// Assigned at write time
	LoadedAt time.Time
}

func (MessageRow) TableName() string {
	return MessagesTable
}

// ChannelRow summarizes the channel-info block of one partition file.
type ChannelRow struct {
	ChannelUsername string
	ChannelTitle    string
	ScrapedAt       *time.Time
	MessageCount    *int64
	PartitionDate   string
	SourceFile      string
	RawData         *string // nil when the file had no channel-info block
	LoadedAt        time.Time
}

func (ChannelRow) TableName() string {
	return ChannelsTable
}

// DetectionRow is one object-detection label attached to a message image.
type DetectionRow struct {
	MessageID           int64     `json:"message_id"`
	ImagePath           string    `json:"image_path"`
	DetectedObjectClass string    `json:"detected_object_class"`
	ConfidenceScore     float64   `json:"confidence_score"`
	LoadedAt            time.Time `json:"-"`
}

func (DetectionRow) TableName() string {
	return DetectionsTable
}

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression string // "snappy" | "zstd" | "none"
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{Compression: "snappy"}
}

// SchemaVersion returns the version of the schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
