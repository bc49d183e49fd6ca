package tables

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// ParquetRow is the archived layout of a MessageRow. Nullable timestamps
// are stored as optional Unix milliseconds.
type ParquetRow struct {
	MessageID       int64  `parquet:"message_id"`
	ChannelTitle    string `parquet:"channel_title"`
	ChannelUsername string `parquet:"channel_username"`

	MessageText   *string `parquet:"message_text"`
	MessageDateMs *int64  `parquet:"message_date_ms"`
	MediaPath     *string `parquet:"media_path"`
	Views         *int64  `parquet:"views"`
	Forwards      *int64  `parquet:"forwards"`
	Replies       *int64  `parquet:"replies"`
	EditDateMs    *int64  `parquet:"edit_date_ms"`
	HasMedia      *bool   `parquet:"has_media"`
	MediaType     *string `parquet:"media_type"`

	PartitionDate string `parquet:"partition_date"`
	SourceFile    string `parquet:"source_file"`
	RawData       string `parquet:"raw_data"`
	LoadedAtMs    int64  `parquet:"loaded_at_ms"`
}

func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// NewParquetRow projects a message onto the archived layout.
func NewParquetRow(r MessageRow) ParquetRow {
	return ParquetRow{
		MessageID:       r.MessageID,
		ChannelTitle:    r.ChannelTitle,
		ChannelUsername: r.ChannelUsername,
		MessageText:     r.MessageText,
		MessageDateMs:   toMillis(r.MessageDate),
		MediaPath:       r.MediaPath,
		Views:           r.Views,
		Forwards:        r.Forwards,
		Replies:         r.Replies,
		EditDateMs:      toMillis(r.EditDate),
		HasMedia:        r.HasMedia,
		MediaType:       r.MediaType,
		PartitionDate:   r.PartitionDate,
		SourceFile:      r.SourceFile,
		RawData:         r.RawData,
		LoadedAtMs:      r.LoadedAt.UnixMilli(),
	}
}

// MessageRow converts an archived row back. Timestamps keep millisecond
// precision.
func (p ParquetRow) MessageRow() MessageRow {
	return MessageRow{
		MessageID:       p.MessageID,
		ChannelTitle:    p.ChannelTitle,
		ChannelUsername: p.ChannelUsername,
		MessageText:     p.MessageText,
		MessageDate:     fromMillis(p.MessageDateMs),
		MediaPath:       p.MediaPath,
		Views:           p.Views,
		Forwards:        p.Forwards,
		Replies:         p.Replies,
		EditDate:        fromMillis(p.EditDateMs),
		HasMedia:        p.HasMedia,
		MediaType:       p.MediaType,
		PartitionDate:   p.PartitionDate,
		SourceFile:      p.SourceFile,
		RawData:         p.RawData,
		LoadedAt:        time.UnixMilli(p.LoadedAtMs).UTC(),
	}
}

func compressionCodec(name string) (compress.Codec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none", "uncompressed":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// WriteParquet encodes rows as a single parquet file.
func WriteParquet(w io.Writer, rows []MessageRow, cfg ParquetConfig) error {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return err
	}

	out := make([]ParquetRow, len(rows))
	for i, r := range rows {
		out[i] = NewParquetRow(r)
	}

	pw := parquet.NewGenericWriter[ParquetRow](w, parquet.Compression(codec))
	if _, err := pw.Write(out); err != nil {
		pw.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ToParquet encodes rows and returns the file bytes with their checksum.
func ToParquet(rows []MessageRow, cfg ParquetConfig) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := WriteParquet(&buf, rows, cfg); err != nil {
		return nil, "", err
	}
	data := buf.Bytes()
	return data, ComputeChecksum(data), nil
}

// ReadParquet decodes a file produced by WriteParquet.
func ReadParquet(data []byte) ([]MessageRow, error) {
	in, err := parquet.Read[ParquetRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	rows := make([]MessageRow, len(in))
	for i, p := range in {
		rows[i] = p.MessageRow()
	}
	return rows, nil
}
