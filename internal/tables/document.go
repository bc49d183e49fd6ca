package tables

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
)

// ErrParse marks a partition file whose container could not be decoded.
var ErrParse = errors.New("parse failed")

// ParseError rejects a whole partition file.
type ParseError struct {
	Key source.PartitionKey
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// DroppedRecord is a message record that could not become a row because a
// required field was missing or malformed.
type DroppedRecord struct {
	Record int
	Reason string
}

// ChannelInfo is the resolved channel identity of a document.
type ChannelInfo struct {
	Title    string
	Username string
	// FromPath is set when title or username fell back to the partition key.
	FromPath bool
}

// Document is a parsed partition file, ready to be normalized.
type Document struct {
	Key        source.PartitionKey
	SourceFile string
	Channel    ChannelInfo

	channelRaw json.RawMessage
	messages   []json.RawMessage

	channelWarnings []FieldWarning
	warnings        []FieldWarning
	dropped         []DroppedRecord
}

type container struct {
	ChannelInfo json.RawMessage   `json:"channel_info"`
	Messages    []json.RawMessage `json:"messages"`
}

// ParseDocument decodes a partition file. The file is either an object with
// "channel_info" and "messages", or a bare array of message records. Any
// decoding failure rejects the file with a *ParseError.
func ParseDocument(data []byte, key source.PartitionKey) (*Document, error) {
	doc := &Document{Key: key}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Key: key, Err: errors.New("empty file")}
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &doc.messages); err != nil {
			return nil, &ParseError{Key: key, Err: err}
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, &ParseError{Key: key, Err: err}
		}
		_, hasMessages := fields["messages"]
		_, hasChannel := fields["channel_info"]
		if !hasMessages && !hasChannel {
			// A lone message record.
			doc.messages = []json.RawMessage{trimmed}
			break
		}
		var c container
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, &ParseError{Key: key, Err: fmt.Errorf("decode container: %w", err)}
		}
		doc.messages = c.Messages
		if !isNull(c.ChannelInfo) {
			if bytes.TrimSpace(c.ChannelInfo)[0] == '{' {
				doc.channelRaw = c.ChannelInfo
			} else {
				w := newWarning("channel_info", c.ChannelInfo, "not an object")
				w.Record = -1
				doc.channelWarnings = append(doc.channelWarnings, *w)
			}
		}
	default:
		return nil, &ParseError{Key: key, Err: errors.New("top-level value must be an object or array")}
	}

	doc.resolveChannel()
	return doc, nil
}

// FallbackUsername derives a channel username from a partition channel name.
func FallbackUsername(channel string) string {
	if strings.HasPrefix(channel, "@") {
		return channel
	}
	return "@" + channel
}

func (d *Document) resolveChannel() {
	var info struct {
		Title    json.RawMessage `json:"title"`
		Username json.RawMessage `json:"username"`
	}
	if d.channelRaw != nil {
		// channelRaw is a valid object; field-level problems are handled below.
		_ = json.Unmarshal(d.channelRaw, &info)
	}

	if title, w := CoerceString("title", info.Title); title != nil && strings.TrimSpace(*title) != "" {
		d.Channel.Title = *title
		d.addChannelWarning(w)
	} else {
		d.Channel.Title = d.Key.Channel
		d.Channel.FromPath = true
		d.addChannelWarning(w)
	}
	if username, w := CoerceString("username", info.Username); username != nil && strings.TrimSpace(*username) != "" {
		d.Channel.Username = *username
		d.addChannelWarning(w)
	} else {
		d.Channel.Username = FallbackUsername(d.Key.Channel)
		d.Channel.FromPath = true
		d.addChannelWarning(w)
	}
}

func (d *Document) addChannelWarning(w *FieldWarning) {
	if w == nil {
		return
	}
	w.Record = -1
	d.channelWarnings = append(d.channelWarnings, *w)
}

// HasChannelInfo reports whether the file carried a channel-info block.
func (d *Document) HasChannelInfo() bool {
	return d.channelRaw != nil
}

// MessageCount returns the number of message records in the file, including
// records that will be dropped.
func (d *Document) MessageCount() int {
	return len(d.messages)
}

// DeclaredMessageCount returns channel_info.message_count, if present.
func (d *Document) DeclaredMessageCount() *int64 {
	if d.channelRaw == nil {
		return nil
	}
	var info struct {
		MessageCount json.RawMessage `json:"message_count"`
	}
	_ = json.Unmarshal(d.channelRaw, &info)
	n, _ := CoerceInt("message_count", info.MessageCount)
	return n
}

// ChannelRow returns the single channel-metadata row for this file.
func (d *Document) ChannelRow() ChannelRow {
	row := ChannelRow{
		ChannelUsername: d.Channel.Username,
		ChannelTitle:    d.Channel.Title,
		PartitionDate:   d.Key.Date,
		SourceFile:      d.SourceFile,
	}
	if d.channelRaw == nil {
		return row
	}

	var info struct {
		ScrapedAt    json.RawMessage `json:"scraped_at"`
		MessageCount json.RawMessage `json:"message_count"`
	}
	_ = json.Unmarshal(d.channelRaw, &info)

	row.ScrapedAt, _ = CoerceTimestamp("scraped_at", info.ScrapedAt)
	row.MessageCount, _ = CoerceInt("message_count", info.MessageCount)
	raw := string(d.channelRaw)
	row.RawData = &raw
	return row
}

// Rows lazily normalizes the message records. Each call starts a fresh pass
// and resets Warnings and Dropped, which are complete once the pass ends.
func (d *Document) Rows() iter.Seq[MessageRow] {
	return func(yield func(MessageRow) bool) {
		d.warnings = d.warnings[:0]
		d.dropped = d.dropped[:0]

		for i, raw := range d.messages {
			row, ok := d.normalize(i, raw)
			if !ok {
				continue
			}
			if !yield(row) {
				return
			}
		}
	}
}

// Collect drains Rows into a slice.
func (d *Document) Collect() []MessageRow {
	rows := make([]MessageRow, 0, len(d.messages))
	for row := range d.Rows() {
		rows = append(rows, row)
	}
	return rows
}

// Warnings returns field warnings from the channel-info block and the last
// Rows pass.
func (d *Document) Warnings() []FieldWarning {
	out := make([]FieldWarning, 0, len(d.channelWarnings)+len(d.warnings))
	out = append(out, d.channelWarnings...)
	return append(out, d.warnings...)
}

// Dropped returns records skipped during the last Rows pass.
func (d *Document) Dropped() []DroppedRecord {
	return append([]DroppedRecord(nil), d.dropped...)
}

type messageFields struct {
	ID        json.RawMessage `json:"id"`
	Message   json.RawMessage `json:"message"`
	Text      json.RawMessage `json:"text"`
	Date      json.RawMessage `json:"date"`
	MediaPath json.RawMessage `json:"media_path"`
	MediaType json.RawMessage `json:"media_type"`
	HasMedia  json.RawMessage `json:"has_media"`
	Views     json.RawMessage `json:"views"`
	Forwards  json.RawMessage `json:"forwards"`
	Replies   json.RawMessage `json:"replies"`
	EditDate  json.RawMessage `json:"edit_date"`
}

func (d *Document) normalize(i int, raw json.RawMessage) (MessageRow, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		d.dropped = append(d.dropped, DroppedRecord{Record: i, Reason: "record is not an object"})
		return MessageRow{}, false
	}

	var f messageFields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		d.dropped = append(d.dropped, DroppedRecord{Record: i, Reason: err.Error()})
		return MessageRow{}, false
	}

	id, w := CoerceInt("id", f.ID)
	if id == nil {
		reason := "missing id"
		if w != nil {
			reason = "invalid id: " + w.Reason
		}
		d.dropped = append(d.dropped, DroppedRecord{Record: i, Reason: reason})
		return MessageRow{}, false
	}

	row := MessageRow{
		MessageID:       *id,
		ChannelTitle:    d.Channel.Title,
		ChannelUsername: d.Channel.Username,
		PartitionDate:   d.Key.Date,
		SourceFile:      d.SourceFile,
		RawData:         string(trimmed),
	}

	note := func(w *FieldWarning) {
		if w != nil {
			w.Record = i
			d.warnings = append(d.warnings, *w)
		}
	}

	text := f.Message
	if isNull(text) {
		text = f.Text
	}
	row.MessageText, w = CoerceString("message", text)
	note(w)
	row.MessageDate, w = CoerceTimestamp("date", f.Date)
	note(w)
	row.MediaPath, w = CoerceString("media_path", f.MediaPath)
	note(w)
	row.MediaType, w = CoerceString("media_type", f.MediaType)
	note(w)
	row.HasMedia, w = CoerceBool("has_media", f.HasMedia)
	note(w)
	row.Views, w = CoerceInt("views", f.Views)
	note(w)
	row.Forwards, w = CoerceInt("forwards", f.Forwards)
	note(w)
	row.Replies, w = CoerceInt("replies", f.Replies)
	note(w)
	row.EditDate, w = CoerceTimestamp("edit_date", f.EditDate)
	note(w)

	return row, true
}
