package tables

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
)

var chemedKey = source.PartitionKey{Channel: "chemed", Date: "2024-06-01"}

const chemedFile = `{
  "channel_info": {"title": "CheMed", "username": "@CheMed123", "scraped_at": "2024-06-01T23:00:00", "message_count": 2},
  "messages": [
    {"id": 101, "message": "Paracetamol in stock", "date": "2024-06-01T09:30:00+00:00", "views": 250, "forwards": 3, "replies": 1, "has_media": true, "media_type": "photo", "media_path": "2024-06-01/CheMed123/media_101.jpg", "extra": {"kept": true}},
    {"id": 102, "message": "Open on Sunday", "date": "", "views": null, "has_media": false}
  ]
}`

func TestParseDocumentChemedScenario(t *testing.T) {
	doc, err := ParseDocument([]byte(chemedFile), chemedKey)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	doc.SourceFile = "2024-06-01/chemed.json"

	rows := doc.Collect()
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	a, b := rows[0], rows[1]
	want := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	if a.MessageDate == nil || !a.MessageDate.Equal(want) {
		t.Errorf("row A date = %v, want %v", a.MessageDate, want)
	}
	if b.MessageDate != nil {
		t.Errorf("row B date = %v, want NULL", b.MessageDate)
	}
	if b.MessageText == nil || *b.MessageText != "Open on Sunday" {
		t.Errorf("row B text = %v", b.MessageText)
	}
	if b.Views != nil {
		t.Errorf("row B views = %v, want NULL", *b.Views)
	}
	for _, r := range rows {
		if r.ChannelUsername != "@CheMed123" || r.ChannelTitle != "CheMed" {
			t.Errorf("channel = %s/%s", r.ChannelUsername, r.ChannelTitle)
		}
		if r.PartitionDate != "2024-06-01" || r.SourceFile != "2024-06-01/chemed.json" {
			t.Errorf("lineage = %s %s", r.PartitionDate, r.SourceFile)
		}
	}
	if !strings.Contains(a.RawData, `"extra"`) {
		t.Errorf("raw_data should keep unmodelled fields: %s", a.RawData)
	}
	if len(doc.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", doc.Warnings())
	}

	ch := doc.ChannelRow()
	if ch.ChannelUsername != "@CheMed123" {
		t.Errorf("channel username = %s", ch.ChannelUsername)
	}
	if ch.MessageCount == nil || *ch.MessageCount != 2 {
		t.Errorf("message_count = %v", ch.MessageCount)
	}
	if ch.ScrapedAt == nil || ch.RawData == nil {
		t.Error("scraped_at and raw_data should be set")
	}
}

func TestParseDocumentEmptyMessages(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"channel_info":{"title":"T","username":"@t","message_count":0},"messages":[]}`), chemedKey)
	if err != nil {
		t.Fatal(err)
	}
	if rows := doc.Collect(); len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
	if !doc.HasChannelInfo() {
		t.Error("channel info should be present")
	}
	if doc.ChannelRow().ChannelUsername != "@t" {
		t.Error("channel row should come from channel_info")
	}
}

func TestParseDocumentMissingTimestampKeepsRow(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"messages":[{"id":1,"message":"hi","views":5}]}`), chemedKey)
	if err != nil {
		t.Fatal(err)
	}
	rows := doc.Collect()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.MessageDate != nil {
		t.Error("date should be NULL")
	}
	if r.MessageText == nil || *r.MessageText != "hi" || r.Views == nil || *r.Views != 5 {
		t.Errorf("other fields should be populated: %+v", r)
	}
}

func TestParseDocumentMalformedTimestampWarns(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"messages":[{"id":1,"date":"not a date","edit_date":"2024-13-45"}]}`), chemedKey)
	if err != nil {
		t.Fatal(err)
	}
	rows := doc.Collect()
	if len(rows) != 1 || rows[0].MessageDate != nil || rows[0].EditDate != nil {
		t.Fatalf("malformed timestamps should be NULL, row kept: %+v", rows)
	}
	if got := len(doc.Warnings()); got != 2 {
		t.Errorf("got %d warnings, want 2: %v", got, doc.Warnings())
	}
}

func TestParseDocumentFallsBackToPathKey(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"messages":[{"id":7,"text":"alias"}]}`), chemedKey)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Channel.Username != "@chemed" || doc.Channel.Title != "chemed" || !doc.Channel.FromPath {
		t.Errorf("channel = %+v", doc.Channel)
	}
	if doc.HasChannelInfo() {
		t.Error("no channel_info block expected")
	}
	rows := doc.Collect()
	if rows[0].MessageText == nil || *rows[0].MessageText != "alias" {
		t.Error("text alias should populate message_text")
	}
	ch := doc.ChannelRow()
	if ch.RawData != nil || ch.ChannelUsername != "@chemed" {
		t.Errorf("fallback channel row = %+v", ch)
	}
}

func TestFallbackUsername(t *testing.T) {
	if got := FallbackUsername("@CheMed123"); got != "@CheMed123" {
		t.Errorf("got %s", got)
	}
	if got := FallbackUsername("chemed"); got != "@chemed" {
		t.Errorf("got %s", got)
	}
}

func TestParseDocumentBareArray(t *testing.T) {
	doc, err := ParseDocument([]byte(`[{"id":1},{"id":2},{"id":3}]`), chemedKey)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(doc.Collect()); n != 3 {
		t.Errorf("got %d rows, want 3", n)
	}
}

func TestParseDocumentDropsRecordsWithoutID(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"messages":[{"id":1},{"message":"no id"},"junk",{"id":"x"}]}`), chemedKey)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(doc.Collect()); n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}
	if d := doc.Dropped(); len(d) != 3 {
		t.Errorf("got %d dropped, want 3: %+v", len(d), d)
	}
	if doc.MessageCount() != 4 {
		t.Errorf("MessageCount = %d, want 4", doc.MessageCount())
	}
}

func TestParseDocumentRejectsCorruptFile(t *testing.T) {
	for _, data := range []string{``, `{"messages":[{"id":1}`, `"just a string"`, `{"messages":{"id":1}}`} {
		_, err := ParseDocument([]byte(data), chemedKey)
		if !errors.Is(err, ErrParse) {
			t.Errorf("ParseDocument(%q) err = %v, want ErrParse", data, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) || pe.Key != chemedKey {
			t.Errorf("ParseDocument(%q) should return *ParseError with key", data)
		}
	}
}

func TestRowsIsRestartable(t *testing.T) {
	doc, _ := ParseDocument([]byte(chemedFile), chemedKey)

	var first int
	for range doc.Rows() {
		first++
		break
	}
	if first != 1 {
		t.Fatalf("early break yielded %d", first)
	}
	if n := len(doc.Collect()); n != 2 {
		t.Errorf("second pass yielded %d rows, want 2", n)
	}
}
