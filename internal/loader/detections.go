package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/warehouse"
)

// imageMessageID matches the message id suffix in names like
// "@lobelia4cosmetics_18511.jpg".
var imageMessageID = regexp.MustCompile(`_(\d+)$`)

// MessageIDFromImage extracts the message id encoded in an image file name.
func MessageIDFromImage(name string) (int64, bool) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	m := imageMessageID.FindStringSubmatch(stem)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	return id, err == nil
}

// LoadDetections reads the object-detection output at path (a JSON array or
// a CSV with a header row) and appends it to the detections table.
func LoadDetections(ctx context.Context, w warehouse.Writer, path string) (int64, error) {
	log := logging.Component("detections")

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read detections %s: %w", path, err)
	}

	var rows []tables.DetectionRow
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err = ParseDetectionsCSV(bytes.NewReader(data))
	} else {
		rows, err = ParseDetectionsJSON(data)
	}
	if err != nil {
		return 0, fmt.Errorf("parse detections %s: %w", path, err)
	}

	if err := w.EnsureSchema(ctx); err != nil {
		return 0, fmt.Errorf("ensure schema: %w", err)
	}
	n, err := w.AppendDetections(ctx, rows)
	if err != nil {
		return 0, err
	}
	log.Info("detections loaded", "path", path, "rows", n)
	return n, nil
}

type detectionRecord struct {
	MessageID           *int64  `json:"message_id"`
	ImagePath           string  `json:"image_path"`
	ImageFilename       string  `json:"image_filename"`
	DetectedObjectClass string  `json:"detected_object_class"`
	ConfidenceScore     float64 `json:"confidence_score"`
}

func (r detectionRecord) row(i int) (tables.DetectionRow, error) {
	image := r.ImagePath
	if image == "" {
		image = r.ImageFilename
	}
	row := tables.DetectionRow{
		ImagePath:           image,
		DetectedObjectClass: r.DetectedObjectClass,
		ConfidenceScore:     r.ConfidenceScore,
	}
	switch {
	case r.MessageID != nil:
		row.MessageID = *r.MessageID
	default:
		id, ok := MessageIDFromImage(image)
		if !ok {
			return row, fmt.Errorf("record %d: no message_id and none in image name %q", i, image)
		}
		row.MessageID = id
	}
	if row.DetectedObjectClass == "" {
		return row, fmt.Errorf("record %d: detected_object_class is empty", i)
	}
	if row.ConfidenceScore < 0 || row.ConfidenceScore > 1 {
		return row, fmt.Errorf("record %d: confidence_score %v out of range", i, row.ConfidenceScore)
	}
	return row, nil
}

// ParseDetectionsJSON decodes a JSON array of detection records.
func ParseDetectionsJSON(data []byte) ([]tables.DetectionRow, error) {
	var recs []detectionRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	rows := make([]tables.DetectionRow, 0, len(recs))
	for i, r := range recs {
		row, err := r.row(i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseDetectionsCSV decodes detection records from CSV. Columns are matched
// by header name; unknown columns such as bbox are ignored.
func ParseDetectionsCSV(r io.Reader) ([]tables.DetectionRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	if _, ok := col["detected_object_class"]; !ok {
		return nil, errors.New("missing detected_object_class column")
	}

	var rows []tables.DetectionRow
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", i, err)
		}

		d := detectionRecord{
			ImagePath:           get(rec, "image_path"),
			ImageFilename:       get(rec, "image_filename"),
			DetectedObjectClass: get(rec, "detected_object_class"),
		}
		if v := get(rec, "message_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("record %d: message_id %q: %w", i, v, err)
			}
			d.MessageID = &id
		}
		if v := get(rec, "confidence_score"); v != "" {
			score, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("record %d: confidence_score %q: %w", i, v, err)
			}
			d.ConfidenceScore = score
		}

		row, err := d.row(i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
