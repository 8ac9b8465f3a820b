package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ExifDateLayout is the layout of EXIF CreateDate values, e.g. "2021:01:08 21:01:04".
	ExifDateLayout = "2006:01:02 15:04:05"
	// CompactDateLayout is the layout of user join dates, e.g. "20200713192410".
	CompactDateLayout = "20060102150405"
)

var ErrBadCoordinate = errors.New("malformed DMS coordinate")

// ConvertDMS turns a degrees-minutes-seconds coordinate such as
// `44 deg 57' 24.12" N` into signed decimal degrees. W and S are negative.
func ConvertDMS(dms string) (float64, error) {
	s := strings.ReplaceAll(dms, "deg", " ")
	s = strings.NewReplacer("'", " ", "\"", " ", "°", " ").Replace(s)
	parts := strings.Fields(s)
	if len(parts) < 2 || len(parts) > 4 {
		return 0, fmt.Errorf("%w: %q", ErrBadCoordinate, dms)
	}

	direction := strings.ToUpper(parts[len(parts)-1])
	var sign float64
	switch direction {
	case "N", "E":
		sign = 1
	case "S", "W":
		sign = -1
	default:
		return 0, fmt.Errorf("%w: direction %q", ErrBadCoordinate, direction)
	}

	var dd float64
	divisor := 1.0
	for _, p := range parts[:len(parts)-1] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadCoordinate, dms)
		}
		dd += v / divisor
		divisor *= 60
	}
	return sign * dd, nil
}

// ParseTime parses s against layout in UTC. Empty or unparseable input yields nil.
func ParseTime(layout, s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// NewVideoMetadata builds a record from one raw EXIF object. The object is kept
// verbatim (compacted) in Exif; derived fields are best-effort.
func NewVideoMetadata(videoID string, exif json.RawMessage) (*VideoMetadataRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(exif, &fields); err != nil {
		return nil, fmt.Errorf("exif object: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, exif); err != nil {
		return nil, fmt.Errorf("exif object: %w", err)
	}

	rec := &VideoMetadataRecord{
		VideoID:      videoID,
		CreateDate:   exifString(fields, "CreateDate"),
		GPSLatitude:  exifString(fields, "GPSLatitude"),
		GPSLongitude: exifString(fields, "GPSLongitude"),
		Make:         exifString(fields, "Make"),
		Model:        exifString(fields, "Model"),
		MIMEType:     exifString(fields, "MIMEType"),
		Duration:     exifString(fields, "Duration"),
		ImageWidth:   exifInt(fields, "ImageWidth"),
		ImageHeight:  exifInt(fields, "ImageHeight"),
		Exif:         json.RawMessage(compact.Bytes()),
	}

	if rec.CreateDate != nil {
		rec.CapturedAt = ParseTime(ExifDateLayout, *rec.CreateDate)
	}
	if rec.GPSLatitude != nil {
		if v, err := ConvertDMS(*rec.GPSLatitude); err == nil {
			rec.Latitude = &v
		}
	}
	if rec.GPSLongitude != nil {
		if v, err := ConvertDMS(*rec.GPSLongitude); err == nil {
			rec.Longitude = &v
		}
	}
	return rec, nil
}

func exifString(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		s = n.String()
		return &s
	}
	return nil
}

func exifInt(fields map[string]json.RawMessage, key string) *int {
	s := exifString(fields, key)
	if s == nil {
		return nil
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		return nil
	}
	return &n
}
