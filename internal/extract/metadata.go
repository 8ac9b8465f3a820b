package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"parler_dump/internal/models"
)

const (
	metaPrefix = "meta-"
	metaSuffix = ".json"
)

var ErrEmptyMetadata = errors.New("metadata array is empty")

// MetadataVideoID maps "meta-<video_id>.json" to its video id. Names that do
// not follow the convention yield "".
func MetadataVideoID(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if !strings.HasPrefix(base, metaPrefix) || !strings.HasSuffix(base, metaSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, metaPrefix), metaSuffix)
}

// VideoMetadata decodes a single-element JSON array holding one EXIF object.
func VideoMetadata(id string, content []byte) (*models.VideoMetadataRecord, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	var objects []json.RawMessage
	if err := json.Unmarshal(content, &objects); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(objects) == 0 {
		return nil, ErrEmptyMetadata
	}
	return models.NewVideoMetadata(id, objects[0])
}
