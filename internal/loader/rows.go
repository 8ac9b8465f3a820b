package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"parler_dump/internal/models"
)

var ErrMissingID = errors.New("record has no id")

// DecodeFunc turns one JSON line into a row for its table.
type DecodeFunc func(line []byte) (Row, error)

type Table struct {
	Name    string
	Columns []string
	Decode  DecodeFunc
}

// The column order of each table is a contract with the schema in
// internal/db; the row builders below emit values in exactly this order.
var (
	PostColumns = []string{
		"id", "author_username", "author_name", "author_profile_img_url", "title",
		"created_at", "approx_created_at", "body", "impression_count", "comment_count",
		"echo_count", "upvote_count", "is_echo", "echo", "media",
	}
	MetadataColumns = []string{"id", "created_at", "lat", "lon", "exif"}
	UserColumns     = []string{
		"id", "username", "banned", "bio", "profile_photo",
		"followers", "following", "posts", "joined", "verified",
	}
)

func PostsTable(name string) Table {
	return Table{Name: name, Columns: PostColumns, Decode: DecodePost}
}

func MetadataTable(name string) Table {
	return Table{Name: name, Columns: MetadataColumns, Decode: DecodeMetadata}
}

func UsersTable(name string) Table {
	return Table{Name: name, Columns: UserColumns, Decode: DecodeUser}
}

func PostRow(p *models.PostRecord) (Row, error) {
	if p.ID == "" {
		return nil, ErrMissingID
	}
	var echo any
	if p.Echo != nil {
		raw, err := compactJSON(p.Echo)
		if err != nil {
			return nil, fmt.Errorf("echo: %w", err)
		}
		echo = raw
	}
	media, err := compactJSON(p.Media)
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}

	return Row{
		p.ID,
		str(p.AuthorUsername),
		str(p.AuthorName),
		str(p.AuthorProfileImgURL),
		str(p.Title),
		str(p.CreatedAtRaw),
		timestamp(p.CreatedAtResolved),
		p.Body,
		int64(p.ImpressionCount),
		int64(p.CommentCount),
		int64(p.EchoCount),
		int64(p.UpvoteCount),
		p.Echo != nil,
		echo,
		media,
	}, nil
}

func DecodePost(line []byte) (Row, error) {
	var p models.PostRecord
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, err
	}
	return PostRow(&p)
}

// MetadataRow derives created_at and the coordinates from the raw EXIF
// strings: CreateDate against the fixed EXIF layout, GPS from DMS.
func MetadataRow(m *models.VideoMetadataRecord) (Row, error) {
	if m.VideoID == "" {
		return nil, ErrMissingID
	}

	createdAt := m.CapturedAt
	if m.CreateDate != nil {
		createdAt = models.ParseTime(models.ExifDateLayout, *m.CreateDate)
	}
	lat := coordinate(m.GPSLatitude, m.Latitude)
	lon := coordinate(m.GPSLongitude, m.Longitude)

	var exif any
	if len(m.Exif) > 0 && string(m.Exif) != "null" {
		exif = m.Exif
	}

	return Row{m.VideoID, timestamp(createdAt), lat, lon, exif}, nil
}

// DecodeMetadata accepts both normalized records (with an "exif" object) and
// raw EXIF lines that only carry an added "video_id".
func DecodeMetadata(line []byte) (Row, error) {
	var probe struct {
		VideoID string          `json:"video_id"`
		Exif    json.RawMessage `json:"exif"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}

	if len(probe.Exif) > 0 && probe.Exif[0] == '{' {
		var m models.VideoMetadataRecord
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return MetadataRow(&m)
	}

	m, err := models.NewVideoMetadata(probe.VideoID, line)
	if err != nil {
		return nil, err
	}
	return MetadataRow(m)
}

func UserRow(u *models.UserRecord) (Row, error) {
	if u.ID == "" {
		return nil, ErrMissingID
	}
	var joined *time.Time
	if u.Joined != nil {
		joined = models.ParseTime(models.CompactDateLayout, *u.Joined)
	}
	return Row{
		u.ID,
		str(u.Username),
		boolean(u.Banned),
		str(u.Bio),
		str(u.ProfilePhoto),
		integer(u.Followers),
		integer(u.Following),
		integer(u.Posts),
		timestamp(joined),
		boolean(u.Verified),
	}, nil
}

func DecodeUser(line []byte) (Row, error) {
	var u models.UserRecord
	if err := json.Unmarshal(line, &u); err != nil {
		return nil, err
	}
	return UserRow(&u)
}

func coordinate(dms *string, fallback *float64) any {
	if dms != nil {
		if v, err := models.ConvertDMS(*dms); err == nil {
			return v
		}
		return nil
	}
	if fallback != nil {
		return *fallback
	}
	return nil
}

func str(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func integer(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func boolean(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func timestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
