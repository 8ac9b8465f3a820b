package models

import (
	"encoding/json"
	"time"
)

// UnknownCount marks an engagement counter that was never observed on the page.
const UnknownCount = -1

type EchoInfo struct {
	AuthorUsername      *string    `json:"author_username"`
	AuthorName          *string    `json:"author_name"`
	AuthorProfileImgURL *string    `json:"author_profile_img_url"`
	CreatedAtRaw        *string    `json:"created_at_raw"`
	CreatedAtResolved   *time.Time `json:"created_at_resolved"`
}

type Image struct {
	URL string  `json:"url"`
	Alt *string `json:"alt"`
}

type Video struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type BasicLink struct {
	Title *string `json:"title"`
	URL   string  `json:"url"`
}

type Article struct {
	Title    *string `json:"title"`
	Excerpt  *string `json:"excerpt"`
	URL      string  `json:"url"`
	ImageURL *string `json:"image_url"`
}

type Website struct {
	Title    *string `json:"title"`
	Excerpt  *string `json:"excerpt"`
	URL      string  `json:"url"`
	ImageURL *string `json:"image_url"`
}

type IframeEmbed struct {
	SourceURL   *string `json:"source_url"`
	MetaTitle   *string `json:"meta_title"`
	MetaExcerpt *string `json:"meta_excerpt"`
	MetaLink    *string `json:"meta_link"`
}

type MediaBundle struct {
	Images       []Image       `json:"images"`
	Videos       []Video       `json:"videos"`
	BasicLinks   []BasicLink   `json:"basic_links"`
	Articles     []Article     `json:"articles"`
	Websites     []Website     `json:"websites"`
	IframeEmbeds []IframeEmbed `json:"iframe_embeds"`
}

func NewMediaBundle() MediaBundle {
	return MediaBundle{
		Images:       []Image{},
		Videos:       []Video{},
		BasicLinks:   []BasicLink{},
		Articles:     []Article{},
		Websites:     []Website{},
		IframeEmbeds: []IframeEmbed{},
	}
}

func (m MediaBundle) Empty() bool {
	return len(m.Images)+len(m.Videos)+len(m.BasicLinks)+
		len(m.Articles)+len(m.Websites)+len(m.IframeEmbeds) == 0
}

type PostRecord struct {
	ID                  string      `json:"id"`
	AuthorUsername      *string     `json:"author_username"`
	AuthorName          *string     `json:"author_name"`
	AuthorProfileImgURL *string     `json:"author_profile_img_url"`
	Title               *string     `json:"title"`
	CreatedAtRaw        *string     `json:"created_at_raw"`
	CreatedAtResolved   *time.Time  `json:"created_at_resolved"`
	Body                string      `json:"body"`
	ImpressionCount     int         `json:"impression_count"`
	CommentCount        int         `json:"comment_count"`
	EchoCount           int         `json:"echo_count"`
	UpvoteCount         int         `json:"upvote_count"`
	IsEcho              bool        `json:"is_echo"`
	Echo                *EchoInfo   `json:"echo"`
	Media               MediaBundle `json:"media"`
}

type VideoMetadataRecord struct {
	VideoID      string          `json:"video_id"`
	CreateDate   *string         `json:"create_date"`
	CapturedAt   *time.Time      `json:"captured_at"`
	GPSLatitude  *string         `json:"gps_latitude"`
	GPSLongitude *string         `json:"gps_longitude"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
	Make         *string         `json:"make"`
	Model        *string         `json:"model"`
	MIMEType     *string         `json:"mime_type"`
	Duration     *string         `json:"duration"`
	ImageWidth   *int            `json:"image_width"`
	ImageHeight  *int            `json:"image_height"`
	Exif         json.RawMessage `json:"exif"`
}

type UserRecord struct {
	ID           string  `json:"id"`
	Username     *string `json:"username"`
	Banned       *bool   `json:"banned"`
	Bio          *string `json:"bio"`
	ProfilePhoto *string `json:"profile_photo"`
	Followers    *int64  `json:"followers"`
	Following    *int64  `json:"following"`
	Posts        *int64  `json:"posts"`
	Joined       *string `json:"joined"`
	Verified     *bool   `json:"verified"`
}

type RunRecord struct {
	ID         string `bson:"_id"`
	Kind       string `bson:"kind"`
	Input      string `bson:"input"`
	Output     string `bson:"output"`
	Processed  int64  `bson:"processed"`
	Skipped    int64  `bson:"skipped"`
	Duplicates int64  `bson:"duplicates"`
	Failed     int64  `bson:"failed"`
	Status     string `bson:"status"` // success, error, cancelled
	StartedAt  int64  `bson:"started_at"`
	FinishedAt int64  `bson:"finished_at"`
	DurationMS int64  `bson:"duration_ms"`
	Error      string `bson:"error,omitempty"`
}

type LoadedFile struct {
	Table    string `bson:"table"`
	Input    string `bson:"input"`
	Loaded   int64  `bson:"loaded"`
	LoadedAt int64  `bson:"loaded_at"`
}

func String(s string) *string { return &s }
