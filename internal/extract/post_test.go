package extract

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"parler_dump/internal/models"
	"parler_dump/internal/timestamp"
)

var testNow = time.Date(2021, 1, 11, 6, 0, 0, 0, time.UTC)

func testResolver() *timestamp.Resolver {
	return timestamp.NewResolver(time.Hour,
		timestamp.WithClock(func() time.Time { return testNow }),
		timestamp.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestPost_EchoFixture(t *testing.T) {
	post, err := Post("4f2a9c", readFixture(t, "echo_post.html"), testResolver())
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"author_username", deref(post.AuthorUsername), "patriot1776"},
		{"author_name", deref(post.AuthorName), "Jane Q. Doe"},
		{"title", deref(post.Title), "Heading to DC tomorrow"},
		{"profile img", deref(post.AuthorProfileImgURL), "https://images.parler.com/profile/jane.jpg"},
		{"created_at_raw", deref(post.CreatedAtRaw), "3 hours ago"},
		{"body", post.Body, "First line of the post\nSecond line\nthird line"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}

	wantResolved := testNow.Add(-time.Hour).Add(-3 * time.Hour)
	if post.CreatedAtResolved == nil || !post.CreatedAtResolved.Equal(wantResolved) {
		t.Errorf("created_at_resolved = %v, want %v", post.CreatedAtResolved, wantResolved)
	}

	if !post.IsEcho || post.Echo == nil {
		t.Fatal("expected echo")
	}
	if deref(post.Echo.AuthorUsername) != "origuser" || deref(post.Echo.AuthorName) != "Original Author" {
		t.Errorf("echo author = %q / %q", deref(post.Echo.AuthorUsername), deref(post.Echo.AuthorName))
	}
	if deref(post.Echo.AuthorProfileImgURL) != "https://images.parler.com/profile/orig.jpg" {
		t.Errorf("echo img = %q", deref(post.Echo.AuthorProfileImgURL))
	}
	if post.Echo.CreatedAtResolved == nil {
		t.Error("echo time not resolved")
	}

	if post.ImpressionCount != 1204 || post.CommentCount != 12 || post.EchoCount != 0 || post.UpvoteCount != 1500 {
		t.Errorf("counters = %d/%d/%d/%d", post.ImpressionCount, post.CommentCount, post.EchoCount, post.UpvoteCount)
	}

	m := post.Media
	if len(m.Images) != 1 || m.Images[0].URL != "https://images.parler.com/a.jpg" || deref(m.Images[0].Alt) != "crowd" {
		t.Errorf("images = %+v", m.Images)
	}
	if len(m.Videos) != 1 || m.Videos[0].ID != "Xy9aB3kLmN" {
		t.Errorf("videos = %+v", m.Videos)
	}
	if len(m.BasicLinks) != 1 || m.BasicLinks[0].URL != "https://example.com/basic" || deref(m.BasicLinks[0].Title) != "Some link" {
		t.Errorf("basic links = %+v", m.BasicLinks)
	}
	if len(m.Articles) != 1 || deref(m.Articles[0].Excerpt) != "Something happened." || deref(m.Articles[0].ImageURL) != "https://example.com/thumb.png" {
		t.Errorf("articles = %+v", m.Articles)
	}
	if len(m.Websites) != 1 || deref(m.Websites[0].Title) != "A website" || m.Websites[0].Excerpt != nil {
		t.Errorf("websites = %+v", m.Websites)
	}
	if len(m.IframeEmbeds) != 1 {
		t.Fatalf("iframes = %+v", m.IframeEmbeds)
	}
	embed := m.IframeEmbeds[0]
	if deref(embed.SourceURL) != "https://www.youtube.com/embed/abc" || deref(embed.MetaLink) != "https://youtu.be/abc" ||
		deref(embed.MetaTitle) != "Embedded clip" || deref(embed.MetaExcerpt) != "An excerpt" {
		t.Errorf("iframe = %+v", embed)
	}
}

func TestPost_PlainFixture(t *testing.T) {
	post, err := Post("plain1", readFixture(t, "plain_post.html"), testResolver())
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if deref(post.AuthorUsername) != "lonewolf" || deref(post.AuthorName) != "Lone Wolf" {
		t.Errorf("author = %q / %q", deref(post.AuthorUsername), deref(post.AuthorName))
	}
	if post.Title != nil {
		t.Errorf("title = %q, want nil", *post.Title)
	}
	if post.IsEcho || post.Echo != nil {
		t.Error("plain post must not be an echo")
	}
	if post.Body != "" {
		t.Errorf("body = %q, want empty", post.Body)
	}
	if post.AuthorProfileImgURL != nil {
		t.Errorf("profile img = %q", *post.AuthorProfileImgURL)
	}

	if post.UpvoteCount != 7 {
		t.Errorf("upvotes = %d", post.UpvoteCount)
	}
	for name, v := range map[string]int{
		"impressions": post.ImpressionCount,
		"comments":    post.CommentCount,
		"echoes":      post.EchoCount,
	} {
		if v != models.UnknownCount {
			t.Errorf("%s = %d, want sentinel %d", name, v, models.UnknownCount)
		}
	}

	want := time.Date(2021, 1, 6, 19, 33, 55, 0, time.UTC)
	if post.CreatedAtResolved == nil || !post.CreatedAtResolved.Equal(want) {
		t.Errorf("resolved = %v, want %v", post.CreatedAtResolved, want)
	}

	if !post.Media.Empty() || post.Media.Images == nil || post.Media.IframeEmbeds == nil {
		t.Errorf("media should be empty but non-nil: %+v", post.Media)
	}
}

func TestPost_IsEchoMatchesEcho(t *testing.T) {
	pages := map[string]string{
		"echo":    `<title>@a - A - t</title><div class="card--post-container"><span class="echo--parent"></span></div>`,
		"no echo": `<title>@a - A - t</title><div class="card--post-container"></div>`,
		"bare":    `<title>only title</title>`,
	}
	for name, page := range pages {
		post, err := Post("x1", []byte(page), nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if post.IsEcho != (post.Echo != nil) {
			t.Errorf("%s: is_echo=%v but echo=%v", name, post.IsEcho, post.Echo)
		}
	}
}

func TestPost_Charset(t *testing.T) {
	page := []byte("<html><head><meta charset=\"windows-1252\"><title>@u - Caf\xe9 Owner</title></head><body></body></html>")
	post, err := Post("c1", page, nil)
	if err != nil {
		t.Fatal(err)
	}
	if deref(post.AuthorName) != "Café Owner" {
		t.Errorf("author name = %q", deref(post.AuthorName))
	}
}

func TestPost_Errors(t *testing.T) {
	if _, err := Post("", []byte("<title>x</title>"), nil); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id err = %v", err)
	}
	if _, err := Post("id", []byte("<p>nothing here</p>"), nil); !errors.Is(err, ErrNotAPost) {
		t.Errorf("no post err = %v", err)
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		in                string
		user, name, title string
	}{
		{"@bob - Bob Smith - Hello - world", "bob", "Bob Smith", "Hello - world"},
		{"@bob", "bob", "<nil>", "<nil>"},
		{"", "<nil>", "<nil>", "<nil>"},
		{" - Anonymous", "<nil>", "Anonymous", "<nil>"},
	}
	for _, tt := range tests {
		u, n, ti := splitTitle(tt.in)
		if deref(u) != tt.user || deref(n) != tt.name || deref(ti) != tt.title {
			t.Errorf("splitTitle(%q) = %q, %q, %q", tt.in, deref(u), deref(n), deref(ti))
		}
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{" 1,204 ", 1204, true},
		{"1.5k", 1500, true},
		{"2M", 2000000, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"-3", 0, false},
		{"9e30k", 0, false},
		{"1e300b", 0, false},
		{"NaNk", 0, false},
		{"infm", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseCount(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseCount(%q) = %d, %v", tt.in, got, err)
		}
		if !tt.ok && !errors.Is(err, ErrBadCounter) {
			t.Errorf("ParseCount(%q) err = %v, want ErrBadCounter", tt.in, err)
		}
	}
}

func TestIDs(t *testing.T) {
	if got := PostID("posts/abc123def"); got != "abc123def" {
		t.Errorf("PostID = %q", got)
	}
	if got := PostID("abc.html"); got != "abc" {
		t.Errorf("PostID = %q", got)
	}
	if got := PostID("posts/abc.HTML"); got != "abc" {
		t.Errorf("PostID = %q", got)
	}
	// Only ".html" is dropped, so "x" and "x.json" stay distinct.
	if got := PostID("abc.json"); got != "abc.json" {
		t.Errorf("PostID = %q", got)
	}
	if got := PostID("v1.2.3"); got != "v1.2.3" {
		t.Errorf("PostID = %q", got)
	}
	if got := PostID(".html"); got != ".html" {
		t.Errorf("PostID = %q", got)
	}
	if got := PostID(""); got != "" {
		t.Errorf("PostID(\"\") = %q", got)
	}
	if got := MetadataVideoID("metadata/meta-Xy9aB3kLmN.json"); got != "Xy9aB3kLmN" {
		t.Errorf("MetadataVideoID = %q", got)
	}
	if got := MetadataVideoID("metadata/other.json"); got != "" {
		t.Errorf("MetadataVideoID = %q", got)
	}
	if got := VideoID("https://video.parler.com/a/b/clip01.mp4?x=1"); got != "clip01" {
		t.Errorf("VideoID = %q", got)
	}
}

func TestVideoMetadata(t *testing.T) {
	rec, err := VideoMetadata("vid1", []byte(`[{"CreateDate":"2021:01:06 19:33:55","GPSLatitude":"44 deg 57' 24.12\" N"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if rec.VideoID != "vid1" || rec.Latitude == nil || rec.CapturedAt == nil {
		t.Errorf("record = %+v", rec)
	}

	if _, err := VideoMetadata("vid1", []byte(`[]`)); !errors.Is(err, ErrEmptyMetadata) {
		t.Errorf("empty array err = %v", err)
	}
	if _, err := VideoMetadata("vid1", []byte(`{`)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := VideoMetadata("", []byte(`[{}]`)); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id err = %v", err)
	}
}
