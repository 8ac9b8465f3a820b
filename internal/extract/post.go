// Package extract turns raw archive members into typed records.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"parler_dump/internal/models"
	"parler_dump/internal/timestamp"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

var (
	ErrEmptyID    = errors.New("entry name yields no identifier")
	ErrNotAPost   = errors.New("markup has no post container and no title")
	ErrBadCounter = errors.New("malformed counter")
)

const echoedByPrefix = "Echoed By"

// Footer widget keys, from the img alt text lower-cased with spaces as underscores.
const (
	counterComments = "post_comments"
	counterEchoes   = "post_echoes"
	counterUpvotes  = "post_upvotes"
)

// PostID derives the post identifier from an archive member name: the base
// name with a trailing ".html" removed. Other dots are part of the id.
func PostID(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	if len(base) > len(htmlSuffix) && strings.EqualFold(base[len(base)-len(htmlSuffix):], htmlSuffix) {
		base = base[:len(base)-len(htmlSuffix)]
	}
	return strings.TrimSpace(base)
}

const htmlSuffix = ".html"

// Post parses one rendered post page. It holds no shared state besides the
// resolver and may be called from many goroutines.
func Post(id string, markup []byte, resolver *timestamp.Resolver) (*models.PostRecord, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	body, err := charset.NewReader(bytes.NewReader(markup), "text/html")
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	container := doc.Find("div.card--post-container").First()
	titleSel := doc.Find("title").First()
	if container.Length() == 0 && titleSel.Length() == 0 {
		return nil, ErrNotAPost
	}

	post := &models.PostRecord{
		ID:              id,
		ImpressionCount: models.UnknownCount,
		CommentCount:    models.UnknownCount,
		EchoCount:       models.UnknownCount,
		UpvoteCount:     models.UnknownCount,
		Media:           extractMedia(doc),
	}

	post.AuthorUsername, post.AuthorName, post.Title = splitTitle(titleSel.Text())

	if echoedBy := textOf(container.Find("div.eb--statement > span.reblock").First()); echoedBy != nil {
		name := strings.TrimSpace(strings.TrimPrefix(*echoedBy, echoedByPrefix))
		if name != "" {
			post.AuthorName = &name
		}
	}

	post.AuthorProfileImgURL = attrOf(container.Find("div.eb--profile-pic > img").First(), "src")
	post.CreatedAtRaw = textOf(container.Find("span.card-meta--row > span.post--timestamp").First())
	post.CreatedAtResolved = resolve(resolver, post.CreatedAtRaw)
	post.Body = extractBody(container)

	if echo := container.Find("span.echo--parent").First(); echo.Length() > 0 {
		info := &models.EchoInfo{
			AuthorName:          textOf(echo.Find("span.author--name").First()),
			AuthorUsername:      trimmed(textOf(echo.Find("span.author--username").First()), "@"),
			AuthorProfileImgURL: attrOf(echo.Find("div.ch--avatar--wrapper > img").First(), "src"),
			CreatedAtRaw:        textOf(echo.Find("span.post--timestamp").First()),
		}
		info.CreatedAtResolved = resolve(resolver, info.CreatedAtRaw)
		post.Echo = info
	}
	post.IsEcho = post.Echo != nil

	if n, ok := counter(container.Find("span.impressions--count").First().Text()); ok {
		post.ImpressionCount = n
	}
	counts := footerCounters(container)
	if n, ok := counts[counterComments]; ok {
		post.CommentCount = n
	}
	if n, ok := counts[counterEchoes]; ok {
		post.EchoCount = n
	}
	if n, ok := counts[counterUpvotes]; ok {
		post.UpvoteCount = n
	}

	return post, nil
}

// splitTitle splits "@user - Display Name - Post title" into at most three parts.
func splitTitle(title string) (username, name, rest *string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, nil
	}
	parts := strings.SplitN(title, "-", 3)
	username = nonEmpty(strings.Trim(parts[0], "@ \t\n"))
	if len(parts) > 1 {
		name = nonEmpty(strings.TrimSpace(parts[1]))
	}
	if len(parts) > 2 {
		rest = nonEmpty(strings.TrimSpace(parts[2]))
	}
	return username, name, rest
}

// extractBody joins the direct text nodes of every body paragraph.
func extractBody(container *goquery.Selection) string {
	var lines []string
	container.Find("div.card--body > p").Each(func(_ int, p *goquery.Selection) {
		p.Contents().Each(func(_ int, c *goquery.Selection) {
			if n := c.Get(0); n != nil && n.Type == html.TextNode {
				lines = append(lines, n.Data)
			}
		})
	})
	return strings.Join(lines, "\n")
}

func footerCounters(container *goquery.Selection) map[string]int {
	counts := make(map[string]int)
	container.Find("div.card--footer div.pa--item--wrapper").Each(func(_ int, s *goquery.Selection) {
		label, ok := s.Find("img").First().Attr("alt")
		if !ok || strings.TrimSpace(label) == "" {
			return
		}
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
		if n, ok := counter(s.Find("span.pa--item--count").First().Text()); ok {
			counts[key] = n
		}
	})
	return counts
}

// counter parses "1,234", "1.2k" or "3M". ok is false for anything else.
func counter(raw string) (int, bool) {
	n, err := ParseCount(raw)
	return n, err == nil
}

func ParseCount(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrBadCounter
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "b"):
		mult, s = 1e9, strings.TrimSuffix(s, "b")
	}

	if mult == 1 {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadCounter, raw)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q", ErrBadCounter, raw)
	}
	v := f*mult + 0.5
	if math.IsInf(v, 0) || v >= math.MaxInt {
		return 0, fmt.Errorf("%w: %q out of range", ErrBadCounter, raw)
	}
	return int(v), nil
}

func resolve(r *timestamp.Resolver, raw *string) *time.Time {
	if r == nil || raw == nil {
		return nil
	}
	return r.Resolve(*raw)
}

func textOf(s *goquery.Selection) *string {
	if s.Length() == 0 {
		return nil
	}
	return nonEmpty(strings.TrimSpace(s.Text()))
}

func attrOf(s *goquery.Selection, name string) *string {
	v, ok := s.Attr(name)
	if !ok {
		return nil
	}
	return nonEmpty(strings.TrimSpace(v))
}

func trimmed(s *string, cutset string) *string {
	if s == nil {
		return nil
	}
	return nonEmpty(strings.Trim(*s, cutset))
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
