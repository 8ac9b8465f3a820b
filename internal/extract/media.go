package extract

import (
	"net/url"
	"path"
	"strings"

	"parler_dump/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// NormalizeURL drops the fragment and a leading "www." and defaults the
// scheme to https, so the same media reference rendered twice collapses.
func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")

	if parsed.Scheme == "" && parsed.Host != "" {
		parsed.Scheme = "https"
	}

	return parsed.String()
}

// VideoID takes the source file name of a video URL without its extension.
func VideoID(src string) string {
	u, err := url.Parse(src)
	p := src
	if err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

type seen map[string]bool

func (s seen) add(raw string) bool {
	key := NormalizeURL(raw)
	if s[key] {
		return false
	}
	s[key] = true
	return true
}

func extractMedia(doc *goquery.Document) models.MediaBundle {
	media := models.NewMediaBundle()

	images := seen{}
	doc.Find("div.mc-image--container img").Each(func(_ int, s *goquery.Selection) {
		src := attrOf(s, "src")
		if src == nil || !images.add(*src) {
			return
		}
		media.Images = append(media.Images, models.Image{URL: *src, Alt: attrOf(s, "alt")})
	})

	videos := seen{}
	doc.Find("div.mc-video--container").Each(func(_ int, s *goquery.Selection) {
		src := attrOf(s.Find("span.mc-video--link > a").First(), "href")
		if src == nil {
			src = attrOf(s.Find("video source, video").First(), "src")
		}
		if src == nil || !videos.add(*src) {
			return
		}
		media.Videos = append(media.Videos, models.Video{ID: VideoID(*src), URL: *src})
	})

	links := seen{}
	doc.Find("div.mc-basic-link--container").Each(func(_ int, s *goquery.Selection) {
		href := attrOf(s.Find("span.mc-basic-link--link > a, a").First(), "href")
		if href == nil || !links.add(*href) {
			return
		}
		media.BasicLinks = append(media.BasicLinks, models.BasicLink{
			Title: textOf(s.Find("span.mc-basic-link--title").First()),
			URL:   *href,
		})
	})

	articles := seen{}
	doc.Find("div.mc-article--container").Each(func(_ int, s *goquery.Selection) {
		href := attrOf(s.Find("span.mc-article--link > a, a").First(), "href")
		if href == nil || !articles.add(*href) {
			return
		}
		media.Articles = append(media.Articles, models.Article{
			Title:    textOf(s.Find("span.mc-article--title").First()),
			Excerpt:  textOf(s.Find("span.mc-article--excerpt").First()),
			URL:      *href,
			ImageURL: attrOf(s.Find("img").First(), "src"),
		})
	})

	websites := seen{}
	doc.Find("div.mc-website--container").Each(func(_ int, s *goquery.Selection) {
		href := attrOf(s.Find("span.mc-website--link > a, a").First(), "href")
		if href == nil || !websites.add(*href) {
			return
		}
		media.Websites = append(media.Websites, models.Website{
			Title:    textOf(s.Find("span.mc-website--title").First()),
			Excerpt:  textOf(s.Find("span.mc-website--excerpt").First()),
			URL:      *href,
			ImageURL: attrOf(s.Find("img").First(), "src"),
		})
	})

	doc.Find("div.mc-iframe-embed--container").Each(func(_ int, s *goquery.Selection) {
		media.IframeEmbeds = append(media.IframeEmbeds, models.IframeEmbed{
			SourceURL:   attrOf(s.Find("iframe").First(), "src"),
			MetaTitle:   textOf(s.Find("span.mc-iframe-embed--title").First()),
			MetaExcerpt: textOf(s.Find("span.mc-iframe-embed--excerpt").First()),
			MetaLink:    attrOf(s.Find("span.mc-iframe-embed--link > a").First(), "href"),
		})
	})

	return media
}
