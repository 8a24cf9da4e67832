// Package extract pulls outbound links from fetched HTML documents.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:", "ftp:", "sms:"}

// Extractor implements crawler.LinkExtractor with goquery.
type Extractor struct{}

var _ crawler.LinkExtractor = Extractor{}

// New returns an Extractor.
func New() Extractor {
	return Extractor{}
}

// Extract returns the page's <a>, <area> and hreflang alternate links. A
// <base href> changes the base the links resolve against. A robots meta tag
// with nofollow marks every link nofollow. Documents that are not HTML yield
// no links.
func (Extractor) Extract(pageURL string, contentType string, body []byte) (crawler.PageLinks, error) {
	out := crawler.PageLinks{Base: pageURL}
	if !isHTML(contentType, body) {
		return out, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if base, err := resolve(pageURL, href); err == nil {
			out.Base = base
		}
	}

	pageNofollow := false
	doc.Find(`meta[name]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		if strings.EqualFold(name, "robots") && hasToken(content, "nofollow") {
			pageNofollow = true
		}
	})

	seen := make(map[string]struct{})
	add := func(link crawler.Link) {
		key := link.Href + "\x00" + link.Hreflang
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out.Links = append(out.Links, link)
	}

	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skip(href) {
			return
		}
		rel := strings.ToLower(strings.TrimSpace(s.AttrOr("rel", "")))
		add(crawler.Link{
			Href:     href,
			Text:     strings.Join(strings.Fields(s.Text()), " "),
			Rel:      rel,
			Nofollow: pageNofollow || hasToken(rel, "nofollow"),
		})
	})

	doc.Find("link[rel][hreflang][href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if !hasToken(rel, "alternate") {
			return
		}
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skip(href) {
			return
		}
		add(crawler.Link{
			Href:     href,
			Rel:      rel,
			Hreflang: strings.ToLower(strings.TrimSpace(s.AttrOr("hreflang", ""))),
			Nofollow: pageNofollow,
		})
	})
	return out, nil
}

func isHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if ct != "" {
		return strings.Contains(ct, "html")
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

func skip(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func hasToken(list, token string) bool {
	for _, f := range strings.FieldsFunc(strings.ToLower(list), func(r rune) bool { return r == ' ' || r == ',' }) {
		if f == token {
			return true
		}
	}
	return false
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	ref, err := b.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return ref.String(), nil
}
