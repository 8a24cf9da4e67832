// Package urlnorm canonicalizes URLs and derives the identity keys the
// frontier deduplicates on.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	whatwgUrl "github.com/nlnwa/whatwg-url/url"
)

// ErrInvalidURL is returned for input that cannot become a crawlable URL.
var ErrInvalidURL = errors.New("invalid url")

var parser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// Keyer derives an identity key from a canonical URL.
type Keyer interface {
	Key(canonical string) string
}

// URL is a normalized URL and its identity key.
type URL struct {
	Raw       string
	Canonical string
	Key       string
	Host      string
	Path      string
}

// Options tune normalization.
type Options struct {
	// DropParams are query keys (glob patterns, case-insensitive) removed
	// from every URL.
	DropParams []string
	SortQuery  bool
}

// Normalizer converts raw hrefs into canonical URLs.
type Normalizer struct {
	drop      []glob.Glob
	sortQuery bool
	keyer     Keyer
}

// New compiles the drop patterns and returns a Normalizer.
func New(opts Options, keyer Keyer) (*Normalizer, error) {
	if keyer == nil {
		return nil, errors.New("urlnorm: keyer is required")
	}
	n := &Normalizer{sortQuery: opts.SortQuery, keyer: keyer}
	for _, pattern := range opts.DropParams {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("compile drop param %q: %w", pattern, err)
		}
		n.drop = append(n.drop, g)
	}
	return n, nil
}

// Normalize resolves raw against base (which may be empty for absolute
// input) and returns its canonical form. Two inputs share a Key exactly when
// their canonical forms are equal.
func (n *Normalizer) Normalize(raw, base string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	var (
		parsed *whatwgUrl.Url
		err    error
	)
	if base != "" {
		parsed, err = parser.ParseRef(base, raw)
	} else {
		parsed, err = parser.Parse(raw)
	}
	if err != nil {
		return URL{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}

	u, err := url.Parse(parsed.Href(true))
	if err != nil {
		return URL{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return URL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return URL{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	u.Host = joinHostPort(u.Scheme, host, u.Port())
	u.Fragment, u.RawFragment = "", ""

	escaped := cleanPath(u.EscapedPath())
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return URL{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	u.Path, u.RawPath = unescaped, escaped

	u.RawQuery = n.cleanQuery(u.RawQuery)
	u.ForceQuery = false

	canonical := u.String()
	return URL{
		Raw:       raw,
		Canonical: canonical,
		Key:       n.keyer.Key(canonical),
		Host:      host,
		Path:      unescaped,
	}, nil
}

func joinHostPort(scheme, host, port string) string {
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return host
	}
	return host + ":" + port
}

// cleanPath collapses duplicate slashes and strips the trailing slash from
// everything but the root.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	out := b.String()
	if len(out) > 1 {
		out = strings.TrimSuffix(out, "/")
	}
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

type queryPair struct {
	key string
	raw string
}

func (n *Normalizer) cleanQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := make([]queryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if n.dropped(key) {
			continue
		}
		kept = append(kept, queryPair{key: key, raw: part})
	}
	if n.sortQuery {
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].key < kept[j].key })
	}
	out := make([]string, len(kept))
	for i, p := range kept {
		out[i] = p.raw
	}
	return strings.Join(out, "&")
}

func (n *Normalizer) dropped(key string) bool {
	key = strings.ToLower(key)
	for _, g := range n.drop {
		if g.Match(key) {
			return true
		}
	}
	return false
}
