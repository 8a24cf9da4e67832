package urlnorm

import "strings"

// Class describes how a URL relates to the crawl's root hosts.
type Class string

// URL classes.
const (
	ClassInternal  Class = "internal"
	ClassSubdomain Class = "subdomain"
	ClassExternal  Class = "external"
	ClassNetwork   Class = "network"
	ClassSocial    Class = "social"
)

var socialDomains = []string{
	"facebook.com", "fb.com", "twitter.com", "x.com", "instagram.com",
	"linkedin.com", "youtube.com", "tiktok.com", "snapchat.com", "pinterest.com",
	"reddit.com", "discord.com", "telegram.org", "whatsapp.com", "messenger.com",
	"skype.com", "zoom.us",
}

// Classifier labels URLs relative to a set of root hosts.
type Classifier struct {
	roots map[string]struct{}
}

// NewClassifier builds a classifier for the given root hosts.
func NewClassifier(roots ...string) *Classifier {
	c := &Classifier{roots: make(map[string]struct{}, len(roots))}
	for _, r := range roots {
		c.AddRoot(r)
	}
	return c
}

// AddRoot registers another root host. Not safe for concurrent use with Classify.
func (c *Classifier) AddRoot(host string) {
	if host = bareHost(host); host != "" {
		c.roots[host] = struct{}{}
	}
}

// Classify returns the class of host. fromHreflang marks links found through
// hreflang alternates, which belong to the site's language network.
func (c *Classifier) Classify(host string, fromHreflang bool) Class {
	host = bareHost(host)
	if _, ok := c.roots[host]; ok {
		return ClassInternal
	}
	if isSocial(host) {
		return ClassSocial
	}
	for root := range c.roots {
		if strings.HasSuffix(host, "."+root) {
			return ClassSubdomain
		}
	}
	if fromHreflang {
		return ClassNetwork
	}
	return ClassExternal
}

func isSocial(host string) bool {
	for _, d := range socialDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func bareHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}
