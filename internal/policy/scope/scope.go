// Package scope decides which discovered URLs belong to the crawl.
package scope

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

// Rejection reasons.
const (
	ReasonBlockedDomain = "blocked_domain"
	ReasonSocial        = "social"
	ReasonOffsite       = "offsite"
	ReasonPath          = "path_restriction"
	ReasonExcluded      = "path_excluded"
)

// Config lists the scope rules.
type Config struct {
	AllowOffsite bool
	// AllowedDomains admits non-root hosts even when offsite is disabled.
	AllowedDomains []string
	BlockedDomains []string
	// PathRestriction, when set, must appear in the path of every admitted URL.
	PathRestriction string
	// PathExcludes are glob patterns matched against the URL path.
	PathExcludes []string
}

// Decision is the verdict for one URL.
type Decision struct {
	Admitted bool
	Reason   string
}

// Policy applies Config to classified URLs.
type Policy struct {
	allowOffsite bool
	allowed      *domainPatterns
	blocked      *domainPatterns
	pathPrefix   string
	excludes     []glob.Glob
}

// New compiles cfg.
func New(cfg Config) (*Policy, error) {
	p := &Policy{
		allowOffsite: cfg.AllowOffsite,
		allowed:      newDomainPatterns(cfg.AllowedDomains),
		blocked:      newDomainPatterns(cfg.BlockedDomains),
		pathPrefix:   strings.TrimSpace(cfg.PathRestriction),
	}
	for _, pattern := range cfg.PathExcludes {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile path exclude %q: %w", pattern, err)
		}
		p.excludes = append(p.excludes, g)
	}
	return p, nil
}

// Admit reports whether u, labeled class, may be queued. Social links are
// never queued. Subdomain, network and external links need offsite crawling
// or an allowed-domains match.
func (p *Policy) Admit(u urlnorm.URL, class urlnorm.Class) Decision {
	if p.blocked.Match(u.Host) {
		return Decision{Reason: ReasonBlockedDomain}
	}
	if class == urlnorm.ClassSocial {
		return Decision{Reason: ReasonSocial}
	}
	if class != urlnorm.ClassInternal && !p.allowOffsite && !p.allowed.Match(u.Host) {
		return Decision{Reason: ReasonOffsite}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if p.pathPrefix != "" && !strings.Contains(path, p.pathPrefix) {
		return Decision{Reason: ReasonPath}
	}
	for _, g := range p.excludes {
		if g.Match(path) {
			return Decision{Reason: ReasonExcluded}
		}
	}
	return Decision{Admitted: true}
}
