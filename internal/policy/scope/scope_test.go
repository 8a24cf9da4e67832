package scope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

func u(host, path string) urlnorm.URL {
	return urlnorm.URL{Host: host, Path: path, Canonical: "https://" + host + path}
}

func TestAdmit(t *testing.T) {
	t.Parallel()

	p, err := New(Config{
		AllowedDomains:  []string{"partner.org"},
		BlockedDomains:  []string{"*.ads.example.com", "tracker.net"},
		PathRestriction: "/docs",
		PathExcludes:    []string{"/docs/private/*", "**.pdf"},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		url    urlnorm.URL
		class  urlnorm.Class
		admit  bool
		reason string
	}{
		{name: "internal docs", url: u("example.com", "/docs/intro"), class: urlnorm.ClassInternal, admit: true},
		{name: "outside restriction", url: u("example.com", "/blog"), class: urlnorm.ClassInternal, reason: ReasonPath},
		{name: "excluded glob", url: u("example.com", "/docs/private/keys"), class: urlnorm.ClassInternal, reason: ReasonExcluded},
		{name: "excluded extension", url: u("example.com", "/docs/manual.pdf"), class: urlnorm.ClassInternal, reason: ReasonExcluded},
		{name: "blocked suffix", url: u("cdn.ads.example.com", "/docs"), class: urlnorm.ClassSubdomain, reason: ReasonBlockedDomain},
		{name: "blocked exact", url: u("tracker.net", "/docs"), class: urlnorm.ClassExternal, reason: ReasonBlockedDomain},
		{name: "social", url: u("twitter.com", "/docs"), class: urlnorm.ClassSocial, reason: ReasonSocial},
		{name: "external", url: u("other.org", "/docs"), class: urlnorm.ClassExternal, reason: ReasonOffsite},
		{name: "subdomain offsite", url: u("blog.example.com", "/docs"), class: urlnorm.ClassSubdomain, reason: ReasonOffsite},
		{name: "allowed partner", url: u("www.partner.org", "/docs/api"), class: urlnorm.ClassExternal, admit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.Admit(tt.url, tt.class)
			require.Equal(t, tt.admit, got.Admitted)
			require.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestAdmitOffsite(t *testing.T) {
	t.Parallel()

	p, err := New(Config{AllowOffsite: true})
	require.NoError(t, err)

	require.True(t, p.Admit(u("other.org", "/"), urlnorm.ClassExternal).Admitted)
	require.True(t, p.Admit(u("fr.example.org", ""), urlnorm.ClassNetwork).Admitted)
	require.False(t, p.Admit(u("facebook.com", "/page"), urlnorm.ClassSocial).Admitted)
}

func TestNewRejectsBadGlob(t *testing.T) {
	t.Parallel()

	_, err := New(Config{PathExcludes: []string{"/docs/[a"}})
	require.Error(t, err)
}

func TestDomainPatterns(t *testing.T) {
	t.Parallel()

	require.Nil(t, newDomainPatterns([]string{" ", "*."}))

	d := newDomainPatterns([]string{".example.com", "*.example.com", "Shop.io"})
	require.Len(t, d.suffixes, 1)
	require.True(t, d.Match("example.com"))
	require.True(t, d.Match("a.b.example.com"))
	require.True(t, d.Match("www.shop.io"))
	require.False(t, d.Match("notexample.com"))
	require.False(t, d.Match(""))
}
