package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier("www.example.com")
	tests := []struct {
		host     string
		hreflang bool
		want     Class
	}{
		{host: "example.com", want: ClassInternal},
		{host: "WWW.example.com", want: ClassInternal},
		{host: "blog.example.com", want: ClassSubdomain},
		{host: "other.org", want: ClassExternal},
		{host: "example.de", hreflang: true, want: ClassNetwork},
		{host: "m.facebook.com", want: ClassSocial},
		{host: "x.com", hreflang: true, want: ClassSocial},
		{host: "notx.com", want: ClassExternal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, c.Classify(tt.host, tt.hreflang), "host %s", tt.host)
	}
}
