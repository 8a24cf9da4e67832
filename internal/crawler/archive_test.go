package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchivePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		key         string
		want        string
	}{
		{name: "html", contentType: "text/html; charset=utf-8", key: "abcdef", want: "pages/s1/ab/abcdef.html"},
		{name: "rss", contentType: "application/rss+xml", key: "abcdef", want: "pages/s1/ab/abcdef.xml"},
		{name: "unknown", contentType: "", key: "abcdef", want: "pages/s1/ab/abcdef.bin"},
		{name: "short key", contentType: "application/json", key: "a", want: "pages/s1/a/a.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ArchivePath("pages", "s1", tt.key, tt.contentType))
		})
	}
}
