package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

func htmlResponse(status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	long := "<html><body>" + strings.Repeat("<p>real content</p>", 200) + "</body></html>"
	tests := []struct {
		name string
		resp crawler.FetchResponse
		want bool
	}{
		{name: "empty body", resp: htmlResponse(200, "  "), want: true},
		{name: "next shell", resp: htmlResponse(200, `<div id="__next"></div>`), want: true},
		{name: "empty root", resp: htmlResponse(200, long+`<div id="root"></div>`), want: true},
		{name: "noscript hint", resp: htmlResponse(200, long+`<noscript>Please enable JavaScript</noscript>`), want: true},
		{name: "script heavy", resp: htmlResponse(200, `<html><script>var a=1;</script><p>t</p></html>`), want: true},
		{name: "static page", resp: htmlResponse(200, long), want: false},
		{name: "not found", resp: htmlResponse(404, ""), want: false},
		{name: "json", resp: crawler.FetchResponse{
			StatusCode: 200,
			Headers:    http.Header{"Content-Type": {"application/json"}},
		}, want: false},
	}

	h := NewHeuristic(1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote(tt.resp))
		})
	}
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	require.Zero(t, scriptShare(nil))
	require.Zero(t, scriptShare([]byte("<p>no scripts</p>")))
	require.Equal(t, 100, scriptShare([]byte("<script>never closed")))
	require.Equal(t, 50, scriptShare([]byte("<script></script>xxxxxxxxxxxxxxxxx")))
}

func TestNewHeuristicDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultThreshold, NewHeuristic(0).BodyLengthThreshold)
}
