package storage

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPath(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		mediaType string
		want      string
	}{
		{"root", "http://example.org/", "text/html", "example.org/index.html"},
		{"trailing slash", "http://example.org/docs/", "text/html", "example.org/docs/index.html"},
		{"keeps extension", "http://example.org/a/style.css", "text/css", "example.org/a/style.css"},
		{"adds html extension", "http://example.org/about", "text/html", "example.org/about.html"},
		{"adds css extension", "http://example.org/theme", "text/css", "example.org/theme.css"},
		{"unknown type keeps name", "http://example.org/blob", "application/x-unknown-thing", "example.org/blob"},
		{"port folded into host", "http://example.org:8080/x.html", "text/html", "example.org_8080/x.html"},
		{"dot segments neutralized", "http://example.org/a/%2e%2e/b.html", "text/html", "example.org/a/__/b.html"},
		{"dotfile", "http://example.org/.well-known", "text/plain", "example.org/.well-known.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, LocalPath(u, tt.mediaType))
		})
	}
}

func TestLocalPath_QuerySuffix(t *testing.T) {
	a, _ := url.Parse("http://example.org/list.php?page=1")
	b, _ := url.Parse("http://example.org/list.php?page=2")

	pa, pb := LocalPath(a, "text/html"), LocalPath(b, "text/html")
	assert.NotEqual(t, pa, pb)
	assert.True(t, strings.HasPrefix(pa, "example.org/list_"), pa)
	assert.True(t, strings.HasSuffix(pa, ".php"), pa)
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(pa, "example.org/list_"), ".php"), 8)
}

func TestLocalPath_LongSegmentsCapped(t *testing.T) {
	u, _ := url.Parse("http://example.org/" + strings.Repeat("a", 400) + "/" + strings.Repeat("b", 400) + "?q=1")
	p := LocalPath(u, "text/html")
	for _, seg := range strings.Split(p, "/") {
		assert.LessOrEqual(t, len(seg), 255)
	}
	assert.True(t, strings.HasSuffix(p, ".html"))
}

func TestRelativeLink(t *testing.T) {
	tests := []struct {
		from, to, want string
	}{
		{"example.org/index.html", "example.org/style.css", "style.css"},
		{"example.org/docs/a.html", "example.org/img/logo.png", "../img/logo.png"},
		{"example.org/docs/a.html", "cdn.example.org/x.js", "../../cdn.example.org/x.js"},
		{"example.org/a.html", "example.org/docs/deep/b.html", "docs/deep/b.html"},
		{"index.html", "example.org/index.html", "example.org/index.html"},
		{"example.org/a.html", "example.org/my file.html", "my%20file.html"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RelativeLink(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
