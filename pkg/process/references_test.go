package process

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

var pageURL, _ = url.Parse("http://example.org/docs/page.html")

func extract(t *testing.T, contentType, body string) []models.Reference {
	t.Helper()
	refs, err := NewReferenceProcessor(testLogger()).ExtractReferences(contentType, pageURL, []byte(body))
	require.NoError(t, err)
	return refs
}

func urls(refs []models.Reference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.URL
	}
	return out
}

func TestExtractReferences_HTML(t *testing.T) {
	refs := extract(t, "text/html", `<html><head>
		<link rel="stylesheet" href="/css/site.css">
		<link rel="next" href="page2.html">
		<script src="app.js"></script>
	</head><body background="bg.png">
		<a href="other.html#section">Other</a>
		<a href="mailto:someone@example.org">Mail</a>
		<a href="#top">Top</a>
		<img src="logo.png">
		<form action="/search"><input type="text"></form>
	</body></html>`)

	require.Len(t, refs, 6)
	assert.Equal(t, []string{
		"http://example.org/css/site.css",
		"http://example.org/docs/page2.html",
		"http://example.org/docs/app.js",
		"http://example.org/docs/bg.png",
		"http://example.org/docs/other.html#section",
		"http://example.org/docs/logo.png",
	}, urls(refs))

	byURL := map[string]models.Reference{}
	for _, r := range refs {
		byURL[r.URL] = r
	}
	assert.True(t, byURL["http://example.org/css/site.css"].IsRequisite)
	assert.False(t, byURL["http://example.org/docs/page2.html"].IsRequisite)
	assert.True(t, byURL["http://example.org/docs/app.js"].IsRequisite)
	assert.False(t, byURL["http://example.org/docs/other.html#section"].IsRequisite)
	assert.Equal(t, "a.href", byURL["http://example.org/docs/other.html#section"].Tag)
	assert.Equal(t, "img.src", byURL["http://example.org/docs/logo.png"].Tag)
	assert.NotContains(t, urls(refs), "http://example.org/search", "forms are skipped")
}

func TestExtractReferences_LinkRel(t *testing.T) {
	refs := extract(t, "text/html", `
		<link href="a.png" rel="icon">
		<link href="b.png" rel="shortcut icon">
		<link href="c.css" rel="alternate stylesheet">
		<link href="d.png" rel="apple-touch-icon">
		<link href="e.xml" rel="alternate">
		<link href="f.css">`)

	require.Len(t, refs, 6)
	want := []bool{true, true, true, true, false, false}
	for i, r := range refs {
		assert.Equal(t, want[i], r.IsRequisite, r.URL)
	}
}

func TestExtractReferences_Base(t *testing.T) {
	refs := extract(t, "text/html", `<base href="/bar/"><a href="foo">x</a>`)
	assert.Equal(t, []string{"http://example.org/bar/foo"}, urls(refs))

	refs = extract(t, "text/html", `<base href="http://other.example/">
		<a style="background-image: url('foo.gif')">x</a>
		<style> body { background-image: url(bar.gif) }</style>`)
	assert.Equal(t, []string{"http://other.example/foo.gif", "http://other.example/bar.gif"}, urls(refs))
	assert.True(t, refs[0].IsRequisite)
	assert.Equal(t, "a.style", refs[0].Tag)
	assert.Equal(t, "style", refs[1].Tag)
}

func TestExtractReferences_MetaRefreshAndEntities(t *testing.T) {
	refs := extract(t, "text/html", `<meta http-equiv="refresh" content="10; url=index.html"><a href="f&quot;oo">`)
	require.Len(t, refs, 2)
	assert.Equal(t, "http://example.org/docs/index.html", refs[0].URL)
	assert.Equal(t, "meta.content", refs[0].Tag)
	assert.Equal(t, "http://example.org/docs/f%22oo", refs[1].URL)
}

func TestExtractReferences_WhitespaceInAttribute(t *testing.T) {
	refs := extract(t, "text/html", "<a href=\"\n   /foo\">x</a>")
	assert.Equal(t, []string{"http://example.org/foo"}, urls(refs))
}

func TestExtractReferences_CSS(t *testing.T) {
	refs := extract(t, "text/css; charset=utf-8", `
		@import "reset.css";
		@import url(print.css) print;
		body { background: url( 'img/bg.png' ) }
		.x { background: url(data:image/png;base64,AAAA) }`)

	assert.Equal(t, []string{
		"http://example.org/docs/reset.css",
		"http://example.org/docs/print.css",
		"http://example.org/docs/img/bg.png",
	}, urls(refs))
	for _, r := range refs {
		assert.True(t, r.IsRequisite)
	}
	assert.Equal(t, "css.import", refs[0].Tag)
	assert.Equal(t, "css.url", refs[1].Tag)
}

func TestExtractReferences_CSSSourceOrder(t *testing.T) {
	refs := extract(t, "text/css", `
		a { background: url(one.png) }
		@import 'two.css';
		b { background: url("three.png") }
		@import "four.css";`)

	require.Len(t, refs, 4)
	assert.Equal(t, []string{
		"http://example.org/docs/one.png",
		"http://example.org/docs/two.css",
		"http://example.org/docs/three.png",
		"http://example.org/docs/four.css",
	}, urls(refs))
	assert.Equal(t, []string{"css.url", "css.import", "css.url", "css.import"},
		[]string{refs[0].Tag, refs[1].Tag, refs[2].Tag, refs[3].Tag})
}

func TestExtractReferences_Charset(t *testing.T) {
	// "caf\xe9" is café in ISO-8859-1
	body := "<a href=\"caf\xe9.html\">x</a>"
	refs := extract(t, "text/html; charset=ISO-8859-1", body)
	require.Len(t, refs, 1)
	assert.Equal(t, "http://example.org/docs/caf%C3%A9.html", refs[0].URL)
}

func TestExtractReferences_OtherTypes(t *testing.T) {
	refs := extract(t, "image/png", "\x89PNG")
	assert.Empty(t, refs)
}

func TestReplaceReferences_HTML(t *testing.T) {
	p := NewReferenceProcessor(testLogger())
	body := `<html><head><base href="/docs/"><meta charset="iso-8859-1"><link rel="stylesheet" href="site.css"></head>
<body><a href="other.html">o</a><a href="http://elsewhere.example/">e</a>
<meta http-equiv="refresh" content="5; url=next.html">
<p style="background: url('bg.png')">x</p></body></html>`

	out, err := p.ReplaceReferences("text/html", pageURL, []byte(body), func(ref models.Reference) (string, bool) {
		switch ref.URL {
		case "http://example.org/docs/site.css":
			return "site.css", true
		case "http://example.org/docs/other.html":
			return "other.html", true
		case "http://example.org/docs/next.html":
			return "next.html", true
		case "http://example.org/docs/bg.png":
			return "img/bg.png", true
		}
		return "", false
	})
	require.NoError(t, err)

	s := string(out)
	assert.NotContains(t, s, "<base")
	assert.Contains(t, s, `<meta charset="utf-8"/>`)
	assert.Contains(t, s, `href="other.html"`)
	assert.Contains(t, s, `href="http://elsewhere.example/"`)
	assert.Contains(t, s, `content="5; url=next.html"`)
	assert.Contains(t, s, `url(&#34;img/bg.png&#34;)`)
}

func TestReplaceReferences_CSS(t *testing.T) {
	p := NewReferenceProcessor(testLogger())
	css := `@import 'a.css'; h1 { background-image: url('foo.png') } h2 { background: url(keep.png) }`

	out, err := p.ReplaceReferences("text/css", pageURL, []byte(css), func(ref models.Reference) (string, bool) {
		if strings.HasSuffix(ref.URL, "keep.png") {
			return "", false
		}
		return "local/" + ref.URL[strings.LastIndex(ref.URL, "/")+1:], true
	})
	require.NoError(t, err)
	assert.Equal(t, `@import "local/a.css"; h1 { background-image: url("local/foo.png") } h2 { background: url(keep.png) }`, string(out))
}

func TestReplaceReferences_PassThrough(t *testing.T) {
	p := NewReferenceProcessor(testLogger())
	body := []byte{0x89, 'P', 'N', 'G'}
	out, err := p.ReplaceReferences("image/png", pageURL, body, func(models.Reference) (string, bool) { return "x", true })
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestLinkHeaderReferences(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `</css/site.css>; rel=stylesheet, <https://example.org/next>; rel="next"`)
	h.Add("Link", `<icon.png>; rel="shortcut icon"; title="a, b"`)
	h.Add("Link", `garbage`)

	refs := LinkHeaderReferences(h, pageURL)

	require.Len(t, refs, 3)
	assert.Equal(t, "http://example.org/css/site.css", refs[0].URL)
	assert.True(t, refs[0].IsRequisite)
	assert.Equal(t, "https://example.org/next", refs[1].URL)
	assert.False(t, refs[1].IsRequisite)
	assert.Equal(t, "http://example.org/docs/icon.png", refs[2].URL)
	assert.True(t, refs[2].IsRequisite)
	assert.Equal(t, "http.link", refs[2].Tag)
}
