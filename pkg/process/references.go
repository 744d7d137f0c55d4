package process

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Extractor finds the outbound references of a fetched resource
type Extractor interface {
	ExtractReferences(contentType string, base *url.URL, body []byte) ([]models.Reference, error)
}

// ReplaceFunc returns the new value for a reference, or false to leave it alone
type ReplaceFunc func(ref models.Reference) (string, bool)

// Replacer rewrites the references of a resource
type Replacer interface {
	ReplaceReferences(contentType string, base *url.URL, body []byte, fn ReplaceFunc) ([]byte, error)
}

// attrSpec lists the URL attributes of an element and whether they are needed to render the page
type attrSpec struct {
	attrs     []string
	requisite bool
}

var htmlTags = map[string]attrSpec{
	"a":       {attrs: []string{"href"}},
	"area":    {attrs: []string{"href"}},
	"img":     {attrs: []string{"src", "lowsrc", "href"}, requisite: true},
	"script":  {attrs: []string{"src"}, requisite: true},
	"applet":  {attrs: []string{"code"}, requisite: true},
	"bgsound": {attrs: []string{"src"}, requisite: true},
	"body":    {attrs: []string{"background"}, requisite: true},
	"embed":   {attrs: []string{"src"}, requisite: true},
	"fig":     {attrs: []string{"src"}, requisite: true},
	"frame":   {attrs: []string{"src"}, requisite: true},
	"iframe":  {attrs: []string{"src"}, requisite: true},
	"input":   {attrs: []string{"src"}, requisite: true},
	"layer":   {attrs: []string{"src"}, requisite: true},
	"object":  {attrs: []string{"data"}, requisite: true},
	"overlay": {attrs: []string{"src"}, requisite: true},
	"table":   {attrs: []string{"background"}, requisite: true},
	"td":      {attrs: []string{"background"}, requisite: true},
	"th":      {attrs: []string{"background"}, requisite: true},
	"source":  {attrs: []string{"src"}, requisite: true},
	"video":   {attrs: []string{"src", "poster"}, requisite: true},
	"audio":   {attrs: []string{"src"}, requisite: true},
}

var metaRefreshRe = regexp.MustCompile(`(?i)^(\s*[\d.]*\s*[;,]?\s*url\s*=\s*)['"]?([^'"]*)['"]?\s*$`)

// IsExtractable reports whether references can be extracted from a media type
func IsExtractable(mediaType string) bool {
	return isHTML(mediaType) || isCSS(mediaType)
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isCSS(mediaType string) bool { return mediaType == "text/css" }

// ReferenceProcessor extracts and replaces references in HTML and CSS documents
type ReferenceProcessor struct {
	log *logrus.Entry
}

var (
	_ Extractor = (*ReferenceProcessor)(nil)
	_ Replacer  = (*ReferenceProcessor)(nil)
)

// NewReferenceProcessor creates a ReferenceProcessor
func NewReferenceProcessor(log *logrus.Entry) *ReferenceProcessor {
	return &ReferenceProcessor{log: log.WithField("component", "references")}
}

// ExtractReferences returns the absolute http(s) references of body in document order.
// Other media types yield no references.
func (p *ReferenceProcessor) ExtractReferences(contentType string, base *url.URL, body []byte) ([]models.Reference, error) {
	var refs []models.Reference
	collect := func(ref models.Reference) (string, bool) {
		refs = append(refs, ref)
		return "", false
	}
	switch mt := mediaTypeOf(contentType); {
	case isHTML(mt):
		if _, err := p.walkHTML(contentType, base, body, collect); err != nil {
			return nil, err
		}
	case isCSS(mt):
		walkCSS(string(decode(body, contentType)), base, "", collect)
	}
	return refs, nil
}

// ReplaceReferences returns body with every reference fn agrees to replace rewritten.
// HTML output is re-serialized as UTF-8 and loses its <base> element, since
// rewritten links are relative to the file itself.
func (p *ReferenceProcessor) ReplaceReferences(contentType string, base *url.URL, body []byte, fn ReplaceFunc) ([]byte, error) {
	switch mt := mediaTypeOf(contentType); {
	case isHTML(mt):
		doc, err := p.walkHTML(contentType, base, body, fn)
		if err != nil {
			return nil, err
		}
		doc.Find("base[href]").Remove()
		out, err := doc.Html()
		if err != nil {
			return nil, fmt.Errorf("%w: serializing HTML: %w", utils.ErrParsing, err)
		}
		return []byte(out), nil
	case isCSS(mt):
		return []byte(walkCSS(string(decode(body, contentType)), base, "", fn)), nil
	}
	return body, nil
}

// walkHTML parses body and calls fn for each reference, applying replacements in place.
func (p *ReferenceProcessor) walkHTML(contentType string, pageURL *url.URL, body []byte, fn ReplaceFunc) (*goquery.Document, error) {
	utf8Body := decode(body, contentType)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8Body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML: %w", utils.ErrParsing, err)
	}
	markUTF8(doc)

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		} else {
			p.log.WithField("url", pageURL.String()).Debugf("Ignoring invalid <base href=%q>: %v", href, err)
		}
	}

	emit := func(raw string, requisite bool, tag string) (string, bool) {
		abs, ok := resolve(base, raw)
		if !ok {
			return "", false
		}
		return fn(models.Reference{URL: abs, IsRequisite: requisite, Tag: tag})
	}

	doc.Find("*").Each(func(_ int, el *goquery.Selection) {
		name := goquery.NodeName(el)
		switch name {
		case "form", "base":
			// Forms are never followed; base was applied above
		case "link":
			href, ok := el.Attr("href")
			if !ok {
				break
			}
			if repl, ok := emit(href, isRequisiteRel(el.AttrOr("rel", "")), "link.href"); ok {
				el.SetAttr("href", repl)
			}
		case "meta":
			if !strings.EqualFold(el.AttrOr("http-equiv", ""), "refresh") {
				break
			}
			content := el.AttrOr("content", "")
			m := metaRefreshRe.FindStringSubmatch(content)
			if m == nil || strings.TrimSpace(m[2]) == "" {
				break
			}
			if repl, ok := emit(m[2], false, "meta.content"); ok {
				el.SetAttr("content", m[1]+repl)
			}
		case "style":
			css := el.Text()
			rewritten := walkCSS(css, base, "style", fn)
			if rewritten != css {
				el.SetText(rewritten)
			}
		default:
			if spec, ok := htmlTags[name]; ok {
				for _, attr := range spec.attrs {
					v, ok := el.Attr(attr)
					if !ok {
						continue
					}
					if repl, ok := emit(v, spec.requisite, name+"."+attr); ok {
						el.SetAttr(attr, repl)
					}
				}
			}
		}
		if style, ok := el.Attr("style"); ok {
			rewritten := walkCSS(style, base, name+".style", fn)
			if rewritten != style {
				el.SetAttr("style", rewritten)
			}
		}
	})
	return doc, nil
}

// walkCSS reports the references of a stylesheet as requisites. tag overrides
// the css.url/css.import tag when set.
func walkCSS(css string, base *url.URL, tag string, fn ReplaceFunc) string {
	return rewriteCSS(css, func(value, cssTag string) (string, bool) {
		abs, ok := resolve(base, value)
		if !ok {
			return "", false
		}
		if tag != "" {
			cssTag = tag
		}
		return fn(models.Reference{URL: abs, IsRequisite: true, Tag: cssTag})
	})
}

// isRequisiteRel: stylesheets and icons are needed to render the page, other link relations are not
func isRequisiteRel(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == "stylesheet" || strings.HasSuffix(r, "icon") {
			return true
		}
	}
	return false
}

// resolve makes raw absolute against base and drops anything that is not http(s)
func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

// decode converts body to UTF-8 using the Content-Type charset, a BOM or <meta> prescan
func decode(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

// markUTF8 updates charset declarations, since serialized output is always UTF-8
func markUTF8(doc *goquery.Document) {
	doc.Find("meta[charset]").SetAttr("charset", "utf-8")
	doc.Find("meta[http-equiv]").Each(func(_ int, el *goquery.Selection) {
		if strings.EqualFold(el.AttrOr("http-equiv", ""), "content-type") {
			el.SetAttr("content", "text/html; charset=utf-8")
		}
	})
}

func mediaTypeOf(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
