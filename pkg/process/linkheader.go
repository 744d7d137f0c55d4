package process

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// LinkHeaderReferences returns the targets of HTTP Link headers, e.g.
//
//	Link: </style.css>; rel=stylesheet, <https://example.org/next>; rel="next"
func LinkHeaderReferences(h http.Header, base *url.URL) []models.Reference {
	var refs []models.Reference
	for _, value := range h.Values("Link") {
		for _, link := range splitLinkValues(value) {
			target, params, ok := parseLinkValue(link)
			if !ok {
				continue
			}
			abs, ok := resolve(base, target)
			if !ok {
				continue
			}
			refs = append(refs, models.Reference{
				URL:         abs,
				IsRequisite: isRequisiteRel(params["rel"]),
				Tag:         "http.link",
			})
		}
	}
	return refs
}

// splitLinkValues splits a header value on commas outside <...> and quotes
func splitLinkValues(v string) []string {
	var parts []string
	inAngle, inQuote := false, false
	start := 0
	for i, c := range v {
		switch {
		case c == '"' && !inAngle:
			inQuote = !inQuote
		case c == '<' && !inQuote:
			inAngle = true
		case c == '>' && !inQuote:
			inAngle = false
		case c == ',' && !inAngle && !inQuote:
			parts = append(parts, v[start:i])
			start = i + 1
		}
	}
	return append(parts, v[start:])
}

func parseLinkValue(link string) (string, map[string]string, bool) {
	link = strings.TrimSpace(link)
	if !strings.HasPrefix(link, "<") {
		return "", nil, false
	}
	end := strings.IndexByte(link, '>')
	if end < 0 {
		return "", nil, false
	}
	target := link[1:end]
	params := make(map[string]string)
	for _, p := range strings.Split(link[end+1:], ";") {
		k, v, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return target, params, true
}
