package storage

import (
	"mime"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const (
	indexFileName = "index.html"
	originalsDir  = ".originals"

	maxExtensionLength = 16
)

// Extensions for common types where the sorted mime table would give an unusual one (".htm", ".jfif")
var preferredExtensions = map[string]string{
	"text/html":              ".html",
	"application/xhtml+xml":  ".html",
	"text/css":               ".css",
	"text/javascript":        ".js",
	"application/javascript": ".js",
	"image/jpeg":             ".jpg",
	"text/plain":             ".txt",
}

// LocalPath maps a canonical URL to a slash separated path relative to the mirror root:
// <host>/<path>. A trailing slash maps to index.html, a last segment without an
// extension gets one for mediaType, and a query string becomes a short hash suffix.
func LocalPath(u *url.URL, mediaType string) string {
	parts := []string{utils.SanitizePathSegment(strings.ToLower(u.Host))}

	p := u.Path
	if p == "" {
		p = "/"
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	last := segments[len(segments)-1]
	for _, seg := range segments[:len(segments)-1] {
		if seg == "" {
			continue
		}
		parts = append(parts, utils.SanitizePathSegment(seg))
	}

	if last == "" {
		last = indexFileName
	}
	ext := path.Ext(last)
	base := strings.TrimSuffix(last, ext)
	if ext == "" || base == "" || len(ext) > maxExtensionLength {
		base, ext = last, extensionFor(mediaType)
	}

	suffix := ""
	if u.RawQuery != "" {
		suffix = "_" + utils.CalculateStringSHA256(u.RawQuery)[:8]
	}

	ext = utils.SanitizePathSegment(ext)
	if ext == "_" {
		ext = ""
	}
	budget := utils.MaxSegmentLength - len(suffix) - len(ext)
	name := utils.SanitizePathSegment(base)
	name = utils.TruncateUTF8(name, budget)
	parts = append(parts, name+suffix+ext)
	return strings.Join(parts, "/")
}

func extensionFor(mediaType string) string {
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	sort.Strings(exts)
	return exts[0]
}

// RelativeLink returns a URL reference that leads from the file at fromPath to
// the file at toPath, both relative to the mirror root.
func RelativeLink(fromPath, toPath string) string {
	fromDir := strings.Split(path.Dir(fromPath), "/")
	to := strings.Split(toPath, "/")
	if path.Dir(fromPath) == "." {
		fromDir = nil
	}

	common := 0
	for common < len(fromDir) && common < len(to)-1 && fromDir[common] == to[common] {
		common++
	}

	var rel []string
	for range fromDir[common:] {
		rel = append(rel, "..")
	}
	rel = append(rel, to[common:]...)

	escaped := make([]string, len(rel))
	for i, seg := range rel {
		escaped[i] = url.PathEscape(seg)
	}
	return strings.Join(escaped, "/")
}
