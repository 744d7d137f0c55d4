package rules

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// PredicateKind enumerates every test a rule can use. The set is closed;
// valueOf is the single dispatch point.
type PredicateKind int

const (
	PredDefault PredicateKind = iota // Always true; written as a bare "+" or "-"
	PredRequisite
	PredOriginalDomain
	PredSameDomain
	PredDown
	PredDepth
	PredDomainDepth
	PredPathLevel
	PredPathDistance
	PredPathDistanceToOriginal
	PredURL
	PredProtocol
	PredDomain
	PredPort
	PredPath
	PredFilename
	PredExtension
	PredQueryString
	PredFragment
	PredTag
	PredContentType
	PredSize
	PredCode

	numPredicates
)

// ValueType is the type of value a predicate produces
type ValueType int

const (
	ValueBool ValueType = iota
	ValueInt
	ValueText
)

func (v ValueType) String() string {
	switch v {
	case ValueInt:
		return "number"
	case ValueText:
		return "text"
	}
	return "boolean"
}

type predicateInfo struct {
	name  string
	typ   ValueType
	phase Phase
	help  string
}

var predicateTable = [numPredicates]predicateInfo{
	PredDefault:                {"", ValueBool, PreFetch, "always matches"},
	PredRequisite:              {"requisite", ValueBool, PreFetch, "needed to display a page that is saved (image, stylesheet, script, ...)"},
	PredOriginalDomain:         {"original-domain", ValueBool, PreFetch, "same host as the seed the URL was discovered from"},
	PredSameDomain:             {"same-domain", ValueBool, PreFetch, "same host as the page the URL was found on"},
	PredDown:                   {"down", ValueBool, PreFetch, "at or below the seed in the path hierarchy"},
	PredDepth:                  {"depth", ValueInt, PreFetch, "links followed since the seed (seed = 0)"},
	PredDomainDepth:            {"domain-depth", ValueInt, PreFetch, "links followed since the last host change"},
	PredPathLevel:              {"path-level", ValueInt, PreFetch, "number of directories in the path"},
	PredPathDistance:           {"path-distance", ValueInt, PreFetch, "path-level difference to the referring page"},
	PredPathDistanceToOriginal: {"path-distance-to-original", ValueInt, PreFetch, "path-level difference to the seed"},
	PredURL:                    {"url", ValueText, PreFetch, "full URL including query string"},
	PredProtocol:               {"protocol", ValueText, PreFetch, "URL scheme, e.g. http"},
	PredDomain:                 {"domain", ValueText, PreFetch, "host, with port if one is given"},
	PredPort:                   {"port", ValueInt, PreFetch, "port, defaulting from the scheme"},
	PredPath:                   {"path", ValueText, PreFetch, "path, at least /"},
	PredFilename:               {"filename", ValueText, PreFetch, "last path segment"},
	PredExtension:              {"extension", ValueText, PreFetch, "file extension without the dot"},
	PredQueryString:            {"querystring", ValueText, PreFetch, "query string without the ?"},
	PredFragment:               {"fragment", ValueText, PreFetch, "fragment of the discovering link"},
	PredTag:                    {"tag", ValueText, PreFetch, "element and attribute the URL was found in, e.g. a.href"},
	PredContentType:            {"content-type", ValueText, PostFetch, "response media type"},
	PredSize:                   {"size", ValueInt, PostFetch, "response size in bytes; K, M, G suffixes are powers of 1000"},
	PredCode:                   {"code", ValueInt, PostFetch, "HTTP response status code"},
}

var predicatesByName = func() map[string]PredicateKind {
	m := make(map[string]PredicateKind, numPredicates)
	for k := PredicateKind(0); k < numPredicates; k++ {
		m[predicateTable[k].name] = k
	}
	return m
}()

// LookupPredicate finds a predicate by its rule name.
func LookupPredicate(name string) (PredicateKind, error) {
	k, ok := predicatesByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", utils.ErrUnknownPredicate, name)
	}
	return k, nil
}

// Predicates lists every predicate kind in declaration order.
func Predicates() []PredicateKind {
	out := make([]PredicateKind, 0, numPredicates)
	for k := PredicateKind(0); k < numPredicates; k++ {
		out = append(out, k)
	}
	return out
}

func (k PredicateKind) valid() bool { return k >= 0 && k < numPredicates }

// String returns the rule name of the predicate.
func (k PredicateKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("PredicateKind(%d)", int(k))
	}
	return predicateTable[k].name
}

func (k PredicateKind) ValueType() ValueType { return predicateTable[k].typ }

// Phase is the earliest decision point at which the predicate can be evaluated.
func (k PredicateKind) Phase() Phase { return predicateTable[k].phase }

func (k PredicateKind) Help() string { return predicateTable[k].help }

// value is what a predicate produced for a context. An undefined value
// never matches, whatever the operator.
type value struct {
	typ     ValueType
	defined bool
	b       bool
	n       int64
	s       string
}

func boolValue(b bool) value { return value{typ: ValueBool, defined: true, b: b} }
func intValue(n int64) value { return value{typ: ValueInt, defined: true, n: n} }
func textValue(s string) value { return value{typ: ValueText, defined: true, s: s} }
func undefined(t ValueType) value { return value{typ: t} }

// valueOf computes the predicate's value for a context.
func valueOf(k PredicateKind, c *Context) (value, error) {
	if k.Phase() == PostFetch && c.Phase != PostFetch {
		return value{}, fmt.Errorf("%w: %q needs response data", utils.ErrContextUnavailable, k.String())
	}
	u := c.URL

	switch k {
	case PredDefault:
		return boolValue(true), nil
	case PredRequisite:
		return boolValue(c.IsRequisite()), nil
	case PredOriginalDomain:
		return boolValue(c.Original != nil && u.Host == c.Original.Host), nil
	case PredSameDomain:
		if c.Referrer == nil {
			return boolValue(true), nil
		}
		return boolValue(u.Host == c.Referrer.Host), nil
	case PredDown:
		if c.Original == nil || c.Referrer == nil {
			return boolValue(true), nil
		}
		d, ok := pathDistance(u, c.Original)
		return boolValue(ok && d >= 0), nil
	case PredDepth:
		return intValue(int64(c.Depth)), nil
	case PredDomainDepth:
		return intValue(int64(c.DomainDepth)), nil
	case PredPathLevel:
		return intValue(int64(pathLevel(u))), nil
	case PredPathDistance:
		if c.Referrer == nil {
			return intValue(0), nil
		}
		if d, ok := pathDistance(u, c.Referrer); ok {
			return intValue(int64(d)), nil
		}
		return undefined(ValueInt), nil
	case PredPathDistanceToOriginal:
		if c.Original == nil || c.Referrer == nil {
			return intValue(0), nil
		}
		if d, ok := pathDistance(u, c.Original); ok {
			return intValue(int64(d)), nil
		}
		return undefined(ValueInt), nil
	case PredURL:
		return textValue(u.String()), nil
	case PredProtocol:
		return textValue(u.Scheme), nil
	case PredDomain:
		return textValue(u.Host), nil
	case PredPort:
		return intValue(int64(portOf(u))), nil
	case PredPath:
		return textValue(pathOf(u)), nil
	case PredFilename:
		return textValue(filenameOf(u)), nil
	case PredExtension:
		return textValue(strings.TrimPrefix(path.Ext(filenameOf(u)), ".")), nil
	case PredQueryString:
		return textValue(u.RawQuery), nil
	case PredFragment:
		return textValue(c.Fragment), nil
	case PredTag:
		return textValue(c.Tag), nil
	case PredContentType:
		return textValue(c.ContentType), nil
	case PredSize:
		return intValue(c.Size), nil
	case PredCode:
		return intValue(int64(c.Code)), nil
	}
	panic(fmt.Sprintf("rules: unhandled predicate %d", int(k)))
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func filenameOf(u *url.URL) string {
	p := pathOf(u)
	return p[strings.LastIndex(p, "/")+1:]
}

// pathLevel counts directories: "/" is 0, "/foo" is 0, "/foo/" is 1, "/foo/bar/" is 2.
func pathLevel(u *url.URL) int {
	return strings.Count(pathOf(u), "/") - 1
}

// pathDistance is the path-level difference from base to u. It is defined
// only when one path contains the other (a trailing slash marks a directory);
// it is undefined across hosts and between siblings such as /foo and /bar.
func pathDistance(u, base *url.URL) (int, bool) {
	if u.Host != base.Host {
		return 0, false
	}
	src := strings.Split(pathOf(base), "/")
	this := strings.Split(pathOf(u), "/")

	if hasSegmentPrefix(this, dirSegments(src)) || hasSegmentPrefix(src, dirSegments(this)) {
		return len(this) - len(src), true
	}
	return 0, false
}

func dirSegments(segs []string) []string {
	if len(segs) > 1 && segs[len(segs)-1] == "" {
		return segs[:len(segs)-1]
	}
	return segs
}

func hasSegmentPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}

func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}
