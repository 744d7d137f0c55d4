package rules

import (
	"net/url"
)

// Phase is the decision point a Context was built for
type Phase int

const (
	PreFetch  Phase = iota // Only URL-derived and discovery attributes are known
	PostFetch              // Response attributes (code, content-type, size) are known too
)

func (p Phase) String() string {
	if p == PostFetch {
		return "post-fetch"
	}
	return "pre-fetch"
}

// Context is an immutable snapshot of everything a predicate may look at
// for one URL at one decision point. It is passed by value.
type Context struct {
	Phase Phase

	URL      *url.URL // Canonical URL being decided on
	Fragment string   // Fragment of the reference that discovered URL
	Original *url.URL // Seed at the root of URL's discovery tree
	Referrer *url.URL // Record that discovered URL; nil for seeds

	Depth       int
	DomainDepth int
	Tag         string

	// Inline is true when URL was discovered as a requisite of its referrer.
	Inline bool
	// ReferrerSaved is true when the referrer has been, or is being, saved to the mirror.
	ReferrerSaved bool

	// Response attributes, valid only in the PostFetch phase.
	Code        int
	ContentType string
	Size        int64
}

// IsRequisite is the value of the requisite predicate: an inline reference
// from a page that made it into the mirror.
func (c *Context) IsRequisite() bool {
	return c.Inline && c.Referrer != nil && c.ReferrerSaved
}
