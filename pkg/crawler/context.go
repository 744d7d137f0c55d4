package crawler

import (
	"fmt"
	"net/url"

	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/rules"
)

// contextBuilder turns records into rule contexts
type contextBuilder struct {
	state *State
}

// PreFetch exposes what is known about rec before any request is made
func (b contextBuilder) PreFetch(rec *models.URLRecord) rules.Context {
	c := rules.Context{
		Phase:       rules.PreFetch,
		URL:         mustParse(rec.URL),
		Fragment:    rec.Fragment,
		Depth:       rec.Depth,
		DomainDepth: rec.DomainDepth,
		Tag:         rec.Tag,
		Inline:      rec.IsRequisite,
	}
	if rec.OriginalURL != "" {
		c.Original = mustParse(rec.OriginalURL)
	}
	if rec.Referrer != "" {
		c.Referrer = mustParse(rec.Referrer)
		if ref := b.state.Record(rec.Referrer); ref != nil {
			c.ReferrerSaved = ref.Status == models.URLStatusSaved || ref.SaveOutcome.Allowed()
		}
	}
	return c
}

// PostFetch adds the response attributes. rec must have been fetched.
func (b contextBuilder) PostFetch(rec *models.URLRecord, res *fetch.Result) rules.Context {
	if rec.Status != models.URLStatusFetching || res == nil {
		panic(fmt.Sprintf("crawler: post-fetch context for %s in status %s", rec.URL, rec.Status))
	}
	c := b.PreFetch(rec)
	c.Phase = rules.PostFetch
	c.Code = res.StatusCode
	c.ContentType = res.MediaType
	c.Size = res.Size()
	return c
}

// mustParse parses a canonical URL. Records only ever hold URLs that were
// produced by parse.Canonicalize.
func mustParse(canonicalURL string) *url.URL {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		panic(fmt.Sprintf("crawler: record holds unparsable URL %q: %v", canonicalURL, err))
	}
	return u
}
