package crawler

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// followRedirect turns src into a redirect and resolves the next hop inline.
// The hop target takes src's place in the discovery tree: same referrer,
// depth, requisite flag and origin. It is subject to the follow rule like
// any discovered URL, and only the last hop of a chain can be saved.
func (c *Crawler) followRedirect(ctx context.Context, src *models.URLRecord, res *fetch.Result, chain []string, taskLog *logrus.Entry) error {
	target, fragment, err := parse.Canonicalize(res.Location.String(), nil)
	if err != nil {
		return c.finish(src, models.URLStatusError, err)
	}
	key := target.String()

	chain = append(chain, src.URL)
	if slices.Contains(chain, key) || len(chain) > c.cfg.MaxRedirects {
		return c.finish(src, models.URLStatusError,
			fmt.Errorf("%w: %s after %d hop(s)", utils.ErrRedirectLoop, key, len(chain)))
	}

	kind := models.RedirectKindForCode(res.StatusCode)
	if kind == models.RedirectNone {
		kind = models.RedirectTemporary
	}
	src.RedirectTarget = key
	src.RedirectKind = kind

	if c.state.Seen(key) {
		taskLog.WithField("target", key).Debug("Redirect target already known")
		return c.finish(src, models.URLStatusRedirect, nil)
	}

	if fragment == "" {
		fragment = src.Fragment
	}
	next := &models.URLRecord{
		URL:            key,
		Referrer:       src.Referrer,
		Tag:            src.Tag,
		Fragment:       fragment,
		IsRequisite:    src.IsRequisite,
		IsSeed:         src.IsSeed,
		OriginalDomain: src.OriginalDomain,
		OriginalURL:    src.OriginalURL,
		Depth:          src.Depth,
	}
	if src.IsSeed {
		// A redirected seed roots its tree at the address it resolved to
		next.OriginalDomain = target.Host
		next.OriginalURL = key
	} else if ref := c.state.Record(src.Referrer); ref != nil && parse.SameHost(target, mustParse(ref.URL)) {
		next.DomainDepth = ref.DomainDepth + 1
	}
	c.state.register(next)

	if err := c.finish(src, models.URLStatusRedirect, nil); err != nil {
		return err
	}

	deferred, admitted, err := c.admit(next)
	if !admitted || err != nil {
		return err
	}
	hopLog := c.log.WithFields(logrus.Fields{"url": key, "depth": next.Depth, "redirected_from": src.URL})
	hopLog.Debugf("Following %s redirect", kind)
	return c.fetchRecord(ctx, next, deferred, chain, hopLog)
}
