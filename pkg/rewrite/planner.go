package rewrite

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/process"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Planner converts links between mirrored files. References are collected
// while crawling and rewritten only after every URL has its final status,
// since a link's target may be saved, skipped or redirected later in the crawl.
type Planner struct {
	store      storage.MirrorStore
	replacer   process.Replacer
	writeIndex bool
	log        *logrus.Entry

	documents []string            // Referrers in registration order
	pending   map[string][]string // Target canonical URL -> referrers
}

// NewPlanner creates a Planner. With writeIndex set, Finalize also writes an
// index.html at the mirror root listing every mirrored file.
func NewPlanner(store storage.MirrorStore, replacer process.Replacer, writeIndex bool, log *logrus.Entry) *Planner {
	return &Planner{
		store:      store,
		replacer:   replacer,
		writeIndex: writeIndex,
		log:        log.WithField("component", "rewrite"),
		pending:    make(map[string][]string),
	}
}

// Register marks referrer for rewriting and records the references it holds.
// refs may be empty when the document's links were not extracted this run.
func (p *Planner) Register(referrer string, refs []models.Reference) {
	p.documents = append(p.documents, referrer)
	for _, ref := range refs {
		target, _, err := parse.Canonicalize(ref.URL, nil)
		if err != nil {
			continue
		}
		key := target.String()
		p.pending[key] = append(p.pending[key], referrer)
	}
}

// resolution is where links to one canonical URL should point
type resolution struct {
	localPath string // Relative to the mirror root; empty means keep the absolute URL
	absolute  string // Replacement absolute URL, empty to keep the reference as written
}

// Finalize rewrites every registered document that was saved:
//   - a link to a saved URL becomes a relative path to its file
//   - a link to a URL whose redirect chain ends with a permanent hop points to
//     the chain's last URL, as a local path if that one was saved
//   - any other link becomes the absolute URL it referred to
//
// Documents are always rewritten from the fetched bytes. Returns the number
// of files that changed on disk.
func (p *Planner) Finalize(records []*models.URLRecord) (int, error) {
	byURL := make(map[string]*models.URLRecord, len(records))
	for _, rec := range records {
		byURL[rec.URL] = rec
	}
	lookup := func(u string) *models.URLRecord { return byURL[u] }

	resolved := make(map[string]resolution, len(p.pending))
	for target := range p.pending {
		resolved[target] = resolve(byURL[target], lookup)
	}
	p.log.WithFields(logrus.Fields{"documents": len(p.documents), "targets": len(p.pending)}).Debug("Converting links")

	rewritten := 0
	var errs []error
	seen := make(map[string]bool, len(p.documents))
	for _, doc := range p.documents {
		if seen[doc] {
			continue
		}
		seen[doc] = true
		rec := byURL[doc]
		if rec == nil || rec.Status != models.URLStatusSaved || rec.LocalPath == "" {
			continue
		}
		changed, err := p.rewriteDocument(rec, resolved, lookup)
		if err != nil {
			p.log.WithFields(logrus.Fields{"url": doc, "category": utils.CategorizeError(err)}).Warnf("Link conversion failed: %v", err)
			errs = append(errs, err)
			continue
		}
		if changed {
			rewritten++
		}
	}

	if p.writeIndex {
		if err := p.writeIndexPage(); err != nil {
			p.log.Errorf("Failed to write mirror index: %v", err)
			errs = append(errs, err)
		}
	}
	return rewritten, errors.Join(errs...)
}

func (p *Planner) rewriteDocument(rec *models.URLRecord, resolved map[string]resolution, lookup func(string) *models.URLRecord) (bool, error) {
	body, err := p.store.ReadContent(rec.URL)
	if err != nil {
		return false, err
	}
	base, _, err := parse.Canonicalize(rec.URL, nil)
	if err != nil {
		return false, err
	}

	out, err := p.replacer.ReplaceReferences(rec.ContentType, base, body, func(ref models.Reference) (string, bool) {
		target, fragment, err := parse.Canonicalize(ref.URL, nil)
		if err != nil {
			return "", false
		}
		res, ok := resolved[target.String()]
		if !ok {
			res = resolve(lookup(target.String()), lookup)
		}
		switch {
		case res.localPath != "":
			link := storage.RelativeLink(rec.LocalPath, res.localPath)
			if fragment != "" {
				link += "#" + fragment
			}
			return link, true
		case res.absolute != "":
			if fragment != "" {
				return res.absolute + "#" + fragment, true
			}
			return res.absolute, true
		}
		return ref.URL, true
	})
	if err != nil {
		return false, err
	}

	changed, err := p.store.WriteLocal(rec.LocalPath, out)
	if err != nil {
		return false, fmt.Errorf("%w: rewriting %s: %w", utils.ErrFilesystem, rec.LocalPath, err)
	}
	return changed, nil
}

// resolve decides where links to rec should point. rec may be nil for URLs
// never seen in this run.
func resolve(rec *models.URLRecord, lookup func(string) *models.URLRecord) resolution {
	if rec == nil {
		return resolution{}
	}
	switch rec.Status {
	case models.URLStatusSaved:
		return resolution{localPath: rec.LocalPath}
	case models.URLStatusRedirect:
		terminal, kind := chainTerminal(rec, lookup)
		if kind != models.RedirectPermanent {
			return resolution{}
		}
		if terminal.Status == models.URLStatusSaved && terminal.LocalPath != "" {
			return resolution{localPath: terminal.LocalPath}
		}
		return resolution{absolute: terminal.URL}
	}
	return resolution{}
}

// chainTerminal follows redirect targets from rec and returns the last
// record of the chain with the kind of the hop that reached it. A chain
// through an unknown or already visited URL ends at the last known record.
func chainTerminal(rec *models.URLRecord, lookup func(string) *models.URLRecord) (*models.URLRecord, models.RedirectKind) {
	kind := models.RedirectNone
	visited := map[string]bool{rec.URL: true}
	for rec.Status == models.URLStatusRedirect {
		next := lookup(rec.RedirectTarget)
		if next == nil || visited[next.URL] {
			break
		}
		kind = rec.RedirectKind
		visited[next.URL] = true
		rec = next
	}
	return rec, kind
}
