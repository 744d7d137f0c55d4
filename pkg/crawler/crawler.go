package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/process"
	"github.com/Sriram-PR/site-mirror/pkg/report"
	"github.com/Sriram-PR/site-mirror/pkg/rules"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// LinkPlanner collects the references of saved documents during the crawl
// and rewrites them once every URL has a final status.
type LinkPlanner interface {
	Register(referrer string, refs []models.Reference)
	Finalize(records []*models.URLRecord) (rewritten int, err error)
}

// Crawler runs one mirror crawl. It is single-threaded: one fetch is in
// flight at a time and all state is owned by the Crawler.
type Crawler struct {
	cfg       *config.AppConfig
	ruleSet   rules.RuleSet
	evaluator *rules.Evaluator
	fetcher   fetch.Fetcher
	store     storage.MirrorStore
	extractor process.Extractor
	planner   LinkPlanner // nil when links are not converted
	sink      report.Sink
	log       *logrus.Entry

	state *State
	ctxb  contextBuilder
	run   *models.RunInfo

	persistFailures int // Consecutive
}

// NewCrawler creates a Crawler. cfg must have been validated. planner may be nil.
func NewCrawler(
	cfg *config.AppConfig,
	ruleSet rules.RuleSet,
	fetcher fetch.Fetcher,
	store storage.MirrorStore,
	extractor process.Extractor,
	planner LinkPlanner,
	sink report.Sink,
	log *logrus.Entry,
) *Crawler {
	crawlerLog := log.WithField("component", "crawler")
	state := NewState(crawlerLog)
	return &Crawler{
		cfg:       cfg,
		ruleSet:   ruleSet,
		evaluator: rules.NewEvaluator(log),
		fetcher:   fetcher,
		store:     store,
		extractor: extractor,
		planner:   planner,
		sink:      sink,
		log:       crawlerLog,
		state:     state,
		ctxb:      contextBuilder{state: state},
	}
}

// Records returns every record of the run in discovery order
func (c *Crawler) Records() []*models.URLRecord { return c.state.Records() }

// Run crawls from seeds until no work is left or ctx is cancelled, then
// rewrites links and, if enabled, deletes mirrored files not seen in this run.
// The returned RunInfo is saved to the store and is non-nil whenever the
// crawl started, even if it ended with an error.
func (c *Crawler) Run(ctx context.Context, seeds []string) (*models.RunInfo, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	c.run = &models.RunInfo{
		RunID:          runID.String(),
		Seeds:          seeds,
		Rules:          c.cfg.Rules,
		ConvertLinks:   c.planner != nil,
		ErrorResponses: c.cfg.ErrorResponses,
		StartedAt:      time.Now().UTC(),
		DeleteEnabled:  c.cfg.EnableDelete,
	}
	runLog := c.log.WithField("run_id", c.run.RunID)

	queued := 0
	for i, seed := range seeds {
		u, _, err := parse.Canonicalize(seed, nil)
		if err != nil {
			runLog.WithFields(logrus.Fields{"index": i, "url": seed}).Warnf("Invalid seed, skipping: %v", err)
			continue
		}
		rec := &models.URLRecord{
			URL:            u.String(),
			IsSeed:         true,
			OriginalDomain: u.Host,
			OriginalURL:    u.String(),
		}
		if c.state.Enqueue(rec) {
			queued++
		}
	}
	if queued == 0 {
		return nil, fmt.Errorf("%w: no valid seeds", utils.ErrConfigValidation)
	}
	runLog.Infof("Crawl starting with %d seed(s)", queued)
	startTime := time.Now()

	crawlErr := c.loop(ctx)
	c.state.Close()

	switch {
	case crawlErr != nil:
		runLog.Errorf("Crawl aborted: %v", crawlErr)
	case ctx.Err() != nil:
		crawlErr = ctx.Err()
		runLog.Warnf("Crawl cancelled with %d URL(s) still queued", c.state.Pending())
	}

	if c.planner != nil && !errors.Is(crawlErr, utils.ErrInvalidTransition) {
		n, err := c.planner.Finalize(c.state.Records())
		if err != nil {
			runLog.Errorf("Link conversion incomplete: %v", err)
			crawlErr = errors.Join(crawlErr, err)
		} else {
			runLog.Infof("Converted links in %d file(s)", n)
		}
	}

	// Deleting after a partial crawl would remove files that were merely not reached
	if c.cfg.EnableDelete && crawlErr == nil {
		removed, err := c.store.SweepUnseen(c.run.RunID)
		if err != nil {
			runLog.Errorf("Failed to delete stale files: %v", err)
			crawlErr = err
		}
		c.run.DeletedCount = len(removed)
		for _, p := range removed {
			runLog.WithField("local_path", p).Info("Deleted stale file")
		}
	}

	c.run.FinishedAt = time.Now().UTC()
	if err := c.store.SaveRunInfo(c.run); err != nil {
		runLog.Errorf("Failed to save run info: %v", err)
		crawlErr = errors.Join(crawlErr, err)
	}

	runLog.WithFields(logrus.Fields{
		"saved":        c.run.SavedCount,
		"not_modified": c.run.NotModified,
		"errors":       c.run.ErrorCount,
		"deleted":      c.run.DeletedCount,
		"urls":         len(c.state.order),
		"duration":     time.Since(startTime).String(),
	}).Info("Crawl finished")
	return c.run, crawlErr
}

func (c *Crawler) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		rec, ok := c.state.Next()
		if !ok {
			return nil
		}
		if err := c.processRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// processRecord takes one dequeued record to a terminal status. Returned
// errors end the crawl; per-URL failures are recorded on the record instead.
func (c *Crawler) processRecord(ctx context.Context, rec *models.URLRecord) error {
	deferred, admitted, err := c.admit(rec)
	if !admitted || err != nil {
		return err
	}
	taskLog := c.log.WithFields(logrus.Fields{"url": rec.URL, "depth": rec.Depth})
	taskLog.Debug("Fetching")
	return c.fetchRecord(ctx, rec, deferred, nil, taskLog)
}

// admit applies the pre-fetch follow decision to a Pending record. Seeds are
// always admitted. Admitted records move to Fetching, rejected ones are
// finished as Skipped. deferred means follow must be checked again after the fetch.
func (c *Crawler) admit(rec *models.URLRecord) (deferred, admitted bool, err error) {
	if rec.IsSeed {
		rec.FollowOutcome = models.OutcomeAllow
		rec.FollowRule = "(seed)"
	} else {
		res, err := c.evaluator.EvaluateDeferring(c.ruleSet.Follow, c.ctxb.PreFetch(rec))
		if err != nil {
			return false, false, c.finish(rec, models.URLStatusSkipped, err)
		}
		rec.FollowOutcome, rec.FollowRule = res.Outcome, res.Summary()
		if !res.Outcome.Allowed() {
			return false, false, c.finish(rec, models.URLStatusSkipped, nil)
		}
		deferred = res.Deferred
	}
	if err := c.state.Transition(rec, models.URLStatusFetching); err != nil {
		return false, false, err
	}
	return deferred, true, nil
}

// fetchRecord fetches a record in the Fetching state and handles the response.
// chain holds the redirect sources that led here, oldest first.
func (c *Crawler) fetchRecord(ctx context.Context, rec *models.URLRecord, deferred bool, chain []string, taskLog *logrus.Entry) error {
	validator, entry, err := c.store.Lookup(rec.URL)
	if err != nil {
		taskLog.Warnf("Mirror lookup failed, fetching unconditionally: %v", err)
		validator, entry = nil, nil
	}

	res, err := c.fetcher.Fetch(ctx, mustParse(rec.URL), validator)
	rec.HTTPCode = res.StatusCode
	if err == nil && res.Kind == fetch.KindError {
		err = fmt.Errorf("%w: status %d", utils.ErrOtherHTTPError, res.StatusCode)
	}
	if err != nil {
		if c.cfg.RulesOnErrorResponses() && isErrorPage(err, &res) {
			return c.handleSuccess(rec, &res, deferred, err, taskLog)
		}
		if entry != nil && isTransient(err, res.StatusCode) {
			// Keep the mirrored copy of a URL that is only temporarily unreachable
			if terr := c.store.Touch(rec.URL, c.run.RunID); terr != nil {
				taskLog.Warnf("Failed to mark mirrored copy as seen: %v", terr)
			}
		}
		return c.finish(rec, models.URLStatusError, err)
	}

	switch res.Kind {
	case fetch.KindNotModified:
		return c.handleNotModified(rec, entry, &res, taskLog)
	case fetch.KindRedirect:
		return c.followRedirect(ctx, rec, &res, chain, taskLog)
	}
	return c.handleSuccess(rec, &res, deferred, nil, taskLog)
}

// handleNotModified keeps the mirrored copy. Save and stop are not evaluated
// again; links are re-extracted from the stored content when configured.
func (c *Crawler) handleNotModified(rec *models.URLRecord, entry *models.MirrorEntry, res *fetch.Result, taskLog *logrus.Entry) error {
	rec.NotModified = true
	rec.CacheValidator = res.Validator
	if entry != nil {
		rec.LocalPath = entry.LocalPath
		rec.ContentType = entry.ContentType
	}
	if err := c.store.Touch(rec.URL, c.run.RunID); err != nil {
		taskLog.Warnf("Failed to mark unchanged entry as seen: %v", err)
	}

	var refs []models.Reference
	if c.cfg.GetEffectiveExtractOnNotModified() && process.IsExtractable(rec.ContentType) {
		body, err := c.store.ReadContent(rec.URL)
		if err != nil {
			taskLog.Warnf("Cannot re-read unchanged content for link extraction: %v", err)
		} else {
			refs = c.extract(rec.ContentType, mustParse(rec.URL), body, nil, taskLog)
			c.discover(rec, refs, taskLog)
		}
	}
	if c.planner != nil && process.IsExtractable(rec.ContentType) {
		c.planner.Register(rec.URL, refs)
	}
	return c.finish(rec, models.URLStatusSaved, nil)
}

// handleSuccess runs the post-fetch decisions for a fetched resource.
// fetchErr is set for a 4xx page handed to the rules: it is saved only when a
// code test decides the save rule, and otherwise finishes with fetchErr.
func (c *Crawler) handleSuccess(rec *models.URLRecord, res *fetch.Result, deferred bool, fetchErr error, taskLog *logrus.Entry) error {
	rec.ContentType = res.MediaType
	rec.SizeBytes = res.Size()
	rec.CacheValidator = res.Validator
	post := c.ctxb.PostFetch(rec, res)

	if deferred {
		follow, err := c.evaluator.Evaluate(c.ruleSet.Follow, post)
		if err != nil {
			return c.finish(rec, models.URLStatusError, err)
		}
		rec.FollowOutcome, rec.FollowRule = follow.Outcome, follow.Summary()
		if !follow.Outcome.Allowed() {
			return c.finish(rec, models.URLStatusSkipped, nil)
		}
	}

	save, err := c.evaluator.Evaluate(c.ruleSet.Save, post)
	if err != nil {
		return c.finish(rec, models.URLStatusError, err)
	}
	rec.SaveOutcome, rec.SaveRule = save.Outcome, save.Summary()
	if fetchErr != nil {
		if !save.Outcome.Allowed() || !save.DecidedBy(rules.PredCode) {
			rec.SaveOutcome = models.OutcomeDeny
			return c.finish(rec, models.URLStatusError, fetchErr)
		}
		taskLog.WithField("status_code", res.StatusCode).Debugf("Saving error page by %s", rec.SaveRule)
	}

	extractable := process.IsExtractable(res.MediaType)
	var persistErr error
	if save.Outcome.Allowed() {
		localPath, err := c.store.Persist(rec.URL, res.Body, storage.PersistMeta{
			RunID:       c.run.RunID,
			ContentType: res.MediaType,
			Validator:   res.Validator,
			KeepContent: c.planner != nil && extractable,
		})
		if err != nil {
			persistErr = err
			rec.SaveFailed = true
		} else {
			c.persistFailures = 0
			rec.LocalPath = localPath
		}
	}

	stop, err := c.evaluator.Evaluate(c.ruleSet.Stop, post)
	if err != nil {
		return c.finish(rec, models.URLStatusError, errors.Join(persistErr, err))
	}
	rec.StopOutcome, rec.StopRule = stop.Outcome, stop.Summary()

	var refs []models.Reference
	if !stop.Outcome.Allowed() {
		refs = c.extract(res.ContentType, res.URL, res.Body, res.Header, taskLog)
		c.discover(rec, refs, taskLog)
	} else {
		taskLog.Debugf("Stopped by %s", rec.StopRule)
	}

	if persistErr != nil {
		return c.persistFailed(rec, persistErr)
	}
	if !save.Outcome.Allowed() {
		return c.finish(rec, models.URLStatusSkipped, nil)
	}
	if c.planner != nil && extractable {
		c.planner.Register(rec.URL, refs)
	}
	return c.finish(rec, models.URLStatusSaved, nil)
}

// persistFailed finishes a record whose content could not be stored and
// aborts the run once too many happen in a row.
func (c *Crawler) persistFailed(rec *models.URLRecord, err error) error {
	rec.SaveFailed = true
	c.persistFailures++
	if ferr := c.finish(rec, models.URLStatusError, err); ferr != nil {
		return ferr
	}
	if limit := c.cfg.MaxConsecutivePersistFailures; limit > 0 && c.persistFailures >= limit {
		return fmt.Errorf("%w: %d in a row, last: %w", utils.ErrPersistAborted, c.persistFailures, err)
	}
	return nil
}

// extract collects references from a body and its Link headers. header is nil
// for content read back from the mirror.
// Parse failures are logged; the resource keeps its status.
func (c *Crawler) extract(contentType string, base *url.URL, body []byte, header http.Header, taskLog *logrus.Entry) []models.Reference {
	refs := process.LinkHeaderReferences(header, base)
	bodyRefs, err := c.extractor.ExtractReferences(contentType, base, body)
	if err != nil {
		taskLog.WithField("category", utils.CategorizeError(err)).Warnf("Reference extraction failed: %v", err)
		return refs
	}
	return append(refs, bodyRefs...)
}

// discover creates Pending records for the unseen references of parent, in order
func (c *Crawler) discover(parent *models.URLRecord, refs []models.Reference, taskLog *logrus.Entry) {
	parentURL := mustParse(parent.URL)
	for _, ref := range refs {
		u, fragment, err := parse.Canonicalize(ref.URL, nil)
		if err != nil {
			continue
		}
		parent.LinksFound++
		if ref.IsRequisite {
			parent.RequisitesFound++
		}
		child := &models.URLRecord{
			URL:            u.String(),
			Referrer:       parent.URL,
			Tag:            ref.Tag,
			Fragment:       fragment,
			IsRequisite:    ref.IsRequisite || parent.IsRequisite,
			OriginalDomain: parent.OriginalDomain,
			OriginalURL:    parent.OriginalURL,
			Depth:          parent.Depth + 1,
		}
		if parse.SameHost(u, parentURL) {
			child.DomainDepth = parent.DomainDepth + 1
		}
		if c.state.Enqueue(child) {
			parent.LinksQueued++
			if taskLog.Logger.IsLevelEnabled(logrus.TraceLevel) {
				taskLog.WithFields(logrus.Fields{
					"link":    child.URL,
					"tag":     child.Tag,
					"offsite": !c.state.IsOriginalDomain(u.Host),
				}).Trace("Queued")
			}
		}
	}
}

// finish moves rec to a terminal status, updates the run totals and reports it
func (c *Crawler) finish(rec *models.URLRecord, status models.URLStatus, err error) error {
	if terr := c.state.Transition(rec, status); terr != nil {
		return terr
	}
	rec.Err = err
	switch {
	case status == models.URLStatusError:
		c.run.ErrorCount++
	case status == models.URLStatusSaved && rec.NotModified:
		c.run.NotModified++
	case status == models.URLStatusSaved:
		c.run.SavedCount++
	}
	c.sink.Record(report.NewEvent(rec))
	return nil
}

// isErrorPage reports a 4xx response whose body the fetcher kept
func isErrorPage(err error, res *fetch.Result) bool {
	return errors.Is(err, utils.ErrClientHTTPError) && res.MediaType != "" && !isTransient(err, res.StatusCode)
}

// isTransient reports failures that say nothing about whether the resource still exists
func isTransient(err error, code int) bool {
	if errors.Is(err, utils.ErrClientHTTPError) {
		return code == 408 || code == 429
	}
	return code == 0 || code >= 500 || errors.Is(err, utils.ErrRetryFailed)
}
