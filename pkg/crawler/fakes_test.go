package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// page is a canned response of the fake site
type page struct {
	code        int
	contentType string
	body        string
	location    string // Redirect target, relative or absolute
	etag        string
	header      http.Header
}

func html(body string) page {
	return page{code: 200, contentType: "text/html; charset=utf-8", body: body}
}

func redirect(code int, location string) page {
	return page{code: code, location: location}
}

// fakeSite serves pages by canonical URL and answers conditional requests
// for pages that carry an ETag. Unknown URLs are 404s without a body; pages
// with a 4xx code come back as errors that carry their body.
type fakeSite struct {
	pages   map[string]page
	fetches []string
	cancel  context.CancelFunc // Called on the first fetch when set
}

var _ fetch.Fetcher = (*fakeSite)(nil)

func (s *fakeSite) Fetch(ctx context.Context, u *url.URL, prior *models.CacheValidator) (fetch.Result, error) {
	s.fetches = append(s.fetches, u.String())
	if s.cancel != nil {
		s.cancel()
	}
	res := fetch.Result{Kind: fetch.KindError, URL: u, Header: http.Header{}}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	p, ok := s.pages[u.String()]
	if !ok {
		res.StatusCode = 404
		return res, fmt.Errorf("%w: status 404 for %s", utils.ErrClientHTTPError, u)
	}
	res.StatusCode = p.code
	for k, v := range p.header {
		res.Header[k] = v
	}
	if p.etag != "" {
		res.Validator = &models.CacheValidator{ETag: p.etag}
	}

	switch {
	case p.location != "":
		loc, err := u.Parse(p.location)
		if err != nil {
			return res, err
		}
		res.Kind = fetch.KindRedirect
		res.Location = loc
	case p.code >= 500:
		return res, fmt.Errorf("%w: status %d", utils.ErrServerHTTPError, p.code)
	case p.code >= 400:
		// As the fetcher does when error responses go through the rules
		setFakeBody(&res, p)
		return res, fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, p.code)
	case p.etag != "" && prior != nil && prior.ETag == p.etag:
		res.Kind = fetch.KindNotModified
		res.StatusCode = http.StatusNotModified
	default:
		res.Kind = fetch.KindSuccess
		setFakeBody(&res, p)
	}
	return res, nil
}

func setFakeBody(res *fetch.Result, p page) {
	res.Body = []byte(p.body)
	res.ContentType = p.contentType
	res.MediaType = strings.TrimSpace(strings.Split(p.contentType, ";")[0])
}

func (s *fakeSite) fetchCount(u string) int {
	n := 0
	for _, f := range s.fetches {
		if f == u {
			n++
		}
	}
	return n
}

// memStore is an in-memory MirrorStore
type memStore struct {
	entries  map[string]*models.MirrorEntry
	content  map[string][]byte
	files    map[string][]byte
	runs     []*models.RunInfo
	persists int
	failAll  bool
}

var _ storage.MirrorStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string]*models.MirrorEntry),
		content: make(map[string][]byte),
		files:   make(map[string][]byte),
	}
}

func (m *memStore) Lookup(canonicalURL string) (*models.CacheValidator, *models.MirrorEntry, error) {
	e, ok := m.entries[canonicalURL]
	if !ok {
		return nil, nil, nil
	}
	return e.Validator(), e, nil
}

func (m *memStore) Persist(canonicalURL string, body []byte, meta storage.PersistMeta) (string, error) {
	if m.failAll {
		return "", fmt.Errorf("%w: disk full", utils.ErrPersist)
	}
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return "", err
	}
	localPath := storage.LocalPath(u, meta.ContentType)
	hash := utils.CalculateBytesSHA256(body)
	if prev, ok := m.entries[canonicalURL]; !ok || prev.ContentHash != hash {
		m.files[localPath] = append([]byte(nil), body...)
		m.persists++
	}
	e := &models.MirrorEntry{
		URL:           canonicalURL,
		LocalPath:     localPath,
		ContentType:   meta.ContentType,
		ContentHash:   hash,
		LastSeenRunID: meta.RunID,
		SavedAt:       time.Now(),
	}
	if meta.Validator != nil {
		e.ETag = meta.Validator.ETag
		e.LastModified = meta.Validator.LastModified
	}
	m.entries[canonicalURL] = e
	if meta.KeepContent {
		m.content[canonicalURL] = append([]byte(nil), body...)
	}
	return localPath, nil
}

func (m *memStore) Touch(canonicalURL, runID string) error {
	e, ok := m.entries[canonicalURL]
	if !ok {
		return utils.ErrNotInMirror
	}
	e.LastSeenRunID = runID
	return nil
}

func (m *memStore) ReadContent(canonicalURL string) ([]byte, error) {
	if b, ok := m.content[canonicalURL]; ok {
		return b, nil
	}
	e, ok := m.entries[canonicalURL]
	if !ok {
		return nil, utils.ErrNotInMirror
	}
	return m.files[e.LocalPath], nil
}

func (m *memStore) WriteLocal(localPath string, data []byte) (bool, error) {
	if string(m.files[localPath]) == string(data) {
		return false, nil
	}
	m.files[localPath] = append([]byte(nil), data...)
	return true, nil
}

func (m *memStore) SaveRunInfo(info *models.RunInfo) error {
	m.runs = append(m.runs, info)
	return nil
}

func (m *memStore) LoadRunInfo() (*models.RunInfo, error) {
	if len(m.runs) == 0 {
		return nil, utils.ErrNotInMirror
	}
	return m.runs[len(m.runs)-1], nil
}

func (m *memStore) SweepUnseen(runID string) ([]string, error) {
	var removed []string
	for u, e := range m.entries {
		if e.LastSeenRunID == runID {
			continue
		}
		removed = append(removed, e.LocalPath)
		delete(m.files, e.LocalPath)
		delete(m.content, u)
		delete(m.entries, u)
	}
	sort.Strings(removed)
	return removed, nil
}

func (m *memStore) Entries() ([]models.MirrorEntry, error) {
	out := make([]models.MirrorEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPath < out[j].LocalPath })
	return out, nil
}

func (m *memStore) RunGC(ctx context.Context, interval time.Duration) { <-ctx.Done() }
func (m *memStore) Close() error                                        { return nil }

// planRecorder is a LinkPlanner that remembers what it was given
type planRecorder struct {
	registered map[string][]models.Reference
	finalized  []*models.URLRecord
}

func (p *planRecorder) Register(referrer string, refs []models.Reference) {
	if p.registered == nil {
		p.registered = make(map[string][]models.Reference)
	}
	p.registered[referrer] = refs
}

func (p *planRecorder) Finalize(records []*models.URLRecord) (int, error) {
	p.finalized = records
	return len(p.registered), nil
}
