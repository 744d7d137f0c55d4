package rewrite

import (
	"io"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/process"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fileStore keeps fetched bytes by URL and written files by local path.
// Only the methods the planner uses are implemented.
type fileStore struct {
	storage.MirrorStore
	content map[string][]byte
	files   map[string][]byte
	entries []models.MirrorEntry
	writes  int
}

func newFileStore() *fileStore {
	return &fileStore{content: make(map[string][]byte), files: make(map[string][]byte)}
}

func (s *fileStore) ReadContent(canonicalURL string) ([]byte, error) {
	b, ok := s.content[canonicalURL]
	if !ok {
		return nil, utils.ErrNotInMirror
	}
	return b, nil
}

func (s *fileStore) WriteLocal(localPath string, data []byte) (bool, error) {
	if prev, ok := s.files[localPath]; ok && string(prev) == string(data) {
		return false, nil
	}
	s.files[localPath] = append([]byte(nil), data...)
	s.writes++
	return true, nil
}

func (s *fileStore) Entries() ([]models.MirrorEntry, error) {
	out := append([]models.MirrorEntry(nil), s.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPath < out[j].LocalPath })
	return out, nil
}

func saved(u, localPath string) *models.URLRecord {
	return &models.URLRecord{URL: u, Status: models.URLStatusSaved, LocalPath: localPath, ContentType: "text/html"}
}

func redirected(u, target string, kind models.RedirectKind) *models.URLRecord {
	return &models.URLRecord{URL: u, Status: models.URLStatusRedirect, RedirectTarget: target, RedirectKind: kind}
}

// mirrorDocument stores body as the fetched bytes of rec and registers its references
func mirrorDocument(t *testing.T, p *Planner, s *fileStore, rec *models.URLRecord, body string) {
	t.Helper()
	s.content[rec.URL] = []byte(body)
	s.files[rec.LocalPath] = []byte(body)
	base, err := url.Parse(rec.URL)
	require.NoError(t, err)
	refs, err := process.NewReferenceProcessor(testLogger()).ExtractReferences(rec.ContentType, base, []byte(body))
	require.NoError(t, err)
	p.Register(rec.URL, refs)
}

const docsPage = `<html><head><link rel="stylesheet" href="/css/site.css"></head><body>
<a href="page.html">page</a>
<a href="page.html#intro">intro</a>
<img src="/img/logo.png">
<a href="/old">moved</a>
<a href="/tmp">temporary</a>
<a href="/private">private</a>
<a href="http://other.test/">offsite</a>
</body></html>`

func docsRecords() []*models.URLRecord {
	css := saved("http://a.test/css/site.css", "a.test/css/site.css")
	css.ContentType = "text/css"
	return []*models.URLRecord{
		saved("http://a.test/docs/", "a.test/docs/index.html"),
		saved("http://a.test/docs/page.html", "a.test/docs/page.html"),
		saved("http://a.test/img/logo.png", "a.test/img/logo.png"),
		css,
		redirected("http://a.test/old", "http://a.test/new", models.RedirectPermanent),
		saved("http://a.test/new", "a.test/new.html"),
		redirected("http://a.test/tmp", "http://a.test/docs/page.html", models.RedirectTemporary),
		{URL: "http://a.test/private", Status: models.URLStatusSkipped},
	}
}

func TestPlanner_Finalize(t *testing.T) {
	s := newFileStore()
	p := NewPlanner(s, process.NewReferenceProcessor(testLogger()), false, testLogger())
	records := docsRecords()
	mirrorDocument(t, p, s, records[0], docsPage)

	n, err := p.Finalize(records)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out := string(s.files["a.test/docs/index.html"])
	tests := []struct {
		name string
		want string
	}{
		{"saved sibling", `href="page.html"`},
		{"fragment kept", `href="page.html#intro"`},
		{"saved requisite", `src="../img/logo.png"`},
		{"stylesheet", `href="../css/site.css"`},
		{"permanent redirect to saved target", `href="../new.html"`},
		{"temporary redirect stays absolute", `href="http://a.test/tmp"`},
		{"skipped target stays absolute", `href="http://a.test/private"`},
		{"unknown target stays absolute", `href="http://other.test/"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, out, tt.want)
		})
	}
	assert.NotContains(t, s.files, IndexFileName)
}

func TestPlanner_FinalizeIsIdempotent(t *testing.T) {
	s := newFileStore()
	p := NewPlanner(s, process.NewReferenceProcessor(testLogger()), false, testLogger())
	records := docsRecords()
	mirrorDocument(t, p, s, records[0], docsPage)

	n, err := p.Finalize(records)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	first := string(s.files["a.test/docs/index.html"])

	n, err = p.Finalize(records)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rewriting from the fetched bytes gives the same file")
	assert.Equal(t, first, string(s.files["a.test/docs/index.html"]))
}

func TestPlanner_SkipsUnsavedDocuments(t *testing.T) {
	s := newFileStore()
	p := NewPlanner(s, process.NewReferenceProcessor(testLogger()), false, testLogger())
	rec := saved("http://a.test/docs/", "a.test/docs/index.html")
	mirrorDocument(t, p, s, rec, docsPage)
	rec.Status = models.URLStatusError

	n, err := p.Finalize([]*models.URLRecord{rec})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, docsPage, string(s.files["a.test/docs/index.html"]))
}

func TestPlanner_ContinuesAfterFailure(t *testing.T) {
	s := newFileStore()
	p := NewPlanner(s, process.NewReferenceProcessor(testLogger()), false, testLogger())
	lost := saved("http://a.test/lost", "a.test/lost.html")
	p.Register(lost.URL, nil)
	records := docsRecords()
	mirrorDocument(t, p, s, records[0], docsPage)

	n, err := p.Finalize(append(records, lost))
	assert.ErrorIs(t, err, utils.ErrNotInMirror)
	assert.Equal(t, 1, n)
}

func TestResolve(t *testing.T) {
	records := map[string]*models.URLRecord{}
	add := func(r *models.URLRecord) { records[r.URL] = r }
	add(saved("http://a.test/end", "a.test/end.html"))
	add(redirected("http://a.test/p1", "http://a.test/p2", models.RedirectTemporary))
	add(redirected("http://a.test/p2", "http://a.test/end", models.RedirectPermanent))
	add(redirected("http://a.test/t1", "http://a.test/p2", models.RedirectPermanent))
	add(redirected("http://a.test/t2", "http://a.test/end", models.RedirectTemporary))
	add(redirected("http://a.test/gone", "http://a.test/failed", models.RedirectPermanent))
	add(&models.URLRecord{URL: "http://a.test/failed", Status: models.URLStatusError})
	add(redirected("http://a.test/loop1", "http://a.test/loop2", models.RedirectPermanent))
	add(redirected("http://a.test/loop2", "http://a.test/loop1", models.RedirectPermanent))
	lookup := func(u string) *models.URLRecord { return records[u] }

	tests := []struct {
		url  string
		want resolution
	}{
		{"http://a.test/end", resolution{localPath: "a.test/end.html"}},
		{"http://a.test/p1", resolution{localPath: "a.test/end.html"}},
		{"http://a.test/t1", resolution{localPath: "a.test/end.html"}},
		{"http://a.test/t2", resolution{}},
		{"http://a.test/gone", resolution{absolute: "http://a.test/failed"}},
		{"http://a.test/loop1", resolution{absolute: "http://a.test/loop2"}},
		{"http://a.test/failed", resolution{}},
		{"http://a.test/unknown", resolution{}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, resolve(lookup(tt.url), lookup))
		})
	}
}

func TestPlanner_WritesIndex(t *testing.T) {
	s := newFileStore()
	s.entries = []models.MirrorEntry{
		{URL: "http://a.test/z", LocalPath: "a.test/z.html"},
		{URL: "http://a.test/sub/b", LocalPath: "a.test/sub/b.html"},
		{URL: "http://a.test/A?x=<1>", LocalPath: "a.test/A_1234abcd.html"},
		{URL: "http://b.test/", LocalPath: "b.test/index.html"},
	}
	p := NewPlanner(s, process.NewReferenceProcessor(testLogger()), true, testLogger())

	_, err := p.Finalize(nil)
	require.NoError(t, err)
	out := string(s.files[IndexFileName])
	require.NotEmpty(t, out)

	assert.Contains(t, out, "<p>4 file(s)</p>")
	assert.Contains(t, out, `<a href="a.test/sub/b.html" title="http://a.test/sub/b">b.html</a>`)
	assert.Contains(t, out, `title="http://a.test/A?x=&lt;1&gt;"`)
	assert.Contains(t, out, `href="b.test/index.html"`)

	sub := strings.Index(out, "sub/")
	upper := strings.Index(out, "A_1234abcd.html")
	z := strings.Index(out, ">z.html<")
	assert.Less(t, sub, upper, "directories come first")
	assert.Less(t, upper, z, "names sort case-insensitively")
	assert.Less(t, strings.Index(out, "a.test/"), strings.Index(out, "b.test/"))
}
