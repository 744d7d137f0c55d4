package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// MarkdownSummary collects events and writes a run summary when closed
type MarkdownSummary struct {
	mu        sync.Mutex
	path      string
	startedAt time.Time
	counts    map[string]int
	errors    []Event
	redirects []Event
	notMod    int
	total     int
}

var statusOrder = []string{"saved", "skipped", "redirect", "error"}

// NewMarkdownSummary creates a summary that is written to path on Close
func NewMarkdownSummary(path string) *MarkdownSummary {
	return &MarkdownSummary{
		path:      path,
		startedAt: time.Now(),
		counts:    make(map[string]int),
	}
}

// Record implements Sink
func (s *MarkdownSummary) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.counts[ev.Status]++
	switch ev.Status {
	case "error":
		s.errors = append(s.errors, ev)
	case "redirect":
		s.redirects = append(s.redirects, ev)
	}
	if ev.NotModified {
		s.notMod++
	}
}

// Close writes the summary file
func (s *MarkdownSummary) Close() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("%w: creating summary '%s': %w", utils.ErrFilesystem, s.path, err)
	}
	defer f.Close()
	if err := s.Render(f); err != nil {
		return fmt.Errorf("%w: writing summary '%s': %w", utils.ErrFilesystem, s.path, err)
	}
	return nil
}

// Render writes the summary to w as markdown
func (s *MarkdownSummary) Render(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md := markdown.NewMarkdown(w)
	md.H1("Mirror Run Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", s.startedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", time.Since(s.startedAt).Round(time.Second).String()},
			{"URLs processed", strconv.Itoa(s.total)},
			{"Not modified", strconv.Itoa(s.notMod)},
		},
	})
	md.PlainText("")

	md.H2("Status")
	md.PlainText("")
	rows := make([][]string, 0, len(statusOrder))
	for _, st := range statusOrder {
		rows = append(rows, []string{st, strconv.Itoa(s.counts[st])})
	}
	md.Table(markdown.TableSet{Header: []string{"Status", "Count"}, Rows: rows})
	md.PlainText("")

	if s.total > 0 {
		chart := piechart.NewPieChart(io.Discard, piechart.WithTitle("URL Status"), piechart.WithShowData(true))
		for _, st := range statusOrder {
			if n := s.counts[st]; n > 0 {
				chart.LabelAndIntValue(st, uint64(n))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	if len(s.errors) == 0 {
		md.Tip("No errors.")
		md.PlainText("")
	} else {
		md.Warningf("%d URL(s) failed.", len(s.errors))
		md.PlainText("")
		md.H2("Errors")
		md.PlainText("")
		sorted := append([]Event(nil), s.errors...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Category < sorted[j].Category })
		rows := make([][]string, 0, len(sorted))
		for _, ev := range sorted {
			code := ""
			if ev.HTTPCode != 0 {
				code = strconv.Itoa(ev.HTTPCode)
			}
			rows = append(rows, []string{"`" + ev.URL + "`", ev.Category, code})
		}
		md.Table(markdown.TableSet{Header: []string{"URL", "Category", "Code"}, Rows: rows})
		md.PlainText("")
	}

	if len(s.redirects) > 0 {
		md.H2("Redirects")
		md.PlainText("")
		rows := make([][]string, 0, len(s.redirects))
		for _, ev := range s.redirects {
			rows = append(rows, []string{"`" + ev.URL + "`", "`" + ev.RedirectTarget + "`", ev.RedirectKind})
		}
		md.Table(markdown.TableSet{Header: []string{"From", "To", "Kind"}, Rows: rows})
		md.PlainText("")
	}

	return md.Build()
}
