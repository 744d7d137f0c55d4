package crawler

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/queue"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// State is the per-run crawl state: the work queue, one record per canonical
// URL, and the hosts of the seeds. It is owned by a single Crawler.
type State struct {
	queue           *queue.FIFO[string]
	records         map[string]*models.URLRecord
	order           []string // Canonical URLs in discovery order
	originalDomains map[string]struct{}
}

// NewState creates an empty crawl state
func NewState(log *logrus.Entry) *State {
	return &State{
		queue:           queue.NewFIFO[string](log.WithField("component", "queue")),
		records:         make(map[string]*models.URLRecord),
		originalDomains: make(map[string]struct{}),
	}
}

// Seen reports whether a record exists for the canonical URL
func (s *State) Seen(canonicalURL string) bool {
	_, ok := s.records[canonicalURL]
	return ok
}

// Record returns the record for a canonical URL, or nil
func (s *State) Record(canonicalURL string) *models.URLRecord {
	return s.records[canonicalURL]
}

// Enqueue registers a new Pending record and queues it. Returns false, and
// leaves the state unchanged, if the URL was already known.
func (s *State) Enqueue(rec *models.URLRecord) bool {
	if !s.register(rec) {
		return false
	}
	s.queue.Push(rec.URL)
	return true
}

// register adds a Pending record without queueing it. Redirect targets are
// registered this way since the chain resolves them immediately.
func (s *State) register(rec *models.URLRecord) bool {
	if s.Seen(rec.URL) {
		return false
	}
	rec.Status = models.URLStatusPending
	s.records[rec.URL] = rec
	s.order = append(s.order, rec.URL)
	if rec.IsSeed {
		s.originalDomains[rec.OriginalDomain] = struct{}{}
	}
	return true
}

// Next dequeues the oldest pending record
func (s *State) Next() (*models.URLRecord, bool) {
	for {
		u, ok := s.queue.Pop()
		if !ok {
			return nil, false
		}
		if rec := s.records[u]; rec != nil && rec.Status == models.URLStatusPending {
			return rec, true
		}
	}
}

// Pending is the number of queued records
func (s *State) Pending() int { return s.queue.Len() }

// Transition moves rec to next, enforcing the record lifecycle
func (s *State) Transition(rec *models.URLRecord, next models.URLStatus) error {
	if !rec.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s: %s -> %s", utils.ErrInvalidTransition, rec.URL, rec.Status, next)
	}
	rec.Status = next
	return nil
}

// Records returns all records in discovery order
func (s *State) Records() []*models.URLRecord {
	out := make([]*models.URLRecord, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, s.records[u])
	}
	return out
}

// IsOriginalDomain reports whether host belongs to one of the seeds
func (s *State) IsOriginalDomain(host string) bool {
	_, ok := s.originalDomains[host]
	return ok
}

// Close stops the queue from accepting more work
func (s *State) Close() { s.queue.Close() }
