package models

import "time"

// CacheValidator carries the HTTP validators stored for a mirrored resource
type CacheValidator struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// IsZero reports whether neither validator is present, i.e. no conditional request is possible
func (v *CacheValidator) IsZero() bool {
	return v == nil || (v.ETag == "" && v.LastModified == "")
}

// Reference is one outbound URL found in a fetched resource
type Reference struct {
	URL         string // Absolute URL, fragment preserved
	IsRequisite bool   // Needed to render the referring page (img, script, stylesheet, ...)
	Tag         string // Where it was found, e.g. "a.href", "img.src", "css.url", "http.link"
}

// URLRecord is the per-run state of one canonical URL
type URLRecord struct {
	URL            string
	Status         URLStatus
	Depth          int
	DomainDepth    int
	OriginalDomain string // Host of the seed at the root of this URL's discovery tree
	OriginalURL    string // That seed's canonical URL
	IsRequisite    bool
	IsSeed         bool
	Referrer       string // Canonical URL of the discovering record; empty for seeds
	Tag            string
	Fragment       string // Fragment of the discovering reference

	HTTPCode    int
	ContentType string
	SizeBytes   int64

	RedirectTarget string
	RedirectKind   RedirectKind

	FollowOutcome Outcome
	SaveOutcome   Outcome
	StopOutcome   Outcome
	FollowRule    string // Test that decided each outcome, for reporting
	SaveRule      string
	StopRule      string

	CacheValidator *CacheValidator

	LocalPath       string // Relative to the mirror root, set once saved
	LinksFound      int
	RequisitesFound int // Subset of LinksFound that are page requisites
	LinksQueued     int
	NotModified     bool
	SaveFailed      bool // Persistence error, as opposed to a rule-based skip
	Err             error
}

// MirrorEntry is the persisted metadata of one saved resource
type MirrorEntry struct {
	URL           string    `json:"url"`
	LocalPath     string    `json:"local_path"`
	ETag          string    `json:"etag,omitempty"`
	LastModified  string    `json:"last_modified,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"` // SHA256 hex of the fetched bytes
	LastSeenRunID string    `json:"last_seen_run_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// Validator returns the entry's cache validator, or nil if it has none
func (e *MirrorEntry) Validator() *CacheValidator {
	if e == nil || (e.ETag == "" && e.LastModified == "") {
		return nil
	}
	return &CacheValidator{ETag: e.ETag, LastModified: e.LastModified}
}

// RunRules is the textual form of the three rule lists, as given by the user
type RunRules struct {
	Follow []string `json:"follow" yaml:"follow"`
	Save   []string `json:"save" yaml:"save"`
	Stop   []string `json:"stop" yaml:"stop"`
}

// RunInfo records the arguments of a crawl run so that a later update run can reuse them
type RunInfo struct {
	RunID          string    `json:"run_id"`
	Seeds          []string  `json:"seeds"`
	Rules          RunRules  `json:"rules"`
	ConvertLinks   bool      `json:"convert_links"`
	ErrorResponses string    `json:"error_responses,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	SavedCount     int       `json:"saved_count"`
	NotModified    int       `json:"not_modified_count"`
	ErrorCount     int       `json:"error_count"`
	DeletedCount   int       `json:"deleted_count"`
	DeleteEnabled  bool      `json:"delete_enabled"`
}
