package report

import (
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Event is the terminal outcome of one URL in a run
type Event struct {
	URL             string `json:"url"`
	Status          string `json:"status"`
	Category        string `json:"category,omitempty"` // utils.CategorizeError of Err
	Depth           int    `json:"depth"`
	DomainDepth     int    `json:"domain_depth"`
	Referrer        string `json:"referrer,omitempty"`
	Tag             string `json:"tag,omitempty"`
	Requisite       bool   `json:"requisite,omitempty"`
	HTTPCode        int    `json:"http_code,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	SizeBytes       int64  `json:"size_bytes,omitempty"`
	Follow          string `json:"follow,omitempty"`
	FollowRule      string `json:"follow_rule,omitempty"`
	Save            string `json:"save,omitempty"`
	SaveRule        string `json:"save_rule,omitempty"`
	Stop            string `json:"stop,omitempty"`
	StopRule        string `json:"stop_rule,omitempty"`
	LinksFound      int    `json:"links_found,omitempty"`
	RequisitesFound int    `json:"requisites_found,omitempty"`
	LinksQueued     int    `json:"links_queued,omitempty"`
	LocalPath       string `json:"local_path,omitempty"`
	RedirectTarget  string `json:"redirect_target,omitempty"`
	RedirectKind    string `json:"redirect_kind,omitempty"`
	NotModified     bool   `json:"not_modified,omitempty"`
	SaveFailed      bool   `json:"save_failed,omitempty"`
	Err             string `json:"error,omitempty"`
}

// NewEvent snapshots a record that has reached a terminal status
func NewEvent(rec *models.URLRecord) Event {
	ev := Event{
		URL:             rec.URL,
		Status:          rec.Status.String(),
		Depth:           rec.Depth,
		DomainDepth:     rec.DomainDepth,
		Referrer:        rec.Referrer,
		Tag:             rec.Tag,
		Requisite:       rec.IsRequisite,
		HTTPCode:        rec.HTTPCode,
		ContentType:     rec.ContentType,
		SizeBytes:       rec.SizeBytes,
		FollowRule:      rec.FollowRule,
		SaveRule:        rec.SaveRule,
		StopRule:        rec.StopRule,
		LinksFound:      rec.LinksFound,
		RequisitesFound: rec.RequisitesFound,
		LinksQueued:     rec.LinksQueued,
		LocalPath:       rec.LocalPath,
		RedirectTarget:  rec.RedirectTarget,
		RedirectKind:    string(rec.RedirectKind),
		NotModified:     rec.NotModified,
		SaveFailed:      rec.SaveFailed,
	}
	if rec.FollowOutcome != models.OutcomeUnset {
		ev.Follow = rec.FollowOutcome.String()
	}
	if rec.SaveOutcome != models.OutcomeUnset {
		ev.Save = rec.SaveOutcome.String()
	}
	if rec.StopOutcome != models.OutcomeUnset {
		ev.Stop = rec.StopOutcome.String()
	}
	if rec.Err != nil {
		ev.Err = rec.Err.Error()
		ev.Category = utils.CategorizeError(rec.Err)
	}
	return ev
}
