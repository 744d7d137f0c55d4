package models

// URLStatus represents where a URL record is in its per-run lifecycle
type URLStatus string

const (
	URLStatusUnset    URLStatus = ""         // Zero value = unset/unknown
	URLStatusPending  URLStatus = "pending"  // Queued, not yet dequeued
	URLStatusFetching URLStatus = "fetching" // Dequeued and accepted by follow, fetch in progress
	URLStatusSaved    URLStatus = "saved"    // Persisted to the mirror (or unchanged since last run)
	URLStatusSkipped  URLStatus = "skipped"  // Denied by follow or save
	URLStatusError    URLStatus = "error"    // Fetch or persistence failure
	URLStatusRedirect URLStatus = "redirect" // Response pointed elsewhere; see RedirectTarget
)

// String implements fmt.Stringer for logging
func (s URLStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal reports whether no further transition is allowed within the current run
func (s URLStatus) IsTerminal() bool {
	switch s {
	case URLStatusSaved, URLStatusSkipped, URLStatusError, URLStatusRedirect:
		return true
	}
	return false
}

// CanTransitionTo encodes Pending -> Fetching -> {Saved, Skipped, Error, Redirect}.
// Pending -> Skipped is allowed for URLs denied before any fetch is issued.
func (s URLStatus) CanTransitionTo(next URLStatus) bool {
	switch s {
	case URLStatusPending:
		return next == URLStatusFetching || next == URLStatusSkipped
	case URLStatusFetching:
		return next.IsTerminal()
	}
	return false
}

// Outcome is the ternary result of evaluating a rule
type Outcome string

const (
	OutcomeUnset Outcome = ""      // Rule not evaluated
	OutcomeAllow Outcome = "allow" // Last deciding test had + polarity
	OutcomeDeny  Outcome = "deny"  // Last deciding test had - polarity, or nothing matched
)

// String implements fmt.Stringer for logging
func (o Outcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// Allowed reports whether the outcome is Allow. Unset is not allowed.
func (o Outcome) Allowed() bool { return o == OutcomeAllow }

// RedirectKind distinguishes permanent from temporary redirects
type RedirectKind string

const (
	RedirectNone      RedirectKind = ""
	RedirectPermanent RedirectKind = "permanent" // 301, 308
	RedirectTemporary RedirectKind = "temporary" // 302, 303, 307
)

// RedirectKindForCode maps an HTTP status code to its redirect kind.
// Non-redirect codes map to RedirectNone.
func RedirectKindForCode(code int) RedirectKind {
	switch code {
	case 301, 308:
		return RedirectPermanent
	case 302, 303, 307:
		return RedirectTemporary
	}
	return RedirectNone
}
