package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLStatus_String(t *testing.T) {
	tests := []struct {
		status URLStatus
		want   string
	}{
		{URLStatusUnset, "unset"},
		{URLStatusPending, "pending"},
		{URLStatusFetching, "fetching"},
		{URLStatusSaved, "saved"},
		{URLStatusSkipped, "skipped"},
		{URLStatusError, "error"},
		{URLStatusRedirect, "redirect"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestURLStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to URLStatus
		want     bool
	}{
		{URLStatusPending, URLStatusFetching, true},
		{URLStatusPending, URLStatusSkipped, true},
		{URLStatusPending, URLStatusSaved, false},
		{URLStatusPending, URLStatusRedirect, false},
		{URLStatusFetching, URLStatusSaved, true},
		{URLStatusFetching, URLStatusSkipped, true},
		{URLStatusFetching, URLStatusError, true},
		{URLStatusFetching, URLStatusRedirect, true},
		{URLStatusFetching, URLStatusPending, false},
		{URLStatusSaved, URLStatusSkipped, false},
		{URLStatusSkipped, URLStatusFetching, false},
		{URLStatusRedirect, URLStatusSaved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "unset", OutcomeUnset.String())
	assert.True(t, OutcomeAllow.Allowed())
	assert.False(t, OutcomeDeny.Allowed())
	assert.False(t, OutcomeUnset.Allowed())
}

func TestRedirectKindForCode(t *testing.T) {
	tests := []struct {
		code int
		want RedirectKind
	}{
		{301, RedirectPermanent},
		{308, RedirectPermanent},
		{302, RedirectTemporary},
		{303, RedirectTemporary},
		{307, RedirectTemporary},
		{200, RedirectNone},
		{304, RedirectNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedirectKindForCode(tt.code), "code %d", tt.code)
	}
}
