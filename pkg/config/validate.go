package config

import (
	"fmt"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/rules"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const (
	DefaultMaxRedirects                  = 10
	DefaultMaxBodyBytes                  = 100 * 1000 * 1000
	DefaultMaxConsecutivePersistFailures = 10
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error. A config whose seeds or
// rules cannot be used is fatal: the crawl must not start.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Seeds
	if len(c.Seeds) == 0 {
		return warnings, fmt.Errorf("%w: no seed URLs given", utils.ErrConfigValidation)
	}
	for _, seed := range c.Seeds {
		if _, _, err := parse.Canonicalize(seed, nil); err != nil {
			return warnings, fmt.Errorf("%w: seed %q: %w", utils.ErrConfigValidation, seed, err)
		}
	}

	// Rules
	rs, err := rules.ParseRuleSet(c.Rules)
	if err != nil {
		return warnings, fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}
	if err := rs.Validate(!c.StrictFollow); err != nil {
		return warnings, fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}
	if rs.Follow.IsEmpty() {
		warnings = append(warnings, "follow rule is empty, only the seeds and their requisites will be mirrored")
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to './mirror'")
		c.OutputDir = "./mirror"
	}

	// StateDir
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir(c.OutputDir)
	}

	if c.UserAgent == "" {
		c.UserAgent = AppName + "/1.0"
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}

	if c.MaxConsecutivePersistFailures < 0 {
		warnings = append(warnings, fmt.Sprintf(
			"max_consecutive_persist_failures cannot be negative, defaulting to %d", DefaultMaxConsecutivePersistFailures))
		c.MaxConsecutivePersistFailures = 0
	}
	if c.MaxConsecutivePersistFailures == 0 {
		c.MaxConsecutivePersistFailures = DefaultMaxConsecutivePersistFailures
	}

	switch c.ErrorResponses {
	case "":
		c.ErrorResponses = ErrorResponsesError
	case ErrorResponsesError, ErrorResponsesRules:
	default:
		return warnings, fmt.Errorf("%w: error_responses must be %q or %q, got %q",
			utils.ErrConfigValidation, ErrorResponsesError, ErrorResponsesRules, c.ErrorResponses)
	}
	if c.RulesOnErrorResponses() && !mentionsCode(rs.Save) {
		warnings = append(warnings, "error_responses is 'rules' but the save rule has no code test, error pages will not be saved")
	}

	if c.KeepOriginals && !c.GetEffectiveConvertLinks() {
		warnings = append(warnings, "keep_originals has no effect when convert_links is false")
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// RuleSet parses the configured rules. Call after Validate.
func (c *AppConfig) RuleSet() (rules.RuleSet, error) {
	return rules.ParseRuleSet(c.Rules)
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func mentionsCode(r rules.Rule) bool {
	for _, t := range r.Tests {
		if t.Predicate == rules.PredCode {
			return true
		}
	}
	return false
}
