package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func minimalConfig() AppConfig {
	return AppConfig{
		Seeds: []string{"https://example.org/docs/"},
		Rules: models.RunRules{Follow: []string{"+down"}},
	}
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := minimalConfig()
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, "./mirror", cfg.OutputDir)
	assert.Equal(t, DefaultStateDir("./mirror"), cfg.StateDir)
	assert.Equal(t, "site-mirror/1.0", cfg.UserAgent)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.MaxBodyBytes)
	assert.Equal(t, DefaultMaxRedirects, cfg.MaxRedirects)
	assert.Equal(t, DefaultMaxConsecutivePersistFailures, cfg.MaxConsecutivePersistFailures)
	assert.True(t, cfg.GetEffectiveConvertLinks())
	assert.True(t, cfg.GetEffectiveWriteIndex())
	assert.True(t, cfg.GetEffectiveExtractOnNotModified())
	assert.Equal(t, ErrorResponsesError, cfg.ErrorResponses)
	assert.False(t, cfg.RulesOnErrorResponses())

	// HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.TLSHandshakeTimeout)
	assert.Equal(t, 1*time.Second, cfg.HTTPClientSettings.ExpectContinueTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)

	assert.True(t, containsWarning(warnings, "output_dir is empty"))
}

func TestAppConfig_Validate_PreservesValues(t *testing.T) {
	cfg := minimalConfig()
	cfg.OutputDir = "/srv/mirror"
	cfg.StateDir = "/var/lib/mirror"
	cfg.MaxRetries = 5
	cfg.InitialRetryDelay = 2 * time.Second
	cfg.MaxRetryDelay = time.Minute
	cfg.MaxRedirects = 4

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "/srv/mirror", cfg.OutputDir)
	assert.Equal(t, "/var/lib/mirror", cfg.StateDir)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.MaxRedirects)
}

func TestAppConfig_Validate_FatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*AppConfig)
		wantErr error
	}{
		{
			name:    "no seeds",
			setup:   func(c *AppConfig) { c.Seeds = nil },
			wantErr: utils.ErrConfigValidation,
		},
		{
			name:    "seed with unsupported scheme",
			setup:   func(c *AppConfig) { c.Seeds = []string{"ftp://example.org/"} },
			wantErr: utils.ErrParsing,
		},
		{
			name:    "relative seed",
			setup:   func(c *AppConfig) { c.Seeds = []string{"/docs/"} },
			wantErr: utils.ErrParsing,
		},
		{
			name:    "unknown predicate",
			setup:   func(c *AppConfig) { c.Rules.Follow = []string{"+robots"} },
			wantErr: utils.ErrUnknownPredicate,
		},
		{
			name:    "malformed test",
			setup:   func(c *AppConfig) { c.Rules.Save = []string{"depth<3"} },
			wantErr: utils.ErrRuleSyntax,
		},
		{
			name:    "unknown error_responses policy",
			setup:   func(c *AppConfig) { c.ErrorResponses = "save" },
			wantErr: utils.ErrConfigValidation,
		},
		{
			name: "response test in follow under strict mode",
			setup: func(c *AppConfig) {
				c.StrictFollow = true
				c.Rules.Follow = []string{"+down", "-size>1M"}
			},
			wantErr: utils.ErrContextUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalConfig()
			tt.setup(&cfg)

			_, err := cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAppConfig_Validate_ResponseTestInFollowDeferredByDefault(t *testing.T) {
	cfg := minimalConfig()
	cfg.Rules.Follow = []string{"+down", "-size>1M"}

	_, err := cfg.Validate()

	assert.NoError(t, err)
}

func TestAppConfig_Validate_ErrorResponses(t *testing.T) {
	cfg := minimalConfig()
	cfg.OutputDir = "/out"
	cfg.ErrorResponses = ErrorResponsesRules
	cfg.Rules.Save = []string{"+code=404"}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, cfg.RulesOnErrorResponses())

	cfg = minimalConfig()
	cfg.OutputDir = "/out"
	cfg.ErrorResponses = ErrorResponsesRules

	warnings, err = cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "no code test"))
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*AppConfig)
		wantWarning string
		check       func(*testing.T, *AppConfig)
	}{
		{
			name: "negative max_retries",
			setup: func(c *AppConfig) {
				c.MaxRetries = -1
				c.InitialRetryDelay = 1 * time.Second // Prevent default of 3 retries
			},
			wantWarning: "max_retries cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.MaxRetries)
			},
		},
		{
			name:        "negative delay_per_host",
			setup:       func(c *AppConfig) { c.DelayPerHost = -time.Second },
			wantWarning: "delay_per_host cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.DelayPerHost)
			},
		},
		{
			name:        "negative persist failure threshold",
			setup:       func(c *AppConfig) { c.MaxConsecutivePersistFailures = -2 },
			wantWarning: "max_consecutive_persist_failures cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, DefaultMaxConsecutivePersistFailures, c.MaxConsecutivePersistFailures)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalConfig()
			cfg.OutputDir = "/out"
			tt.setup(&cfg)

			warnings, err := cfg.Validate()

			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.wantWarning),
				"expected warning containing %q, got %v", tt.wantWarning, warnings)
			tt.check(t, &cfg)
		})
	}
}

func TestAppConfig_Validate_RetryDelayInversion(t *testing.T) {
	cfg := minimalConfig()
	cfg.OutputDir = "/out"
	cfg.InitialRetryDelay = time.Minute
	cfg.MaxRetryDelay = 10 * time.Second

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
	assert.Equal(t, 10*time.Second, cfg.InitialRetryDelay)
}

func TestAppConfig_Validate_Warnings(t *testing.T) {
	cfg := minimalConfig()
	cfg.OutputDir = "/out"
	cfg.Rules.Follow = nil
	cfg.ConvertLinks = boolPtr(false)
	cfg.KeepOriginals = true

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "follow rule is empty"))
	assert.True(t, containsWarning(warnings, "keep_originals has no effect"))
}
