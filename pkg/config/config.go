package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// AppName is used for the state directory under XDG_DATA_HOME and the default user agent
const AppName = "site-mirror"

// AppConfig holds the configuration of one mirror
type AppConfig struct {
	Seeds        []string        `yaml:"seeds"`
	Rules        models.RunRules `yaml:"rules"`
	OutputDir    string          `yaml:"output_dir"`
	StateDir     string          `yaml:"state_dir,omitempty"` // Defaults to a per-mirror directory under XDG_DATA_HOME
	UserAgent    string          `yaml:"user_agent,omitempty"`
	DelayPerHost time.Duration   `yaml:"delay_per_host,omitempty"`

	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes,omitempty"` // Responses larger than this are truncated and reported as errors
	MaxRedirects      int           `yaml:"max_redirects,omitempty"`  // Hops per redirect chain before giving up

	ConvertLinks         *bool `yaml:"convert_links,omitempty"`           // Rewrite links in saved pages to point into the mirror (default true)
	KeepOriginals        bool  `yaml:"keep_originals,omitempty"`          // Also keep the unmodified bytes under .originals/
	WriteIndex           *bool `yaml:"write_index,omitempty"`             // Write an index.html listing the mirrored files (default true)
	EnableDelete         bool  `yaml:"enable_delete,omitempty"`           // Remove mirrored files not encountered in this run
	ExtractOnNotModified *bool `yaml:"extract_on_not_modified,omitempty"` // Follow links found in unchanged pages (default true)
	StrictFollow         bool  `yaml:"strict_follow,omitempty"`           // Reject response tests (size, code, content-type) in the follow rule

	// ErrorResponses is ErrorResponsesError (default) or ErrorResponsesRules.
	// With rules, 4xx responses keep their body and are saved when a code
	// test decides the save rule.
	ErrorResponses string `yaml:"error_responses,omitempty"`

	MaxConsecutivePersistFailures int `yaml:"max_consecutive_persist_failures,omitempty"`

	ReportJSONL    string `yaml:"report_jsonl,omitempty"`
	ReportMarkdown string `yaml:"report_markdown,omitempty"`

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

const (
	ErrorResponsesError = "error"
	ErrorResponsesRules = "rules"
)

// Load reads a YAML config file. Defaults are applied by Validate, not here.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config %s: %w", utils.ErrFilesystem, path, err)
	}
	cfg := &AppConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config %s: %w", utils.ErrConfigValidation, path, err)
	}
	return cfg, nil
}

// DefaultStateDir returns the state directory for a mirror rooted at outputDir:
// $XDG_DATA_HOME/site-mirror/<name>-<hash of absolute path>.
func DefaultStateDir(outputDir string) string {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		abs = outputDir
	}
	sum := sha256.Sum256([]byte(abs))
	name := utils.SanitizePathSegment(filepath.Base(abs)) + "-" + hex.EncodeToString(sum[:])[:12]
	return filepath.Join(xdg.DataHome, AppName, name)
}

// GetEffectiveConvertLinks determines whether link conversion is on (default true)
func (c *AppConfig) GetEffectiveConvertLinks() bool {
	return c.ConvertLinks == nil || *c.ConvertLinks
}

// GetEffectiveWriteIndex determines whether the mirror index page is written (default true)
func (c *AppConfig) GetEffectiveWriteIndex() bool {
	return c.WriteIndex == nil || *c.WriteIndex
}

// GetEffectiveExtractOnNotModified determines whether unchanged pages are re-scanned for links (default true)
func (c *AppConfig) GetEffectiveExtractOnNotModified() bool {
	return c.ExtractOnNotModified == nil || *c.ExtractOnNotModified
}

// RulesOnErrorResponses reports whether 4xx responses are handed to the save and stop rules
func (c *AppConfig) RulesOnErrorResponses() bool {
	return c.ErrorResponses == ErrorResponsesRules
}
