package confluence

import (
	"net/url"
	"strings"
)

// Deployment selects which Confluence flavour the connector talks to.
type Deployment string

const (
	DeploymentCloud  Deployment = "cloud"
	DeploymentServer Deployment = "server"
)

// Wildcard in the spaces list means "all spaces".
const Wildcard = "*"

// Defaults applied by ApplyDefaults.
const (
	DefaultRetryCount     = 3
	DefaultMaxConcurrency = 50
	DefaultQueueSize      = 1024
	DefaultQueueMemBytes  = 25 * 1024 * 1024
	DefaultFileSizeLimit  = 10 * 1024 * 1024
)

// Config holds the connector configuration.
type Config struct {
	// Deployment is "cloud" or "server".
	Deployment Deployment `mapstructure:"deployment"`

	// BaseURL is the Confluence instance URL. For cloud deployments the
	// "/wiki" context path is appended automatically.
	BaseURL string `mapstructure:"base_url"`

	// AccountEmail and APIToken authenticate cloud deployments.
	AccountEmail string `mapstructure:"account_email"`
	APIToken     string `mapstructure:"api_token"`

	// Username and Password authenticate server deployments.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Spaces is the set of space keys to harvest, or [Wildcard] for all.
	Spaces []string `mapstructure:"spaces"`

	// RetryCount is the number of retries per failed request.
	RetryCount int `mapstructure:"retry_count"`

	// MaxConcurrency caps the number of concurrently running producer
	// tasks.
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// QueueSize is the harvest queue's item count ceiling.
	QueueSize int `mapstructure:"queue_size"`

	// QueueMemBytes is the harvest queue's memory ceiling in bytes.
	QueueMemBytes int64 `mapstructure:"queue_mem_bytes"`

	// FileSizeLimit is the per-file ceiling for attachment content
	// materialization, in bytes.
	FileSizeLimit int64 `mapstructure:"file_size_limit"`

	// UseDocumentLevelSecurity toggles access-control decoration. It is
	// additionally gated by the host's DLS capability.
	UseDocumentLevelSecurity bool `mapstructure:"use_document_level_security"`
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Deployment == "" {
		c.Deployment = DeploymentServer
	}
	if len(c.Spaces) == 0 {
		c.Spaces = []string{Wildcard}
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.QueueMemBytes == 0 {
		c.QueueMemBytes = DefaultQueueMemBytes
	}
	if c.FileSizeLimit == 0 {
		c.FileSizeLimit = DefaultFileSizeLimit
	}
}

// Validate checks the configuration, returning a ConfigError describing
// the first problem found.
func (c *Config) Validate() error {
	switch c.Deployment {
	case DeploymentCloud, DeploymentServer:
	default:
		return &ConfigError{Field: "deployment", Msg: "must be \"cloud\" or \"server\""}
	}

	if c.BaseURL == "" {
		return &ConfigError{Field: "base_url", Msg: "is required"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "base_url", Msg: "must be an absolute URL"}
	}

	switch c.Deployment {
	case DeploymentCloud:
		if c.AccountEmail == "" || c.APIToken == "" {
			return &ConfigError{Field: "account_email/api_token", Msg: "are required for cloud deployments"}
		}
	case DeploymentServer:
		if c.Username == "" || c.Password == "" {
			return &ConfigError{Field: "username/password", Msg: "are required for server deployments"}
		}
	}

	if c.RetryCount < 0 {
		return &ConfigError{Field: "retry_count", Msg: "must not be negative"}
	}
	if c.MaxConcurrency <= 0 {
		return &ConfigError{Field: "max_concurrency", Msg: "must be positive"}
	}
	if c.QueueSize <= 0 {
		return &ConfigError{Field: "queue_size", Msg: "must be positive"}
	}
	if c.QueueMemBytes <= 0 {
		return &ConfigError{Field: "queue_mem_bytes", Msg: "must be positive"}
	}
	if c.FileSizeLimit <= 0 {
		return &ConfigError{Field: "file_size_limit", Msg: "must be positive"}
	}
	for _, key := range c.Spaces {
		if strings.TrimSpace(key) == "" {
			return &ConfigError{Field: "spaces", Msg: "must not contain empty keys"}
		}
	}
	return nil
}

// wantsSpace reports whether the given space key is in scope.
func (c *Config) wantsSpace(key string) bool {
	for _, s := range c.Spaces {
		if s == Wildcard || s == key {
			return true
		}
	}
	return false
}

// wildcardSpaces reports whether all spaces are in scope.
func (c *Config) wildcardSpaces() bool {
	return len(c.Spaces) == 1 && c.Spaces[0] == Wildcard
}
