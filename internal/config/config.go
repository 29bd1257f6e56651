// Package config provides embedrpc configuration loaded from environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/embedrpc/pkg/protocol"
)

const logPrefix = "config:LoadConfig"

// Config holds embedrpc configuration.
type Config struct {
	// COMMS: connect to NATS at COMMSURL, or run an in-process server when COMMSEmbedded.
	COMMSURL      string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName     string `envconfig:"SERVICE_NAME" default:"embedrpc"`
	COMMSEmbedded bool   `envconfig:"COMMS_EMBEDDED" default:"false"`
	COMMSPort     int    `envconfig:"COMMS_PORT" default:"4222"`

	// Link resolution
	EmbedBaseURL string `envconfig:"EMBED_BASE_URL" default:"https://embed.localhost"`
	EmbedPath    string `envconfig:"EMBED_PATH" default:"/frame"`
	ClientID     string `envconfig:"CLIENT_ID"`
	// ContextID names the channel opened by the call command; empty generates one.
	ContextID string `envconfig:"CONTEXT_ID"`

	// Timeouts
	CallTimeout   time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`
	LaunchTimeout time.Duration `envconfig:"LAUNCH_TIMEOUT" default:"10s"`
	ProtocolRange string        `envconfig:"PROTOCOL_RANGE" default:"^1.0.0"`

	// Database (optional; empty keeps init state in memory)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`
	InitNamespace string `envconfig:"INIT_NAMESPACE" default:"default"`

	// HTTP health and metrics endpoint
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// MetricsFile receives the bridge metrics in text format after a call command.
	MetricsFile string `envconfig:"METRICS_FILE"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks config when running the serve process.
func (c *Config) ValidateForServe() error {
	if !c.COMMSEmbedded && c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required unless COMMS_EMBEDDED is set", logPrefix)
	}
	if c.COMMSEmbedded && (c.COMMSPort < 0 || c.COMMSPort > 65535) {
		return fmt.Errorf("%s - COMMS_PORT %d out of range", logPrefix, c.COMMSPort)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%s - HTTP_PORT %d out of range", logPrefix, c.HTTPPort)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForCall checks config when opening a channel from the command line.
func (c *Config) ValidateForCall() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required", logPrefix)
	}
	if err := c.ValidateForLink(); err != nil {
		return err
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("%s - LAUNCH_TIMEOUT must be positive", logPrefix)
	}
	if err := protocol.ValidateRange(c.ProtocolRange); err != nil {
		return fmt.Errorf("%s - PROTOCOL_RANGE: %w", logPrefix, err)
	}
	return nil
}

// ValidateForLink checks the settings needed to resolve an embed address.
func (c *Config) ValidateForLink() error {
	u, err := url.Parse(c.EmbedBaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("%s - EMBED_BASE_URL %q must be an absolute URL", logPrefix, c.EmbedBaseURL)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s - CLIENT_ID is required", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, ensure-db).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
