// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/stream-proxy/config.toml",
	"configs/config.toml",
}

// Providers are slow to answer; shorter timeouts turn ordinary latency into 504s.
const (
	minEmbedTimeoutSeconds    = 7
	minMetadataTimeoutSeconds = 10
)

// writeTimeoutMargin is added to the longest upstream timeout so a timed-out
// upstream call can still be answered with a 504.
const writeTimeoutMargin = 10 * time.Second

// reservedRoutes are the route prefixes the metrics path must not shadow.
var reservedRoutes = []string{
	"/api/player-proxy",
	"/api/superembed-proxy",
	"/api/watchmode-proxy",
	"/healthz",
	"/proxy/status",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MetadataAPIKey string `kong:"help='Metadata API key (overrides config).',env='WATCHMODE_API_KEY'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Upstream     UpstreamConfig     `toml:"upstream"`
	DirectStream DirectStreamConfig `toml:"direct_stream"`
	Embed        EmbedConfig        `toml:"embed"`
	Metadata     MetadataConfig     `toml:"metadata"`
	Log          LogConfig          `toml:"log"`
	Metrics      MetricsConfig      `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	// FrameAncestors is the CSP frame-ancestors source list. Player routes are
	// meant to be embedded in iframes, so the default allows any origin.
	FrameAncestors string `toml:"frame_ancestors"`
}

// UpstreamConfig holds settings shared by every outbound connection.
type UpstreamConfig struct {
	IdleConnections int    `toml:"idle_connections"`
	UserAgent       string `toml:"user_agent"`
}

// DirectStreamConfig points at the direct-stream player.
type DirectStreamConfig struct {
	BaseURL string `toml:"base_url"`
}

// EmbedConfig holds the embed-player provider settings.
type EmbedConfig struct {
	BaseURL        string       `toml:"base_url"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
	MaxBodyBytes   int64        `toml:"max_body_bytes"`
	Player         PlayerConfig `toml:"player"`
}

// PlayerConfig holds the styling parameters sent with every embed request.
// Colors are hex without the leading '#'.
type PlayerConfig struct {
	Font              string `toml:"font"`
	BgColor           string `toml:"bg_color"`
	FontColor         string `toml:"font_color"`
	PrimaryColor      string `toml:"primary_color"`
	SecondaryColor    string `toml:"secondary_color"`
	Loader            int    `toml:"loader"`           // 1-10
	PreferredServer   int    `toml:"preferred_server"` // 0 means no preference
	SourcesToggleType int    `toml:"sources_toggle_type"`
}

// MetadataConfig holds the metadata API settings.
type MetadataConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/stream-proxy/config.toml then configs/config.toml. Finding nothing is
// not an error: defaults plus CLI/env overrides are enough to run.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.MetadataAPIKey != "" {
		c.Metadata.APIKey = cli.MetadataAPIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Metadata.APIKey == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("metadata.api_key contains placeholder value; set a real key or leave it empty")
	}

	// Provider URLs are optional (defaults apply) but must be HTTPS when set.
	for name, raw := range map[string]string{
		"direct_stream.base_url": c.DirectStream.BaseURL,
		"embed.base_url":         c.Embed.BaseURL,
		"metadata.base_url":      c.Metadata.BaseURL,
	} {
		if err := validateBaseURL(name, raw); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Embed.TimeoutSeconds < 0 || (c.Embed.TimeoutSeconds > 0 && c.Embed.TimeoutSeconds < minEmbedTimeoutSeconds) {
		return fmt.Errorf("embed.timeout_seconds must be at least %d; got %d", minEmbedTimeoutSeconds, c.Embed.TimeoutSeconds)
	}
	if c.Embed.MaxBodyBytes < 0 {
		return fmt.Errorf("embed.max_body_bytes must be non-negative; got %d", c.Embed.MaxBodyBytes)
	}
	if c.Metadata.TimeoutSeconds < 0 || (c.Metadata.TimeoutSeconds > 0 && c.Metadata.TimeoutSeconds < minMetadataTimeoutSeconds) {
		return fmt.Errorf("metadata.timeout_seconds must be at least %d; got %d", minMetadataTimeoutSeconds, c.Metadata.TimeoutSeconds)
	}
	if c.Metadata.MaxBodyBytes < 0 {
		return fmt.Errorf("metadata.max_body_bytes must be non-negative; got %d", c.Metadata.MaxBodyBytes)
	}

	if err := c.Embed.Player.validate(); err != nil {
		return err
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateBaseURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%s must use HTTPS; got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", name, raw)
	}
	return nil
}

func (p *PlayerConfig) validate() error {
	for name, color := range map[string]string{
		"embed.player.bg_color":        p.BgColor,
		"embed.player.font_color":      p.FontColor,
		"embed.player.primary_color":   p.PrimaryColor,
		"embed.player.secondary_color": p.SecondaryColor,
	} {
		if color != "" && !isHexColor(color) {
			return fmt.Errorf("%s must be a 6-digit hex color without '#'; got %q", name, color)
		}
	}
	if p.Loader < 0 || p.Loader > 10 {
		return fmt.Errorf("embed.player.loader must be 1-10; got %d", p.Loader)
	}
	if p.PreferredServer < 0 {
		return fmt.Errorf("embed.player.preferred_server must be non-negative; got %d", p.PreferredServer)
	}
	if p.SourcesToggleType < 0 || p.SourcesToggleType > 2 {
		return fmt.Errorf("embed.player.sources_toggle_type must be 1 or 2; got %d", p.SourcesToggleType)
	}
	return nil
}

func isHexColor(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, timeouts, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. The one
// exception is embed.player.preferred_server, where 0 means "no preference"
// and the default of 11 therefore only applies when the whole player section
// is absent.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; every route is a GET
	}
	if c.Server.FrameAncestors == "" {
		c.Server.FrameAncestors = "*"
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "stream-proxy-go/1.0"
	}
	if c.DirectStream.BaseURL == "" {
		c.DirectStream.BaseURL = "https://multiembed.mov/directstream.php"
	}
	if c.Embed.BaseURL == "" {
		c.Embed.BaseURL = "https://getsuperembed.link/"
	}
	if c.Embed.TimeoutSeconds == 0 {
		c.Embed.TimeoutSeconds = 7
	}
	if c.Embed.MaxBodyBytes == 0 {
		c.Embed.MaxBodyBytes = 5 << 20
	}
	c.Embed.Player.setDefaults()
	if c.Metadata.BaseURL == "" {
		c.Metadata.BaseURL = "https://api.watchmode.com/v1"
	}
	if c.Metadata.TimeoutSeconds == 0 {
		c.Metadata.TimeoutSeconds = 10
	}
	if c.Metadata.MaxBodyBytes == 0 {
		c.Metadata.MaxBodyBytes = 5 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (p *PlayerConfig) setDefaults() {
	if *p == (PlayerConfig{}) {
		p.PreferredServer = 11
	}
	if p.Font == "" {
		p.Font = "Poppins"
	}
	if p.BgColor == "" {
		p.BgColor = "000000"
	}
	if p.FontColor == "" {
		p.FontColor = "ffffff"
	}
	if p.PrimaryColor == "" {
		p.PrimaryColor = "34cfeb"
	}
	if p.SecondaryColor == "" {
		p.SecondaryColor = "6900e0"
	}
	if p.Loader == 0 {
		p.Loader = 1
	}
	if p.SourcesToggleType == 0 {
		p.SourcesToggleType = 2
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the embed request timeout.
func (c *EmbedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the metadata request timeout.
func (c *MetadataConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WriteTimeout returns the server write timeout: the longest upstream
// timeout plus a margin for writing the response.
func (c *Config) WriteTimeout() time.Duration {
	return max(c.Embed.Timeout(), c.Metadata.Timeout()) + writeTimeoutMargin
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
