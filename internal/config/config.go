package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"parley/internal/maintenance"
)

// Config represents the client configuration
type Config struct {
	Server      ServerConfig       `json:"server"`
	Timezone    string             `json:"timezone,omitempty"`
	DataDir     string             `json:"data_dir,omitempty"`
	SecretsFile string             `json:"secrets_file,omitempty"`
	Archive     ArchiveConfig      `json:"archive"`
	Chat        ChatConfig         `json:"chat,omitempty"`
	Recall      RecallConfig       `json:"recall,omitempty"`
	Tools       ToolsConfig        `json:"tools,omitempty"`
	Maintenance maintenance.Config `json:"maintenance,omitempty"`
	SSH         SSHServerConfig    `json:"ssh,omitempty"`
	Debug       DebugConfig        `json:"debug,omitempty"`
}

// ServerConfig contains gateway connection settings
type ServerConfig struct {
	// SocketURL is the websocket endpoint for live chat traffic.
	SocketURL string `json:"socket_url"`

	// APIURL is the REST endpoint for request/response calls.
	APIURL string `json:"api_url"`

	// Token authenticates both surfaces. Supports ${ENV_VAR} expansion.
	Token string `json:"token,omitempty"`

	PingIntervalSeconds int `json:"ping_interval_seconds,omitempty"`
	ReconnectAttempts   int `json:"reconnect_attempts,omitempty"`
	QueueLimit          int `json:"queue_limit,omitempty"`
}

// ArchiveConfig contains transcript archive settings
type ArchiveConfig struct {
	// Path to the archive database. Relative paths resolve against the
	// data directory.
	Path string `json:"path"`
}

// ChatConfig contains orchestrator settings
type ChatConfig struct {
	// NoticeTTLSeconds is how long failure banners stay up before
	// auto-dismissing.
	NoticeTTLSeconds int `json:"notice_ttl_seconds,omitempty"`

	// AssistantName labels assistant messages in the transcript.
	AssistantName string `json:"assistant_name,omitempty"`
}

// RecallConfig holds configuration for the semantic transcript index.
type RecallConfig struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path,omitempty"`       // Derived from the archive path if empty
	ChunkSize int    `json:"chunk_size,omitempty"` // Max tokens per chunk (default 500)
	EmbedDims int    `json:"embed_dims,omitempty"` // TF-IDF embedding dimensions (default 4096)
}

// DeriveRecallDBPath returns a recall DB path derived from the archive
// path. For example, "history.db" becomes "history.vector.db".
func DeriveRecallDBPath(archivePath string) string {
	ext := filepath.Ext(archivePath)
	base := strings.TrimSuffix(archivePath, ext)
	if ext == "" {
		ext = ".db"
	}
	return base + ".vector" + ext
}

// ToolsConfig contains tool catalog settings
type ToolsConfig struct {
	// ManifestDir holds extra *.yaml tool manifests layered over the
	// builtins.
	ManifestDir string `json:"manifest_dir,omitempty"`
}

// SSHServerConfig holds configuration for the integrated SSH server
type SSHServerConfig struct {
	Enabled            bool   `json:"enabled"`
	ListenAddr         string `json:"listen_addr,omitempty"`
	HostKeyPath        string `json:"host_key_path,omitempty"`
	AuthorizedKeysPath string `json:"authorized_keys_path,omitempty"`
}

// DebugConfig contains debugging and logging settings
type DebugConfig struct {
	LogFrames      bool `json:"log_frames,omitempty"` // Log raw frame payloads (privacy risk!)
	VerboseLogging bool `json:"verbose_logging,omitempty"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			SocketURL: "ws://localhost:18789/ws",
			APIURL:    "http://localhost:18789/api",
			Token:     "${PARLEY_TOKEN}",
		},
		Archive: ArchiveConfig{
			Path: "history.db",
		},
		Chat: ChatConfig{
			NoticeTTLSeconds: 5,
			AssistantName:    "Assistant",
		},
		Recall: RecallConfig{
			Enabled: true,
		},
		Maintenance: maintenance.DefaultConfig(),
		Debug: DebugConfig{
			LogFrames:      false, // Privacy-safe by default
			VerboseLogging: false,
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Check if file exists, create default if not
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand tilde in path fields before anything else so that
	// secrets_file can reference ~/... paths.
	cfg.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := cfg.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	// Expand environment variables
	if err := cfg.expandEnvVars(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ArchivePath resolves the archive database path against the data
// directory when it is relative.
func (c *Config) ArchivePath(dataDir string) string {
	if c.Archive.Path == "" {
		return filepath.Join(dataDir, "history.db")
	}
	if filepath.IsAbs(c.Archive.Path) {
		return c.Archive.Path
	}
	return filepath.Join(dataDir, c.Archive.Path)
}

// RecallPath resolves the recall index path, deriving it from the
// archive path when unset.
func (c *Config) RecallPath(dataDir string) string {
	if c.Recall.Path == "" {
		return DeriveRecallDBPath(c.ArchivePath(dataDir))
	}
	if filepath.IsAbs(c.Recall.Path) {
		return c.Recall.Path
	}
	return filepath.Join(dataDir, c.Recall.Path)
}

// NoticeTTL returns the banner auto-dismiss interval.
func (c *Config) NoticeTTL() time.Duration {
	if c.Chat.NoticeTTLSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Chat.NoticeTTLSeconds) * time.Second
}

// expandEnvVars expands environment variables in configuration values
func (c *Config) expandEnvVars() error {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)

	c.Server.SocketURL = os.ExpandEnv(c.Server.SocketURL)
	c.Server.APIURL = os.ExpandEnv(c.Server.APIURL)
	c.Server.Token = os.ExpandEnv(c.Server.Token)

	return nil
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if c.Server.SocketURL != "" &&
		!strings.HasPrefix(c.Server.SocketURL, "ws://") &&
		!strings.HasPrefix(c.Server.SocketURL, "wss://") {
		return fmt.Errorf("socket_url must use ws:// or wss://, got %q", c.Server.SocketURL)
	}
	if c.Server.APIURL != "" &&
		!strings.HasPrefix(c.Server.APIURL, "http://") &&
		!strings.HasPrefix(c.Server.APIURL, "https://") {
		return fmt.Errorf("api_url must use http:// or https://, got %q", c.Server.APIURL)
	}

	if c.Server.PingIntervalSeconds < 0 {
		return fmt.Errorf("ping_interval_seconds must not be negative")
	}
	if c.Server.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts must not be negative")
	}
	if c.Server.QueueLimit < 0 {
		return fmt.Errorf("queue_limit must not be negative")
	}
	if c.Chat.NoticeTTLSeconds < 0 {
		return fmt.Errorf("notice_ttl_seconds must not be negative")
	}
	if c.Maintenance.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative")
	}

	// Validate timezone if set
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
	}

	return nil
}

// GetLocation returns the configured timezone as a *time.Location,
// falling back to time.Local.
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Archive.Path = expand(c.Archive.Path)
	c.Recall.Path = expand(c.Recall.Path)
	c.Tools.ManifestDir = expand(c.Tools.ManifestDir)
	c.SSH.HostKeyPath = expand(c.SSH.HostKeyPath)
	c.SSH.AuthorizedKeysPath = expand(c.SSH.AuthorizedKeysPath)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil // missing file is fine
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip optional surrounding quotes from value
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		// Don't override existing env vars
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
