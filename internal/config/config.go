// Package config loads tool configuration and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no
// explicit config file is given.
const DefaultConfigFile = "confmove.yaml"

// Config holds all configuration values. A YAML file supplies
// defaults; environment variables win over the file.
type Config struct {
	// Confluence (source)
	ConfluenceBaseURL  string `yaml:"confluence_base_url"`
	ConfluenceUsername string `yaml:"confluence_username"`
	ConfluenceAPIToken string `yaml:"confluence_api_token"`

	// Nextcloud (target)
	NextcloudURL        string `yaml:"nextcloud_url"`
	NextcloudUsername   string `yaml:"nextcloud_username"`
	NextcloudPassword   string `yaml:"nextcloud_password"`
	NextcloudCollective string `yaml:"nextcloud_collective"`

	// Local working directories and state
	ExportDir  string `yaml:"export_dir"`
	ConvertDir string `yaml:"convert_dir"`
	StateFile  string `yaml:"state_file"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from an optional YAML file and the
// environment. A missing default config file is not an error; a
// missing explicitly named one is.
func Load(configFile string) (Config, error) {
	cfg := Config{
		ExportDir:  "export_data",
		ConvertDir: "convert_data",
		LogLevel:   slog.LevelInfo,
	}

	path := configFile
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// env-only run
	default:
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}

	overlay(&cfg.ConfluenceBaseURL, "CONFLUENCE_BASE_URL")
	overlay(&cfg.ConfluenceUsername, "CONFLUENCE_USERNAME")
	overlay(&cfg.ConfluenceAPIToken, "CONFLUENCE_API_TOKEN")
	overlay(&cfg.NextcloudURL, "NEXTCLOUD_URL")
	overlay(&cfg.NextcloudUsername, "NEXTCLOUD_USERNAME")
	overlay(&cfg.NextcloudPassword, "NEXTCLOUD_PASSWORD")
	overlay(&cfg.NextcloudCollective, "NEXTCLOUD_COLLECTIVE")
	overlay(&cfg.ExportDir, "CONFMOVE_EXPORT_DIR")
	overlay(&cfg.ConvertDir, "CONFMOVE_CONVERT_DIR")
	overlay(&cfg.StateFile, "CONFMOVE_STATE_FILE")
	overlay(&cfg.LogFile, "CONFMOVE_LOG_FILE")

	if lvl := os.Getenv("CONFMOVE_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = parseLogLevel(lvl)
	}

	cfg.ConfluenceBaseURL = strings.TrimRight(cfg.ConfluenceBaseURL, "/")
	cfg.NextcloudURL = strings.TrimRight(cfg.NextcloudURL, "/")

	return cfg, nil
}

func overlay(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Secrets returns the sensitive values that must never appear in log
// output.
func (c Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.ConfluenceAPIToken, c.NextcloudPassword} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RequireConfluence validates the source-side settings, prompting for
// the API token on a terminal when it is the only missing value.
func (c *Config) RequireConfluence() error {
	if c.ConfluenceAPIToken == "" && c.ConfluenceBaseURL != "" && c.ConfluenceUsername != "" {
		if tok, err := promptSecret("Confluence API token"); err == nil {
			c.ConfluenceAPIToken = tok
		}
	}
	return requireAll(map[string]string{
		"CONFLUENCE_BASE_URL":  c.ConfluenceBaseURL,
		"CONFLUENCE_USERNAME":  c.ConfluenceUsername,
		"CONFLUENCE_API_TOKEN": c.ConfluenceAPIToken,
	})
}

// RequireNextcloud validates the target-side settings, prompting for
// the password on a terminal when it is the only missing value.
func (c *Config) RequireNextcloud() error {
	if c.NextcloudPassword == "" && c.NextcloudURL != "" && c.NextcloudUsername != "" && c.NextcloudCollective != "" {
		if pw, err := promptSecret("Nextcloud password"); err == nil {
			c.NextcloudPassword = pw
		}
	}
	return requireAll(map[string]string{
		"NEXTCLOUD_URL":        c.NextcloudURL,
		"NEXTCLOUD_USERNAME":   c.NextcloudUsername,
		"NEXTCLOUD_PASSWORD":   c.NextcloudPassword,
		"NEXTCLOUD_COLLECTIVE": c.NextcloudCollective,
	})
}

func requireAll(values map[string]string) error {
	var missing []string
	for key, val := range values {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// promptSecret reads a secret from the terminal without echo. Fails
// when stdin is not a terminal (CI, pipes).
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
