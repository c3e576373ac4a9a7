// Package config handles configuration loading and management for issuepilot.
// It supports XDG config paths, project-level overrides, a project .env file
// and ISSUEPILOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

const (
	appName           = "issuepilot"
	projectConfigName = ".issuepilot.yaml"
	envPrefix         = "ISSUEPILOT"
)

// Config holds all configuration for a run. It is loaded once, adjusted by
// CLI flags, validated, and then passed read-only to every component.
type Config struct {
	// Repo is the upstream repository as owner/name.
	Repo string `mapstructure:"repo" yaml:"repo"`
	// Fork is the fork pushed to, as owner/name. Empty means push upstream;
	// ForkAuto discovers or creates the authenticated user's fork.
	Fork           string          `mapstructure:"fork" yaml:"fork"`
	Concurrency    int             `mapstructure:"concurrency" yaml:"concurrency"`
	Model          string          `mapstructure:"model" yaml:"model"`
	Agent          AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Resources      ResourcesConfig `mapstructure:"resources" yaml:"resources"`
	Filters        FiltersConfig   `mapstructure:"filters" yaml:"filters"`
	Tracker        TrackerConfig   `mapstructure:"tracker" yaml:"tracker"`
	DryRun         bool            `mapstructure:"dry_run" yaml:"dry_run"`
	AutoContinue   bool            `mapstructure:"auto_continue" yaml:"auto_continue"`
	AttachLogs     bool            `mapstructure:"attach_logs" yaml:"attach_logs"`
	AutoCleanup    bool            `mapstructure:"auto_cleanup" yaml:"auto_cleanup"`
	RequireSuccess bool            `mapstructure:"require_success" yaml:"require_success"`
	Paths          PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Logging        LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// AgentConfig describes how the coding-agent subprocess is launched.
type AgentConfig struct {
	Binary string   `mapstructure:"binary" yaml:"binary"`
	Args   []string `mapstructure:"args" yaml:"args"`
	// Timeout bounds a single item. Zero disables the limit.
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StderrTailLines int           `mapstructure:"stderr_tail_lines" yaml:"stderr_tail_lines"`
}

// ResourcesConfig holds the minimum free host resources for a dispatch.
type ResourcesConfig struct {
	MinDiskMB   int `mapstructure:"min_disk_mb" yaml:"min_disk_mb"`
	MinMemoryMB int `mapstructure:"min_memory_mb" yaml:"min_memory_mb"`
}

// FiltersConfig controls which issues become work items.
type FiltersConfig struct {
	Labels        []string `mapstructure:"labels" yaml:"labels"`
	ExcludeLabels []string `mapstructure:"exclude_labels" yaml:"exclude_labels"`
	SkipIfPROpen  bool     `mapstructure:"skip_if_pr_open" yaml:"skip_if_pr_open"`
	ProjectStatus string   `mapstructure:"project_status" yaml:"project_status"`
	Limit         int      `mapstructure:"limit" yaml:"limit"`
}

// TrackerConfig holds issue-tracker CLI settings.
type TrackerConfig struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
	Token  string `mapstructure:"token" yaml:"-"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	WorkspaceDir string `mapstructure:"workspace_dir" yaml:"workspace_dir"`
	// StateDir defaults to <repo-root>/.issuepilot when empty.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// LoggingConfig contains logger preferences.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ISSUEPILOT_*, GH_TOKEN, GITHUB_TOKEN)
// 2. Project config (.issuepilot.yaml in current directory or parent)
// 3. User config (~/.config/issuepilot/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
		loadDotEnv(filepath.Join(filepath.Dir(projectConfig), ".env"))
	}

	bindEnvs(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Paths.WorkspaceDir = expandHome(cfg.Paths.WorkspaceDir)
	cfg.Paths.StateDir = expandHome(cfg.Paths.StateDir)
	cfg.Tracker.Token = os.ExpandEnv(cfg.Tracker.Token)
	return cfg, nil
}

// loadDotEnv exports variables from a .env file without overriding ones
// already present in the process environment.
func loadDotEnv(path string) {
	envMap, err := godotenv.Read(path)
	if err != nil {
		return
	}
	for k, val := range envMap {
		if _, exists := os.LookupEnv(k); !exists {
			_ = os.Setenv(k, val)
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("repo", "")
	v.SetDefault("fork", "")
	v.SetDefault("concurrency", 2)
	v.SetDefault("model", DefaultModel)

	v.SetDefault("agent.binary", "claude")
	v.SetDefault("agent.args", DefaultAgentArgs)
	v.SetDefault("agent.timeout", "45m")
	v.SetDefault("agent.stderr_tail_lines", 20)

	v.SetDefault("resources.min_disk_mb", 2048)
	v.SetDefault("resources.min_memory_mb", 1024)

	v.SetDefault("filters.labels", []string{})
	v.SetDefault("filters.exclude_labels", []string{})
	v.SetDefault("filters.skip_if_pr_open", false)
	v.SetDefault("filters.project_status", "")
	v.SetDefault("filters.limit", 30)

	v.SetDefault("tracker.binary", "gh")
	v.SetDefault("tracker.token", "")

	v.SetDefault("dry_run", false)
	v.SetDefault("auto_continue", false)
	v.SetDefault("attach_logs", false)
	v.SetDefault("auto_cleanup", false)
	v.SetDefault("require_success", false)

	v.SetDefault("paths.workspace_dir", defaultWorkspaceDir())
	v.SetDefault("paths.state_dir", "")

	v.SetDefault("logging.level", "info")
}

func bindEnvs(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, k := range v.AllKeys() {
		_ = v.BindEnv(k)
	}
	_ = v.BindEnv("tracker.token", envPrefix+"_TRACKER_TOKEN", "GH_TOKEN", "GITHUB_TOKEN")
}

// DefaultAgentArgs are passed to the claude CLI before the model flag.
var DefaultAgentArgs = []string{
	"--print",
	"--verbose",
	"--output-format", "stream-json",
	"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep,WebFetch",
}

// DefaultModel is the agent model used when none is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Concurrency: 2,
		Model:       DefaultModel,
		Agent: AgentConfig{
			Binary:          "claude",
			Args:            append([]string(nil), DefaultAgentArgs...),
			Timeout:         45 * time.Minute,
			StderrTailLines: 20,
		},
		Resources: ResourcesConfig{
			MinDiskMB:   2048,
			MinMemoryMB: 1024,
		},
		Filters: FiltersConfig{
			Labels:        []string{},
			ExcludeLabels: []string{},
			Limit:         30,
		},
		Tracker: TrackerConfig{
			Binary: "gh",
		},
		Paths: PathsConfig{
			WorkspaceDir: defaultWorkspaceDir(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable for a run.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Resources.MinDiskMB < 0 || c.Resources.MinMemoryMB < 0 {
		return errors.New("resource thresholds must not be negative")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model is required")
	}
	if c.Agent.Binary == "" {
		return errors.New("agent.binary is required")
	}
	if c.Agent.Timeout < 0 {
		return errors.New("agent.timeout must not be negative")
	}
	if c.Agent.StderrTailLines <= 0 {
		return errors.New("agent.stderr_tail_lines must be positive")
	}
	if c.Filters.Limit <= 0 {
		return errors.New("filters.limit must be positive")
	}
	if c.Repo != "" {
		if _, err := models.ParseRepoID(c.Repo); err != nil {
			return fmt.Errorf("repo: %w", err)
		}
	}
	if c.Fork != "" && c.Fork != ForkAuto {
		if _, err := models.ParseRepoID(c.Fork); err != nil {
			return fmt.Errorf("fork: %w", err)
		}
	}
	if c.Paths.WorkspaceDir == "" {
		return errors.New("paths.workspace_dir is required")
	}
	return nil
}

// RepoID returns the parsed upstream repository.
func (c *Config) RepoID() (models.RepoID, error) {
	return models.ParseRepoID(c.Repo)
}

// ForkAuto asks the tracker for the user's fork at startup.
const ForkAuto = "auto"

// ForkID returns the parsed fork, or the zero RepoID when no fork is set
// or it is discovered at startup.
func (c *Config) ForkID() (models.RepoID, error) {
	if c.Fork == "" || c.Fork == ForkAuto {
		return models.RepoID{}, nil
	}
	return models.ParseRepoID(c.Fork)
}

// ResolveStateDir fills in the state directory relative to the repository
// root when it was not configured.
func (c *Config) ResolveStateDir(repoRoot string) {
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = filepath.Join(repoRoot, "."+appName)
	}
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.Set("repo", cfg.Repo)
	v.Set("fork", cfg.Fork)
	v.Set("concurrency", cfg.Concurrency)
	v.Set("model", cfg.Model)
	v.Set("agent.binary", cfg.Agent.Binary)
	v.Set("agent.args", cfg.Agent.Args)
	v.Set("agent.timeout", cfg.Agent.Timeout.String())
	v.Set("agent.stderr_tail_lines", cfg.Agent.StderrTailLines)
	v.Set("resources.min_disk_mb", cfg.Resources.MinDiskMB)
	v.Set("resources.min_memory_mb", cfg.Resources.MinMemoryMB)
	v.Set("filters.labels", cfg.Filters.Labels)
	v.Set("filters.exclude_labels", cfg.Filters.ExcludeLabels)
	v.Set("filters.skip_if_pr_open", cfg.Filters.SkipIfPROpen)
	v.Set("filters.project_status", cfg.Filters.ProjectStatus)
	v.Set("filters.limit", cfg.Filters.Limit)
	v.Set("auto_continue", cfg.AutoContinue)
	v.Set("attach_logs", cfg.AttachLogs)
	v.Set("auto_cleanup", cfg.AutoCleanup)
	v.Set("logging.level", cfg.Logging.Level)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for issuepilot.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

func defaultWorkspaceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "worktrees")
	}
	return filepath.Join(home, ".cache", appName, "worktrees")
}

// findProjectConfig searches for .issuepilot.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}
