// Package config loads shipit configuration from JSONC files, the
// environment, and the settings store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/shipit/internal/release"
	"github.com/calvinalkan/shipit/internal/review"
	"github.com/calvinalkan/shipit/internal/settings"
	"github.com/calvinalkan/shipit/internal/where"
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".shipit.json"

// Environment variables that override tokens from config files.
const (
	EnvTrackerToken = "SHIPIT_TRACKER_TOKEN"
	EnvFlagsToken   = "SHIPIT_FLAGS_TOKEN"
)

// StoriesAll selects every story fetched for the release, including ones
// dropped because they were carried over or obsolete.
const StoriesAll = "all"

// LogLevels are the accepted values of log_level.
var LogLevels = []string{"debug", "info", "warn", "error"}

// Config holds all configuration options.
type Config struct {
	RepoPath    string           `json:"repo_path"`
	Branch      string           `json:"branch"`
	Concurrency int              `json:"concurrency"`
	LogLevel    string           `json:"log_level"`
	Tracker     Tracker          `json:"tracker"`
	Flags       Flags            `json:"flags"`
	Upsource    Upsource         `json:"upsource"`
	Releases    []release.Window `json:"releases"`
	Sections    []Section        `json:"sections"`

	// Resolved values (computed, not serialized)
	EffectiveCwd string  `json:"-"`
	RepoPathAbs  string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Tracker configures the Pivotal Tracker client.
type Tracker struct {
	ProjectID     int64          `json:"project_id"`
	Token         string         `json:"token,omitempty"`
	BaseURL       string         `json:"base_url,omitempty"`
	ReviewTypeIDs review.TypeIDs `json:"review_type_ids"`
}

// Flags configures the feature flag service. Flag lookups are skipped when
// no app key is set.
type Flags struct {
	AppKey      string `json:"app_key,omitempty"`
	APIToken    string `json:"api_token,omitempty"`
	Environment string `json:"environment,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	URLTemplate string `json:"url_template,omitempty"`
}

// Upsource configures code review links. Links are omitted when no base URL
// is set.
type Upsource struct {
	BaseURL string `json:"base_url,omitempty"`
	Project string `json:"project,omitempty"`
}

// Section is a report section selected by a where expression.
type Section struct {
	Header  string     `json:"header"`
	Stories string     `json:"stories,omitempty"`
	Where   where.Expr `json:"where"`
	Attach  *Attach    `json:"attach,omitempty"`
}

// Attach sets an attribute on every story a section matches. Later sections
// can select on it.
type Attach struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// UnmarshalJSON compiles the where expression, naming the section in errors.
func (s *Section) UnmarshalJSON(data []byte) error {
	type plain Section

	var raw struct {
		plain

		Where json.RawMessage `json:"where"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	*s = Section(raw.plain)

	if len(raw.Where) == 0 {
		return nil
	}

	s.Where, err = where.Parse(raw.Where)
	if err != nil {
		return fmt.Errorf("section %q: %w", s.Header, err)
	}

	return nil
}

// Sources tracks where configuration values came from.
type Sources struct {
	Global       string // Path to global config if loaded, empty otherwise
	Project      string // Path to project or explicit config if loaded
	TrackerToken string // "config", "env", "settings", or empty
	FlagsToken   string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RepoPath: ".",
		Branch:   "master",
		LogLevel: "warn",
	}
}

// GlobalConfigPath returns $XDG_CONFIG_HOME/shipit/config.json, falling back
// to ~/.config. It returns "" when neither variable is set.
func GlobalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "shipit", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "shipit", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	LogLevel        string            // --log-level flag value; empty means no override
	Env             map[string]string // environment variables
	Settings        *settings.Store   // token fallback; nil skips it
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/shipit/config.json)
// 3. Project config file (.shipit.json, if it exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. Environment and CLI overrides.
//
// Tokens still unset after that are read from the settings store.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalPath := GlobalConfigPath(input.Env)
	if globalPath != "" {
		globalCfg, loaded, err := loadConfigFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
			cfg = mergeConfig(cfg, globalCfg)
		}
	}

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if cfg.Tracker.Token != "" {
		cfg.Sources.TrackerToken = "config"
	}

	if cfg.Flags.APIToken != "" {
		cfg.Sources.FlagsToken = "config"
	}

	applyEnv(&cfg, input.Env)

	if input.LogLevel != "" {
		cfg.LogLevel = input.LogLevel
	}

	err = applySettings(&cfg, input.Settings)
	if err != nil {
		return Config{}, err
	}

	err = validateConfig(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.RepoPath) {
		cfg.RepoPathAbs = cfg.RepoPath
	} else {
		cfg.RepoPathAbs = filepath.Join(workDir, cfg.RepoPath)
	}

	return cfg, nil
}

// ValidateReleases checks that a current release window is configured.
func (c Config) ValidateReleases() error {
	if len(c.Releases) == 0 {
		return ErrNoReleases
	}

	return nil
}

// Current returns the window the report is about: the last one. It panics
// when no release is configured; see ValidateReleases.
func (c Config) Current() release.Window {
	return c.Releases[len(c.Releases)-1]
}

// Prior returns the windows before the current one, oldest first.
func (c Config) Prior() []release.Window {
	return c.Releases[:len(c.Releases)-1]
}

// ValidateTracker checks the settings needed to talk to the tracker.
func (c Config) ValidateTracker() error {
	if c.Tracker.ProjectID == 0 {
		return ErrProjectIDRequired
	}

	if c.Tracker.Token == "" {
		return ErrTrackerToken
	}

	return nil
}

func applyEnv(cfg *Config, env map[string]string) {
	if v := env[EnvTrackerToken]; v != "" {
		cfg.Tracker.Token = v
		cfg.Sources.TrackerToken = "env"
	}

	if v := env[EnvFlagsToken]; v != "" {
		cfg.Flags.APIToken = v
		cfg.Sources.FlagsToken = "env"
	}
}

func applySettings(cfg *Config, store *settings.Store) error {
	if store == nil || (cfg.Tracker.Token != "" && cfg.Flags.APIToken != "") {
		return nil
	}

	values, err := store.All()
	if err != nil {
		return err
	}

	if v := values[settings.KeyTrackerToken]; cfg.Tracker.Token == "" && v != "" {
		cfg.Tracker.Token = v
		cfg.Sources.TrackerToken = "settings"
	}

	if v := values[settings.KeyFlagsToken]; cfg.Flags.APIToken == "" && v != "" {
		cfg.Flags.APIToken = v
		cfg.Sources.FlagsToken = "settings"
	}

	return nil
}

// loadProjectConfig loads the project config file (.shipit.json) or an
// explicit config file.
func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		cfgFile := filepath.Join(workDir, ConfigFileName)

		cfg, loaded, err := loadConfigFile(cfgFile, false)
		if err != nil || !loaded {
			return Config{}, "", err
		}

		return cfg, cfgFile, nil
	}

	cfgFile := configPath
	if !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(workDir, cfgFile)
	}

	_, statErr := os.Stat(cfgFile)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadConfigFile(cfgFile, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, cfgFile, nil
}

// loadConfigFile loads a config file. If mustExist is false, a missing file
// returns a zero config and loaded=false.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC config document. Where expressions are compiled, so
// an unknown command is reported here.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	base.RepoPath = pick(base.RepoPath, overlay.RepoPath)
	base.Branch = pick(base.Branch, overlay.Branch)
	base.LogLevel = pick(base.LogLevel, overlay.LogLevel)

	if overlay.Concurrency != 0 {
		base.Concurrency = overlay.Concurrency
	}

	if overlay.Tracker.ProjectID != 0 {
		base.Tracker.ProjectID = overlay.Tracker.ProjectID
	}

	base.Tracker.Token = pick(base.Tracker.Token, overlay.Tracker.Token)
	base.Tracker.BaseURL = pick(base.Tracker.BaseURL, overlay.Tracker.BaseURL)
	base.Tracker.ReviewTypeIDs = mergeTypeIDs(base.Tracker.ReviewTypeIDs, overlay.Tracker.ReviewTypeIDs)

	base.Flags.AppKey = pick(base.Flags.AppKey, overlay.Flags.AppKey)
	base.Flags.APIToken = pick(base.Flags.APIToken, overlay.Flags.APIToken)
	base.Flags.Environment = pick(base.Flags.Environment, overlay.Flags.Environment)
	base.Flags.BaseURL = pick(base.Flags.BaseURL, overlay.Flags.BaseURL)
	base.Flags.URLTemplate = pick(base.Flags.URLTemplate, overlay.Flags.URLTemplate)

	base.Upsource.BaseURL = pick(base.Upsource.BaseURL, overlay.Upsource.BaseURL)
	base.Upsource.Project = pick(base.Upsource.Project, overlay.Upsource.Project)

	if overlay.Releases != nil {
		base.Releases = overlay.Releases
	}

	if overlay.Sections != nil {
		base.Sections = overlay.Sections
	}

	return base
}

func mergeTypeIDs(base, overlay review.TypeIDs) review.TypeIDs {
	if overlay.Code != nil {
		base.Code = overlay.Code
	}

	if overlay.QA != nil {
		base.QA = overlay.QA
	}

	if overlay.Design != nil {
		base.Design = overlay.Design
	}

	if overlay.FeatureFlag != nil {
		base.FeatureFlag = overlay.FeatureFlag
	}

	return base
}

func pick(base, overlay string) string {
	if overlay != "" {
		return overlay
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.Concurrency < 0 {
		return ErrConcurrency
	}

	if !slices.Contains(LogLevels, cfg.LogLevel) {
		return fmt.Errorf("%w %q (want one of %v)", ErrLogLevel, cfg.LogLevel, LogLevels)
	}

	for i, w := range cfg.Releases {
		if w.From == "" {
			return fmt.Errorf("releases[%d]: %w", i, ErrReleaseFromEmpty)
		}
	}

	for i, s := range cfg.Sections {
		if s.Header == "" {
			return fmt.Errorf("sections[%d]: %w", i, ErrSectionHeaderEmpty)
		}

		if s.Stories != "" && s.Stories != StoriesAll {
			return fmt.Errorf("section %q: %w %q", s.Header, ErrStoriesSelector, s.Stories)
		}

		if s.Attach != nil && s.Attach.Key == "" {
			return fmt.Errorf("section %q: %w", s.Header, ErrAttachKeyEmpty)
		}
	}

	return nil
}
