// Package config loads kcache settings from JSONC files and CLI overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrCacheRootEmpty     = errors.New("cache_root cannot be empty")
	ErrCompilerTemplate   = errors.New("compiler command must reference {src} and {out}")
)

// FileName is the project config file name.
const FileName = ".kcache.json"

// DefaultMaxCachedBinaries is the eviction threshold used when no config
// sets one.
const DefaultMaxCachedBinaries = 256

// Config holds all configuration options.
type Config struct {
	CacheRoot          string   `json:"cache_root"`
	MaxCachedBinaries  int      `json:"max_cached_binaries"`
	AttemptUseBinaries bool     `json:"attempt_use_binaries"`
	AttemptUseSource   bool     `json:"attempt_use_source"`
	Compiler           []string `json:"compiler,omitempty"`
	Platform           string   `json:"platform,omitempty"`
	Vendor             string   `json:"vendor,omitempty"`
	DriverVersion      string   `json:"driver_version,omitempty"`
	BuildOptions       string   `json:"build_options,omitempty"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"`
	CacheRootAbs string `json:"-"`

	// Sources tracks which config files were loaded
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// fileConfig is the on-disk form. Pointers distinguish "absent" from the
// zero value so a later file can turn a flag off.
type fileConfig struct {
	CacheRoot          *string  `json:"cache_root"`
	MaxCachedBinaries  *int     `json:"max_cached_binaries"`
	AttemptUseBinaries *bool    `json:"attempt_use_binaries"`
	AttemptUseSource   *bool    `json:"attempt_use_source"`
	Compiler           []string `json:"compiler"`
	Platform           *string  `json:"platform"`
	Vendor             *string  `json:"vendor"`
	DriverVersion      *string  `json:"driver_version"`
	BuildOptions       *string  `json:"build_options"`
}

// Overrides are values given on the command line. Nil fields are not set.
type Overrides struct {
	CacheRoot          *string
	MaxCachedBinaries  *int
	AttemptUseBinaries *bool
	AttemptUseSource   *bool
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // CLI flag values
	Env             map[string]string // environment variables
}

// Default returns the default configuration. The cache lives under
// $XDG_CACHE_HOME/kcache, ~/.cache/kcache, or .kcache in the working
// directory, whichever can be determined first.
func Default(env map[string]string) Config {
	root := ".kcache"

	switch {
	case env["XDG_CACHE_HOME"] != "":
		root = filepath.Join(env["XDG_CACHE_HOME"], "kcache")
	case env["HOME"] != "":
		root = filepath.Join(env["HOME"], ".cache", "kcache")
	}

	return Config{
		CacheRoot:          root,
		MaxCachedBinaries:  DefaultMaxCachedBinaries,
		AttemptUseBinaries: true,
		AttemptUseSource:   true,
	}
}

// globalPath returns $XDG_CONFIG_HOME/kcache/config.json, or
// ~/.config/kcache/config.json, or "" if neither can be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "kcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "kcache", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/kcache/config.json or $XDG_CONFIG_HOME/kcache/config.json)
// 3. Project config file (.kcache.json in the working directory, if it exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. CLI overrides.
//
// CacheRootAbs is resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default(input.Env)

	if path := globalPath(input.Env); path != "" {
		fc, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
			cfg = merge(cfg, fc)
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	fc, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, fc)
	}

	cfg = applyOverrides(cfg, input.Overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.CacheRoot) {
		cfg.CacheRootAbs = cfg.CacheRoot
	} else {
		cfg.CacheRootAbs = filepath.Join(workDir, cfg.CacheRoot)
	}

	return cfg, nil
}

// loadFile reads one config file. Missing optional files are not an error.
func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err) && mustExist:
			return fileConfig{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		case os.IsNotExist(err):
			return fileConfig{}, false, nil
		default:
			return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
		}
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	if fc.CacheRoot != nil && *fc.CacheRoot == "" {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrCacheRootEmpty)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func merge(base Config, overlay fileConfig) Config {
	setString(&base.CacheRoot, overlay.CacheRoot)
	setString(&base.Platform, overlay.Platform)
	setString(&base.Vendor, overlay.Vendor)
	setString(&base.DriverVersion, overlay.DriverVersion)
	setString(&base.BuildOptions, overlay.BuildOptions)

	if overlay.MaxCachedBinaries != nil {
		base.MaxCachedBinaries = *overlay.MaxCachedBinaries
	}

	if overlay.AttemptUseBinaries != nil {
		base.AttemptUseBinaries = *overlay.AttemptUseBinaries
	}

	if overlay.AttemptUseSource != nil {
		base.AttemptUseSource = *overlay.AttemptUseSource
	}

	if len(overlay.Compiler) > 0 {
		base.Compiler = overlay.Compiler
	}

	return base
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyOverrides(cfg Config, o Overrides) Config {
	if o.CacheRoot != nil && *o.CacheRoot != "" {
		cfg.CacheRoot = *o.CacheRoot
	}

	if o.MaxCachedBinaries != nil {
		cfg.MaxCachedBinaries = *o.MaxCachedBinaries
	}

	if o.AttemptUseBinaries != nil {
		cfg.AttemptUseBinaries = *o.AttemptUseBinaries
	}

	if o.AttemptUseSource != nil {
		cfg.AttemptUseSource = *o.AttemptUseSource
	}

	return cfg
}

func validate(cfg Config) error {
	if cfg.CacheRoot == "" {
		return ErrCacheRootEmpty
	}

	if len(cfg.Compiler) > 0 {
		joined := strings.Join(cfg.Compiler, " ")
		if !strings.Contains(joined, "{src}") || !strings.Contains(joined, "{out}") {
			return ErrCompilerTemplate
		}
	}

	return nil
}
