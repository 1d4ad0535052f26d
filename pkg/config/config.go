// Package config loads goprobe settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/daimatz/goprobe/pkg/decode"
	"github.com/daimatz/goprobe/pkg/format"
	"github.com/daimatz/goprobe/pkg/hook"
	"github.com/daimatz/goprobe/pkg/resolve"
)

// Config holds all goprobe configuration.
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Methods MethodsConfig `yaml:"methods"`
	Decode  DecodeConfig  `yaml:"decode"`
	Hooks   HooksConfig   `yaml:"hooks"`
	Dump    DumpConfig    `yaml:"dump"`
	Logging LoggingConfig `yaml:"logging"`
}

// TargetConfig selects the class to instrument.
type TargetConfig struct {
	Assembly     string `yaml:"assembly"`
	Namespace    string `yaml:"namespace"`
	Class        string `yaml:"class"`
	FullName     string `yaml:"full_name"`
	PartialMatch bool   `yaml:"partial_match"`
	PickIndex    int    `yaml:"pick_index"`
}

// MethodsConfig filters the methods of the selected class.
type MethodsConfig struct {
	Contains   string   `yaml:"contains"`
	Pattern    string   `yaml:"pattern"`
	Exclude    []string `yaml:"exclude"`
	SkipStatic bool     `yaml:"skip_static"`
}

// DecodeConfig configures decoding and rendering.
type DecodeConfig struct {
	Limits    decode.Limits      `yaml:"limits"`
	Offsets   decode.Offsets     `yaml:"offsets"`
	Fields    decode.FieldPolicy `yaml:"fields"`
	Int64Mode string             `yaml:"int64_mode"` // dec, hex, both
}

// HooksConfig paces and caps hook installation.
type HooksConfig struct {
	Delay    string `yaml:"delay"`
	MaxHooks int    `yaml:"max_hooks"`
}

// DumpConfig configures object dumps.
type DumpConfig struct {
	// Dedup renders each object address at most once per session.
	Dedup bool `yaml:"dedup"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Decode: DecodeConfig{
			Limits:    decode.DefaultLimits(),
			Offsets:   decode.DefaultOffsets(),
			Fields:    decode.DefaultFieldPolicy(),
			Int64Mode: "dec",
		},
		Hooks: HooksConfig{
			Delay:    "25ms",
			MaxHooks: 32,
		},
		Dump: DumpConfig{Dedup: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies GOPROBE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GOPROBE_ASSEMBLY"); v != "" {
		c.Target.Assembly = v
	}
	if v := os.Getenv("GOPROBE_CLASS"); v != "" {
		c.Target.Class = v
	}
	if v := os.Getenv("GOPROBE_FULL_NAME"); v != "" {
		c.Target.FullName = v
	}
	if v, err := strconv.ParseBool(os.Getenv("GOPROBE_PARTIAL_MATCH")); err == nil {
		c.Target.PartialMatch = v
	}
	if v, err := strconv.Atoi(os.Getenv("GOPROBE_MAX_HOOKS")); err == nil {
		c.Hooks.MaxHooks = v
	}
	if v := os.Getenv("GOPROBE_HOOK_DELAY"); v != "" {
		c.Hooks.Delay = v
	}
	if v := os.Getenv("GOPROBE_INT64_MODE"); v != "" {
		c.Decode.Int64Mode = v
	}
	if v := os.Getenv("GOPROBE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var err error
	lim := c.Decode.Limits
	if lim.MaxString <= 0 {
		err = multierr.Append(err, fmt.Errorf("decode.limits.max_string must be positive, got %d", lim.MaxString))
	}
	if lim.MaxLength <= 0 {
		err = multierr.Append(err, fmt.Errorf("decode.limits.max_length must be positive, got %d", lim.MaxLength))
	}
	for name, v := range map[string]int{
		"max_fields":   lim.MaxFields,
		"max_entries":  lim.MaxEntries,
		"max_depth":    lim.MaxDepth,
		"byte_preview": lim.BytePreview,
	} {
		if v < 0 {
			err = multierr.Append(err, fmt.Errorf("decode.limits.%s must not be negative, got %d", name, v))
		}
	}
	if _, e := format.ParseInt64Mode(c.Decode.Int64Mode); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Methods.Pattern != "" {
		if _, e := regexp.Compile(c.Methods.Pattern); e != nil {
			err = multierr.Append(err, fmt.Errorf("methods.pattern: %w", e))
		}
	}
	if c.Hooks.MaxHooks <= 0 {
		err = multierr.Append(err, fmt.Errorf("hooks.max_hooks must be positive, got %d", c.Hooks.MaxHooks))
	}
	if d, e := time.ParseDuration(c.Hooks.Delay); e != nil {
		err = multierr.Append(err, fmt.Errorf("hooks.delay: %w", e))
	} else if d < 0 {
		err = multierr.Append(err, fmt.Errorf("hooks.delay must not be negative, got %s", d))
	}
	if _, e := c.Logging.level(); e != nil {
		err = multierr.Append(err, e)
	}
	return err
}

// ResolveTarget returns the configured resolver target.
func (c *Config) ResolveTarget() resolve.Target {
	return resolve.Target{
		Assembly:          c.Target.Assembly,
		Namespace:         c.Target.Namespace,
		ClassName:         c.Target.Class,
		FullName:          c.Target.FullName,
		AllowPartialMatch: c.Target.PartialMatch,
		PickIndex:         c.Target.PickIndex,
	}
}

// MethodFilter compiles the configured method filter.
func (c *Config) MethodFilter() (resolve.MethodFilter, error) {
	f := resolve.MethodFilter{
		Contains:   c.Methods.Contains,
		Exclude:    c.Methods.Exclude,
		SkipStatic: c.Methods.SkipStatic,
	}
	if p := strings.TrimSpace(c.Methods.Pattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return f, fmt.Errorf("methods.pattern: %w", err)
		}
		f.Pattern = re
	}
	return f, nil
}

// DecodeOptions returns the decoder options.
func (c *Config) DecodeOptions() decode.Options {
	return decode.Options{
		Offsets: c.Decode.Offsets,
		Limits:  c.Decode.Limits,
		Fields:  c.Decode.Fields,
	}
}

// FormatOptions returns the formatter options. An invalid int64 mode falls
// back to decimal.
func (c *Config) FormatOptions() format.Options {
	opts := format.DefaultOptions()
	if m, err := format.ParseInt64Mode(c.Decode.Int64Mode); err == nil {
		opts.Int64Mode = m
	}
	return opts
}

// HookOptions returns the installation options. An unparsable delay is
// treated as 25ms.
func (c *Config) HookOptions() hook.Options {
	d, err := time.ParseDuration(c.Hooks.Delay)
	if err != nil || d < 0 {
		d = 25 * time.Millisecond
	}
	return hook.Options{Delay: d, MaxHooks: c.Hooks.MaxHooks}
}
