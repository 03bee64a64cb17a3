// Package config loads the reader configuration: built-in defaults with an
// optional YAML file superimposed on top.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/text/language"
	yaml "gopkg.in/yaml.v3"

	"github.com/metcalfc/leaf/internal/engine"
	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/navigation"
)

//go:embed config.yaml
var defaults []byte

type (
	LayoutConfig struct {
		LineHeight          float64 `yaml:"line_height"`
		FontSize            float64 `yaml:"font_size"`
		Theme               string  `yaml:"theme"`
		MinFragmentLines    float64 `yaml:"min_fragment_lines"`
		OrphanMergeAttempts int     `yaml:"orphan_merge_attempts"`
	}

	NavigationConfig struct {
		DragCommitFraction float64       `yaml:"drag_commit_fraction"`
		Animate            bool          `yaml:"animate"`
		AutoAdvance        time.Duration `yaml:"auto_advance"`
	}

	ReadingConfig struct {
		LongPress  time.Duration `yaml:"long_press"`
		Language   string        `yaml:"language"`
		SpeechPace time.Duration `yaml:"speech_pace"`
	}

	Config struct {
		Version    int              `yaml:"version"`
		Layout     LayoutConfig     `yaml:"layout"`
		Navigation NavigationConfig `yaml:"navigation"`
		Reading    ReadingConfig    `yaml:"reading"`
		Logging    LoggingConfig    `yaml:"logging"`
	}
)

func unmarshalConfig(data []byte, cfg *Config) (*Config, error) {
	// only fields we defined are accepted, so no yaml.Unmarshal
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration file at path, superimposes its
// values on the built-in defaults and validates the result. An empty path
// returns the defaults.
func LoadConfiguration(path string) (*Config, error) {
	cfg, err := unmarshalConfig(defaults, &Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to process default configuration: %w", err)
	}
	if len(path) > 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if cfg, err = unmarshalConfig(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to process configuration file: %w", err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns the configuration file location under
// XDG_CONFIG_HOME, falling back to ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "leaf", "config.yaml")
}

// Validate checks value ranges, reporting every problem found.
func (c *Config) Validate() error {
	var err error
	if c.Version != 1 {
		err = multierr.Append(err, fmt.Errorf("unsupported configuration version %d", c.Version))
	}
	if c.Layout.LineHeight <= 0 {
		err = multierr.Append(err, fmt.Errorf("layout.line_height must be positive, got %v", c.Layout.LineHeight))
	}
	if c.Layout.FontSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("layout.font_size must be positive, got %v", c.Layout.FontSize))
	}
	if c.Layout.MinFragmentLines < 0 {
		err = multierr.Append(err, fmt.Errorf("layout.min_fragment_lines must not be negative, got %v", c.Layout.MinFragmentLines))
	}
	if c.Layout.OrphanMergeAttempts < 0 {
		err = multierr.Append(err, fmt.Errorf("layout.orphan_merge_attempts must not be negative, got %d", c.Layout.OrphanMergeAttempts))
	}
	if f := c.Navigation.DragCommitFraction; f <= 0 || f >= 1 {
		err = multierr.Append(err, fmt.Errorf("navigation.drag_commit_fraction must be between 0 and 1, got %v", f))
	}
	if c.Navigation.AutoAdvance < 0 || c.Reading.LongPress < 0 || c.Reading.SpeechPace < 0 {
		err = multierr.Append(err, fmt.Errorf("durations must not be negative"))
	}
	if _, perr := language.Parse(c.Reading.Language); perr != nil {
		err = multierr.Append(err, fmt.Errorf("reading.language: %w", perr))
	}
	return multierr.Append(err, c.Logging.validate())
}

// Dump returns the configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}

// LayoutSettings returns pagination settings for a page of the given size.
// Width and height are in the units of the oracle in use; line height is
// in the same units.
func (c *Config) LayoutSettings(width, height, lineHeight float64) layout.Settings {
	return layout.Settings{
		PageWidth:           width,
		PageHeight:          height,
		FontSize:            c.Layout.FontSize,
		LineHeight:          lineHeight,
		Theme:               c.Layout.Theme,
		MinFragmentLines:    c.Layout.MinFragmentLines,
		OrphanMergeAttempts: c.Layout.OrphanMergeAttempts,
	}
}

// SessionOptions returns engine options for a viewport of the given width.
func (c *Config) SessionOptions(viewportWidth float64) engine.Options {
	return engine.Options{
		Navigation: navigation.Settings{
			DragCommitFraction: c.Navigation.DragCommitFraction,
			ViewportWidth:      viewportWidth,
			Animate:            c.Navigation.Animate,
		},
		LongPressDelay: c.Reading.LongPress,
	}
}

// Language returns the reading language tag.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Reading.Language)
	if err != nil {
		return language.English
	}
	return tag
}
