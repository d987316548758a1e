// Package config loads flowboard settings. Sources are layered with
// increasing precedence: built-in defaults, the YAML config file, FLOWBOARD_
// environment variables and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load. Nested keys are
// separated by a double underscore: FLOWBOARD_SERVER__PORT sets server.port.
const EnvPrefix = "FLOWBOARD_"

// DefaultFiles are tried in order when no config file is named explicitly.
var DefaultFiles = []string{"flowboard.yaml", "flowboard.yml"}

// Config is the complete application configuration.
type Config struct {
	Dataset string        `koanf:"dataset"`
	Watch   bool          `koanf:"watch"`
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	History HistoryConfig `koanf:"history"`
	View    ViewConfig    `koanf:"viewport"`
	Render  RenderConfig  `koanf:"render"`
}

type ServerConfig struct {
	Port         int      `koanf:"port" validate:"min=1,max=65535"`
	CORSOrigins  []string `koanf:"cors_origins"`
	ReadTimeout  int      `koanf:"read_timeout" validate:"min=1"`
	WriteTimeout int      `koanf:"write_timeout" validate:"min=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

type HistoryConfig struct {
	Enabled    bool `koanf:"enabled"`
	MaxEntries int  `koanf:"max_entries" validate:"min=0"`
}

type ViewConfig struct {
	Width  float64 `koanf:"width" validate:"gt=0"`
	Height float64 `koanf:"height" validate:"gt=0"`
}

// RenderConfig sets the output of the render command. A zero Width or Height
// fits the output to the content. Layout places nodes that have no location,
// for every command.
type RenderConfig struct {
	Width      float64 `koanf:"width" validate:"min=0"`
	Height     float64 `koanf:"height" validate:"min=0"`
	Background string  `koanf:"background"`
	Format     string  `koanf:"format" validate:"oneof=svg dot json"`
	Layout     string  `koanf:"layout" validate:"oneof=force circle"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"dataset":              "",
		"watch":                false,
		"server.port":          8080,
		"server.cors_origins":  []string{"*"},
		"server.read_timeout":  10,
		"server.write_timeout": 0,
		"log.level":            "info",
		"log.format":           "console",
		"history.enabled":      true,
		"history.max_entries":  100,
		"viewport.width":       1000.0,
		"viewport.height":      600.0,
		"render.width":         0.0,
		"render.height":        0.0,
		"render.background":    "#f8f8f8",
		"render.format":        "svg",
		"render.layout":        "force",
	}
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"port":      "server.port",
	"log-level": "log.level",
	"log-json":  "log.format",
	"format":    "render.format",
	"width":     "render.width",
	"height":    "render.height",
	"layout":    "render.layout",
	"dataset":   "dataset",
	"watch":     "watch",
}

// Loaded is a Config together with the file it was read from.
type Loaded struct {
	*Config
	File string
}

// Load reads the configuration. cfgFile may be empty, in which case the
// DefaultFiles are tried; a named file that does not exist is an error.
// flags may be nil; only flags the user changed take effect.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	used := cfgFile
	if used == "" {
		used = findConfigFile()
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			if f.Name == "log-json" {
				if f.Value.String() == "true" {
					return key, "json"
				}
				return key, "console"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: &cfg, File: used}, nil
}

// envKey turns FLOWBOARD_SERVER__PORT into server.port.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findConfigFile() string {
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks every setting against its constraints. All violations are
// reported together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
