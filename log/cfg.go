package log

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Level is a log level name as written in configuration files.
type Level string

const (
	TraceLevel    Level = "trace"
	DebugLevel    Level = "debug"
	InfoLevel     Level = "info"
	WarnLevel     Level = "warn"
	ErrorLevel    Level = "error"
	FatalLevel    Level = "fatal"
	DisabledLevel Level = "disabled"
)

// zerolog maps the level onto zerolog's. The empty level means info.
func (l Level) zerolog() (zerolog.Level, error) {
	if l == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(string(l)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", l, err)
	}
	return lvl, nil
}

// LogCfg configures a Logger. It is loaded under the name "logger" and its
// level can be changed at runtime through the config manager.
type LogCfg struct {
	// LogPath is the file the file appender appends to.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level written. Hot-reloadable.
	LogLevel Level `mapstructure:"level"`

	// CallerSkip adds frames to skip when caller information is enabled.
	CallerSkip int `mapstructure:"callerSkip"`

	FileAppender    bool `mapstructure:"fileAppender"`
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName returns the configuration name for LogCfg
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate validates the LogCfg parameters
func (cfg *LogCfg) Validate() error {
	if _, err := cfg.LogLevel.zerolog(); err != nil {
		return err
	}
	if cfg.FileAppender && cfg.LogPath == "" {
		return errors.New("path cannot be empty when fileAppender is enabled")
	}
	if cfg.CallerSkip < 0 {
		return errors.New("callerSkip must not be negative")
	}
	return nil
}

var _defaultCfg = LogCfg{
	LogPath:         "./scosc.log",
	LogLevel:        InfoLevel,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	cfg := _defaultCfg
	return &cfg
}
