// Package log provides leveled structured logging on top of zerolog.
//
// A package-level default logger backs Debug, Info, Warn, Error and Fatal.
// Its level and appenders come from the "logger" configuration and follow
// hot reloads when it is built with NewLoggerWithConfigManager.
package log

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lcx/scosc/config"
)

// LogEvent is a log entry under construction. Fields are chained onto it and
// Msg or Send writes it.
type LogEvent = zerolog.Event

// Logger writes structured events to its appenders.
type Logger struct {
	configMutex   sync.RWMutex
	currentConfig *LogCfg
	appenders     []LogAppender

	zl atomic.Pointer[zerolog.Logger]

	configManager config.ConfigManager
}

var _defaultLogger atomic.Pointer[Logger]

func init() {
	_defaultLogger.Store(NewLogger(nil))
}

// NewLogger creates a logger from cfg. A nil cfg logs info and above to the
// console.
//
// Parameters:
//   - cfg: Logger configuration specifying level, appenders and caller info
//
// Returns:
//   - A new Logger. A file appender that cannot be opened is skipped and
//     reported through the console.
func NewLogger(cfg *LogCfg) *Logger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}
	x := &Logger{currentConfig: cfg}
	x.appenders = x.buildAppenders(cfg)
	x.rebuild()
	return x
}

// NewLoggerWithAppenders creates a logger writing only to the given
// appenders, ignoring the appender flags of cfg.
func NewLoggerWithAppenders(cfg *LogCfg, appenders ...LogAppender) *Logger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}
	x := &Logger{currentConfig: cfg, appenders: appenders}
	x.rebuild()
	return x
}

// NewLoggerWithConfigManager creates a logger that registers itself as a
// change listener, so edits to the "logger" configuration apply without a
// restart.
//
// Parameters:
//   - cfg: Initial logger configuration
//   - configManager: Configuration manager instance for hot-reload support
//
// Returns:
//   - A new Logger with hot-reload capability
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *Logger {
	logger := NewLogger(cfg)
	logger.configManager = configManager
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

func (x *Logger) buildAppenders(cfg *LogCfg) []LogAppender {
	var appenders []LogAppender
	if cfg.ConsoleAppender {
		appenders = append(appenders, NewConsoleAppender())
	}
	if cfg.FileAppender {
		fa, err := NewFileAppender(cfg.LogPath)
		if err != nil {
			console := zerolog.New(NewConsoleAppender()).With().Timestamp().Logger()
			console.Error().Err(err).Str("path", cfg.LogPath).Msg("file appender disabled")
		} else {
			appenders = append(appenders, fa)
		}
	}
	return appenders
}

// rebuild recreates the zerolog logger from the current config and
// appenders. Callers hold configMutex or own x exclusively.
func (x *Logger) rebuild() {
	cfg := x.currentConfig
	lvl, err := cfg.LogLevel.zerolog()
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer
	switch len(x.appenders) {
	case 0:
		w = io.Discard
	case 1:
		w = x.appenders[0]
	default:
		writers := make([]io.Writer, len(x.appenders))
		for i, a := range x.appenders {
			writers[i] = a
		}
		w = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(w).Level(lvl).With().Timestamp()
	if cfg.EnabledCallerInfo {
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + cfg.CallerSkip)
	}
	zl := ctx.Logger()
	x.zl.Store(&zl)
}

// OnConfigChanged implements config.ConfigChangeListener. Level and caller
// settings are applied immediately; appenders are rebuilt when their flags or
// the file path changed.
//
// Parameters:
//   - configName: Name of the configuration that changed
//   - newConfig: New configuration instance
//   - oldConfig: Previous configuration instance
//
// Returns:
//   - Error if the new configuration is invalid, nil otherwise
func (x *Logger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	newLogCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	if err := newLogCfg.Validate(); err != nil {
		return err
	}
	x.updateConfig(newLogCfg)
	return nil
}

func (x *Logger) updateConfig(newCfg *LogCfg) {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()

	old := x.currentConfig
	x.currentConfig = newCfg
	if old.ConsoleAppender != newCfg.ConsoleAppender ||
		old.FileAppender != newCfg.FileAppender ||
		old.LogPath != newCfg.LogPath {
		for _, a := range x.appenders {
			_ = a.Close()
		}
		x.appenders = x.buildAppenders(newCfg)
	}
	x.rebuild()
}

// GetCurrentConfig returns the configuration in effect.
func (x *Logger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

// SetLevel changes the minimum level without touching appenders.
func (x *Logger) SetLevel(level Level) error {
	if _, err := level.zerolog(); err != nil {
		return err
	}
	x.configMutex.Lock()
	defer x.configMutex.Unlock()
	cfg := *x.currentConfig
	cfg.LogLevel = level
	x.currentConfig = &cfg
	x.rebuild()
	return nil
}

// AddAppender adds an output destination.
func (x *Logger) AddAppender(appender LogAppender) {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()
	x.appenders = append(x.appenders, appender)
	x.rebuild()
}

// GetAppender returns a copy of the logger's appenders.
func (x *Logger) GetAppender() []LogAppender {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return append([]LogAppender(nil), x.appenders...)
}

// Close closes every appender.
func (x *Logger) Close() error {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()
	var errs []error
	for _, a := range x.appenders {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	x.appenders = nil
	x.rebuild()
	return errors.Join(errs...)
}

// Zerolog returns the underlying zerolog logger.
func (x *Logger) Zerolog() *zerolog.Logger {
	return x.zl.Load()
}

func (x *Logger) Debug() *LogEvent { return x.zl.Load().Debug() }
func (x *Logger) Info() *LogEvent  { return x.zl.Load().Info() }
func (x *Logger) Warn() *LogEvent  { return x.zl.Load().Warn() }
func (x *Logger) Error() *LogEvent { return x.zl.Load().Error() }

// Fatal creates a fatal-level event. Writing it exits the process.
func (x *Logger) Fatal() *LogEvent { return x.zl.Load().Fatal() }

// AddAppender adds a new log appender to the default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.Load().AddAppender(appender)
}

// SetDefaultLogger replaces the logger behind the package-level functions.
func SetDefaultLogger(logger *Logger) {
	_defaultLogger.Store(logger)
}

// DefaultLogger returns the logger behind the package-level functions.
func DefaultLogger() *Logger {
	return _defaultLogger.Load()
}

// InitializeWithConfigManager loads the "logger" configuration from
// configManager and installs a hot-reloading default logger built from it.
//
// Parameters:
//   - configManager: Configuration manager instance
//
// Returns:
//   - Error if configuration loading fails, nil otherwise
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}
	logCfg := &LogCfg{}
	if err := configManager.LoadConfig("logger", logCfg); err != nil {
		return err
	}
	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Initialize initializes the default logger using the singleton
// ConfigManager instance.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// Debug creates a new debug-level log event using the default logger.
func Debug() *LogEvent {
	return _defaultLogger.Load().Debug()
}

// Info creates a new info-level log event using the default logger.
func Info() *LogEvent {
	return _defaultLogger.Load().Info()
}

// Warn creates a new warn-level log event using the default logger.
func Warn() *LogEvent {
	return _defaultLogger.Load().Warn()
}

// Error creates a new error-level log event using the default logger.
func Error() *LogEvent {
	return _defaultLogger.Load().Error()
}

// Fatal creates a new fatal-level log event using the default logger.
func Fatal() *LogEvent {
	return _defaultLogger.Load().Fatal()
}
