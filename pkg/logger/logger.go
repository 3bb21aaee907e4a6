package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkgmirror/pkg/config"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
	FatalWithFields(msg string, fields map[string]interface{})

	// GetZerolog exposes the underlying logger, nil for loggers without one
	GetZerolog() *zerolog.Logger
}

// Version is stamped on every log line
var Version = "dev"

var levels = map[string]zerolog.Level{
	"":         zerolog.InfoLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"fatal":    zerolog.FatalLevel,
	"disabled": zerolog.Disabled,
}

// console level labels, colored and padded to four columns
var levelLabels = map[string]string{
	"debug": "\033[37mDEBG\033[0m",
	"info":  "\033[32mINFO\033[0m",
	"warn":  "\033[33mWARN\033[0m",
	"error": "\033[31mERRO\033[0m",
	"fatal": "\033[35mFATL\033[0m",
}

// zerologLogger carries its bound fields in the zerolog context, so
// deriving a child copies the context and never touches the parent.
type zerologLogger struct {
	zl zerolog.Logger
}

// New creates a Logger from configuration. Console output goes to stderr so
// that command output on stdout stays clean; a configured file receives JSON.
func New(cfg *config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer = consoleWriter(os.Stderr)
	if cfg.File != "" {
		f, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}
	return build(out, level), nil
}

// NewWithWriter creates a Logger writing JSON lines to w
func NewWithWriter(w io.Writer, level string) (Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return build(w, lvl), nil
}

func build(w io.Writer, level zerolog.Level) *zerologLogger {
	zerolog.TimeFieldFormat = time.RFC3339
	return &zerologLogger{
		zl: zerolog.New(w).Level(level).With().
			Timestamp().
			Str("app", config.AppName).
			Str("version", Version).
			Logger(),
	}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			name, _ := i.(string)
			if label, ok := levelLabels[name]; ok {
				return label
			}
			return strings.ToUpper(name)
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("| %s", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[36m%s\033[0m:", i)
		},
		FieldsExclude: []string{"app", "version"},
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// parseLogLevel is case-insensitive; unknown names fall back to info with
// an error
func parseLogLevel(name string) (zerolog.Level, error) {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", name)
}

func (l *zerologLogger) emit(e *zerolog.Event, msg string, fields map[string]interface{}) {
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

func (l *zerologLogger) Debug(msg string) { l.emit(l.zl.Debug(), msg, nil) }
func (l *zerologLogger) Info(msg string)  { l.emit(l.zl.Info(), msg, nil) }
func (l *zerologLogger) Warn(msg string)  { l.emit(l.zl.Warn(), msg, nil) }
func (l *zerologLogger) Error(msg string) { l.emit(l.zl.Error(), msg, nil) }
func (l *zerologLogger) Fatal(msg string) { l.emit(l.zl.Fatal(), msg, nil) }

func (l *zerologLogger) DebugWithFields(msg string, f map[string]interface{}) {
	l.emit(l.zl.Debug(), msg, f)
}
func (l *zerologLogger) InfoWithFields(msg string, f map[string]interface{}) {
	l.emit(l.zl.Info(), msg, f)
}
func (l *zerologLogger) WarnWithFields(msg string, f map[string]interface{}) {
	l.emit(l.zl.Warn(), msg, f)
}
func (l *zerologLogger) ErrorWithFields(msg string, f map[string]interface{}) {
	l.emit(l.zl.Error(), msg, f)
}
func (l *zerologLogger) FatalWithFields(msg string, f map[string]interface{}) {
	l.emit(l.zl.Fatal(), msg, f)
}

func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zerologLogger{zl: l.zl.With().Err(err).Logger()}
}

func (l *zerologLogger) WithContext(ctx context.Context) Logger {
	return &zerologLogger{zl: l.zl.With().Ctx(ctx).Logger()}
}

func (l *zerologLogger) GetZerolog() *zerolog.Logger {
	return &l.zl
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// Initialize builds the process logger from cfg and also points zerolog's
// package logger at it
func Initialize(cfg *config.LoggingConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetLogger(l)
	log.Logger = *l.GetZerolog()
	return nil
}

// SetLogger replaces the global logger
func SetLogger(l Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetLogger returns the global logger. Until Initialize or SetLogger runs
// it is an info-level console logger.
func GetLogger() Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = build(consoleWriter(os.Stderr), zerolog.InfoLevel)
	}
	return globalLogger
}

func Debug(msg string) { GetLogger().Debug(msg) }
func Info(msg string)  { GetLogger().Info(msg) }
func Warn(msg string)  { GetLogger().Warn(msg) }
func Error(msg string) { GetLogger().Error(msg) }

func WithField(key string, value interface{}) Logger { return GetLogger().WithField(key, value) }
func WithFields(f map[string]interface{}) Logger     { return GetLogger().WithFields(f) }
func WithError(err error) Logger                     { return GetLogger().WithError(err) }
