package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	fileWriter   io.Closer
	fileWriterMu sync.Mutex
)

// Logger wraps logrus.Entry to provide structured logging with context support.
type Logger struct {
	*logrus.Entry
}

// Options configures a Logger.
type Options struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // explicit destination, overrides File
	ServiceName string

	// File enables rotated file output through lumberjack.
	File       string
	FileOnly   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OptionsFromEnv reads logger options from LOG_* environment variables.
func OptionsFromEnv() Options {
	return Options{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "ipenrich"),
		File:        envString("LOG_FILE", ""),
		FileOnly:    envBool("LOG_FILE_ONLY", false),
		MaxSizeMB:   envInt("LOG_MAX_SIZE", 100),
		MaxBackups:  envInt("LOG_MAX_BACKUPS", 7),
		MaxAgeDays:  envInt("LOG_MAX_AGE", 30),
		Compress:    envBool("LOG_COMPRESS", true),
	}
}

// New creates a Logger from opts. Zero-valued options fall back to info level,
// JSON output on stdout.
func New(opts Options) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(true)

	if strings.EqualFold(opts.Format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	}

	log.SetOutput(buildOutput(opts))

	service := opts.ServiceName
	if service == "" {
		service = "ipenrich"
	}
	return &Logger{Entry: log.WithField("service", service)}
}

// NewDefault creates a Logger from environment variables.
func NewDefault() *Logger {
	return New(OptionsFromEnv())
}

func buildOutput(opts Options) io.Writer {
	if opts.Output != nil {
		return opts.Output
	}
	if opts.File == "" {
		return os.Stdout
	}

	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	fileWriterMu.Lock()
	fileWriter = rotating
	fileWriterMu.Unlock()

	if opts.FileOnly {
		return rotating
	}
	return io.MultiWriter(os.Stdout, rotating)
}

// Sync closes the rotated log file, if any. Call it before exit.
func Sync() error {
	fileWriterMu.Lock()
	defer fileWriterMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// WithFields returns a new Logger with additional fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a new Logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a new Logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

func callerPrettyfier(frame *runtime.Frame) (function string, file string) {
	function = frame.Function
	if idx := strings.LastIndex(function, "/"); idx != -1 {
		function = function[idx+1:]
	}
	return function, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return i
}

// CtxDebug logs at Debug level with the context logger.
func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

// CtxInfo logs at Info level with the context logger.
func CtxInfo(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

// CtxWarn logs at Warn level with the context logger.
func CtxWarn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}

// CtxError logs at Error level with the context logger.
func CtxError(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Errorf(format, args...)
}

// Info logs at Info level with the default logger.
func Info(format string, args ...interface{}) {
	GetDefault().Infof(format, args...)
}

// Fatal logs with the default logger and exits.
func Fatal(format string, args ...interface{}) {
	GetDefault().Fatalf(format, args...)
}
