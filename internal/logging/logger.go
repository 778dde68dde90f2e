package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger levels
const (
	DEBUG = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	// Global logger instance
	globalLogger *Logger
	once         sync.Once

	// Default log settings
	defaultLogDir  = ".portalpilot/logs"
	defaultLogFile = "portalpilot.log"
	maxLogSize     = int64(10 * 1024 * 1024) // 10MB
	maxLogAge      = 7 * 24 * time.Hour      // 7 days
)

// Logger represents the application logger
type Logger struct {
	mu         sync.Mutex
	sugar      *zap.SugaredLogger
	level      zap.AtomicLevel
	sink       *rotatingFile
	projectDir string
	logPath    string
}

// Initialize sets up the global logger
func Initialize(projectDir string) error {
	var initErr error
	once.Do(func() {
		globalLogger = &Logger{
			level:      zap.NewAtomicLevelAt(zapcore.InfoLevel),
			projectDir: projectDir,
		}
		initErr = globalLogger.init()
	})
	return initErr
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if globalLogger == nil {
		Initialize(".")
	}
	return globalLogger
}

// NewWithWriter builds a logger that writes JSON lines to w. Used by tests
// and by commands that log to stderr.
func NewWithWriter(w io.Writer, level int) *Logger {
	l := &Logger{level: zap.NewAtomicLevelAt(toZapLevel(level))}
	l.sugar = newSugar(zapcore.AddSync(w), l.level)
	return l
}

func (l *Logger) init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	logDir := filepath.Join(l.projectDir, defaultLogDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	l.logPath = filepath.Join(logDir, defaultLogFile)
	sink := &rotatingFile{path: l.logPath, maxSize: maxLogSize}
	if err := sink.open(); err != nil {
		return err
	}
	l.sink = sink
	l.sugar = newSugar(sink, l.level)
	return nil
}

func newSugar(ws zapcore.WriteSyncer, level zap.AtomicLevel) *zap.SugaredLogger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "caller",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
	core := zapcore.NewCore(enc, ws, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

func toZapLevel(level int) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// rotatingFile is a zapcore.WriteSyncer that rotates by size
type rotatingFile struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	maxSize     int64
	currentSize int64
}

func (r *rotatingFile) open() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if info, err := file.Stat(); err == nil {
		r.currentSize = info.Size()
	}
	r.file = file
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSize+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.currentSize += int64(n)
	return n, err
}

func (r *rotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

func (r *rotatingFile) rotate() error {
	if r.file != nil {
		r.file.Close()
	}

	timestamp := time.Now().Format("20060102-150405")
	rotatedPath := filepath.Join(filepath.Dir(r.path), fmt.Sprintf("portalpilot-%s.log", timestamp))
	if err := os.Rename(r.path, rotatedPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := r.open(); err != nil {
		return err
	}

	go cleanOldLogs(filepath.Dir(r.path))
	return nil
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// cleanOldLogs removes rotated log files older than maxLogAge
func cleanOldLogs(logDir string) {
	files, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxLogAge)
	for _, file := range files {
		if file.IsDir() || file.Name() == defaultLogFile || filepath.Ext(file.Name()) != ".log" {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(logDir, file.Name()))
		}
	}
}

func (l *Logger) write(level int, format string, v ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	switch level {
	case DEBUG:
		l.sugar.Debugf(format, v...)
	case INFO:
		l.sugar.Infof(format, v...)
	case WARN:
		l.sugar.Warnf(format, v...)
	case ERROR:
		l.sugar.Errorf(format, v...)
	case FATAL:
		l.sugar.Fatalf(format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.write(DEBUG, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.write(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(ERROR, format, v...)
}

// With returns a child logger carrying structured fields, e.g. the
// submission id
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil || l.sugar == nil {
		return l
	}
	return &Logger{
		level:      l.level,
		sugar:      l.sugar.With(keysAndValues...),
		projectDir: l.projectDir,
		logPath:    l.logPath,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level int) {
	l.level.SetLevel(toZapLevel(level))
}

// Close flushes and closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sugar != nil {
		l.sugar.Sync()
	}
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Package-level convenience functions

// Debug logs a debug message using the global logger
func Debug(format string, v ...interface{}) {
	GetLogger().Debug(format, v...)
}

// Info logs an info message using the global logger
func Info(format string, v ...interface{}) {
	GetLogger().Info(format, v...)
}

// Warn logs a warning message using the global logger
func Warn(format string, v ...interface{}) {
	GetLogger().Warn(format, v...)
}

// Error logs an error message using the global logger
func Error(format string, v ...interface{}) {
	GetLogger().Error(format, v...)
}

// Writer returns an io.Writer for the logger (useful for redirecting standard log)
func Writer() io.Writer {
	return &logWriter{logger: GetLogger()}
}

type logWriter struct {
	logger *Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info("%s", string(p))
	return len(p), nil
}

// RedirectStandardLog redirects the standard log package to use our logger
func RedirectStandardLog() {
	log.SetOutput(Writer())
	log.SetFlags(0)
}
