package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки ("debug", "INFO" ...). Неизвестное значение даёт INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case TRACE:
		return logrus.TraceLevel
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Options задаёт параметры логгера компонента
type Options struct {
	Level  LogLevel
	Format string // "text" или "json"
	Dir    string // каталог для файла логов; пустая строка отключает запись в файл
}

// DefaultOptions читает LOG_LEVEL, LOG_FORMAT и LOG_DIR из окружения
func DefaultOptions() Options {
	opts := Options{Level: INFO, Format: "text", Dir: "logs"}
	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
		opts.Level = ParseLevel(lvl)
	}
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		opts.Format = strings.ToLower(f)
	}
	if dir, ok := os.LookupEnv("LOG_DIR"); ok {
		opts.Dir = dir
	}
	return opts
}

// Logger представляет логгер отдельного компонента поверх logrus
type Logger struct {
	component string
	base      *logrus.Logger
	entry     *logrus.Entry
	file      *os.File
}

// NewLogger создаёт логгер компонента с опциями из окружения
func NewLogger(component string) (*Logger, error) {
	return NewLoggerWithOptions(component, DefaultOptions())
}

// NewLoggerWithOptions создаёт логгер компонента.
// Если задан opts.Dir, пишет одновременно в stdout и в файл logs/<component>_<время>.log.
func NewLoggerWithOptions(component string, opts Options) (*Logger, error) {
	base := logrus.New()
	base.SetLevel(opts.Level.logrusLevel())

	if opts.Format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))

		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}
	base.SetOutput(out)

	return &Logger{
		component: component,
		base:      base,
		entry:     base.WithField("component", component),
		file:      file,
	}, nil
}

// newConsoleLogger создаёт логгер без файла (используется как fallback)
func newConsoleLogger(component string, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{
		component: component,
		base:      base,
		entry:     base.WithField("component", component),
	}
}

// Component возвращает имя компонента
func (l *Logger) Component() string { return l.component }

// SetLevel меняет минимальный уровень логгера
func (l *Logger) SetLevel(level LogLevel) { l.base.SetLevel(level.logrusLevel()) }

// SetOutput перенаправляет вывод логгера (используется в тестах)
func (l *Logger) SetOutput(w io.Writer) { l.base.SetOutput(w) }

// With возвращает копию логгера с дополнительным полем
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		component: l.component,
		base:      l.base,
		entry:     l.entry.WithField(key, value),
		file:      l.file,
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Close закрывает файл логов, если он открыт
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = newConsoleLogger("default", os.Stderr)
)

// InitDefaultLogger инициализирует логгер по умолчанию для процесса
func InitDefaultLogger(component string) error {
	return InitDefaultLoggerWithOptions(component, DefaultOptions())
}

// InitDefaultLoggerWithOptions инициализирует логгер по умолчанию с явными опциями
func InitDefaultLoggerWithOptions(component string, opts Options) error {
	logger, err := NewLoggerWithOptions(component, opts)
	if err != nil {
		return err
	}

	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает логгер по умолчанию
func CloseDefaultLogger() {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	_ = l.Close()
}

// Default возвращает логгер по умолчанию
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Trace(format string, args ...interface{}) { Default().Trace(format, args...) }
func Debug(format string, args ...interface{}) { Default().Debug(format, args...) }
func Info(format string, args ...interface{})  { Default().Info(format, args...) }
func Warn(format string, args ...interface{})  { Default().Warn(format, args...) }
func Error(format string, args ...interface{}) { Default().Error(format, args...) }
