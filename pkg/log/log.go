package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

type LogLevel string

const (
	FatalLevel    = "fatal"
	ErrorLevel    = "error"
	WarningLevel  = "warn"
	DebugLevel    = "debug"
	InfoLevel     = "info"
	TraceLevel    = "trace"
	DisabledLevel = "disabled"
)

var levelmap = map[LogLevel]int{
	TraceLevel:    5,
	DebugLevel:    4,
	InfoLevel:     3,
	WarningLevel:  2,
	ErrorLevel:    1,
	FatalLevel:    0,
	DisabledLevel: -1,
}

type logWrapper struct {
	mu     sync.Mutex
	log    *log.Logger
	level  LogLevel
	stream bool
}

func (l *logWrapper) enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ShouldLog(level, l.level)
}

func (l *logWrapper) Printf(level LogLevel, prefix, format string, args ...any) {
	if !l.enabled(level) {
		return
	}
	l.println(level, prefix, fmt.Sprintf(format, args...))
}

func (l *logWrapper) Println(level LogLevel, prefix string, args ...any) {
	if !l.enabled(level) {
		return
	}
	l.println(level, prefix, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (l *logWrapper) println(level LogLevel, prefix, msg string) {
	ts := time.Now().Local()
	timeStr := fmt.Sprintf("%s.%03d", ts.Format("2006-01-02 15:04:05"), ts.Nanosecond()/1000000)
	levelStr := fmt.Sprintf("- %5s -", level)
	if prefix != "" {
		l.log.Println(timeStr, levelStr, "["+prefix+"]", msg)
		return
	}
	l.log.Println(timeStr, levelStr, msg)
}

var (
	stdoutLog = &logWrapper{log: log.New(os.Stdout, "", 0), level: InfoLevel}
	stderrLog = &logWrapper{log: log.New(os.Stderr, "", 0), level: InfoLevel}
)

func SetLevel(loglevel LogLevel) error {
	if !ValidLogLevel(loglevel) {
		return fmt.Errorf("No such log level %s", loglevel)
	}

	for _, l := range []*logWrapper{stdoutLog, stderrLog} {
		l.mu.Lock()
		l.level = loglevel
		l.mu.Unlock()
	}
	return nil
}

// Redirect all output to w. Used by tests to capture log lines.
func SetOutput(w io.Writer) {
	stdoutLog.log.SetOutput(w)
	stderrLog.log.SetOutput(w)
}

func ValidLogLevel(level LogLevel) bool {
	_, ok := levelmap[level]
	return ok
}

func ShouldLog(logLevel, enabled LogLevel) bool {
	if !ValidLogLevel(logLevel) || !ValidLogLevel(enabled) {
		return false
	}
	return levelmap[logLevel] <= levelmap[enabled]
}

// A logger that tags every line with the name of the component that wrote it.
type Logger struct {
	component string
}

// Returns a logger for the named component.
func Component(name string) *Logger {
	return &Logger{component: name}
}

func (l *Logger) Log(level LogLevel, msg string, args ...any) {
	switch level {
	case TraceLevel, DebugLevel, InfoLevel:
		stdoutLog.Printf(level, l.component, msg, args...)
	case WarningLevel, ErrorLevel:
		stderrLog.Printf(level, l.component, msg, args...)
	case FatalLevel:
		l.Fatalf(msg, args...)
	}
}

func (l *Logger) Trace(args ...any) { stdoutLog.Println(TraceLevel, l.component, args...) }
func (l *Logger) Debug(args ...any) { stdoutLog.Println(DebugLevel, l.component, args...) }
func (l *Logger) Info(args ...any)  { stdoutLog.Println(InfoLevel, l.component, args...) }
func (l *Logger) Warn(args ...any)  { stderrLog.Println(WarningLevel, l.component, args...) }
func (l *Logger) Error(args ...any) { stderrLog.Println(ErrorLevel, l.component, args...) }

func (l *Logger) Tracef(format string, args ...any) {
	stdoutLog.Printf(TraceLevel, l.component, format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	stdoutLog.Printf(DebugLevel, l.component, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	stdoutLog.Printf(InfoLevel, l.component, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	stderrLog.Printf(WarningLevel, l.component, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	stderrLog.Printf(ErrorLevel, l.component, format, args...)
}

func (l *Logger) Fatalf(format string, args ...any) {
	stderrLog.Printf(FatalLevel, l.component, format, args...)
	debug.PrintStack()
	os.Exit(1)
}

var root = &Logger{}

func Log(level LogLevel, msg string, args ...any) {
	root.Log(level, msg, args...)
}

func Trace(args ...any) { root.Trace(args...) }
func Debug(args ...any) { root.Debug(args...) }
func Info(args ...any)  { root.Info(args...) }
func Warn(args ...any)  { root.Warn(args...) }
func Error(args ...any) { root.Error(args...) }

func Fatal(args ...any) {
	stderrLog.Println(FatalLevel, "", args...)
	debug.PrintStack()
	os.Exit(1)
}

func Tracef(format string, args ...any) { root.Tracef(format, args...) }
func Debugf(format string, args ...any) { root.Debugf(format, args...) }
func Infof(format string, args ...any)  { root.Infof(format, args...) }
func Warnf(format string, args ...any)  { root.Warnf(format, args...) }
func Errorf(format string, args ...any) { root.Errorf(format, args...) }
func Fatalf(format string, args ...any) { root.Fatalf(format, args...) }

type writeFunc func([]byte) (int, error)

func (fn writeFunc) Write(data []byte) (int, error) {
	return fn(data)
}

// Returns a writer that forwards each write as one log line at the given level.
// Used to route echo and gRPC internal logging through this package.
func NewLogWriter(level LogLevel) io.Writer {
	return writeFunc(func(data []byte) (int, error) {
		Log(level, "%s", strings.TrimRight(string(data), "\n"))
		return len(data), nil
	})
}

func DebugError(err error) {
	indent := 1

	Debug(err.Error())

	for {
		if err = errors.Unwrap(err); err == nil {
			break
		}

		Debugf("| %d: %s", indent, err.Error())
		indent += 1
	}
}
