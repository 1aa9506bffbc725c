// Package logger provides component-scoped structured logging.
//
// Call sites tag every line with a component name and an optional field map:
//
//	logger.InfoCF("engine", "Cycle completed", map[string]any{"sent": 2})
//
// Output goes through charmbracelet/log, as text (default) or JSON.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
	FATAL: "fatal",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

var (
	mu           sync.RWMutex
	out          io.Writer = os.Stderr
	format                 = "text"
	currentLevel           = INFO
	base                   = build(os.Stderr, "text", INFO)
)

func build(w io.Writer, fmtName string, level LogLevel) *charmlog.Logger {
	l := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           toCharm(level),
	})
	if fmtName == "json" {
		l.SetFormatter(charmlog.JSONFormatter)
	}
	return l
}

func toCharm(level LogLevel) charmlog.Level {
	switch level {
	case DEBUG:
		return charmlog.DebugLevel
	case WARN:
		return charmlog.WarnLevel
	case ERROR:
		return charmlog.ErrorLevel
	case FATAL:
		return charmlog.FatalLevel
	default:
		return charmlog.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning", "error" and "fatal".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Configure sets the output format ("text" or "json") and minimum level.
func Configure(fmtName, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	fmtName = strings.ToLower(strings.TrimSpace(fmtName))
	switch fmtName {
	case "":
		fmtName = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", fmtName)
	}

	mu.Lock()
	defer mu.Unlock()
	format = fmtName
	currentLevel = lvl
	base = build(out, format, currentLevel)
	return nil
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	base.SetLevel(toCharm(level))
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects all log output. Used by tests and the serve command.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	base = build(out, format, currentLevel)
}

func logMessage(level LogLevel, component, msg string, fields map[string]any) {
	mu.RLock()
	l := base
	enabled := level >= currentLevel
	mu.RUnlock()
	if !enabled {
		return
	}

	keyvals := make([]any, 0, 2+len(fields)*2)
	if component != "" {
		keyvals = append(keyvals, "component", component)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyvals = append(keyvals, k, fields[k])
	}

	switch level {
	case DEBUG:
		l.Debug(msg, keyvals...)
	case INFO:
		l.Info(msg, keyvals...)
	case WARN:
		l.Warn(msg, keyvals...)
	case ERROR:
		l.Error(msg, keyvals...)
	case FATAL:
		l.Fatal(msg, keyvals...)
	}
}

func Debug(msg string) { logMessage(DEBUG, "", msg, nil) }

func DebugC(component, msg string) { logMessage(DEBUG, component, msg, nil) }

func DebugF(msg string, fields map[string]any) { logMessage(DEBUG, "", msg, fields) }

func DebugCF(component, msg string, fields map[string]any) {
	logMessage(DEBUG, component, msg, fields)
}

func Info(msg string) { logMessage(INFO, "", msg, nil) }

func InfoC(component, msg string) { logMessage(INFO, component, msg, nil) }

func InfoF(msg string, fields map[string]any) { logMessage(INFO, "", msg, fields) }

func InfoCF(component, msg string, fields map[string]any) {
	logMessage(INFO, component, msg, fields)
}

func Warn(msg string) { logMessage(WARN, "", msg, nil) }

func WarnC(component, msg string) { logMessage(WARN, component, msg, nil) }

func WarnF(msg string, fields map[string]any) { logMessage(WARN, "", msg, fields) }

func WarnCF(component, msg string, fields map[string]any) {
	logMessage(WARN, component, msg, fields)
}

func Error(msg string) { logMessage(ERROR, "", msg, nil) }

func ErrorC(component, msg string) { logMessage(ERROR, component, msg, nil) }

func ErrorF(msg string, fields map[string]any) { logMessage(ERROR, "", msg, fields) }

func ErrorCF(component, msg string, fields map[string]any) {
	logMessage(ERROR, component, msg, fields)
}

// FatalCF logs and exits the process with status 1.
func FatalCF(component, msg string, fields map[string]any) {
	logMessage(FATAL, component, msg, fields)
}
