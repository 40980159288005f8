// Package logger provides structured JSON logging to stderr with automatic
// redaction of correspondent email addresses. Mailbox contents are PII; raw
// addresses must never reach the log stream.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a string (e.g. from LOG_LEVEL) to a Level.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
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

// Logger writes structured JSON entries with optional address redaction.
type Logger struct {
	mu     sync.Mutex
	level  Level
	redact bool
}

var std = &Logger{level: ParseLevel(os.Getenv("LOG_LEVEL")), redact: true}

// SetLevel sets the minimum level for the package-level logger.
func SetLevel(l Level) { std.level = l }

// SetRedact enables or disables email redaction for the package-level logger.
func SetRedact(r bool) { std.redact = r }

// Debug emits a DEBUG entry. Fields are alternating key/value pairs.
func Debug(msg string, fields ...interface{}) { std.log(DEBUG, msg, fields...) }

// Info emits an INFO entry.
func Info(msg string, fields ...interface{}) { std.log(INFO, msg, fields...) }

// Warn emits a WARN entry.
func Warn(msg string, fields ...interface{}) { std.log(WARN, msg, fields...) }

// Error emits an ERROR entry.
func Error(msg string, fields ...interface{}) { std.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redact {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	l.mu.Unlock()
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "contact") || strings.Contains(key, "address") {
		return MaskAddress(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, MaskAddress)
}

// MaskAddress masks an email address for safe logging:
// "jane.doe@example.com" -> "ja***@example.com". Local parts of two or fewer
// characters are fully masked.
func MaskAddress(addr string) string {
	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local := parts[0]
	if len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
