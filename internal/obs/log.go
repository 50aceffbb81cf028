package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogEvent emits a single-line JSON log document. Every background loop
// (workspace bootstrap, bot sweep, registrar, queue consumer) logs through
// this so the output stays machine-parseable.
func LogEvent(component, level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"component": component,
		"level":     level,
		"msg":       msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; reserved {
			continue
		}
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Info logs an informational event.
func Info(component, msg string, fields map[string]any) {
	LogEvent(component, "info", msg, fields)
}

// Warn logs a recoverable problem.
func Warn(component, msg string, fields map[string]any) {
	LogEvent(component, "warn", msg, fields)
}

// Error logs a failure that was handled but should be visible.
func Error(component, msg string, fields map[string]any) {
	LogEvent(component, "error", msg, fields)
}
