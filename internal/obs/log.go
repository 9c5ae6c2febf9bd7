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

// Logger returns the process-wide logger. Output is one JSON object per line
// so console audit trails and HTTP access logs share a single stream.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogJSON marshals the entry onto its own line. A marshal failure must not
// lose the line entirely, so a fixed error object is emitted instead.
func LogJSON(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"","level":"error","msg":"log entry not serializable"}`)
		return
	}
	Logger().Println(string(data))
}

// LogAudit mirrors a recorded console event into the log stream. The event
// log remains the source of truth; this line is for operators tailing stdout.
func LogAudit(eventType, severity, actor, message string) {
	LogJSON(map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    eventType,
		"severity": severity,
		"actor":    actor,
		"msg":      message,
	})
}
