package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// serviceLabel tags every log line so trails from the sharing network's
// services stay attributable after aggregation.
const serviceLabel = "pedolone-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented logger.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON object per line, stamped with the service label.
func LogRequest(entry map[string]any) {
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceLabel
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Printf(`{"service":%q,"level":"error","msg":"log marshal failed"}`, serviceLabel)
		return
	}
	Logger().Println(string(data))
}
