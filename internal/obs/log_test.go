package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestLogRequestStampsServiceLabel(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	t.Cleanup(func() { Logger().SetOutput(os.Stdout) })

	LogRequest(map[string]any{"method": "GET", "path": "/healthz"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["service"] != serviceLabel {
		t.Fatalf("missing service label: %v", line)
	}
	if line["path"] != "/healthz" {
		t.Fatalf("caller fields were dropped: %v", line)
	}
}
