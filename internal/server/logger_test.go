package server

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	var prod bytes.Buffer
	newLogger("prod", &prod).Debug("hidden")
	newLogger("prod", &prod).Info("shown", "room", "lobby")

	var entry map[string]any
	if err := json.Unmarshal(prod.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", prod.String(), err)
	}
	if entry["msg"] != "shown" || entry["room"] != "lobby" {
		t.Errorf("unexpected entry %v", entry)
	}

	var dev bytes.Buffer
	newLogger("dev", &dev).Debug("visible")
	if !strings.Contains(dev.String(), "msg=visible") {
		t.Errorf("expected text debug output, got %q", dev.String())
	}
}

// TestMetricsNilSafe verifies a server without metrics records nothing and
// does not panic.
func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.connectionOpened()
	m.connectionClosed()
	m.joined()
	m.joinRejected("other")
	m.messageRelayed()
	m.typingRelayed()
	m.clientDropped()
}
