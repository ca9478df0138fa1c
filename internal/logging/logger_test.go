package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	log, err := New(Config{Level: "debug", Format: "json", Output: "file", Filename: path})
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	log.WithComponent("syncer").Infow("poll complete", "tasks", 3)
	_ = log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file failed: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"component":"syncer"`) || !strings.Contains(line, `"tasks":3`) {
		t.Fatalf("expected structured fields in log line, got %s", line)
	}
}

func TestComponentToleratesNil(t *testing.T) {
	Component(nil, "x").Infow("discarded")
	Component(Nop(), "x").Infow("discarded")
}
