package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	audit := filepath.Join(dir, "audit", "audit.log")

	if err := Init(Config{
		Level:       "debug",
		OutputPaths: []string{out},
		Audit:       AuditConfig{Enabled: true, Path: audit},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	Named("cache").Info("asset stored", "key", "abc")
	Audit().Info("generation_recorded", "user_id", "u1")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(content))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", line, err)
	}
	if entry["component"] != "cache" || entry["key"] != "abc" {
		t.Fatalf("unexpected entry: %v", entry)
	}

	auditContent, err := os.ReadFile(audit)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(auditContent), "generation_recorded") {
		t.Fatalf("audit log missing entry: %s", auditContent)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s want %s", in, got, want)
		}
	}
}
