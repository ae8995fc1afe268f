package config

// settings_test.go: Tests for settings loading and defaults.

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, root, content string) {
	t.Helper()
	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Timeout != 10*time.Minute {
		t.Errorf("Timeout = %v, want 10m", s.Timeout)
	}
	if s.Tools.Java != "java" {
		t.Errorf("Tools.Java = %q, want bare program name", s.Tools.Java)
	}
	want := filepath.Join(root, "resources", "debug.keystore")
	if s.Tools.Keystore != want {
		t.Errorf("Tools.Keystore = %q, want %q", s.Tools.Keystore, want)
	}
	if s.Constants() != Default().Constants() {
		t.Errorf("Constants() differs from defaults: %+v", s.Constants())
	}
}

func TestLoadOverrides(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, `
logLevel: debug
timeout: 30s
device:
  tempDir: /sdcard/
  portFile: monitor.port
tools:
  java: /usr/bin/java
  inlinerJar: tools/inliner.jar
build:
  command: ["./gradlew", "assembleRelease", "-p", "{dir}"]
  templateDir: template
`)
	s, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", s.Timeout)
	}
	if l, _ := s.Level(); l != slog.LevelDebug {
		t.Errorf("Level = %v", l)
	}
	c := s.Constants()
	if c.PortPath() != "/sdcard/monitor.port" {
		t.Errorf("PortPath = %q, want /sdcard/monitor.port", c.PortPath())
	}
	if c.PoliciesPath() != "/sdcard/api_policies.txt" {
		t.Errorf("PoliciesPath = %q", c.PoliciesPath())
	}
	if s.Tools.Java != "/usr/bin/java" {
		t.Errorf("Tools.Java = %q", s.Tools.Java)
	}
	if want := filepath.Join(root, "tools", "inliner.jar"); s.Tools.InlinerJar != want {
		t.Errorf("Tools.InlinerJar = %q, want %q", s.Tools.InlinerJar, want)
	}
	if want := filepath.Join(root, "template"); s.Build.TemplateDir != want {
		t.Errorf("Build.TemplateDir = %q, want %q", s.Build.TemplateDir, want)
	}
	if len(s.Build.Command) != 4 || s.Build.Command[3] != "{dir}" {
		t.Errorf("Build.Command = %v", s.Build.Command)
	}
	// Untouched keys keep their defaults.
	if s.Tools.Jarsigner != "jarsigner" {
		t.Errorf("Tools.Jarsigner = %q", s.Tools.Jarsigner)
	}
}

func TestLoadBadYAML(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "timeout: [not a duration\n")
	if _, err := Load(root); err == nil {
		t.Fatal("expected error for malformed settings")
	}
}

func TestLoadBadLogLevel(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "logLevel: chatty\n")
	if _, err := Load(root); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}
