package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/agentcore-local/internal/prompts"
)

// clearUmask makes permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit() error: %v", err)
	}

	if info, err := os.Stat(filepath.Join(dir, "data")); err != nil || !info.IsDir() {
		t.Errorf("data directory missing: %v", err)
	}

	perms := map[string]os.FileMode{"config.yaml": 0o600, "system_prompt.md": 0o644}
	for name, want := range perms {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s not created: %v", name, err)
			continue
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%s permissions = %o, want %o", name, got, want)
		}
	}

	prompt, _ := os.ReadFile(filepath.Join(dir, "system_prompt.md"))
	if strings.TrimSpace(string(prompt)) != prompts.SystemPrompt() {
		t.Errorf("system_prompt.md = %q", prompt)
	}
	if strings.Count(buf.String(), "✓") != 2 {
		t.Errorf("output = %q, want two created markers", buf.String())
	}
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("listen:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit() error: %v", err)
	}

	got, _ := os.ReadFile(cfgPath)
	if string(got) != "listen:\n  port: 9000\n" {
		t.Errorf("config.yaml overwritten: %q", got)
	}
	if !strings.Contains(buf.String(), "- "+cfgPath) {
		t.Errorf("output should mark config.yaml as skipped: %q", buf.String())
	}
}

func TestWriteIfMissing_CreateError(t *testing.T) {
	_, err := writeIfMissing(filepath.Join(t.TempDir(), "missing", "f.txt"), []byte("x"), 0o644)
	if err == nil {
		t.Error("expected error for missing parent directory")
	}
}
