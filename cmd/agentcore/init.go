package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/agentcore-local/internal/defaults"
	"github.com/nugget/agentcore-local/internal/prompts"
)

// runInit prepares a working directory: the data directory, an example
// config and the default system prompt as an editable file. Existing
// files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing AgentCore in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		// The config may hold broker credentials.
		{"config.yaml", defaults.ConfigYAML, 0o600},
		{"system_prompt.md", []byte(prompts.SystemPrompt() + "\n"), 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		created, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		mark := "✓"
		if !created {
			mark = "-"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then run: agentcore serve")
	return nil
}

// writeIfMissing writes content to path unless the file exists. It
// reports whether the file was created.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}
