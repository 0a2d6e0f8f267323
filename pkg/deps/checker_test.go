package deps

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestChecker_CheckAll(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit not supported")
	}

	dir := t.TempDir()
	tool := filepath.Join(dir, "fake-ffmpeg")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := NewChecker(tool).CheckAll(); err != nil {
		t.Errorf("expected executable path to be available: %v", err)
	}

	missing := filepath.Join(dir, "nope")
	err := NewChecker(tool, missing).CheckAll()
	var depsErr *MissingDepsError
	if !errors.As(err, &depsErr) {
		t.Fatalf("expected MissingDepsError, got %v", err)
	}
	if len(depsErr.Dependencies) != 1 || depsErr.Dependencies[0] != missing {
		t.Errorf("unexpected missing list %v", depsErr.Dependencies)
	}
}

func TestChecker_CheckAndPrint(t *testing.T) {
	c := NewChecker("ffmpeg", "sox")
	c.lookPath = func(name string) (string, error) {
		if name == "ffmpeg" {
			return "/usr/bin/ffmpeg", nil
		}
		return "", errors.New("not found")
	}

	var buf bytes.Buffer
	err := c.CheckAndPrint(&buf)
	if err == nil {
		t.Fatal("expected error for missing sox")
	}

	out := buf.String()
	if !strings.Contains(out, "OK") || !strings.Contains(out, "/usr/bin/ffmpeg") {
		t.Errorf("expected ffmpeg to be reported OK, got %q", out)
	}
	if !strings.Contains(out, "MISSING") || !strings.Contains(out, "'sox'") {
		t.Errorf("expected sox to be reported missing, got %q", out)
	}
}
