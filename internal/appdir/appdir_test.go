package appdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	customDir := t.TempDir()
	t.Setenv(DirEnv, customDir)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if dir != customDir {
		t.Errorf("Dir() = %q, want %q", dir, customDir)
	}
}

func TestDir_DefaultPath(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)
	t.Setenv(DirEnv, "")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if !strings.Contains(strings.ToLower(dir), "ktulhu") {
		t.Errorf("Dir() = %q, expected path to contain 'ktulhu'", dir)
	}
}

func TestDir_Cached(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	first := t.TempDir()
	t.Setenv(DirEnv, first)
	if _, err := Dir(); err != nil {
		t.Fatal(err)
	}

	t.Setenv(DirEnv, t.TempDir())
	dir, _ := Dir()
	if dir != first {
		t.Errorf("Dir() = %q, want cached %q", dir, first)
	}
}

func TestEnsureDirAndPaths(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	base := filepath.Join(t.TempDir(), "ktulhu")
	t.Setenv(DirEnv, base)

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() failed: %v", err)
	}
	if info, err := os.Stat(filepath.Join(base, LogsDirName)); err != nil || !info.IsDir() {
		t.Errorf("logs directory not created: %v", err)
	}

	cfg, err := ConfigPath()
	if err != nil || cfg != filepath.Join(base, ConfigFileName) {
		t.Errorf("ConfigPath() = %q, %v", cfg, err)
	}
	logPath, err := LogPath()
	if err != nil || logPath != filepath.Join(base, LogsDirName, LogFileName) {
		t.Errorf("LogPath() = %q, %v", logPath, err)
	}
}
