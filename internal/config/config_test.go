package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Load(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InkforgeDir != filepath.Join(home, ".inkforge") {
		t.Errorf("unexpected InkforgeDir: %s", cfg.InkforgeDir)
	}

	for _, dir := range []string{cfg.InkforgeDir, cfg.TranscriptsDir, cfg.AgentsDir, cfg.LogDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("directory not created: %s", dir)
		}
	}
}

func TestConfig_LoadsEnvFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("INKFORGE_TEST_VAR", "")
	os.Unsetenv("INKFORGE_TEST_VAR")

	inkforgeDir := filepath.Join(home, ".inkforge")
	if err := os.MkdirAll(inkforgeDir, 0755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(inkforgeDir, ".env")
	if err := os.WriteFile(envPath, []byte("INKFORGE_TEST_VAR=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("INKFORGE_TEST_VAR"); got != "from-file" {
		t.Errorf("expected env var from file, got %q", got)
	}
}

func TestConfig_ProjectMetaDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	path := cfg.ProjectMetaDir("/home/user/mynovel")
	expected := "/home/user/mynovel/.inkforge"

	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}
