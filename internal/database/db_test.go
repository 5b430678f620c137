// internal/database/db_test.go
package database

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	dir, err := os.MkdirTemp("", "database-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProviderConfigCRUD(t *testing.T) {
	db := newTestDB(t)

	cfg := &ProviderConfig{
		ID:          "openai-main",
		Kind:        "openai",
		Name:        "OpenAI",
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		APIKey:      "sk-test",
		Temperature: 0.7,
		MaxTokens:   8192,
	}
	if err := db.SaveProviderConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := db.GetProviderConfig("openai-main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Model != "gpt-4o" || got.APIKey != "sk-test" || got.Temperature != 0.7 {
		t.Fatalf("got %+v", got)
	}

	// Update in place.
	cfg.Model = "gpt-4o-mini"
	if err := db.SaveProviderConfig(cfg); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = db.GetProviderConfig("openai-main")
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("model after update = %q", got.Model)
	}

	all, err := db.GetAllProviderConfigs()
	if err != nil || len(all) != 1 {
		t.Fatalf("all = %d configs, err %v", len(all), err)
	}

	if err := db.DeleteProviderConfig("openai-main"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetProviderConfig("openai-main"); err == nil {
		t.Fatal("deleted config still readable")
	}
}

func TestActiveProvider(t *testing.T) {
	db := newTestDB(t)

	// No active provider yet.
	active, err := db.GetActiveProvider()
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatalf("active = %+v, want nil", active)
	}

	for _, id := range []string{"a", "b"} {
		if err := db.SaveProviderConfig(&ProviderConfig{ID: id, Kind: "openai", Name: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	if err := db.SetActiveProvider("a"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := db.SetActiveProvider("b"); err != nil {
		t.Fatalf("set active: %v", err)
	}

	active, err = db.GetActiveProvider()
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil || active.ID != "b" {
		t.Fatalf("active = %+v, want b", active)
	}

	// Only one config may be active.
	all, _ := db.GetAllProviderConfigs()
	activeCount := 0
	for _, cfg := range all {
		if cfg.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("active count = %d, want 1", activeCount)
	}

	if err := db.SetActiveProvider("missing"); err == nil {
		t.Fatal("activating a missing config should fail")
	}
}

func TestSessionState(t *testing.T) {
	db := newTestDB(t)

	// Unknown sessions read back as fresh normal-mode state.
	state, err := db.GetSessionState("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Mode != ModeNormal || state.AutoRun {
		t.Fatalf("fresh state = %+v", state)
	}

	state.Mode = ModePlan
	state.AutoRun = true
	state.CurrentTaskID = "t42"
	if err := db.SaveSessionState(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := db.GetSessionState("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Mode != ModePlan || !got.AutoRun || got.CurrentTaskID != "t42" {
		t.Fatalf("got %+v", got)
	}

	// Invalid modes are rejected.
	if err := db.SaveSessionState(&SessionState{SessionID: "s2", Mode: "chaos"}); err == nil {
		t.Fatal("invalid mode accepted")
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)

	value, err := db.GetSetting("theme")
	if err != nil || value != "" {
		t.Fatalf("unset setting = %q, err %v", value, err)
	}

	if err := db.SaveSetting("theme", "dark"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.SaveSetting("theme", "light"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, err = db.GetSetting("theme")
	if err != nil || value != "light" {
		t.Fatalf("setting = %q, err %v", value, err)
	}
}
