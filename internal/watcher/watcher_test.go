// internal/watcher/watcher_test.go
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

func (c *collector) find(typ EventType, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Type == typ && e.Path == path {
			return true
		}
	}
	return false
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func startWatcher(t *testing.T) (string, *collector) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "watcher-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	c := &collector{}
	w, err := New(tmpDir, 50*time.Millisecond, c.add)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Give the watcher time to start
	time.Sleep(100 * time.Millisecond)
	return tmpDir, c
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/that/does/not/exist", 100*time.Millisecond, func(e Event) {})
	if err == nil {
		t.Fatal("New() should return error for invalid path")
	}
}

func TestWatcherCreateEvent(t *testing.T) {
	tmpDir, c := startWatcher(t)

	testFile := filepath.Join(tmpDir, "chapter1.md")
	if err := os.WriteFile(testFile, []byte("draft"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if !c.find(EventCreate, testFile) {
		t.Errorf("Expected create event for %s, got: %+v", testFile, c.events)
	}
}

func TestWatcherModifyAndDelete(t *testing.T) {
	tmpDir, c := startWatcher(t)

	testFile := filepath.Join(tmpDir, "chapter1.md")
	if err := os.WriteFile(testFile, []byte("initial"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	c.reset()

	if err := os.WriteFile(testFile, []byte("modified"), 0644); err != nil {
		t.Fatalf("Failed to modify test file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if !c.find(EventModify, testFile) {
		t.Errorf("Expected modify event for %s, got: %+v", testFile, c.events)
	}

	c.reset()
	if err := os.Remove(testFile); err != nil {
		t.Fatalf("Failed to delete test file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if !c.find(EventDelete, testFile) {
		t.Errorf("Expected delete event for %s, got: %+v", testFile, c.events)
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	tmpDir, c := startWatcher(t)

	subDir := filepath.Join(tmpDir, "volume1")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	// The new directory needs a moment to join the watch set.
	time.Sleep(200 * time.Millisecond)
	c.reset()

	nested := filepath.Join(subDir, "chapter1.md")
	if err := os.WriteFile(nested, []byte("draft"), 0644); err != nil {
		t.Fatalf("Failed to create nested file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if !c.find(EventCreate, nested) {
		t.Errorf("Expected create event for nested file %s, got: %+v", nested, c.events)
	}
}

func TestWatcherIgnoresHiddenPaths(t *testing.T) {
	tmpDir, c := startWatcher(t)

	hidden := filepath.Join(tmpDir, ".inkforge")
	if err := os.Mkdir(hidden, 0755); err != nil {
		t.Fatalf("Failed to create hidden dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hidden, "concepts.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write hidden file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write dotfile: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if c.count() != 0 {
		t.Errorf("Hidden paths should not produce events, got: %+v", c.events)
	}
}

func TestWatcherDebouncing(t *testing.T) {
	tmpDir, c := startWatcher(t)

	testFile := filepath.Join(tmpDir, "chapter1.md")
	// Create and modify the file rapidly
	for i := 0; i < 10; i++ {
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	// Due to debouncing, we should get significantly fewer events than 10
	if c.count() >= 10 {
		t.Errorf("Expected debouncing to reduce events, got %d events", c.count())
	}
}

func TestWatcherClose(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "watcher-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	w, err := New(tmpDir, 100*time.Millisecond, func(e Event) {})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Calling Close again should not panic or error
	if err := w.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}
