package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStorage_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	storage := NewStorage(filepath.Join(tmpDir, "sessions"))

	sess := &Session{
		ID:        "abc-123",
		TaskID:    "t-1",
		Kind:      KindExecuting,
		Status:    StatusError,
		Note:      "timed out after 1m0s",
		StartedAt: time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC),
	}
	if err := storage.Save(sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "sessions", "abc-123.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not remain after save")
	}

	loaded, err := storage.Load("abc-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Note != sess.Note || loaded.Status != sess.Status {
		t.Errorf("loaded %+v, want %+v", loaded, sess)
	}
}

func TestStorage_LoadMissing(t *testing.T) {
	storage := NewStorage(t.TempDir())
	if _, err := storage.Load("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_ListNewestFirstAndSkipsCorrupt(t *testing.T) {
	tmpDir := t.TempDir()
	storage := NewStorage(tmpDir)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := storage.Save(&Session{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := storage.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	if list[0].ID != "new" || list[2].ID != "old" {
		t.Errorf("unexpected order: %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestStorage_Prune(t *testing.T) {
	storage := NewStorage(t.TempDir())
	base := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := storage.Save(&Session{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	if err := storage.Prune(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, _ := storage.List()
	if len(list) != 2 || list[0].ID != "d" || list[1].ID != "c" {
		t.Errorf("unexpected sessions after prune: %v", list)
	}
}

func TestStorage_ListEmptyDir(t *testing.T) {
	storage := NewStorage(filepath.Join(t.TempDir(), "missing"))
	list, err := storage.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no sessions, got %d", len(list))
	}
}
