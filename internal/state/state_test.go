package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeHash(t *testing.T) {
	// Create temp file with known content
	tmpDir := t.TempDir()
	file1 := filepath.Join(tmpDir, "test1.txt")
	file2 := filepath.Join(tmpDir, "test2.txt")
	file3 := filepath.Join(tmpDir, "test1_copy.txt")

	os.WriteFile(file1, []byte("Hello, World!"), 0644)
	os.WriteFile(file2, []byte("Different content"), 0644)
	os.WriteFile(file3, []byte("Hello, World!"), 0644) // Same as file1

	hash1, err := ComputeHash(file1)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	hash2, err := ComputeHash(file2)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	hash3, err := ComputeHash(file3)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	// Same content = same hash
	if hash1 != hash3 {
		t.Errorf("Same content should produce same hash: %s != %s", hash1, hash3)
	}

	// Different content = different hash
	if hash1 == hash2 {
		t.Errorf("Different content should produce different hash")
	}

	// Hash should be 32 hex chars
	if len(hash1) != 32 {
		t.Errorf("Hash should be 32 chars, got %d", len(hash1))
	}
}

func TestComputeHashSmallFile(t *testing.T) {
	tmpDir := t.TempDir()
	smallFile := filepath.Join(tmpDir, "small.txt")
	os.WriteFile(smallFile, []byte("tiny"), 0644)

	hash, err := ComputeHash(smallFile)
	if err != nil {
		t.Fatalf("ComputeHash failed on small file: %v", err)
	}

	if len(hash) != 32 {
		t.Errorf("Hash should be 32 chars even for small files, got %d", len(hash))
	}
}

func TestStateStore(t *testing.T) {
	// Use temp directory for state
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	store, err := NewStateStore()
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	if want := filepath.Join(tmpDir, "leaf", "library.json"); store.Path() != want {
		t.Errorf("Expected state file %s, got %s", want, store.Path())
	}

	testHash := "abcdef1234567890abcdef1234567890"

	// Get returns zero state for unknown hash
	st := store.Get(testHash)
	if st.Chapter != 0 || st.Progress != 0 || len(st.Highlights) != 0 {
		t.Errorf("Expected zero state for unknown hash, got %+v", st)
	}

	// SetPosition/Get roundtrip
	err = store.SetPosition(testHash, 3, 0.5)
	if err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}

	st = store.Get(testHash)
	if st.Chapter != 3 || st.Progress != 0.5 {
		t.Errorf("Expected chapter 3 at 0.5, got %+v", st)
	}

	// Clear removes entry
	err = store.Clear(testHash)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	st = store.Get(testHash)
	if st.Chapter != 0 || st.Progress != 0 {
		t.Errorf("Expected zero state after clear, got %+v", st)
	}
}

func TestStateStoreHighlights(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	store, err := NewStateStore()
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	testHash := "abcdef1234567890abcdef1234567890"

	first, err := store.AddHighlight(testHash, 1, "Call me Ishmael", "yellow", "")
	if err != nil {
		t.Fatalf("AddHighlight failed: %v", err)
	}
	second, err := store.AddHighlight(testHash, 1, "whale", "blue", "big")
	if err != nil {
		t.Fatalf("AddHighlight failed: %v", err)
	}
	if _, err := store.AddHighlight(testHash, 2, "sea", "", ""); err != nil {
		t.Fatalf("AddHighlight failed: %v", err)
	}

	if first.ID == "" || first.ID == second.ID {
		t.Errorf("Expected distinct ids, got %q and %q", first.ID, second.ID)
	}
	if first.ID > second.ID {
		t.Errorf("Expected time ordered ids, got %q after %q", second.ID, first.ID)
	}

	hls := store.Highlights(testHash, 1)
	if len(hls) != 2 {
		t.Fatalf("Expected 2 highlights in chapter 1, got %d", len(hls))
	}
	if hls[0].MatchedText != "Call me Ishmael" || hls[0].HasNote {
		t.Errorf("Unexpected first highlight %+v", hls[0])
	}
	if hls[1].Color != "blue" || !hls[1].HasNote {
		t.Errorf("Unexpected second highlight %+v", hls[1])
	}

	if err := store.RemoveHighlight(testHash, first.ID); err != nil {
		t.Fatalf("RemoveHighlight failed: %v", err)
	}
	if hls := store.Highlights(testHash, 1); len(hls) != 1 || hls[0].ID != second.ID {
		t.Errorf("Expected only second highlight left, got %+v", hls)
	}
	if err := store.RemoveHighlight("unknown", first.ID); err != nil {
		t.Errorf("RemoveHighlight of unknown book failed: %v", err)
	}
}

func TestStateStorePersistence(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	testHash := "abcdef1234567890abcdef1234567890"

	// Create store and set position
	store1, err := NewStateStore()
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	store1.SetPosition(testHash, 2, 0.75)
	store1.AddHighlight(testHash, 2, "kept", "green", "")

	// Create new store instance - should load persisted data
	store2, err := NewStateStore()
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}

	st := store2.Get(testHash)
	if st.Chapter != 2 || st.Progress != 0.75 {
		t.Errorf("Expected chapter 2 at 0.75 from persisted state, got %+v", st)
	}
	if len(st.Highlights) != 1 || st.Highlights[0].Text != "kept" {
		t.Errorf("Expected persisted highlight, got %+v", st.Highlights)
	}
}

func TestStateStoreCorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)
	os.MkdirAll(filepath.Join(tmpDir, "leaf"), 0755)
	os.WriteFile(filepath.Join(tmpDir, "leaf", "library.json"), []byte("{not json"), 0644)

	store, err := NewStateStore()
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	if st := store.Get("x"); st.Chapter != 0 {
		t.Errorf("Expected empty state, got %+v", st)
	}
}
