// Package state persists reading positions and highlights per book.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metcalfc/leaf/internal/highlight"
)

const (
	stateFileName = "library.json"
	hashBytes     = 8192 // First 8KB for content hash
)

// SavedHighlight is a highlight as the user made it. Only the selected text
// is stored; where it sits on the page is recomputed on every load.
type SavedHighlight struct {
	ID      string    `json:"id"`
	Chapter int       `json:"chapter"`
	Text    string    `json:"text"`
	Color   string    `json:"color,omitempty"`
	Note    string    `json:"note,omitempty"`
	Created time.Time `json:"created"`
}

// ReadingState stores position and highlights for a single file
type ReadingState struct {
	Chapter    int              `json:"chapter"`
	Progress   float64          `json:"progress"`
	Highlights []SavedHighlight `json:"highlights,omitempty"`
}

// StateStore manages persistent reading state
type StateStore struct {
	path string
	data map[string]ReadingState
	mu   sync.RWMutex
}

// NewStateStore creates or loads state from XDG_STATE_HOME/leaf/
func NewStateStore() (*StateStore, error) {
	dir := getStateDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	store := &StateStore{
		path: filepath.Join(dir, stateFileName),
		data: make(map[string]ReadingState),
	}
	if err := store.load(); err != nil {
		// Non-fatal - start with empty state
		store.data = make(map[string]ReadingState)
	}
	return store, nil
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

// getStateDir returns XDG_STATE_HOME/leaf or ~/.local/state/leaf
func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "leaf")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "leaf")
}

// ComputeHash generates content hash for file identity
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	hash := sha256.Sum256(buf[:n])
	return hex.EncodeToString(hash[:16]), nil // First 16 bytes = 32 hex chars
}

// Get returns saved state for file, or the zero state if not found
func (s *StateStore) Get(hash string) ReadingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.data[hash]
	st.Highlights = append([]SavedHighlight(nil), st.Highlights...)
	return st
}

// SetPosition saves chapter and fractional progress within it
func (s *StateStore) SetPosition(hash string, chapter int, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[hash]
	st.Chapter, st.Progress = chapter, progress
	s.data[hash] = st
	return s.save()
}

// AddHighlight stores a new highlight and returns it with its id assigned.
func (s *StateStore) AddHighlight(hash string, chapter int, text, color, note string) (SavedHighlight, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return SavedHighlight{}, fmt.Errorf("unable to generate highlight id: %w", err)
	}
	hl := SavedHighlight{
		ID:      id.String(),
		Chapter: chapter,
		Text:    text,
		Color:   color,
		Note:    note,
		Created: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[hash]
	st.Highlights = append(st.Highlights, hl)
	s.data[hash] = st
	return hl, s.save()
}

// RemoveHighlight deletes a highlight by id. Unknown ids are ignored.
func (s *StateStore) RemoveHighlight(hash, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[hash]
	if !ok {
		return nil
	}
	kept := st.Highlights[:0]
	for _, hl := range st.Highlights {
		if hl.ID != id {
			kept = append(kept, hl)
		}
	}
	st.Highlights = kept
	s.data[hash] = st
	return s.save()
}

// Highlights returns the highlights of one chapter ready to be applied to
// its document, oldest first.
func (s *StateStore) Highlights(hash string, chapter int) []highlight.Highlight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []highlight.Highlight
	for _, hl := range s.data[hash].Highlights {
		if hl.Chapter != chapter {
			continue
		}
		out = append(out, highlight.Highlight{
			ID:          hl.ID,
			MatchedText: hl.Text,
			Color:       hl.Color,
			HasNote:     hl.Note != "",
		})
	}
	return out
}

// Clear removes saved state for file
func (s *StateStore) Clear(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, hash)
	return s.save()
}

func (s *StateStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.data)
}

func (s *StateStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
