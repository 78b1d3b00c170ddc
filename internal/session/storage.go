package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Storage persists finished sessions as one JSON file each.
type Storage struct {
	dir string
}

// NewStorage creates a storage instance for the given sessions directory.
func NewStorage(sessionsDir string) *Storage {
	return &Storage{dir: sessionsDir}
}

// Dir returns the sessions directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Save persists a session to disk with an atomic write.
func (s *Storage) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	filename := s.filename(sess.ID)
	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write session temp file: %w", err)
	}
	if err := os.Rename(tmpFile, filename); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename session temp file: %w", err)
	}
	return nil
}

// Load retrieves a session by ID. A missing session yields ErrNotFound.
func (s *Storage) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.filename(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", id, err)
	}
	return &sess, nil
}

// List returns all stored sessions, most recently started first. Unreadable
// files are skipped.
func (s *Storage) List() ([]*Session, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob sessions: %w", err)
	}

	var sessions []*Session
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}

	slices.SortFunc(sessions, func(a, b *Session) int { return b.StartedAt.Compare(a.StartedAt) })
	return sessions, nil
}

// Prune deletes all but the newest keep sessions.
func (s *Storage) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}
	sessions, err := s.List()
	if err != nil {
		return err
	}
	if len(sessions) <= keep {
		return nil
	}
	for _, sess := range sessions[keep:] {
		if err := os.Remove(s.filename(sess.ID)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *Storage) filename(id string) string {
	return filepath.Join(s.dir, id+".json")
}
