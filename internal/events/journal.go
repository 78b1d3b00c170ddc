package events

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Journal appends events to a JSON Lines file.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal creates a journal writing to path. The parent directory is
// created on first write.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Record appends a single event.
func (j *Journal) Record(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// Attach subscribes the journal to every event on the bus. Session progress
// events are skipped because thoughts are already kept per session.
func (j *Journal) Attach(bus *Bus, onErr func(error)) func() {
	return bus.Subscribe(func(e Event) {
		if e.Type == SessionProgress {
			return
		}
		if err := j.Record(e); err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// ReadJournal loads all events from a journal file. Malformed lines are skipped.
func ReadJournal(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
