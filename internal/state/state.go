// Package state persists per-page migration progress as a JSON snapshot.
//
// The state file is the single source of truth for resumability. It is
// loaded fully at process start and rewritten after every per-page
// transition, using write-to-temp-then-rename so a partially written
// file is never observed by a later load. There is exactly one writer
// (the pipeline runner) and never more than one mutation in flight, so
// no locking is needed.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/confmove/confmove/internal/models"
)

// DefaultFile is the state file written in the working directory.
const DefaultFile = ".migration-state.json"

// State holds the page_id → record mapping backed by a JSON file.
type State struct {
	path    string
	persist bool
	pages   map[string]*models.PageRecord
	order   []string
}

// Load reads the state file at path, or returns an empty state when the
// file does not exist yet. An empty path uses DefaultFile.
func Load(path string) (*State, error) {
	if path == "" {
		path = DefaultFile
	}
	s := &State{
		path:    path,
		persist: true,
		pages:   make(map[string]*models.PageRecord),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var records []*models.PageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}

	// The file is an ordered array, so records come back in the same
	// presentation order they were first observed in. Name collision
	// suffixes depend on that order staying put across resumed runs.
	for _, rec := range records {
		s.pages[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}

	return s, nil
}

// SetPersist toggles writing to disk. Dry runs keep bookkeeping in
// memory but must not alter the state file.
func (s *State) SetPersist(persist bool) { s.persist = persist }

// Path returns the backing file path.
func (s *State) Path() string { return s.path }

// Get returns the record for a page ID, or nil when unknown.
func (s *State) Get(id string) *models.PageRecord {
	return s.pages[id]
}

// Set stores a record and flushes the snapshot to disk.
func (s *State) Set(rec *models.PageRecord) error {
	if _, seen := s.pages[rec.ID]; !seen {
		s.order = append(s.order, rec.ID)
	}
	s.pages[rec.ID] = rec
	return s.Save()
}

// Save writes the full snapshot atomically. A no-op when persistence
// is disabled.
func (s *State) Save() error {
	if !s.persist {
		return nil
	}

	data, err := json.MarshalIndent(s.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".migration-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Records returns all records in stable order: load order for records
// read from disk, then source presentation order for new ones.
func (s *State) Records() []*models.PageRecord {
	out := make([]*models.PageRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pages[id])
	}
	return out
}

// ByStatus returns records currently in the given status, in stable order.
func (s *State) ByStatus(status models.Status) []*models.PageRecord {
	var out []*models.PageRecord
	for _, id := range s.order {
		if rec := s.pages[id]; rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of tracked pages.
func (s *State) Len() int { return len(s.pages) }

// Summary counts records per status.
func (s *State) Summary() map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, rec := range s.pages {
		counts[rec.Status]++
	}
	return counts
}
