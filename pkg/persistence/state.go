package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/erdlink/erdlink-go/pkg/appliance"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// SessionState is what the client remembers across restarts.
type SessionState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// SessionID of the run that wrote the file.
	SessionID string `json:"session_id,omitempty"`

	// UserID of the authenticated account.
	UserID string `json:"user_id,omitempty"`

	// Appliances is the last known inventory, ordered by ID.
	Appliances []ApplianceRecord `json:"appliances,omitempty"`
}

// ApplianceRecord is the persisted view of one appliance.
type ApplianceRecord struct {
	ID     string            `json:"id"`
	Type   string            `json:"type,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

// Capture builds a SessionState from the registry.
func Capture(sessionID, userID string, reg *appliance.Registry) *SessionState {
	state := &SessionState{SessionID: sessionID, UserID: userID}
	for _, a := range reg.List() {
		state.Appliances = append(state.Appliances, ApplianceRecord{
			ID:     a.ID(),
			Type:   a.Type(),
			Values: a.Values(),
		})
	}
	sort.Slice(state.Appliances, func(i, j int) bool {
		return state.Appliances[i].ID < state.Appliances[j].ID
	})
	return state
}

// Restore adds the recorded appliances to reg and returns how many were
// new. Restored appliances stay unavailable and uninitialized, so live
// data still produces the usual notifications. Appliances already in reg
// are left untouched.
func (s *SessionState) Restore(reg *appliance.Registry) int {
	n := 0
	for _, rec := range s.Appliances {
		a, created := reg.GetOrCreate(rec.ID)
		if !created {
			continue
		}
		a.Update(rec.Values)
		n++
	}
	return n
}

// Store manages persistence of session state to a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a new state store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the state to disk. The file is replaced atomically.
func (s *Store) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *Store) Load() (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &SessionState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", state.Version, StateVersion)
	}

	return state, nil
}

// Clear removes the state file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
