package applicator

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/fsutil"
)

// StateFileName is the install state file kept at the target root
const StateFileName = ".upnet-version.json"

// maxHistory bounds the history kept in the state file
const maxHistory = 50

// HistoryEntry records one successful apply
type HistoryEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Patches   int       `json:"patches"`
	AppliedAt time.Time `json:"appliedAt"`
}

// InstallState is the persisted install state
type InstallState struct {
	Version   string         `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
	History   []HistoryEntry `json:"history,omitempty"`
}

// StateStore reads and writes the install state file
type StateStore struct {
	fs   afero.Fs
	path string
}

// NewStateStore creates a store for the state file at path
func NewStateStore(fsys afero.Fs, path string) *StateStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &StateStore{fs: fsys, path: filepath.Clean(path)}
}

// Path returns the state file location
func (s *StateStore) Path() string {
	return s.path
}

// Load reads the state. A missing file is a fresh install at 0.0.0.0.
func (s *StateStore) Load() (InstallState, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return InstallState{Version: domain.Version{}.String()}, nil
		}
		return InstallState{}, domain.NewIOFailure("Failed to read install state", err, map[string]any{"path": s.path})
	}

	var state InstallState
	if err := json.Unmarshal(data, &state); err != nil {
		return InstallState{}, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Install state is corrupt", 400, err, map[string]any{"path": s.path})
	}
	return state, nil
}

// Installed returns the installed version
func (s *StateStore) Installed() (domain.Version, error) {
	state, err := s.Load()
	if err != nil {
		return domain.Version{}, err
	}
	v, err := domain.ParseVersion(state.Version)
	if err != nil {
		return domain.Version{}, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Install state has an invalid version", 400, err, map[string]any{"path": s.path})
	}
	return v, nil
}

// Record stores the new installed version and appends a history entry
func (s *StateStore) Record(from, to domain.Version, patches int, at time.Time) error {
	state, err := s.Load()
	if err != nil {
		return err
	}

	state.Version = to.String()
	state.UpdatedAt = at.UTC()
	state.History = append(state.History, HistoryEntry{
		From:      from.String(),
		To:        to.String(),
		Patches:   patches,
		AppliedAt: at.UTC(),
	})
	if len(state.History) > maxHistory {
		state.History = state.History[len(state.History)-maxHistory:]
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return domain.NewIOFailure("Failed to encode install state", err, nil)
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.path, append(data, '\n'), 0o644); err != nil {
		return domain.NewIOFailure("Failed to write install state", err, map[string]any{"path": s.path})
	}
	return nil
}
