// Copyright 2024-2026 Aiku AI

package linking

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aiku/craftbridge/pkg/atomicfile"
)

// Snapshot is the persisted form of the registry: the two inverse indexes,
// keyed by string so the document stays readable.
type Snapshot struct {
	GameToChat map[string]string `json:"game_to_chat"`
	ChatToGame map[string]string `json:"chat_to_game"`
}

// Store persists registry snapshots. Implementations must tolerate being
// called while the registry holds its write lock.
type Store interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
}

// JSONStore keeps the snapshot in a single JSON document that is rewritten
// wholesale on every mutation.
type JSONStore struct {
	Path string
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore returns a store backed by the file at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{Path: path}
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *JSONStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read links file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse links file: %w", err)
	}
	return &snap, nil
}

// Save replaces the document atomically.
func (s *JSONStore) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal links: %w", err)
	}
	return atomicfile.WriteFile(s.Path, data, 0o600)
}
