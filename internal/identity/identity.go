// Package identity persists the local client identity used in signaling.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Identity is the local peer identity presented when joining a room.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store loads and saves the identity from a JSON file under dir. A fresh
// identity is generated on first use, mirroring how the client assigns
// itself a uuid the first time it runs.
type Store struct {
	path string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "identity.json")}
}

// Load returns the stored identity, generating and persisting a new one
// when the file is missing or unreadable.
func (s *Store) Load() (Identity, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err == nil && id.ID != "" {
			return id, nil
		}
	}

	fresh := Identity{ID: uuid.NewString()}
	fresh.Name = fresh.ID
	if err := s.save(fresh); err != nil {
		return Identity{}, err
	}
	return fresh, nil
}

func (s *Store) save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating identity dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return nil
}
