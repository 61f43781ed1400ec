// Package jsonfile is the native-filesystem PersistentStore backend: one
// JSON file per (user, kind) pair.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/germtb/mlsclient/internal/store"
)

// Store writes "web3mq_<user_id>.json" for the User blob and
// "web3mq_<user_id>_ks.json" for the keystore blob, rooted at Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, creating dir if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(userID string, kind store.Kind) string {
	switch kind {
	case store.KindKeyStore:
		return filepath.Join(s.Dir, fmt.Sprintf("web3mq_%s_ks.json", userID))
	default:
		return filepath.Join(s.Dir, fmt.Sprintf("web3mq_%s.json", userID))
	}
}

// Put writes data to the file for (userID, kind), creating or overwriting it.
func (s *Store) Put(_ context.Context, userID string, kind store.Kind, data []byte) error {
	if err := os.WriteFile(s.path(userID, kind), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

// Get reads the file for (userID, kind). A missing file yields (nil, false, nil).
func (s *Store) Get(_ context.Context, userID string, kind store.Kind) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(userID, kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", kind, err)
	}
	return data, true, nil
}
