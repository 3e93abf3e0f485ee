// Package storage persists the auth token the notification channel presents
// when it connects.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// TokenSource is read at every connect attempt.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token, mostly useful in tests and for flags.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// FileTokenStore keeps the token in a plain file next to a lock file so the
// front-end session and the listener can share it.
type FileTokenStore struct {
	path string
	lock *flock.Flock
}

func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, errors.New("token file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create token directory: %w", err)
	}
	return &FileTokenStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Token returns the stored token, or "" when none has been saved.
func (s *FileTokenStore) Token() (string, error) {
	if err := s.lock.RLock(); err != nil {
		return "", fmt.Errorf("lock token file: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileTokenStore) Save(token string) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.WriteFile(s.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear removes the token; a missing file is not an error.
func (s *FileTokenStore) Clear() error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
