package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrNoSession = errors.New("no stored session")

// Tokens is the persisted part of a session.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type TokenStore interface {
	// Load returns ErrNoSession when nothing has been saved.
	Load() (Tokens, error)
	Save(tokens Tokens) error
	Clear() error
}

type MemoryStore struct {
	mu     sync.Mutex
	tokens *Tokens
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return Tokens{}, ErrNoSession
	}
	return *s.tokens, nil
}

func (s *MemoryStore) Save(tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = &tokens
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	return nil
}

// FileStore keeps tokens in a JSON file readable only by the owner.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is the token file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "folio", "session.json"), nil
}

func (s *FileStore) Load() (Tokens, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Tokens{}, ErrNoSession
		}
		return Tokens{}, fmt.Errorf("read session file: %w", err)
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("decode session file: %w", err)
	}
	if tokens.AccessToken == "" {
		return Tokens{}, ErrNoSession
	}
	return tokens, nil
}

func (s *FileStore) Save(tokens Tokens) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
