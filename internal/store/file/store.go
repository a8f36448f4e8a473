package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	storepkg "storefront/internal/store"
)

// Store persists the credential as a small JSON document on disk. Writes go
// to a temp file that is renamed into place, so readers see either the old
// or the new document.
type Store struct {
	path   string
	sealer storepkg.Sealer

	mu sync.Mutex
}

// errCorrupt marks a credential file that exists but cannot be decoded.
var errCorrupt = errors.New("credential file is corrupt")

type document struct {
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewStore returns a file-backed store. sealer may be nil, in which case the
// token is written in plaintext with 0600 permissions.
func NewStore(path string, sealer storepkg.Sealer) *Store {
	return &Store{path: path, sealer: sealer}
}

func (s *Store) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := doc.Values[storepkg.TokenKey]
	if !ok || v == "" {
		return "", storepkg.ErrNotFound
	}
	if s.sealer == nil {
		return v, nil
	}
	token, err := s.sealer.Open(v)
	if err != nil {
		return "", fmt.Errorf("open persisted credential: %w", err)
	}
	return token, nil
}

func (s *Store) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := token
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(token)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		value = sealed
	}
	doc, err := s.read()
	switch {
	case err == nil, errors.Is(err, storepkg.ErrNotFound):
	case errors.Is(err, errCorrupt):
		// Nothing in a corrupt file is recoverable; replace it.
		doc = document{}
	default:
		return err
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	doc.Values[storepkg.TokenKey] = value
	return s.write(doc)
}

func (s *Store) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		if errors.Is(err, storepkg.ErrNotFound) {
			return nil
		}
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove credential file: %w", rmErr)
		}
		return nil
	}
	if _, ok := doc.Values[storepkg.TokenKey]; !ok {
		return nil
	}
	delete(doc.Values, storepkg.TokenKey)
	if len(doc.Values) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove credential file: %w", err)
		}
		return nil
	}
	return s.write(doc)
}

func (s *Store) read() (document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, storepkg.ErrNotFound
		}
		return document{}, fmt.Errorf("read credential file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("decode %s: %w: %w", s.path, errCorrupt, err)
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	doc.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
