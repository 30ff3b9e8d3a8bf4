package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"prompt-relay/internal/auth"
)

type contextDoc struct {
	Prompt    string    `json:"prompt"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileDoc struct {
	Lists    map[auth.List][]int64 `json:"lists"`
	Contexts map[string]contextDoc `json:"contexts"`
}

// FileStore keeps every list and context in one JSON document. Each call
// reads and rewrites the whole file under a mutex.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure dir")
	}
	// Touch file if not exists
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "touch file")
	}
	_ = f.Close()
	return &FileStore{path: path}, nil
}

func (s *FileStore) Contains(_ context.Context, list auth.List, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return false, err
	}
	return slices.Contains(doc.Lists[list], id), nil
}

func (s *FileStore) Add(_ context.Context, list auth.List, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	if slices.Contains(doc.Lists[list], id) {
		return nil
	}
	doc.Lists[list] = append(doc.Lists[list], id)
	return s.saveUnlocked(doc)
}

func (s *FileStore) Remove(_ context.Context, list auth.List, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	doc.Lists[list] = slices.DeleteFunc(doc.Lists[list], func(x int64) bool { return x == id })
	return s.saveUnlocked(doc)
}

func (s *FileStore) Members(_ context.Context, list auth.List) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return nil, err
	}
	return slices.Clone(doc.Lists[list]), nil
}

func (s *FileStore) GetContext(_ context.Context, chatID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return "", false, err
	}
	c, ok := doc.Contexts[formatID(chatID)]
	return c.Prompt, ok, nil
}

func (s *FileStore) SetContext(_ context.Context, chatID int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	c, ok := doc.Contexts[formatID(chatID)]
	if !ok {
		c.AddedAt = now
	}
	c.Prompt = prompt
	c.UpdatedAt = now
	doc.Contexts[formatID(chatID)] = c
	return s.saveUnlocked(doc)
}

func (s *FileStore) RemoveContext(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	delete(doc.Contexts, formatID(chatID))
	return s.saveUnlocked(doc)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) loadUnlocked() (*fileDoc, error) {
	doc := &fileDoc{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "read store")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, errors.Wrap(err, "decode store")
		}
	}
	if doc.Lists == nil {
		doc.Lists = make(map[auth.List][]int64)
	}
	if doc.Contexts == nil {
		doc.Contexts = make(map[string]contextDoc)
	}
	return doc, nil
}

// saveUnlocked replaces the document via a temp file and rename.
func (s *FileStore) saveUnlocked(doc *fileDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode store")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write store")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace store")
}
