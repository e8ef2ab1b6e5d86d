package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileStore persists the document as a local JSON file, rewritten in full on
// every save. Single-writer deployments only.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (Document, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(Document), nil
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc == nil {
		doc = make(Document)
	}
	return doc, nil
}

func (s *FileStore) Save(_ context.Context, doc Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}
