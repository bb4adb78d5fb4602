// Package knowledge loads knowledge items from YAML seed files.
package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pawrescue/kbengine/internal/domain/knowledge"
)

// file is the seed file layout.
type file struct {
	Items []knowledge.Item `yaml:"items"`
}

// FileSource reads items from a YAML file on every call.
type FileSource struct {
	path string
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: filepath.Clean(path)}
}

// Items implements ingest.Source.
func (s *FileSource) Items(ctx context.Context) ([]knowledge.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	items, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return items, nil
}

// Parse decodes a seed document. Unknown fields are rejected so typos in
// hand-written files surface early.
func Parse(data []byte) ([]knowledge.Item, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse knowledge yaml: %w", err)
	}
	return f.Items, nil
}
