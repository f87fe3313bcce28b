package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported menu format")
	errNoSource          = errors.New("no menu source configured")
)

// Source produces a fresh catalog from some backing storage.
type Source interface {
	Load() (*Catalog, error)
}

// FileSource reads the menu from a JSON or YAML file.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Path() string { return f.path }

func (f *FileSource) Load() (*Catalog, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read menu %s: %w", f.path, err)
	}
	var c Catalog
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".json", "":
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse menu %s: %w", f.path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse menu %s: %w", f.path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.path)
	}
	return &c, nil
}

// StaticSource serves a fixed catalog, or a fixed error.
type StaticSource struct {
	Catalog *Catalog
	Err     error
}

func (s StaticSource) Load() (*Catalog, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Catalog, nil
}
