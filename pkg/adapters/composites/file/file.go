// Package file stores composite definitions as YAML documents, one
// <name>.yaml per composite, in a single directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/a2aflow/pkg/adapters/composites"
	"github.com/aescanero/a2aflow/pkg/domain"
)

const extension = ".yaml"

// Store reads and writes composite definitions under dir
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore creates the directory when missing
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create composite directory: %w", err)
	}
	return &Store{dir: dir, logger: logger.With(zap.String("component", "composite_store"))}, nil
}

// LoadAll parses every *.yaml file in the directory (ports.CompositeStore interface)
func (s *Store) LoadAll(ctx context.Context) (map[string]*domain.CompositeDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read composite directory: %w", err)
	}

	defs := make(map[string]*domain.CompositeDefinition)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != extension {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), extension)

		def, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable composite",
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		if def.Name == "" {
			def.Name = name
		}
		defs[name] = def
	}

	return defs, nil
}

// Save validates def and writes it to <dir>/<name>.yaml (ports.CompositeStore interface)
func (s *Store) Save(ctx context.Context, name string, def *domain.CompositeDefinition) error {
	if err := composites.Validate(name, def); err != nil {
		return err
	}

	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal composite: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write then rename so readers never see a partial document
	path := filepath.Join(s.dir, name+extension)
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write composite: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename composite: %w", err)
	}

	s.logger.Debug("composite saved", zap.String("name", name), zap.String("path", path))
	return nil
}

func (s *Store) read(path string) (*domain.CompositeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def domain.CompositeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &def, nil
}
