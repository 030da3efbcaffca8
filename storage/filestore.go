package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/trustnet/centerconf/interfaces"
)

// FileStore persists the service's local state (configuration sources,
// configuration parts, trusted anchors, system settings) as JSON records on
// the local filesystem. Every write goes through a temp file and rename so a
// record is either fully replaced or untouched; readers never observe a torn
// anchor/hash or bytes/hash pair.
type FileStore struct {
	baseDir  string
	nodeName string
	log      *slog.Logger
	mu       sync.RWMutex
}

const (
	sourcesDir = "sources"
	partsDir   = "parts"
	anchorsDir = "trusted_anchors"

	settingsFile = "settings.json"
)

// NewFileStore creates a file store rooted at baseDir, creating the record
// directories if needed.
func NewFileStore(baseDir, nodeName string, log *slog.Logger) (*FileStore, error) {
	for _, dir := range []string{sourcesDir, partsDir, anchorsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &FileStore{baseDir: baseDir, nodeName: nodeName, log: log}, nil
}

// NodeName returns the HA node label records are created under.
func (s *FileStore) NodeName() string {
	return s.nodeName
}

// Bootstrap creates the internal and external configuration sources for this
// node if they do not exist yet. Sources are created once and never deleted.
func (s *FileStore) Bootstrap() error {
	for _, kind := range []interfaces.SourceKind{interfaces.SourceInternal, interfaces.SourceExternal} {
		_, err := s.GetSource(kind)
		if err == nil {
			continue
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}

		src := &interfaces.ConfigurationSource{Kind: kind, NodeName: s.nodeName}
		if err := s.SaveSource(src); err != nil {
			return err
		}
		s.log.Info("Created configuration source", "kind", string(kind), "node", s.nodeName)
	}
	return nil
}

// GetSource loads the configuration source of the given kind.
func (s *FileStore) GetSource(kind interfaces.SourceKind) (*interfaces.ConfigurationSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src interfaces.ConfigurationSource
	if err := s.readRecord(filepath.Join(sourcesDir, string(kind)+".json"), &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// SaveSource writes the configuration source record atomically.
func (s *FileStore) SaveSource(src *interfaces.ConfigurationSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeRecord(filepath.Join(sourcesDir, string(src.Kind)+".json"), src)
}

// GetPart loads the latest accepted version of a configuration part.
func (s *FileStore) GetPart(contentIdentifier string) (*interfaces.ConfigurationPart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var part interfaces.ConfigurationPart
	if err := s.readRecord(filepath.Join(partsDir, recordName(contentIdentifier)), &part); err != nil {
		return nil, err
	}
	return &part, nil
}

// SavePart overwrites the part record atomically; bytes, hash and timestamp
// are committed together.
func (s *FileStore) SavePart(part *interfaces.ConfigurationPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeRecord(filepath.Join(partsDir, recordName(part.ContentIdentifier)), part)
}

// ListParts returns all stored configuration parts.
func (s *FileStore) ListParts() ([]*interfaces.ConfigurationPart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, partsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}

	parts := make([]*interfaces.ConfigurationPart, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var part interfaces.ConfigurationPart
		if err := s.readRecord(filepath.Join(partsDir, entry.Name()), &part); err != nil {
			return nil, err
		}
		parts = append(parts, &part)
	}
	return parts, nil
}

// GetAnchor loads the trusted anchor of a foreign instance.
func (s *FileStore) GetAnchor(instanceIdentifier string) (*interfaces.TrustedAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var anchor interfaces.TrustedAnchor
	if err := s.readRecord(filepath.Join(anchorsDir, recordName(instanceIdentifier)), &anchor); err != nil {
		return nil, err
	}
	return &anchor, nil
}

// SaveAnchor upserts the trusted anchor record for its instance identifier.
func (s *FileStore) SaveAnchor(anchor *interfaces.TrustedAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeRecord(filepath.Join(anchorsDir, recordName(anchor.InstanceIdentifier)), anchor)
}

// DeleteAnchor removes a trusted anchor record.
func (s *FileStore) DeleteAnchor(instanceIdentifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, anchorsDir, recordName(instanceIdentifier))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete anchor record: %w", err)
	}
	return nil
}

// ListAnchors returns all stored trusted anchors.
func (s *FileStore) ListAnchors() ([]*interfaces.TrustedAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, anchorsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted anchors: %w", err)
	}

	anchors := make([]*interfaces.TrustedAnchor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var anchor interfaces.TrustedAnchor
		if err := s.readRecord(filepath.Join(anchorsDir, entry.Name()), &anchor); err != nil {
			return nil, err
		}
		anchors = append(anchors, &anchor)
	}
	return anchors, nil
}

// GetSettings loads the system settings.
func (s *FileStore) GetSettings() (*interfaces.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var settings interfaces.Settings
	if err := s.readRecord(settingsFile, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings writes the system settings atomically.
func (s *FileStore) SaveSettings(settings *interfaces.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeRecord(settingsFile, settings)
}

func (s *FileStore) readRecord(relPath string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %w", interfaces.ErrNotFound, err)
		}
		return fmt.Errorf("failed to read record %s: %w", relPath, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("corrupt record %s: %w", relPath, err)
	}
	return nil
}

func (s *FileStore) writeRecord(relPath string, record any) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", relPath, err)
	}

	path := filepath.Join(s.baseDir, relPath)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record %s: %w", relPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp record: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit record %s: %w", relPath, err)
	}
	return nil
}

// recordName maps an external identifier to a safe file name.
func recordName(id string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	return sanitized + ".json"
}
