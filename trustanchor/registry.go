package trustanchor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/metrics"
)

const stagedFilePrefix = "staged_anchor_"

// Preview is what the operator sees between upload and confirmation.
type Preview struct {
	Token              string                  `json:"token"`
	InstanceIdentifier string                  `json:"instance_identifier"`
	GeneratedAt        *time.Time              `json:"generated_at,omitempty"`
	Hash               interfaces.ArtifactHash `json:"hash"`
	HashDisplay        string                  `json:"hash_display"`
}

type staged struct {
	parsed    *parsedAnchor
	hash      interfaces.ArtifactHash
	data      []byte
	tempPath  string
	expiresAt time.Time
}

// Registry implements the trusted anchor registry with its two-phase upload:
// preview stages the parsed anchor under an opaque session token, confirm
// verifies and persists it, cancel discards it. Staging is a scoped resource:
// it is cleared on confirm, cancel and expiry alike, and a startup sweep
// removes temp files orphaned by a crash.
type Registry struct {
	store      interfaces.TrustedAnchorStore
	settings   interfaces.SettingsStore
	verifier   interfaces.AnchorVerifier // nil disables external verification
	stagingDir string
	ttl        time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	staged map[string]*staged // session token -> staged anchor
}

// NewRegistry creates a trusted anchor registry staging uploads under
// stagingDir. Staged uploads expire after ttl.
func NewRegistry(store interfaces.TrustedAnchorStore, settings interfaces.SettingsStore, verifier interfaces.AnchorVerifier, stagingDir string, ttl time.Duration, log *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Registry{
		store:      store,
		settings:   settings,
		verifier:   verifier,
		stagingDir: stagingDir,
		ttl:        ttl,
		log:        log,
		staged:     make(map[string]*staged),
	}, nil
}

// PreviewUpload parses and schema-validates an anchor candidate, stages it
// under sessionToken and returns what the operator must confirm. Nothing is
// persisted. An empty sessionToken starts a new upload session; a repeated
// preview for the same session silently replaces the prior staged anchor.
// Tokens are server-issued UUIDs; any other token is rejected.
//
// Anchors declaring this instance's own identifier are rejected with
// interfaces.ErrSameInstance: self-trust indicates operator error or an
// anchor mix-up.
func (r *Registry) PreviewUpload(sessionToken string, data []byte) (*Preview, error) {
	parsed, err := parseAnchor(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrValidationFailed, err)
	}

	settings, err := r.settings.GetSettings()
	if err != nil {
		return nil, err
	}
	if parsed.InstanceIdentifier == settings.InstanceIdentifier {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrSameInstance, parsed.InstanceIdentifier)
	}

	// The token names the staged temp file, so only server-issued UUID
	// tokens are accepted; anything else could steer the write path.
	if sessionToken == "" {
		sessionToken = uuid.NewString()
	} else if _, err := uuid.Parse(sessionToken); err != nil {
		return nil, fmt.Errorf("%w: invalid upload session token", interfaces.ErrValidationFailed)
	}

	// Verification tooling reads from a filesystem path, so the staged bytes
	// go to a temp file as well.
	tempPath := filepath.Join(r.stagingDir, stagedFilePrefix+sessionToken+".xml")
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage anchor: %w", err)
	}

	hash := interfaces.HashArtifact(data)

	r.mu.Lock()
	if prior, ok := r.staged[sessionToken]; ok && prior.tempPath != tempPath {
		os.Remove(prior.tempPath)
	}
	r.staged[sessionToken] = &staged{
		parsed:    parsed,
		hash:      hash,
		data:      data,
		tempPath:  tempPath,
		expiresAt: time.Now().Add(r.ttl),
	}
	r.mu.Unlock()

	r.log.Info("Staged trusted anchor upload",
		"instance", parsed.InstanceIdentifier,
		"hash", hash.Display())

	return &Preview{
		Token:              sessionToken,
		InstanceIdentifier: parsed.InstanceIdentifier,
		GeneratedAt:        parsed.GeneratedAt,
		Hash:               hash,
		HashDisplay:        hash.Display(),
	}, nil
}

// ConfirmUpload verifies the staged anchor and persists it, replacing any
// existing anchor of the same instance. Staging is cleared whether the
// confirmation succeeds or fails.
func (r *Registry) ConfirmUpload(ctx context.Context, sessionToken string) (*interfaces.TrustedAnchor, error) {
	entry, err := r.takeStaged(sessionToken)
	if err != nil {
		return nil, err
	}
	defer r.discard(sessionToken, entry)

	if r.verifier != nil {
		if err := r.verifier.Verify(ctx, entry.tempPath); err != nil {
			return nil, fmt.Errorf("%w: anchor verification failed: %v", interfaces.ErrValidationFailed, err)
		}
	}

	anchor := &interfaces.TrustedAnchor{
		InstanceIdentifier: entry.parsed.InstanceIdentifier,
		Hash:               entry.hash,
		GeneratedAt:        entry.parsed.GeneratedAt,
		File:               entry.data,
	}
	if err := r.store.SaveAnchor(anchor); err != nil {
		return nil, fmt.Errorf("failed to persist trusted anchor: %w", err)
	}

	metrics.TrustedAnchorImports.Inc()
	r.log.Info("Added trusted anchor",
		"instance", anchor.InstanceIdentifier,
		"hash", anchor.Hash.Display(),
		"algorithm", interfaces.ArtifactHashAlgorithm)
	return anchor, nil
}

// CancelUpload discards the staged anchor without persisting anything.
func (r *Registry) CancelUpload(sessionToken string) error {
	entry, err := r.takeStaged(sessionToken)
	if err != nil {
		return err
	}
	r.discard(sessionToken, entry)
	return nil
}

// DeleteAnchor removes a trusted anchor. Purely local.
func (r *Registry) DeleteAnchor(instanceIdentifier string) error {
	if err := r.store.DeleteAnchor(instanceIdentifier); err != nil {
		return err
	}
	r.log.Info("Deleted trusted anchor", "instance", instanceIdentifier)
	return nil
}

// ListAnchors returns all trusted anchors, without file bytes.
func (r *Registry) ListAnchors() ([]*interfaces.TrustedAnchor, error) {
	anchors, err := r.store.ListAnchors()
	if err != nil {
		return nil, err
	}
	for _, anchor := range anchors {
		anchor.File = nil
	}
	return anchors, nil
}

// GetAnchor returns a trusted anchor's bytes and download filename.
func (r *Registry) GetAnchor(instanceIdentifier string) (*interfaces.TrustedAnchor, string, error) {
	anchor, err := r.store.GetAnchor(instanceIdentifier)
	if err != nil {
		return nil, "", err
	}
	name := interfaces.AnchorFileName(anchor.InstanceIdentifier, interfaces.SourceExternal, anchor.GeneratedAt)
	return anchor, name, nil
}

// SweepExpired drops staged uploads past their TTL. Called periodically.
func (r *Registry) SweepExpired() {
	now := time.Now()

	r.mu.Lock()
	var expired []*staged
	for token, entry := range r.staged {
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
			delete(r.staged, token)
		}
	}
	r.mu.Unlock()

	for _, entry := range expired {
		os.Remove(entry.tempPath)
		r.log.Info("Expired staged anchor upload", "instance", entry.parsed.InstanceIdentifier)
	}
}

// SweepOrphans removes staged temp files left behind by a previous process.
// Called once at startup, before any upload can be staged.
func (r *Registry) SweepOrphans() error {
	entries, err := os.ReadDir(r.stagingDir)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stagedFilePrefix) {
			continue
		}
		path := filepath.Join(r.stagingDir, entry.Name())
		if err := os.Remove(path); err != nil {
			r.log.Warn("Failed to remove orphaned staged anchor", "path", path, "err", err)
			continue
		}
		r.log.Info("Removed orphaned staged anchor", "path", path)
	}
	return nil
}

func (r *Registry) takeStaged(sessionToken string) (*staged, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.staged[sessionToken]
	if !ok {
		return nil, fmt.Errorf("%w: no staged anchor for this session", interfaces.ErrNotFound)
	}
	if time.Now().After(entry.expiresAt) {
		delete(r.staged, sessionToken)
		os.Remove(entry.tempPath)
		return nil, fmt.Errorf("%w: staged anchor expired", interfaces.ErrNotFound)
	}
	return entry, nil
}

func (r *Registry) discard(sessionToken string, entry *staged) {
	r.mu.Lock()
	delete(r.staged, sessionToken)
	r.mu.Unlock()

	if err := os.Remove(entry.tempPath); err != nil && !os.IsNotExist(err) {
		r.log.Warn("Failed to remove staged anchor temp file", "path", entry.tempPath, "err", err)
	}
}
