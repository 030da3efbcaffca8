package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trustnet/centerconf/anchor"
	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/metrics"
)

// Store is the persistence surface the manager needs.
type Store interface {
	interfaces.SourceStore
	interfaces.SettingsStore
}

// Result reports the outcome of a mutating operation. Primary success and
// best-effort side effects are reported independently: a key can be deleted
// locally (notice) while the gateway notification fails (warning). Callers
// must never collapse these into a single boolean.
type Result struct {
	Source   *interfaces.ConfigurationSource `json:"source,omitempty"`
	Notices  []string                        `json:"notices,omitempty"`
	Warnings []string                        `json:"warnings,omitempty"`
}

func (r *Result) notice(format string, args ...any) {
	r.Notices = append(r.Notices, fmt.Sprintf(format, args...))
}

func (r *Result) warning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Manager owns the signing key lifecycle of both configuration sources and
// triggers anchor regeneration on the transitions that invalidate the current
// anchor. The local registry is the source of truth for which key this server
// believes is active; the physical key's existence at the gateway is
// best-effort bookkeeping.
type Manager struct {
	store     Store
	gateway   interfaces.SignerGateway
	generator *anchor.Generator
	mirror    interfaces.DistributionBackend // optional distribution mirror
	log       *slog.Logger

	// one mutex per source: key activation and anchor regeneration within a
	// source are linearized, cross-source operations run concurrently
	locks map[interfaces.SourceKind]*sync.Mutex
}

// NewManager creates a source manager. mirror may be nil.
func NewManager(store Store, gateway interfaces.SignerGateway, generator *anchor.Generator, mirror interfaces.DistributionBackend, log *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		gateway:   gateway,
		generator: generator,
		mirror:    mirror,
		log:       log,
		locks: map[interfaces.SourceKind]*sync.Mutex{
			interfaces.SourceInternal: {},
			interfaces.SourceExternal: {},
		},
	}
}

// GenerateKey requests a new signing key from the gateway on tokenID and
// records it under the source. The new key is not activated automatically.
func (m *Manager) GenerateKey(ctx context.Context, kind interfaces.SourceKind, tokenID string) (*interfaces.SigningKey, error) {
	keyID, err := m.gateway.GenerateKey(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	m.locks[kind].Lock()
	defer m.locks[kind].Unlock()

	src, err := m.store.GetSource(kind)
	if err != nil {
		return nil, err
	}

	key := interfaces.SigningKey{
		ID:          keyID,
		TokenID:     tokenID,
		GeneratedAt: time.Now().UTC(),
	}
	src.Keys = append(src.Keys, key)

	if err := m.store.SaveSource(src); err != nil {
		return nil, err
	}

	m.log.Info("Generated signing key", "kind", string(kind), "tokenId", tokenID, "keyId", keyID)
	return &key, nil
}

// ActivateKey makes keyID the active signing key of its source and attempts
// to regenerate the source's anchor. Activation is a pure local-state
// transition; a regeneration failure is reported as a warning, not rolled
// back.
func (m *Manager) ActivateKey(ctx context.Context, keyID string) (*Result, error) {
	kind, err := m.findKeySource(keyID)
	if err != nil {
		return nil, err
	}

	m.locks[kind].Lock()
	defer m.locks[kind].Unlock()

	src, err := m.store.GetSource(kind)
	if err != nil {
		return nil, err
	}
	if src.Key(keyID) == nil {
		return nil, fmt.Errorf("%w: signing key %s", interfaces.ErrNotFound, keyID)
	}

	src.ActiveKeyID = keyID
	if err := m.store.SaveSource(src); err != nil {
		return nil, err
	}

	m.log.Info("Activated signing key", "kind", string(kind), "keyId", keyID)

	result := &Result{}
	result.notice("signing key %s activated for %s source", keyID, kind)
	m.regenerateLocked(ctx, src, result)

	result.Source = src
	return result, nil
}

// DeleteKey removes the signing key from the local registry, then makes two
// independent best-effort attempts: deleting the physical key at the gateway
// and regenerating the anchor. Neither failure rolls back the local deletion.
// If the deleted key was active, the source becomes keyless.
func (m *Manager) DeleteKey(ctx context.Context, keyID string) (*Result, error) {
	kind, err := m.findKeySource(keyID)
	if err != nil {
		return nil, err
	}

	m.locks[kind].Lock()
	defer m.locks[kind].Unlock()

	src, err := m.store.GetSource(kind)
	if err != nil {
		return nil, err
	}

	key := src.Key(keyID)
	if key == nil {
		return nil, fmt.Errorf("%w: signing key %s", interfaces.ErrNotFound, keyID)
	}
	tokenID := key.TokenID

	kept := src.Keys[:0]
	for _, k := range src.Keys {
		if k.ID != keyID {
			kept = append(kept, k)
		}
	}
	src.Keys = kept
	if src.ActiveKeyID == keyID {
		src.ActiveKeyID = ""
	}

	if err := m.store.SaveSource(src); err != nil {
		return nil, err
	}

	m.log.Info("Deleted signing key from registry", "kind", string(kind), "keyId", keyID, "tokenId", tokenID)

	result := &Result{}
	result.notice("signing key %s deleted from configuration", keyID)

	// Physical key disposal is best-effort: an unreachable gateway must not
	// block removal of the registry record.
	if err := m.gateway.DeleteKey(ctx, keyID, true); err != nil {
		m.log.Warn("Failed to delete key from signer gateway", "keyId", keyID, "err", err)
		result.warning("failed to delete key %s from token %s: %v", keyID, tokenID, err)
	} else {
		result.notice("signing key %s deleted from token %s", keyID, tokenID)
	}

	if src.ActiveKeyID != "" {
		m.regenerateLocked(ctx, src, result)
	}

	result.Source = src
	return result, nil
}

// RegenerateAnchor rebuilds the anchor of one source on operator request.
func (m *Manager) RegenerateAnchor(ctx context.Context, kind interfaces.SourceKind) (*Result, error) {
	m.locks[kind].Lock()
	defer m.locks[kind].Unlock()

	src, err := m.store.GetSource(kind)
	if err != nil {
		return nil, err
	}

	if err := m.generator.Generate(src); err != nil {
		metrics.AnchorGenerations.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	if err := m.store.SaveSource(src); err != nil {
		metrics.AnchorGenerations.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	metrics.AnchorGenerations.WithLabelValues(string(kind), "ok").Inc()

	m.log.Info("Generated configuration anchor",
		"kind", string(kind),
		"hash", src.AnchorHash.Display(),
		"algorithm", interfaces.ArtifactHashAlgorithm)

	result := &Result{Source: src}
	result.notice("%s configuration anchor generated", kind)
	m.mirrorAnchor(ctx, src, result)
	return result, nil
}

// SetCentralAddresses updates the distribution addresses and regenerates both
// anchors. Each source's regeneration succeeds or fails independently; the
// address change itself is committed regardless.
func (m *Manager) SetCentralAddresses(ctx context.Context, addresses []string) (*Result, error) {
	settings, err := m.store.GetSettings()
	if err != nil {
		return nil, err
	}
	settings.CentralAddresses = addresses
	if err := m.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	result := &Result{}
	result.notice("central addresses updated")

	for _, kind := range []interfaces.SourceKind{interfaces.SourceInternal, interfaces.SourceExternal} {
		m.locks[kind].Lock()
		src, err := m.store.GetSource(kind)
		if err == nil {
			m.regenerateLocked(ctx, src, result)
		} else {
			result.warning("failed to load %s source: %v", kind, err)
		}
		m.locks[kind].Unlock()
	}

	return result, nil
}

// ListAvailableTokens enumerates gateway tokens available for key generation.
func (m *Manager) ListAvailableTokens(ctx context.Context) ([]interfaces.TokenChoice, error) {
	tokens, err := m.gateway.ListTokens(ctx)
	if err != nil {
		return nil, err
	}

	choices := make([]interfaces.TokenChoice, 0, len(tokens))
	for _, token := range tokens {
		if !token.Available {
			continue
		}
		choices = append(choices, interfaces.TokenChoice{
			ID:     token.ID,
			Label:  token.Label,
			Usable: token.Active,
		})
	}
	return choices, nil
}

// InitializeToken logs a gateway token in with the operator-supplied PIN.
// The PIN is forwarded to the gateway and never stored.
func (m *Manager) InitializeToken(ctx context.Context, tokenID string, pin []byte) error {
	return m.gateway.InitializeToken(ctx, tokenID, pin)
}

// LogoutToken logs a gateway token out on operator request.
func (m *Manager) LogoutToken(ctx context.Context, tokenID string) error {
	return m.gateway.LogoutToken(ctx, tokenID)
}

// SourceView is the operator's view of one source: anchor metadata plus the
// local keys annotated with gateway-reported availability.
type SourceView struct {
	Kind              interfaces.SourceKind      `json:"kind"`
	AnchorHash        string                     `json:"anchor_hash,omitempty"`
	AnchorGeneratedAt time.Time                  `json:"anchor_generated_at,omitempty"`
	DownloadURLs      []string                   `json:"download_urls,omitempty"`
	Keys              []interfaces.KeyAnnotation `json:"keys"`
	GatewayReachable  bool                       `json:"gateway_reachable"`
}

// DescribeSource builds the operator view. The gateway annotation is
// read-through and best-effort: when the gateway is down the keys are listed
// from local state with availability flags left false, so the registry stays
// usable during an outage.
func (m *Manager) DescribeSource(ctx context.Context, kind interfaces.SourceKind) (*SourceView, error) {
	src, err := m.store.GetSource(kind)
	if err != nil {
		return nil, err
	}

	view := &SourceView{
		Kind:              kind,
		AnchorGeneratedAt: src.AnchorGeneratedAt,
	}
	if src.AnchorHash != "" {
		view.AnchorHash = src.AnchorHash.Display()
	}

	if settings, err := m.store.GetSettings(); err == nil {
		for _, addr := range settings.CentralAddresses {
			view.DownloadURLs = append(view.DownloadURLs, addr+"/"+kind.Directory())
		}
	}

	for _, key := range src.Keys {
		view.Keys = append(view.Keys, interfaces.KeyAnnotation{
			Key:        key,
			Active:     key.ID == src.ActiveKeyID,
			TokenLabel: key.TokenID,
		})
	}

	tokens, err := m.gateway.ListTokens(ctx)
	if err != nil {
		m.log.Warn("Signer gateway unreachable, listing keys from local state", "err", err)
		return view, nil
	}
	view.GatewayReachable = true

	for _, token := range tokens {
		for i := range view.Keys {
			if view.Keys[i].Key.TokenID != token.ID {
				continue
			}
			view.Keys[i].TokenLabel = token.Label
			view.Keys[i].TokenActive = token.Active
			view.Keys[i].TokenAvailable = token.Available
			for _, tk := range token.Keys {
				if tk.ID == view.Keys[i].Key.ID {
					view.Keys[i].KeyAvailable = tk.Available
				}
			}
		}
	}
	return view, nil
}

// GetAnchor returns the persisted anchor bytes, their hash and the download
// filename. The bytes are served exactly as persisted; the hash is never
// recomputed at read time.
func (m *Manager) GetAnchor(kind interfaces.SourceKind) ([]byte, interfaces.ArtifactHash, string, error) {
	src, err := m.store.GetSource(kind)
	if err != nil {
		return nil, "", "", err
	}
	if len(src.AnchorFile) == 0 {
		return nil, "", "", fmt.Errorf("%w: anchor not generated for %s source", interfaces.ErrNotFound, kind)
	}

	settings, err := m.store.GetSettings()
	if err != nil {
		return nil, "", "", err
	}

	generatedAt := src.AnchorGeneratedAt
	name := interfaces.AnchorFileName(settings.InstanceIdentifier, kind, &generatedAt)
	return src.AnchorFile, src.AnchorHash, name, nil
}

// regenerateLocked regenerates src's anchor and persists it, recording the
// outcome on result. Callers hold the source lock.
func (m *Manager) regenerateLocked(ctx context.Context, src *interfaces.ConfigurationSource, result *Result) {
	if err := m.generator.Generate(src); err != nil {
		metrics.AnchorGenerations.WithLabelValues(string(src.Kind), "error").Inc()
		m.log.Warn("Anchor regeneration failed", "kind", string(src.Kind), "err", err)
		result.warning("failed to generate %s configuration anchor: %v", src.Kind, err)
		return
	}
	if err := m.store.SaveSource(src); err != nil {
		metrics.AnchorGenerations.WithLabelValues(string(src.Kind), "error").Inc()
		m.log.Error("Failed to persist regenerated anchor", "kind", string(src.Kind), "err", err)
		result.warning("failed to persist %s configuration anchor: %v", src.Kind, err)
		return
	}
	metrics.AnchorGenerations.WithLabelValues(string(src.Kind), "ok").Inc()
	result.notice("%s configuration anchor generated", src.Kind)
	m.mirrorAnchor(ctx, src, result)
}

// mirrorAnchor publishes the committed anchor to the distribution mirror.
// Mirroring is a post-commit side effect: failure is surfaced as a warning.
func (m *Manager) mirrorAnchor(ctx context.Context, src *interfaces.ConfigurationSource, result *Result) {
	if m.mirror == nil {
		return
	}

	path := string(src.Kind) + "/anchor_" + string(src.AnchorHash) + ".xml"
	if err := m.mirror.Publish(ctx, path, src.AnchorFile); err != nil {
		m.log.Warn("Failed to mirror anchor", "backend", m.mirror.Name(), "path", path, "err", err)
		result.warning("failed to mirror %s anchor to %s: %v", src.Kind, m.mirror.Name(), err)
	}
}

// findKeySource locates the source holding keyID.
func (m *Manager) findKeySource(keyID string) (interfaces.SourceKind, error) {
	for _, kind := range []interfaces.SourceKind{interfaces.SourceInternal, interfaces.SourceExternal} {
		src, err := m.store.GetSource(kind)
		if err != nil {
			return "", err
		}
		if src.Key(keyID) != nil {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: signing key %s", interfaces.ErrNotFound, keyID)
}
