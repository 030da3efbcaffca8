package distribution

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/trustnet/centerconf/interfaces"
)

// VaultBackend mirrors artifacts into a HashiCorp Vault KV v2 mount. Useful
// when downstream servers already authenticate against Vault.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault mirror writing under mountPath/dataPath.
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(address, "https://"), mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) Name() string        { return "vault" }
func (b *VaultBackend) LocationURI() string { return b.locationURI }

// Available reports whether the Vault server responds and is unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	return err == nil && !health.Sealed
}

// Publish writes the artifact as a KV v2 secret under the distribution path.
func (b *VaultBackend) Publish(ctx context.Context, path string, data []byte) error {
	_, err := b.client.KVv2(b.mountPath).Put(ctx, b.secretPath(path), map[string]any{
		"content": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write to Vault: %w", err)
	}

	b.log.Debug("Published artifact to Vault mirror", "path", path, "size", len(data))
	return nil
}

// Fetch reads back a published artifact.
func (b *VaultBackend) Fetch(ctx context.Context, path string) ([]byte, error) {
	secret, err := b.client.KVv2(b.mountPath).Get(ctx, b.secretPath(path))
	if err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}

	encoded, ok := secret.Data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected Vault secret shape at %s", path)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (b *VaultBackend) secretPath(path string) string {
	return b.dataPath + "/" + strings.TrimPrefix(path, "/")
}
