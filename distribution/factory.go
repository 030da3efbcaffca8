package distribution

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/trustnet/centerconf/interfaces"
)

// Factory creates distribution backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a distribution backend from a location URI.
//
// Supported schemes:
//   - file:///path - local directory
//   - s3://bucket/prefix?region=...&endpoint=...&access_key=...&secret_key=...
//   - ipfs://host:port
//   - vault://host:port/mount/path?token=...
func (f *Factory) BackendFor(locationURI string) (interfaces.DistributionBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid distribution URI %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileBackend(u.Path, f.log)
	case "s3":
		query := u.Query()
		prefix := strings.TrimPrefix(u.Path, "/")
		return NewS3Backend(u.Host, prefix, query.Get("region"), query.Get("endpoint"),
			query.Get("access_key"), query.Get("secret_key"), f.log)
	case "ipfs":
		return NewIPFSBackend(u.Host, f.log)
	case "vault":
		mount, dataPath := splitVaultPath(u.Path)
		scheme := "https"
		if u.Query().Get("insecure") == "true" {
			scheme = "http"
		}
		return NewVaultBackend(scheme+"://"+u.Host, mount, dataPath, u.Query().Get("token"), f.log)
	default:
		return nil, fmt.Errorf("unsupported distribution scheme: %s", u.Scheme)
	}
}

// MultiBackendFor aggregates all valid backends from the given URIs; invalid
// ones are skipped with a warning. Returns an error only when none could be
// created.
func (f *Factory) MultiBackendFor(locationURIs []string) (interfaces.DistributionBackend, error) {
	backends := make([]interfaces.DistributionBackend, 0, len(locationURIs))
	for _, uri := range locationURIs {
		backend, err := f.BackendFor(uri)
		if err != nil {
			f.log.Warn("Failed to create distribution backend", "uri", uri, "err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid distribution backends created")
	}
	return NewMultiBackend(backends, f.log), nil
}

func splitVaultPath(path string) (mount, dataPath string) {
	trimmed := strings.Trim(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	mount = parts[0]
	if len(parts) > 1 {
		dataPath = parts[1]
	}
	return mount, dataPath
}
