package distribution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trustnet/centerconf/interfaces"
)

// MultiBackend fans publishes out to several backends and fetches from the
// first one that has the content.
type MultiBackend struct {
	backends []interfaces.DistributionBackend
	log      *slog.Logger
}

// NewMultiBackend aggregates backends.
func NewMultiBackend(backends []interfaces.DistributionBackend, log *slog.Logger) *MultiBackend {
	return &MultiBackend{backends: backends, log: log}
}

func (m *MultiBackend) Name() string { return "multi" }

func (m *MultiBackend) LocationURI() string {
	uris := ""
	for i, b := range m.backends {
		if i > 0 {
			uris += ","
		}
		uris += b.LocationURI()
	}
	return uris
}

// Available reports whether at least one backend is available.
func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, b := range m.backends {
		if b.Available(ctx) {
			return true
		}
	}
	return false
}

// Publish stores to every available backend; it succeeds when at least one
// backend accepted the artifact.
func (m *MultiBackend) Publish(ctx context.Context, path string, data []byte) error {
	var errs []error
	published := 0

	for _, b := range m.backends {
		if !b.Available(ctx) {
			m.log.Debug("Distribution backend unavailable", "backend", b.Name())
			continue
		}
		if err := b.Publish(ctx, path, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			m.log.Warn("Failed to publish to backend", "backend", b.Name(), "path", path, "err", err)
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("all distribution backends failed for %s: %v", path, errs)
	}
	return nil
}

// Fetch returns the artifact from the first backend holding it.
func (m *MultiBackend) Fetch(ctx context.Context, path string) ([]byte, error) {
	var errs []error
	for _, b := range m.backends {
		if !b.Available(ctx) {
			continue
		}
		data, err := b.Fetch(ctx, path)
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return nil, fmt.Errorf("no distribution backend could fetch %s: %v", path, errs)
}
