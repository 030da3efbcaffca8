package distribution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/trustnet/centerconf/interfaces"
)

// IPFSBackend mirrors artifacts to an IPFS node. IPFS addresses content by
// its own hash, so the backend keeps a path-to-CID index of what it has
// published in this process.
type IPFSBackend struct {
	shell       *shell.Shell
	log         *slog.Logger
	locationURI string

	mu   sync.RWMutex
	cids map[string]string // distribution path -> CID
}

// NewIPFSBackend creates an IPFS mirror talking to the node API at apiAddr.
func NewIPFSBackend(apiAddr string, log *slog.Logger) (*IPFSBackend, error) {
	return &IPFSBackend{
		shell:       shell.NewShell(apiAddr),
		log:         log,
		locationURI: "ipfs://" + apiAddr,
		cids:        make(map[string]string),
	}, nil
}

func (b *IPFSBackend) Name() string        { return "ipfs" }
func (b *IPFSBackend) LocationURI() string { return b.locationURI }

// Available reports whether the IPFS node API responds.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	_, _, err := b.shell.Version()
	return err == nil
}

// Publish adds the artifact to IPFS and records its CID under the
// distribution path.
func (b *IPFSBackend) Publish(ctx context.Context, path string, data []byte) error {
	cid, err := b.shell.Add(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to add to IPFS: %w", err)
	}

	b.mu.Lock()
	b.cids[path] = cid
	b.mu.Unlock()

	b.log.Debug("Published artifact to IPFS mirror", "path", path, "cid", cid)
	return nil
}

// Fetch reads back an artifact published by this process.
func (b *IPFSBackend) Fetch(ctx context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	cid, ok := b.cids[path]
	b.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	reader, err := b.shell.Cat(cid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s from IPFS: %w", cid, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
