package interfaces

import (
	"context"
	"time"
)

// SourceStore persists configuration sources. Implementations must write the
// anchor fields atomically so readers never observe a torn anchor/hash pair.
type SourceStore interface {
	GetSource(kind SourceKind) (*ConfigurationSource, error)
	SaveSource(src *ConfigurationSource) error
}

// PartStore persists configuration parts keyed by content identifier.
type PartStore interface {
	GetPart(contentIdentifier string) (*ConfigurationPart, error)
	SavePart(part *ConfigurationPart) error
	ListParts() ([]*ConfigurationPart, error)
}

// TrustedAnchorStore persists trusted anchors keyed by the owning instance
// identifier. SaveAnchor upserts.
type TrustedAnchorStore interface {
	GetAnchor(instanceIdentifier string) (*TrustedAnchor, error)
	SaveAnchor(anchor *TrustedAnchor) error
	DeleteAnchor(instanceIdentifier string) error
	ListAnchors() ([]*TrustedAnchor, error)
}

// SettingsStore persists the operator-editable system parameters.
type SettingsStore interface {
	GetSettings() (*Settings, error)
	SaveSettings(settings *Settings) error
}

// PartValidator runs identifier-specific validation tooling against proposed
// part bytes. A non-nil error means the tooling itself could not run; a
// rejected artifact is reported through the result, with the tool's stderr
// captured verbatim.
type PartValidator interface {
	Validate(ctx context.Context, contentIdentifier string, data []byte) (ValidationResult, error)
}

// AnchorVerifier runs the external verification step against a staged trusted
// anchor. Some verification tooling needs a filesystem path rather than an
// in-memory buffer.
type AnchorVerifier interface {
	Verify(ctx context.Context, path string) error
}

// NodeStatusRow is one HA node's raw state as reported by the replication
// driver: replication-slot activity plus last-update timestamps of the four
// tracked artifacts. A nil timestamp means the node has never produced or
// replicated that artifact.
type NodeStatusRow struct {
	NodeName          string
	StatusCode        string
	ReplicationActive bool
	ClientAddress     string
	LagBytes          int64

	PrivateParamsAt  *time.Time
	SharedParamsAt   *time.Time
	InternalAnchorAt *time.Time
	ExternalAnchorAt *time.Time
}

// ReplicationDriver reads per-node replication and freshness state. A driver
// failure is fatal to the whole consistency check; there is no partial or
// cached result.
type ReplicationDriver interface {
	NodeStatuses(ctx context.Context) ([]NodeStatusRow, error)
}

// NodeStatus is the monitor's verdict for one HA node.
type NodeStatus struct {
	NodeName          string `json:"node_name"`
	Status            string `json:"status"` // "ready" or "unknown"
	ReplicationActive bool   `json:"replication_active"`
	ConfigurationOK   bool   `json:"configuration_ok"`
}

// ClusterStatus is the reduced cluster health verdict.
type ClusterStatus struct {
	Nodes      []NodeStatus `json:"nodes"`
	AllNodesOK bool         `json:"all_nodes_ok"`
}

// DistributionBackend mirrors generated artifacts to an external location so
// downstream servers can fetch them. Publishing is best-effort and happens
// only after the local commit.
type DistributionBackend interface {
	Name() string
	LocationURI() string
	Available(ctx context.Context) bool
	Publish(ctx context.Context, path string, data []byte) error
	Fetch(ctx context.Context, path string) ([]byte, error)
}
