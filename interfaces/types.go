package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceKind distinguishes the two configuration distribution channels.
type SourceKind string

const (
	// SourceInternal serves this instance's own security servers.
	SourceInternal SourceKind = "internal"
	// SourceExternal serves federated instances.
	SourceExternal SourceKind = "external"
)

// ParseSourceKind validates a source kind received from the outside.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceInternal, SourceExternal:
		return SourceKind(s), nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// Directory returns the download directory name served for this kind.
func (k SourceKind) Directory() string {
	if k == SourceExternal {
		return "externalconf"
	}
	return "internalconf"
}

// ArtifactHash is the lowercase hex SHA-224 digest of an artifact's bytes.
type ArtifactHash string

// ArtifactHashAlgorithm names the digest algorithm used for anchors and
// uploaded configuration parts.
const ArtifactHashAlgorithm = "SHA-224"

// HashArtifact computes the digest of data.
func HashArtifact(data []byte) ArtifactHash {
	sum := sha256.Sum224(data)
	return ArtifactHash(hex.EncodeToString(sum[:]))
}

// Display renders the hash the way operators see it: uppercase hex grouped
// in colon-separated byte pairs.
func (h ArtifactHash) Display() string {
	up := strings.ToUpper(string(h))
	pairs := make([]string, 0, len(up)/2)
	for i := 0; i+2 <= len(up); i += 2 {
		pairs = append(pairs, up[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// SigningKey is this server's record of one key held by the signer gateway.
type SigningKey struct {
	ID          string    `json:"id"`       // gateway key identifier
	TokenID     string    `json:"token_id"` // gateway token holding the key
	GeneratedAt time.Time `json:"generated_at"`
}

// ConfigurationSource is one distribution channel on one HA node. The anchor
// fields are always written together: the hash always matches the file bytes.
type ConfigurationSource struct {
	Kind              SourceKind   `json:"kind"`
	NodeName          string       `json:"node_name"`
	Keys              []SigningKey `json:"keys"`
	ActiveKeyID       string       `json:"active_key_id,omitempty"`
	AnchorFile        []byte       `json:"anchor_file,omitempty"`
	AnchorHash        ArtifactHash `json:"anchor_hash,omitempty"`
	AnchorGeneratedAt time.Time    `json:"anchor_generated_at,omitempty"`
}

// Key returns the signing key with the given identifier, or nil.
func (s *ConfigurationSource) Key(keyID string) *SigningKey {
	for i := range s.Keys {
		if s.Keys[i].ID == keyID {
			return &s.Keys[i]
		}
	}
	return nil
}

// Reserved content identifiers of the distributed configuration bundle.
const (
	ContentIDPrivateParameters = "PRIVATE-PARAMETERS"
	ContentIDSharedParameters  = "SHARED-PARAMETERS"
	ContentIDIdentifierMapping = "IDENTIFIERMAPPING"
)

// ConfigurationPart is the latest accepted version of one named distribution
// artifact. Parts are overwritten in place, never versioned historically.
type ConfigurationPart struct {
	ContentIdentifier string       `json:"content_identifier"`
	FileName          string       `json:"file_name"`
	Data              []byte       `json:"data"`
	Hash              ArtifactHash `json:"hash"`
	UpdatedAt         time.Time    `json:"updated_at"`
	NodeName          string       `json:"node_name"`
}

// PartInfo is part metadata for listings; it never carries the content bytes.
type PartInfo struct {
	ContentIdentifier string       `json:"content_identifier"`
	FileName          string       `json:"file_name"`
	Hash              ArtifactHash `json:"hash"`
	UpdatedAt         time.Time    `json:"updated_at"`
	Freshness         string       `json:"freshness"`
}

// TrustedAnchor is an imported anchor of a different, federated instance.
// GeneratedAt is nil when the anchor does not declare a generation time.
type TrustedAnchor struct {
	InstanceIdentifier string       `json:"instance_identifier"`
	Hash               ArtifactHash `json:"hash"`
	GeneratedAt        *time.Time   `json:"generated_at,omitempty"`
	File               []byte       `json:"file"`
}

// ValidationResult is the outcome of running validation tooling against a
// proposed configuration part.
type ValidationResult struct {
	Accepted bool
	Stderr   string
}

// Settings holds the operator-editable system parameters the core depends on.
type Settings struct {
	InstanceIdentifier string   `json:"instance_identifier"`
	CentralAddresses   []string `json:"central_addresses"`
	MemberClasses      []string `json:"member_classes"`
}

// AnchorFileName builds the download filename for an anchor, embedding the
// generation time when one is known.
func AnchorFileName(instanceIdentifier string, kind SourceKind, generatedAt *time.Time) string {
	suffix := ""
	if generatedAt != nil && !generatedAt.IsZero() {
		suffix = "_" + generatedAt.UTC().Format("2006-01-02_15_04_05")
	}
	return fmt.Sprintf("configuration_anchor_%s_%s%s.xml", instanceIdentifier, kind, suffix)
}

// PartDownloadName injects the part's update time into its filename, before
// the extension, for cache busting and audit.
func PartDownloadName(fileName string, updatedAt time.Time) string {
	stamp := "_" + updatedAt.UTC().Format("2006-01-02_15_04_05")
	if idx := strings.LastIndex(fileName, "."); idx > 0 {
		return fileName[:idx] + stamp + fileName[idx:]
	}
	return fileName + stamp
}
