package anchor

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/trustnet/centerconf/interfaces"
)

// Document is the canonical configuration anchor descriptor. Its XML
// serialization is the distributable trust-root artifact; the persisted hash
// is always computed over exactly these bytes.
type Document struct {
	XMLName            xml.Name `xml:"configurationAnchor"`
	InstanceIdentifier string   `xml:"instanceIdentifier"`
	GeneratedAt        string   `xml:"generatedAt"`
	Sources            []Source `xml:"source"`
}

// Source is one download location within the anchor, bound to the key the
// downloads are verified against.
type Source struct {
	DownloadURL     string          `xml:"downloadURL"`
	VerificationKey VerificationKey `xml:"verificationKey"`
}

// VerificationKey identifies the signing key downstream servers must use to
// verify downloaded configuration.
type VerificationKey struct {
	KeyID string `xml:"keyId,attr"`
}

// SettingsProvider supplies the system parameters the generator embeds.
type SettingsProvider interface {
	GetSettings() (*interfaces.Settings, error)
}

// Generator builds and persists configuration anchors.
type Generator struct {
	settings SettingsProvider
	now      func() time.Time
}

// NewGenerator creates an anchor generator reading system parameters from
// settings.
func NewGenerator(settings SettingsProvider) *Generator {
	return &Generator{settings: settings, now: time.Now}
}

// WithClock overrides the generator's clock. Used in tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the anchor document for src and writes the resulting bytes,
// hash and generation time onto src together. The caller persists src; until
// it does, stored state is untouched, so a failed generation never leaves a
// half-updated source.
//
// Fails with interfaces.ErrNoActiveKey when the source has no active signing
// key and with interfaces.ErrNotFound when no download addresses are
// configured.
func (g *Generator) Generate(src *interfaces.ConfigurationSource) error {
	if src.ActiveKeyID == "" {
		return interfaces.ErrNoActiveKey
	}

	settings, err := g.settings.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}
	if len(settings.CentralAddresses) == 0 {
		return fmt.Errorf("%w: no central addresses configured", interfaces.ErrNotFound)
	}

	generatedAt := g.now().UTC().Truncate(time.Second)

	doc := Document{
		InstanceIdentifier: settings.InstanceIdentifier,
		GeneratedAt:        generatedAt.Format(time.RFC3339),
	}
	for _, addr := range settings.CentralAddresses {
		doc.Sources = append(doc.Sources, Source{
			DownloadURL:     downloadURL(addr, src.Kind),
			VerificationKey: VerificationKey{KeyID: src.ActiveKeyID},
		})
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize anchor: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	src.AnchorFile = data
	src.AnchorHash = interfaces.HashArtifact(data)
	src.AnchorGeneratedAt = generatedAt

	return nil
}

// downloadURL builds the distribution base URL for a central address and
// source kind.
func downloadURL(addr string, kind interfaces.SourceKind) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/") + "/" + kind.Directory()
}
