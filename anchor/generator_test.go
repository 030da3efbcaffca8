package anchor

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustnet/centerconf/interfaces"
)

type fixedSettings struct {
	settings *interfaces.Settings
	err      error
}

func (f *fixedSettings) GetSettings() (*interfaces.Settings, error) {
	return f.settings, f.err
}

func testSettings() *fixedSettings {
	return &fixedSettings{settings: &interfaces.Settings{
		InstanceIdentifier: "EE",
		CentralAddresses:   []string{"cs1.example.org", "https://cs2.example.org/"},
	}}
}

func TestGenerate(t *testing.T) {
	generatedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	gen := NewGenerator(testSettings()).WithClock(func() time.Time { return generatedAt })

	src := &interfaces.ConfigurationSource{
		Kind:        interfaces.SourceInternal,
		Keys:        []interfaces.SigningKey{{ID: "key-1", TokenID: "token-1"}},
		ActiveKeyID: "key-1",
	}

	require.NoError(t, gen.Generate(src))
	require.NotEmpty(t, src.AnchorFile)
	assert.Equal(t, generatedAt, src.AnchorGeneratedAt)

	// the persisted hash always matches the persisted bytes
	assert.Equal(t, interfaces.HashArtifact(src.AnchorFile), src.AnchorHash)

	var doc Document
	require.NoError(t, xml.Unmarshal(src.AnchorFile, &doc))
	assert.Equal(t, "EE", doc.InstanceIdentifier)
	assert.Equal(t, "2025-03-14T09:26:53Z", doc.GeneratedAt)
	require.Len(t, doc.Sources, 2)
	assert.Equal(t, "http://cs1.example.org/internalconf", doc.Sources[0].DownloadURL)
	assert.Equal(t, "https://cs2.example.org/internalconf", doc.Sources[1].DownloadURL)
	assert.Equal(t, "key-1", doc.Sources[0].VerificationKey.KeyID)
}

func TestGenerate_ExternalDirectory(t *testing.T) {
	gen := NewGenerator(testSettings())
	src := &interfaces.ConfigurationSource{
		Kind:        interfaces.SourceExternal,
		ActiveKeyID: "key-1",
	}

	require.NoError(t, gen.Generate(src))

	var doc Document
	require.NoError(t, xml.Unmarshal(src.AnchorFile, &doc))
	assert.Equal(t, "http://cs1.example.org/externalconf", doc.Sources[0].DownloadURL)
}

func TestGenerate_NoActiveKey(t *testing.T) {
	gen := NewGenerator(testSettings())
	src := &interfaces.ConfigurationSource{
		Kind: interfaces.SourceInternal,
		Keys: []interfaces.SigningKey{{ID: "key-1"}},
	}

	err := gen.Generate(src)
	assert.ErrorIs(t, err, interfaces.ErrNoActiveKey)
	// a failed generation leaves the source untouched
	assert.Empty(t, src.AnchorFile)
	assert.Empty(t, src.AnchorHash)
}

func TestGenerate_NoCentralAddresses(t *testing.T) {
	gen := NewGenerator(&fixedSettings{settings: &interfaces.Settings{InstanceIdentifier: "EE"}})
	src := &interfaces.ConfigurationSource{
		Kind:        interfaces.SourceInternal,
		ActiveKeyID: "key-1",
	}

	err := gen.Generate(src)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.Empty(t, src.AnchorFile)
}

func TestGenerate_Deterministic(t *testing.T) {
	generatedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	gen := NewGenerator(testSettings()).WithClock(func() time.Time { return generatedAt })

	src1 := &interfaces.ConfigurationSource{Kind: interfaces.SourceInternal, ActiveKeyID: "key-1"}
	src2 := &interfaces.ConfigurationSource{Kind: interfaces.SourceInternal, ActiveKeyID: "key-1"}

	require.NoError(t, gen.Generate(src1))
	require.NoError(t, gen.Generate(src2))
	assert.Equal(t, src1.AnchorHash, src2.AnchorHash)
	assert.Equal(t, src1.AnchorFile, src2.AnchorFile)
}
