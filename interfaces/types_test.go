package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashArtifact(t *testing.T) {
	hash := HashArtifact([]byte("test artifact"))

	// SHA-224 renders as 56 lowercase hex characters
	assert.Len(t, string(hash), 56)
	assert.Equal(t, hash, HashArtifact([]byte("test artifact")))
	assert.NotEqual(t, hash, HashArtifact([]byte("other artifact")))
}

func TestArtifactHashDisplay(t *testing.T) {
	hash := ArtifactHash("ab01cd")
	assert.Equal(t, "AB:01:CD", hash.Display())

	full := HashArtifact([]byte("x"))
	display := full.Display()
	// 28 byte pairs joined by 27 colons
	assert.Len(t, display, 28*2+27)
}

func TestParseSourceKind(t *testing.T) {
	kind, err := ParseSourceKind("internal")
	require.NoError(t, err)
	assert.Equal(t, SourceInternal, kind)

	kind, err = ParseSourceKind("external")
	require.NoError(t, err)
	assert.Equal(t, SourceExternal, kind)

	_, err = ParseSourceKind("sideways")
	assert.Error(t, err)
}

func TestSourceKindDirectory(t *testing.T) {
	assert.Equal(t, "internalconf", SourceInternal.Directory())
	assert.Equal(t, "externalconf", SourceExternal.Directory())
}

func TestAnchorFileName(t *testing.T) {
	generatedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	name := AnchorFileName("EE", SourceInternal, &generatedAt)
	assert.Equal(t, "configuration_anchor_EE_internal_2025-03-14_09_26_53.xml", name)

	name = AnchorFileName("EE", SourceExternal, nil)
	assert.Equal(t, "configuration_anchor_EE_external.xml", name)
}

func TestPartDownloadName(t *testing.T) {
	updatedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.Equal(t, "globalconf_2025-03-14_09_26_53.xml", PartDownloadName("globalconf.xml", updatedAt))
	assert.Equal(t, "mapping_2025-03-14_09_26_53", PartDownloadName("mapping", updatedAt))
	// a leading dot is not an extension separator
	assert.Equal(t, ".hidden_2025-03-14_09_26_53", PartDownloadName(".hidden", updatedAt))
}

func TestConfigurationSourceKey(t *testing.T) {
	src := &ConfigurationSource{
		Kind: SourceInternal,
		Keys: []SigningKey{{ID: "key-1"}, {ID: "key-2"}},
	}

	require.NotNil(t, src.Key("key-2"))
	assert.Equal(t, "key-2", src.Key("key-2").ID)
	assert.Nil(t, src.Key("key-3"))
}
