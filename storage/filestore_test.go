package storage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustnet/centerconf/interfaces"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFileStore(t.TempDir(), "node_0", logger)
	require.NoError(t, err)
	return store
}

func TestBootstrap(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Bootstrap())

	internal, err := store.GetSource(interfaces.SourceInternal)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceInternal, internal.Kind)
	assert.Equal(t, "node_0", internal.NodeName)
	assert.Empty(t, internal.Keys)
	assert.Empty(t, internal.ActiveKeyID)

	external, err := store.GetSource(interfaces.SourceExternal)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceExternal, external.Kind)
}

func TestBootstrap_Idempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Bootstrap())

	src, err := store.GetSource(interfaces.SourceInternal)
	require.NoError(t, err)
	src.Keys = append(src.Keys, interfaces.SigningKey{ID: "key-1"})
	src.ActiveKeyID = "key-1"
	require.NoError(t, store.SaveSource(src))

	// a second bootstrap must not reset existing sources
	require.NoError(t, store.Bootstrap())
	src, err = store.GetSource(interfaces.SourceInternal)
	require.NoError(t, err)
	assert.Equal(t, "key-1", src.ActiveKeyID)
	assert.Len(t, src.Keys, 1)
}

func TestGetSource_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSource(interfaces.SourceInternal)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestPartRoundTrip(t *testing.T) {
	store := newTestStore(t)

	data := []byte("<identifierMapping/>")
	part := &interfaces.ConfigurationPart{
		ContentIdentifier: interfaces.ContentIDIdentifierMapping,
		FileName:          "mapping.xml",
		Data:              data,
		Hash:              interfaces.HashArtifact(data),
		UpdatedAt:         time.Now().UTC().Truncate(time.Second),
		NodeName:          "node_0",
	}
	require.NoError(t, store.SavePart(part))

	got, err := store.GetPart(interfaces.ContentIDIdentifierMapping)
	require.NoError(t, err)
	assert.Equal(t, part.Data, got.Data)
	assert.Equal(t, part.Hash, got.Hash)
	assert.Equal(t, part.UpdatedAt, got.UpdatedAt)

	_, err = store.GetPart("NO-SUCH-PART")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestPartOverwrite(t *testing.T) {
	store := newTestStore(t)

	for _, content := range []string{"v1", "v2"} {
		part := &interfaces.ConfigurationPart{
			ContentIdentifier: interfaces.ContentIDSharedParameters,
			FileName:          "shared-params.xml",
			Data:              []byte(content),
			Hash:              interfaces.HashArtifact([]byte(content)),
			UpdatedAt:         time.Now().UTC(),
		}
		require.NoError(t, store.SavePart(part))
	}

	got, err := store.GetPart(interfaces.ContentIDSharedParameters)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Data)

	parts, err := store.ListParts()
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestAnchorUpsert(t *testing.T) {
	store := newTestStore(t)

	first := &interfaces.TrustedAnchor{
		InstanceIdentifier: "LV",
		Hash:               interfaces.HashArtifact([]byte("old")),
		File:               []byte("old"),
	}
	require.NoError(t, store.SaveAnchor(first))

	// a new anchor for the same instance replaces the old one
	second := &interfaces.TrustedAnchor{
		InstanceIdentifier: "LV",
		Hash:               interfaces.HashArtifact([]byte("new")),
		File:               []byte("new"),
	}
	require.NoError(t, store.SaveAnchor(second))

	got, err := store.GetAnchor("LV")
	require.NoError(t, err)
	assert.Equal(t, second.Hash, got.Hash)
	assert.Equal(t, []byte("new"), got.File)

	anchors, err := store.ListAnchors()
	require.NoError(t, err)
	assert.Len(t, anchors, 1)
}

func TestAnchorDelete(t *testing.T) {
	store := newTestStore(t)

	anchor := &interfaces.TrustedAnchor{InstanceIdentifier: "FI", File: []byte("a")}
	require.NoError(t, store.SaveAnchor(anchor))
	require.NoError(t, store.DeleteAnchor("FI"))

	_, err := store.GetAnchor("FI")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.ErrorIs(t, store.DeleteAnchor("FI"), interfaces.ErrNotFound)
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSettings()
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	settings := &interfaces.Settings{
		InstanceIdentifier: "EE",
		CentralAddresses:   []string{"cs.example.org"},
		MemberClasses:      []string{"GOV", "COM"},
	}
	require.NoError(t, store.SaveSettings(settings))

	got, err := store.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}
