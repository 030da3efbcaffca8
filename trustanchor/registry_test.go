package trustanchor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/storage"
)

const testAnchorXML = `<?xml version="1.0" encoding="UTF-8"?>
<configurationAnchor>
  <instanceIdentifier>FI</instanceIdentifier>
  <generatedAt>2025-03-14T09:26:53Z</generatedAt>
  <source>
    <downloadURL>http://cs.fi.example.org/externalconf</downloadURL>
  </source>
</configurationAnchor>`

func newTestRegistry(t *testing.T, verifier interfaces.AnchorVerifier, ttl time.Duration) (*Registry, *storage.FileStore, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fileStore, err := storage.NewFileStore(t.TempDir(), "node_0", logger)
	require.NoError(t, err)
	require.NoError(t, fileStore.SaveSettings(&interfaces.Settings{InstanceIdentifier: "EE"}))

	stagingDir := t.TempDir()
	registry, err := NewRegistry(fileStore, fileStore, verifier, stagingDir, ttl, logger)
	require.NoError(t, err)
	return registry, fileStore, stagingDir
}

func TestPreviewUpload(t *testing.T) {
	registry, fileStore, stagingDir := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Token)
	assert.Equal(t, "FI", preview.InstanceIdentifier)
	require.NotNil(t, preview.GeneratedAt)
	assert.Equal(t, "2025-03-14T09:26:53Z", preview.GeneratedAt.Format(time.RFC3339))
	assert.Equal(t, interfaces.HashArtifact([]byte(testAnchorXML)), preview.Hash)
	assert.Contains(t, preview.HashDisplay, ":")

	// preview persists nothing in the registry
	_, err = fileStore.GetAnchor("FI")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// but the candidate is staged on disk for the verifier
	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPreviewUpload_Malformed(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Hour)

	_, err := registry.PreviewUpload("", []byte("not xml at all"))
	assert.ErrorIs(t, err, interfaces.ErrValidationFailed)

	_, err = registry.PreviewUpload("", []byte(`<configurationAnchor><instanceIdentifier>FI</instanceIdentifier></configurationAnchor>`))
	assert.ErrorIs(t, err, interfaces.ErrValidationFailed)
}

func TestPreviewUpload_RejectsNonUUIDToken(t *testing.T) {
	registry, _, stagingDir := newTestRegistry(t, nil, time.Hour)

	// a traversing token must never reach the staged file path
	_, err := registry.PreviewUpload("../../../escaped", []byte(testAnchorXML))
	require.ErrorIs(t, err, interfaces.ErrValidationFailed)

	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(filepath.Join(filepath.Dir(stagingDir), "escaped.xml"))
	assert.True(t, os.IsNotExist(err))

	_, err = registry.PreviewUpload("not-a-uuid", []byte(testAnchorXML))
	assert.ErrorIs(t, err, interfaces.ErrValidationFailed)
}

func TestConfirmUpload_UnconfiguredVerifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// an empty program means verification is disabled, not broken
	registry, fileStore, _ := newTestRegistry(t, NewScriptVerifier("", logger), time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)

	anchor, err := registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)
	assert.Equal(t, "FI", anchor.InstanceIdentifier)

	stored, err := fileStore.GetAnchor("FI")
	require.NoError(t, err)
	assert.Equal(t, []byte(testAnchorXML), stored.File)
}

func TestPreviewUpload_SameInstance(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Hour)

	own := `<configurationAnchor>
  <instanceIdentifier>EE</instanceIdentifier>
  <source><downloadURL>http://cs.example.org/externalconf</downloadURL></source>
</configurationAnchor>`

	_, err := registry.PreviewUpload("", []byte(own))
	assert.ErrorIs(t, err, interfaces.ErrSameInstance)
}

func TestPreviewUpload_ReplacesPriorStaged(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Hour)

	first, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)

	other := `<configurationAnchor>
  <instanceIdentifier>LV</instanceIdentifier>
  <source><downloadURL>http://cs.lv.example.org/externalconf</downloadURL></source>
</configurationAnchor>`
	second, err := registry.PreviewUpload(first.Token, []byte(other))
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, "LV", second.InstanceIdentifier)

	anchor, err := registry.ConfirmUpload(context.Background(), first.Token)
	require.NoError(t, err)
	assert.Equal(t, "LV", anchor.InstanceIdentifier)
}

func TestConfirmUpload(t *testing.T) {
	registry, fileStore, stagingDir := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)

	anchor, err := registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)
	assert.Equal(t, "FI", anchor.InstanceIdentifier)
	assert.Equal(t, preview.Hash, anchor.Hash)

	stored, err := fileStore.GetAnchor("FI")
	require.NoError(t, err)
	assert.Equal(t, []byte(testAnchorXML), stored.File)

	// staging is cleared on confirmation
	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestConfirmUpload_Upsert(t *testing.T) {
	registry, fileStore, _ := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)
	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)

	updated := `<configurationAnchor>
  <instanceIdentifier>FI</instanceIdentifier>
  <generatedAt>2025-06-01T00:00:00Z</generatedAt>
  <source><downloadURL>http://cs2.fi.example.org/externalconf</downloadURL></source>
</configurationAnchor>`
	preview, err = registry.PreviewUpload("", []byte(updated))
	require.NoError(t, err)
	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)

	// the new anchor replaced the old one, no duplicate entry
	anchors, err := fileStore.ListAnchors()
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, interfaces.HashArtifact([]byte(updated)), anchors[0].Hash)
}

func TestConfirmUpload_VerifierRejects(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", mock.Anything, mock.Anything).Return(errors.New("signature check failed"))
	registry, fileStore, stagingDir := newTestRegistry(t, verifier, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)

	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	require.ErrorIs(t, err, interfaces.ErrValidationFailed)

	// nothing persisted, staging cleared even on failure
	_, err = fileStore.GetAnchor("FI")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	verifier.AssertExpectations(t)
}

func TestCancelUpload(t *testing.T) {
	registry, fileStore, stagingDir := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)
	require.NoError(t, registry.CancelUpload(preview.Token))

	_, err = fileStore.GetAnchor("FI")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, registry.CancelUpload(preview.Token), interfaces.ErrNotFound)
}

func TestConfirmUpload_Expired(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Millisecond)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSweepExpired(t *testing.T) {
	registry, _, stagingDir := newTestRegistry(t, nil, time.Millisecond)

	_, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	registry.SweepExpired()

	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepOrphans(t *testing.T) {
	registry, _, stagingDir := newTestRegistry(t, nil, time.Hour)

	// leftovers from a crashed process
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, stagedFilePrefix+"dead.xml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "unrelated.txt"), []byte("y"), 0o600))

	require.NoError(t, registry.SweepOrphans())

	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "unrelated.txt", entries[0].Name())
}

func TestListAnchors_StripsFileBytes(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)
	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)

	anchors, err := registry.ListAnchors()
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Empty(t, anchors[0].File)
	assert.Equal(t, "FI", anchors[0].InstanceIdentifier)
}

func TestGetAnchor_DownloadName(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)
	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)

	anchor, name, err := registry.GetAnchor("FI")
	require.NoError(t, err)
	assert.Equal(t, []byte(testAnchorXML), anchor.File)
	assert.Equal(t, "configuration_anchor_FI_external_2025-03-14_09_26_53.xml", name)
}

func TestDeleteAnchor(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, time.Hour)

	preview, err := registry.PreviewUpload("", []byte(testAnchorXML))
	require.NoError(t, err)
	_, err = registry.ConfirmUpload(context.Background(), preview.Token)
	require.NoError(t, err)

	require.NoError(t, registry.DeleteAnchor("FI"))
	_, _, err = registry.GetAnchor("FI")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
