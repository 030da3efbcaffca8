package parts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/storage"
)

func newTestPartStore(t *testing.T) (*Store, *storage.FileStore, *MockValidator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fileStore, err := storage.NewFileStore(t.TempDir(), "node_0", logger)
	require.NoError(t, err)
	require.NoError(t, fileStore.Bootstrap())
	require.NoError(t, fileStore.SaveSettings(&interfaces.Settings{
		InstanceIdentifier: "EE",
		MemberClasses:      []string{"GOV", "COM"},
	}))

	validator := new(MockValidator)
	store := NewStore(fileStore, fileStore, validator, nil, "node_0", "", logger)
	return store, fileStore, validator
}

func TestSubmit_Accepted(t *testing.T) {
	store, fileStore, validator := newTestPartStore(t)
	data := []byte("<conf version=\"2\"/>")
	validator.On("Validate", mock.Anything, interfaces.ContentIDSharedParameters, data).
		Return(interfaces.ValidationResult{Accepted: true}, nil)

	result, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDSharedParameters, "shared-params.xml", data)
	require.NoError(t, err)
	assert.Equal(t, interfaces.HashArtifact(data), result.Part.Hash)
	assert.Empty(t, result.Warnings)

	part, err := fileStore.GetPart(interfaces.ContentIDSharedParameters)
	require.NoError(t, err)
	assert.Equal(t, data, part.Data)
	assert.Equal(t, "node_0", part.NodeName)
	validator.AssertExpectations(t)
}

func TestSubmit_RejectedLeavesStoredPartUntouched(t *testing.T) {
	store, fileStore, validator := newTestPartStore(t)

	good := []byte("good bytes")
	validator.On("Validate", mock.Anything, interfaces.ContentIDPrivateParameters, good).
		Return(interfaces.ValidationResult{Accepted: true}, nil)
	_, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDPrivateParameters, "private-params.xml", good)
	require.NoError(t, err)

	bad := []byte("bad bytes")
	validator.On("Validate", mock.Anything, interfaces.ContentIDPrivateParameters, bad).
		Return(interfaces.ValidationResult{Accepted: false, Stderr: "schema violation"}, nil)
	_, err = store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDPrivateParameters, "private-params.xml", bad)
	require.ErrorIs(t, err, interfaces.ErrValidationFailed)
	assert.Contains(t, err.Error(), "schema violation")

	// the stored part is still the previously accepted version
	part, err := fileStore.GetPart(interfaces.ContentIDPrivateParameters)
	require.NoError(t, err)
	assert.Equal(t, good, part.Data)
	assert.Equal(t, interfaces.HashArtifact(good), part.Hash)
}

func TestSubmit_RejectedFirstUploadStoresNothing(t *testing.T) {
	store, fileStore, validator := newTestPartStore(t)
	data := []byte("bad")
	validator.On("Validate", mock.Anything, interfaces.ContentIDSharedParameters, data).
		Return(interfaces.ValidationResult{Accepted: false, Stderr: "no"}, nil)

	_, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDSharedParameters, "shared-params.xml", data)
	require.ErrorIs(t, err, interfaces.ErrValidationFailed)

	_, err = fileStore.GetPart(interfaces.ContentIDSharedParameters)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSubmit_ValidatorWarnings(t *testing.T) {
	store, _, validator := newTestPartStore(t)
	data := []byte("ok with warnings")
	validator.On("Validate", mock.Anything, interfaces.ContentIDSharedParameters, data).
		Return(interfaces.ValidationResult{Accepted: true, Stderr: "deprecated element"}, nil)

	result, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDSharedParameters, "shared-params.xml", data)
	require.NoError(t, err)
	assert.Equal(t, "deprecated element", result.Stderr)
	assert.NotEmpty(t, result.Warnings)
}

func TestSubmit_ExternalSourceOnlySharedParams(t *testing.T) {
	store, fileStore, _ := newTestPartStore(t)

	_, err := store.Submit(context.Background(), interfaces.SourceExternal,
		interfaces.ContentIDPrivateParameters, "private-params.xml", []byte("x"))
	require.ErrorIs(t, err, interfaces.ErrValidationFailed)

	_, err = fileStore.GetPart(interfaces.ContentIDPrivateParameters)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSubmit_IdentifierMapping(t *testing.T) {
	store, _, validator := newTestPartStore(t)
	validator.On("Validate", mock.Anything, interfaces.ContentIDIdentifierMapping, mock.Anything).
		Return(interfaces.ValidationResult{Accepted: true}, nil)

	data := []byte(`<mappings>
  <mapping>
    <oldId>EE:GOV:100</oldId>
    <newId><xroadInstance>EE</xroadInstance><memberClass>GOV</memberClass><memberCode>200</memberCode></newId>
  </mapping>
</mappings>`)

	result, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDIdentifierMapping, "mapping.xml", data)
	require.NoError(t, err)
	assert.Equal(t, interfaces.HashArtifact(data), result.Part.Hash)
}

func TestSubmit_IdentifierMappingWrongInstance(t *testing.T) {
	store, fileStore, _ := newTestPartStore(t)

	data := []byte(`<mappings>
  <mapping>
    <oldId>FI:GOV:100</oldId>
    <newId><xroadInstance>FI</xroadInstance><memberClass>GOV</memberClass><memberCode>200</memberCode></newId>
  </mapping>
</mappings>`)

	_, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDIdentifierMapping, "mapping.xml", data)
	require.ErrorIs(t, err, interfaces.ErrValidationFailed)

	_, err = fileStore.GetPart(interfaces.ContentIDIdentifierMapping)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSubmit_IdentifierMappingUnknownMemberClass(t *testing.T) {
	store, _, _ := newTestPartStore(t)

	data := []byte(`<mappings>
  <mapping>
    <oldId>EE:GOV:100</oldId>
    <newId><xroadInstance>EE</xroadInstance><memberClass>NGO</memberClass><memberCode>200</memberCode></newId>
  </mapping>
</mappings>`)

	_, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDIdentifierMapping, "mapping.xml", data)
	assert.ErrorIs(t, err, interfaces.ErrValidationFailed)
}

func TestGetPart_DownloadName(t *testing.T) {
	store, _, validator := newTestPartStore(t)
	data := []byte("content")
	validator.On("Validate", mock.Anything, interfaces.ContentIDSharedParameters, data).
		Return(interfaces.ValidationResult{Accepted: true}, nil)

	_, err := store.Submit(context.Background(), interfaces.SourceInternal,
		interfaces.ContentIDSharedParameters, "globalconf.xml", data)
	require.NoError(t, err)

	part, name, err := store.GetPart(interfaces.ContentIDSharedParameters)
	require.NoError(t, err)
	assert.Equal(t, data, part.Data)
	assert.Regexp(t, `^globalconf_\d{4}-\d{2}-\d{2}_\d{2}_\d{2}_\d{2}\.xml$`, name)
}

func TestListParts_ExternalFilter(t *testing.T) {
	store, _, validator := newTestPartStore(t)
	validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.ValidationResult{Accepted: true}, nil)

	for id, file := range map[string]string{
		interfaces.ContentIDPrivateParameters: "private-params.xml",
		interfaces.ContentIDSharedParameters:  "shared-params.xml",
	} {
		_, err := store.Submit(context.Background(), interfaces.SourceInternal, id, file, []byte(id))
		require.NoError(t, err)
	}

	all, err := store.ListParts("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	external, err := store.ListParts(interfaces.SourceExternal)
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, interfaces.ContentIDSharedParameters, external[0].ContentIdentifier)
	assert.NotEmpty(t, external[0].Freshness)
}

func TestFreshness(t *testing.T) {
	now := mustParse(t, "2025-03-14T12:00:00Z")

	tests := []struct {
		name      string
		updatedAt string
		expected  string
	}{
		{"just now", "2025-03-14T11:59:30Z", "updated just now"},
		{"minutes", "2025-03-14T11:15:00Z", "updated 45 minutes ago"},
		{"hours", "2025-03-14T06:00:00Z", "updated 6 hours ago"},
		{"days", "2025-03-10T12:00:00Z", "updated 4 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, freshness(mustParse(t, tt.updatedAt), now))
		})
	}
}

func mustParse(t *testing.T, s string) (ts time.Time) {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
