package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memArchive is an in-process RawArchive keyed by gs:// location.
type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemArchive() *memArchive {
	return &memArchive{objects: map[string][]byte{}, types: map[string]string{}}
}

func (a *memArchive) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	loc := "gs://raw-test/" + key
	if _, exists := a.objects[loc]; exists {
		return "", errors.New("object already exists")
	}
	a.objects[loc] = append([]byte(nil), data...)
	a.types[loc] = contentType
	return loc, nil
}

func (a *memArchive) Get(_ context.Context, loc string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objects[loc]
	if !ok {
		return nil, errors.New("object not found")
	}
	return append([]byte(nil), b...), nil
}

func checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestImportFile_LargeRawGoesToArchive(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	archive := newMemArchive()
	svc := NewService(store, nil, nil, Config{RawInlineLimit: 10}, WithRawArchive(archive))

	res, err := svc.ImportFile(ctx, importRequest(scenarioCSV))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	raws, err := svc.ListRawData(ctx, "t1", res.Job.ID)
	require.NoError(t, err)
	require.Len(t, raws, 1)

	raw := raws[0]
	assert.Equal(t, ledger.RawFile, raw.Kind)
	assert.Equal(t, "gs://raw-test/t1/"+res.Connection.ID+"/"+res.Job.ID+"/file-0000", raw.Location)
	assert.Empty(t, raw.Content)
	assert.Equal(t, len(scenarioCSV), raw.Size)
	assert.Equal(t, checksum(scenarioCSV), raw.Checksum)
	assert.Equal(t, "text/csv", archive.types[raw.Location])

	got, content, err := svc.GetRawContent(ctx, "t1", res.Job.ID, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, raw.ID, got.ID)
	assert.Equal(t, scenarioCSV, string(content))
}

func TestImportFile_SmallRawStaysInline(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	archive := newMemArchive()
	svc := NewService(store, nil, nil, Config{}, WithRawArchive(archive))

	res, err := svc.ImportFile(ctx, importRequest(scenarioCSV))
	require.NoError(t, err)

	raws, err := svc.ListRawData(ctx, "t1", res.Job.ID)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Empty(t, raws[0].Location)
	assert.Empty(t, archive.objects)

	_, content, err := svc.GetRawContent(ctx, "t1", res.Job.ID, raws[0].ID)
	require.NoError(t, err)
	assert.Equal(t, scenarioCSV, string(content))
}

func TestGetRawContent_Failures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	archive := newMemArchive()
	svc := NewService(store, nil, nil, Config{RawInlineLimit: 10}, WithRawArchive(archive))

	res, err := svc.ImportFile(ctx, importRequest(scenarioCSV))
	require.NoError(t, err)
	raws, err := svc.ListRawData(ctx, "t1", res.Job.ID)
	require.NoError(t, err)
	raw := raws[0]

	_, _, err = svc.GetRawContent(ctx, "t1", res.Job.ID, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, _, err = svc.GetRawContent(ctx, "t2", res.Job.ID, raw.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Same store, no archive configured.
	bare := NewService(store, nil, nil, Config{})
	_, _, err = bare.GetRawContent(ctx, "t1", res.Job.ID, raw.ID)
	assert.ErrorIs(t, err, ErrArchiveUnavailable)
	assert.Equal(t, "DB007", MapError(err).Code)

	archive.objects[raw.Location] = []byte("tampered")
	_, _, err = svc.GetRawContent(ctx, "t1", res.Job.ID, raw.ID)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, "DB006", MapError(err).Code)
}
