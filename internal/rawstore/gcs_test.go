package rawstore

import (
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ core.RawArchive = (*GCS)(nil)

func TestObjectName(t *testing.T) {
	assert.Equal(t, "raw/t1/c1/j1/file-0000", objectName("raw", "t1/c1/j1/file-0000"))
	assert.Equal(t, "t1/c1/j1/file-0000", objectName("", "/t1/c1/j1/file-0000"))
}

func TestParseLocation(t *testing.T) {
	bucket, name, err := ParseLocation(location("ledger-raw", "raw/t1/c1/j1/provider_page-0002"))
	require.NoError(t, err)
	assert.Equal(t, "ledger-raw", bucket)
	assert.Equal(t, "raw/t1/c1/j1/provider_page-0002", name)

	for _, bad := range []string{"s3://b/k", "gs://bucket", "gs:///k", ""} {
		_, _, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}
