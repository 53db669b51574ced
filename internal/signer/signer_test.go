package signer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSigner struct {
	prefix string
}

func (s stubSigner) SignGetURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return s.prefix + path, nil
}

func TestRegistryDispatchesOnScheme(t *testing.T) {
	r := NewRegistry()
	r.Register(stubSigner{prefix: "signed-s3:"}, "s3", "s3a")
	r.Register(stubSigner{prefix: "signed-gs:"}, "gs")

	url, err := r.SignGetURL(context.Background(), "s3://bucket/key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "signed-s3:s3://bucket/key", url)

	url, err = r.SignGetURL(context.Background(), "s3a://bucket/key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "signed-s3:s3a://bucket/key", url)

	url, err = r.SignGetURL(context.Background(), "gs://bucket/key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "signed-gs:gs://bucket/key", url)
}

func TestRegistryFallsBackToPassthrough(t *testing.T) {
	r := NewRegistry()
	url, err := r.SignGetURL(context.Background(), "https://example.com/file.parquet", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/file.parquet", url)
}

func TestParseS3Path(t *testing.T) {
	bucket, key, err := parseS3Path("s3://warehouse/sales/q1/orders/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", bucket)
	assert.Equal(t, "sales/q1/orders/part-0.parquet", key)

	bucket, key, err = parseS3Path("s3a://warehouse/x.parquet")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", bucket)
	assert.Equal(t, "x.parquet", key)

	_, _, err = parseS3Path("gs://warehouse/x.parquet")
	require.Error(t, err)
	_, _, err = parseS3Path("s3://warehouse")
	require.Error(t, err)
}

func TestParseGCSPath(t *testing.T) {
	bucket, key, err := parseGCSPath("gs://warehouse/reference/countries/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", bucket)
	assert.Equal(t, "reference/countries/part-0.parquet", key)

	_, _, err = parseGCSPath("s3://warehouse/x.parquet")
	require.Error(t, err)
}

func TestParseAzurePath(t *testing.T) {
	container, key, err := parseAzurePath("abfss://data@myaccount.dfs.core.windows.net/sales/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, "data", container)
	assert.Equal(t, "sales/part-0.parquet", key)

	container, key, err = parseAzurePath("az://data/sales/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, "data", container)
	assert.Equal(t, "sales/part-0.parquet", key)

	container, key, err = parseAzurePath("https://myaccount.blob.core.windows.net/data/sales/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, "data", container)
	assert.Equal(t, "sales/part-0.parquet", key)

	_, _, err = parseAzurePath("https://example.com/data/file")
	require.Error(t, err)
	_, _, err = parseAzurePath("az://data")
	require.Error(t, err)
}
