package repository

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cvfolio/reqaudit/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinioArchivePut(t *testing.T) {
	endpoint := os.Getenv("REQAUDIT_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("REQAUDIT_TEST_MINIO_ENDPOINT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	archive, err := NewMinioArchive(ctx, config.ArchiveConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("REQAUDIT_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("REQAUDIT_TEST_MINIO_SECRET_KEY"),
		Bucket:    "reqaudit-test",
		Prefix:    "archive/",
	})
	require.NoError(t, err)

	data := []byte("{\"id\":1}\n{\"id\":2}\n")
	key, err := archive.Put(ctx, "sample.jsonl", data)
	require.NoError(t, err)
	assert.Equal(t, "reqaudit-test/archive/sample.jsonl", key)

	obj, err := archive.client.GetObject(ctx, "reqaudit-test", strings.TrimPrefix(key, "reqaudit-test/"), minio.GetObjectOptions{})
	require.NoError(t, err)
	defer obj.Close()
	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestNewMinioArchiveRequiresEndpoint(t *testing.T) {
	_, err := NewMinioArchive(context.Background(), config.ArchiveConfig{})
	assert.Error(t, err)
}
