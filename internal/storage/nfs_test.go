package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

func newNFSUnderTest(t *testing.T) (*NFSProvider, string) {
	t.Helper()

	root := t.TempDir()
	p, err := NewNFSProvider(&models.BackupStorage{
		Name:      "test-nfs",
		Provider:  models.ProviderNFS,
		Directory: &root,
	})
	require.NoError(t, err)
	return p, root
}

func TestNFSStoreFetchDelete(t *testing.T) {
	p, _ := newNFSUnderTest(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("archive-bytes"), 0o600))

	require.NoError(t, p.Store(ctx, src, "nightly/2026/backup.tar.gz"))

	used, err := p.UsedBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("archive-bytes")), used)

	dst := filepath.Join(t.TempDir(), "fetched.tar.gz")
	require.NoError(t, p.Fetch(ctx, "nightly/2026/backup.tar.gz", dst))
	body, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(body))

	require.NoError(t, p.Delete(ctx, "nightly/2026/backup.tar.gz"))
	used, err = p.UsedBytes(ctx)
	require.NoError(t, err)
	assert.Zero(t, used)

	// Deleting a missing object is not an error.
	assert.NoError(t, p.Delete(ctx, "nightly/2026/backup.tar.gz"))
}

func TestNFSRequiresDirectory(t *testing.T) {
	_, err := NewNFSProvider(&models.BackupStorage{Name: "bad", Provider: models.ProviderNFS})
	assert.Error(t, err)
}

func TestForStorageUnknownProvider(t *testing.T) {
	_, err := ForStorage(&models.BackupStorage{Name: "x", Provider: "TAPE"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNFSPing(t *testing.T) {
	p, root := newNFSUnderTest(t)
	assert.NoError(t, p.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, p.Ping(context.Background()))
}
