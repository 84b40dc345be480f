package service

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTarGz(t *testing.T, entries map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func TestValidateArchiveAcceptsAllowedEntries(t *testing.T) {
	path := writeTarGz(t, map[string]string{
		"app/index.php":     "<?php",
		"app/lib/util.php":  "<?php",
		"config/nginx.conf": "server {}",
		"env":               "APP_ENV=prod",
		"database.sql":      "CREATE TABLE t (id int);",
	})

	total, err := ValidateArchive(path)
	require.NoError(t, err)
	assert.Greater(t, total, int64(0))
}

func TestValidateArchiveRejections(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		wantErr error
	}{
		{
			name:    "path traversal",
			entries: map[string]string{"app/../../etc/passwd": "root:x:0:0"},
			wantErr: ErrArchiveTraversal,
		},
		{
			name:    "absolute path",
			entries: map[string]string{"/etc/shadow": "x"},
			wantErr: ErrArchiveTraversal,
		},
		{
			name:    "entry outside allow list",
			entries: map[string]string{"secrets/key.pem": "----"},
			wantErr: ErrArchiveEntry,
		},
		{
			name:    "lookalike prefix",
			entries: map[string]string{"application/evil.sh": "#!/bin/sh"},
			wantErr: ErrArchiveEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTarGz(t, tt.entries)
			_, err := ValidateArchive(path)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateArchiveRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("not a gzip stream"), 0o600))

	_, err := ValidateArchive(path)
	assert.ErrorIs(t, err, ErrArchiveMalformed)
}

func TestBuildAndExtractRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	appDir := filepath.Join(srcDir, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "main.php"), []byte("<?php"), 0o644))
	envFile := filepath.Join(srcDir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("APP_ENV=prod"), 0o600))

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	err := buildArchive(archive, map[string]string{
		"app/":    appDir,
		"env":     envFile,
		"config/": filepath.Join(srcDir, "missing-config"), // skipped
	})
	require.NoError(t, err)

	_, err = ValidateArchive(archive)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, extractArchive(archive, dest))

	body, err := os.ReadFile(filepath.Join(dest, "app", "main.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php", string(body))

	env, err := os.ReadFile(filepath.Join(dest, "env"))
	require.NoError(t, err)
	assert.Equal(t, "APP_ENV=prod", string(env))
}

func TestExtractArchiveRefusesDisallowedEntries(t *testing.T) {
	path := writeTarGz(t, map[string]string{"app/ok.txt": "ok", "evil.sh": "#!/bin/sh"})
	err := extractArchive(path, t.TempDir())
	assert.ErrorIs(t, err, ErrArchiveEntry)
}

func TestValidateArchiveRejectsWrongExtension(t *testing.T) {
	// A structurally valid tar.gz under the wrong name is still refused.
	src := writeTarGz(t, map[string]string{"app/index.php": "<?php"})
	renamed := filepath.Join(t.TempDir(), "backup.zip")
	require.NoError(t, os.Rename(src, renamed))

	_, err := ValidateArchive(renamed)
	assert.ErrorIs(t, err, ErrArchiveExtension)
}
