// Package storage abstracts the backup artifact backends. A Provider moves
// archives between the local filesystem and one remote backend; callers pick
// the backend per BackupStorage row via ForStorage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

var ErrUnsupportedProvider = errors.New("unsupported storage provider")

// Provider is one backup storage backend.
type Provider interface {
	// Store uploads a local file to remotePath on the backend.
	Store(ctx context.Context, localPath, remotePath string) error
	// Fetch downloads remotePath into localPath.
	Fetch(ctx context.Context, remotePath, localPath string) error
	// Delete removes remotePath from the backend.
	Delete(ctx context.Context, remotePath string) error
	// UsedBytes reports total bytes stored under the backend's directory.
	UsedBytes(ctx context.Context) (int64, error)
	// Ping verifies the backend is reachable with the stored credentials.
	Ping(ctx context.Context) error
}

// ForStorage builds the Provider matching a storage row's configuration.
func ForStorage(st *models.BackupStorage) (Provider, error) {
	switch st.Provider {
	case models.ProviderNFS:
		return NewNFSProvider(st)
	case models.ProviderS3:
		return NewS3Provider(st)
	case models.ProviderAzure:
		return NewAzureProvider(st)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, st.Provider)
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
