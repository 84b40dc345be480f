package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

// NFSProvider stores archives on a locally mounted filesystem path. The
// mount itself (NFS, CIFS, local disk) is the operator's concern.
type NFSProvider struct {
	root string
}

func NewNFSProvider(st *models.BackupStorage) (*NFSProvider, error) {
	root := strOrEmpty(st.Directory)
	if root == "" {
		return nil, fmt.Errorf("nfs storage %s has no directory configured", st.Name)
	}
	return &NFSProvider{root: root}, nil
}

func (p *NFSProvider) Store(ctx context.Context, localPath, remotePath string) error {
	dst := filepath.Join(p.root, remotePath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy archive: %w", err)
	}
	return out.Close()
}

func (p *NFSProvider) Fetch(ctx context.Context, remotePath, localPath string) error {
	src, err := os.Open(filepath.Join(p.root, remotePath))
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("copy archive: %w", err)
	}
	return out.Close()
}

func (p *NFSProvider) Delete(ctx context.Context, remotePath string) error {
	err := os.Remove(filepath.Join(p.root, remotePath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *NFSProvider) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", p.root, err)
	}
	return total, nil
}

func (p *NFSProvider) Ping(ctx context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", p.root)
	}
	return nil
}
