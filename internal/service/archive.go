package service

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Archive limits. Compressed size is checked before anything is read;
// the uncompressed total is enforced while scanning entries so a small
// upload cannot expand into an oversized restore.
const (
	MaxArchiveBytes      = 2 << 30  // 2 GB compressed
	MaxUncompressedBytes = 10 << 30 // 10 GB unpacked
)

// Only these paths may appear in a backup archive. Anything else, and any
// entry that escapes the extraction root, rejects the whole archive.
var allowedArchivePaths = []string{"app/", "env", "database.sql", "config/"}

var (
	ErrArchiveTooLarge  = errors.New("archive exceeds size limit")
	ErrArchiveEntry     = errors.New("archive contains a disallowed entry")
	ErrArchiveTraversal = errors.New("archive entry escapes extraction root")
	ErrArchiveMalformed = errors.New("archive is not a valid tar.gz")
	ErrArchiveExtension = errors.New("archive must be a .tar.gz file")
)

func entryAllowed(name string) bool {
	clean := strings.TrimPrefix(name, "./")
	for _, prefix := range allowedArchivePaths {
		if clean == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(clean, prefix) {
			return true
		}
	}
	return false
}

// ValidateArchive scans a tar.gz without extracting it and returns the
// uncompressed total. Every entry must match the allow-list and resolve
// inside the extraction root.
func ValidateArchive(path string) (int64, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".tar.gz") {
		return 0, fmt.Errorf("%w: %s", ErrArchiveExtension, filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	if info.Size() > MaxArchiveBytes {
		return 0, fmt.Errorf("%w: %d bytes compressed", ErrArchiveTooLarge, info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchiveMalformed, err)
	}
	defer gz.Close()

	var total int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrArchiveMalformed, err)
		}

		name := filepath.ToSlash(hdr.Name)
		if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
			return 0, fmt.Errorf("%w: %s", ErrArchiveTraversal, hdr.Name)
		}
		if !entryAllowed(name) {
			return 0, fmt.Errorf("%w: %s", ErrArchiveEntry, hdr.Name)
		}

		total += hdr.Size
		if total > MaxUncompressedBytes {
			return 0, fmt.Errorf("%w: over %d bytes uncompressed", ErrArchiveTooLarge, int64(MaxUncompressedBytes))
		}
	}

	return total, nil
}

// buildArchive writes a tar.gz at dst containing the named sources, each
// mapped to its allow-listed archive path. Missing sources are skipped so a
// deployment without a config dir still backs up.
func buildArchive(dst string, sources map[string]string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for archivePath, src := range sources {
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", src, err)
		}

		if info.IsDir() {
			if err := addDir(tw, src, archivePath); err != nil {
				return err
			}
			continue
		}
		if err := addFile(tw, src, archivePath, info); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return out.Close()
}

// extractArchive unpacks a validated tar.gz under destDir. Entries are
// re-checked against the allow-list; every output path must resolve inside
// destDir.
func extractArchive(path, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveMalformed, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArchiveMalformed, err)
		}

		name := filepath.ToSlash(hdr.Name)
		if !entryAllowed(name) || strings.Contains(name, "..") {
			return fmt.Errorf("%w: %s", ErrArchiveEntry, hdr.Name)
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", ErrArchiveTraversal, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("create dir for %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode())
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s has unsupported type", ErrArchiveEntry, hdr.Name)
		}
	}
}

func addDir(tw *tar.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return addFile(tw, path, filepath.ToSlash(filepath.Join(prefix, rel)), info)
	})
}

func addFile(tw *tar.Writer, src, name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", src, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
