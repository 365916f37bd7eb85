package deployer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TarGzBuilder unpacks a gzipped tar archive into the deployment
// workdir. The sender already excluded build artifacts and version
// control directories; the builder only guards the filesystem.
type TarGzBuilder struct{}

// NewTarGzBuilder creates the archive builder.
func NewTarGzBuilder() *TarGzBuilder {
	return &TarGzBuilder{}
}

// Build implements Builder.
func (b *TarGzBuilder) Build(ctx context.Context, workdir string, archive []byte, logf func(string)) error {
	if err := os.RemoveAll(workdir); err != nil {
		return fmt.Errorf("failed to reset workdir: %w", err)
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fmt.Errorf("failed to create workdir: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("archive is not gzip: %w", err)
	}
	defer gz.Close()

	var files int
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		dest, err := securePath(workdir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
			f.Close()
			files++
		default:
			// symlinks and specials are dropped from untrusted archives
		}
	}

	logf(fmt.Sprintf("Extracted %d files", files))
	return nil
}

// securePath joins an archive entry name under the workdir and rejects
// traversal outside of it.
func securePath(workdir, name string) (string, error) {
	dest := filepath.Join(workdir, filepath.Clean("/"+name))
	if dest != workdir && !strings.HasPrefix(dest, workdir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes workdir: %s", name)
	}
	return dest, nil
}
