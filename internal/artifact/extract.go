package artifact

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ExtractOptions controls how Extract lays out files.
type ExtractOptions struct {
	// StripComponents drops leading path components of every entry. Docker's
	// copy-from-container API prefixes paths with the copied directory's
	// name, so callers pass 1 to land its contents directly in destDir.
	StripComponents int

	// SkipExisting leaves files already present in destDir untouched.
	SkipExisting bool
}

// Extract unpacks an uncompressed tar stream into destDir.
// Entries escaping destDir are rejected. Returns the number of files written.
func Extract(r io.Reader, destDir string, opts ExtractOptions) (int, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}

	tarReader := tar.NewReader(r)
	files := 0

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, fmt.Errorf("failed to read tar header: %w", err)
		}

		extractPath, ok := stripComponents(header.Name, opts.StripComponents)
		if !ok {
			continue
		}

		cleanName := filepath.Clean(filepath.FromSlash(extractPath))
		if filepath.IsAbs(cleanName) || cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(filepath.Separator)) {
			return files, fmt.Errorf("invalid path in archive: %s", header.Name)
		}

		targetPath := filepath.Join(destDir, cleanName)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return files, fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if opts.SkipExisting {
				if _, err := os.Lstat(targetPath); err == nil {
					continue
				}
			}
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return files, fmt.Errorf("failed to create parent directory: %w", err)
			}

			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm()|0o600)
			if err != nil {
				return files, fmt.Errorf("failed to create file: %w", err)
			}

			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return files, fmt.Errorf("failed to extract file: %w", err)
			}
			if err := outFile.Close(); err != nil {
				return files, fmt.Errorf("failed to close file: %w", err)
			}
			files++

		default:
			slog.Debug("Skipping archive entry", "name", header.Name, "type", header.Typeflag)
		}
	}

	return files, nil
}

// stripComponents removes the first n slash-separated components of name.
// It reports false when nothing remains.
func stripComponents(name string, n int) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	name = strings.Trim(name, "/")
	for i := 0; i < n; i++ {
		_, rest, found := strings.Cut(name, "/")
		if !found {
			return "", false
		}
		name = rest
	}
	if name == "" {
		return "", false
	}
	return name, true
}
