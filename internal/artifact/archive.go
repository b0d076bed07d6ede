// Package artifact packages job results for download and unpacks
// container output into the host artifacts directory.
package artifact

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"jobengine/internal/apperrors"
	"jobengine/internal/observability"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// File is a downloadable result.
type File struct {
	Path        string // local path of the payload
	Name        string // suggested download name
	ContentType string
	Size        int64
	Temporary   bool // Path was created for this download and should be removed after use
}

// Cleanup removes the payload if it was created for this download.
func (f *File) Cleanup() error {
	if f == nil || !f.Temporary {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Archiver turns a result path into a single downloadable file.
type Archiver struct {
	tempDir string
	metrics *observability.Metrics
}

// NewArchiver creates an Archiver writing temporary archives under tempDir
// (os.TempDir() when empty). metrics may be nil.
func NewArchiver(tempDir string, metrics *observability.Metrics) *Archiver {
	return &Archiver{tempDir: tempDir, metrics: metrics}
}

// Archive returns resultPath itself when it is a regular file. A directory is
// packed into a temporary tar.gz holding every regular file beneath it,
// named by its slash-separated path relative to resultPath and written in
// lexical order.
func (a *Archiver) Archive(ctx context.Context, resultPath string) (*File, error) {
	if resultPath == "" {
		return nil, apperrors.NotFound("result", "(empty path)")
	}

	info, err := os.Stat(resultPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("result", resultPath)
	}
	if err != nil {
		return nil, apperrors.Infrastructure("artifact.stat", err)
	}

	if !info.IsDir() {
		return &File{
			Path:        resultPath,
			Name:        filepath.Base(resultPath),
			ContentType: "application/octet-stream",
			Size:        info.Size(),
		}, nil
	}

	start := time.Now()
	file, err := a.archiveDir(ctx, resultPath)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordArchive(ctx, time.Since(start).Seconds(), true)
	}
	return file, nil
}

func (a *Archiver) archiveDir(ctx context.Context, srcDir string) (*File, error) {
	out, err := os.CreateTemp(a.tempDir, "result-*.tar.gz")
	if err != nil {
		return nil, apperrors.Infrastructure("artifact.createTemp", err)
	}

	fail := func(op string, cause error) (*File, error) {
		out.Close()
		os.Remove(out.Name())
		return nil, apperrors.Infrastructure(op, cause)
	}

	gzWriter := gzip.NewWriter(out)
	tarWriter := tar.NewWriter(gzWriter)

	count := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if err := addFile(tarWriter, path, filepath.ToSlash(relPath)); err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		return fail("artifact.walk", walkErr)
	}
	if err := tarWriter.Close(); err != nil {
		return fail("artifact.closeTar", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fail("artifact.closeGzip", err)
	}

	info, err := out.Stat()
	if err != nil {
		return fail("artifact.statArchive", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, apperrors.Infrastructure("artifact.closeArchive", err)
	}

	slog.Debug("Archived result directory", "src", srcDir, "files", count, "bytes", info.Size())

	return &File{
		Path:        out.Name(),
		Name:        filepath.Base(srcDir) + ".tar.gz",
		ContentType: "application/gzip",
		Size:        info.Size(),
		Temporary:   true,
	}, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := tar.FileInfoHeader(fileInfo, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header: %w", err)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}

	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to write file to tar: %w", err)
	}

	return nil
}
