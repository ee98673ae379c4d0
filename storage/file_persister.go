// Package storage persists run artifacts and manages scratch directories.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Persister will persist files. It abstracts away the where and how of
// writing files to the destination.
type Persister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// FSPersister persists files to an afero filesystem.
type FSPersister struct {
	Fs afero.Fs
}

// Persist writes the contents of data to path, creating parent directories
// and truncating any existing file. Failures are returned as
// *ArtifactWriteError.
func (p *FSPersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	cp := filepath.Clean(path)

	if err := ctx.Err(); err != nil {
		return NewArtifactWriteError(cp, err)
	}

	dir := filepath.Dir(cp)
	if err = p.Fs.MkdirAll(dir, 0o755); err != nil {
		return NewArtifactWriteError(cp, fmt.Errorf("creating directory %q: %w", dir, err))
	}

	f, err := p.Fs.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return NewArtifactWriteError(cp, fmt.Errorf("creating file: %w", err))
	}
	defer func() {
		tempErr := f.Close()
		// Only return the close error if there isn't already an existing error.
		if tempErr != nil && err == nil {
			err = NewArtifactWriteError(cp, fmt.Errorf("closing file: %w", tempErr))
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		return NewArtifactWriteError(cp, fmt.Errorf("writing file: %w", err))
	}

	return nil
}

// Exists reports whether path exists on the persister's filesystem as a
// non-empty regular file.
func (p *FSPersister) Exists(path string) (bool, error) {
	fi, err := p.Fs.Stat(filepath.Clean(path))
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, err
	}

	return fi.Mode().IsRegular() && fi.Size() > 0, nil
}

// Remove deletes the file at path. A missing file is not an error.
func (p *FSPersister) Remove(path string) error {
	err := p.Fs.Remove(filepath.Clean(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", path, err)
	}
	return nil
}
