package storage

import (
	"fmt"

	"github.com/spf13/afero"
)

// Dir manages a scratch directory, such as a browser's user data directory.
type Dir struct {
	Dir string

	fs     afero.Fs
	remove bool
}

// NewDir returns a Dir backed by fs. A nil fs means the local disk.
func NewDir(fs afero.Fs) *Dir {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Dir{fs: fs}
}

// Make creates a new temporary directory in tmpDir, or uses dir when it is
// not empty. Only a directory created here is removed by Cleanup.
func (d *Dir) Make(tmpDir, prefix, dir string) error {
	if dir != "" {
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = afero.TempDir(d.fs, tmpDir, prefix); err != nil {
		return fmt.Errorf("creating a temporary directory: %w", err)
	}
	d.remove = true

	return nil
}

// Cleanup removes the directory if Make created it.
func (d *Dir) Cleanup() error {
	if !d.remove || d.Dir == "" {
		return nil
	}
	if err := d.fs.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing %q: %w", d.Dir, err)
	}
	return nil
}
