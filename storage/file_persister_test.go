package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSPersister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		path         string
		existingData string
		data         string
		truncates    bool
	}{
		{
			name: "just_file",
			path: "test.png",
			data: "some data",
		},
		{
			name: "with_dir",
			path: "verification/test.png",
			data: "some data",
		},
		{
			name:         "truncates",
			path:         "test.png",
			data:         "some data",
			truncates:    true,
			existingData: "existing data that is longer",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()

			// We want to make sure that the persister truncates the existing
			// data and therefore overwrites existing data. This sets up a file
			// with some existing data that should be overwritten.
			if tt.truncates {
				require.NoError(t, afero.WriteFile(fs, tt.path, []byte(tt.existingData), 0o600))
			}

			p := &FSPersister{Fs: fs}
			require.NoError(t, p.Persist(context.Background(), tt.path, strings.NewReader(tt.data)))

			bb, err := afero.ReadFile(fs, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.data, string(bb))

			ok, err := p.Exists(tt.path)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestFSPersisterErrors(t *testing.T) {
	t.Parallel()

	p := &FSPersister{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs())}
	err := p.Persist(context.Background(), "verification/shot.png", strings.NewReader("x"))
	require.Error(t, err)

	var awe *ArtifactWriteError
	require.True(t, errors.As(err, &awe))
	assert.Equal(t, "verification/shot.png", awe.Path)
	assert.Contains(t, err.Error(), `writing artifact "verification/shot.png"`)
	assert.NotEmpty(t, awe.StackTrace())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = (&FSPersister{Fs: afero.NewMemMapFs()}).Persist(ctx, "a.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSPersisterExists(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "empty.png", nil, 0o600))
	require.NoError(t, fs.MkdirAll("dir.png", 0o755))
	p := &FSPersister{Fs: fs}

	for _, path := range []string{"missing.png", "empty.png", "dir.png"} {
		ok, err := p.Exists(path)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}
}

func TestFSPersisterRemove(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "out/error.png", []byte("png"), 0o600))
	p := &FSPersister{Fs: fs}

	require.NoError(t, p.Remove("out/./error.png"))
	ok, err := afero.Exists(fs, "out/error.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Remove("out/error.png"), "removing a missing file")

	ro := &FSPersister{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs())}
	assert.Error(t, ro.Remove("out/error.png"))
}

func TestDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	d := NewDir(fs)
	require.NoError(t, d.Make(os.TempDir(), "torwell-verify-test-", ""))
	ok, err := afero.DirExists(fs, d.Dir)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.Cleanup())
	ok, err = afero.DirExists(fs, d.Dir)
	require.NoError(t, err)
	assert.False(t, ok)

	// A caller provided directory is left alone.
	require.NoError(t, fs.MkdirAll("/profile", 0o755))
	d = NewDir(fs)
	require.NoError(t, d.Make("", "", "/profile"))
	require.NoError(t, d.Cleanup())
	ok, err = afero.DirExists(fs, "/profile")
	require.NoError(t, err)
	assert.True(t, ok)
}
