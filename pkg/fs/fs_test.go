// Tests for the Real passthrough and the Flaky fault injector.

package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bucketdb/pkg/fs"
)

func Test_Real_Roundtrips_Files(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "real.txt")

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	exists, err := fsys.Exists(path)
	require.NoError(t, err)
	require.True(t, exists)

	f, err = fsys.Open(path)
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
	require.NoError(t, f.Close())

	moved := filepath.Join(t.TempDir(), "moved.txt")
	require.NoError(t, fsys.Rename(path, moved))

	exists, err = fsys.Exists(path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fsys.Remove(moved))
}

func Test_Flaky_Fails_The_Chosen_Call_Exactly(t *testing.T) {
	t.Parallel()

	injected := errors.New("injected")
	flaky := fs.NewFlaky(fs.NewReal(), injected)

	path := filepath.Join(t.TempDir(), "flaky.txt")

	f, err := flaky.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	defer func() { _ = f.Close() }()

	flaky.FailAt(fs.FlakyWrite, 2)

	_, err = f.WriteAt([]byte("a"), 0)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("b"), 1)
	require.ErrorIs(t, err, injected)

	// The trigger fires once; the third write succeeds.
	_, err = f.WriteAt([]byte("c"), 2)
	require.NoError(t, err)
}

func Test_Flaky_Counters_Span_All_Files(t *testing.T) {
	t.Parallel()

	injected := errors.New("injected")
	flaky := fs.NewFlaky(fs.NewReal(), injected)

	dir := t.TempDir()

	f1, err := flaky.OpenFile(filepath.Join(dir, "one"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	defer func() { _ = f1.Close() }()

	f2, err := flaky.OpenFile(filepath.Join(dir, "two"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	defer func() { _ = f2.Close() }()

	flaky.FailAt(fs.FlakySync, 2)

	require.NoError(t, f1.Sync())
	require.ErrorIs(t, f2.Sync(), injected)
}

func Test_Flaky_Reset_Clears_Triggers_And_Counts(t *testing.T) {
	t.Parallel()

	injected := errors.New("injected")
	flaky := fs.NewFlaky(fs.NewReal(), injected)

	f, err := flaky.OpenFile(filepath.Join(t.TempDir(), "r"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	defer func() { _ = f.Close() }()

	flaky.FailAt(fs.FlakyWrite, 1)
	flaky.Reset()

	_, err = f.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
}
