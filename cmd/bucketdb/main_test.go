package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

func testShell(t *testing.T) *shell {
	t.Helper()

	db, err := bucketdb.Open(bucketdb.Options{
		Path:      filepath.Join(t.TempDir(), "shell.db"),
		Mode:      bucketdb.NewDB,
		BlockSize: 512,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	out, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)

	t.Cleanup(func() { _ = out.Close() })

	return &shell{db: db, out: out}
}

func output(t *testing.T, sh *shell) string {
	t.Helper()

	data, err := os.ReadFile(sh.out.Name())
	require.NoError(t, err)

	return string(data)
}

func Test_Shell_Store_Fetch_Delete_Flow(t *testing.T) {
	t.Parallel()

	sh := testShell(t)

	require.NoError(t, sh.dispatch([]string{"store", "alpha", "1"}))
	require.NoError(t, sh.dispatch([]string{"fetch", "alpha"}))
	require.NoError(t, sh.dispatch([]string{"count"}))
	require.NoError(t, sh.dispatch([]string{"delete", "alpha"}))
	require.Error(t, sh.dispatch([]string{"fetch", "alpha"}))

	got := output(t, sh)
	require.Contains(t, got, "1\n")
}

func Test_Shell_Rejects_Unknown_And_Malformed_Commands(t *testing.T) {
	t.Parallel()

	sh := testShell(t)

	require.Error(t, sh.dispatch([]string{"frobnicate"}))
	require.Error(t, sh.dispatch([]string{"store", "only-key"}))
	require.Error(t, sh.dispatch([]string{"convert", "sideways"}))
}

func Test_Shell_Status_And_Cache_Report(t *testing.T) {
	t.Parallel()

	sh := testShell(t)

	require.NoError(t, sh.dispatch([]string{"store", "k", "v"}))
	require.NoError(t, sh.dispatch([]string{"status"}))
	require.NoError(t, sh.dispatch([]string{"cache"}))

	got := output(t, sh)
	require.Contains(t, got, "format:   standard")
	require.Contains(t, got, "keys:     1")
	require.Contains(t, got, "capacity:")
}

func Test_Help_Wraps_To_Narrow_Terminals(t *testing.T) {
	t.Setenv("COLUMNS", "48")

	help := commandHelp()
	require.Contains(t, help, "store KEY VALUE")

	for _, line := range strings.Split(help, "\n") {
		require.LessOrEqual(t, len(line), 70, "line too wide: %q", line)
	}
}

func Test_WrapText_Respects_Width(t *testing.T) {
	t.Parallel()

	lines := wrapText("one two three four five six seven", 10)
	require.Greater(t, len(lines), 1)

	for _, l := range lines {
		require.LessOrEqual(t, len(l), 10)
	}
}

func Test_Profile_Fills_Unset_Options_Only(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments are fine in hujson
		"database": "/tmp/from-profile.db",
		"block_size": 1024,
		"sync": true,
	}`), 0o600))

	opts := cliOptions{profile: path}
	require.NoError(t, applyProfile(&opts))
	require.Equal(t, "/tmp/from-profile.db", opts.dbPath)
	require.Equal(t, 1024, opts.blockSize)
	require.True(t, opts.syncMode)

	// An explicit flag wins over the profile.
	opts = cliOptions{profile: path, dbPath: "/tmp/explicit.db", blockSize: 512}
	require.NoError(t, applyProfile(&opts))
	require.Equal(t, "/tmp/explicit.db", opts.dbPath)
	require.Equal(t, 512, opts.blockSize)
}

func Test_Missing_Default_Profile_Is_Not_An_Error(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	opts := cliOptions{}
	require.NoError(t, applyProfile(&opts))
	require.Empty(t, opts.dbPath)
}

func Test_Explicit_Missing_Profile_Is_An_Error(t *testing.T) {
	t.Parallel()

	opts := cliOptions{profile: filepath.Join(t.TempDir(), "absent.json")}
	require.Error(t, applyProfile(&opts))
}
