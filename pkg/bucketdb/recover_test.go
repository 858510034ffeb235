// Recovery and reorganization tests: salvage from deliberate on-disk
// damage, backup naming, handle rebinding, and space reclamation.

package bucketdb_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

func Test_Recover_Is_A_NoOp_On_A_Healthy_Unforced_Handle(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})
	require.NoError(t, db.Store([]byte("k"), []byte("v"), bucketdb.Insert))

	stat, err := bucketdb.Recover(db, bucketdb.RecoverOptions{})
	require.NoError(t, err)
	require.Zero(t, stat.RecoveredKeys)

	v, err := db.Fetch([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func Test_Forced_Recover_Preserves_A_Healthy_Database(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	n := 300
	for i := range n {
		require.NoError(t, db.Store(fmt.Appendf(nil, "key-%04d", i), fmt.Appendf(nil, "val-%04d", i), bucketdb.Insert))
	}

	stat, err := bucketdb.Recover(db, bucketdb.RecoverOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, uint64(n), stat.RecoveredKeys)
	require.Zero(t, stat.FailedKeys)
	require.Zero(t, stat.FailedBuckets)

	// The rebound handle serves everything.
	for i := range n {
		v, err := db.Fetch(fmt.Appendf(nil, "key-%04d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "val-%04d", i), v)
	}
}

func Test_Recover_Heals_A_Poisoned_Handle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hurt.db")

	db := openTest(t, bucketdb.Options{Path: path})

	for i := range 50 {
		require.NoError(t, db.Store(fmt.Appendf(nil, "key-%02d", i), []byte("safe"), bucketdb.Insert))
	}

	require.NoError(t, db.Sync())

	db.DebugPoison()
	require.ErrorIs(t, db.Store([]byte("x"), []byte("y"), bucketdb.Insert), bucketdb.ErrNeedRecovery)

	var diagnostics []string

	stat, err := bucketdb.Recover(db, bucketdb.RecoverOptions{
		Verbose: func(format string, args ...any) {
			diagnostics = append(diagnostics, fmt.Sprintf(format, args...))
		},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(50), stat.RecoveredKeys)
	require.False(t, db.NeedsRecovery())
	require.Empty(t, diagnostics)

	// The rebound handle accepts mutations again.
	require.NoError(t, db.Store([]byte("x"), []byte("y"), bucketdb.Insert))

	for i := range 50 {
		v, err := db.Fetch(fmt.Appendf(nil, "key-%02d", i))
		require.NoError(t, err)
		require.Equal(t, []byte("safe"), v)
	}
}

func Test_Recover_With_Backup_Keeps_A_Timestamped_Copy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "backed.db")

	db := openTest(t, bucketdb.Options{Path: path})
	require.NoError(t, db.Store([]byte("k"), []byte("v"), bucketdb.Insert))
	require.NoError(t, db.Sync())

	stat, err := bucketdb.Recover(db, bucketdb.RecoverOptions{Force: true, Backup: true})
	require.NoError(t, err)
	require.NotEmpty(t, stat.BackupName)
	require.True(t, strings.HasPrefix(stat.BackupName, path+"."))

	// The backup name carries a 14-digit timestamp suffix.
	suffix := strings.TrimPrefix(stat.BackupName, path+".")
	require.Len(t, suffix, 14)

	_, err = os.Stat(stat.BackupName)
	require.NoError(t, err)

	v, err := db.Fetch([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func Test_Recover_Rejects_Reader_Handles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ro.db")

	db := openTest(t, bucketdb.Options{Path: path})
	require.NoError(t, db.Close())

	r, err := bucketdb.Open(bucketdb.Options{Path: path, Mode: bucketdb.Reader})
	require.NoError(t, err)

	defer func() { _ = r.Close() }()

	_, err = bucketdb.Recover(r, bucketdb.RecoverOptions{Force: true})
	require.ErrorIs(t, err, bucketdb.ErrReaderRecover)
}

func Test_Reorganize_Reclaims_Space_And_Keeps_Data(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reorg.db")

	db := openTest(t, bucketdb.Options{Path: path})

	for i := range 500 {
		key := fmt.Appendf(nil, "key-%04d", i)
		require.NoError(t, db.Store(key, make([]byte, 200), bucketdb.Insert))
	}

	for i := range 450 {
		require.NoError(t, db.Delete(fmt.Appendf(nil, "key-%04d", i)))
	}

	require.NoError(t, db.Sync())

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, db.Reorganize())

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Less(t, after.Size(), before.Size())

	n, err := db.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(50), n)

	for i := 450; i < 500; i++ {
		v, err := db.Fetch(fmt.Appendf(nil, "key-%04d", i))
		require.NoError(t, err)
		require.Len(t, v, 200)
	}
}

func Test_Reorganized_Database_Is_Usable_For_Further_Writes(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	require.NoError(t, db.Store([]byte("a"), []byte("1"), bucketdb.Insert))
	require.NoError(t, db.Reorganize())
	require.NoError(t, db.Store([]byte("b"), []byte("2"), bucketdb.Insert))

	v, err := db.Fetch([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = db.Fetch([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}
