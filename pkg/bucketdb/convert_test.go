// Format conversion tests: standard <-> extended round trips must
// preserve every live pair, and the shrunken master avail table must
// spill rather than lose elements.

package bucketdb_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

func Test_Upgrade_To_NumSync_Preserves_Every_Pair(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})
	require.Equal(t, bucketdb.Standard, db.DBFormat())

	n := 300
	for i := range n {
		require.NoError(t, db.Store(fmt.Appendf(nil, "key-%04d", i), fmt.Appendf(nil, "val-%04d", i), bucketdb.Insert))
	}

	// Churn some deletes so the master avail table has entries to
	// spill when it shrinks.
	for i := 0; i < n; i += 5 {
		require.NoError(t, db.Delete(fmt.Appendf(nil, "key-%04d", i)))
	}

	require.NoError(t, db.Convert(bucketdb.NumSync))
	require.Equal(t, bucketdb.NumSync, db.DBFormat())
	require.NoError(t, db.VerifyAvail())

	for i := range n {
		v, err := db.Fetch(fmt.Appendf(nil, "key-%04d", i))
		if i%5 == 0 {
			require.ErrorIs(t, err, bucketdb.ErrItemNotFound)

			continue
		}

		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "val-%04d", i), v)
	}

	// The extended header now counts syncs.
	require.NoError(t, db.Sync())
	require.Positive(t, db.NumSyncCount())
}

func Test_Converted_Database_Reopens_In_The_New_Format(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/conv.db"

	db := openTest(t, bucketdb.Options{Path: path})
	require.NoError(t, db.Store([]byte("k"), []byte("v"), bucketdb.Insert))
	require.NoError(t, db.Convert(bucketdb.NumSync))
	require.NoError(t, db.Close())

	db2, err := bucketdb.Open(bucketdb.Options{Path: path, Mode: bucketdb.Writer})
	require.NoError(t, err)

	defer func() { _ = db2.Close() }()

	require.Equal(t, bucketdb.NumSync, db2.DBFormat())

	v, err := db2.Fetch([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func Test_Downgrade_To_Standard_Preserves_Every_Pair(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{NumSyncFormat: true})
	require.Equal(t, bucketdb.NumSync, db.DBFormat())

	for i := range 100 {
		require.NoError(t, db.Store(fmt.Appendf(nil, "key-%03d", i), []byte("v"), bucketdb.Insert))
	}

	require.NoError(t, db.Convert(bucketdb.Standard))
	require.Equal(t, bucketdb.Standard, db.DBFormat())
	require.Zero(t, db.NumSyncCount())
	require.NoError(t, db.VerifyAvail())

	for i := range 100 {
		_, err := db.Fetch(fmt.Appendf(nil, "key-%03d", i))
		require.NoError(t, err)
	}
}

func Test_Convert_To_The_Current_Format_Is_A_NoOp(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	require.NoError(t, db.Store([]byte("k"), []byte("v"), bucketdb.Insert))
	require.NoError(t, db.Convert(bucketdb.Standard))
	require.Equal(t, bucketdb.Standard, db.DBFormat())

	v, err := db.Fetch([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
