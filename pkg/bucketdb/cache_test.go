// Bucket cache tests: the dirty-prefix discipline, fixed-size
// eviction, auto-grow, and the set-once cache size tunable.

package bucketdb_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

func Test_Dirty_Entries_Form_A_Contiguous_MRU_Prefix(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	require.True(t, db.DebugDirtyPrefixOK())

	for i := range 400 {
		key := fmt.Appendf(nil, "key-%04d", i)
		require.NoError(t, db.Store(key, []byte("v"), bucketdb.Insert))
		require.True(t, db.DebugDirtyPrefixOK(), "prefix broken after store %d", i)

		if i%7 == 0 {
			_, err := db.Fetch(fmt.Appendf(nil, "key-%04d", i/2))
			require.NoError(t, err)
			require.True(t, db.DebugDirtyPrefixOK(), "prefix broken after fetch %d", i)
		}

		if i%13 == 0 {
			require.NoError(t, db.Sync())
			require.True(t, db.DebugDirtyPrefixOK(), "prefix broken after sync %d", i)
		}
	}

	for i := 0; i < 400; i += 3 {
		require.NoError(t, db.Delete(fmt.Appendf(nil, "key-%04d", i)))
		require.True(t, db.DebugDirtyPrefixOK(), "prefix broken after delete %d", i)
	}
}

func Test_Fixed_Cache_Evicts_But_Never_Loses_Data(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{CacheSize: 4})

	// Far more buckets than cache entries: every store and fetch goes
	// through eviction and reread.
	n := 1000
	for i := range n {
		key := fmt.Appendf(nil, "key-%05d", i)
		require.NoError(t, db.Store(key, fmt.Appendf(nil, "val-%05d", i), bucketdb.Insert))
	}

	require.LessOrEqual(t, db.DebugCacheEntries(), 4)

	for i := range n {
		v, err := db.Fetch(fmt.Appendf(nil, "key-%05d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "val-%05d", i), v)
	}
}

func Test_Auto_Cache_Grows_With_Use(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	before := db.CacheSize()

	for i := range 2000 {
		key := fmt.Appendf(nil, "key-%05d", i)
		require.NoError(t, db.Store(key, []byte("v"), bucketdb.Insert))
	}

	require.Greater(t, db.CacheSize(), before)

	stats := db.CacheStats()
	require.Positive(t, stats.Accesses)
	require.Positive(t, stats.Hits)
	require.Equal(t, db.DebugCacheEntries(), stats.Entries)
}

func Test_Cache_Size_Is_Set_Once(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	require.NoError(t, db.SetCacheSize(32))

	err := db.SetCacheSize(64)
	require.ErrorIs(t, err, bucketdb.ErrOptAlreadySet)

	// A size fixed at open counts as set.
	db2 := openTest(t, bucketdb.Options{CacheSize: 8})
	require.ErrorIs(t, db2.SetCacheSize(16), bucketdb.ErrOptAlreadySet)
}

func Test_Shrinking_Cache_Flushes_Evicted_Buckets(t *testing.T) {
	t.Parallel()

	db := openTest(t, bucketdb.Options{})

	for i := range 500 {
		key := fmt.Appendf(nil, "key-%04d", i)
		require.NoError(t, db.Store(key, []byte("v"), bucketdb.Insert))
	}

	require.NoError(t, db.SetCacheSize(4))
	require.LessOrEqual(t, db.DebugCacheEntries(), 4)

	for i := range 500 {
		_, err := db.Fetch(fmt.Appendf(nil, "key-%04d", i))
		require.NoError(t, err)
	}
}
