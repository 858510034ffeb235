// Property-based tests of the engine's core laws: round-trips,
// delete-then-absent, and probe-chain survival under arbitrary
// insert/delete interleavings. These properties must hold for any
// input the generators produce.

package bucketdb_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

// newPropertyTestDB opens a tiny-block database so the generated
// workloads exercise splits and chains, not just one bucket.
func newPropertyTestDB(t *testing.T) *bucketdb.DB {
	t.Helper()

	db, err := bucketdb.Open(bucketdb.Options{
		Path:      filepath.Join(t.TempDir(), "prop.db"),
		Mode:      bucketdb.NewDB,
		BlockSize: 512,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func Test_Engine_Properties(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based tests in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(1)

	properties := gopter.NewProperties(parameters)

	keyGen := gen.SliceOfN(8, gen.UInt8()).SuchThat(func(k []uint8) bool { return len(k) > 0 })
	valGen := gen.SliceOf(gen.UInt8())

	// Storing then fetching returns the value byte for byte.
	properties.Property("store then fetch round-trips", prop.ForAll(
		func(key, val []byte) bool {
			db := newPropertyTestDB(t)

			if err := db.Store(key, val, bucketdb.Replace); err != nil {
				return false
			}

			got, err := db.Fetch(key)

			return err == nil && bytes.Equal(got, val)
		},
		keyGen,
		valGen,
	))

	// Deleting a stored key leaves no trace.
	properties.Property("store then delete leaves key absent", prop.ForAll(
		func(key, val []byte) bool {
			db := newPropertyTestDB(t)

			if err := db.Store(key, val, bucketdb.Replace); err != nil {
				return false
			}

			if err := db.Delete(key); err != nil {
				return false
			}

			ok, err := db.Exists(key)

			return err == nil && !ok
		},
		keyGen,
		valGen,
	))

	// Any interleaving of inserts and deletes leaves every surviving
	// key reachable and every count consistent: the probe chains and
	// the directory never lose a slot.
	properties.Property("insert/delete interleavings keep survivors reachable", prop.ForAll(
		func(keys [][]byte, deleteMask []bool) bool {
			db := newPropertyTestDB(t)
			model := make(map[string]bool)

			for _, k := range keys {
				if len(k) == 0 {
					continue
				}

				if err := db.Store(k, k, bucketdb.Replace); err != nil {
					return false
				}

				model[string(k)] = true
			}

			for i, k := range keys {
				if len(k) == 0 || i >= len(deleteMask) || !deleteMask[i] {
					continue
				}

				if !model[string(k)] {
					continue
				}

				if err := db.Delete(k); err != nil {
					return false
				}

				model[string(k)] = false
			}

			count, err := db.Count()
			if err != nil {
				return false
			}

			live := uint64(0)

			for k, alive := range model {
				got, err := db.Exists([]byte(k))
				if err != nil || got != alive {
					return false
				}

				if alive {
					live++
				}
			}

			return count == live && db.DebugDirtyPrefixOK()
		},
		gen.SliceOf(gen.SliceOfN(6, gen.UInt8())),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
