package bucketdb_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

func benchDB(b *testing.B, opts bucketdb.Options) *bucketdb.DB {
	b.Helper()

	opts.Path = filepath.Join(b.TempDir(), "bench.db")
	opts.Mode = bucketdb.NewDB

	if opts.BlockSize == 0 {
		opts.BlockSize = 4096
	}

	db, err := bucketdb.Open(opts)
	if err != nil {
		b.Fatal(err)
	}

	b.Cleanup(func() { _ = db.Close() })

	return db
}

func BenchmarkStore(b *testing.B) {
	db := benchDB(b, bucketdb.Options{})
	val := make([]byte, 100)

	b.ResetTimer()

	for i := 0; b.Loop(); i++ {
		if err := db.Store(fmt.Appendf(nil, "key-%09d", i), val, bucketdb.Replace); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFetch(b *testing.B) {
	db := benchDB(b, bucketdb.Options{})
	val := make([]byte, 100)

	const n = 10_000
	for i := range n {
		if err := db.Store(fmt.Appendf(nil, "key-%09d", i), val, bucketdb.Insert); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()

	for i := 0; b.Loop(); i++ {
		if _, err := db.Fetch(fmt.Appendf(nil, "key-%09d", i%n)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFetchNoMmap(b *testing.B) {
	db := benchDB(b, bucketdb.Options{NoMmap: true})
	val := make([]byte, 100)

	const n = 10_000
	for i := range n {
		if err := db.Store(fmt.Appendf(nil, "key-%09d", i), val, bucketdb.Insert); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()

	for i := 0; b.Loop(); i++ {
		if _, err := db.Fetch(fmt.Appendf(nil, "key-%09d", i%n)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSync(b *testing.B) {
	db := benchDB(b, bucketdb.Options{})

	for b.Loop() {
		if err := db.Store([]byte("hot"), []byte("value"), bucketdb.Replace); err != nil {
			b.Fatal(err)
		}

		if err := db.Sync(); err != nil {
			b.Fatal(err)
		}
	}
}
