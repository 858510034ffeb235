package bucketdb

import (
	"fmt"
)

// The bucket cache is a bounded set of in-memory buckets keyed by file
// offset. A map provides O(1)-expected lookup; a doubly-linked list
// keeps MRU order. The head of the list is the "current" bucket.
//
// Dirty-sequence invariant: every dirty entry sits in a contiguous
// prefix of the MRU list. Lookups that would promote a clean entry to
// the head first flush the dirty prefix; split links its two new dirty
// buckets immediately behind the head. Sync therefore writes exactly
// the prefix and stops at the first clean entry.

// cacheElem is one resident bucket.
type cacheElem struct {
	adr     uint64
	b       *bucket
	changed bool

	prev, next *cacheElem
}

// bucketCache holds the cache bookkeeping. All I/O lives on *DB.
type bucketCache struct {
	index    map[uint64]*cacheElem
	mru, lru *cacheElem

	// num is the resident entry count, size the capacity. In auto mode
	// size doubles on demand up to 2^dir_bits; in fixed mode the LRU
	// entry is evicted instead.
	num  int
	size int
	auto bool
}

// cacheInit prepares the cache before the first bucket is touched.
func (db *DB) cacheInit(size int) {
	auto := size == AutoCacheSize
	if auto {
		size = initialCacheSize
	}

	if size < minCacheSize {
		size = minCacheSize
	}

	db.cache = bucketCache{
		index: make(map[uint64]*cacheElem),
		size:  size,
		auto:  auto,
	}
}

// linkAfter inserts elem after ref in the MRU list; a nil ref links at
// the head.
func (c *bucketCache) linkAfter(elem, ref *cacheElem) {
	if ref == nil {
		elem.prev = nil
		elem.next = c.mru

		if c.mru != nil {
			c.mru.prev = elem
		} else {
			c.lru = elem
		}

		c.mru = elem

		return
	}

	elem.prev = ref
	elem.next = ref.next

	if ref.next != nil {
		ref.next.prev = elem
	} else {
		c.lru = elem
	}

	ref.next = elem
}

// unlink removes elem from the MRU list.
func (c *bucketCache) unlink(elem *cacheElem) {
	if elem.prev != nil {
		elem.prev.next = elem.next
	} else {
		c.mru = elem.next
	}

	if elem.next != nil {
		elem.next.prev = elem.prev
	} else {
		c.lru = elem.prev
	}

	elem.prev = nil
	elem.next = nil
}

// cacheRemove drops elem from the cache entirely.
func (db *DB) cacheRemove(elem *cacheElem) {
	delete(db.cache.index, elem.adr)
	db.cache.unlink(elem)
	db.cache.num--

	if db.current == elem {
		db.current = nil
	}
}

// cacheLookup returns the entry for adr, creating one if absent.
// The entry ends up linked after ref (nil ref = MRU head). For a new
// entry, elem.b is nil and the caller reads or builds the bucket.
func (db *DB) cacheLookup(adr uint64, ref *cacheElem) (elem *cacheElem, found bool, err error) {
	db.cacheAccesses++

	if elem, found = db.cache.index[adr]; found {
		db.cacheHits++
		db.cache.unlink(elem)
	} else {
		if err = db.cacheMakeRoom(); err != nil {
			return nil, false, err
		}

		elem = &cacheElem{adr: adr}
		db.cache.index[adr] = elem
		db.cache.num++
	}

	// Promoting a clean entry to the head would break the dirty-prefix
	// invariant; flush the prefix first.
	if ref == nil && !elem.changed && db.cache.mru != nil && db.cache.mru.changed {
		if err = db.flushDirty(); err != nil {
			return nil, false, err
		}
	}

	db.cache.linkAfter(elem, ref)

	return elem, found, nil
}

// cacheMakeRoom guarantees space for one more entry: auto mode doubles
// the capacity up to 2^dir_bits, fixed mode evicts the LRU entry.
func (db *DB) cacheMakeRoom() error {
	if db.cache.num < db.cache.size {
		return nil
	}

	if db.cache.auto {
		ceiling := 1 << db.hdr.DirBits
		if db.cache.size < ceiling {
			db.cache.size *= 2
			if db.cache.size > ceiling {
				db.cache.size = ceiling
			}

			if db.cache.num < db.cache.size {
				return nil
			}
		}
	}

	return db.evictLRU()
}

// evictLRU writes back and frees the least recently used entry.
func (db *DB) evictLRU() error {
	last := db.cache.lru
	if last == nil {
		return fmt.Errorf("evict on empty cache: %w", ErrBucketCacheCorrupted)
	}

	if last.changed {
		if err := db.writeBucket(last); err != nil {
			return err
		}
	}

	db.cacheRemove(last)

	return nil
}

// flushDirty writes the dirty prefix of the MRU list. The invariant
// guarantees the first clean entry ends the prefix.
func (db *DB) flushDirty() error {
	for elem := db.cache.mru; elem != nil && elem.changed; elem = elem.next {
		if err := db.writeBucket(elem); err != nil {
			return err
		}
	}

	return nil
}

// resize applies a new capacity. AutoCacheSize switches to auto-grow;
// a fixed size below the resident count flushes and evicts LRU entries.
func (c *bucketCache) resize(db *DB, n int) error {
	if n == AutoCacheSize {
		c.auto = true

		if c.size < initialCacheSize {
			c.size = initialCacheSize
		}

		return nil
	}

	c.auto = false
	c.size = n

	if c.size < minCacheSize {
		c.size = minCacheSize
	}

	for c.num > c.size {
		if err := db.evictLRU(); err != nil {
			return err
		}
	}

	return nil
}

// cacheDrop discards every entry without writing. Used on close after
// a final sync, and when rebinding a handle to a rebuilt file.
func (db *DB) cacheDrop() {
	db.cache.index = make(map[uint64]*cacheElem)
	db.cache.mru = nil
	db.cache.lru = nil
	db.cache.num = 0
	db.current = nil
}
