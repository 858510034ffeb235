package bucketdb

// hashKey computes the 31-bit hash of key. The constants are
// format-defining: every database carries slots placed by this exact
// function, so it can never change.
func hashKey(key []byte) int32 {
	value := uint32(0x238F13AF) * uint32(len(key))

	for i, b := range key {
		value = (value + uint32(b)<<(uint(i)*5%24)) & 0x7FFFFFFF
	}

	value = (1103515243*value + 12345) & 0x7FFFFFFF

	return int32(value)
}

// bucketDirIndex maps a hash to its directory index: the top DirBits bits
// of the 31-bit hash.
func (db *DB) bucketDirIndex(hash int32) int {
	return int(uint32(hash) >> (hashBits - db.hdr.DirBits))
}

// hashPlacement returns the hash, directory index, and home slot for a
// key in one step.
func (db *DB) hashPlacement(key []byte) (hash int32, dirIndex, homeSlot int) {
	hash = hashKey(key)

	return hash, db.bucketDirIndex(hash), int(hash) % int(db.hdr.BucketElems)
}
