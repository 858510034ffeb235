package bucketdb

// alloc returns the file offset of a free region of num bytes.
//
// The search order is: the current bucket's pool, then the master pool
// (popping overflow blocks as it drains), then the file itself by
// advancing the next_block watermark. The file is not physically
// extended here; write-extension and the sync-time truncate take care
// of that.
func (db *DB) alloc(num uint64) (uint64, error) {
	if num == 0 {
		return 0, ErrUsage
	}

	// Current bucket's pool first: keeps bucket-sized churn local.
	if db.current != nil {
		if e, ok := getAvElem(&db.current.b.Avail, num); ok {
			db.current.changed = true
			db.returnRemainder(e, num, &db.current.b.Avail, bucketAvail)

			return e.Adr, nil
		}
	}

	// Master pool, refilling from the overflow chain as needed.
	for {
		if e, ok := getAvElem(&db.avail.Table, num); ok {
			db.headerChanged = true
			db.returnRemainder(e, num, &db.avail.Table, db.avail.Size)

			return e.Adr, nil
		}

		if db.avail.NextBlock == 0 {
			break
		}

		if err := db.popAvailBlock(); err != nil {
			return 0, err
		}
	}

	// Extend the file.
	adr := db.hdr.NextBlock
	db.hdr.NextBlock += num
	db.headerChanged = true

	return adr, nil
}

// returnRemainder gives the unused tail of an allocation back to the
// pool it came from. Fragments below the minimum element size are
// abandoned.
func (db *DB) returnRemainder(e availElem, num uint64, pool *[]availElem, capacity int) {
	if e.Size-num < minAvailSize {
		return
	}

	putAvElem(availElem{Size: e.Size - num, Adr: e.Adr + num}, pool, capacity, false)
}

// free returns the region [adr, adr+size) to a pool. With CentralFree
// the master pool receives it; otherwise the current bucket's pool
// does, spilling its smallest element to the master when full.
// Fragments below the minimum element size are abandoned.
func (db *DB) free(adr, size uint64) error {
	if size < minAvailSize {
		return nil
	}

	e := availElem{Size: size, Adr: adr}

	if db.centralFree || db.current == nil {
		return db.freeToMaster(e)
	}

	b := db.current.b

	if !putAvElem(e, &b.Avail, bucketAvail, db.coalesce) {
		// The bucket pool is full: spill the smallest element into the
		// master, then place e in the freed slot.
		smallest := b.Avail[0]
		copy(b.Avail, b.Avail[1:])
		b.Avail = b.Avail[:len(b.Avail)-1]

		if err := db.freeToMaster(smallest); err != nil {
			return err
		}

		putAvElem(e, &b.Avail, bucketAvail, db.coalesce)
	}

	db.current.changed = true

	return nil
}

// freeToMaster places e in the master pool, pushing an overflow block
// to disk first when the inline table is full.
func (db *DB) freeToMaster(e availElem) error {
	if db.avail.count() >= db.avail.Size {
		if err := db.pushAvailBlock(); err != nil {
			return err
		}
	}

	putAvElem(e, &db.avail.Table, db.avail.Size, db.coalesce)
	db.headerChanged = true

	return nil
}

// pushAvailBlock moves the larger half of the master pool into a fresh
// overflow block chained in front of the existing chain, making room in
// the inline table. Small elements stay inline where allocation finds
// them first.
func (db *DB) pushAvailBlock() error {
	need := uint64(availBlockBytes(db.avail.Size))

	var adr uint64

	if e, ok := getAvElem(&db.avail.Table, need); ok {
		adr = e.Adr
		db.returnRemainder(e, need, &db.avail.Table, db.avail.Size)
	} else {
		adr = db.hdr.NextBlock
		db.hdr.NextBlock += need
	}

	half := db.avail.count() / 2

	blk := &availBlock{
		Size:      db.avail.Size,
		NextBlock: db.avail.NextBlock,
		Table:     append([]availElem(nil), db.avail.Table[half:]...),
	}

	db.avail.Table = db.avail.Table[:half]
	db.avail.NextBlock = adr
	db.headerChanged = true

	if err := db.writeAvailBlock(adr, blk); err != nil {
		return db.fatal(err)
	}

	return nil
}

// popAvailBlock refills the empty master pool from the head of the
// overflow chain, then recycles the block's own storage. Elements are
// merged in with coalescing enabled, which historically could clobber
// the sort order; validation repairs that lazily on the next load.
func (db *DB) popAvailBlock() error {
	adr := db.avail.NextBlock

	blk, err := db.readAvailBlock(adr)
	if err != nil {
		return db.setErr(err)
	}

	db.avail.NextBlock = blk.NextBlock
	db.headerChanged = true

	for _, e := range blk.Table {
		if !putAvElem(e, &db.avail.Table, db.avail.Size, true) {
			// No room inline: hand the element to the current bucket.
			db.putToBucketAvail(e)
		}
	}

	// The block's own storage is free space again.
	self := availElem{Size: uint64(availBlockBytes(blk.Size)), Adr: adr}
	if !putAvElem(self, &db.avail.Table, db.avail.Size, true) {
		db.putToBucketAvail(self)
	}

	return nil
}

// putToBucketAvail best-effort places e in the current bucket's pool.
// With no current bucket or a full pool the element is abandoned; that
// leaks file space but never correctness.
func (db *DB) putToBucketAvail(e availElem) {
	if db.current == nil {
		return
	}

	if putAvElem(e, &db.current.b.Avail, bucketAvail, db.coalesce) {
		db.current.changed = true
	}
}
