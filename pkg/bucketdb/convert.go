package bucketdb

import (
	"fmt"
)

// Convert rewrites the header in the given format. Converting to
// [NumSync] shrinks the inline master avail table by the extra header
// fields; elements that no longer fit are spilled into the current
// bucket's pool (or pushed to an overflow block), never dropped.
// Converting back to [Standard] regrows the table. Every live
// key/value pair is preserved either way. The change is synced before
// Convert returns.
func (db *DB) Convert(f Format) error {
	if err := db.writable(ErrReaderStore); err != nil {
		return err
	}

	switch f {
	case Standard:
		if !db.hdr.extended() {
			return nil
		}

		db.hdr.Magic = magicStandard
		db.hdr.Version = 0
		db.hdr.NumSync = 0
		db.avail.Size = availCapacity(stdHeaderSize, int(db.hdr.BlockSize))

	case NumSync:
		if db.hdr.extended() {
			return nil
		}

		newCap := availCapacity(extHeaderSize, int(db.hdr.BlockSize))

		// Pull out the elements that no longer fit before shrinking the
		// capacity, largest first so allocation locality favors the
		// small inline survivors.
		var spill []availElem

		for db.avail.count() > newCap {
			n := db.avail.count()
			spill = append(spill, db.avail.Table[n-1])
			db.avail.Table = db.avail.Table[:n-1]
		}

		db.hdr.Magic = magicNumSync
		db.hdr.Version = numSyncVersion
		db.hdr.NumSync = 0
		db.avail.Size = newCap

		for _, e := range spill {
			if db.current != nil && putAvElem(e, &db.current.b.Avail, bucketAvail, db.coalesce) {
				db.current.changed = true

				continue
			}

			if err := db.freeToMaster(e); err != nil {
				return err
			}
		}

	default:
		return db.setErr(fmt.Errorf("unknown format %d: %w", int(f), ErrOptBadVal))
	}

	db.headerChanged = true

	return db.syncInternal()
}

// DBFormat reports the current header format.
func (db *DB) DBFormat() Format {
	if db.hdr != nil && db.hdr.extended() {
		return NumSync
	}

	return Standard
}

// NumSyncCount returns the extended header's sync counter; zero for
// the standard format.
func (db *DB) NumSyncCount() uint32 {
	if db.hdr == nil || !db.hdr.extended() {
		return 0
	}

	return db.hdr.NumSync
}
