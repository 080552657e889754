// Package diskio provides the block-device facade shared by sector drivers.
//
// A driver implements SectorDevice (one fixed-size sector per call); Disk
// adds byte-level io.ReaderAt/io.WriterAt access and an optional
// read-through/write-back cache on top of it.
//
// # Cache
//
// The cache slots are allocated and owned by the caller and must outlive the
// Disk:
//
//	slots := make([]diskio.CacheDesc, 4)
//	if err := disk.SetCache(slots); err != nil {
//	    return err
//	}
//	defer disk.Flush()
//
// Misses claim the least recently used slot, writing it back first when it is
// dirty. Flush writes dirty slots in ascending sector order.
package diskio
