package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mem"
)

var (
	// ErrInvalidAlignment is returned when the virtual or physical address
	// passed to Map is not a multiple of the requested page size.
	ErrInvalidAlignment = &kernel.Error{Module: "vmm", Message: "address not aligned to page size"}

	// ErrUnsupportedPageSize is returned when Map is invoked with a page
	// size other than 4KiB or 2MiB.
	ErrUnsupportedPageSize = &kernel.Error{Module: "vmm", Message: "unsupported page size"}

	// ErrInvalidFlags is returned when Map is invoked with flags that do
	// not grant any of read, write or execute access. Such an entry would
	// be decoded as a pointer to a next-level table.
	ErrInvalidFlags = &kernel.Error{Module: "vmm", Message: "leaf flags must include read, write or execute"}

	// ErrHugePageConflict is returned when a 4KiB mapping is requested
	// inside a region already covered by a larger leaf.
	ErrHugePageConflict = &kernel.Error{Module: "vmm", Message: "address is covered by a huge page mapping"}

	// mapFn is used by tests to intercept the single mappings issued by
	// MapRangeOptimized.
	mapFn = (*AddressSpace).Map
)

// Map establishes a mapping between the virtual page at virtAddr and the
// physical page at physAddr. pageSize must be mem.PageSize or
// mem.MegaPageSize and both addresses must be multiples of it. Missing
// intermediate tables are allocated on demand. flags must include at least
// one of FlagReadable, FlagWritable or FlagExecutable. The valid flag is
// always set on the installed leaf.
//
// A 4KiB mapping descends through the root and middle levels and writes the
// leaf in the bottom table. A 2MiB mapping descends only to the middle level
// and installs the leaf there, skipping the bottom level entirely. If the
// middle entry pointed to a bottom table, that table's frame is released.
func (as *AddressSpace) Map(virtAddr, physAddr uintptr, pageSize mem.Size, flags PageTableEntryFlag) *kernel.Error {
	if as.rootAddr == 0 {
		return ErrRootNotInitialized
	}

	if pageSize != mem.PageSize && pageSize != mem.MegaPageSize {
		return ErrUnsupportedPageSize
	}

	if !mem.IsAligned(virtAddr, uintptr(pageSize)) || !mem.IsAligned(physAddr, uintptr(pageSize)) {
		return ErrInvalidAlignment
	}

	if !pageTableEntry(flags).HasAnyFlag(FlagReadable | FlagWritable | FlagExecutable) {
		return ErrInvalidFlags
	}

	var (
		indices = tableIndices(virtAddr)
		middle  *pageTable
		err     *kernel.Error
	)

	if middle, err = as.getOrCreateTable(as.root(), indices[2]); err != nil {
		return err
	}

	if pageSize == mem.MegaPageSize {
		entry := &middle[indices[1]]
		if entry.IsValid() && !entry.IsLeaf() {
			as.frames.FreeFrame(entry.Frame())
		}

		megaPPN := (uint64(physAddr) >> mem.PageShift) &^ megaPagePPNMask
		entry.SetPPN(megaPPN, flags|FlagValid)
		as.flushEntry(virtAddr)
		return nil
	}

	bottom, err := as.getOrCreateTable(middle, indices[1])
	if err != nil {
		return err
	}

	bottom[indices[0]].Set(physAddr, flags|FlagValid)
	as.flushEntry(virtAddr)
	return nil
}

// MapPage establishes a 4KiB mapping between virtAddr and physAddr.
func (as *AddressSpace) MapPage(virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	return as.Map(virtAddr, physAddr, mem.PageSize, flags)
}

// MapStats summarizes the mappings installed by MapRangeOptimized.
type MapStats struct {
	// MegaPages is the number of 2MiB leaves installed.
	MegaPages uint64

	// Pages is the number of 4KiB leaves installed.
	Pages uint64
}

// MapRangeOptimized maps the virtual range [virtStart, virtEnd) to the
// physical range starting at physStart using the largest page size possible
// at each step. The range is walked left to right: whenever both current
// addresses are 2MiB-aligned and at least 2MiB remains a 2MiB leaf is
// installed, otherwise a 4KiB leaf. The walk stops at the first mapping
// error, which is returned together with the mappings installed so far.
func (as *AddressSpace) MapRangeOptimized(virtStart, virtEnd, physStart uintptr, flags PageTableEntryFlag) (MapStats, *kernel.Error) {
	var (
		stats    MapStats
		virtAddr = virtStart
		physAddr = physStart
		megaSize = uintptr(mem.MegaPageSize)
		pageSize = uintptr(mem.PageSize)
	)

	for virtAddr < virtEnd {
		if mem.IsAligned(virtAddr, megaSize) && mem.IsAligned(physAddr, megaSize) && virtEnd-virtAddr >= megaSize {
			if err := mapFn(as, virtAddr, physAddr, mem.MegaPageSize, flags); err != nil {
				return stats, err
			}

			stats.MegaPages++
			virtAddr, physAddr = virtAddr+megaSize, physAddr+megaSize
			continue
		}

		if err := mapFn(as, virtAddr, physAddr, mem.PageSize, flags); err != nil {
			return stats, err
		}

		stats.Pages++
		virtAddr, physAddr = virtAddr+pageSize, physAddr+pageSize
	}

	return stats, nil
}

// IdentityMapRange identity-maps the physical region [start, end) after
// rounding start down and end up to the nearest page boundary.
func (as *AddressSpace) IdentityMapRange(start, end uintptr, flags PageTableEntryFlag) (MapStats, *kernel.Error) {
	start = mem.AlignDown(start, uintptr(mem.PageSize))
	end = mem.AlignUp(end, uintptr(mem.PageSize))
	return as.MapRangeOptimized(start, end, start, flags)
}

// Unmap removes the leaf that translates virtAddr by zeroing it. For
// addresses covered by a 2MiB leaf the whole 2MiB mapping is removed.
// ErrNotMapped is returned if no leaf exists for virtAddr.
func (as *AddressSpace) Unmap(virtAddr uintptr) *kernel.Error {
	if as.rootAddr == 0 {
		return ErrRootNotInitialized
	}

	leaf, _, err := as.leafForAddress(virtAddr)
	if err != nil {
		return err
	}

	leaf.Clear()
	as.flushEntry(virtAddr)
	return nil
}
