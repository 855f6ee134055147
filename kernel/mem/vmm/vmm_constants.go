package vmm

const (
	// pageLevels indicates the number of page levels used by Sv39.
	pageLevels = 3

	// entriesPerTable is the number of 64-bit entries in each table.
	entriesPerTable = 512

	// pageLevelBits is the number of virtual address bits consumed by
	// each table level.
	pageLevelBits = 9

	// ptePPNShift is the bit position of the physical page number inside
	// a page table entry.
	ptePPNShift = 10

	// ptePPNMask extracts the 44-bit physical page number once an entry
	// has been shifted right by ptePPNShift.
	ptePPNMask = uint64(1<<44 - 1)

	// pteFlagMask covers the flag bits (V, R, W, X, U, G, A, D) and the
	// two software-reserved bits.
	pteFlagMask = uint64(1<<ptePPNShift - 1)

	// megaPagePPNMask covers the PPN bits that must be zero for a 2MiB
	// leaf.
	megaPagePPNMask = uint64(1<<pageLevelBits - 1)
)

// pageLevelShifts defines the shift required to extract the table index for
// each level from a virtual address. Level 0 is the leaf level for 4KiB pages
// and level 2 is the root.
var pageLevelShifts = [pageLevels]uint8{
	12,
	21,
	30,
}

const (
	// FlagValid is set when the entry holds a valid translation or points
	// to a next-level table.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagReadable is set if the page can be read.
	FlagReadable

	// FlagWritable is set if the page can be written to.
	FlagWritable

	// FlagExecutable is set if instructions can be fetched from this page.
	FlagExecutable

	// FlagUser is set if user-mode code can access this page.
	FlagUser

	// FlagGlobal marks a mapping that exists in all address spaces.
	FlagGlobal

	// FlagAccessed is set when the page has been accessed.
	FlagAccessed

	// FlagDirty is set when the page has been written to.
	FlagDirty
)

// Common flag combinations.
const (
	FlagReadWrite        = FlagValid | FlagReadable | FlagWritable
	FlagReadExecute      = FlagValid | FlagReadable | FlagExecutable
	FlagReadWriteExecute = FlagValid | FlagReadable | FlagWritable | FlagExecutable
)
