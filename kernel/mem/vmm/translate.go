package vmm

import "rvos/kernel"

var (
	// ErrNotMapped is returned when trying to translate or unmap a virtual
	// address that is not mapped.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrNotMapped if any level of the walk, including the
// leaf, is invalid. Leaves found above the bottom level contribute a
// correspondingly larger page offset.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	if as.rootAddr == 0 {
		return 0, ErrRootNotInitialized
	}

	leaf, level, err := as.leafForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	offsetMask := uintptr(1)<<pageLevelShifts[level] - 1
	return (leaf.Address() &^ offsetMask) | (virtAddr & offsetMask), nil
}

// PageOffset returns the offset within the 4KiB page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (uintptr(1)<<pageLevelShifts[0] - 1)
}
