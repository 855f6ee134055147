package vmm

import "rvos/kernel"

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the root table. It calls the supplied walkFn with the entry that
// corresponds to each level. The walk stops after visiting an invalid entry,
// a leaf entry or the level 0 entry, or when walkFn returns false.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		table   = as.root()
		indices = tableIndices(virtAddr)
		pte     *pageTableEntry
	)

	for level := pageLevels - 1; level >= 0; level-- {
		pte = &table[indices[level]]
		if !walkFn(uint8(level), pte) {
			return
		}

		if level == 0 || !pte.IsValid() || pte.IsLeaf() {
			return
		}

		table = tablePtrFn(pte.Address())
	}
}

// leafForAddress returns the leaf entry that translates virtAddr together
// with the level it was found at. ErrNotMapped is returned if any entry along
// the way is invalid.
func (as *AddressSpace) leafForAddress(virtAddr uintptr) (*pageTableEntry, uint8, *kernel.Error) {
	var (
		leaf      *pageTableEntry
		leafLevel uint8
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.IsValid() {
			return false
		}

		if pteLevel == 0 || pte.IsLeaf() {
			leaf, leafLevel = pte, pteLevel
		}

		return true
	})

	if leaf == nil {
		return nil, 0, ErrNotMapped
	}

	return leaf, leafLevel, nil
}
