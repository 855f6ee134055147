package vmm

import (
	"rvos/kernel/mem"
	"rvos/kernel/mem/pmm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// pageTableEntry describes an Sv39 page table entry. Bits 0-7 hold the
// V/R/W/X/U/G/A/D flags and bits 10-53 the physical page number. An all-zero
// entry is invalid.
type pageTableEntry uint64

// IsValid returns true if the entry has the valid bit set.
func (pte pageTableEntry) IsValid() bool {
	return pte.HasFlags(FlagValid)
}

// IsLeaf returns true if the entry is a valid translation rather than a
// pointer to the next table level. Sv39 treats any entry with one of R, W or
// X set as a leaf.
func (pte pageTableEntry) IsLeaf() bool {
	return pte.IsValid() && pte.HasAnyFlag(FlagReadable|FlagWritable|FlagExecutable)
}

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// Flags returns the flag bits of the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) & pteFlagMask)
}

// PPN returns the physical page number stored in the entry.
func (pte pageTableEntry) PPN() uint64 {
	return (uint64(pte) >> ptePPNShift) & ptePPNMask
}

// Frame returns the physical frame that this entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromPPN(pte.PPN())
}

// Address returns the physical address that this entry points to.
func (pte pageTableEntry) Address() uintptr {
	return uintptr(pte.PPN() << mem.PageShift)
}

// Set points the entry at the page containing physAddr and replaces the
// flag bits. The whole word is recomputed so no stale flags survive.
func (pte *pageTableEntry) Set(physAddr uintptr, flags PageTableEntryFlag) {
	pte.SetPPN(uint64(physAddr)>>mem.PageShift, flags)
}

// SetPPN stores ppn and flags into the entry, recomputing the whole word.
func (pte *pageTableEntry) SetPPN(ppn uint64, flags PageTableEntryFlag) {
	*pte = pageTableEntry((ppn&ptePPNMask)<<ptePPNShift | (uint64(flags) & pteFlagMask))
}

// Clear resets the entry to the invalid all-zero pattern.
func (pte *pageTableEntry) Clear() {
	*pte = 0
}
