// Package vmm builds and activates the Sv39 virtual address translation
// tables.
package vmm

import (
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/mem/pmm"
	"unsafe"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBFn      = cpu.FlushTLB
	writeSATPFn     = cpu.WriteSATP

	// tablePtrFn returns a pointer to the page table stored at the supplied
	// physical address. Table frames are reachable at their physical
	// address both before translation is enabled and afterwards, as long
	// as the frame pool lives inside an identity-mapped region.
	tablePtrFn = func(tableAddr uintptr) *pageTable {
		return (*pageTable)(unsafe.Pointer(tableAddr))
	}

	// ErrRootNotInitialized is returned by AddressSpace operations invoked
	// before Init.
	ErrRootNotInitialized = &kernel.Error{Module: "vmm", Message: "root page table not initialized"}
)

// pageTable describes one level of the Sv39 translation tree.
type pageTable [entriesPerTable]pageTableEntry

// AddressSpace owns an Sv39 page table tree together with the frame
// allocator used to materialize its tables. Exactly one root table exists
// per address space; every other table is reachable only through a valid
// entry in its parent.
//
// The zero value is an empty address space; Init must be called before any
// other method. Methods invoked before Init return ErrRootNotInitialized.
type AddressSpace struct {
	frames pmm.FrameAllocator

	// rootAddr is the physical address of the root table or 0 if the
	// address space has not been initialized.
	rootAddr uintptr

	active bool
}

// Init sets up the frame allocator over the pool that starts at poolStart
// and spans poolSize bytes (0 for an unbounded pool) and allocates a zeroed
// root table. Calling Init on an initialized address space is a no-op.
func (as *AddressSpace) Init(poolStart, poolSize uintptr) *kernel.Error {
	if as.rootAddr != 0 {
		return nil
	}

	as.frames.Init(poolStart, poolSize)

	rootFrame, err := as.frames.AllocZeroedFrame()
	if err != nil {
		return err
	}

	as.rootAddr = rootFrame.Address()
	return nil
}

// Initialized returns true if the root table has been allocated.
func (as *AddressSpace) Initialized() bool {
	return as.rootAddr != 0
}

// RootFrame returns the physical frame that holds the root table or
// pmm.InvalidFrame if the address space has not been initialized.
func (as *AddressSpace) RootFrame() pmm.Frame {
	if as.rootAddr == 0 {
		return pmm.InvalidFrame
	}

	return pmm.FrameFromAddress(as.rootAddr)
}

// FrameStats returns the state of the frame allocator backing the table tree.
func (as *AddressSpace) FrameStats() pmm.FrameStats {
	return as.frames.Stats()
}

// SATP returns the satp register value that activates this address space.
func (as *AddressSpace) SATP() uint64 {
	return cpu.SATPValue(pmm.FrameFromAddress(as.rootAddr).PPN())
}

// Activate enables hardware translation using this address space and flushes
// all cached translations. Activate is a no-op if the root table has not been
// initialized. There is no way to deactivate an address space.
//
// The caller must ensure that the currently executing code and its stack are
// already mapped; otherwise the next instruction fetch faults.
func (as *AddressSpace) Activate() {
	if as.rootAddr == 0 {
		return
	}

	writeSATPFn(as.SATP())
	flushTLBFn()
	as.active = true
}

// Active returns true once Activate has programmed this address space.
func (as *AddressSpace) Active() bool {
	return as.active
}

// root returns the root table.
func (as *AddressSpace) root() *pageTable {
	return tablePtrFn(as.rootAddr)
}

// tableIndices splits a virtual address into the table index for each level.
// Index 0 (bits 12-20) selects the entry in the leaf table, index 1 (bits
// 21-29) the middle table and index 2 (bits 30-38) the root table.
func tableIndices(virtAddr uintptr) [pageLevels]uintptr {
	var indices [pageLevels]uintptr
	for level := 0; level < pageLevels; level++ {
		indices[level] = (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
	}

	return indices
}

// getOrCreateTable returns the table pointed to by the entry at index in
// parent. If the entry is invalid a zeroed table is allocated and installed
// with only the valid flag set.
func (as *AddressSpace) getOrCreateTable(parent *pageTable, index uintptr) (*pageTable, *kernel.Error) {
	entry := &parent[index]

	if entry.IsLeaf() {
		return nil, ErrHugePageConflict
	}

	if entry.IsValid() {
		return tablePtrFn(entry.Address()), nil
	}

	tableFrame, err := as.frames.AllocZeroedFrame()
	if err != nil {
		return nil, err
	}

	entry.Set(tableFrame.Address(), FlagValid)
	return tablePtrFn(tableFrame.Address()), nil
}

// flushEntry invalidates the cached translation for virtAddr once the
// address space has been activated.
func (as *AddressSpace) flushEntry(virtAddr uintptr) {
	if as.active {
		flushTLBEntryFn(virtAddr)
	}
}
