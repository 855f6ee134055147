package heap

import (
	"rvos/kernel"
	"rvos/kernel/mem"
	"rvos/kernel/sync"
	"sync/atomic"
)

var (
	// Kernel is the allocator instance the boot sequencer initializes
	// over the linker-defined heap region. Code that runs after boot
	// receives it explicitly; the package-level binding exists so the
	// runtime allocation hooks have something to call into.
	Kernel Global

	memsetFn = kernel.Memset
)

// Global serializes access to a buddy Allocator and exposes it through an
// allocation interface that never fails loudly: requests issued before
// Init or that cannot be satisfied return 0.
type Global struct {
	lock  sync.Spinlock
	buddy Allocator
	ready atomic.Bool

	allocCount, freeCount, failCount uint64
}

// Stats is a snapshot of the state of a Global allocator.
type Stats struct {
	// RegionStart and RegionEnd delimit the memory managed by the
	// allocator.
	RegionStart, RegionEnd uintptr

	// FreeBytes is the combined size of all free blocks.
	FreeBytes mem.Size

	// LargestFreeBlock is the size of the largest block that can be
	// allocated without merging.
	LargestFreeBlock mem.Size

	// Allocs, Frees and Failures count the calls to Alloc and Free
	// since Init.
	Allocs, Frees, Failures uint64
}

// Configure selects the block order range used by the underlying buddy
// allocator. It has no effect once Init has been called.
func (g *Global) Configure(minOrder, maxOrder uint8) {
	g.lock.Acquire()
	if !g.ready.Load() {
		g.buddy.MinOrder, g.buddy.MaxOrder = minOrder, maxOrder
	}
	g.lock.Release()
}

// Init sets up the allocator over the region that starts at start and spans
// size bytes. Only the first successful call has any effect.
func (g *Global) Init(start, size uintptr) *kernel.Error {
	g.lock.Acquire()
	defer g.lock.Release()

	if g.ready.Load() {
		return nil
	}

	if err := g.buddy.Init(start, size); err != nil {
		return err
	}

	g.ready.Store(true)
	return nil
}

// Initialized returns true once Init has completed successfully.
func (g *Global) Initialized() bool {
	return g.ready.Load()
}

// Alloc reserves size bytes aligned to align and returns the address of the
// reserved block. It returns 0 if the allocator has not been initialized or
// if the request cannot be satisfied.
func (g *Global) Alloc(size, align uintptr) uintptr {
	if !g.ready.Load() {
		return 0
	}

	g.lock.Acquire()
	addr, err := g.buddy.Allocate(size, align)
	if err != nil {
		g.failCount++
		addr = 0
	} else {
		g.allocCount++
	}
	g.lock.Release()

	return addr
}

// AllocZeroed behaves like Alloc but also clears the returned block.
func (g *Global) AllocZeroed(size, align uintptr) uintptr {
	addr := g.Alloc(size, align)
	if addr != 0 && size != 0 {
		memsetFn(addr, 0, size)
	}

	return addr
}

// Free releases a block returned by Alloc. size and align must match the
// values passed to Alloc. Calls made before Init, with a 0 address or with
// a block the heap does not manage are ignored and not counted in Stats.
func (g *Global) Free(ptr, size, align uintptr) {
	if ptr == 0 || !g.ready.Load() {
		return
	}

	g.lock.Acquire()
	if g.buddy.Deallocate(ptr, size, align) {
		g.freeCount++
	}
	g.lock.Release()
}

// Stats returns a snapshot of the allocator state.
func (g *Global) Stats() Stats {
	g.lock.Acquire()
	defer g.lock.Release()

	start, end := g.buddy.Region()
	return Stats{
		RegionStart:      start,
		RegionEnd:        end,
		FreeBytes:        g.buddy.FreeBytes(),
		LargestFreeBlock: g.buddy.LargestFreeBlock(),
		Allocs:           g.allocCount,
		Frees:            g.freeCount,
		Failures:         g.failCount,
	}
}
