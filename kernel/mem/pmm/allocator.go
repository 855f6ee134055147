package pmm

import (
	"rvos/kernel"
	"rvos/kernel/mem"
)

var (
	// ErrOutOfFrames is returned by a bounded FrameAllocator once every
	// frame in its pool has been handed out and the free list is empty.
	ErrOutOfFrames = &kernel.Error{Module: "pmm", Message: "out of physical frames"}
)

// FrameAllocator hands out 4KiB physical frames from a contiguous pool. It is
// the allocator the vmm package uses to materialize page tables.
//
// Fresh frames are served by bumping a high-water mark; frames returned via
// FreeFrame are kept in an intrusive singly-linked list where the first
// machine word of each free frame stores the address of the next one. A free
// frame carries no other tag; the allocator's bookkeeping is the only thing
// that tells free and allocated frames apart.
//
// The zero value is not usable; call Init first.
type FrameAllocator struct {
	// next is the physical address of the next never-allocated frame.
	next uintptr

	// limit is the first address past the end of the pool. A zero limit
	// means the pool is unbounded and the bump pointer is never checked.
	limit uintptr

	// freeHead is the address of the first frame in the free list or 0
	// if the list is empty.
	freeHead uintptr

	allocCount, freeCount uint64
}

// Init sets up the allocator to serve frames from the region that starts at
// poolStart and spans poolSize bytes. poolStart is rounded up to the nearest
// page boundary. A poolSize of 0 disables the upper-bound check.
func (alloc *FrameAllocator) Init(poolStart, poolSize uintptr) {
	pageSizeMinus1 := uintptr(mem.PageSize - 1)
	alloc.next = (poolStart + pageSizeMinus1) & ^pageSizeMinus1
	alloc.limit = 0
	if poolSize != 0 {
		alloc.limit = (poolStart + poolSize) & ^pageSizeMinus1
	}
	alloc.freeHead = 0
	alloc.allocCount, alloc.freeCount = 0, 0
}

// AllocFrame reserves a physical frame. Frames on the free list are reused
// before the bump pointer advances. Both paths are O(1).
//
// AllocFrame returns ErrOutOfFrames only for bounded pools.
func (alloc *FrameAllocator) AllocFrame() (Frame, *kernel.Error) {
	if alloc.freeHead != 0 {
		frameAddr := alloc.freeHead
		alloc.freeHead = kernel.ReadWord(frameAddr)
		alloc.freeCount--
		alloc.allocCount++
		return FrameFromAddress(frameAddr), nil
	}

	if alloc.limit != 0 && alloc.next+uintptr(mem.PageSize) > alloc.limit {
		return InvalidFrame, ErrOutOfFrames
	}

	frameAddr := alloc.next
	alloc.next += uintptr(mem.PageSize)
	alloc.allocCount++
	return FrameFromAddress(frameAddr), nil
}

// AllocZeroedFrame behaves like AllocFrame but also clears the frame
// contents. Page tables are always built from zeroed frames so that all their
// entries decode as invalid.
func (alloc *FrameAllocator) AllocZeroedFrame() (Frame, *kernel.Error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return InvalidFrame, err
	}

	kernel.Memset(frame.Address(), 0, uintptr(mem.PageSize))
	return frame, nil
}

// FreeFrame returns a frame to the allocator. The frame's first word is
// overwritten with the free-list link. Freeing a frame twice corrupts the
// list; callers own that contract.
func (alloc *FrameAllocator) FreeFrame(frame Frame) {
	frameAddr := frame.Address()
	kernel.WriteWord(frameAddr, alloc.freeHead)
	alloc.freeHead = frameAddr
	alloc.allocCount--
	alloc.freeCount++
}

// FrameStats describes the allocator state.
type FrameStats struct {
	// Allocated is the number of frames currently handed out.
	Allocated uint64

	// Free is the number of frames waiting on the free list.
	Free uint64

	// HighWaterMark is the address of the next never-allocated frame.
	HighWaterMark uintptr
}

// Stats returns a snapshot of the allocator state.
func (alloc *FrameAllocator) Stats() FrameStats {
	return FrameStats{
		Allocated:     alloc.allocCount,
		Free:          alloc.freeCount,
		HighWaterMark: alloc.next,
	}
}
