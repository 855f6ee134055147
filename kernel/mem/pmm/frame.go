// Package pmm hands out the physical frames that back page tables.
package pmm

import (
	"math"
	"rvos/kernel/mem"
)

// Frame is a physical page number: a physical address shifted right by
// mem.PageShift. Sv39 page table entries store this value verbatim in their
// PPN field.
type Frame uint64

const (
	// MaxFrame is the highest page number reachable through the 56-bit
	// physical addresses supported by Sv39.
	MaxFrame = Frame(1)<<44 - 1

	// InvalidFrame is returned by FrameAllocator when it fails to reserve
	// a frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if the frame can be encoded in a page table entry.
func (f Frame) Valid() bool {
	return f <= MaxFrame
}

// PPN returns the physical page number of the frame.
func (f Frame) PPN() uint64 {
	return uint64(f)
}

// Address returns the physical address of the first byte in the frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the frame that contains physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// FrameFromPPN returns the frame with the given physical page number or
// InvalidFrame if ppn does not fit in a page table entry.
func FrameFromPPN(ppn uint64) Frame {
	if ppn > uint64(MaxFrame) {
		return InvalidFrame
	}

	return Frame(ppn)
}
