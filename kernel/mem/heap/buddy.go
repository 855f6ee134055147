// Package heap implements the kernel's general-purpose dynamic memory
// allocator: a buddy system over a single contiguous region and a
// lock-guarded facade that exposes it to the rest of the kernel.
package heap

import (
	"math/bits"
	"rvos/kernel"
	"rvos/kernel/mem"
	"sync/atomic"
)

const (
	// DefaultMinOrder is the order of the smallest block (32 bytes).
	DefaultMinOrder uint8 = 5

	// DefaultMaxOrder is the order of the largest block (32KiB).
	DefaultMaxOrder uint8 = 15

	// maxOrderCount bounds the number of free lists an Allocator can
	// track.
	maxOrderCount = 48
)

var (
	// ErrOutOfMemory is returned when no free block large enough to
	// satisfy a request exists, or when the request exceeds the largest
	// block size.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrNotInitialized is returned by Allocate when invoked before Init.
	ErrNotInitialized = &kernel.Error{Module: "heap", Message: "allocator not initialized"}

	// ErrInvalidOrderRange is returned by Init when MinOrder and MaxOrder
	// do not describe a usable range of block sizes.
	ErrInvalidOrderRange = &kernel.Error{Module: "heap", Message: "invalid block order range"}
)

// Allocator is a buddy-system allocator that manages blocks whose sizes are
// powers of two between 1<<MinOrder and 1<<MaxOrder bytes.
//
// Free blocks are tracked in one intrusive singly-linked list per order: the
// first machine word of a free block stores the address of the next free
// block of the same order. The order of a free block is not stored anywhere;
// it is implied by the list the block is linked into. Every block is aligned
// to its own size, so a block of size S and its buddy differ in exactly the
// address bit S.
//
// Allocated blocks carry no header either: callers must pass Deallocate the
// same size and alignment they passed to Allocate.
type Allocator struct {
	// MinOrder and MaxOrder select the range of block sizes. They must be
	// set before Init; if both are zero the defaults are used.
	MinOrder uint8
	MaxOrder uint8

	regionStart uintptr
	regionEnd   uintptr

	// freeLists[i] is the head of the list for blocks of order
	// MinOrder+i or 0 if the list is empty.
	freeLists [maxOrderCount]uintptr

	ready atomic.Bool
}

// Init carves the region that starts at start and spans size bytes into free
// blocks. start is first aligned up to the minimum block size. The region is
// then split left to right into the largest blocks that both fit in the
// remainder and are aligned to their own size. A tail smaller than the
// minimum block is left unused.
//
// Init only runs once; later calls are no-ops that return nil.
func (a *Allocator) Init(start, size uintptr) *kernel.Error {
	if a.ready.Load() {
		return nil
	}

	if a.MinOrder == 0 && a.MaxOrder == 0 {
		a.MinOrder, a.MaxOrder = DefaultMinOrder, DefaultMaxOrder
	}

	if a.MinOrder < mem.PointerShift || a.MinOrder > a.MaxOrder ||
		int(a.MaxOrder-a.MinOrder) >= maxOrderCount || a.MaxOrder >= bits.UintSize-1 {
		return ErrInvalidOrderRange
	}

	end := start + size
	if end < start {
		end = ^uintptr(0)
	}

	// Address 0 marks the end of a free list and cannot be handed out
	minBlock := uintptr(1) << a.MinOrder
	cur := mem.AlignUp(start, minBlock)
	if cur == 0 {
		cur = minBlock
	}

	a.regionStart, a.regionEnd = cur, cur
	for i := range a.freeLists {
		a.freeLists[i] = 0
	}

	for cur >= start && cur < end && end-cur >= minBlock {
		order := a.MaxOrder
		for ; order > a.MinOrder; order-- {
			blockSize := uintptr(1) << order
			if mem.IsAligned(cur, blockSize) && end-cur >= blockSize {
				break
			}
		}

		a.push(int(order-a.MinOrder), cur)
		cur += uintptr(1) << order
		a.regionEnd = cur
	}

	a.ready.Store(true)
	return nil
}

// Initialized returns true once Init has completed.
func (a *Allocator) Initialized() bool {
	return a.ready.Load()
}

// Allocate reserves a block that can hold size bytes and whose address is a
// multiple of align. The request is rounded up to the next power of two no
// smaller than max(size, align) and the minimum block size. The smallest
// non-empty free list that can serve it is selected; its head block is split
// in halves, returning each upper half to the list one order down, until the
// block has the requested order.
func (a *Allocator) Allocate(size, align uintptr) (uintptr, *kernel.Error) {
	if !a.ready.Load() {
		return 0, ErrNotInitialized
	}

	reqIndex, ok := a.orderIndex(size, align)
	if !ok {
		return 0, ErrOutOfMemory
	}

	index := reqIndex
	for ; index < a.numOrders(); index++ {
		if a.freeLists[index] != 0 {
			break
		}
	}

	if index == a.numOrders() {
		return 0, ErrOutOfMemory
	}

	block := a.pop(index)
	for index > reqIndex {
		index--
		a.push(index, block+a.indexBlockSize(index))
	}

	return block, nil
}

// Deallocate returns a block obtained from Allocate to the allocator. The
// block's order is recomputed from size and align. The block is merged with
// its buddy for as long as the buddy is free, up to the largest order.
//
// Pointers outside the managed region and requests that could never have
// been served are ignored and Deallocate returns false. Passing a layout
// that differs from the one used at allocation time corrupts the free lists.
func (a *Allocator) Deallocate(ptr, size, align uintptr) bool {
	if !a.ready.Load() || ptr < a.regionStart || ptr >= a.regionEnd {
		return false
	}

	index, ok := a.orderIndex(size, align)
	if !ok {
		return false
	}

	for index < a.numOrders()-1 {
		buddy := ptr ^ a.indexBlockSize(index)
		if !a.remove(index, buddy) {
			break
		}

		if buddy < ptr {
			ptr = buddy
		}
		index++
	}

	a.push(index, ptr)
	return true
}

// Region returns the bounds of the area carved into blocks by Init.
func (a *Allocator) Region() (start, end uintptr) {
	return a.regionStart, a.regionEnd
}

// BlockSize returns the size of a block with the given order.
func (a *Allocator) BlockSize(order uint8) mem.Size {
	return mem.Size(1) << order
}

// VisitFreeBlocks invokes visitor for every free block, starting with the
// smallest order and following each list from its head. Returning false
// from visitor stops the iteration.
func (a *Allocator) VisitFreeBlocks(visitor func(order uint8, addr uintptr) bool) {
	if !a.ready.Load() {
		return
	}

	for index := 0; index < a.numOrders(); index++ {
		for block := a.freeLists[index]; block != 0; block = kernel.ReadWord(block) {
			if !visitor(a.MinOrder+uint8(index), block) {
				return
			}
		}
	}
}

// FreeBlocks returns the addresses in the free list for the given order.
func (a *Allocator) FreeBlocks(order uint8) []uintptr {
	var blocks []uintptr
	a.VisitFreeBlocks(func(blockOrder uint8, addr uintptr) bool {
		if blockOrder == order {
			blocks = append(blocks, addr)
		}
		return blockOrder <= order
	})

	return blocks
}

// FreeBytes returns the total size of all free blocks.
func (a *Allocator) FreeBytes() mem.Size {
	var total mem.Size
	a.VisitFreeBlocks(func(order uint8, _ uintptr) bool {
		total += a.BlockSize(order)
		return true
	})

	return total
}

// LargestFreeBlock returns the size of the largest free block or 0 if no
// free blocks exist.
func (a *Allocator) LargestFreeBlock() mem.Size {
	if !a.ready.Load() {
		return 0
	}

	for index := a.numOrders() - 1; index >= 0; index-- {
		if a.freeLists[index] != 0 {
			return a.BlockSize(a.MinOrder + uint8(index))
		}
	}

	return 0
}

// orderIndex maps a (size, align) layout to a free list index. It returns
// false if the rounded size exceeds the largest block.
func (a *Allocator) orderIndex(size, align uintptr) (int, bool) {
	if align > size {
		size = align
	}

	order := a.MinOrder
	if size > uintptr(1)<<a.MinOrder {
		order = uint8(bits.Len(uint(size - 1)))
	}

	if order > a.MaxOrder {
		return 0, false
	}

	return int(order - a.MinOrder), true
}

func (a *Allocator) numOrders() int {
	return int(a.MaxOrder-a.MinOrder) + 1
}

func (a *Allocator) indexBlockSize(index int) uintptr {
	return uintptr(1) << (a.MinOrder + uint8(index))
}

func (a *Allocator) push(index int, block uintptr) {
	kernel.WriteWord(block, a.freeLists[index])
	a.freeLists[index] = block
}

func (a *Allocator) pop(index int) uintptr {
	block := a.freeLists[index]
	a.freeLists[index] = kernel.ReadWord(block)
	return block
}

// remove unlinks block from the list at index. It returns false if the block
// is not in the list.
func (a *Allocator) remove(index int, block uintptr) bool {
	if a.freeLists[index] == block {
		a.pop(index)
		return true
	}

	for prev := a.freeLists[index]; prev != 0; {
		next := kernel.ReadWord(prev)
		if next == block {
			kernel.WriteWord(prev, kernel.ReadWord(block))
			return true
		}
		prev = next
	}

	return false
}
