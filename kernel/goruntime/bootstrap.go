// Package goruntime binds the Go runtime's low-level memory hooks to the
// kernel heap. The functions tagged with go:redirect-from are patched over
// their runtime counterparts by tools/redirects after linking.
package goruntime

import (
	"rvos/kernel"
	"rvos/kernel/mem"
	"rvos/kernel/mem/heap"
	"unsafe"
)

var (
	allocFn       = heap.Kernel.AllocZeroed
	freeFn        = heap.Kernel.Free
	heapReadyFn   = heap.Kernel.Initialized
	pageAlignment = uintptr(mem.PageSize)

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

// sysAlloc reserves a zeroed, page-aligned region large enough to satisfy
// the allocation request from the kernel heap and returns a pointer to its
// start or nil if the heap cannot serve it.
//
// This function replaces runtime.sysAlloc.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := mem.AlignUp(size, pageAlignment)
	addr := allocFn(regionSize, pageAlignment)
	if addr == 0 {
		return nil
	}

	if sysStat != nil {
		*sysStat += uint64(regionSize)
	}
	return unsafe.Pointer(addr)
}

// sysFree returns a region obtained via sysAlloc to the kernel heap.
//
// This function replaces runtime.sysFree.
//
//go:redirect-from runtime.sysFree
//go:nosplit
func sysFree(v unsafe.Pointer, size uintptr, sysStat *uint64) {
	if v == nil {
		return
	}

	regionSize := mem.AlignUp(size, pageAlignment)
	freeFn(uintptr(v), regionSize, pageAlignment)

	if sysStat != nil {
		*sysStat -= uint64(regionSize)
	}
}

// nanotime returns a monotonically increasing clock value. This is a dummy
// implementation until a timer driver for the CLINT exists.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The runtime reads
// a random stream from /dev/random but since this is not available, we use a
// prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init checks that the kernel heap backing the runtime hooks is available.
// It must be called after the heap has been initialized and before any code
// that allocates through the Go runtime runs.
func Init() *kernel.Error {
	if !heapReadyFn() {
		return heap.ErrNotInitialized
	}

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var stat uint64

	sysFree(sysAlloc(0, &stat), 0, &stat)
	getRandomData(nil)
	stat = nanotime()
	_ = stat
}
