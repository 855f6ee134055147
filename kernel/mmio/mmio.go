// Package mmio provides typed accessors for memory-mapped device registers.
//
// Every access goes through the register's address and is never cached or
// merged by the compiler: 32-bit registers use atomic loads and stores which
// also order them with respect to each other, 8-bit registers are accessed
// through non-inlined helpers.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Reg8 is an 8-bit device register.
type Reg8 uintptr

// Read returns the current register value.
func (r Reg8) Read() uint8 {
	return load8(uintptr(r))
}

// Write stores val in the register.
func (r Reg8) Write(val uint8) {
	store8(uintptr(r), val)
}

// Reg32 is a naturally aligned 32-bit device register.
type Reg32 uintptr

// Read returns the current register value.
func (r Reg32) Read() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(uintptr(r))))
}

// Write stores val in the register.
func (r Reg32) Write(val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(uintptr(r))), val)
}

// SetBits sets the bits in mask using a read-modify-write sequence.
func (r Reg32) SetBits(mask uint32) {
	r.Write(r.Read() | mask)
}

// ClearBits clears the bits in mask using a read-modify-write sequence.
func (r Reg32) ClearBits(mask uint32) {
	r.Write(r.Read() &^ mask)
}

//go:noinline
func load8(addr uintptr) uint8 {
	return *(*uint8)(unsafe.Pointer(addr))
}

//go:noinline
func store8(addr uintptr, val uint8) {
	*(*uint8)(unsafe.Pointer(addr)) = val
}
