//go:build riscv64

package cpu

// Halt parks the hart in a wfi loop. It never returns.
func Halt()

// WriteSATP programs the supervisor address translation and protection
// register.
func WriteSATP(val uint64)

// ReadSATP returns the current value of the satp register.
func ReadSATP() uint64

// FlushTLB invalidates all cached address translations (sfence.vma x0, x0).
func FlushTLB()

// FlushTLBEntry invalidates the cached translation for a single virtual
// address (sfence.vma va, x0).
func FlushTLBEntry(virtAddr uintptr)
