//go:build !riscv64

package cpu

import "sync/atomic"

// On non-riscv64 hosts the privileged instructions are simulated so that the
// kernel packages can be unit tested and used by host-side tools.

var (
	satp       atomic.Uint64
	tlbFlushes atomic.Uint64
)

// Halt stops execution of the calling goroutine forever.
func Halt() {
	select {}
}

// WriteSATP stores val in the simulated satp register.
func WriteSATP(val uint64) {
	satp.Store(val)
}

// ReadSATP returns the simulated satp register.
func ReadSATP() uint64 {
	return satp.Load()
}

// FlushTLB records a full translation cache flush.
func FlushTLB() {
	tlbFlushes.Add(1)
}

// FlushTLBEntry records a single-entry translation cache flush.
func FlushTLBEntry(_ uintptr) {
	tlbFlushes.Add(1)
}
