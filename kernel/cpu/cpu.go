// Package cpu exposes the privileged riscv64 instructions used by the kernel.
package cpu

const (
	// SATPModeSv39 is the translation mode tag for 3-level paging.
	SATPModeSv39 = uint64(8)

	// SATPModeShift is the bit position of the mode field in satp.
	SATPModeShift = 60

	// SATPPPNMask extracts the root table PPN from a satp value.
	SATPPPNMask = uint64(1<<44 - 1)
)

// SATPValue builds the satp register value that activates Sv39 translation
// with the root table located at physical page number rootPPN.
func SATPValue(rootPPN uint64) uint64 {
	return SATPModeSv39<<SATPModeShift | (rootPPN & SATPPPNMask)
}
