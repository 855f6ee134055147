package kfmt

import (
	"rvos/kernel"
	"rvos/kernel/cpu"
)

const panicSeparator = "\n-----------------------------------\n"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn  = cpu.Halt
	readSATPFn = cpu.ReadSATP

	// panicking is set once a panic report is being printed. A nested
	// Panic, for instance one raised by a faulting console write, halts
	// without printing.
	panicking bool

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) and the active translation
// mode to the console and parks the hart in a wfi loop. Calls to Panic never
// return. Panic also works as a redirection target for calls to panic()
// (resolved via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	if panicking {
		cpuHaltFn()
		return
	}
	panicking = true

	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf(panicSeparator)
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}

	if satp := readSATPFn(); satp>>cpu.SATPModeShift == cpu.SATPModeSv39 {
		Printf("paging: sv39, root table at 0x%x\n", (satp&cpu.SATPPPNMask)<<12)
	} else {
		Printf("paging: disabled\n")
	}

	Printf("*** kernel panic: system halted ***")
	Printf(panicSeparator)

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}
