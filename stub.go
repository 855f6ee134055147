package main

import (
	"rvos/device/uart"
	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
	"rvos/kernel/kmain"
)

// The boot assembly stores the linker-provided symbols and the DTB address
// passed by the firmware in a1 into these variables before jumping to main.
var (
	kernelStart, kernelEnd        uintptr
	stackStart, stackEnd          uintptr
	heapStart, heapSize           uintptr
	framePoolStart, framePoolSize uintptr
	dtbPtr                        uintptr
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
func main() {
	// Printf output is sent straight to the UART until the hal installs
	// the driver-backed console.
	kfmt.SetOutputSink(uart.New(uart.Base))

	kmain.Kmain(kmain.Layout{
		KernelStart:    kernelStart,
		KernelEnd:      kernelEnd,
		StackStart:     stackStart,
		StackEnd:       stackEnd,
		HeapStart:      heapStart,
		HeapSize:       heapSize,
		FramePoolStart: framePoolStart,
		FramePoolSize:  framePoolSize,
		DTB:            dtbPtr,
	})

	kfmt.Printf("[kmain] boot complete\n")
	cpu.Halt()
}
