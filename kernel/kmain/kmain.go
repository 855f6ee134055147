// Package kmain sequences the boot-time initialization of the memory
// subsystem and device discovery.
package kmain

import (
	"io"
	"rvos/device"
	"rvos/device/fdt"
	"rvos/device/uart"
	"rvos/kernel"
	"rvos/kernel/goruntime"
	"rvos/kernel/hal"
	"rvos/kernel/kfmt"
	"rvos/kernel/mem"
	"rvos/kernel/mem/heap"
	"rvos/kernel/mem/vmm"
)

const smokeTestSize = 64

var (
	// the following functions are mocked by tests.
	panicFn          = kfmt.Panic
	discoverFn       = fdt.Discover
	readHeaderFn     = fdt.ReadHeader
	goruntimeInitFn  = goruntime.Init
	detectHardwareFn = hal.DetectHardware
	activateFn       = (*vmm.AddressSpace).Activate

	errSmokeTestFailed = &kernel.Error{Module: "kmain", Message: "heap smoke allocation failed"}
)

// Layout describes the physical memory map of the booted image. The values
// are provided by the linker script and the firmware: the DTB address
// arrives in a1 at entry.
type Layout struct {
	KernelStart, KernelEnd uintptr
	StackStart, StackEnd   uintptr

	HeapStart uintptr
	HeapSize  uintptr

	// FramePoolStart and FramePoolSize bound the frames handed out for page
	// tables. A zero size leaves the pool unbounded.
	FramePoolStart uintptr
	FramePoolSize  uintptr

	DTB uintptr
}

// Kernel bundles the subsystems brought up by Kmain.
type Kernel struct {
	AddressSpace *vmm.AddressSpace
	Heap         *heap.Global
	Devices      *device.Manager
}

// Kmain is invoked by the boot stub once a stack is available and the bss
// has been cleared. It brings up paging, the kernel heap, the Go runtime
// allocation hooks and the device tree in that order.
//
// Kmain is not expected to return. If it does, the stub halts the hart.
//
//go:noinline
func Kmain(layout Layout) Kernel {
	return boot(layout, &heap.Kernel)
}

func boot(layout Layout, h *heap.Global) Kernel {
	var (
		kern = Kernel{
			AddressSpace: &vmm.AddressSpace{},
			Heap:         h,
			Devices:      &device.Manager{Log: &kfmt.PrefixWriter{Prefix: []byte("[fdt] ")}},
		}
		logw  = &kfmt.PrefixWriter{Prefix: []byte("[kmain] ")}
		vmmw  = &kfmt.PrefixWriter{Prefix: []byte("[vmm] ")}
		heapw = &kfmt.PrefixWriter{Prefix: []byte("[heap] ")}
	)

	printMemoryLayout(logw, &layout)

	if err := kern.AddressSpace.Init(layout.FramePoolStart, layout.FramePoolSize); err != nil {
		panicFn(err)
		return kern
	}

	mapBootRegions(vmmw, kern.AddressSpace, &layout)
	activateFn(kern.AddressSpace)
	kfmt.Fprintf(vmmw, "paging enabled (satp: 0x%16x)\n", kern.AddressSpace.SATP())

	if err := h.Init(layout.HeapStart, layout.HeapSize); err != nil {
		panicFn(err)
		return kern
	}
	kfmt.Fprintf(heapw, "initialized [0x%x - 0x%x]\n", layout.HeapStart, layout.HeapStart+layout.HeapSize)

	if err := goruntimeInitFn(); err != nil {
		panicFn(err)
		return kern
	}

	if err := smokeTest(h); err != nil {
		kfmt.Fprintf(heapw, "smoke test failed: %s\n", err.Message)
	} else {
		kfmt.Fprintf(heapw, "smoke test passed\n")
	}

	records, err := discoverFn(layout.DTB)
	if err != nil {
		panicFn(err)
		return kern
	}

	for i := range records {
		mapDeviceRegions(vmmw, kern.AddressSpace, &records[i])
		kern.Devices.Add(records[i])
	}

	detectHardwareFn(kern.Devices)
	return kern
}

// printMemoryLayout logs the boundaries of every region in the layout.
func printMemoryLayout(w io.Writer, layout *Layout) {
	kfmt.Fprintf(w, "memory layout:\n")
	kfmt.Fprintf(w, "  kernel: 0x%16x - 0x%16x (%d bytes)\n", layout.KernelStart, layout.KernelEnd, mem.Size(layout.KernelEnd-layout.KernelStart))
	kfmt.Fprintf(w, "  stack:  0x%16x - 0x%16x (%d bytes)\n", layout.StackStart, layout.StackEnd, mem.Size(layout.StackEnd-layout.StackStart))
	kfmt.Fprintf(w, "  heap:   0x%16x - 0x%16x (%d bytes)\n", layout.HeapStart, layout.HeapStart+layout.HeapSize, mem.Size(layout.HeapSize))
	kfmt.Fprintf(w, "  frames: 0x%16x - 0x%16x (%d bytes)\n", layout.FramePoolStart, layout.FramePoolStart+layout.FramePoolSize, mem.Size(layout.FramePoolSize))
	kfmt.Fprintf(w, "  dtb:    0x%16x\n", layout.DTB)
}

// mapBootRegions installs every mapping that must exist before translation is
// enabled: the page-rounded kernel image, the UART page used by the console and any boot
// region that lies outside the kernel image. Failures are logged and the
// remaining regions are still mapped.
func mapBootRegions(w io.Writer, as *vmm.AddressSpace, layout *Layout) {
	if layout.KernelEnd > layout.KernelStart {
		stats, err := as.IdentityMapRange(layout.KernelStart, layout.KernelEnd, vmm.FlagReadWriteExecute)
		logMapResult(w, "kernel", layout.KernelStart, layout.KernelEnd, stats, err)
	}

	if err := as.MapPage(uart.Base, uart.Base, vmm.FlagReadWrite); err != nil {
		kfmt.Fprintf(w, "failed to map uart: %s\n", err.Message)
	}

	mapOutsideKernel(w, as, layout, "stack", layout.StackStart, layout.StackEnd)
	mapOutsideKernel(w, as, layout, "heap", layout.HeapStart, layout.HeapStart+layout.HeapSize)
	if layout.FramePoolSize != 0 {
		mapOutsideKernel(w, as, layout, "frames", layout.FramePoolStart, layout.FramePoolStart+layout.FramePoolSize)
	}

	if layout.DTB != 0 {
		// An invalid blob is reported by discovery once paging is enabled.
		if hdr, err := readHeaderFn(layout.DTB); err == nil {
			mapOutsideKernel(w, as, layout, "dtb", layout.DTB, layout.DTB+uintptr(hdr.TotalSize))
		}
	}
}

// mapOutsideKernel identity-maps the parts of [start, end) that are not
// covered by the kernel image mapping.
func mapOutsideKernel(w io.Writer, as *vmm.AddressSpace, layout *Layout, name string, start, end uintptr) {
	if end <= start {
		return
	}

	kernelStart := mem.AlignDown(layout.KernelStart, uintptr(mem.PageSize))
	kernelEnd := mem.AlignUp(layout.KernelEnd, uintptr(mem.PageSize))
	if layout.KernelEnd <= layout.KernelStart {
		kernelStart, kernelEnd = 0, 0
	}

	if start < kernelStart {
		segEnd := end
		if segEnd > kernelStart {
			segEnd = kernelStart
		}
		stats, err := as.IdentityMapRange(start, segEnd, vmm.FlagReadWrite)
		logMapResult(w, name, start, segEnd, stats, err)
	}

	if end > kernelEnd {
		segStart := start
		if segStart < kernelEnd {
			segStart = kernelEnd
		}
		stats, err := as.IdentityMapRange(segStart, end, vmm.FlagReadWrite)
		logMapResult(w, name, segStart, end, stats, err)
	}
}

// mapDeviceRegions identity-maps the MMIO regions of rec that are not mapped
// yet. Memory and CPU records are skipped: their regions describe RAM and
// hart IDs respectively.
func mapDeviceRegions(w io.Writer, as *vmm.AddressSpace, rec *device.Record) {
	if rec.Type == device.TypeMemory || rec.Type == device.TypeCPU {
		return
	}

	for _, region := range rec.Regions {
		if region.Size == 0 {
			continue
		}

		if _, err := as.Translate(uintptr(region.Base)); err == nil {
			continue
		}

		start, end := uintptr(region.Base), uintptr(region.End())
		stats, err := as.IdentityMapRange(start, end, vmm.FlagReadWrite)
		logMapResult(w, rec.Name, start, end, stats, err)
	}
}

func logMapResult(w io.Writer, name string, start, end uintptr, stats vmm.MapStats, err *kernel.Error) {
	if err != nil {
		kfmt.Fprintf(w, "failed to map %s [0x%x - 0x%x]: %s\n", name, start, end, err.Message)
		return
	}

	kfmt.Fprintf(w, "mapped %s [0x%x - 0x%x] (2M: %d, 4K: %d)\n", name, start, end, stats.MegaPages, stats.Pages)
}

// smokeTest performs a single allocation, writes through it and returns the
// block to the heap.
func smokeTest(h *heap.Global) *kernel.Error {
	addr := h.AllocZeroed(smokeTestSize, 8)
	if addr == 0 {
		return errSmokeTestFailed
	}

	kernel.Memset(addr, 0xa5, smokeTestSize)
	h.Free(addr, smokeTestSize, 8)
	return nil
}
