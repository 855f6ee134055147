// Command memviz replays a sequence of allocations and frees against the
// kernel's buddy allocator and renders the resulting heap state as a PNG.
//
// Each image row covers one maximum-order block of the heap region. Free
// blocks are drawn in a color that identifies their order; live allocations
// are drawn in red and the remaining area (split remainders that belong to
// live blocks) is left dark.
package main

import (
	"errors"
	"flag"
	"fmt"
	"math/bits"
	"os"
	"rvos/kernel/mem/heap"
	"strconv"
	"strings"
	"unsafe"

	"github.com/fogleman/gg"
)

const (
	rowHeight    = 24
	rowSpacing   = 4
	margin       = 10
	legendHeight = 16
)

var orderPalette = [][3]float64{
	{0.12, 0.47, 0.71},
	{0.17, 0.63, 0.17},
	{1.00, 0.50, 0.05},
	{0.58, 0.40, 0.74},
	{0.55, 0.34, 0.29},
	{0.89, 0.47, 0.76},
	{0.10, 0.60, 0.85},
	{0.74, 0.74, 0.13},
	{0.09, 0.75, 0.81},
	{0.68, 0.78, 0.91},
	{0.60, 0.87, 0.54},
	{1.00, 0.73, 0.47},
}

type opKind uint8

const (
	opAlloc opKind = iota
	opFree
)

// op is a single replayed heap operation. Alloc ops carry a size and an
// alignment; free ops carry the ordinal of the alloc op whose block they
// release.
type op struct {
	kind  opKind
	size  uintptr
	align uintptr
	index int
}

// allocation records the outcome of an alloc op.
type allocation struct {
	addr, size, align uintptr
	live              bool
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memviz] error: %s\n", err.Error())
	os.Exit(1)
}

// parseOps parses a comma-separated list of "a:SIZE[/ALIGN]" and "f:INDEX"
// operations.
func parseOps(list string) ([]op, error) {
	var ops []op

	for _, tok := range strings.Split(list, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		kind, arg, found := strings.Cut(tok, ":")
		if !found {
			return nil, fmt.Errorf("malformed operation %q", tok)
		}

		switch kind {
		case "a", "alloc":
			sizeArg, alignArg, hasAlign := strings.Cut(arg, "/")
			size, err := strconv.ParseUint(sizeArg, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid allocation size in %q: %w", tok, err)
			}

			align := uint64(1)
			if hasAlign {
				if align, err = strconv.ParseUint(alignArg, 0, 64); err != nil {
					return nil, fmt.Errorf("invalid alignment in %q: %w", tok, err)
				}
			}

			ops = append(ops, op{kind: opAlloc, size: uintptr(size), align: uintptr(align)})
		case "f", "free":
			index, err := strconv.Atoi(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid allocation index in %q: %w", tok, err)
			}

			ops = append(ops, op{kind: opFree, index: index})
		default:
			return nil, fmt.Errorf("unknown operation %q", kind)
		}
	}

	return ops, nil
}

// replay applies ops to alloc and returns one entry per alloc op. Failed
// allocations are recorded with a zero address and are reported to logf.
func replay(alloc *heap.Allocator, ops []op, logf func(string, ...interface{})) ([]allocation, error) {
	var allocs []allocation

	for opIndex, o := range ops {
		switch o.kind {
		case opAlloc:
			addr, err := alloc.Allocate(o.size, o.align)
			if err != nil {
				logf("op %d: allocation of %d bytes failed: %s\n", opIndex, o.size, err.Message)
			}
			allocs = append(allocs, allocation{addr: addr, size: o.size, align: o.align, live: err == nil})
		case opFree:
			if o.index < 0 || o.index >= len(allocs) {
				return nil, fmt.Errorf("op %d: no allocation with index %d", opIndex, o.index)
			}

			a := &allocs[o.index]
			if !a.live {
				return nil, fmt.Errorf("op %d: allocation %d is not live", opIndex, o.index)
			}

			alloc.Deallocate(a.addr, a.size, a.align)
			a.live = false
		}
	}

	return allocs, nil
}

// blockSize returns the size of the block the allocator reserves for a
// request of the given size and alignment.
func blockSize(alloc *heap.Allocator, size, align uintptr) uintptr {
	if align > size {
		size = align
	}

	for order := alloc.MinOrder; order < alloc.MaxOrder; order++ {
		if uintptr(alloc.BlockSize(order)) >= size {
			return uintptr(alloc.BlockSize(order))
		}
	}

	return uintptr(alloc.BlockSize(alloc.MaxOrder))
}

// render draws the heap state into a new image that is width pixels wide.
func render(alloc *heap.Allocator, allocs []allocation, width int) *gg.Context {
	var (
		start, end = alloc.Region()
		rowBytes   = uintptr(alloc.BlockSize(alloc.MaxOrder))
		rows       = int((end - start + rowBytes - 1) / rowBytes)
		orders     = int(alloc.MaxOrder-alloc.MinOrder) + 1
		scale      = float64(width-2*margin) / float64(rowBytes)
		height     = 2*margin + rows*(rowHeight+rowSpacing) + orders*legendHeight
	)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	blockRect := func(addr, size uintptr) (float64, float64, float64, float64) {
		row := int((addr - start) / rowBytes)
		x := float64(margin) + float64((addr-start)%rowBytes)*scale
		y := float64(margin + row*(rowHeight+rowSpacing))
		return x, y, float64(size) * scale, rowHeight
	}

	for row := 0; row < rows; row++ {
		rowStart := start + uintptr(row)*rowBytes
		rowLen := rowBytes
		if end-rowStart < rowLen {
			rowLen = end - rowStart
		}

		dc.SetRGB(0.15, 0.15, 0.15)
		dc.DrawRectangle(blockRect(rowStart, rowLen))
		dc.Fill()
	}

	for _, a := range allocs {
		if !a.live {
			continue
		}

		dc.SetRGB(0.84, 0.15, 0.16)
		dc.DrawRectangle(blockRect(a.addr, blockSize(alloc, a.size, a.align)))
		dc.Fill()
	}

	alloc.VisitFreeBlocks(func(order uint8, addr uintptr) bool {
		c := orderPalette[int(order-alloc.MinOrder)%len(orderPalette)]
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(blockRect(addr, uintptr(alloc.BlockSize(order))))
		dc.FillPreserve()
		dc.SetRGB(1, 1, 1)
		dc.SetLineWidth(1)
		dc.Stroke()
		return true
	})

	legendY := float64(margin + rows*(rowHeight+rowSpacing))
	for order := alloc.MinOrder; order <= alloc.MaxOrder; order++ {
		c := orderPalette[int(order-alloc.MinOrder)%len(orderPalette)]
		y := legendY + float64(int(order-alloc.MinOrder)*legendHeight)

		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(margin, y+2, 12, 12)
		dc.Fill()

		dc.SetRGB(0, 0, 0)
		label := fmt.Sprintf("order %d (%d bytes): %d free", order, alloc.BlockSize(order), len(alloc.FreeBlocks(order)))
		dc.DrawStringAnchored(label, margin+18, y+8, 0, 0.5)
	}

	return dc
}

func run() error {
	var (
		size     = flag.Uint64("size", 64*1024, "size of the heap region in bytes")
		minOrder = flag.Uint("min-order", uint(heap.DefaultMinOrder), "order of the smallest block")
		maxOrder = flag.Uint("max-order", uint(heap.DefaultMaxOrder), "order of the largest block")
		opSpec   = flag.String("ops", "", `comma-separated operations: "a:SIZE[/ALIGN]" allocates and "f:INDEX" frees the INDEX-th allocation`)
		width    = flag.Int("width", 1024, "image width in pixels")
		out      = flag.String("out", "heap.png", "output PNG file")
	)
	flag.Parse()

	if *size == 0 {
		return errors.New("heap size must be greater than zero")
	}

	ops, err := parseOps(*opSpec)
	if err != nil {
		return err
	}

	alloc, buf, err := newAllocator(uintptr(*size), *minOrder, *maxOrder)
	if err != nil {
		return err
	}

	allocs, err := replay(alloc, ops, func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "[memviz] "+format, args...)
	})
	if err != nil {
		return err
	}

	fmt.Printf("[memviz] free: %d bytes, largest free block: %d bytes\n", alloc.FreeBytes(), alloc.LargestFreeBlock())

	err = render(alloc, allocs, *width).SavePNG(*out)

	// the allocator stores its free lists inside buf.
	_ = buf[0]
	return err
}

// newAllocator backs a buddy allocator with orders [minOrder, maxOrder] by a
// Go buffer of size bytes.
func newAllocator(size uintptr, minOrder, maxOrder uint) (*heap.Allocator, []byte, error) {
	for _, o := range []struct {
		name  string
		order uint
	}{{"min-order", minOrder}, {"max-order", maxOrder}} {
		if o.order >= bits.UintSize-1 {
			return nil, nil, fmt.Errorf("%s %d is out of range [0, %d]", o.name, o.order, bits.UintSize-2)
		}
	}

	alloc := &heap.Allocator{MinOrder: uint8(minOrder), MaxOrder: uint8(maxOrder)}

	start, buf := regionBuffer(size, uintptr(1)<<maxOrder)
	if err := alloc.Init(start, size); err != nil {
		return nil, nil, err
	}

	return alloc, buf, nil
}

// regionBuffer returns an address aligned to align backed by a Go buffer of
// at least size bytes. The returned slice keeps the buffer alive.
func regionBuffer(size, align uintptr) (uintptr, []byte) {
	buf := make([]byte, size+align)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	return (addr + align - 1) &^ (align - 1), buf
}

func main() {
	if err := run(); err != nil {
		exit(err)
	}
}
