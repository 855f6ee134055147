package pmm

import (
	"rvos/kernel/mem"
	"testing"
	"unsafe"
)

// framePool returns a page-aligned address backed by a Go buffer that can
// hold frameCount frames. The returned slice keeps the buffer alive.
func framePool(frameCount int) (uintptr, []byte) {
	buf := make([]byte, (frameCount+1)*int(mem.PageSize))
	start := (uintptr(unsafe.Pointer(&buf[0])) + uintptr(mem.PageSize-1)) & ^uintptr(mem.PageSize-1)
	return start, buf
}

func TestFrameAllocatorBump(t *testing.T) {
	poolStart, buf := framePool(4)
	defer func() { _ = buf }()

	var alloc FrameAllocator
	alloc.Init(poolStart, 4*uintptr(mem.PageSize))

	for i := 0; i < 4; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}

		if exp := poolStart + uintptr(i)*uintptr(mem.PageSize); frame.Address() != exp {
			t.Errorf("[alloc %d] expected frame address 0x%x; got 0x%x", i, exp, frame.Address())
		}
	}

	if frame, err := alloc.AllocFrame(); err != ErrOutOfFrames || frame.Valid() {
		t.Fatalf("expected ErrOutOfFrames and an invalid frame; got %v, %v", err, frame)
	}

	if stats := alloc.Stats(); stats.Allocated != 4 || stats.Free != 0 {
		t.Fatalf("expected 4 allocated and 0 free frames; got %+v", stats)
	}
}

func TestFrameAllocatorUnalignedStart(t *testing.T) {
	poolStart, buf := framePool(2)
	defer func() { _ = buf }()

	var alloc FrameAllocator
	alloc.Init(poolStart+1, 0)

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := poolStart + uintptr(mem.PageSize); frame.Address() != exp {
		t.Fatalf("expected pool start to be rounded up to 0x%x; got 0x%x", exp, frame.Address())
	}
}

func TestFrameAllocatorFreeList(t *testing.T) {
	poolStart, buf := framePool(3)
	defer func() { _ = buf }()

	var alloc FrameAllocator
	alloc.Init(poolStart, 3*uintptr(mem.PageSize))

	var frames [3]Frame
	for i := range frames {
		frames[i], _ = alloc.AllocFrame()
	}

	alloc.FreeFrame(frames[0])
	alloc.FreeFrame(frames[2])

	if stats := alloc.Stats(); stats.Allocated != 1 || stats.Free != 2 {
		t.Fatalf("expected 1 allocated and 2 free frames; got %+v", stats)
	}

	// The free list is LIFO
	for specIndex, exp := range []Frame{frames[2], frames[0]} {
		got, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}
		if got != exp {
			t.Errorf("[spec %d] expected to reuse frame %d; got %d", specIndex, exp, got)
		}
	}

	// Free list drained and pool exhausted
	if _, err := alloc.AllocFrame(); err != ErrOutOfFrames {
		t.Fatalf("expected ErrOutOfFrames; got %v", err)
	}
}

func TestFrameAllocatorZeroed(t *testing.T) {
	poolStart, buf := framePool(1)
	defer func() { _ = buf }()

	for i := range buf {
		buf[i] = 0xAA
	}

	var alloc FrameAllocator
	alloc.Init(poolStart, uintptr(mem.PageSize))

	frame, err := alloc.AllocZeroedFrame()
	if err != nil {
		t.Fatal(err)
	}

	contents := unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), mem.PageSize)
	for i, b := range contents {
		if b != 0 {
			t.Fatalf("expected byte %d of zeroed frame to be 0; got 0x%x", i, b)
		}
	}

	if _, err := alloc.AllocZeroedFrame(); err != ErrOutOfFrames {
		t.Fatalf("expected ErrOutOfFrames; got %v", err)
	}
}
