package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mem"
	"rvos/kernel/mem/pmm"
	"testing"
)

func TestMapAlignmentAndPageSize(t *testing.T) {
	as, buf := newTestAddressSpace(t, 4)
	defer func() { _ = buf }()

	specs := []struct {
		virtAddr, physAddr uintptr
		pageSize           mem.Size
		expErr             *kernel.Error
	}{
		{0x1001, 0x2000, mem.PageSize, ErrInvalidAlignment},
		{0x1000, 0x2001, mem.PageSize, ErrInvalidAlignment},
		{0x1000, 0x200000, mem.MegaPageSize, ErrInvalidAlignment},
		{0x200000, 0x1000, mem.MegaPageSize, ErrInvalidAlignment},
		{0x2000, 0x2000, 2 * mem.PageSize, ErrUnsupportedPageSize},
		{0x40000000, 0x40000000, mem.GigaPageSize, ErrUnsupportedPageSize},
		{0, 0, 0, ErrUnsupportedPageSize},
	}

	for specIndex, spec := range specs {
		if err := as.Map(spec.virtAddr, spec.physAddr, spec.pageSize, FlagReadWrite); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	// Rejected requests must not have materialized any tables
	if stats := as.FrameStats(); stats.Allocated != 1 {
		t.Fatalf("expected only the root table to be allocated; got %d frames", stats.Allocated)
	}
}

func TestMapPageTranslate(t *testing.T) {
	as, buf := newTestAddressSpace(t, 16)
	defer func() { _ = buf }()

	specs := []struct {
		virtAddr, physAddr uintptr
	}{
		{0x0, 0x80000000},
		{0x1000, 0x1000},
		{0x10000000, 0x10000000},
		{0x80001000, 0x87654000},
		{0x7ffffff000, 0x3000},
	}

	offsets := []uintptr{0, 1, 0x234, 0x800, 0xfff}

	for specIndex, spec := range specs {
		if err := as.MapPage(spec.virtAddr, spec.physAddr, FlagReadWrite); err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		for _, off := range offsets {
			got, err := as.Translate(spec.virtAddr + off)
			if err != nil {
				t.Errorf("[spec %d] unexpected translate error for offset 0x%x: %v", specIndex, off, err)
				continue
			}

			if exp := spec.physAddr + off; got != exp {
				t.Errorf("[spec %d] expected 0x%x to translate to 0x%x; got 0x%x", specIndex, spec.virtAddr+off, exp, got)
			}
		}
	}
}

func TestMapCreatesTablesOnDemand(t *testing.T) {
	as, buf := newTestAddressSpace(t, 8)
	defer func() { _ = buf }()

	// root + middle + bottom
	if err := as.MapPage(0x80000000, 0x80000000, FlagReadExecute); err != nil {
		t.Fatal(err)
	}
	if got := as.FrameStats().Allocated; got != 3 {
		t.Fatalf("expected 3 allocated frames after first mapping; got %d", got)
	}

	// Same bottom table
	if err := as.MapPage(0x80001000, 0x80001000, FlagReadExecute); err != nil {
		t.Fatal(err)
	}
	if got := as.FrameStats().Allocated; got != 3 {
		t.Fatalf("expected mapping in the same 2MiB region to reuse tables; got %d frames", got)
	}

	// Same middle table, new bottom table
	if err := as.MapPage(0x80200000, 0x80200000, FlagReadExecute); err != nil {
		t.Fatal(err)
	}
	if got := as.FrameStats().Allocated; got != 4 {
		t.Fatalf("expected a new bottom table; got %d frames", got)
	}

	// Intermediate entries only carry the valid flag
	rootEntry := as.root()[2]
	if rootEntry.Flags() != FlagValid || rootEntry.IsLeaf() {
		t.Fatalf("expected root entry to be a valid non-leaf pointer; got flags 0x%x", rootEntry.Flags())
	}

	middle := tablePtrFn(rootEntry.Address())
	if leaf := middle[0]; leaf.IsLeaf() || !leaf.IsValid() {
		t.Fatal("expected middle entry to point to a bottom table")
	}

	bottom := tablePtrFn(middle[0].Address())
	if leaf := bottom[1]; !leaf.IsLeaf() || leaf.Address() != 0x80001000 || !leaf.HasFlags(FlagReadExecute) {
		t.Fatalf("unexpected bottom leaf 0x%x", uint64(leaf))
	}
}

func TestMapMegaPage(t *testing.T) {
	as, buf := newTestAddressSpace(t, 4)
	defer func() { _ = buf }()

	if err := as.Map(0x80000000, 0x80000000, mem.MegaPageSize, FlagReadWriteExecute); err != nil {
		t.Fatal(err)
	}

	// Only the middle table is needed; the bottom level is skipped
	if got := as.FrameStats().Allocated; got != 2 {
		t.Fatalf("expected 2 allocated frames; got %d", got)
	}

	for specIndex, off := range []uintptr{0, 0x1234, 0x1000, 0x1fffff} {
		got, err := as.Translate(0x80000000 + off)
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if exp := 0x80000000 + off; got != exp {
			t.Errorf("[spec %d] expected translation 0x%x; got 0x%x", specIndex, exp, got)
		}
	}

	middle := tablePtrFn(as.root()[2].Address())
	leaf := middle[0]
	if !leaf.IsLeaf() || leaf.PPN()&megaPagePPNMask != 0 {
		t.Fatalf("expected a megapage leaf with the low 9 PPN bits cleared; got 0x%x", uint64(leaf))
	}

	if _, err := as.Translate(0x80200000); err != ErrNotMapped {
		t.Fatalf("expected address past the megapage to be unmapped; got %v", err)
	}
}

func TestMapMegaPageAlwaysSetsValid(t *testing.T) {
	as, buf := newTestAddressSpace(t, 4)
	defer func() { _ = buf }()

	if err := as.Map(0x200000, 0x400000, mem.MegaPageSize, FlagReadable|FlagWritable); err != nil {
		t.Fatal(err)
	}

	got, err := as.Translate(0x200010)
	if err != nil {
		t.Fatal(err)
	}

	if got != 0x400010 {
		t.Fatalf("expected translation 0x400010; got 0x%x", got)
	}
}

func TestMapRejectsNonLeafFlags(t *testing.T) {
	as, buf := newTestAddressSpace(t, 8)
	defer func() { _ = buf }()

	specs := []struct {
		virtAddr, physAddr uintptr
		pageSize           mem.Size
		flags              PageTableEntryFlag
	}{
		{0x1000, 0x2000, mem.PageSize, 0},
		{0x1000, 0x2000, mem.PageSize, FlagUser},
		{0x1000, 0x2000, mem.PageSize, FlagValid | FlagGlobal},
		{0x40000000, 0x200000, mem.MegaPageSize, 0},
		{0x40000000, 0x200000, mem.MegaPageSize, FlagUser},
		{0x40000000, 0x200000, mem.MegaPageSize, FlagGlobal | FlagAccessed | FlagDirty},
	}

	for specIndex, spec := range specs {
		if err := as.Map(spec.virtAddr, spec.physAddr, spec.pageSize, spec.flags); err != ErrInvalidFlags {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, ErrInvalidFlags, err)
		}

		if _, err := as.Translate(spec.virtAddr); err != ErrNotMapped {
			t.Errorf("[spec %d] expected 0x%x to remain unmapped; got %v", specIndex, spec.virtAddr, err)
		}
	}

	if stats := as.FrameStats(); stats.Allocated != 1 {
		t.Fatalf("expected only the root table to be allocated; got %d frames", stats.Allocated)
	}

	// each access bit on its own is enough for a leaf
	for specIndex, flags := range []PageTableEntryFlag{FlagReadable, FlagWritable | FlagReadable, FlagExecutable} {
		virtAddr := uintptr(0x40000000) + uintptr(specIndex)*uintptr(mem.MegaPageSize)
		if err := as.Map(virtAddr, 0x200000, mem.MegaPageSize, flags|FlagUser); err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if got, err := as.Translate(virtAddr + 0x1234); err != nil || got != 0x201234 {
			t.Errorf("[spec %d] expected translation 0x201234; got 0x%x, %v", specIndex, got, err)
		}
	}
}

func TestMapMegaPageReplacesBottomTable(t *testing.T) {
	as, buf := newTestAddressSpace(t, 4)
	defer func() { _ = buf }()

	if err := as.MapPage(0x200000, 0x200000, FlagReadWrite); err != nil {
		t.Fatal(err)
	}

	if err := as.Map(0x200000, 0x600000, mem.MegaPageSize, FlagReadWrite); err != nil {
		t.Fatal(err)
	}

	if stats := as.FrameStats(); stats.Allocated != 2 || stats.Free != 1 {
		t.Fatalf("expected the replaced bottom table to be released; got %+v", stats)
	}

	if got, err := as.Translate(0x200abc); err != nil || got != 0x600abc {
		t.Fatalf("expected translation 0x600abc; got 0x%x, %v", got, err)
	}
}

func TestMapPageInsideMegaPage(t *testing.T) {
	as, buf := newTestAddressSpace(t, 4)
	defer func() { _ = buf }()

	if err := as.Map(0x200000, 0x200000, mem.MegaPageSize, FlagReadWrite); err != nil {
		t.Fatal(err)
	}

	if err := as.MapPage(0x201000, 0x5000, FlagReadWrite); err != ErrHugePageConflict {
		t.Fatalf("expected ErrHugePageConflict; got %v", err)
	}
}

func TestMapFrameExhaustion(t *testing.T) {
	// root + middle only
	as, buf := newTestAddressSpace(t, 2)
	defer func() { _ = buf }()

	if err := as.MapPage(0x1000, 0x1000, FlagReadWrite); err != pmm.ErrOutOfFrames {
		t.Fatalf("expected pmm.ErrOutOfFrames; got %v", err)
	}

	// A megapage needs no bottom table and fits in the remaining pool
	if err := as.Map(0x200000, 0x200000, mem.MegaPageSize, FlagReadWrite); err != nil {
		t.Fatal(err)
	}
}

func TestMapRangeOptimized(t *testing.T) {
	defer func() { mapFn = (*AddressSpace).Map }()

	type mapCall struct {
		virtAddr, physAddr uintptr
		pageSize           mem.Size
	}

	specs := []struct {
		virtStart, virtEnd, physStart uintptr
		expStats                      MapStats
		expFirst, expLast             mapCall
	}{
		{
			// exactly one aligned 2MiB span
			0x80000000, 0x80200000, 0x80000000,
			MapStats{MegaPages: 1},
			mapCall{0x80000000, 0x80000000, mem.MegaPageSize},
			mapCall{0x80000000, 0x80000000, mem.MegaPageSize},
		},
		{
			// leading and trailing 4KiB pages around one 2MiB span
			0x801ff000, 0x80401000, 0x801ff000,
			MapStats{MegaPages: 1, Pages: 2},
			mapCall{0x801ff000, 0x801ff000, mem.PageSize},
			mapCall{0x80400000, 0x80400000, mem.PageSize},
		},
		{
			// physical start not 2MiB-aligned: only 4KiB pages
			0x80000000, 0x80200000, 0x80001000,
			MapStats{Pages: 512},
			mapCall{0x80000000, 0x80001000, mem.PageSize},
			mapCall{0x801ff000, 0x801ff000 + 0x1000, mem.PageSize},
		},
		{
			// less than 2MiB remaining
			0x80000000, 0x801ff000, 0x80000000,
			MapStats{Pages: 511},
			mapCall{0x80000000, 0x80000000, mem.PageSize},
			mapCall{0x801fe000, 0x801fe000, mem.PageSize},
		},
		{
			// unaligned end is covered by a final 4KiB page
			0x80000000, 0x80400800, 0x80000000,
			MapStats{MegaPages: 2, Pages: 1},
			mapCall{0x80000000, 0x80000000, mem.MegaPageSize},
			mapCall{0x80400000, 0x80400000, mem.PageSize},
		},
	}

	for specIndex, spec := range specs {
		var calls []mapCall
		mapFn = func(_ *AddressSpace, virtAddr, physAddr uintptr, pageSize mem.Size, _ PageTableEntryFlag) *kernel.Error {
			calls = append(calls, mapCall{virtAddr, physAddr, pageSize})
			return nil
		}

		var as AddressSpace
		stats, err := as.MapRangeOptimized(spec.virtStart, spec.virtEnd, spec.physStart, FlagReadWriteExecute)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if stats != spec.expStats {
			t.Errorf("[spec %d] expected stats %+v; got %+v", specIndex, spec.expStats, stats)
		}

		if exp := int(spec.expStats.MegaPages + spec.expStats.Pages); len(calls) != exp {
			t.Errorf("[spec %d] expected %d map calls; got %d", specIndex, exp, len(calls))
			continue
		}

		if calls[0] != spec.expFirst {
			t.Errorf("[spec %d] expected first call %+v; got %+v", specIndex, spec.expFirst, calls[0])
		}

		if got := calls[len(calls)-1]; got != spec.expLast {
			t.Errorf("[spec %d] expected last call %+v; got %+v", specIndex, spec.expLast, got)
		}
	}
}

func TestMapRangeOptimizedError(t *testing.T) {
	defer func() { mapFn = (*AddressSpace).Map }()

	expErr := &kernel.Error{Module: "test", Message: "map failed"}
	callCount := 0
	mapFn = func(_ *AddressSpace, _, _ uintptr, _ mem.Size, _ PageTableEntryFlag) *kernel.Error {
		callCount++
		if callCount == 3 {
			return expErr
		}
		return nil
	}

	var as AddressSpace
	stats, err := as.MapRangeOptimized(0x1000, 0x10000, 0x1000, FlagReadWrite)
	if err != expErr {
		t.Fatalf("expected error %v; got %v", expErr, err)
	}

	if stats.Pages != 2 || callCount != 3 {
		t.Fatalf("expected the walk to stop at the failing mapping; got %+v after %d calls", stats, callCount)
	}
}

func TestMapRangeOptimizedTables(t *testing.T) {
	as, buf := newTestAddressSpace(t, 8)
	defer func() { _ = buf }()

	// A 4MiB kernel image starting at the usual load address
	stats, err := as.MapRangeOptimized(0x80000000, 0x80400000, 0x80000000, FlagReadWriteExecute)
	if err != nil {
		t.Fatal(err)
	}

	if stats.MegaPages != 2 || stats.Pages != 0 {
		t.Fatalf("expected 2 megapages; got %+v", stats)
	}

	if got := as.FrameStats().Allocated; got != 2 {
		t.Fatalf("expected root and middle tables only; got %d frames", got)
	}

	for specIndex, virtAddr := range []uintptr{0x80000000, 0x80123456, 0x803fffff} {
		if got, err := as.Translate(virtAddr); err != nil || got != virtAddr {
			t.Errorf("[spec %d] expected identity translation for 0x%x; got 0x%x, %v", specIndex, virtAddr, got, err)
		}
	}
}

func TestIdentityMapRange(t *testing.T) {
	as, buf := newTestAddressSpace(t, 8)
	defer func() { _ = buf }()

	// A 0x100 byte device window rounds out to a single page
	stats, err := as.IdentityMapRange(0x10000000, 0x10000100, FlagReadWrite)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Pages != 1 || stats.MegaPages != 0 {
		t.Fatalf("expected a single 4KiB page; got %+v", stats)
	}

	if got, err := as.Translate(0x100000ff); err != nil || got != 0x100000ff {
		t.Fatalf("expected identity translation; got 0x%x, %v", got, err)
	}
}

func TestUnmap(t *testing.T) {
	as, buf := newTestAddressSpace(t, 8)
	defer func() { _ = buf }()

	t.Run("4KiB page", func(t *testing.T) {
		if err := as.MapPage(0x5000, 0x9000, FlagReadWrite); err != nil {
			t.Fatal(err)
		}

		if err := as.Unmap(0x5000); err != nil {
			t.Fatal(err)
		}

		if _, err := as.Translate(0x5000); err != ErrNotMapped {
			t.Fatalf("expected ErrNotMapped after Unmap; got %v", err)
		}

		if err := as.Unmap(0x5000); err != ErrNotMapped {
			t.Fatalf("expected second Unmap to return ErrNotMapped; got %v", err)
		}

		bottom := tablePtrFn(tablePtrFn(as.root()[0].Address())[0].Address())
		if bottom[5] != 0 {
			t.Fatalf("expected the leaf to be zeroed; got 0x%x", uint64(bottom[5]))
		}
	})

	t.Run("megapage", func(t *testing.T) {
		if err := as.Map(0x40000000, 0x40000000, mem.MegaPageSize, FlagReadWrite); err != nil {
			t.Fatal(err)
		}

		if err := as.Unmap(0x40001000); err != nil {
			t.Fatal(err)
		}

		if _, err := as.Translate(0x40000000); err != ErrNotMapped {
			t.Fatalf("expected ErrNotMapped after Unmap; got %v", err)
		}
	})

	t.Run("never mapped", func(t *testing.T) {
		for specIndex, virtAddr := range []uintptr{0x7f000000000, 0x6000, 0x40200000} {
			if err := as.Unmap(virtAddr); err != ErrNotMapped {
				t.Errorf("[spec %d] expected ErrNotMapped; got %v", specIndex, err)
			}
		}
	})
}
