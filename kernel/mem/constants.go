package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for riscv64 is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's base page size in bytes.
	PageSize = Size(1 << PageShift)

	// MegaPageShift is equal to log2(MegaPageSize).
	MegaPageShift = 21

	// MegaPageSize is the size of a leaf installed at the middle level of
	// an Sv39 table tree.
	MegaPageSize = Size(1 << MegaPageShift)

	// GigaPageSize is the size of a root-level leaf. It is not used for
	// mappings but is needed to decode entries installed by firmware.
	GigaPageSize = Size(1 << 30)
)
