package fdt

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// blobBuilder assembles device tree blobs for tests.
type blobBuilder struct {
	structBlock bytes.Buffer
	strings     bytes.Buffer
	nameOffsets map[string]uint32
}

func newBlobBuilder() *blobBuilder {
	return &blobBuilder{nameOffsets: make(map[string]uint32)}
}

func (b *blobBuilder) u32(val uint32) *blobBuilder {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], val)
	b.structBlock.Write(buf[:])
	return b
}

func (b *blobBuilder) pad() {
	for b.structBlock.Len()%4 != 0 {
		b.structBlock.WriteByte(0)
	}
}

func (b *blobBuilder) beginNode(name string) *blobBuilder {
	b.u32(uint32(tokenBeginNode))
	b.structBlock.WriteString(name)
	b.structBlock.WriteByte(0)
	b.pad()
	return b
}

func (b *blobBuilder) endNode() *blobBuilder {
	return b.u32(uint32(tokenEndNode))
}

func (b *blobBuilder) nop() *blobBuilder {
	return b.u32(uint32(tokenNop))
}

func (b *blobBuilder) end() *blobBuilder {
	return b.u32(uint32(tokenEnd))
}

func (b *blobBuilder) prop(name string, value []byte) *blobBuilder {
	off, ok := b.nameOffsets[name]
	if !ok {
		off = uint32(b.strings.Len())
		b.nameOffsets[name] = off
		b.strings.WriteString(name)
		b.strings.WriteByte(0)
	}

	b.u32(uint32(tokenProp)).u32(uint32(len(value))).u32(off)
	b.structBlock.Write(value)
	b.pad()
	return b
}

func (b *blobBuilder) propCells(name string, cells ...uint32) *blobBuilder {
	value := make([]byte, 4*len(cells))
	for i, cell := range cells {
		binary.BigEndian.PutUint32(value[i*4:], cell)
	}

	return b.prop(name, value)
}

func (b *blobBuilder) propStrings(name string, list ...string) *blobBuilder {
	var value bytes.Buffer
	for _, s := range list {
		value.WriteString(s)
		value.WriteByte(0)
	}

	return b.prop(name, value.Bytes())
}

// build returns a version 17 blob: header, an empty memory reservation map,
// the structure block and the strings block.
func (b *blobBuilder) build() []byte {
	const rsvmapSize = 16

	var (
		offRsvmap  = uint32(headerSize)
		offStruct  = offRsvmap + rsvmapSize
		offStrings = offStruct + uint32(b.structBlock.Len())
		totalSize  = offStrings + uint32(b.strings.Len())
	)

	blob := make([]byte, totalSize)
	header := []uint32{
		Magic, totalSize, offStruct, offStrings, offRsvmap,
		17, 16, 0, uint32(b.strings.Len()), uint32(b.structBlock.Len()),
	}
	for i, val := range header {
		binary.BigEndian.PutUint32(blob[i*4:], val)
	}

	copy(blob[offStruct:], b.structBlock.Bytes())
	copy(blob[offStrings:], b.strings.Bytes())
	return blob
}

func blobAddr(blob []byte) uintptr {
	return uintptr(unsafe.Pointer(&blob[0]))
}

// virtBlob returns a blob modeled after the tree QEMU generates for the
// riscv64 virt machine.
func virtBlob() []byte {
	b := newBlobBuilder()
	b.beginNode("").
		propCells("#address-cells", 2).
		propCells("#size-cells", 2).
		propStrings("compatible", "riscv-virtio").
		beginNode("memory@80000000").
		propStrings("device_type", "memory").
		propCells("reg", 0, 0x80000000, 0, 0x8000000).
		endNode().
		beginNode("cpus").
		propCells("#address-cells", 1).
		propCells("#size-cells", 0).
		beginNode("cpu@0").
		propStrings("device_type", "cpu").
		propCells("reg", 0).
		propStrings("compatible", "riscv").
		beginNode("interrupt-controller").
		propStrings("compatible", "riscv,cpu-intc").
		endNode().
		endNode().
		beginNode("cpu-map").
		endNode().
		endNode().
		beginNode("soc").
		propCells("#address-cells", 2).
		propCells("#size-cells", 2).
		nop().
		beginNode("serial@10000000").
		propCells("interrupts", 10).
		propCells("reg", 0, 0x10000000, 0, 0x100).
		propStrings("compatible", "ns16550a").
		endNode().
		beginNode("virtio_mmio@10008000").
		propCells("interrupts", 8).
		propCells("reg", 0, 0x10008000, 0, 0x1000).
		propStrings("compatible", "virtio,mmio").
		endNode().
		beginNode("plic@c000000").
		propCells("reg", 0, 0x0c000000, 0, 0x600000).
		propStrings("compatible", "sifive,plic-1.0.0", "riscv,plic0").
		endNode().
		beginNode("clint@2000000").
		propCells("reg", 0, 0x02000000, 0, 0x10000).
		propStrings("compatible", "sifive,clint0", "riscv,clint0").
		endNode().
		endNode().
		endNode().
		end()

	return b.build()
}
