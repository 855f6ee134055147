package fdt

import (
	"encoding/binary"
	"rvos/device"
	"rvos/kernel"
	"sort"
	"strconv"
	"strings"
)

const (
	// default cell counts used when a node does not specify
	// #address-cells or #size-cells for its children.
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// fallbackDevice describes the region and interrupt assigned to a device
// whose node carries no reg or interrupts property. The values match the
// QEMU virt machine.
type fallbackDevice struct {
	region    device.Region
	interrupt *device.Interrupt
}

var fallbackDevices = map[device.Type]fallbackDevice{
	device.TypeUART:      {device.Region{Base: 0x10000000, Size: 0x100}, &device.Interrupt{Line: 10}},
	device.TypeBlock:     {device.Region{Base: 0x10001000, Size: 0x1000}, &device.Interrupt{Line: 1}},
	device.TypeInterrupt: {device.Region{Base: 0x0c000000, Size: 0x4000000}, nil},
	device.TypeTimer:     {device.Region{Base: 0x02000000, Size: 0x10000}, nil},
}

// node tracks the state of a node while its properties and children are
// being parsed.
type node struct {
	name, path string
	seq        int

	// cell counts that apply to the reg properties of this node's
	// children.
	addressCells, sizeCells uint32

	deviceType string
	compatible []string

	reg, interrupts       []byte
	hasReg, hasInterrupts bool
}

type discoveredRecord struct {
	seq int
	rec device.Record
}

// Discover parses the device tree blob at address blob and returns a record
// for every recognized device in the order their nodes appear in the tree.
//
// Nodes are recognized by their unit name (the part before '@'): names
// starting with "uart" or "serial" are UARTs, "virtio" prefixes are block
// devices, and "plic", "clint", "cpu" and "memory" name the interrupt
// controller, the timer, the harts and RAM. A device_type property of "cpu"
// or "memory" is honored as well.
func Discover(blob uintptr) ([]device.Record, *kernel.Error) {
	hdr, err := ReadHeader(blob)
	if err != nil {
		return nil, err
	}

	var (
		w          = newStructWalker(blobData(blob, &hdr), &hdr)
		stack      []*node
		discovered []discoveredRecord
		seq        int
	)

	for {
		tok, name, value, err := w.next()
		if err != nil {
			return nil, err
		}

		switch tok {
		case tokenBeginNode:
			n := &node{
				name:         name,
				seq:          seq,
				addressCells: defaultAddressCells,
				sizeCells:    defaultSizeCells,
			}
			seq++

			switch {
			case len(stack) == 0:
				n.path = "/"
			case len(stack) == 1:
				n.path = "/" + name
			default:
				n.path = stack[len(stack)-1].path + "/" + name
			}
			stack = append(stack, n)
		case tokenProp:
			if len(stack) == 0 {
				return nil, ErrMalformedStructure
			}
			stack[len(stack)-1].setProp(name, value)
		case tokenEndNode:
			if len(stack) == 0 {
				return nil, ErrMalformedStructure
			}

			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			addressCells, sizeCells := uint32(defaultAddressCells), uint32(defaultSizeCells)
			if len(stack) != 0 {
				parent := stack[len(stack)-1]
				addressCells, sizeCells = parent.addressCells, parent.sizeCells
			}

			if rec, ok := n.record(addressCells, sizeCells); ok {
				discovered = append(discovered, discoveredRecord{n.seq, rec})
			}
		case tokenEnd:
			if len(stack) != 0 {
				return nil, ErrMalformedStructure
			}

			sort.SliceStable(discovered, func(i, j int) bool { return discovered[i].seq < discovered[j].seq })

			records := make([]device.Record, 0, len(discovered))
			for _, d := range discovered {
				records = append(records, d.rec)
			}
			return records, nil
		}
	}
}

func (n *node) setProp(name string, value []byte) {
	switch name {
	case "#address-cells":
		if len(value) >= 4 {
			n.addressCells = binary.BigEndian.Uint32(value)
		}
	case "#size-cells":
		if len(value) >= 4 {
			n.sizeCells = binary.BigEndian.Uint32(value)
		}
	case "reg":
		n.reg, n.hasReg = value, true
	case "interrupts":
		n.interrupts, n.hasInterrupts = value, true
	case "compatible":
		n.compatible = splitStringList(value)
	case "device_type":
		if list := splitStringList(value); len(list) != 0 {
			n.deviceType = list[0]
		}
	}
}

// record converts the node into a device record. It returns false if the
// node does not describe a recognized device.
func (n *node) record(addressCells, sizeCells uint32) (device.Record, bool) {
	typ := classify(n.name, n.deviceType)
	if typ == device.TypeUnknown {
		return device.Record{}, false
	}

	rec := device.Record{
		Name:       n.path,
		Type:       typ,
		Compatible: n.compatible,
	}

	fallback, hasFallback := fallbackDevices[typ]

	switch {
	case n.hasReg:
		rec.Regions = decodeReg(n.reg, addressCells, sizeCells)
	case hasFallback:
		region := fallback.region
		if typ == device.TypeBlock {
			if unitAddr, ok := unitAddress(n.name); ok {
				region.Base = unitAddr
			}
		}
		rec.Regions = []device.Region{region}
	}

	switch {
	case n.hasInterrupts:
		for off := 0; off+4 <= len(n.interrupts); off += 4 {
			rec.Interrupts = append(rec.Interrupts, device.Interrupt{
				Line: binary.BigEndian.Uint32(n.interrupts[off:]),
			})
		}
	case hasFallback && fallback.interrupt != nil:
		rec.Interrupts = []device.Interrupt{*fallback.interrupt}
	}

	return rec, true
}

func classify(name, deviceType string) device.Type {
	base := name
	if at := strings.IndexByte(name, '@'); at >= 0 {
		base = name[:at]
	}

	switch {
	case strings.HasPrefix(base, "uart"), strings.HasPrefix(base, "serial"):
		return device.TypeUART
	case strings.HasPrefix(base, "virtio"):
		return device.TypeBlock
	case base == "plic":
		return device.TypeInterrupt
	case base == "clint":
		return device.TypeTimer
	case base == "cpu" || deviceType == "cpu":
		return device.TypeCPU
	case base == "memory" || deviceType == "memory":
		return device.TypeMemory
	}

	return device.TypeUnknown
}

// decodeReg splits a reg property into (address, size) regions. Cells beyond
// the low 64 bits of a value are discarded; trailing bytes that do not form
// a complete entry are ignored.
func decodeReg(reg []byte, addressCells, sizeCells uint32) []device.Region {
	entrySize := int(addressCells+sizeCells) * 4
	if entrySize == 0 {
		return nil
	}

	var regions []device.Region
	for off := 0; off+entrySize <= len(reg); off += entrySize {
		regions = append(regions, device.Region{
			Base: readCells(reg[off:], addressCells),
			Size: readCells(reg[off+int(addressCells)*4:], sizeCells),
		})
	}

	return regions
}

func readCells(data []byte, cells uint32) uint64 {
	var val uint64
	for i := uint32(0); i < cells; i++ {
		val = val<<32 | uint64(binary.BigEndian.Uint32(data[i*4:]))
	}

	return val
}

// unitAddress parses the hex unit address that follows '@' in a node name.
func unitAddress(name string) (uint64, bool) {
	at := strings.LastIndexByte(name, '@')
	if at < 0 {
		return 0, false
	}

	addr, err := strconv.ParseUint(name[at+1:], 16, 64)
	if err != nil {
		return 0, false
	}

	return addr, true
}

// splitStringList splits a property value that holds a list of
// NUL-terminated strings.
func splitStringList(value []byte) []string {
	var list []string
	for start, i := 0, 0; i < len(value); i++ {
		if value[i] != 0 {
			continue
		}

		if i > start {
			list = append(list, string(value[start:i]))
		}
		start = i + 1
	}

	return list
}
