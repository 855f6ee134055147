// Package device describes the hardware discovered while the kernel boots and
// the drivers that can be attached to it.
package device

// Type classifies a discovered device.
type Type uint8

// The list of supported device types.
const (
	TypeUnknown Type = iota
	TypeUART
	TypeBlock
	TypeGPU
	TypeNetwork
	TypeMemory
	TypeCPU
	TypeInterrupt
	TypeTimer
)

// String implements fmt.Stringer for Type.
func (t Type) String() string {
	switch t {
	case TypeUART:
		return "UART"
	case TypeBlock:
		return "Block Device"
	case TypeGPU:
		return "GPU"
	case TypeNetwork:
		return "Network"
	case TypeMemory:
		return "Memory"
	case TypeCPU:
		return "CPU"
	case TypeInterrupt:
		return "Interrupt Controller"
	case TypeTimer:
		return "Timer"
	default:
		return "Unknown"
	}
}

// Region is a physical memory window occupied by a device.
type Region struct {
	Base uint64
	Size uint64
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Interrupt is an interrupt line assigned to a device.
type Interrupt struct {
	Line  uint32
	Flags uint32
}

// Record describes a single discovered device.
type Record struct {
	// Name is the full path of the device tree node that describes the
	// device, e.g. "/soc/serial@10000000".
	Name string

	Type Type

	// Compatible lists the compatible strings of the node, most specific
	// first.
	Compatible []string

	Regions    []Region
	Interrupts []Interrupt

	// Initialized is set once a driver has been attached to the device.
	Initialized bool
}

// IsCompatible returns true if the record lists compat among its compatible
// strings.
func (r *Record) IsCompatible(compat string) bool {
	for _, c := range r.Compatible {
		if c == compat {
			return true
		}
	}

	return false
}
