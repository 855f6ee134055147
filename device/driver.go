package device

import (
	"io"
	"rvos/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that inspects a discovered device and returns a
// driver for it, or nil if the driver cannot handle the device.
type ProbeFn func(rec *Record) Driver

// DetectOrder specifies when a driver is probed relative to the others.
type DetectOrder int8

const (
	// DetectOrderEarly is used for drivers that provide the console and
	// must be attached before anything else logs.
	DetectOrderEarly DetectOrder = -64

	// DetectOrderNormal is the default probe order.
	DetectOrderNormal DetectOrder = 0

	// DetectOrderLast is used for drivers that depend on other devices.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is used by drivers to register themselves.
type DriverInfo struct {
	// Order controls when the driver is probed.
	Order DetectOrder

	// Compatible lists the device tree compatible strings handled by the
	// driver.
	Compatible []string

	// Type is used to match devices that list none of the compatible
	// strings. TypeUnknown disables type matching.
	Type Type

	// Probe returns a driver instance for a matched device.
	Probe ProbeFn
}

// Matches returns true if the driver can be probed for rec.
func (info *DriverInfo) Matches(rec *Record) bool {
	for _, compat := range info.Compatible {
		if rec.IsCompatible(compat) {
			return true
		}
	}

	return info.Type != TypeUnknown && info.Type == rec.Type
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var (
	// registeredDrivers tracks the drivers registered via RegisterDriver.
	registeredDrivers DriverInfoList
)

// RegisterDriver adds the supplied driver info to the list of drivers that
// are matched against discovered devices. Drivers call it from their init
// function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
