// Package hal attaches drivers to the devices found during boot.
package hal

import (
	"bytes"
	"io"
	"rvos/device"
	"rvos/kernel/kfmt"
	"sort"
)

// managedDevices contains the devices managed by the HAL.
type managedDevices struct {
	// activeConsole is the writer that receives kernel output.
	activeConsole io.Writer

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	// setOutputSinkFn is mocked by tests.
	setOutputSinkFn = kfmt.SetOutputSink
)

// ActiveConsole returns the currently active console writer or nil if no
// console driver has been initialized.
func ActiveConsole() io.Writer {
	return devices.activeConsole
}

// ActiveDrivers returns the drivers initialized by DetectHardware.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware matches the registered drivers against the devices tracked
// by mgr and initializes a driver for each device that one of them accepts.
// Drivers are probed by detection priority; each device gets at most one
// driver.
func DetectHardware(mgr *device.Manager) {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Stable(drivers)

	probe(drivers, mgr.Records())
}

// probe executes the probe function of each driver for each matching device
// and invokes onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList, records []device.Record) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		for i := range records {
			rec := &records[i]
			if rec.Initialized || !info.Matches(rec) {
				continue
			}

			drv := info.Probe(rec)
			if drv == nil {
				continue
			}

			strBuf.Reset()
			major, minor, patch := drv.DriverVersion()
			kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
			w.Prefix = strBuf.Bytes()

			if err := drv.DriverInit(&w); err != nil {
				kfmt.Fprintf(&w, "init failed for %s: %s\n", rec.Name, err.Message)
				continue
			}

			kfmt.Fprintf(&w, "initialized %s\n", rec.Name)
			rec.Initialized = true
			onDriverInit(rec, drv)
			devices.activeDrivers = append(devices.activeDrivers, drv)
		}
	}
}

// onDriverInit is invoked by probe() whenever a device driver is successfully
// initialized. The first UART driver that implements io.Writer becomes the
// console and receives all further kfmt output.
func onDriverInit(rec *device.Record, drv device.Driver) {
	if rec.Type != device.TypeUART || devices.activeConsole != nil {
		return
	}

	if cons, ok := drv.(io.Writer); ok {
		devices.activeConsole = cons
		setOutputSinkFn(cons)
	}
}
