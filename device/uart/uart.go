// Package uart drives the NS16550A-compatible serial port that serves as the
// kernel console.
package uart

import (
	"io"
	"rvos/device"
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mmio"
)

// Base is the physical address of the first UART on the QEMU virt machine.
const Base = 0x10000000

// Register offsets relative to the UART base address.
const (
	regData       = 0 // transmit holding / receive buffer
	regIntEnable  = 1
	regFIFOCtrl   = 2
	regLineCtrl   = 3
	regLineStatus = 5
)

const (
	lineCtrl8N1    = 0x03
	fifoEnable     = 0x01
	fifoClearRxTx  = 0x06
	lineStatusData = 0x01
)

// Writer implements io.Writer on top of the UART transmit register. Bytes
// are written one at a time without waiting for the transmitter.
type Writer struct {
	base uintptr
	data mmio.Reg8
}

// New returns a Writer for the UART whose registers start at base.
func New(base uintptr) *Writer {
	return &Writer{
		base: base,
		data: mmio.Reg8(base + regData),
	}
}

// Write sends p to the UART.
func (w *Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		w.data.Write(b)
	}

	return len(p), nil
}

// ReadByte returns the next received byte or io.EOF if the receive buffer
// is empty.
func (w *Writer) ReadByte() (byte, error) {
	if mmio.Reg8(w.base+regLineStatus).Read()&lineStatusData == 0 {
		return 0, io.EOF
	}

	return w.data.Read(), nil
}

// DriverName returns the name of this driver.
func (w *Writer) DriverName() string {
	return "ns16550a"
}

// DriverVersion returns the version of this driver.
func (w *Writer) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the UART for 8N1 framing with interrupts disabled and
// FIFOs enabled.
func (w *Writer) DriverInit(out io.Writer) *kernel.Error {
	mmio.Reg8(w.base + regIntEnable).Write(0)
	mmio.Reg8(w.base + regLineCtrl).Write(lineCtrl8N1)
	mmio.Reg8(w.base + regFIFOCtrl).Write(fifoEnable | fifoClearRxTx)

	kfmt.Fprintf(out, "mmio base: 0x%x\n", w.base)
	return nil
}

func probeForUART(rec *device.Record) device.Driver {
	if len(rec.Regions) == 0 {
		return nil
	}

	return New(uintptr(rec.Regions[0].Base))
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order:      device.DetectOrderEarly,
		Compatible: []string{"ns16550a", "ns16550"},
		Type:       device.TypeUART,
		Probe:      probeForUART,
	})
}
