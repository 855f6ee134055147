// Package fdt locates devices by parsing the flattened device tree blob that
// the firmware passes to the kernel at boot time.
package fdt

import (
	"encoding/binary"
	"rvos/kernel"
	"unsafe"
)

const (
	// Magic is the value stored in the first word of every device tree blob.
	Magic = 0xd00dfeed

	// headerSize is the size of the version 17 header.
	headerSize = 40

	// minVersion is the oldest blob version whose layout is understood.
	minVersion = 16

	// maxCompatVersion is the newest version this parser is compatible with.
	maxCompatVersion = 17
)

var (
	// ErrMissingBlob is returned when no device tree blob address was
	// passed to the kernel.
	ErrMissingBlob = &kernel.Error{Module: "fdt", Message: "no device tree blob provided"}

	// ErrBadMagic is returned when the blob does not start with Magic.
	ErrBadMagic = &kernel.Error{Module: "fdt", Message: "invalid device tree magic"}

	// ErrUnsupportedVersion is returned for blobs that are not backwards
	// compatible with version 17.
	ErrUnsupportedVersion = &kernel.Error{Module: "fdt", Message: "unsupported device tree version"}

	// ErrMalformedStructure is returned when the header offsets or the
	// token stream are inconsistent.
	ErrMalformedStructure = &kernel.Error{Module: "fdt", Message: "malformed device tree structure"}
)

// Header contains the fields of the blob header. All values are converted to
// host byte order.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffStruct       uint32
	OffStrings      uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUID       uint32
	SizeStrings     uint32
	SizeStruct      uint32
}

// ReadHeader decodes and validates the header of the blob at address blob.
func ReadHeader(blob uintptr) (Header, *kernel.Error) {
	var hdr Header

	if blob == 0 {
		return hdr, ErrMissingBlob
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(blob)), headerSize)
	fields := []*uint32{
		&hdr.Magic, &hdr.TotalSize, &hdr.OffStruct, &hdr.OffStrings, &hdr.OffMemRsvmap,
		&hdr.Version, &hdr.LastCompVersion, &hdr.BootCPUID, &hdr.SizeStrings, &hdr.SizeStruct,
	}
	for i, field := range fields {
		*field = binary.BigEndian.Uint32(raw[i*4:])
	}

	if hdr.Magic != Magic {
		return hdr, ErrBadMagic
	}

	if hdr.Version < minVersion || hdr.LastCompVersion > maxCompatVersion {
		return hdr, ErrUnsupportedVersion
	}

	// size_dt_struct only exists from version 17 onwards
	if hdr.Version < 17 && hdr.OffStruct <= hdr.TotalSize {
		hdr.SizeStruct = hdr.TotalSize - hdr.OffStruct
	}

	switch {
	case hdr.TotalSize < headerSize,
		hdr.OffStruct%4 != 0,
		uint64(hdr.OffStruct)+uint64(hdr.SizeStruct) > uint64(hdr.TotalSize),
		uint64(hdr.OffStrings)+uint64(hdr.SizeStrings) > uint64(hdr.TotalSize):
		return hdr, ErrMalformedStructure
	}

	return hdr, nil
}

// Validate checks whether blob points to a well-formed device tree blob
// header.
func Validate(blob uintptr) *kernel.Error {
	_, err := ReadHeader(blob)
	return err
}

// blobData returns the contents of the blob at address blob as a byte slice.
func blobData(blob uintptr, hdr *Header) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(blob)), hdr.TotalSize)
}
