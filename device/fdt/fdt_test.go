package fdt

import (
	"encoding/binary"
	"rvos/kernel"
	"testing"
)

func TestReadHeader(t *testing.T) {
	blob := virtBlob()

	hdr, err := ReadHeader(blobAddr(blob))
	if err != nil {
		t.Fatal(err)
	}

	if hdr.Magic != Magic || hdr.TotalSize != uint32(len(blob)) || hdr.Version != 17 || hdr.OffStruct != headerSize+16 {
		t.Fatalf("unexpected header contents: %+v", hdr)
	}
}

func TestValidate(t *testing.T) {
	specs := []struct {
		name   string
		mutate func(blob []byte)
		expErr *kernel.Error
	}{
		{"valid", func([]byte) {}, nil},
		{"bad magic", func(blob []byte) { binary.BigEndian.PutUint32(blob, 0xfeedd00d) }, ErrBadMagic},
		{"too old", func(blob []byte) { binary.BigEndian.PutUint32(blob[20:], 15) }, ErrUnsupportedVersion},
		{"incompatible", func(blob []byte) { binary.BigEndian.PutUint32(blob[24:], 18) }, ErrUnsupportedVersion},
		{"struct past end", func(blob []byte) { binary.BigEndian.PutUint32(blob[36:], 0xffff) }, ErrMalformedStructure},
		{"strings past end", func(blob []byte) { binary.BigEndian.PutUint32(blob[12:], 0xfffff000) }, ErrMalformedStructure},
		{"unaligned struct", func(blob []byte) { binary.BigEndian.PutUint32(blob[8:], 57) }, ErrMalformedStructure},
		{"total size too small", func(blob []byte) { binary.BigEndian.PutUint32(blob[4:], 8) }, ErrMalformedStructure},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			blob := virtBlob()
			spec.mutate(blob)

			if err := Validate(blobAddr(blob)); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}

	t.Run("missing blob", func(t *testing.T) {
		if err := Validate(0); err != ErrMissingBlob {
			t.Fatalf("expected ErrMissingBlob; got %v", err)
		}
	})
}

func TestReadHeaderVersion16(t *testing.T) {
	blob := virtBlob()
	binary.BigEndian.PutUint32(blob[20:], 16)
	binary.BigEndian.PutUint32(blob[36:], 0)

	hdr, err := ReadHeader(blobAddr(blob))
	if err != nil {
		t.Fatal(err)
	}

	if exp := hdr.TotalSize - hdr.OffStruct; hdr.SizeStruct != exp {
		t.Fatalf("expected struct size to extend to the end of the blob (%d); got %d", exp, hdr.SizeStruct)
	}

	if _, err := Discover(blobAddr(blob)); err != nil {
		t.Fatalf("unexpected discovery error: %v", err)
	}
}
