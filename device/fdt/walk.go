package fdt

import (
	"encoding/binary"
	"rvos/kernel"
)

type token uint32

const (
	tokenBeginNode token = 0x1
	tokenEndNode   token = 0x2
	tokenProp      token = 0x3
	tokenNop       token = 0x4
	tokenEnd       token = 0x9
)

// structWalker iterates the token stream of the structure block.
type structWalker struct {
	structBlock []byte
	strings     []byte
	offset      int
}

func newStructWalker(data []byte, hdr *Header) *structWalker {
	return &structWalker{
		structBlock: data[hdr.OffStruct : hdr.OffStruct+hdr.SizeStruct],
		strings:     data[hdr.OffStrings : hdr.OffStrings+hdr.SizeStrings],
	}
}

// next returns the next token in the stream. For tokenBeginNode name holds
// the node's unit name; for tokenProp name and value hold the property name
// and raw value. NOP tokens are skipped.
func (w *structWalker) next() (tok token, name string, value []byte, err *kernel.Error) {
	for {
		if tok, err = w.readToken(); err != nil {
			return 0, "", nil, err
		}

		switch tok {
		case tokenNop:
			continue
		case tokenBeginNode:
			nameBytes, ok := cString(w.structBlock, w.offset)
			if !ok {
				return 0, "", nil, ErrMalformedStructure
			}
			w.offset = align4(w.offset + len(nameBytes) + 1)
			return tok, string(nameBytes), nil, nil
		case tokenProp:
			return w.readProp()
		case tokenEndNode, tokenEnd:
			return tok, "", nil, nil
		default:
			return 0, "", nil, ErrMalformedStructure
		}
	}
}

func (w *structWalker) readToken() (token, *kernel.Error) {
	val, ok := w.readU32()
	if !ok {
		return 0, ErrMalformedStructure
	}

	return token(val), nil
}

// readProp decodes the len/nameoff pair following a PROP token and the
// property value.
func (w *structWalker) readProp() (token, string, []byte, *kernel.Error) {
	valueLen, ok1 := w.readU32()
	nameOff, ok2 := w.readU32()
	if !ok1 || !ok2 || uint64(w.offset)+uint64(valueLen) > uint64(len(w.structBlock)) {
		return 0, "", nil, ErrMalformedStructure
	}

	nameBytes, ok := cString(w.strings, int(nameOff))
	if !ok {
		return 0, "", nil, ErrMalformedStructure
	}

	value := w.structBlock[w.offset : w.offset+int(valueLen)]
	w.offset = align4(w.offset + int(valueLen))
	return tokenProp, string(nameBytes), value, nil
}

func (w *structWalker) readU32() (uint32, bool) {
	if w.offset+4 > len(w.structBlock) {
		return 0, false
	}

	val := binary.BigEndian.Uint32(w.structBlock[w.offset:])
	w.offset += 4
	return val, true
}

// cString returns the NUL-terminated string that starts at offset in data
// without the terminator.
func cString(data []byte, offset int) ([]byte, bool) {
	if offset < 0 || offset >= len(data) {
		return nil, false
	}

	for end := offset; end < len(data); end++ {
		if data[end] == 0 {
			return data[offset:end], true
		}
	}

	return nil, false
}

func align4(offset int) int {
	return (offset + 3) &^ 3
}
