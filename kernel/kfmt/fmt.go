package kfmt

import (
	"io"
	"rvos/kernel/mem"
	"unsafe"
)

const (
	// maxBufSize defines the buffer size for formatting numbers. It fits a
	// 64-bit value printed in base 2.
	maxBufSize = 64

	lowerDigits = "0123456789abcdef"
	upperDigits = "0123456789ABCDEF"
)

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// numFmtBuf holds a formatted number plus an optional sign.
	numFmtBuf [maxBufSize + 1]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// serial console is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and replays
// any output accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the writer that currently receives Printf output or
// nil if output is being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized. This implementation
// does not allocate any memory.
//
// Similar to fmt.Printf, this version of printf supports the following subset
// of formatting verbs:
//
// Strings:
//
//	%s the uninterpreted bytes of the string or byte slice
//	%c the single character represented by a byte or an ASCII rune
//
// Integers (including mem.Size values):
//
//	%b base 2
//	%o base 8
//	%d base 10
//	%x base 16, with lower-case letters for a-f
//	%X base 16, with upper-case letters for A-F
//
// Booleans:
//
//	%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the verb.
// If absent, the width is whatever is necessary to represent the value.
//
// String values with length less than the specified width will be left-padded with
// spaces. Integer values formatted as base-10 will also be left-padded with spaces.
// Integer values formatted in any other base are left-padded with zeroes, which
// keeps addresses and page table entries column-aligned.
//
// Printf supports all built-in string and integer types but assumes that the
// Go itables have not been initialized yet so it will not check whether its
// arguments support io.Stringer if they don't match one of the supported tupes.
//
// This function does not provide support for printing pointers (%p) as this
// requires importing the reflect package. By importing reflect, the go compiler
// starts generating calls to runtime.convT2E (which calls runtime.newobject)
// when assembling the argument slice which obviously will crash the kernel since
// memory management is not yet available.
//
// The output of Printf is written to the writer installed via SetOutputSink,
// normally the UART. If no sink is installed the output is buffered into a
// ring-buffer and replayed once a sink becomes available.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var argIndex, litStart int

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeLiteral(w, format, litStart, i)

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = (width * 10) + int(format[i]-'0')
		}

		litStart = i + 1
		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		switch verb := format[i]; {
		case verb == '%':
			writeByte(w, '%')
		case !isVerb(verb):
			doWrite(w, errNoVerb)
		case argIndex >= len(args):
			doWrite(w, errMissingArg)
		default:
			fmtArg(w, verb, args[argIndex], width)
			argIndex++
		}
	}

	if litStart < len(format) {
		writeLiteral(w, format, litStart, len(format))
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// isVerb returns true if ch is one of the supported formatting verbs.
func isVerb(ch byte) bool {
	switch ch {
	case 'b', 'o', 'd', 'x', 'X', 's', 'c', 't':
		return true
	}
	return false
}

// fmtArg formats a single argument according to verb.
func fmtArg(w io.Writer, verb byte, arg interface{}, width int) {
	switch verb {
	case 'b':
		fmtInt(w, arg, 2, lowerDigits, width)
	case 'o':
		fmtInt(w, arg, 8, lowerDigits, width)
	case 'd':
		fmtInt(w, arg, 10, lowerDigits, width)
	case 'x':
		fmtInt(w, arg, 16, lowerDigits, width)
	case 'X':
		fmtInt(w, arg, 16, upperDigits, width)
	case 's':
		fmtString(w, arg, width)
	case 'c':
		fmtChar(w, arg)
	case 't':
		fmtBool(w, arg)
	}
}

// writeLiteral copies format[start:end] to w. Passing the sub-slice to doWrite
// triggers a memory allocation so this is done one byte at a time.
func writeLiteral(w io.Writer, format string, start, end int) {
	for i := start; i < end; i++ {
		writeByte(w, format[i])
	}
}

func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	doWrite(w, singleByte)
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtChar prints the character represented by v. Runes outside the ASCII
// range are printed as '?'.
func fmtChar(w io.Writer, v interface{}) {
	switch ch := v.(type) {
	case byte:
		writeByte(w, ch)
	case rune:
		if ch < 0 || ch > 0x7f {
			ch = '?'
		}
		writeByte(w, byte(ch))
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		writeLiteral(w, castedVal, 0, len(castedVal))
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		writeByte(w, ch)
	}
}

// toInt64 extracts the value of any built-in integer type or mem.Size. For
// unsigned types the value is returned in uval; for signed types in sval.
func toInt64(v interface{}) (sval int64, uval uint64, ok bool) {
	switch castedVal := v.(type) {
	case uint8:
		uval = uint64(castedVal)
	case uint16:
		uval = uint64(castedVal)
	case uint32:
		uval = uint64(castedVal)
	case uint64:
		uval = castedVal
	case uint:
		uval = uint64(castedVal)
	case uintptr:
		uval = uint64(castedVal)
	case mem.Size:
		uval = uint64(castedVal)
	case int8:
		sval = int64(castedVal)
	case int16:
		sval = int64(castedVal)
	case int32:
		sval = int64(castedVal)
	case int64:
		sval = castedVal
	case int:
		sval = int64(castedVal)
	default:
		return 0, 0, false
	}

	switch {
	case sval < 0:
		uval = uint64(-sval)
	case sval > 0:
		uval = uint64(sval)
	}

	return sval, uval, true
}

// fmtInt prints out a formatted version of v in the requested base using the
// supplied digit set and applying the padding specified by padLen. Base-10
// values are padded with spaces and all other bases with zeroes.
func fmtInt(w io.Writer, v interface{}, base uint64, digits string, padLen int) {
	sval, uval, ok := toInt64(v)
	if !ok {
		doWrite(w, errWrongArgType)
		return
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Digits are emitted least-significant first and reversed at the end.
	right := 0
	for right < maxBufSize {
		numFmtBuf[right] = digits[uval%base]
		right++

		if uval /= base; uval == 0 {
			break
		}
	}

	for ; right < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	// The sign replaces the last pad space if there is one; otherwise it
	// is appended.
	if sval < 0 {
		end := right - 1
		for numFmtBuf[end] == ' ' {
			end--
		}

		if end == right-1 {
			right++
		}

		numFmtBuf[end+1] = '-'
	}

	for left, last := 0, right-1; left < last; left, last = left+1, last-1 {
		numFmtBuf[left], numFmtBuf[last] = numFmtBuf[last], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[:right])
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack, the compiler cannot properly
// detect that p does not escape (due to the call to the yet unknown outputSink
// io.Writer) and plays it safe by flagging it as escaping. This causes all
// calls to Printf to call runtime.convT2E which triggers a memory allocation
// causing the kernel to crash if a call to Printf is made before the Go
// allocator is initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
