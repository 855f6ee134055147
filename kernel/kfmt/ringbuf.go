package kfmt

import "io"

// ringBufferSize is the capacity of the buffer that holds Printf output
// produced before an output sink is attached. It is large enough for the
// memory layout report printed before the UART is mapped and must be a power
// of 2.
const ringBufferSize = 4096

// ringBuffer is a fixed-capacity byte FIFO. When full, each new byte evicts
// the oldest one so that the most recent output survives.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start indexes the oldest buffered byte; count is the number of
	// buffered bytes.
	start, count int
}

// Write appends p to the buffer, evicting old bytes as needed. It never
// fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
			continue
		}
		rb.count++
	}

	return len(p), nil
}

// Read drains up to len(p) of the oldest buffered bytes into p. It returns
// io.EOF once the buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	// Copy the contiguous run that starts at start; a wrapped tail is
	// returned by the next call.
	n := rb.count
	if tail := ringBufferSize - rb.start; tail < n {
		n = tail
	}
	n = copy(p, rb.buffer[rb.start:rb.start+n])

	rb.start = (rb.start + n) & (ringBufferSize - 1)
	rb.count -= n
	return n, nil
}

// Len returns the number of buffered bytes.
func (rb *ringBuffer) Len() int {
	return rb.count
}
