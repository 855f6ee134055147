package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. Subsystems use it to tag their log
// output, e.g. "[vmm] ".
type PrefixWriter struct {
	// A writer where all writes get sent to. If nil, writes follow Printf
	// output: the active output sink or the early print buffer.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last byte written was not a line feed.
	midLine bool
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// back the number of bytes written. The prefix is emitted lazily, right
// before the first byte of each line, and is not included in the number of
// written bytes returned by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	sink := w.Sink
	if sink == nil {
		sink = defaultSink{}
	}

	var written int
	for len(p) != 0 {
		lineLen := 0
		for lineLen < len(p) {
			lineLen++
			if p[lineLen-1] == '\n' {
				break
			}
		}

		if !w.midLine {
			sink.Write(w.Prefix)
		}

		n, err := sink.Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = p[lineLen-1] != '\n'
		p = p[lineLen:]
	}

	return written, nil
}

// defaultSink forwards writes to the active output sink or, if none is
// installed, to the early print buffer.
type defaultSink struct{}

func (defaultSink) Write(p []byte) (int, error) {
	if outputSink != nil {
		return outputSink.Write(p)
	}

	return earlyPrintBuffer.Write(p)
}
