//go:build !riscv64

package cpu

import "testing"

func TestSimulatedSATP(t *testing.T) {
	defer WriteSATP(0)

	WriteSATP(0x8000000000080200)
	if got := ReadSATP(); got != 0x8000000000080200 {
		t.Fatalf("expected ReadSATP to return the written value; got 0x%x", got)
	}

	before := tlbFlushes.Load()
	FlushTLB()
	FlushTLBEntry(0x1000)
	if got := tlbFlushes.Load() - before; got != 2 {
		t.Fatalf("expected 2 recorded TLB flushes; got %d", got)
	}
}
