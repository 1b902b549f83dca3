package plugin

import (
	"os"
	"testing"
)

func TestCPUSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	cases := map[int64]uint64{
		1:    1,
		999:  1,
		1000: 1,
		1001: 2,
		1500: 2,
		2000: 2,
	}
	for ms, want := range cases {
		if got := cpuSeconds(ms); got != want {
			t.Fatalf("cpuSeconds(%d) = %d, want %d", ms, got, want)
		}
	}
}

func TestMemBytes(t *testing.T) {
	t.Parallel()

	if got := memBytes(64); got != 64*1024*1024 {
		t.Fatalf("memBytes(64) = %d", got)
	}
	if got := memBytes(1); got != 1<<20 {
		t.Fatalf("memBytes(1) = %d", got)
	}
}

func TestApplyLimitsZeroIsNoop(t *testing.T) {
	t.Parallel()

	// No limits declared means no prlimit calls at all; the host process
	// is a safe target for that.
	if err := applyLimits(os.Getpid(), Limits{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
