package plugin

import "golang.org/x/sys/unix"

// applyLimits enforces the manifest's cpu and memory caps on a started
// plugin process. os/exec offers no hook between fork and exec, so the
// host uses prlimit(2) on the fresh pid instead: it installs the same
// RLIMIT_CPU and RLIMIT_AS caps a pre-exec setrlimit would, without ever
// touching the host's own limits. The kernel then kills the plugin on a
// cpu overrun and fails its allocations past the address-space cap.
func applyLimits(pid int, limits Limits) error {
	if limits.CPUMS > 0 {
		secs := cpuSeconds(limits.CPUMS)
		lim := unix.Rlimit{Cur: secs, Max: secs}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil); err != nil {
			return err
		}
	}
	if limits.MemMB > 0 {
		bytes := memBytes(limits.MemMB)
		lim := unix.Rlimit{Cur: bytes, Max: bytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil); err != nil {
			return err
		}
	}
	return nil
}
