package plugin

// cpuSeconds converts a cpu_ms limit to the whole seconds RLIMIT_CPU
// counts in, rounding up so a 1500ms budget grants 2s rather than 1s.
func cpuSeconds(ms int64) uint64 {
	return uint64((ms + 999) / 1000)
}

// memBytes converts a mem_mb limit to the byte count RLIMIT_AS takes.
func memBytes(mb int64) uint64 {
	return uint64(mb) * 1024 * 1024
}
