package irscan

import (
	"encoding/json"
	"io"
	"sync"
)

// Metrics aggregates per-scan counters. All methods are safe for
// concurrent use by the worker pool.
type Metrics struct {
	mu sync.Mutex

	FileTimesMS  map[string]int64 `json:"file_times_ms"`
	RuleTimesMS  map[string]int64 `json:"rule_times_ms"`
	Findings     int              `json:"findings"`
	FilesScanned int              `json:"files_scanned"`
	ParseErrors  int              `json:"parse_errors"`
	RuleTimeouts int              `json:"rule_timeouts"`
	FileTimeouts int              `json:"file_timeouts"`
	CacheHits    int              `json:"cache_hits"`
	CacheMisses  int              `json:"cache_misses"`
	WASMFailures int              `json:"wasm_failures"`
}

// NewMetrics returns a zeroed metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		FileTimesMS: make(map[string]int64),
		RuleTimesMS: make(map[string]int64),
	}
}

func (m *Metrics) addFileTime(file string, ms int64) {
	m.mu.Lock()
	m.FileTimesMS[file] += ms
	m.mu.Unlock()
}

func (m *Metrics) addRuleTime(rule string, ms int64) {
	m.mu.Lock()
	m.RuleTimesMS[rule] += ms
	m.mu.Unlock()
}

func (m *Metrics) count(field *int, n int) {
	m.mu.Lock()
	*field += n
	m.mu.Unlock()
}

func (m *Metrics) setFindings(n int) {
	m.mu.Lock()
	m.Findings = n
	m.mu.Unlock()
}

// Write serialises the metrics as indented JSON.
func (m *Metrics) Write(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
