package irscan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/zendesk/irscan/finding"
)

// cacheEntry stores the findings of one file content under the rule-set
// and engine version that produced them.
type cacheEntry struct {
	RulesHash     string            `json:"rules_hash"`
	EngineVersion string            `json:"engine_version"`
	Findings      []finding.Finding `json:"findings"`
}

type cacheData struct {
	Entries map[string]cacheEntry `json:"entries"`
}

// Cache is the on-disk content-addressed findings cache. Readers load a
// snapshot; writers persist under an exclusive advisory lock. A corrupt
// cache file is discarded and rebuilt, never fatal.
type Cache struct {
	path string

	mu   sync.Mutex
	data cacheData
}

// OpenCache loads the cache at path, tolerating a missing or corrupt file.
func OpenCache(path string) *Cache {
	c := &Cache{path: path, data: cacheData{Entries: map[string]cacheEntry{}}}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var data cacheData
	if err := json.Unmarshal(raw, &data); err != nil || data.Entries == nil {
		// CacheCorrupt: ignore and rebuild.
		return c
	}
	c.data = data
	return c
}

// Get returns the cached findings for a content hash when the entry was
// produced by the same rule set and engine version.
func (c *Cache) Get(contentHash, rulesHash string) ([]finding.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data.Entries[contentHash]
	if !ok || e.RulesHash != rulesHash || e.EngineVersion != EngineVersion {
		return nil, false
	}
	return e.Findings, true
}

// Put records findings for a content hash.
func (c *Cache) Put(contentHash, rulesHash string, findings []finding.Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if findings == nil {
		findings = []finding.Finding{}
	}
	c.data.Entries[contentHash] = cacheEntry{
		RulesHash:     rulesHash,
		EngineVersion: EngineVersion,
		Findings:      findings,
	}
}

// Save persists the cache, holding an exclusive flock for the write so
// concurrent scans sharing a cache file do not interleave. Lock failures
// degrade to a best-effort write; the cache is an optimisation only.
func (c *Cache) Save() error {
	c.mu.Lock()
	raw, err := json.Marshal(c.data)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err == nil {
		defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		return err
	}
	return f.Sync()
}

// ContentHash digests file bytes for cache keys.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
