package taint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zendesk/irscan/ir"
)

// FunctionSummary records, for one (callee, input signature, context)
// triple, which tainted parameters flow to the return value. Summaries let
// repeated callsites of the same function skip the graph walk.
type FunctionSummary struct {
	// ParamToReturn[i] is true when taint on parameter i reaches a
	// return node.
	ParamToReturn []bool
}

// ContextK bounds the callsite context used in summary keys (k-CFA-lite).
const ContextK = 2

type summaryKey struct {
	file    string
	callee  int
	mask    uint64
	context string
}

// SummaryCache memoises function summaries for the duration of one scan.
// It is safe for concurrent use by the engine's workers.
type SummaryCache struct {
	mu sync.Mutex
	m  map[summaryKey]*FunctionSummary
}

// NewSummaryCache returns an empty cache.
func NewSummaryCache() *SummaryCache {
	return &SummaryCache{m: make(map[summaryKey]*FunctionSummary)}
}

// Summary returns the cached summary for callee under the given tainted
// parameter mask and callsite context, computing it on first use. The
// context is truncated to the last ContextK callsites.
func (c *SummaryCache) Summary(fir *ir.FileIR, callee int, mask uint64, context []string) *FunctionSummary {
	if len(context) > ContextK {
		context = context[len(context)-ContextK:]
	}
	key := summaryKey{
		file:    fir.Path,
		callee:  callee,
		mask:    mask,
		context: strings.Join(context, "→"),
	}
	c.mu.Lock()
	if s, ok := c.m[key]; ok {
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()

	s := computeSummary(fir, callee, mask)

	c.mu.Lock()
	c.m[key] = s
	c.mu.Unlock()
	return s
}

// Len reports the number of cached summaries, for metrics.
func (c *SummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// computeSummary walks the callee's slice of the DFG from each tainted
// parameter to its return nodes.
func computeSummary(fir *ir.FileIR, callee int, mask uint64) *FunctionSummary {
	dfg := fir.DFG
	if dfg == nil {
		return &FunctionSummary{}
	}
	params := dfg.FuncParams[callee]
	returns := make(map[uint64]struct{})
	for _, r := range dfg.FuncReturns[callee] {
		returns[r] = struct{}{}
	}
	s := &FunctionSummary{ParamToReturn: make([]bool, len(params))}
	if len(returns) == 0 {
		return s
	}
	for i, p := range params {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		s.ParamToReturn[i] = reaches(dfg, p, returns)
	}
	return s
}

func reaches(dfg *ir.DFG, from uint64, targets map[uint64]struct{}) bool {
	seen := map[uint64]struct{}{from: {}}
	queue := []uint64{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, hit := targets[id]; hit {
			return true
		}
		for _, next := range dfg.Successors(id) {
			if _, dup := seen[next]; dup {
				continue
			}
			if n := dfg.Node(next); n == nil || n.Sanitized {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// Describe renders a summary for diagnostics.
func (s *FunctionSummary) Describe() string {
	var parts []string
	for i, ok := range s.ParamToReturn {
		if ok {
			parts = append(parts, fmt.Sprintf("p%d→ret", i))
		}
	}
	if len(parts) == 0 {
		return "no flow"
	}
	return strings.Join(parts, ",")
}
