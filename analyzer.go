// Package irscan is the analysis core: it walks a workspace, parses files
// into the intermediate representation, evaluates a compiled rule set
// against each file on a bounded worker pool, and produces a
// deterministic, deduplicated findings list. Matcher evaluation strategies
// form a closed set dispatched exhaustively from evalRule.
package irscan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/ir"
	"github.com/zendesk/irscan/parsers"
	"github.com/zendesk/irscan/rego"
	"github.com/zendesk/irscan/rules"
	"github.com/zendesk/irscan/taint"
)

// EngineVersion participates in cache keys: bumping it invalidates every
// cached finding.
const EngineVersion = "0.9.0"

// DefaultMaxFileSize is the size cap applied with the default exclusions.
const DefaultMaxFileSize = 5 * 1024 * 1024

// Config tunes one Analyzer.
type Config struct {
	// Parallelism sizes the worker pool. Zero means GOMAXPROCS.
	Parallelism int
	// PerRuleTimeout bounds one matcher evaluation on one file.
	PerRuleTimeout time.Duration
	// PerFileTimeout bounds all rule evaluations on one file.
	PerFileTimeout time.Duration
	// CachePath enables the on-disk findings cache when non-empty.
	CachePath string
	// MaxTaintSteps bounds DFG edges traversed per taint evaluation.
	MaxTaintSteps int
	// ChunkSize caps files in flight in batch mode. Zero means all.
	ChunkSize int
	// Stream processes files one at a time, releasing each FileIR before
	// the next is parsed.
	Stream bool
	// MaxFileSize overrides the default 5 MiB cap. Negative disables.
	MaxFileSize int64
	// NoDefaultExclude disables the node_modules/.git/size exclusions.
	NoDefaultExclude bool
	// SuppressComment is the inline suppression token.
	SuppressComment string
}

// Analyzer orchestrates a scan. The rule set and parser are immutable
// once loaded and safely shared by the workers.
type Analyzer struct {
	cfg       Config
	logger    hclog.Logger
	ruleset   *rules.RuleSet
	rulesHash string
	parser    *parsers.Parser
	rego      *rego.Pool
	summaries *taint.SummaryCache
	metrics   *Metrics

	suppressedMu sync.Mutex
	suppressed   map[string]map[int]struct{}
}

// NewAnalyzer builds an Analyzer; a nil logger falls back to a no-op one.
func NewAnalyzer(cfg Config, logger hclog.Logger) *Analyzer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.SuppressComment == "" {
		cfg.SuppressComment = "sast-ignore"
	}
	return &Analyzer{
		cfg:    cfg,
		logger: logger,
		parser: parsers.New(
			parsers.WithSuppressComment(cfg.SuppressComment),
			parsers.WithLogger(logger.Named("parsers")),
		),
		rego:       rego.NewPool(logger.Named("rego")),
		summaries:  taint.NewSummaryCache(),
		metrics:    NewMetrics(),
		suppressed: make(map[string]map[int]struct{}),
	}
}

// LoadRules compiles the rule directory. Per-rule compile failures are
// logged and skipped; they never abort the scan.
func (a *Analyzer) LoadRules(dir string) error {
	rs, err := rules.Load(dir)
	if err != nil {
		return err
	}
	for _, ce := range rs.Errors {
		a.logger.Warn("skipping rule", "rule", ce.RuleID, "file", ce.File, "error", ce.Err)
	}
	a.SetRuleSet(rs)
	return nil
}

// SetRuleSet installs an already compiled set.
func (a *Analyzer) SetRuleSet(rs *rules.RuleSet) {
	a.ruleset = rs
	a.rulesHash = rs.Hash()
}

// RuleSet returns the installed rules.
func (a *Analyzer) RuleSet() *rules.RuleSet { return a.ruleset }

// Metrics returns the scan counters.
func (a *Analyzer) Metrics() *Metrics { return a.metrics }

// SuppressedLines reports, per file, the lines covered by suppression
// comments, surviving FileIR release so the suppression filter can run
// after the scan.
func (a *Analyzer) SuppressedLines() map[string]map[int]struct{} {
	a.suppressedMu.Lock()
	defer a.suppressedMu.Unlock()
	out := make(map[string]map[int]struct{}, len(a.suppressed))
	for k, v := range a.suppressed {
		out[k] = v
	}
	return out
}

// Parser exposes the configured parser, mainly for tests and plugins.
func (a *Analyzer) Parser() *parsers.Parser { return a.parser }

// Process scans target (a file or directory tree) and returns the sorted,
// deduplicated findings. Cancellation via ctx stops between (file, rule)
// units.
func (a *Analyzer) Process(ctx context.Context, target string) ([]finding.Finding, error) {
	paths, err := a.enumerate(target)
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if a.cfg.CachePath != "" {
		cache = OpenCache(a.cfg.CachePath)
	}

	chunk := a.cfg.ChunkSize
	if a.cfg.Stream {
		chunk = 1
	}
	if chunk <= 0 {
		chunk = len(paths)
	}

	var all []finding.Finding
	for start := 0; start < len(paths); start += chunk {
		end := start + chunk
		if end > len(paths) {
			end = len(paths)
		}
		fs, err := a.processChunk(ctx, paths[start:end], cache)
		if err != nil {
			return nil, err
		}
		all = append(all, fs...)
		if ctx.Err() != nil {
			break
		}
	}

	if cache != nil {
		if err := cache.Save(); err != nil {
			a.logger.Warn("could not persist cache", "path", a.cfg.CachePath, "error", err)
		}
	}

	finding.Sort(all)
	all = finding.Dedup(all)
	a.metrics.setFindings(len(all))
	return all, nil
}

// enumerate walks the target applying the default exclusions.
func (a *Analyzer) enumerate(target string) ([]string, error) {
	maxSize := a.cfg.MaxFileSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}
	var paths []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !a.cfg.NoDefaultExclude {
				switch d.Name() {
				case "node_modules", ".git":
					return filepath.SkipDir
				}
			}
			return nil
		}
		if parsers.DetectType(path) == "" {
			return nil
		}
		if !a.cfg.NoDefaultExclude && maxSize > 0 {
			if fi, err := d.Info(); err == nil && fi.Size() > maxSize {
				a.logger.Debug("skipping oversized file", "file", path, "size", fi.Size())
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

type parsedFile struct {
	path        string
	contentHash string
	fir         *ir.FileIR
	cached      []finding.Finding
	fromCache   bool
}

// processChunk parses a batch of files in parallel and then evaluates
// every applicable (file, rule) unit on the worker pool. FileIRs are
// released when the chunk completes.
func (a *Analyzer) processChunk(ctx context.Context, paths []string, cache *Cache) ([]finding.Finding, error) {
	parallelism := a.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism()
	}

	parsed := make([]*parsedFile, len(paths))
	var pg errgroup.Group
	pg.SetLimit(parallelism)
	for i, path := range paths {
		pg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			src, err := os.ReadFile(path)
			if err != nil {
				a.logger.Warn("unreadable file", "file", path, "error", err)
				return nil
			}
			pf := &parsedFile{path: path, contentHash: ContentHash(src)}
			if cache != nil {
				if hit, ok := cache.Get(pf.contentHash, a.rulesHash); ok {
					pf.cached = hit
					pf.fromCache = true
					a.metrics.count(&a.metrics.CacheHits, 1)
					parsed[i] = pf
					return nil
				}
				a.metrics.count(&a.metrics.CacheMisses, 1)
			}
			start := time.Now()
			fir, perr := a.parser.Parse(path, src)
			if perr != nil {
				// ParseError: the partial IR is still analysed.
				a.metrics.count(&a.metrics.ParseErrors, 1)
			}
			a.metrics.addFileTime(path, time.Since(start).Milliseconds())
			pf.fir = fir
			if fir != nil && len(fir.Suppressed) > 0 {
				a.suppressedMu.Lock()
				a.suppressed[path] = fir.Suppressed
				a.suppressedMu.Unlock()
			}
			parsed[i] = pf
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return nil, err
	}

	type unit struct {
		fileIdx int
		ruleIdx int
	}
	var units []unit
	deadlines := make([]time.Time, len(parsed))
	for i, pf := range parsed {
		if pf == nil || pf.fir == nil {
			continue
		}
		if a.cfg.PerFileTimeout > 0 {
			deadlines[i] = time.Now().Add(a.cfg.PerFileTimeout)
		}
		a.metrics.count(&a.metrics.FilesScanned, 1)
		for r, rule := range a.ruleset.Rules {
			if rule.AppliesTo(pf.fir.Language) {
				units = append(units, unit{fileIdx: i, ruleIdx: r})
			}
		}
	}

	// Per-unit result slots keep the merge deterministic regardless of
	// worker scheduling.
	results := make([][]finding.Finding, len(units))
	var eg errgroup.Group
	eg.SetLimit(parallelism)
	for ui, u := range units {
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			pf := parsed[u.fileIdx]
			rule := a.ruleset.Rules[u.ruleIdx]
			if !deadlines[u.fileIdx].IsZero() && time.Now().After(deadlines[u.fileIdx]) {
				a.metrics.count(&a.metrics.FileTimeouts, 1)
				return nil
			}
			start := time.Now()
			results[ui] = a.evalRule(ctx, pf.fir, rule, deadlines[u.fileIdx])
			a.metrics.addRuleTime(rule.ID, time.Since(start).Milliseconds())
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []finding.Finding
	perFile := make(map[int][]finding.Finding)
	for ui, u := range units {
		perFile[u.fileIdx] = append(perFile[u.fileIdx], results[ui]...)
	}
	for i, pf := range parsed {
		if pf == nil {
			continue
		}
		if pf.fromCache {
			out = append(out, pf.cached...)
			continue
		}
		fs := perFile[i]
		finding.Sort(fs)
		if cache != nil && pf.fir != nil {
			cache.Put(pf.contentHash, a.rulesHash, fs)
		}
		out = append(out, fs...)
		pf.fir = nil // release the FileIR as soon as the file is done
	}
	return out, nil
}

func defaultParallelism() int {
	return runtime.GOMAXPROCS(0)
}

// excerptLine returns the 1-based line of source, trimmed of trailing CR.
func excerptLine(source string, line int) string {
	if line < 1 {
		return ""
	}
	rest := source
	for i := 1; i < line; i++ {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			return ""
		}
		rest = rest[idx+1:]
	}
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSuffix(rest, "\r")
}
