package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	irscan "github.com/zendesk/irscan"
	"github.com/zendesk/irscan/baseline"
	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/plugin"
	"github.com/zendesk/irscan/report"
)

type scanOptions struct {
	rulesDir        string
	format          string
	failOn          string
	baselinePath    string
	suppressComment string
	metricsPath     string
	stream          bool
	chunkSize       int
	noDefaultExcl   bool
	maxFileSize     int64
	cachePath       string
	threads         int
	ruleTimeoutMS   int
	fileTimeoutMS   int
	maxTaintSteps   int
	pluginDirs      []string
	pluginOpts      []string
	verbose         bool
}

func newScanCommand() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a file or directory for security findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args[0], opts)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&opts.rulesDir, "rules", "", "rules directory (built-in rules when empty)")
	fl.StringVar(&opts.format, "format", "text", "output format: text|json|sarif")
	fl.StringVar(&opts.failOn, "fail-on", "", "exit 1 on findings at or above this severity: low|medium|high")
	fl.StringVar(&opts.baselinePath, "baseline", "", "baseline file of accepted finding ids")
	fl.StringVar(&opts.suppressComment, "suppress-comment", "sast-ignore", "inline suppression token")
	fl.StringVar(&opts.metricsPath, "metrics", "", "write JSON metrics to a path, or '-' for stderr")
	fl.BoolVar(&opts.stream, "stream", false, "process files one at a time")
	fl.IntVar(&opts.chunkSize, "chunk-size", 0, "max files in flight in batch mode")
	fl.BoolVar(&opts.noDefaultExcl, "no-default-exclude", false, "disable node_modules/.git/size exclusions")
	fl.Int64Var(&opts.maxFileSize, "max-file-size", 0, "per-file size cap in bytes (default 5 MiB)")
	fl.StringVar(&opts.cachePath, "cache", "", "findings cache file")
	fl.IntVar(&opts.threads, "threads", 0, "worker pool size (default: number of CPUs)")
	fl.IntVar(&opts.ruleTimeoutMS, "rule-timeout-ms", 2000, "per-rule evaluation timeout")
	fl.IntVar(&opts.fileTimeoutMS, "file-timeout-ms", 0, "per-file evaluation timeout (0 = none)")
	fl.IntVar(&opts.maxTaintSteps, "max-taint-steps", 10000, "DFG edge budget per taint evaluation")
	fl.StringArrayVar(&opts.pluginDirs, "plugin", nil, "plugin directory (repeatable)")
	fl.StringArrayVar(&opts.pluginOpts, "plugin-opt", nil, "plugin option name.key=value (repeatable)")
	fl.BoolVar(&opts.verbose, "verbose", false, "debug logging")
	return cmd
}

func runScan(target string, opts *scanOptions) error {
	level := hclog.Warn
	if opts.verbose {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{Name: "irscan", Level: level, Output: os.Stderr})

	var failOn finding.Severity
	failOnSet := false
	if opts.failOn != "" {
		sev, err := finding.ParseSeverity(opts.failOn)
		if err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
		failOn = sev
		failOnSet = true
	}

	analyzer := irscan.NewAnalyzer(irscan.Config{
		Parallelism:      opts.threads,
		PerRuleTimeout:   time.Duration(opts.ruleTimeoutMS) * time.Millisecond,
		PerFileTimeout:   time.Duration(opts.fileTimeoutMS) * time.Millisecond,
		CachePath:        opts.cachePath,
		MaxTaintSteps:    opts.maxTaintSteps,
		ChunkSize:        opts.chunkSize,
		Stream:           opts.stream,
		MaxFileSize:      opts.maxFileSize,
		NoDefaultExclude: opts.noDefaultExcl,
		SuppressComment:  opts.suppressComment,
	}, logger)

	if opts.rulesDir != "" {
		if err := analyzer.LoadRules(opts.rulesDir); err != nil {
			return err
		}
	} else {
		analyzer.SetRuleSet(irscan.BuiltinRuleSet())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	findings, err := analyzer.Process(ctx, target)
	if err != nil {
		return err
	}

	findings = append(findings, runPlugins(ctx, logger, target, opts)...)
	finding.Sort(findings)

	// Baseline and suppression run strictly before the fail-on threshold
	// and the reporters.
	if opts.baselinePath != "" {
		bl, err := baseline.Load(opts.baselinePath)
		if err != nil {
			return err
		}
		findings = bl.Filter(findings)
	}
	findings = baseline.SuppressLines(findings, analyzer.SuppressedLines())

	if err := report.Write(os.Stdout, report.Format(opts.format), findings); err != nil {
		return err
	}

	if opts.metricsPath != "" {
		if err := writeMetrics(analyzer, opts.metricsPath); err != nil {
			logger.Warn("could not write metrics", "error", err)
		}
	}

	if failOnSet {
		if maxSev, ok := finding.MaxSeverity(findings); ok && maxSev >= failOn {
			return exitError(exitFindings)
		}
	}
	return nil
}

func writeMetrics(analyzer *irscan.Analyzer, path string) error {
	if path == "-" {
		return analyzer.Metrics().Write(os.Stderr)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return analyzer.Metrics().Write(f)
}

// runPlugins launches analyze-capable plugins and merges their findings.
// A misbehaving plugin is logged and skipped; it never fails the scan.
func runPlugins(ctx context.Context, logger hclog.Logger, target string, opts *scanOptions) []finding.Finding {
	if len(opts.pluginDirs) == 0 {
		return nil
	}
	options := parsePluginOpts(opts.pluginOpts)
	var out []finding.Finding
	for _, dir := range opts.pluginDirs {
		manifests, errs := plugin.Discover(dir)
		for _, err := range errs {
			logger.Warn("invalid plugin manifest", "error", err)
		}
		for _, m := range manifests {
			if ctx.Err() != nil {
				return out
			}
			if !m.HasCapability(plugin.CapAnalyze) {
				continue
			}
			host := plugin.NewHost(m, logger)
			if err := host.Start(target, opts.rulesDir, options[m.Name]); err != nil {
				logger.Warn("plugin failed to start", "plugin", m.Name, "error", err)
				continue
			}
			paths := collectPluginPaths(target)
			fs, err := host.Analyze(paths)
			if err != nil {
				logger.Warn("plugin analysis failed", "plugin", m.Name, "error", err)
			} else {
				out = append(out, fs...)
			}
			host.Shutdown()
		}
	}
	return out
}

// parsePluginOpts groups name.key=value flags by plugin name.
func parsePluginOpts(raw []string) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, kv := range raw {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name, value := kv[:eq], kv[eq+1:]
		dot := strings.IndexByte(name, '.')
		if dot < 0 {
			continue
		}
		pluginName, key := name[:dot], name[dot+1:]
		if out[pluginName] == nil {
			out[pluginName] = make(map[string]any)
		}
		out[pluginName][key] = value
	}
	return out
}

func collectPluginPaths(target string) []string {
	info, err := os.Stat(target)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		return []string{target}
	}
	var paths []string
	_ = walkFiles(target, &paths)
	return paths
}

func walkFiles(dir string, out *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if name == ".git" || name == "node_modules" {
			continue
		}
		full := dir + string(os.PathSeparator) + name
		if e.IsDir() {
			if err := walkFiles(full, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, full)
	}
	return nil
}
