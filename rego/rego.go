// Package rego evaluates OPA policies compiled to WebAssembly against the
// file IR. Each evaluation runs in a fresh sandboxed instance with a
// memory cap and a deadline; compilation is shared through wazero's
// compilation cache so per-file instantiation stays cheap. Traps, OOM and
// timeouts degrade to a skipped rule, never a failed scan.
package rego

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/ir"
	"github.com/zendesk/irscan/rules"
)

// memoryLimitPages caps guest memory at 160 pages (10 MiB).
const memoryLimitPages = 160

// defaultEvalTimeout bounds one policy evaluation when the engine passes
// no deadline.
const defaultEvalTimeout = 2 * time.Second

// TrapError reports a policy that trapped, ran out of memory or timed
// out. The engine records it and skips the rule for the file.
type TrapError struct {
	RuleID string
	File   string
	Err    error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("rego rule %s on %s: %v", e.RuleID, e.File, e.Err)
}

func (e *TrapError) Unwrap() error { return e.Err }

// Pool shares compiled policies across evaluations.
type Pool struct {
	logger hclog.Logger
	cache  wazero.CompilationCache

	mu      sync.Mutex
	sources map[string][]byte
}

// NewPool returns a pool with a process-wide compilation cache.
func NewPool(logger hclog.Logger) *Pool {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pool{
		logger:  logger,
		cache:   wazero.NewCompilationCache(),
		sources: make(map[string][]byte),
	}
}

func (p *Pool) policyBytes(path string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.sources[path]; ok {
		return b, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p.sources[path] = b
	return b, nil
}

// Eval projects the file IR to the Rego input shape and evaluates the
// rule's entrypoint.
func (p *Pool) Eval(ctx context.Context, fir *ir.FileIR, rule *rules.CompiledRule, deadline time.Time) ([]finding.Finding, error) {
	m := rule.Matcher.Rego
	wasm, err := p.policyBytes(m.WASMPath)
	if err != nil {
		return nil, &TrapError{RuleID: rule.ID, File: fir.Path, Err: err}
	}

	if deadline.IsZero() {
		deadline = time.Now().Add(defaultEvalTimeout)
	}
	evalCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	input, err := json.Marshal(projectInput(fir))
	if err != nil {
		return nil, &TrapError{RuleID: rule.ID, File: fir.Path, Err: err}
	}

	result, err := p.run(evalCtx, wasm, m.Entrypoint, input)
	if err != nil {
		return nil, &TrapError{RuleID: rule.ID, File: fir.Path, Err: err}
	}
	return mapOutput(fir, rule, result), nil
}

// projectInput is the frozen IR-to-Rego mapping: the file's language tag
// plus one object per IR-Doc event.
func projectInput(fir *ir.FileIR) map[string]any {
	nodes := make([]map[string]any, 0, len(fir.Nodes))
	for _, n := range fir.Nodes {
		nodes = append(nodes, map[string]any{
			"id":    n.ID,
			"type":  n.Kind,
			"path":  n.Path,
			"value": n.Value,
			"meta": map[string]any{
				"file":   n.Meta.File,
				"line":   n.Meta.Line,
				"column": n.Meta.Column,
			},
		})
	}
	return map[string]any{
		"file_type": fir.Language,
		"nodes":     nodes,
	}
}

// run instantiates the policy and performs one opa_eval call. A fresh
// runtime per evaluation keeps guest memory isolated between files; the
// shared compilation cache keeps it fast.
func (p *Pool) run(ctx context.Context, wasm []byte, entrypoint string, input []byte) (_ any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy trap: %v", r)
		}
	}()

	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(p.cache).
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(memoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer rt.Close(context.Background())

	_, err = rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, addr uint32) {
			panic("opa_abort: " + readCString(mod, addr))
		}).Export("opa_abort").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, addr uint32) {
			p.logger.Debug("policy println", "message", readCString(mod, addr))
		}).Export("opa_println").
		NewFunctionBuilder().
		WithFunc(func(id, c uint32) uint32 { panic("unsupported builtin call") }).Export("opa_builtin0").
		NewFunctionBuilder().
		WithFunc(func(id, c, a uint32) uint32 { panic("unsupported builtin call") }).Export("opa_builtin1").
		NewFunctionBuilder().
		WithFunc(func(id, c, a, b uint32) uint32 { panic("unsupported builtin call") }).Export("opa_builtin2").
		NewFunctionBuilder().
		WithFunc(func(id, c, a, b, d uint32) uint32 { panic("unsupported builtin call") }).Export("opa_builtin3").
		NewFunctionBuilder().
		WithFunc(func(id, c, a, b, d, e uint32) uint32 { panic("unsupported builtin call") }).Export("opa_builtin4").
		ExportMemory("memory", 2).
		Instantiate(ctx)
	if err != nil {
		return nil, err
	}

	mod, err := rt.Instantiate(ctx, wasm)
	if err != nil {
		return nil, err
	}

	call1 := func(name string, args ...uint64) (uint64, error) {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return 0, fmt.Errorf("policy does not export %s", name)
		}
		res, err := fn.Call(ctx, args...)
		if err != nil {
			return 0, err
		}
		if len(res) == 0 {
			return 0, nil
		}
		return res[0], nil
	}

	writeGuest := func(data []byte) (uint64, error) {
		addr, err := call1("opa_malloc", uint64(len(data)))
		if err != nil {
			return 0, err
		}
		if !mod.Memory().Write(uint32(addr), data) {
			return 0, fmt.Errorf("guest memory write out of range")
		}
		return addr, nil
	}

	// Parse an empty data document.
	dataAddr, err := writeGuest([]byte("{}"))
	if err != nil {
		return nil, err
	}
	dataValue, err := call1("opa_json_parse", dataAddr, 2)
	if err != nil {
		return nil, err
	}

	epID, err := resolveEntrypoint(ctx, mod, call1, entrypoint)
	if err != nil {
		return nil, err
	}

	inputAddr, err := writeGuest(input)
	if err != nil {
		return nil, err
	}
	heapPtr, err := call1("opa_heap_ptr_get")
	if err != nil {
		return nil, err
	}

	resultAddr, err := call1("opa_eval", 0, epID, dataValue, inputAddr, uint64(len(input)), heapPtr, 0)
	if err != nil {
		return nil, err
	}
	raw := readCString(mod, uint32(resultAddr))
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("policy returned invalid JSON: %w", err)
	}
	return out, nil
}

// resolveEntrypoint maps the configured name to the policy's entrypoint
// id, trying dotted, data-prefixed and slash forms.
func resolveEntrypoint(ctx context.Context, mod api.Module, call func(string, ...uint64) (uint64, error), entrypoint string) (uint64, error) {
	addr, err := call("entrypoints")
	if err != nil {
		return 0, err
	}
	dumpAddr, err := call("opa_json_dump", addr)
	if err != nil {
		return 0, err
	}
	var table map[string]uint64
	if err := json.Unmarshal([]byte(readCString(mod, uint32(dumpAddr))), &table); err != nil {
		return 0, fmt.Errorf("parsing entrypoint table: %w", err)
	}
	candidates := []string{
		entrypoint,
		strings.TrimPrefix(entrypoint, "data."),
		strings.ReplaceAll(entrypoint, ".", "/"),
		strings.ReplaceAll(strings.TrimPrefix(entrypoint, "data."), ".", "/"),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if id, ok := table[c]; ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("entrypoint %q not found (have %d entrypoints)", entrypoint, len(table))
}

func readCString(mod api.Module, addr uint32) string {
	var buf bytes.Buffer
	for {
		chunk, ok := mod.Memory().Read(addr, 256)
		if !ok {
			// Tail of memory: read what remains byte by byte.
			b, ok := mod.Memory().ReadByte(addr)
			if !ok {
				return buf.String()
			}
			if b == 0 {
				return buf.String()
			}
			buf.WriteByte(b)
			addr++
			continue
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			buf.Write(chunk[:i])
			return buf.String()
		}
		buf.Write(chunk)
		addr += uint32(len(chunk))
	}
}

// mapOutput converts a policy result into findings. Strings become
// findings at line 1; objects may carry msg/message, line/column or a
// node_ref resolving to an IR node's location; result-set wrappers and
// boolean maps are unwrapped.
func mapOutput(fir *ir.FileIR, rule *rules.CompiledRule, val any) []finding.Finding {
	var out []finding.Finding

	emit := func(line, column int, excerpt, message string) {
		if line < 1 {
			line = 1
		}
		if column < 1 {
			column = 1
		}
		f := finding.New(rule.ID, fir.Path, line, column, excerpt, message, rule.Severity)
		f.RuleFile = rule.SourceFile
		f.Remediation = rule.Remediation
		f.Fix = rule.Fix
		out = append(out, f)
	}

	var emitValue func(v any)
	emitObject := func(obj map[string]any) {
		message := rule.Message
		if s, ok := obj["msg"].(string); ok {
			message = s
		} else if s, ok := obj["message"].(string); ok {
			message = s
		}
		line := intField(obj, "line")
		column := intField(obj, "column")
		excerpt := ""
		if s, ok := obj["path"].(string); ok {
			excerpt = s
		}
		if ref, ok := obj["node_ref"]; ok {
			if id, ok := toUint64(ref); ok {
				for _, n := range fir.Nodes {
					if n.ID == id {
						line, column = n.Meta.Line, n.Meta.Column
						if excerpt == "" {
							excerpt = n.Path
						}
						break
					}
				}
			}
		}
		emit(line, column, excerpt, message)
	}
	emitValue = func(v any) {
		switch t := v.(type) {
		case string:
			emit(1, 1, "", t)
		case map[string]any:
			if res, ok := t["result"]; ok {
				emitValue(res)
				return
			}
			// A plain object is either one finding or a deny-map of
			// booleans.
			if _, hasMsg := t["msg"]; hasMsg {
				emitObject(t)
				return
			}
			if _, hasMsg := t["message"]; hasMsg {
				emitObject(t)
				return
			}
			allBools := len(t) > 0
			for _, bv := range t {
				if _, ok := bv.(bool); !ok {
					allBools = false
					break
				}
			}
			if allBools {
				for k, bv := range t {
					if bv.(bool) {
						emit(1, 1, "", k)
					}
				}
				return
			}
			emitObject(t)
		case []any:
			for _, item := range t {
				emitValue(item)
			}
		}
	}
	emitValue(val)
	finding.Sort(out)
	return out
}

func intField(obj map[string]any, key string) int {
	if v, ok := obj[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case string:
		var id uint64
		if _, err := fmt.Sscanf(n, "%d", &id); err == nil {
			return id, true
		}
	}
	return 0, false
}
