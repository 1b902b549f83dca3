package plugin

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/zendesk/irscan/finding"
)

// Host runs one plugin as a child process. All calls serialise over the
// single stdin/stdout pipe pair; a wall-time violation kills the process
// and discards its work.
type Host struct {
	manifest *Manifest
	logger   hclog.Logger

	// Set once by Start and immutable afterwards so the kill path never
	// waits on an in-flight call.
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	reader    *bufio.Reader
	sessionID string
	wallTimer *time.Timer

	callMu  sync.Mutex // serialises RPC round trips
	nextID  int
	healthy atomic.Bool

	pathMu sync.Mutex
	// virtual → real path mapping for reads_fs=false plugins. The
	// mapping is deterministic within a scan (content-hash based).
	virtualPaths map[string]string
}

// NewHost wraps a manifest. Start must be called before any method.
func NewHost(m *Manifest, logger hclog.Logger) *Host {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Host{
		manifest:     m,
		logger:       logger.With("plugin", m.Name),
		virtualPaths: make(map[string]string),
	}
}

// Name returns the plugin name.
func (h *Host) Name() string { return h.manifest.Name }

// Healthy reports whether the plugin is still usable for this scan.
func (h *Host) Healthy() bool { return h.healthy.Load() }

// Start launches the process and performs plugin.init.
func (h *Host) Start(workspaceRoot, rulesRoot string, options map[string]any) error {
	if len(h.manifest.Entry) == 0 {
		return &ProtocolError{Plugin: h.manifest.Name, Details: "empty entry command"}
	}
	cmd := exec.Command(h.manifest.Entry[0], h.manifest.Entry[1:]...)
	cmd.Dir = h.manifest.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting plugin %s: %w", h.manifest.Name, err)
	}
	// cpu_ms and mem_mb become kernel limits on the child; a plugin that
	// cannot be capped does not get to run.
	if err := applyLimits(cmd.Process.Pid, h.manifest.Limits); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("applying resource limits to plugin %s: %w", h.manifest.Name, err)
	}

	h.cmd = cmd
	h.stdin = stdin
	h.reader = bufio.NewReader(stdout)
	h.healthy.Store(true)
	h.sessionID = uuid.NewString()
	if wall := h.manifest.Limits.WallMS; wall > 0 {
		h.wallTimer = time.AfterFunc(time.Duration(wall)*time.Millisecond, func() {
			h.logger.Warn("wall time limit exceeded, killing plugin")
			h.kill()
		})
	}

	cwd, _ := os.Getwd()
	params := InitParams{
		APIVersion:            APIVersion,
		SessionID:             h.sessionID,
		WorkspaceRoot:         workspaceRoot,
		RulesRoot:             rulesRoot,
		CapabilitiesRequested: h.manifest.Capabilities,
		Options:               options,
		Limits:                &h.manifest.Limits,
		Env:                   map[string]string{},
		CWD:                   cwd,
	}
	var res InitResult
	if err := h.Call("plugin.init", params, &res); err != nil {
		h.kill()
		return err
	}
	if !res.OK {
		h.kill()
		return &ProtocolError{Plugin: h.manifest.Name, Details: "plugin.init rejected"}
	}
	return nil
}

// Call performs one JSON-RPC round trip. plugin.log notifications
// arriving before the response are forwarded to the logger.
func (h *Host) Call(method string, params, result any) error {
	h.callMu.Lock()
	defer h.callMu.Unlock()
	if !h.healthy.Load() {
		return &ProtocolError{Plugin: h.manifest.Name, Details: "plugin is unhealthy"}
	}
	h.nextID++
	id := strconv.Itoa(h.nextID)
	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := h.stdin.Write(append(raw, '\n')); err != nil {
		h.markUnhealthy("write failed: " + err.Error())
		return &ProtocolError{Plugin: h.manifest.Name, Details: err.Error()}
	}

	for {
		line, err := h.reader.ReadBytes('\n')
		if err != nil {
			h.markUnhealthy("read failed: " + err.Error())
			return &ProtocolError{Plugin: h.manifest.Name, Details: err.Error()}
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			h.markUnhealthy("invalid JSON frame")
			return &ProtocolError{Plugin: h.manifest.Name, Details: "invalid JSON frame"}
		}
		if resp.Method == "plugin.log" {
			var lp logParams
			_ = json.Unmarshal(resp.Params, &lp)
			h.forwardLog(lp)
			continue
		}
		if resp.ID != id {
			// Stale frame from a killed call; drop it.
			continue
		}
		if resp.Error != nil {
			if resp.Error.Code == CodeLimitExceeded {
				h.markUnhealthy(resp.Error.Message)
			}
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	}
}

func (h *Host) forwardLog(lp logParams) {
	switch lp.Level {
	case "error":
		h.logger.Error(lp.Message)
	case "warn":
		h.logger.Warn(lp.Message)
	case "debug", "trace":
		h.logger.Debug(lp.Message)
	default:
		h.logger.Info(lp.Message)
	}
}

// Ping checks liveness.
func (h *Host) Ping() error {
	return h.Call("plugin.ping", nil, nil)
}

// Shutdown asks the plugin to exit and reaps the process.
func (h *Host) Shutdown() {
	_ = h.Call("plugin.shutdown", nil, nil)
	h.kill()
}

func (h *Host) kill() {
	h.markUnhealthy("terminated")
	if h.wallTimer != nil {
		h.wallTimer.Stop()
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
		_ = h.cmd.Wait()
	}
}

func (h *Host) markUnhealthy(reason string) {
	if h.healthy.Swap(false) {
		h.logger.Warn("marking plugin unhealthy", "reason", reason)
	}
}

// Discover invokes repo.discover when the capability is declared.
func (h *Host) Discover(params DiscoverParams) (*DiscoverResult, error) {
	if !h.manifest.HasCapability(CapDiscover) {
		return nil, &ProtocolError{Plugin: h.manifest.Name, Details: "discover capability not declared"}
	}
	var res DiscoverResult
	if err := h.Call("repo.discover", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Analyze sends files to an analyze-capable plugin and maps the reported
// findings back onto workspace paths.
func (h *Host) Analyze(paths []string) ([]finding.Finding, error) {
	if !h.manifest.HasCapability(CapAnalyze) {
		return nil, &ProtocolError{Plugin: h.manifest.Name, Details: "analyze capability not declared"}
	}
	specs := make([]FileSpec, 0, len(paths))
	for _, path := range paths {
		spec, err := h.fileSpec(path)
		if err != nil {
			h.logger.Warn("skipping file for plugin", "file", path, "error", err)
			continue
		}
		specs = append(specs, spec)
	}
	var res AnalyzeResult
	if err := h.Call("file.analyze", FilesParams{Files: specs}, &res); err != nil {
		return nil, err
	}
	out := make([]finding.Finding, 0, len(res.Findings))
	for _, pf := range res.Findings {
		sev, err := finding.ParseSeverity(pf.Severity)
		if err != nil {
			sev = finding.Medium
		}
		file := h.realPath(pf.File)
		line, col := pf.Line, pf.Column
		if line < 1 {
			line = 1
		}
		if col < 1 {
			col = 1
		}
		f := finding.New(pf.RuleID, file, line, col, pf.Excerpt, pf.Message, sev)
		out = append(out, f)
	}
	finding.Sort(out)
	return out, nil
}

// fileSpec builds the wire representation of one file. Plugins without
// filesystem access get inlined content and a stable virtual path so the
// workspace layout never leaks.
func (h *Host) fileSpec(path string) (FileSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileSpec{}, err
	}
	sum := sha256.Sum256(content)
	spec := FileSpec{
		Path:   path,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(content)),
	}
	if !h.manifest.ReadsFS {
		virtual := fmt.Sprintf("/virtual/%s-%s", filepath.Base(path), hex.EncodeToString(sum[:4]))
		h.pathMu.Lock()
		h.virtualPaths[virtual] = path
		h.pathMu.Unlock()
		spec.Path = virtual
		spec.ContentB64 = base64.StdEncoding.EncodeToString(content)
	}
	return spec, nil
}

func (h *Host) realPath(reported string) string {
	h.pathMu.Lock()
	defer h.pathMu.Unlock()
	if real, ok := h.virtualPaths[reported]; ok {
		return real
	}
	return reported
}

// Transform sends files to a transform-capable plugin and returns the
// rewritten specs.
func (h *Host) Transform(paths []string) ([]FileSpec, error) {
	if !h.manifest.HasCapability(CapTransform) {
		return nil, &ProtocolError{Plugin: h.manifest.Name, Details: "transform capability not declared"}
	}
	specs := make([]FileSpec, 0, len(paths))
	for _, path := range paths {
		spec, err := h.fileSpec(path)
		if err != nil {
			continue
		}
		specs = append(specs, spec)
	}
	var res FilesParams
	if err := h.Call("file.transform", FilesParams{Files: specs}, &res); err != nil {
		return nil, err
	}
	return res.Files, nil
}

// ListRules queries a rules-capable plugin.
func (h *Host) ListRules() (json.RawMessage, error) {
	if !h.manifest.HasCapability(CapRules) {
		return nil, &ProtocolError{Plugin: h.manifest.Name, Details: "rules capability not declared"}
	}
	var res json.RawMessage
	if err := h.Call("rules.list", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetRule fetches a single rule definition from a rules-capable plugin.
func (h *Host) GetRule(id string) (json.RawMessage, error) {
	if !h.manifest.HasCapability(CapRules) {
		return nil, &ProtocolError{Plugin: h.manifest.Name, Details: "rules capability not declared"}
	}
	var res json.RawMessage
	if err := h.Call("rules.get", map[string]string{"id": id}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Report forwards the final findings to a report-capable plugin.
func (h *Host) Report(findings []finding.Finding) error {
	if !h.manifest.HasCapability(CapReport) {
		return &ProtocolError{Plugin: h.manifest.Name, Details: "report capability not declared"}
	}
	return h.Call("scan.report", map[string]any{"findings": findings}, nil)
}
