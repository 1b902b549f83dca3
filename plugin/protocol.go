// Package plugin hosts external workers as child processes speaking
// newline-delimited JSON-RPC 2.0 over stdin/stdout. The host only calls
// methods whose capability the plugin's manifest declares, enforces the
// manifest's resource limits (cpu and address space as kernel rlimits on
// the child, wall time by a kill timer), and rewrites workspace paths to
// stable virtual paths for plugins that declare no filesystem access.
package plugin

import (
	"encoding/json"
	"fmt"
)

// APIVersion is the protocol version sent in plugin.init.
const APIVersion = "1.0"

// JSON-RPC error codes of the plugin protocol.
const (
	CodeInternal      = 1000
	CodeBadConfig     = 1001
	CodeUnknownMethod = 1002
	CodeInvalidParams = 1003
	CodeLimitExceeded = 1004
	CodeFSError       = 1005
)

// Capability names a plugin may declare.
const (
	CapDiscover  = "discover"
	CapTransform = "transform"
	CapAnalyze   = "analyze"
	CapReport    = "report"
	CapRules     = "rules"
)

// ProtocolError marks a plugin that broke the wire contract. The plugin
// is unhealthy for the remainder of the scan.
type ProtocolError struct {
	Plugin  string
	Details string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.Plugin, e.Details)
}

// request is an outgoing JSON-RPC call.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is an incoming JSON-RPC reply or notification.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	// Method/Params are set on notifications from the plugin
	// (plugin.log).
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Limits bounds a plugin's resource usage.
type Limits struct {
	CPUMS  int64 `json:"cpu_ms,omitempty"`
	MemMB  int64 `json:"mem_mb,omitempty"`
	WallMS int64 `json:"wall_ms,omitempty"`
}

// InitParams is sent with plugin.init.
type InitParams struct {
	APIVersion            string            `json:"api_version"`
	SessionID             string            `json:"session_id"`
	WorkspaceRoot         string            `json:"workspace_root"`
	RulesRoot             string            `json:"rules_root"`
	CapabilitiesRequested []string          `json:"capabilities_requested"`
	Options               map[string]any    `json:"options,omitempty"`
	Limits                *Limits           `json:"limits,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	CWD                   string            `json:"cwd,omitempty"`
}

// InitResult is the plugin.init reply.
type InitResult struct {
	OK            bool     `json:"ok"`
	Capabilities  []string `json:"capabilities"`
	PluginVersion string   `json:"plugin_version"`
}

// FileSpec describes a file exchanged with a plugin. Content is inlined
// base64 when the plugin cannot read the filesystem itself.
type FileSpec struct {
	Path       string `json:"path"`
	SHA256     string `json:"sha256,omitempty"`
	Language   string `json:"language,omitempty"`
	ContentB64 string `json:"content_b64,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// DiscoverParams asks a discover-capable plugin to enumerate files.
type DiscoverParams struct {
	Path       string   `json:"path,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	MaxDepth   int      `json:"max_depth,omitempty"`
}

// DiscoverResult is the repo.discover reply.
type DiscoverResult struct {
	Files    []FileSpec      `json:"files"`
	External []FileSpec      `json:"external,omitempty"`
	Metrics  json.RawMessage `json:"metrics,omitempty"`
}

// FilesParams carries files for file.transform and file.analyze.
type FilesParams struct {
	Files []FileSpec `json:"files"`
}

// PluginFinding is a finding reported by an analyze plugin; the host maps
// it onto the engine's finding type and rewrites virtual paths back.
type PluginFinding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Excerpt  string `json:"excerpt"`
	Message  string `json:"message"`
}

// AnalyzeResult is the file.analyze reply.
type AnalyzeResult struct {
	Findings []PluginFinding `json:"findings"`
}

// logParams is the payload of a plugin.log notification.
type logParams struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}
