// Package ir defines the intermediate representation shared by parsers,
// matchers and the taint engine.
//
// Two complementary views exist for every file. IR-Doc flattens a document
// into an ordered sequence of events, each addressed by a dotted path
// ("services[0].image", "FROM", "call.subprocess.run"). For code languages
// the file additionally carries an AST arena plus control-flow, data-flow
// and call graphs built on top of it. Graph nodes reference AST nodes by
// integer index, never by pointer, so cycles are representable and the
// arenas stay immutable after parsing.
package ir

// Meta locates an IR event or AST node in its source file.
// Line and Column are 1-based; parsers must never emit zero values.
type Meta struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Node is a single IR-Doc event.
type Node struct {
	ID   uint64 `json:"id"`
	Kind string `json:"kind"`
	Path string `json:"path"`
	Value any   `json:"value"`
	Meta Meta   `json:"meta"`
}

// StableID derives a deterministic identifier from a node's location and
// logical path. FNV-1a over path+name mixed with the position keeps ids
// stable across runs without pulling in a hash dependency.
func StableID(file string, line, column int, name string) uint64 {
	const (
		offset64 = 0xcbf29ce484222325
		prime64  = 0x100000001b3
	)
	h := uint64(offset64)
	for i := 0; i < len(file); i++ {
		h ^= uint64(file[i])
		h *= prime64
	}
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= prime64
	}
	h ^= uint64(line)<<32 | uint64(uint32(column))
	return h
}

// Symbol tracks a name visible in a file: its defining DFG node, whether
// the current value has passed through a sanitizer, and the canonical name
// it aliases (import alias, variable copy).
type Symbol struct {
	Name      string `json:"name"`
	Sanitized bool   `json:"sanitized"`
	Def       uint64 `json:"def,omitempty"`
	HasDef    bool   `json:"has_def,omitempty"`
	AliasOf   string `json:"alias_of,omitempty"`
}

// FileIR bundles everything the engine knows about one parsed file.
type FileIR struct {
	Path     string `json:"file_path"`
	Language string `json:"file_type"`
	Nodes    []Node `json:"nodes"`

	// Source holds the raw file content for textual matchers and excerpts.
	Source string `json:"source,omitempty"`

	// AST is present for code languages only.
	AST *FileAST `json:"ast,omitempty"`

	DFG       *DFG       `json:"dfg,omitempty"`
	CFG       *CFG       `json:"cfg,omitempty"`
	CallGraph *CallGraph `json:"callgraph,omitempty"`

	// Symbols maps names to their resolved state; alias chains are baked
	// in by the parser so consumers never see raw import spellings.
	Symbols map[string]*Symbol `json:"symbols,omitempty"`

	// SymbolModules records, for cross-file resolution, which module
	// defined each symbol.
	SymbolModules map[string]string `json:"symbol_modules,omitempty"`

	// Suppressed lists 1-based line numbers covered by a suppression
	// comment on the same or the preceding line.
	Suppressed map[int]struct{} `json:"suppressed,omitempty"`

	// Diagnostics collects tolerated parse problems.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// NewFileIR returns an empty FileIR for the given path and language tag.
func NewFileIR(path, language string) *FileIR {
	return &FileIR{
		Path:          path,
		Language:      language,
		Symbols:       make(map[string]*Symbol),
		SymbolModules: make(map[string]string),
		Suppressed:    make(map[int]struct{}),
	}
}

// Push appends an IR-Doc event, assigning a stable id when the caller left
// it zero.
func (f *FileIR) Push(n Node) {
	if n.ID == 0 {
		n.ID = StableID(f.Path, n.Meta.Line, n.Meta.Column, n.Path)
	}
	f.Nodes = append(f.Nodes, n)
}

// Symbol returns the symbol record for name, creating it on first use.
func (f *FileIR) Symbol(name string) *Symbol {
	if s, ok := f.Symbols[name]; ok {
		return s
	}
	s := &Symbol{Name: name}
	f.Symbols[name] = s
	return s
}

// ResolveAlias follows alias links to a canonical name. Dotted names
// resolve their head segment only; cycles terminate at the last new name.
func (f *FileIR) ResolveAlias(name string) string {
	if head, tail, ok := splitHead(name); ok {
		resolved := f.ResolveAlias(head)
		if tail == "" {
			return resolved
		}
		return resolved + "." + tail
	}
	current := name
	visited := map[string]struct{}{current: {}}
	last := ""
	for {
		sym, ok := f.Symbols[current]
		if !ok || sym.AliasOf == "" {
			break
		}
		last = sym.AliasOf
		if _, seen := visited[last]; seen {
			break
		}
		visited[last] = struct{}{}
		current = last
	}
	if last != "" {
		return last
	}
	return current
}

func splitHead(name string) (head, tail string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}
