package parsers

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zendesk/irscan/ir"
)

// Project is the multi-file view used for interprocedural analysis:
// parsed files keyed by module name, with imported symbols linked across
// files.
type Project struct {
	Modules map[string]*ir.FileIR
}

// ParseProject parses every analysable file under root in parallel.
// Individual file failures are tolerated: the file is skipped and the rest
// of the project still links.
func (p *Parser) ParseProject(root string) (*Project, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if DetectType(path) != "" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	proj := &Project{Modules: make(map[string]*ir.FileIR)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, path := range paths {
		g.Go(func() error {
			src, err := os.ReadFile(path)
			if err != nil {
				p.logger.Warn("skipping unreadable file", "file", path, "error", err)
				return nil
			}
			fir, perr := p.Parse(path, src)
			if fir == nil {
				return nil
			}
			if perr != nil {
				p.logger.Debug("partial parse", "file", path, "error", perr)
			}
			module := moduleName(root, path)
			for name, sym := range fir.Symbols {
				if sym.HasDef {
					fir.SymbolModules[name] = module
				}
			}
			mu.Lock()
			proj.Modules[module] = fir
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	proj.linkImports()
	return proj, nil
}

// moduleName derives a dotted module name from the path relative to root.
// Python packages collapse __init__.py onto their directory.
func moduleName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	if len(parts) > 0 && parts[len(parts)-1] == "__init__.py" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > 0 {
		last := parts[len(parts)-1]
		if i := strings.LastIndex(last, "."); i > 0 {
			parts[len(parts)-1] = last[:i]
		}
	}
	return strings.Join(parts, ".")
}

// linkImports resolves aliases pointing at other modules, importing the
// target module's definitions into the referencing file's symbol table so
// a DFG use in one file can reach a def in another.
func (proj *Project) linkImports() {
	for _, fir := range proj.Modules {
		type link struct{ alias, target string }
		var links []link
		for alias, sym := range fir.Symbols {
			if sym.AliasOf != "" {
				links = append(links, link{alias: alias, target: sym.AliasOf})
			}
		}
		sort.Slice(links, func(i, j int) bool { return links[i].alias < links[j].alias })

		for _, l := range links {
			if mod, ok := proj.Modules[l.target]; ok {
				proj.importModuleSymbols(fir, l.alias, l.target, mod)
				continue
			}
			// `from pkg.mod import member` style: the target names a
			// symbol inside a module.
			if i := strings.LastIndex(l.target, "."); i > 0 {
				modName, member := l.target[:i], l.target[i+1:]
				if mod, ok := proj.Modules[modName]; ok {
					if sym, ok := mod.Symbols[member]; ok && sym.HasDef {
						imported := fir.Symbol(l.alias)
						imported.Def, imported.HasDef = sym.Def, true
						imported.Sanitized = sym.Sanitized
						imported.AliasOf = l.target
						fir.SymbolModules[l.alias] = modName
					}
				}
			}
		}

		proj.relinkUses(fir)
	}
}

func (proj *Project) importModuleSymbols(fir *ir.FileIR, alias, target string, mod *ir.FileIR) {
	names := make([]string, 0, len(mod.Symbols))
	for name := range mod.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sym := mod.Symbols[name]
		if !sym.HasDef {
			continue
		}
		canonical := target + "." + name
		c := fir.Symbol(canonical)
		c.Def, c.HasDef = sym.Def, true
		c.Sanitized = sym.Sanitized
		qualified := alias + "." + name
		q := fir.Symbol(qualified)
		q.Def, q.HasDef = sym.Def, true
		q.Sanitized = sym.Sanitized
		q.AliasOf = canonical
		moduleOf := mod.SymbolModules[name]
		if moduleOf == "" {
			moduleOf = target
		}
		fir.SymbolModules[canonical] = moduleOf
		fir.SymbolModules[qualified] = moduleOf
	}
}

// relinkUses adds def→use edges that only become resolvable after
// cross-module linking.
func (proj *Project) relinkUses(fir *ir.FileIR) {
	if fir.DFG == nil {
		return
	}
	existing := make(map[[2]uint64]struct{}, len(fir.DFG.Edges))
	for _, e := range fir.DFG.Edges {
		existing[[2]uint64{e.From, e.To}] = struct{}{}
	}
	for i := range fir.DFG.Nodes {
		n := &fir.DFG.Nodes[i]
		if n.Kind != ir.DFUse {
			continue
		}
		canonical := fir.ResolveAlias(n.Name)
		sym, ok := fir.Symbols[canonical]
		if !ok || !sym.HasDef {
			continue
		}
		key := [2]uint64{sym.Def, n.ID}
		if _, dup := existing[key]; dup {
			continue
		}
		existing[key] = struct{}{}
		fir.DFG.AddEdge(sym.Def, n.ID)
	}
}
