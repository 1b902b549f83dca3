package parsers

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/inspector"

	"github.com/zendesk/irscan/ir"
)

// parseGo analyses Go sources with the standard parser. Depth is L2:
// imports with alias resolution, assignment and call events with
// qualified names. Partial files still produce events thanks to
// parser.AllErrors mode.
func (p *Parser) parseGo(fir *ir.FileIR, src []byte) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, fir.Path, src, parser.ParseComments|parser.AllErrors)
	var perr error
	if err != nil {
		perr = &ParseError{File: fir.Path, Details: err.Error()}
	}
	if file == nil {
		return perr
	}

	meta := func(pos token.Pos) ir.Meta {
		position := fset.Position(pos)
		line, col := position.Line, position.Column
		if line < 1 {
			line = 1
		}
		if col < 1 {
			col = 1
		}
		return ir.Meta{File: fir.Path, Line: line, Column: col}
	}

	for _, imp := range file.Imports {
		path, perr2 := strconv.Unquote(imp.Path.Value)
		if perr2 != nil {
			continue
		}
		alias := path[strings.LastIndex(path, "/")+1:]
		var value any
		if imp.Name != nil && imp.Name.Name != "_" && imp.Name.Name != "." {
			alias = imp.Name.Name
			value = alias
		}
		fir.Push(ir.Node{Kind: LangGo, Path: "import." + path, Value: value, Meta: meta(imp.Pos())})
		sym := fir.Symbol(alias)
		sym.AliasOf = path
	}

	insp := inspector.New([]*ast.File{file})
	insp.Preorder([]ast.Node{(*ast.AssignStmt)(nil), (*ast.CallExpr)(nil)}, func(n ast.Node) {
		switch node := n.(type) {
		case *ast.AssignStmt:
			if len(node.Lhs) == 0 {
				return
			}
			if name, ok := exprName(node.Lhs[0]); ok {
				if len(node.Rhs) == 1 {
					if _, isLit := node.Rhs[0].(*ast.BasicLit); isLit {
						fir.Push(ir.Node{Kind: LangGo, Path: "assign." + name, Meta: meta(node.Pos())})
					}
				}
			}
		case *ast.CallExpr:
			name, ok := exprName(node.Fun)
			if !ok {
				return
			}
			canonical := fir.ResolveAlias(name)
			fir.Push(ir.Node{Kind: LangGo, Path: "call." + canonical, Meta: meta(node.Pos())})
		}
	})
	return perr
}

func exprName(e ast.Expr) (string, bool) {
	switch v := e.(type) {
	case *ast.Ident:
		return v.Name, true
	case *ast.SelectorExpr:
		base, ok := exprName(v.X)
		if !ok {
			return v.Sel.Name, true
		}
		return base + "." + v.Sel.Name, true
	}
	return "", false
}
