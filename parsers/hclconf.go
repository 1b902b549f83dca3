package parsers

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/zendesk/irscan/ir"
)

// parseHCL flattens Terraform configuration into IR-Doc events. Block
// labels join the dotted path (`resource.aws_s3_bucket.b.acl`), attribute
// values evaluate without a context so only literals and templates of
// literals project; anything referencing variables records a null value at
// the attribute's position, which still lets path-presence rules fire.
func (p *Parser) parseHCL(fir *ir.FileIR) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL([]byte(fir.Source), fir.Path)
	var perr error
	if diags.HasErrors() {
		perr = &ParseError{File: fir.Path, Details: diags.Error()}
	}
	if file == nil {
		return perr
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return perr
	}
	p.flattenHCLBody(fir, body, "")
	return perr
}

func (p *Parser) flattenHCLBody(fir *ir.FileIR, body *hclsyntax.Body, prefix string) {
	for _, attr := range body.Attributes {
		path := joinPath(prefix, attr.Name)
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || !val.IsWhollyKnown() {
			p.pushHCLValue(fir, path, cty.NullVal(cty.DynamicPseudoType), attr.SrcRange.Start)
			continue
		}
		p.pushHCLValue(fir, path, val, attr.Expr.Range().Start)
	}
	for _, block := range body.Blocks {
		path := joinPath(prefix, block.Type)
		for _, label := range block.Labels {
			path = path + "." + label
		}
		p.flattenHCLBody(fir, block.Body, path)
	}
}

func (p *Parser) pushHCLValue(fir *ir.FileIR, path string, val cty.Value, pos hcl.Pos) {
	line, col := pos.Line, pos.Column
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	push := func(path string, v any) {
		fir.Push(ir.Node{
			Kind:  fir.Language,
			Path:  path,
			Value: v,
			Meta:  ir.Meta{File: fir.Path, Line: line, Column: col},
		})
	}

	switch {
	case val.IsNull():
		push(path, nil)
	case val.Type() == cty.String:
		push(path, val.AsString())
	case val.Type() == cty.Bool:
		push(path, val.True())
	case val.Type() == cty.Number:
		push(path, ctyNumber(val))
	case val.Type().IsTupleType() || val.Type().IsListType() || val.Type().IsSetType():
		i := 0
		for it := val.ElementIterator(); it.Next(); i++ {
			_, ev := it.Element()
			p.pushHCLValue(fir, fmt.Sprintf("%s[%d]", path, i), ev, pos)
		}
	case val.Type().IsObjectType() || val.Type().IsMapType():
		for it := val.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			key := ""
			if kv.Type() == cty.String {
				key = kv.AsString()
			} else {
				key = kv.GoString()
			}
			p.pushHCLValue(fir, joinPath(path, key), ev, pos)
		}
	default:
		push(path, nil)
	}
}

func ctyNumber(val cty.Value) any {
	bf := val.AsBigFloat()
	if bf.IsInt() {
		if i, acc := bf.Int64(); acc == big.Exact {
			return i
		}
	}
	f, _ := bf.Float64()
	return f
}
