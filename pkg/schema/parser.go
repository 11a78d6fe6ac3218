package schema

import (
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/source"
)

// Parse parses a schema document.
//
// Grammar:
//
//	schema     := item*
//	item       := typeDef | export
//	typeDef    := "type" ident generics? "{" (field ",")* field? "}"
//	generics   := "<" ident ("," ident)* ">"
//	field      := annotation* ident ":" typeExpr "?"?
//	annotation := "@" ident ("(" string ("," string)* ")")?
//	typeExpr   := ident ("<" typeExpr ("," typeExpr)* ">")?
//	export     := "export" typeExpr ident ";"
func Parse(input string) (*Source, error) {
	tokens, err := source.Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseSource()
}

type parser struct {
	tokens []source.Token
	pos    int
}

func (p *parser) peek() source.Token { return p.tokens[p.pos] }

func (p *parser) advance() source.Token {
	tok := p.tokens[p.pos]
	if tok.Kind != source.TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) atPunct(text string) bool {
	tok := p.peek()
	return tok.Kind == source.TokenPunct && tok.Text == text
}

func (p *parser) eatPunct(text string) bool {
	if p.atPunct(text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectPunct(text string) (source.Token, error) {
	tok := p.peek()
	if tok.Kind != source.TokenPunct || tok.Text != text {
		return tok, rdberr.NewAt(rdberr.ParseError, tok.Loc, "expected %q, got %s", text, describe(tok))
	}
	return p.advance(), nil
}

func (p *parser) expectIdent() (source.Token, error) {
	tok := p.peek()
	if tok.Kind != source.TokenIdent {
		return tok, rdberr.NewAt(rdberr.ParseError, tok.Loc, "expected identifier, got %s", describe(tok))
	}
	return p.advance(), nil
}

func describe(tok source.Token) string {
	if tok.Kind == source.TokenPunct || tok.Kind == source.TokenIdent {
		return "`" + tok.Text + "`"
	}
	return tok.Kind.String()
}

func (p *parser) parseSource() (*Source, error) {
	src := &Source{}
	for {
		tok := p.peek()
		if tok.Kind == source.TokenEOF {
			return src, nil
		}
		if tok.Kind != source.TokenIdent {
			return nil, rdberr.NewAt(rdberr.ParseError, tok.Loc, "expected `type` or `export`, got %s", describe(tok))
		}
		switch tok.Text {
		case "type":
			td, err := p.parseTypeDef()
			if err != nil {
				return nil, err
			}
			src.Types = append(src.Types, td)
		case "export":
			ex, err := p.parseExport()
			if err != nil {
				return nil, err
			}
			src.Exports = append(src.Exports, ex)
		default:
			return nil, rdberr.NewAt(rdberr.ParseError, tok.Loc, "expected `type` or `export`, got %s", describe(tok))
		}
	}
}

func (p *parser) parseTypeDef() (*TypeDef, error) {
	p.advance() // `type`
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	td := &TypeDef{Name: name.Text, Loc: name.Loc}

	if p.eatPunct("<") {
		for {
			g, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			td.Generics = append(td.Generics, g.Text)
			if p.eatPunct(",") {
				continue
			}
			if _, err := p.expectPunct(">"); err != nil {
				return nil, err
			}
			break
		}
	}

	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.atPunct("}") {
		field, err := p.parseField()
		if err != nil {
			return nil, err
		}
		td.Fields = append(td.Fields, field)
		if !p.eatPunct(",") {
			break
		}
	}
	if _, err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return td, nil
}

func (p *parser) parseField() (*FieldDef, error) {
	var annotations []*AnnotationDef
	for p.atPunct("@") {
		ann, err := p.parseAnnotation()
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, ann)
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	ty, err := p.parseTypeExpr()
	if err != nil {
		return nil, err
	}
	optional := p.eatPunct("?")
	return &FieldDef{
		Name:        name.Text,
		Loc:         name.Loc,
		Type:        ty,
		Optional:    optional,
		Annotations: annotations,
	}, nil
}

func (p *parser) parseAnnotation() (*AnnotationDef, error) {
	p.advance() // `@`
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ann := &AnnotationDef{Name: name.Text, Loc: name.Loc}
	if p.eatPunct("(") {
		for {
			tok := p.peek()
			if tok.Kind != source.TokenString {
				return nil, rdberr.NewAt(rdberr.ParseError, tok.Loc, "annotation arguments must be string literals, got %s", describe(tok))
			}
			p.advance()
			ann.Args = append(ann.Args, tok.Str)
			if p.eatPunct(",") {
				continue
			}
			if _, err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	return ann, nil
}

func (p *parser) parseTypeExpr() (*TypeExpr, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	te := &TypeExpr{Name: name.Text, Loc: name.Loc}
	if p.eatPunct("<") {
		for {
			arg, err := p.parseTypeExpr()
			if err != nil {
				return nil, err
			}
			te.Args = append(te.Args, arg)
			if p.eatPunct(",") {
				continue
			}
			if _, err := p.expectPunct(">"); err != nil {
				return nil, err
			}
			break
		}
	}
	return te, nil
}

func (p *parser) parseExport() (*ExportDef, error) {
	kw := p.advance() // `export`
	ty, err := p.parseTypeExpr()
	if err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &ExportDef{Name: name.Text, Loc: kw.Loc, Type: ty}, nil
}
