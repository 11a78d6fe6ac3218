package asm

import (
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/source"
)

// Parse parses an assembly document.
//
// Grammar (precedence highest to lowest):
//
//	postfix:  `.field`, parentheses
//	prefix:   `!`, is_present, is_null, builders, call, reduce, head,
//	          pop, point_get, s_*, m_*, t_*, build_*, select,
//	          unwrap_optional
//	cons:     `:` (right-associative)
//	additive: `+`, `-`, `??` (left)
//	equality: `==`, `!=` (left)
//	boolean:  `&&`, `||` (left)
//
// `$` introduces a right-associated sub-expression wherever an operand
// is expected, in function-application style.
func Parse(input string) (*Program, error) {
	tokens, err := source.Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseProgram()
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

func (p *parser) atIdent(text string) bool {
	tok := p.peek()
	return tok.Kind == source.TokenIdent && tok.Text == text
}

func (p *parser) eatPunct(text string) bool {
	if p.atPunct(text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) eatIdent(text string) bool {
	if p.atIdent(text) {
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

func (p *parser) parseProgram() (*Program, error) {
	prog := &Program{}
	for {
		tok := p.peek()
		if tok.Kind == source.TokenEOF {
			return prog, nil
		}
		switch {
		case p.atIdent("type"):
			alias, err := p.parseTypeAlias()
			if err != nil {
				return nil, err
			}
			prog.TypeAliases = append(prog.TypeAliases, alias)
		case p.atIdent("graph") || p.atIdent("export"):
			g, err := p.parseGraph()
			if err != nil {
				return nil, err
			}
			prog.Graphs = append(prog.Graphs, g)
		default:
			return nil, rdberr.NewAt(rdberr.ParseError, tok.Loc, "expected `graph`, `export`, or `type`, got %s", describe(tok))
		}
	}
}

func (p *parser) parseTypeAlias() (*TypeAlias, error) {
	p.advance() // `type`
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("="); err != nil {
		return nil, err
	}
	ty, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &TypeAlias{Name: name.Text, Loc: name.Loc, Type: ty}, nil
}

func (p *parser) parseGraph() (*Graph, error) {
	exported := p.eatIdent("export")
	kw := p.peek()
	if !p.eatIdent("graph") {
		return nil, rdberr.NewAt(rdberr.ParseError, kw.Loc, "expected `graph`, got %s", describe(kw))
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	g := &Graph{Name: name.Text, Loc: name.Loc, Exported: exported}

	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for !p.atPunct(")") {
		pname, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		pty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		g.Params = append(g.Params, &Param{Name: pname.Text, Loc: pname.Loc, Type: pty})
		if !p.eatPunct(",") {
			break
		}
	}
	if _, err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	if p.eatPunct(":") {
		g.Return, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}

	g.Body, err = p.parseBlock()
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (p *parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for !p.atPunct("}") {
		if p.peek().Kind == source.TokenEOF {
			return nil, rdberr.NewAt(rdberr.ParseError, p.peek().Loc, "unterminated block")
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	p.advance() // `}`
	return stmts, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	tok := p.peek()
	switch {
	case p.atIdent("return"):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &ReturnStmt{Loc: tok.Loc, Expr: e}, nil

	case p.atIdent("throw"):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &ThrowStmt{Loc: tok.Loc, Expr: e}, nil

	case p.atIdent("if"):
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		then, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		var els []Stmt
		if p.eatIdent("else") {
			els, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
		return &IfStmt{Loc: tok.Loc, Cond: cond, Then: then, Else: els}, nil
	}

	// `name = expr;` or a bare expression. A lone identifier followed
	// by `=` is a node binding; `==` is an expression.
	if tok.Kind == source.TokenIdent &&
		p.tokens[p.pos+1].Kind == source.TokenPunct && p.tokens[p.pos+1].Text == "=" {
		p.advance()
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &NodeStmt{Name: tok.Text, Loc: tok.Loc, Expr: e}, nil
	}

	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &NodeStmt{Loc: tok.Loc, Expr: e}, nil
}

// Expressions.

func (p *parser) parseExpr() (Expr, error) {
	return p.parseBool()
}

func (p *parser) parseBool() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.atPunct("&&"):
			op = OpAnd
		case p.atPunct("||"):
			op = OpOr
		default:
			return left, nil
		}
		loc := p.advance().Loc
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &Binary{exprBase: exprBase{At: loc}, Op: op, L: left, R: right}
	}
}

func (p *parser) parseEquality() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.atPunct("=="):
			op = OpEq
		case p.atPunct("!="):
			op = OpNe
		default:
			return left, nil
		}
		loc := p.advance().Loc
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{exprBase: exprBase{At: loc}, Op: op, L: left, R: right}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseCons()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.atPunct("+"):
			op = OpAdd
		case p.atPunct("-"):
			op = OpSub
		case p.atPunct("??"):
			op = OpOrElse
		default:
			return left, nil
		}
		loc := p.advance().Loc
		right, err := p.parseCons()
		if err != nil {
			return nil, err
		}
		left = &Binary{exprBase: exprBase{At: loc}, Op: op, L: left, R: right}
	}
}

func (p *parser) parseCons() (Expr, error) {
	head, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	if p.atPunct(":") {
		loc := p.advance().Loc
		tail, err := p.parseCons()
		if err != nil {
			return nil, err
		}
		return &Prepend{exprBase: exprBase{At: loc}, Head: head, Tail: tail}, nil
	}
	return head, nil
}

// parseOperand parses one operand of a prefix operator. `$` makes the
// remainder of the expression a single operand.
func (p *parser) parseOperand() (Expr, error) {
	if p.atPunct("$") {
		p.advance()
		return p.parseExpr()
	}
	return p.parsePrefix()
}

// parseIdentArg parses the `(k)` argument of m_insert/m_delete/
// t_insert/build_table-style operators.
func (p *parser) parseIdentArg() (string, error) {
	if _, err := p.expectPunct("("); err != nil {
		return "", err
	}
	name, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	if _, err := p.expectPunct(")"); err != nil {
		return "", err
	}
	return name.Text, nil
}

func (p *parser) parsePrefix() (Expr, error) {
	tok := p.peek()

	if p.atPunct("!") {
		p.advance()
		x, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &Not{exprBase: exprBase{At: tok.Loc}, X: x}, nil
	}

	if tok.Kind == source.TokenIdent {
		base := exprBase{At: tok.Loc}
		switch tok.Text {
		case "is_present":
			p.advance()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &IsPresent{exprBase: base, X: x}, nil
		case "is_null":
			p.advance()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &IsNull{exprBase: base, X: x}, nil
		case "unwrap_optional":
			p.advance()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &UnwrapOptional{exprBase: base, X: x}, nil
		case "head":
			p.advance()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &Head{exprBase: base, List: x}, nil
		case "pop":
			p.advance()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &Pop{exprBase: base, List: x}, nil
		case "build_set":
			p.advance()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &BuildSet{exprBase: base, Elem: x}, nil
		case "create_map":
			p.advance()
			return &CreateMap{exprBase: base}, nil
		case "create_list":
			p.advance()
			if _, err := p.expectPunct("("); err != nil {
				return nil, err
			}
			ty, err := p.parseType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &CreateList{exprBase: base, Elem: ty}, nil
		case "build_table":
			p.advance()
			if _, err := p.expectPunct("("); err != nil {
				return nil, err
			}
			ty, err := p.parseType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			m, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &BuildTable{exprBase: base, Type: ty, Map: m}, nil
		case "m_insert", "t_insert":
			p.advance()
			key, err := p.parseIdentArg()
			if err != nil {
				return nil, err
			}
			v, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			b, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			if tok.Text == "m_insert" {
				return &MapInsert{exprBase: base, Key: key, Value: v, Base: b}, nil
			}
			return &TableInsert{exprBase: base, Key: key, Value: v, Base: b}, nil
		case "m_delete":
			p.advance()
			key, err := p.parseIdentArg()
			if err != nil {
				return nil, err
			}
			b, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &MapDelete{exprBase: base, Key: key, Base: b}, nil
		case "s_insert":
			p.advance()
			set, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			v, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &SetInsert{exprBase: base, Set: set, Value: v}, nil
		case "s_delete":
			p.advance()
			set, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			k, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &SetDelete{exprBase: base, Set: set, Key: k}, nil
		case "point_get":
			p.advance()
			set, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			k, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &PointGet{exprBase: base, Set: set, Key: k}, nil
		case "select":
			p.advance()
			a, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			b, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &Select{exprBase: base, A: a, B: b}, nil
		case "call":
			p.advance()
			name, err := p.parseIdentArg()
			if err != nil {
				return nil, err
			}
			call := &Call{exprBase: base, Graph: name}
			if _, err := p.expectPunct("["); err != nil {
				return nil, err
			}
			for !p.atPunct("]") {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if !p.eatPunct(",") {
					break
				}
			}
			if _, err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			return call, nil
		case "reduce":
			p.advance()
			name, err := p.parseIdentArg()
			if err != nil {
				return nil, err
			}
			init, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			coll, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &Reduce{exprBase: base, Graph: name, Init: init, Coll: coll}, nil
		case "range_reduce":
			p.advance()
			name, err := p.parseIdentArg()
			if err != nil {
				return nil, err
			}
			from, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			to, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			init, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &RangeReduce{exprBase: base, Graph: name, From: from, To: to, Init: init}, nil
		case "param", "node":
			p.advance()
			name, err := p.parseIdentArg()
			if err != nil {
				return nil, err
			}
			if tok.Text == "param" {
				return &ParamExpr{exprBase: base, Name: name}, nil
			}
			return &Ident{exprBase: base, Name: name}, nil
		case "const":
			p.advance()
			if _, err := p.expectPunct("("); err != nil {
				return nil, err
			}
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return p.parsePostfixFrom(lit)
		}
	}

	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parsePostfixFrom(primary)
}

func (p *parser) parsePostfixFrom(e Expr) (Expr, error) {
	for p.atPunct(".") {
		loc := p.advance().Loc
		field, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		e = &FieldExpr{exprBase: exprBase{At: loc}, Base: e, Field: field.Text}
	}
	return e, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case source.TokenInt, source.TokenString, source.TokenHexBytes:
		return p.parseLiteral()
	case source.TokenIdent:
		switch tok.Text {
		case "true", "false", "null", "empty_set":
			return p.parseLiteral()
		}
		p.advance()
		return &Ident{exprBase: exprBase{At: tok.Loc}, Name: tok.Text}, nil
	case source.TokenPunct:
		if tok.Text == "(" {
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return p.parsePostfixFrom(e)
		}
		if tok.Text == "$" {
			p.advance()
			return p.parseExpr()
		}
	}
	return nil, rdberr.NewAt(rdberr.ParseError, tok.Loc, "expected expression, got %s", describe(tok))
}

func (p *parser) parseLiteral() (Expr, error) {
	tok := p.advance()
	base := exprBase{At: tok.Loc}
	switch tok.Kind {
	case source.TokenInt:
		return &Literal{exprBase: base, Kind: LitInt, Int: tok.Int}, nil
	case source.TokenString:
		return &Literal{exprBase: base, Kind: LitString, Str: tok.Str}, nil
	case source.TokenHexBytes:
		return &Literal{exprBase: base, Kind: LitBytes, Bytes: tok.Bytes}, nil
	case source.TokenIdent:
		switch tok.Text {
		case "true":
			return &Literal{exprBase: base, Kind: LitBool, Bool: true}, nil
		case "false":
			return &Literal{exprBase: base, Kind: LitBool, Bool: false}, nil
		case "null", "empty_set":
			if _, err := p.expectPunct("<"); err != nil {
				return nil, err
			}
			ty, err := p.parseType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectPunct(">"); err != nil {
				return nil, err
			}
			kind := LitNull
			if tok.Text == "empty_set" {
				kind = LitEmptySet
			}
			return &Literal{exprBase: base, Kind: kind, Type: ty}, nil
		}
	}
	return nil, rdberr.NewAt(rdberr.InvalidLiteral, tok.Loc, "expected literal, got %s", describe(tok))
}

// parseType parses an assembly type expression.
func (p *parser) parseType() (*TypeRef, error) {
	tok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	switch tok.Text {
	case "int64", "double", "string", "bytes":
		return &TypeRef{Kind: TypePrimitive, Loc: tok.Loc, Name: tok.Text}, nil
	case "bool":
		return &TypeRef{Kind: TypeBool, Loc: tok.Loc}, nil
	case "schema":
		return &TypeRef{Kind: TypeSchema, Loc: tok.Loc}, nil
	case "set", "list":
		if _, err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		inner, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		kind := TypeSet
		if tok.Text == "list" {
			kind = TypeList
		}
		return &TypeRef{Kind: kind, Loc: tok.Loc, Args: []*TypeRef{inner}}, nil
	case "map":
		ref := &TypeRef{Kind: TypeMap, Loc: tok.Loc}
		if _, err := p.expectPunct("{"); err != nil {
			return nil, err
		}
		for !p.atPunct("}") {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectPunct(":"); err != nil {
				return nil, err
			}
			fty, err := p.parseType()
			if err != nil {
				return nil, err
			}
			ref.MapFields = append(ref.MapFields, MapField{Name: name.Text, Type: fty})
			if !p.eatPunct(",") {
				break
			}
		}
		if _, err := p.expectPunct("}"); err != nil {
			return nil, err
		}
		return ref, nil
	default:
		ref := &TypeRef{Kind: TypeTable, Loc: tok.Loc, Name: tok.Text}
		if p.eatPunct("<") {
			for {
				arg, err := p.parseType()
				if err != nil {
					return nil, err
				}
				ref.Args = append(ref.Args, arg)
				if p.eatPunct(",") {
					continue
				}
				if _, err := p.expectPunct(">"); err != nil {
					return nil, err
				}
				break
			}
		}
		return ref, nil
	}
}
