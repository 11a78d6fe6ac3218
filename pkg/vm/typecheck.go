package vm

import (
	"github.com/refinedb/refinedb/pkg/asm"
	"github.com/refinedb/refinedb/pkg/plan"
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
	"github.com/refinedb/refinedb/pkg/value"
)

// Program is a type-checked TreeWalker program bound to a schema and a
// storage plan, ready for repeated execution.
type Program struct {
	Schema *schema.Schema
	Plan   *plan.Plan
	Source *asm.Program

	graphs  map[string]*graphInfo
	aliases map[string]*asm.TypeRef

	// ifBindings records, per if statement, every node name defined in
	// either branch with its merged type. The evaluator fills names the
	// taken branch did not bind with typed nulls.
	ifBindings map[*asm.IfStmt]map[string]Type
}

type graphInfo struct {
	graph  *asm.Graph
	params []Type
	ret    Type // nil when the graph declares no return type
}

// Compile type-checks an assembly program against a schema and plan.
func Compile(s *schema.Schema, p *plan.Plan, prog *asm.Program) (*Program, error) {
	out := &Program{
		Schema:     s,
		Plan:       p,
		Source:     prog,
		graphs:     make(map[string]*graphInfo, len(prog.Graphs)),
		aliases:    make(map[string]*asm.TypeRef, len(prog.TypeAliases)),
		ifBindings: make(map[*asm.IfStmt]map[string]Type),
	}
	for _, alias := range prog.TypeAliases {
		if _, ok := out.aliases[alias.Name]; ok {
			return nil, rdberr.NewAt(rdberr.TypeError, alias.Loc, "duplicate type alias `%s`", alias.Name)
		}
		out.aliases[alias.Name] = alias.Type
	}

	// Bind every graph's signature first so calls resolve in any order.
	for _, g := range prog.Graphs {
		if _, ok := out.graphs[g.Name]; ok {
			return nil, rdberr.NewAt(rdberr.TypeError, g.Loc, "duplicate graph `%s`", g.Name)
		}
		info := &graphInfo{graph: g}
		for _, param := range g.Params {
			pt, err := out.resolveParamType(param.Type)
			if err != nil {
				return nil, err
			}
			info.params = append(info.params, pt)
		}
		if g.Return != nil {
			rt, err := resolveTypeRef(s, out.aliases, g.Return)
			if err != nil {
				return nil, err
			}
			info.ret = rt
		}
		out.graphs[g.Name] = info
	}

	for _, g := range prog.Graphs {
		if err := out.checkGraph(out.graphs[g.Name]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompileString parses and type-checks an assembly document.
func CompileString(s *schema.Schema, p *plan.Plan, input string) (*Program, error) {
	prog, err := asm.Parse(input)
	if err != nil {
		return nil, err
	}
	return Compile(s, p, prog)
}

func (p *Program) resolveParamType(ref *asm.TypeRef) (Type, error) {
	if ref.Kind == asm.TypeSchema {
		return SchemaRootType(p.Schema), nil
	}
	return resolveTypeRef(p.Schema, p.aliases, ref)
}

// Graph returns the named graph's definition, if present.
func (p *Program) Graph(name string) (*asm.Graph, bool) {
	info, ok := p.graphs[name]
	if !ok {
		return nil, false
	}
	return info.graph, true
}

type checker struct {
	prog *Program
	info *graphInfo
}

func (p *Program) checkGraph(info *graphInfo) error {
	c := &checker{prog: p, info: info}
	env := make(map[string]Type)
	for i, param := range info.graph.Params {
		if _, ok := env[param.Name]; ok {
			return rdberr.NewAt(rdberr.TypeError, param.Loc, "duplicate parameter `%s`", param.Name)
		}
		env[param.Name] = info.params[i]
	}
	return c.checkStmts(info.graph.Body, env)
}

func (c *checker) checkStmts(stmts []asm.Stmt, env map[string]Type) error {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *asm.NodeStmt:
			t, err := c.checkExpr(s.Expr, env)
			if err != nil {
				return err
			}
			if s.Name != "" {
				env[s.Name] = t
			}
		case *asm.ReturnStmt:
			t, err := c.checkExpr(s.Expr, env)
			if err != nil {
				return err
			}
			if c.info.ret != nil && !CovariantFrom(c.info.ret, t) {
				return rdberr.NewAt(rdberr.TypeError, s.Loc,
					"graph `%s` returns `%s`, expected `%s`", c.info.graph.Name, t, c.info.ret)
			}
		case *asm.ThrowStmt:
			if _, err := c.checkExpr(s.Expr, env); err != nil {
				return err
			}
		case *asm.IfStmt:
			if err := c.checkIf(s, env); err != nil {
				return err
			}
		default:
			return rdberr.New(rdberr.TypeError, "unknown statement kind %T", stmt)
		}
	}
	return nil
}

func (c *checker) checkIf(s *asm.IfStmt, env map[string]Type) error {
	condT, err := c.checkExpr(s.Cond, env)
	if err != nil {
		return err
	}
	if !CovariantFrom(BoolType{}, condT) {
		return rdberr.NewAt(rdberr.TypeError, s.Loc, "if precondition must be bool, got `%s`", condT)
	}

	thenEnv := copyEnv(env)
	if err := c.checkStmts(s.Then, thenEnv); err != nil {
		return err
	}
	elseEnv := copyEnv(env)
	if err := c.checkStmts(s.Else, elseEnv); err != nil {
		return err
	}

	// Merge: every node defined in either branch is visible afterwards.
	// A node defined by both branches must get a compatible type; a node
	// defined by one reads as a typed null when the other branch runs.
	merged := make(map[string]Type)
	for name, t := range newBindings(env, thenEnv) {
		merged[name] = t
	}
	for name, t := range newBindings(env, elseEnv) {
		if prev, ok := merged[name]; ok {
			if !TypeEqual(prev, t) {
				if !CovariantFrom(prev, t) && !CovariantFrom(t, prev) {
					return rdberr.NewAt(rdberr.TypeError, s.Loc,
						"node `%s` has incompatible types across branches: `%s` vs `%s`", name, prev, t)
				}
			}
			continue
		}
		merged[name] = t
	}
	for name, t := range merged {
		env[name] = t
	}
	c.prog.ifBindings[s] = merged
	return nil
}

func copyEnv(env map[string]Type) map[string]Type {
	out := make(map[string]Type, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// newBindings returns the names bound (or rebound) by a branch.
func newBindings(parent, child map[string]Type) map[string]Type {
	out := make(map[string]Type)
	for name, t := range child {
		if prev, ok := parent[name]; !ok || !TypeEqual(prev, t) {
			out[name] = t
		}
	}
	return out
}

func (c *checker) resolveGraph(loc rdberr.Location, name string) (*graphInfo, error) {
	info, ok := c.prog.graphs[name]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "graph `%s` not found", name)
	}
	return info, nil
}

func (c *checker) tableFieldType(loc rdberr.Location, tableName, fieldName string) (schema.FieldType, error) {
	spec, ok := c.prog.Schema.Types[tableName]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "type `%s` not found in schema", tableName)
	}
	field, ok := spec.Fields[fieldName]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "field `%s` not found in type `%s`", fieldName, tableName)
	}
	return field.Type, nil
}

func (c *checker) checkExpr(e asm.Expr, env map[string]Type) (Type, error) {
	switch x := e.(type) {
	case *asm.Literal:
		return c.literalType(x)

	case *asm.Ident:
		t, ok := env[x.Name]
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "unknown node `%s`", x.Name)
		}
		return t, nil

	case *asm.ParamExpr:
		for i, param := range c.info.graph.Params {
			if param.Name == x.Name {
				return c.info.params[i], nil
			}
		}
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "unknown parameter `%s`", x.Name)

	case *asm.FieldExpr:
		baseT, err := c.checkExpr(x.Base, env)
		if err != nil {
			return nil, err
		}
		switch bt := baseT.(type) {
		case MapType:
			ft, ok := bt.Fields[x.Field]
			if !ok {
				return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "map has no field `%s`", x.Field)
			}
			return ft, nil
		case TableType:
			ft, err := c.tableFieldType(x.Loc(), bt.Name, x.Field)
			if err != nil {
				return nil, err
			}
			return FromFieldType(ft), nil
		default:
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "cannot project field `%s` out of `%s`", x.Field, baseT)
		}

	case *asm.CreateMap:
		return MapType{Fields: map[string]Type{}}, nil

	case *asm.CreateList:
		elem, err := resolveTypeRef(c.prog.Schema, c.prog.aliases, x.Elem)
		if err != nil {
			return nil, err
		}
		return ListType{Elem: elem}, nil

	case *asm.MapInsert:
		vt, err := c.checkExpr(x.Value, env)
		if err != nil {
			return nil, err
		}
		baseT, err := c.checkExpr(x.Base, env)
		if err != nil {
			return nil, err
		}
		m, ok := baseT.(MapType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "m_insert base must be a map, got `%s`", baseT)
		}
		fields := make(map[string]Type, len(m.Fields)+1)
		for k, v := range m.Fields {
			fields[k] = v
		}
		fields[x.Key] = vt
		return MapType{Fields: fields}, nil

	case *asm.MapDelete:
		baseT, err := c.checkExpr(x.Base, env)
		if err != nil {
			return nil, err
		}
		m, ok := baseT.(MapType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "m_delete base must be a map, got `%s`", baseT)
		}
		fields := make(map[string]Type, len(m.Fields))
		for k, v := range m.Fields {
			if k != x.Key {
				fields[k] = v
			}
		}
		return MapType{Fields: fields}, nil

	case *asm.TableInsert:
		vt, err := c.checkExpr(x.Value, env)
		if err != nil {
			return nil, err
		}
		baseT, err := c.checkExpr(x.Base, env)
		if err != nil {
			return nil, err
		}
		table, ok := baseT.(TableType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "t_insert base must be a table, got `%s`", baseT)
		}
		ft, err := c.tableFieldType(x.Loc(), table.Name, x.Key)
		if err != nil {
			return nil, err
		}
		if !CovariantFrom(FromFieldType(ft), vt) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"cannot assign `%s` to field `%s` of `%s`", vt, x.Key, table.Name)
		}
		return UnknownType{}, nil

	case *asm.SetInsert:
		setT, err := c.checkExpr(x.Set, env)
		if err != nil {
			return nil, err
		}
		vt, err := c.checkExpr(x.Value, env)
		if err != nil {
			return nil, err
		}
		set, ok := setT.(SetType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "s_insert target must be a set, got `%s`", setT)
		}
		if !CovariantFrom(set.Elem, vt) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"cannot insert `%s` into `%s`", vt, setT)
		}
		return UnknownType{}, nil

	case *asm.SetDelete:
		setT, err := c.checkExpr(x.Set, env)
		if err != nil {
			return nil, err
		}
		kt, err := c.checkExpr(x.Key, env)
		if err != nil {
			return nil, err
		}
		set, ok := setT.(SetType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "s_delete target must be a set, got `%s`", setT)
		}
		if err := c.checkPrimaryKeyType(x.Loc(), set, kt); err != nil {
			return nil, err
		}
		return UnknownType{}, nil

	case *asm.PointGet:
		setT, err := c.checkExpr(x.Set, env)
		if err != nil {
			return nil, err
		}
		kt, err := c.checkExpr(x.Key, env)
		if err != nil {
			return nil, err
		}
		set, ok := setT.(SetType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "point_get target must be a set, got `%s`", setT)
		}
		if err := c.checkPrimaryKeyType(x.Loc(), set, kt); err != nil {
			return nil, err
		}
		return set.Elem, nil

	case *asm.BuildTable:
		mt, err := c.checkExpr(x.Map, env)
		if err != nil {
			return nil, err
		}
		m, ok := mt.(MapType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "build_table input must be a map, got `%s`", mt)
		}
		tt, err := resolveTypeRef(c.prog.Schema, c.prog.aliases, x.Type)
		if err != nil {
			return nil, err
		}
		table, ok := tt.(TableType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "build_table type must be a table, got `%s`", tt)
		}
		spec := c.prog.Schema.Types[table.Name]
		for _, fieldName := range spec.FieldNames() {
			field := spec.Fields[fieldName]
			got, present := m.Fields[fieldName]
			if !present {
				if _, optional := field.Type.(schema.Optional); optional {
					continue
				}
				return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
					"missing field `%s` of type `%s`", fieldName, table.Name)
			}
			if !CovariantFrom(FromFieldType(field.Type), got) {
				return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
					"field `%s` of type `%s` cannot be `%s`", fieldName, table.Name, got)
			}
		}
		return table, nil

	case *asm.BuildSet:
		et, err := c.checkExpr(x.Elem, env)
		if err != nil {
			return nil, err
		}
		if _, ok := et.(TableType); !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "build_set element must be a table, got `%s`", et)
		}
		if _, _, ok := setPrimaryKey(c.prog.Schema, et); !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "set member type `%s` has no primary key", et)
		}
		return SetType{Elem: et}, nil

	case *asm.Select:
		at, err := c.checkExpr(x.A, env)
		if err != nil {
			return nil, err
		}
		bt, err := c.checkExpr(x.B, env)
		if err != nil {
			return nil, err
		}
		if !CovariantFrom(at, bt) && !CovariantFrom(bt, at) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"select candidates have incompatible types `%s` and `%s`", at, bt)
		}
		return at, nil

	case *asm.IsPresent:
		if _, err := c.checkExpr(x.X, env); err != nil {
			return nil, err
		}
		return BoolType{}, nil

	case *asm.IsNull:
		if _, err := c.checkExpr(x.X, env); err != nil {
			return nil, err
		}
		return BoolType{}, nil

	case *asm.Not:
		t, err := c.checkExpr(x.X, env)
		if err != nil {
			return nil, err
		}
		if !CovariantFrom(BoolType{}, t) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "! requires bool, got `%s`", t)
		}
		return BoolType{}, nil

	case *asm.Binary:
		return c.checkBinary(x, env)

	case *asm.Prepend:
		ht, err := c.checkExpr(x.Head, env)
		if err != nil {
			return nil, err
		}
		tt, err := c.checkExpr(x.Tail, env)
		if err != nil {
			return nil, err
		}
		list, ok := tt.(ListType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "cons tail must be a list, got `%s`", tt)
		}
		if !CovariantFrom(list.Elem, ht) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "cannot cons `%s` onto `%s`", ht, tt)
		}
		return list, nil

	case *asm.Pop:
		t, err := c.checkExpr(x.List, env)
		if err != nil {
			return nil, err
		}
		if _, ok := t.(ListType); !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "pop requires a list, got `%s`", t)
		}
		return t, nil

	case *asm.Head:
		t, err := c.checkExpr(x.List, env)
		if err != nil {
			return nil, err
		}
		list, ok := t.(ListType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "head requires a list, got `%s`", t)
		}
		return list.Elem, nil

	case *asm.Call:
		callee, err := c.resolveGraph(x.Loc(), x.Graph)
		if err != nil {
			return nil, err
		}
		if len(x.Args) != len(callee.params) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"graph `%s` takes %d arguments, got %d", x.Graph, len(callee.params), len(x.Args))
		}
		for i, arg := range x.Args {
			at, err := c.checkExpr(arg, env)
			if err != nil {
				return nil, err
			}
			if !CovariantFrom(callee.params[i], at) {
				return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
					"argument %d of `%s` must be `%s`, got `%s`", i+1, x.Graph, callee.params[i], at)
			}
		}
		if callee.ret == nil {
			return UnknownType{}, nil
		}
		return callee.ret, nil

	case *asm.Reduce:
		callee, err := c.resolveGraph(x.Loc(), x.Graph)
		if err != nil {
			return nil, err
		}
		initT, err := c.checkExpr(x.Init, env)
		if err != nil {
			return nil, err
		}
		collT, err := c.checkExpr(x.Coll, env)
		if err != nil {
			return nil, err
		}
		var elemT Type
		switch coll := collT.(type) {
		case SetType:
			elemT = coll.Elem
		case ListType:
			elemT = coll.Elem
		default:
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "reduce requires a list or set, got `%s`", collT)
		}
		if err := c.checkReduceCallback(x.Loc(), x.Graph, callee, initT, elemT); err != nil {
			return nil, err
		}
		return initT, nil

	case *asm.RangeReduce:
		callee, err := c.resolveGraph(x.Loc(), x.Graph)
		if err != nil {
			return nil, err
		}
		fromT, err := c.checkExpr(x.From, env)
		if err != nil {
			return nil, err
		}
		toT, err := c.checkExpr(x.To, env)
		if err != nil {
			return nil, err
		}
		int64T := Type(PrimType{Kind: value.KindInt64})
		if !CovariantFrom(int64T, fromT) || !CovariantFrom(int64T, toT) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"range_reduce bounds must be int64, got `%s` and `%s`", fromT, toT)
		}
		initT, err := c.checkExpr(x.Init, env)
		if err != nil {
			return nil, err
		}
		if err := c.checkReduceCallback(x.Loc(), x.Graph, callee, initT, int64T); err != nil {
			return nil, err
		}
		return initT, nil

	case *asm.UnwrapOptional:
		return c.checkExpr(x.X, env)

	default:
		return nil, rdberr.New(rdberr.TypeError, "unknown expression kind %T", e)
	}
}

// checkReduceCallback verifies the (unused, accumulator, element) ->
// accumulator signature of a reduce subgraph.
func (c *checker) checkReduceCallback(loc rdberr.Location, name string, callee *graphInfo, initT, elemT Type) error {
	if len(callee.params) != 3 {
		return rdberr.NewAt(rdberr.TypeError, loc,
			"reduce subgraph `%s` must take 3 parameters (unused, accumulator, element), has %d",
			name, len(callee.params))
	}
	if !CovariantFrom(callee.params[1], initT) {
		return rdberr.NewAt(rdberr.TypeError, loc,
			"reduce subgraph `%s` accumulator is `%s`, initial value is `%s`", name, callee.params[1], initT)
	}
	if !CovariantFrom(callee.params[2], elemT) {
		return rdberr.NewAt(rdberr.TypeError, loc,
			"reduce subgraph `%s` element is `%s`, collection element is `%s`", name, callee.params[2], elemT)
	}
	if callee.ret != nil && !CovariantFrom(initT, callee.ret) {
		return rdberr.NewAt(rdberr.TypeError, loc,
			"reduce subgraph `%s` returns `%s`, accumulator is `%s`", name, callee.ret, initT)
	}
	return nil
}

func (c *checker) checkPrimaryKeyType(loc rdberr.Location, set SetType, keyT Type) error {
	_, pkTy, ok := setPrimaryKey(c.prog.Schema, set.Elem)
	if !ok {
		return rdberr.NewAt(rdberr.TypeError, loc, "set member type `%s` has no primary key", set.Elem)
	}
	if !CovariantFrom(FromFieldType(pkTy), keyT) {
		return rdberr.NewAt(rdberr.TypeError, loc,
			"primary key must be `%s`, got `%s`", FromFieldType(pkTy), keyT)
	}
	return nil
}

func (c *checker) checkBinary(x *asm.Binary, env map[string]Type) (Type, error) {
	lt, err := c.checkExpr(x.L, env)
	if err != nil {
		return nil, err
	}
	rt, err := c.checkExpr(x.R, env)
	if err != nil {
		return nil, err
	}
	boolT := Type(BoolType{})
	switch x.Op {
	case asm.OpEq, asm.OpNe:
		if !CovariantFrom(lt, rt) && !CovariantFrom(rt, lt) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"cannot compare `%s` with `%s`", lt, rt)
		}
		return boolT, nil
	case asm.OpAnd, asm.OpOr:
		if !CovariantFrom(boolT, lt) || !CovariantFrom(boolT, rt) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"`%s` requires bool operands, got `%s` and `%s`", x.Op, lt, rt)
		}
		return boolT, nil
	case asm.OpAdd, asm.OpSub:
		if err := checkArith(x, lt, rt); err != nil {
			return nil, err
		}
		return lt, nil
	case asm.OpOrElse:
		if !CovariantFrom(lt, rt) && !CovariantFrom(rt, lt) {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
				"`??` operands have incompatible types `%s` and `%s`", lt, rt)
		}
		return lt, nil
	default:
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "unknown binary operator")
	}
}

func checkArith(x *asm.Binary, lt, rt Type) error {
	ok := func(t Type) bool {
		p, isPrim := t.(PrimType)
		if !isPrim {
			_, isUnknown := t.(UnknownType)
			return isUnknown
		}
		switch p.Kind {
		case value.KindInt64, value.KindDouble:
			return true
		case value.KindString:
			return x.Op == asm.OpAdd
		default:
			return false
		}
	}
	if !ok(lt) || !ok(rt) || (!CovariantFrom(lt, rt) && !CovariantFrom(rt, lt)) {
		return rdberr.NewAt(rdberr.TypeError, x.Loc(),
			"`%s` cannot combine `%s` and `%s`", x.Op, lt, rt)
	}
	return nil
}

func (c *checker) literalType(x *asm.Literal) (Type, error) {
	switch x.Kind {
	case asm.LitInt:
		return PrimType{Kind: value.KindInt64}, nil
	case asm.LitString:
		return PrimType{Kind: value.KindString}, nil
	case asm.LitBytes:
		return PrimType{Kind: value.KindBytes}, nil
	case asm.LitBool:
		return BoolType{}, nil
	case asm.LitNull:
		t, err := resolveTypeRef(c.prog.Schema, c.prog.aliases, x.Type)
		if err != nil {
			return nil, err
		}
		return t, nil
	case asm.LitEmptySet:
		t, err := resolveTypeRef(c.prog.Schema, c.prog.aliases, x.Type)
		if err != nil {
			return nil, err
		}
		if _, ok := t.(TableType); !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "empty_set element must be a table, got `%s`", t)
		}
		if _, _, ok := setPrimaryKey(c.prog.Schema, t); !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "set member type `%s` has no primary key", t)
		}
		return SetType{Elem: t}, nil
	default:
		return nil, rdberr.NewAt(rdberr.InvalidLiteral, x.Loc(), "unknown literal kind")
	}
}
