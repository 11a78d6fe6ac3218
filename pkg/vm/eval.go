package vm

import (
	"context"
	"errors"
	"sort"

	"github.com/refinedb/refinedb/pkg/asm"
	"github.com/refinedb/refinedb/pkg/kv"
	"github.com/refinedb/refinedb/pkg/pathwalker"
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
	"github.com/refinedb/refinedb/pkg/value"
)

// MaxCallDepth bounds graph-to-graph recursion.
const MaxCallDepth = 128

// Executor reduces graphs of a type-checked program against one KV
// transaction. An executor is exclusive to one transaction and is not
// safe for concurrent use; the program itself is immutable and freely
// shared.
//
// Evaluation is statement-ordered and strict: every statement runs
// when reached, even if its value is unused, so side effects occur in
// program order. The only exceptions are the skipped branch of `if`,
// the skipped operand of `&&`/`||`, and the right operand of `??` when
// the left one is not null.
type Executor struct {
	prog *Program
	txn  kv.Transaction
}

// NewExecutor binds a program to a transaction.
func NewExecutor(prog *Program, txn kv.Transaction) *Executor {
	return &Executor{prog: prog, txn: txn}
}

// RootMap builds the virtual schema root value: a map from export name
// to a resident table or set positioned at the export's plan node.
// Pass it as the `root: schema` parameter of a graph.
func (p *Program) RootMap() (Value, error) {
	fields := make(map[string]Value, len(p.Schema.Exports))
	for name, ft := range p.Schema.Exports {
		walker, err := pathwalker.FromExport(p.Plan, name)
		if err != nil {
			return nil, rdberr.Wrap(rdberr.BackendError, err, "export `%s` missing from plan", name)
		}
		switch x := ft.(type) {
		case schema.Table:
			fields[name] = &TableVal{TypeName: x.Name, Resident: walker}
		case schema.Set:
			fields[name] = &SetVal{Elem: FromFieldType(x.Elem), Resident: walker}
		default:
			return nil, rdberr.New(rdberr.TypeError, "export `%s` has unsupported root type `%s`", name, ft)
		}
	}
	return &MapVal{Fields: fields}, nil
}

// RunGraph evaluates the named graph with the given parameters.
// Returns nil when the graph produces no value. Errors abort the
// caller's transaction responsibility: no commit is attempted here.
func (e *Executor) RunGraph(ctx context.Context, name string, params ...Value) (Value, error) {
	info, ok := e.prog.graphs[name]
	if !ok {
		return nil, rdberr.New(rdberr.TypeError, "graph `%s` not found", name)
	}
	return e.runGraph(ctx, info, params, 0)
}

func (e *Executor) runGraph(ctx context.Context, info *graphInfo, params []Value, depth int) (Value, error) {
	if depth >= MaxCallDepth {
		return nil, rdberr.New(rdberr.BackendError, "max graph recursion depth exceeded: %d", depth)
	}
	if len(params) != len(info.params) {
		return nil, rdberr.New(rdberr.TypeError,
			"graph `%s` takes %d parameters, got %d", info.graph.Name, len(info.params), len(params))
	}
	env := make(map[string]Value, len(params)+8)
	for i, p := range info.graph.Params {
		env[p.Name] = params[i]
	}
	ret, _, err := e.execStmts(ctx, info.graph.Body, env, depth)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// execStmts executes a statement list. The bool result reports whether
// a return statement fired.
func (e *Executor) execStmts(ctx context.Context, stmts []asm.Stmt, env map[string]Value, depth int) (Value, bool, error) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *asm.NodeStmt:
			v, err := e.evalExpr(ctx, s.Expr, env, depth)
			if err != nil {
				return nil, false, err
			}
			if s.Name != "" {
				env[s.Name] = v
			}

		case *asm.ReturnStmt:
			v, err := e.evalExpr(ctx, s.Expr, env, depth)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil

		case *asm.ThrowStmt:
			v, err := e.evalExpr(ctx, s.Expr, env, depth)
			if err != nil {
				return nil, false, err
			}
			return nil, false, rdberr.Throw(v)

		case *asm.IfStmt:
			cond, err := e.evalExpr(ctx, s.Cond, env, depth)
			if err != nil {
				return nil, false, err
			}
			b, err := asBool(cond)
			if err != nil {
				return nil, false, err
			}
			branch := s.Then
			if !b {
				branch = s.Else
			}
			ret, returned, err := e.execStmts(ctx, branch, env, depth)
			if err != nil || returned {
				return ret, returned, err
			}
			// Nodes defined only by the branch that did not run read as
			// typed nulls, so `select` can join branch results.
			for name, t := range e.prog.ifBindings[s] {
				if _, bound := env[name]; !bound {
					env[name] = Null{T: t}
				}
			}

		default:
			return nil, false, rdberr.New(rdberr.TypeError, "unknown statement kind %T", stmt)
		}
	}
	return nil, false, nil
}

func asBool(v Value) (bool, error) {
	p, ok := v.(Prim)
	if !ok || p.P.Kind != value.KindBool {
		return false, rdberr.New(rdberr.TypeError, "expected bool, got `%s`", TypeOf(v))
	}
	return p.P.T, nil
}

func (e *Executor) evalExpr(ctx context.Context, expr asm.Expr, env map[string]Value, depth int) (Value, error) {
	switch x := expr.(type) {
	case *asm.Literal:
		return e.evalLiteral(x)

	case *asm.Ident:
		v, ok := env[x.Name]
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "unknown node `%s`", x.Name)
		}
		return v, nil

	case *asm.ParamExpr:
		v, ok := env[x.Name]
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "unknown parameter `%s`", x.Name)
		}
		return v, nil

	case *asm.FieldExpr:
		base, err := e.evalExpr(ctx, x.Base, env, depth)
		if err != nil {
			return nil, err
		}
		switch b := base.(type) {
		case *MapVal:
			v, ok := b.Fields[x.Field]
			if !ok {
				return nil, rdberr.NewAt(rdberr.MissingField, x.Loc(), "map field not found: `%s`", x.Field)
			}
			return v, nil
		case *TableVal:
			return e.readTableField(ctx, x.Loc(), b, x.Field)
		case Null:
			return base, nil
		default:
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "cannot project field `%s` out of `%s`", x.Field, TypeOf(base))
		}

	case *asm.CreateMap:
		return &MapVal{Fields: map[string]Value{}}, nil

	case *asm.CreateList:
		elem, err := resolveTypeRef(e.prog.Schema, e.prog.aliases, x.Elem)
		if err != nil {
			return nil, err
		}
		return &ListVal{Elem: elem}, nil

	case *asm.MapInsert:
		v, err := e.evalExpr(ctx, x.Value, env, depth)
		if err != nil {
			return nil, err
		}
		base, err := e.evalExpr(ctx, x.Base, env, depth)
		if err != nil {
			return nil, err
		}
		m, ok := base.(*MapVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "m_insert base must be a map, got `%s`", TypeOf(base))
		}
		return m.withField(x.Key, v), nil

	case *asm.MapDelete:
		base, err := e.evalExpr(ctx, x.Base, env, depth)
		if err != nil {
			return nil, err
		}
		m, ok := base.(*MapVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "m_delete base must be a map, got `%s`", TypeOf(base))
		}
		return m.withoutField(x.Key), nil

	case *asm.TableInsert:
		v, err := e.evalExpr(ctx, x.Value, env, depth)
		if err != nil {
			return nil, err
		}
		base, err := e.evalExpr(ctx, x.Base, env, depth)
		if err != nil {
			return nil, err
		}
		table, ok := base.(*TableVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "t_insert base must be a table, got `%s`", TypeOf(base))
		}
		if table.Resident == nil {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "t_insert target must be a stored table")
		}
		walker, err := table.Resident.EnterField(x.Key)
		if err != nil {
			return nil, rdberr.Wrap(rdberr.BackendError, err, "t_insert field `%s`", x.Key)
		}
		if err := e.walkAndInsert(ctx, walker, v); err != nil {
			return nil, err
		}
		return Null{T: UnknownType{}}, nil

	case *asm.SetInsert:
		set, err := e.evalExpr(ctx, x.Set, env, depth)
		if err != nil {
			return nil, err
		}
		v, err := e.evalExpr(ctx, x.Value, env, depth)
		if err != nil {
			return nil, err
		}
		sv, ok := set.(*SetVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "s_insert target must be a set, got `%s`", TypeOf(set))
		}
		if err := e.setInsert(ctx, x.Loc(), sv, v); err != nil {
			return nil, err
		}
		return Null{T: UnknownType{}}, nil

	case *asm.SetDelete:
		set, err := e.evalExpr(ctx, x.Set, env, depth)
		if err != nil {
			return nil, err
		}
		k, err := e.evalExpr(ctx, x.Key, env, depth)
		if err != nil {
			return nil, err
		}
		sv, ok := set.(*SetVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "s_delete target must be a set, got `%s`", TypeOf(set))
		}
		if err := e.setDelete(ctx, x.Loc(), sv, k); err != nil {
			return nil, err
		}
		return Null{T: UnknownType{}}, nil

	case *asm.PointGet:
		set, err := e.evalExpr(ctx, x.Set, env, depth)
		if err != nil {
			return nil, err
		}
		k, err := e.evalExpr(ctx, x.Key, env, depth)
		if err != nil {
			return nil, err
		}
		sv, ok := set.(*SetVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "point_get target must be a set, got `%s`", TypeOf(set))
		}
		return e.pointGet(ctx, x.Loc(), sv, k)

	case *asm.BuildTable:
		m, err := e.evalExpr(ctx, x.Map, env, depth)
		if err != nil {
			return nil, err
		}
		mv, ok := m.(*MapVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "build_table input must be a map, got `%s`", TypeOf(m))
		}
		tt, err := resolveTypeRef(e.prog.Schema, e.prog.aliases, x.Type)
		if err != nil {
			return nil, err
		}
		return e.buildTable(x.Loc(), tt.(TableType), mv)

	case *asm.BuildSet:
		elem, err := e.evalExpr(ctx, x.Elem, env, depth)
		if err != nil {
			return nil, err
		}
		tv, ok := elem.(*TableVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "build_set element must be a table, got `%s`", TypeOf(elem))
		}
		pk, err := e.freshPrimaryKey(x.Loc(), tv)
		if err != nil {
			return nil, err
		}
		return &SetVal{
			Elem:  TableType{Name: tv.TypeName},
			Fresh: map[string]Value{string(pk): elem},
		}, nil

	case *asm.Select:
		a, err := e.evalExpr(ctx, x.A, env, depth)
		if err != nil {
			return nil, err
		}
		b, err := e.evalExpr(ctx, x.B, env, depth)
		if err != nil {
			return nil, err
		}
		aNull, bNull := IsNullValue(a), IsNullValue(b)
		switch {
		case aNull && bNull:
			return nil, rdberr.NewAt(rdberr.InvalidSelect, x.Loc(), "both select candidates are null")
		case !aNull && !bNull:
			return nil, rdberr.NewAt(rdberr.InvalidSelect, x.Loc(), "both select candidates are present")
		case aNull:
			return b, nil
		default:
			return a, nil
		}

	case *asm.IsPresent:
		v, err := e.evalExpr(ctx, x.X, env, depth)
		if err != nil {
			return nil, err
		}
		return e.isPresent(ctx, v)

	case *asm.IsNull:
		v, err := e.evalExpr(ctx, x.X, env, depth)
		if err != nil {
			return nil, err
		}
		return BoolValue(IsNullValue(v)), nil

	case *asm.Not:
		v, err := e.evalExpr(ctx, x.X, env, depth)
		if err != nil {
			return nil, err
		}
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		return BoolValue(!b), nil

	case *asm.Binary:
		return e.evalBinary(ctx, x, env, depth)

	case *asm.Prepend:
		head, err := e.evalExpr(ctx, x.Head, env, depth)
		if err != nil {
			return nil, err
		}
		tail, err := e.evalExpr(ctx, x.Tail, env, depth)
		if err != nil {
			return nil, err
		}
		list, ok := tail.(*ListVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "cons tail must be a list, got `%s`", TypeOf(tail))
		}
		return &ListVal{Elem: list.Elem, Node: &ListNode{Value: head, Next: list.Node}}, nil

	case *asm.Pop:
		v, err := e.evalExpr(ctx, x.List, env, depth)
		if err != nil {
			return nil, err
		}
		list, ok := v.(*ListVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "pop requires a list, got `%s`", TypeOf(v))
		}
		if list.Node == nil {
			return Null{T: ListType{Elem: list.Elem}}, nil
		}
		return &ListVal{Elem: list.Elem, Node: list.Node.Next}, nil

	case *asm.Head:
		v, err := e.evalExpr(ctx, x.List, env, depth)
		if err != nil {
			return nil, err
		}
		list, ok := v.(*ListVal)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "head requires a list, got `%s`", TypeOf(v))
		}
		if list.Node == nil {
			return Null{T: list.Elem}, nil
		}
		return list.Node.Value, nil

	case *asm.Call:
		callee, ok := e.prog.graphs[x.Graph]
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "graph `%s` not found", x.Graph)
		}
		args := make([]Value, len(x.Args))
		for i, arg := range x.Args {
			v, err := e.evalExpr(ctx, arg, env, depth)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return e.runGraph(ctx, callee, args, depth+1)

	case *asm.Reduce:
		return e.evalReduce(ctx, x, env, depth)

	case *asm.RangeReduce:
		return e.evalRangeReduce(ctx, x, env, depth)

	case *asm.UnwrapOptional:
		v, err := e.evalExpr(ctx, x.X, env, depth)
		if err != nil {
			return nil, err
		}
		if IsNullValue(v) {
			return nil, rdberr.NewAt(rdberr.NullUnwrap, x.Loc(), "null value unwrapped")
		}
		return v, nil

	default:
		return nil, rdberr.New(rdberr.TypeError, "unknown expression kind %T", expr)
	}
}

func (e *Executor) evalLiteral(x *asm.Literal) (Value, error) {
	switch x.Kind {
	case asm.LitInt:
		return Int64Value(x.Int), nil
	case asm.LitString:
		return StringValue(x.Str), nil
	case asm.LitBytes:
		return BytesValue(x.Bytes), nil
	case asm.LitBool:
		return BoolValue(x.Bool), nil
	case asm.LitNull:
		t, err := resolveTypeRef(e.prog.Schema, e.prog.aliases, x.Type)
		if err != nil {
			return nil, err
		}
		return Null{T: t}, nil
	case asm.LitEmptySet:
		t, err := resolveTypeRef(e.prog.Schema, e.prog.aliases, x.Type)
		if err != nil {
			return nil, err
		}
		return &SetVal{Elem: t, Fresh: map[string]Value{}}, nil
	default:
		return nil, rdberr.NewAt(rdberr.InvalidLiteral, x.Loc(), "unknown literal kind")
	}
}

func (e *Executor) evalBinary(ctx context.Context, x *asm.Binary, env map[string]Value, depth int) (Value, error) {
	// && and || short-circuit: the right operand is only evaluated when
	// it can affect the result. Errors in the skipped operand are never
	// raised.
	if x.Op == asm.OpAnd || x.Op == asm.OpOr {
		l, err := e.evalExpr(ctx, x.L, env, depth)
		if err != nil {
			return nil, err
		}
		lb, err := asBool(l)
		if err != nil {
			return nil, err
		}
		if x.Op == asm.OpAnd && !lb {
			return BoolValue(false), nil
		}
		if x.Op == asm.OpOr && lb {
			return BoolValue(true), nil
		}
		r, err := e.evalExpr(ctx, x.R, env, depth)
		if err != nil {
			return nil, err
		}
		rb, err := asBool(r)
		if err != nil {
			return nil, err
		}
		return BoolValue(rb), nil
	}

	l, err := e.evalExpr(ctx, x.L, env, depth)
	if err != nil {
		return nil, err
	}

	// a ?? b evaluates b only when a is null.
	if x.Op == asm.OpOrElse {
		if !IsNullValue(l) {
			return l, nil
		}
		return e.evalExpr(ctx, x.R, env, depth)
	}

	r, err := e.evalExpr(ctx, x.R, env, depth)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case asm.OpEq:
		return BoolValue(valuesEqual(l, r)), nil
	case asm.OpNe:
		return BoolValue(!valuesEqual(l, r)), nil
	case asm.OpAdd, asm.OpSub:
		return evalArith(x, l, r)
	default:
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "unknown binary operator")
	}
}

func evalArith(x *asm.Binary, l, r Value) (Value, error) {
	lp, lok := l.(Prim)
	rp, rok := r.(Prim)
	if !lok || !rok {
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
			"`%s` cannot combine `%s` and `%s`", x.Op, TypeOf(l), TypeOf(r))
	}
	switch {
	case lp.P.Kind == value.KindInt64 && rp.P.Kind == value.KindInt64:
		if x.Op == asm.OpAdd {
			return Int64Value(lp.P.I + rp.P.I), nil
		}
		return Int64Value(lp.P.I - rp.P.I), nil
	case lp.P.Kind == value.KindDouble && rp.P.Kind == value.KindDouble:
		if x.Op == asm.OpAdd {
			return DoubleValue(lp.P.F + rp.P.F), nil
		}
		return DoubleValue(lp.P.F - rp.P.F), nil
	case lp.P.Kind == value.KindString && rp.P.Kind == value.KindString && x.Op == asm.OpAdd:
		return StringValue(lp.P.S + rp.P.S), nil
	default:
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(),
			"`%s` cannot combine `%s` and `%s`", x.Op, TypeOf(l), TypeOf(r))
	}
}

// readTableField implements `.field` on tables. Fields whose plan node
// is distinct from the parent suspend on a KV read; nested tables and
// sets stay deferred as resident handles.
func (e *Executor) readTableField(ctx context.Context, loc rdberr.Location, table *TableVal, fieldName string) (Value, error) {
	spec, ok := e.prog.Schema.Types[table.TypeName]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "type `%s` not found in schema", table.TypeName)
	}
	field, ok := spec.Fields[fieldName]
	if !ok {
		return nil, rdberr.NewAt(rdberr.MissingField, loc, "field `%s` not found in type `%s`", fieldName, table.TypeName)
	}

	if table.Resident == nil {
		if v, ok := table.Fresh[fieldName]; ok {
			return v, nil
		}
		return Null{T: FromFieldType(field.Type)}, nil
	}

	walker, err := table.Resident.EnterField(fieldName)
	if err != nil {
		return nil, rdberr.Wrap(rdberr.BackendError, err, "field `%s`", fieldName)
	}

	switch ft := schema.Unwrap(field.Type).(type) {
	case schema.Primitive:
		raw, err := e.txn.Get(ctx, walker.Key())
		if errors.Is(err, kv.ErrKeyNotFound) {
			return Null{T: FromFieldType(field.Type)}, nil
		}
		if err != nil {
			return nil, rdberr.Wrap(rdberr.BackendError, err, "read field `%s`", fieldName)
		}
		p, err := value.DecodeValue(raw)
		if err != nil {
			return nil, rdberr.Wrap(rdberr.BackendError, err, "decode field `%s`", fieldName)
		}
		return Prim{P: p}, nil
	case schema.Set:
		return &SetVal{Elem: FromFieldType(ft.Elem), Resident: walker}, nil
	case schema.Table:
		return &TableVal{TypeName: ft.Name, Resident: walker}, nil
	default:
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "field `%s` has unsupported storage type `%s`", fieldName, field.Type)
	}
}

// buildTable reifies a map as a fresh table value, checking field
// presence and types.
func (e *Executor) buildTable(loc rdberr.Location, tt TableType, m *MapVal) (Value, error) {
	spec, ok := e.prog.Schema.Types[tt.Name]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "type `%s` not found in schema", tt.Name)
	}
	fields := make(map[string]Value, len(spec.Fields))
	for _, fieldName := range spec.FieldNames() {
		field := spec.Fields[fieldName]
		v, present := m.Fields[fieldName]
		if !present || IsNullValue(v) {
			if _, optional := field.Type.(schema.Optional); !optional {
				return nil, rdberr.NewAt(rdberr.MissingField, loc,
					"missing value for non-optional field `%s` of table `%s`", fieldName, tt.Name)
			}
			fields[fieldName] = Null{T: FromFieldType(field.Type)}
			continue
		}
		if !CovariantFrom(FromFieldType(field.Type), TypeOf(v)) {
			return nil, rdberr.NewAt(rdberr.TypeError, loc,
				"field `%s` of table `%s` cannot hold `%s`", fieldName, tt.Name, TypeOf(v))
		}
		fields[fieldName] = v
	}
	return &TableVal{TypeName: tt.Name, Fresh: fields}, nil
}

// freshPrimaryKey reads and encodes the primary key of a fresh table
// value.
func (e *Executor) freshPrimaryKey(loc rdberr.Location, table *TableVal) ([]byte, error) {
	pkName, _, ok := setPrimaryKey(e.prog.Schema, TableType{Name: table.TypeName})
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "type `%s` has no primary key", table.TypeName)
	}
	if table.Resident != nil {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "operation requires a fresh table value")
	}
	v, ok := table.Fresh[pkName]
	if !ok {
		return nil, rdberr.NewAt(rdberr.MissingField, loc, "missing primary key field `%s`", pkName)
	}
	p, ok := v.(Prim)
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "primary key must be a primitive, got `%s`", TypeOf(v))
	}
	raw, err := value.EncodeKeyComponent(nil, p.P)
	if err != nil {
		return nil, rdberr.Wrap(rdberr.BackendError, err, "encode primary key")
	}
	return raw, nil
}

func encodePrimaryKey(loc rdberr.Location, k Value) ([]byte, error) {
	p, ok := k.(Prim)
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "primary key must be a primitive, got `%s`", TypeOf(k))
	}
	raw, err := value.EncodeKeyComponent(nil, p.P)
	if err != nil {
		return nil, rdberr.Wrap(rdberr.BackendError, err, "encode primary key")
	}
	return raw, nil
}

// pointGet reads the element of a set by primary key. The element of a
// resident set is returned as a deferred resident handle; its presence
// is decided by the member marker, which is_present consults.
func (e *Executor) pointGet(ctx context.Context, loc rdberr.Location, set *SetVal, k Value) (Value, error) {
	raw, err := encodePrimaryKey(loc, k)
	if err != nil {
		return nil, err
	}
	elem, ok := set.Elem.(TableType)
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, loc, "set element is not a table")
	}

	if set.Resident == nil {
		if v, ok := set.Fresh[string(raw)]; ok {
			return v, nil
		}
		return Null{T: set.Elem}, nil
	}

	walker, err := set.Resident.EnterSetMember(raw)
	if err != nil {
		return nil, rdberr.Wrap(rdberr.BackendError, err, "point_get")
	}
	// The member marker decides presence eagerly so the result behaves
	// as an optional.
	if _, err := e.txn.Get(ctx, walker.Key()); err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return Null{T: set.Elem}, nil
		}
		return nil, rdberr.Wrap(rdberr.BackendError, err, "point_get")
	}
	return &TableVal{TypeName: elem.Name, Resident: walker}, nil
}

// setInsert writes every leaf of elem into its computed key path under
// the set. An element with the same primary key is overwritten
// field-by-field.
func (e *Executor) setInsert(ctx context.Context, loc rdberr.Location, set *SetVal, elem Value) error {
	table, ok := elem.(*TableVal)
	if !ok {
		return rdberr.NewAt(rdberr.TypeError, loc, "s_insert value must be a table, got `%s`", TypeOf(elem))
	}
	pk, err := e.freshPrimaryKey(loc, table)
	if err != nil {
		return err
	}

	if set.Resident == nil {
		set.Fresh[string(pk)] = elem
		return nil
	}

	scanPrefix, err := set.Resident.SetScanPrefix()
	if err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_insert")
	}
	if err := e.txn.Put(append(scanPrefix, pk...), nil); err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_insert marker")
	}

	walker, err := set.Resident.EnterSetMember(pk)
	if err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_insert")
	}
	return e.walkAndInsert(ctx, walker, elem)
}

// setDelete range-deletes the member's data sub-range and its scan
// marker.
func (e *Executor) setDelete(ctx context.Context, loc rdberr.Location, set *SetVal, k Value) error {
	raw, err := encodePrimaryKey(loc, k)
	if err != nil {
		return err
	}
	if set.Resident == nil {
		delete(set.Fresh, string(raw))
		return nil
	}

	scanPrefix, err := set.Resident.SetScanPrefix()
	if err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_delete")
	}
	if err := e.txn.Delete(append(scanPrefix, raw...)); err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_delete marker")
	}

	dataPrefix, err := set.Resident.SetDataPrefix()
	if err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_delete")
	}
	start := make([]byte, 0, len(dataPrefix)+len(raw)+1)
	start = append(start, dataPrefix...)
	start = append(start, raw...)
	start = append(start, 0x00)
	end := make([]byte, len(start))
	copy(end, start)
	end[len(end)-1] = 0x01
	if err := e.txn.DeleteRange(start, end); err != nil {
		return rdberr.Wrap(rdberr.BackendError, err, "s_delete")
	}
	return nil
}

// walkAndInsert persists a value at a walker position: primitives as
// encoded leaves, nulls as deletions, fresh tables and sets
// recursively with presence markers.
func (e *Executor) walkAndInsert(ctx context.Context, walker *pathwalker.Walker, v Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch x := v.(type) {
	case Null:
		if err := e.txn.Delete(walker.Key()); err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "delete leaf")
		}
		return nil

	case Prim:
		raw, err := value.EncodeValue(x.P)
		if err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "encode leaf")
		}
		if err := e.txn.Put(walker.Key(), raw); err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "write leaf")
		}
		return nil

	case *TableVal:
		if x.Resident != nil {
			return rdberr.New(rdberr.BackendError, "table copy is not supported")
		}
		if err := e.txn.Put(walker.Key(), nil); err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "write table marker")
		}
		for _, fieldName := range sortedValueKeys(x.Fresh) {
			child, err := walker.EnterField(fieldName)
			if err != nil {
				return rdberr.Wrap(rdberr.BackendError, err, "field `%s`", fieldName)
			}
			if err := e.walkAndInsert(ctx, child, x.Fresh[fieldName]); err != nil {
				return err
			}
		}
		return nil

	case *SetVal:
		if x.Resident != nil {
			return rdberr.New(rdberr.BackendError, "set copy is not supported")
		}
		if err := e.txn.Put(walker.Key(), nil); err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "write set marker")
		}
		// Replace semantics: clear any existing members first.
		scanPrefix, err := walker.SetScanPrefix()
		if err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "set prefix")
		}
		dataPrefix, err := walker.SetDataPrefix()
		if err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "set prefix")
		}
		if err := e.txn.DeleteRange(scanPrefix, kv.PrefixEnd(scanPrefix)); err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "clear set")
		}
		if err := e.txn.DeleteRange(dataPrefix, kv.PrefixEnd(dataPrefix)); err != nil {
			return rdberr.Wrap(rdberr.BackendError, err, "clear set")
		}
		for _, pk := range x.sortedFreshKeys() {
			if err := e.txn.Put(append(append([]byte(nil), scanPrefix...), pk...), nil); err != nil {
				return rdberr.Wrap(rdberr.BackendError, err, "write member marker")
			}
			member, err := walker.EnterSetMember([]byte(pk))
			if err != nil {
				return rdberr.Wrap(rdberr.BackendError, err, "enter member")
			}
			if err := e.walkAndInsert(ctx, member, x.Fresh[pk]); err != nil {
				return err
			}
		}
		return nil

	default:
		return rdberr.New(rdberr.TypeError, "cannot store value of type `%s`", TypeOf(v))
	}
}

func sortedValueKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isPresent implements the presence test. A resident handle consults
// its marker entry; fresh values and scalars are always present; nulls
// never are.
func (e *Executor) isPresent(ctx context.Context, v Value) (Value, error) {
	var walker *pathwalker.Walker
	switch x := v.(type) {
	case Null:
		return BoolValue(false), nil
	case *TableVal:
		if x.Resident == nil {
			return BoolValue(true), nil
		}
		walker = x.Resident
	case *SetVal:
		if x.Resident == nil {
			return BoolValue(true), nil
		}
		walker = x.Resident
	default:
		return BoolValue(true), nil
	}
	_, err := e.txn.Get(ctx, walker.Key())
	if errors.Is(err, kv.ErrKeyNotFound) {
		return BoolValue(false), nil
	}
	if err != nil {
		return nil, rdberr.Wrap(rdberr.BackendError, err, "is_present")
	}
	return BoolValue(true), nil
}

// evalReduce folds a collection with a subgraph callback invoked as
// subgraph(unused, accumulator, element). Sets iterate in ascending
// encoded primary-key order; lists head-to-tail.
func (e *Executor) evalReduce(ctx context.Context, x *asm.Reduce, env map[string]Value, depth int) (Value, error) {
	callee, ok := e.prog.graphs[x.Graph]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "graph `%s` not found", x.Graph)
	}
	acc, err := e.evalExpr(ctx, x.Init, env, depth)
	if err != nil {
		return nil, err
	}
	coll, err := e.evalExpr(ctx, x.Coll, env, depth)
	if err != nil {
		return nil, err
	}

	step := func(elem Value) error {
		out, err := e.runGraph(ctx, callee, []Value{Null{T: UnknownType{}}, acc, elem}, depth+1)
		if err != nil {
			return err
		}
		if out == nil {
			return rdberr.NewAt(rdberr.TypeError, x.Loc(), "reduce subgraph `%s` produced no value", x.Graph)
		}
		acc = out
		return nil
	}

	switch c := coll.(type) {
	case *ListVal:
		for node := c.Node; node != nil; node = node.Next {
			if err := step(node.Value); err != nil {
				return nil, err
			}
		}
		return acc, nil

	case *SetVal:
		elem, ok := c.Elem.(TableType)
		if !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "set element is not a table")
		}
		if c.Resident == nil {
			for _, pk := range c.sortedFreshKeys() {
				if err := step(c.Fresh[pk]); err != nil {
					return nil, err
				}
			}
			return acc, nil
		}
		scanPrefix, err := c.Resident.SetScanPrefix()
		if err != nil {
			return nil, rdberr.Wrap(rdberr.BackendError, err, "reduce")
		}
		it, err := e.txn.Scan(ctx, scanPrefix, kv.PrefixEnd(scanPrefix))
		if err != nil {
			return nil, rdberr.Wrap(rdberr.BackendError, err, "reduce scan")
		}
		defer it.Close()
		for {
			key, _, ok, err := it.Next(ctx)
			if err != nil {
				return nil, rdberr.Wrap(rdberr.BackendError, err, "reduce scan")
			}
			if !ok {
				return acc, nil
			}
			pk := key[len(scanPrefix):]
			walker, err := c.Resident.EnterSetMember(pk)
			if err != nil {
				return nil, rdberr.Wrap(rdberr.BackendError, err, "reduce member")
			}
			if err := step(&TableVal{TypeName: elem.Name, Resident: walker}); err != nil {
				return nil, err
			}
		}

	case Null:
		return acc, nil

	default:
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "reduce requires a list or set, got `%s`", TypeOf(coll))
	}
}

// evalRangeReduce folds over the integer range [from, to). An empty or
// inverted range yields the initial accumulator.
func (e *Executor) evalRangeReduce(ctx context.Context, x *asm.RangeReduce, env map[string]Value, depth int) (Value, error) {
	callee, ok := e.prog.graphs[x.Graph]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "graph `%s` not found", x.Graph)
	}
	fromV, err := e.evalExpr(ctx, x.From, env, depth)
	if err != nil {
		return nil, err
	}
	toV, err := e.evalExpr(ctx, x.To, env, depth)
	if err != nil {
		return nil, err
	}
	from, err := asInt64(fromV)
	if err != nil {
		return nil, err
	}
	to, err := asInt64(toV)
	if err != nil {
		return nil, err
	}
	acc, err := e.evalExpr(ctx, x.Init, env, depth)
	if err != nil {
		return nil, err
	}
	for i := from; i < to; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := e.runGraph(ctx, callee, []Value{Null{T: UnknownType{}}, acc, Int64Value(i)}, depth+1)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, rdberr.NewAt(rdberr.TypeError, x.Loc(), "reduce subgraph `%s` produced no value", x.Graph)
		}
		acc = out
	}
	return acc, nil
}

func asInt64(v Value) (int64, error) {
	p, ok := v.(Prim)
	if !ok || p.P.Kind != value.KindInt64 {
		return 0, rdberr.New(rdberr.TypeError, "expected int64, got `%s`", TypeOf(v))
	}
	return p.P.I, nil
}
