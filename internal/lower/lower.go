// Package lower implements HIR to MIR lowering: unions
// become tagged Variant values, lists and maps become concrete
// Cons/Nil and iterator-protocol record encodings, try/spawn become
// Case dispatch plus thunks, records become indexed tuples and
// comprehensions become recursive lazy closures. Reference count
// annotation (internal/rc) runs on this pass's output.
package lower

import (
	"fmt"
	"sort"

	"github.com/solace-lang/solacec/internal/cerr"
	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/infer"
	"github.com/solace-lang/solacec/internal/mir"
	"github.com/solace-lang/solacec/internal/types"
)

type Context struct {
	TypeEnv *types.Env
	Config  config.Config
	Infer   *infer.Context
	counter int
}

// gensym returns a fresh identifier under the reserved prefix surface
// syntax can never produce, so generated names never collide with
// source names.
func (c *Context) gensym(base string) string {
	c.counter++
	return fmt.Sprintf("%s%s%d", config.ReservedNamePrefix, base, c.counter)
}

// Module lowers every function definition in m, which must already
// have been through infer.Module, coerce.Module and check.Module.
func Module(m *hir.Module, typeEnv *types.Env, cfg config.Config) (*mir.Module, *cerr.CompileError) {
	c := &Context{TypeEnv: typeEnv, Config: cfg, Infer: infer.NewContext(typeEnv, cfg)}

	out := &mir.Module{}
	for _, td := range m.TypeDefinitions {
		fields := make([]mir.Field, len(td.Fields))
		for i, f := range td.Fields {
			fields[i] = mir.Field{Name: f.Name, Type: c.lowerType(f.Type)}
		}
		out.TypeDefinitions = append(out.TypeDefinitions, mir.TypeDefinition{Name: td.Name, Fields: fields})
	}
	for _, fd := range m.ForeignDeclarations {
		out.ForeignDeclarations = append(out.ForeignDeclarations, mir.ForeignDeclaration{Name: fd.Name, Type: c.lowerFunctionType(fd.Type)})
	}
	for _, fd := range m.FunctionDeclarations {
		out.FunctionDeclarations = append(out.FunctionDeclarations, mir.FunctionDeclaration{Name: fd.Name, Type: c.lowerFunctionType(fd.Type)})
	}

	topEnv := infer.VarEnv{}
	for _, decl := range m.FunctionDeclarations {
		topEnv = topEnv.With(decl.Name, decl.Type)
	}
	for _, def := range m.FunctionDefinitions {
		topEnv = topEnv.With(def.Name, lambdaType(def.Lambda))
	}

	for _, def := range m.FunctionDefinitions {
		mdef, err := c.lowerTopLevelLambda(def.Lambda, topEnv)
		if err != nil {
			return nil, err
		}
		mdef.Name = def.Name
		out.FunctionDefinitions = append(out.FunctionDefinitions, mdef)
	}
	return out, nil
}

func lambdaType(l *hir.Lambda) types.Function {
	args := make([]types.Type, len(l.Arguments))
	for i, a := range l.Arguments {
		args[i] = a.Type
	}
	return types.Function{Args: args, Result: l.ResultType}
}

func (c *Context) lowerTopLevelLambda(l *hir.Lambda, env infer.VarEnv) (*mir.FunctionDefinition, *cerr.CompileError) {
	bodyEnv := env
	args := make([]mir.FunctionArgument, len(l.Arguments))
	for i, a := range l.Arguments {
		args[i] = mir.FunctionArgument{Name: a.Name, Type: c.lowerType(a.Type)}
		bodyEnv = bodyEnv.With(a.Name, a.Type)
	}
	body, err := c.expr(l.Body, bodyEnv)
	if err != nil {
		return nil, err
	}
	return &mir.FunctionDefinition{Arguments: args, ResultType: c.lowerType(l.ResultType), Body: body}, nil
}

// lowerType maps an HIR/type-algebra type to its MIR runtime
// representation. Union and Any both become an untagged existential
// (mir.Variant with no statically-known Inner); List and Map become
// the nominal record types this module's configuration names for
// them.
func (c *Context) lowerType(t types.Type) mir.Type {
	switch v := types.Canonicalize(t, c.TypeEnv).(type) {
	case types.Boolean:
		return mir.Boolean{}
	case types.None:
		return mir.None{}
	case types.Number:
		return mir.Number{}
	case types.String:
		return mir.ByteString{}
	case types.Any:
		return mir.Variant{}
	case types.Union:
		return mir.Variant{}
	case types.Record:
		return mir.RecordType{Name: v.Name}
	case types.Function:
		return c.lowerFunctionType(v)
	case types.List:
		return mir.RecordType{Name: c.Config.ListType.TypeName}
	case types.Map:
		return mir.RecordType{Name: c.Config.MapType.TypeName}
	default:
		return mir.Variant{}
	}
}

func (c *Context) lowerFunctionType(f types.Function) mir.Function {
	args := make([]mir.Type, len(f.Args))
	for i, a := range f.Args {
		args[i] = c.lowerType(a)
	}
	return mir.Function{Args: args, Result: c.lowerType(f.Result)}
}

// consType/nilType name the tagged record shapes this pass lowers list
// literals and list destructuring to: a two-field Cons(head, tail) and
// a zero-field Nil, both wrapped as the configured list type's Variant
// payloads.
func (c *Context) consType() mir.RecordType { return mir.RecordType{Name: c.Config.ListType.TypeName + ".Cons"} }
func (c *Context) nilType() mir.RecordType  { return mir.RecordType{Name: c.Config.ListType.TypeName + ".Nil"} }

// entryType and iterEntryType name the iterator-protocol result shapes
// a map lookup or iteration step produces, tagged the same way lists
// are; the exhausted-iterator case carries no payload and dispatches
// through the Case default instead of a tag of its own.
func (c *Context) entryType() mir.RecordType {
	return mir.RecordType{Name: c.Config.MapType.TypeName + ".Entry"}
}
func (c *Context) iterEntryType() mir.RecordType {
	return mir.RecordType{Name: c.Config.MapType.Iteration.IteratorTypeName + ".Entry"}
}

func (c *Context) expr(e hir.Expression, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	switch v := e.(type) {
	case hir.Boolean:
		return &mir.BooleanLiteral{Position: v.Position, Value: v.Value}, nil
	case hir.None:
		return &mir.NoneLiteral{Position: v.Position}, nil
	case hir.Number:
		return &mir.NumberLiteral{Position: v.Position, Value: v.Value}, nil
	case hir.String:
		return &mir.ByteStringLiteral{Position: v.Position, Value: []byte(v.Value)}, nil
	case hir.Variable:
		return &mir.Variable{Position: v.Position, Name: v.Name}, nil

	case *hir.Lambda:
		return c.lowerClosureValue(v, env, false)

	case *hir.Let:
		bound, err := c.expr(v.Bound, env)
		if err != nil {
			return nil, err
		}
		body, err := c.expr(v.Body, env.With(v.Name, v.Type))
		if err != nil {
			return nil, err
		}
		return &mir.Let{Position: v.Position, Name: v.Name, Type: c.lowerType(v.Type), Bound: bound, Body: body}, nil

	case *hir.Call:
		fn, err := c.expr(v.Function, env)
		if err != nil {
			return nil, err
		}
		args := make([]mir.Expression, len(v.Arguments))
		for i, a := range v.Arguments {
			lowered, err := c.expr(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = lowered
		}
		fnFunc, _ := types.CanonicalizeFunction(v.FunctionType, c.TypeEnv)
		return &mir.Call{Position: v.Position, FnType: c.lowerFunctionType(fnFunc), Fn: fn, Args: args}, nil

	case *hir.If:
		cond, err := c.expr(v.Cond, env)
		if err != nil {
			return nil, err
		}
		then, err := c.expr(v.Then, env)
		if err != nil {
			return nil, err
		}
		els, err := c.expr(v.Else, env)
		if err != nil {
			return nil, err
		}
		return &mir.If{Position: v.Position, Cond: cond, Then: then, Else: els}, nil

	case *hir.IfList:
		return c.lowerIfList(v, env)
	case *hir.IfMap:
		return c.lowerIfMap(v, env)
	case *hir.IfType:
		return c.lowerIfType(v, env)

	case *hir.List:
		return c.lowerList(v, env)
	case *hir.ListComprehension:
		return c.lowerListComprehension(v, env)
	case *hir.Map:
		return c.lowerMap(v, env)
	case *hir.MapIterationComprehension:
		return c.lowerMapIterationComprehension(v, env)

	case *hir.ArithmeticOperation:
		lhs, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, err
		}
		return &mir.ArithmeticOperation{Position: v.Position, Operator: int(v.Operator), Lhs: lhs, Rhs: rhs}, nil

	case *hir.BooleanOperation:
		lhs, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, err
		}
		if v.Operator == hir.And {
			return &mir.If{Position: v.Position, Cond: lhs, Then: rhs, Else: &mir.BooleanLiteral{Position: v.Position, Value: false}}, nil
		}
		return &mir.If{Position: v.Position, Cond: lhs, Then: &mir.BooleanLiteral{Position: v.Position, Value: true}, Else: rhs}, nil

	case *hir.OrderOperation:
		lhs, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, err
		}
		return &mir.ComparisonOperation{Position: v.Position, Operator: lowerOrderOperator(v.Operator), Lhs: lhs, Rhs: rhs}, nil

	case *hir.EqualityOperation:
		return c.lowerEquality(v, env)

	case *hir.Not:
		operand, err := c.expr(v.Operand, env)
		if err != nil {
			return nil, err
		}
		return &mir.If{Position: v.Position, Cond: operand, Then: &mir.BooleanLiteral{Position: v.Position, Value: false}, Else: &mir.BooleanLiteral{Position: v.Position, Value: true}}, nil

	case *hir.Try:
		return c.lowerTry(v, env)

	case *hir.Spawn:
		return c.lowerSpawn(v, env)

	case *hir.RecordConstruction:
		return c.lowerRecordConstruction(v, env)

	case *hir.RecordDeconstruction:
		record, err := c.expr(v.Record, env)
		if err != nil {
			return nil, err
		}
		recordType, terr := c.Infer.TypeOf(v.Record, env)
		if terr != nil {
			return nil, terr
		}
		idx, ierr := c.fieldIndex(recordType, v.FieldName, v.Position)
		if ierr != nil {
			return nil, ierr
		}
		return &mir.RecordField{Position: v.Position, Type: c.lowerType(v.Type), Index: idx, Record: record}, nil

	case *hir.RecordUpdate:
		record, err := c.expr(v.Record, env)
		if err != nil {
			return nil, err
		}
		fields, ferr := c.lowerRecordUpdateFields(v.Type, v.Fields, env)
		if ferr != nil {
			return nil, ferr
		}
		return &mir.RecordUpdate{Position: v.Position, Type: c.lowerType(v.Type), Record: record, Fields: fields}, nil

	case *hir.Thunk:
		return c.lowerThunkValue(v, env)

	case *hir.TypeCoercion:
		return c.lowerCoercion(v, env)
	}
	return nil, cerr.New(cerr.TypeNotInferred, e.Pos(), "unhandled expression kind in lower")
}

func lowerOrderOperator(op hir.OrderOperator) mir.ComparisonOperator {
	switch op {
	case hir.LessThan:
		return mir.LessThan
	case hir.LessThanOrEqual:
		return mir.LessThanOrEqual
	case hir.GreaterThan:
		return mir.GreaterThan
	default:
		return mir.GreaterThanOrEqual
	}
}

func recordName(t types.Type, env *types.Env) string {
	if r, ok := types.Canonicalize(t, env).(types.Record); ok {
		return r.Name
	}
	return ""
}

func (c *Context) fieldIndex(recordType types.Type, fieldName string, pos types.Position) (int, *cerr.CompileError) {
	declared, ok := types.ResolveRecordFields(recordType, c.TypeEnv)
	if !ok {
		return 0, cerr.New(cerr.TypeNotInferred, pos, "record type did not resolve")
	}
	for i, f := range declared {
		if f.Name == fieldName {
			return i, nil
		}
	}
	return 0, cerr.New(cerr.RecordFieldUnknown, pos, fieldName)
}

// lowerRecordConstruction binds each field expression to a "$"-prefixed
// name in declaration order, then builds the Record from those bindings
// in the same order. The intermediate Lets pin evaluation order to the
// declaration order the backend's positional indexing assumes, even
// when the source wrote the fields in another order.
func (c *Context) lowerRecordConstruction(v *hir.RecordConstruction, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	declared, ok := types.ResolveRecordFields(v.Type, c.TypeEnv)
	if !ok {
		return nil, cerr.New(cerr.TypeNotInferred, v.Position, "record type did not resolve")
	}
	byName := map[string]hir.Expression{}
	for _, f := range v.Fields {
		byName[f.Name] = f.Expr
	}

	fields := make([]mir.RecordFieldValue, len(declared))
	for i, f := range declared {
		fields[i] = mir.RecordFieldValue{Expr: &mir.Variable{Position: v.Position, Name: config.ReservedNamePrefix + f.Name}}
	}
	var result mir.Expression = &mir.Record{
		Position: v.Position,
		Type:     mir.RecordType{Name: recordName(v.Type, c.TypeEnv)},
		Fields:   fields,
	}
	for i := len(declared) - 1; i >= 0; i-- {
		f := declared[i]
		fieldExpr, ok := byName[f.Name]
		if !ok {
			return nil, cerr.New(cerr.RecordFieldMissing, v.Position, f.Name)
		}
		lowered, err := c.expr(fieldExpr, env)
		if err != nil {
			return nil, err
		}
		result = &mir.Let{
			Position: v.Position,
			Name:     config.ReservedNamePrefix + f.Name,
			Type:     c.lowerType(f.Type),
			Bound:    lowered,
			Body:     result,
		}
	}
	return result, nil
}

func (c *Context) lowerRecordUpdateFields(recordType types.Type, fields []hir.RecordFieldValue, env infer.VarEnv) ([]mir.RecordUpdateField, *cerr.CompileError) {
	declared, ok := types.ResolveRecordFields(recordType, c.TypeEnv)
	if !ok {
		return nil, cerr.New(cerr.TypeNotInferred, types.Position{}, "record type did not resolve")
	}
	indexOf := map[string]int{}
	for i, f := range declared {
		indexOf[f.Name] = i
	}
	out := make([]mir.RecordUpdateField, len(fields))
	for i, f := range fields {
		idx, ok := indexOf[f.Name]
		if !ok {
			return nil, cerr.New(cerr.RecordFieldUnknown, types.Position{}, f.Name)
		}
		lowered, err := c.expr(f.Expr, env)
		if err != nil {
			return nil, err
		}
		out[i] = mir.RecordUpdateField{Index: idx, Expr: lowered}
	}
	return out, nil
}

// lowerTry lowers the `?` operator: a Case over a TryOperation. The
// TryOperation's alternate exit re-wraps the caught value as the error
// variant; the Case's alternatives unwrap the surviving value at each
// member of the success type.
func (c *Context) lowerTry(v *hir.Try, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	operand, err := c.expr(v.Operand, env)
	if err != nil {
		return nil, err
	}
	errType := c.lowerType(types.Reference{Position: v.Position, Name: c.Config.ErrorType.ErrorTypeName})
	success := &mir.Variable{Position: v.Position, Name: config.SuccessValueName}
	return &mir.Case{
		Position: v.Position,
		Argument: &mir.TryOperation{
			Position: v.Position,
			Operand:  operand,
			Name:     config.ErrorValueName,
			Type:     errType,
			Then: &mir.VariantExpr{
				Position: v.Position,
				Inner:    errType,
				Payload:  &mir.Variable{Position: v.Position, Name: config.ErrorValueName},
			},
		},
		Alternatives: c.caseAlternatives(v.Type, config.SuccessValueName, success, v.Position),
	}, nil
}

// lowerSpawn schedules the lambda's body on the configured runtime
// spawn function as a thunk returning a bare variant, then hands the
// caller a thunk of the declared type that forces the handle and
// downcasts the result. Synchronize on the spawned thunk guarantees
// the body runs at most once no matter how many waiters force it.
func (c *Context) lowerSpawn(v *hir.Spawn, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	pos := v.Position
	resultType := v.Lambda.ResultType
	handleType := mir.Function{Result: mir.Variant{}}

	body, err := c.lowerCoercion(&hir.TypeCoercion{
		Position: pos,
		From:     resultType,
		To:       types.Any{Position: pos},
		Arg:      v.Lambda.Body,
	}, env)
	if err != nil {
		return nil, err
	}

	spawned := &mir.LetRecursive{
		Position: pos,
		Definition: &mir.FunctionDefinition{
			Name:        config.AnyThunkName,
			Environment: c.capturedEnvironment(v.Lambda, env),
			ResultType:  mir.Variant{},
			Body:        body,
			IsThunk:     true,
		},
		Body: &mir.Synchronize{Position: pos, Type: handleType, Expr: &mir.Variable{Position: pos, Name: config.AnyThunkName}},
	}
	spawnCall := &mir.Call{
		Position: pos,
		FnType:   mir.Function{Args: []mir.Type{handleType}, Result: handleType},
		Fn:       &mir.Variable{Position: pos, Name: c.Config.Concurrency.ModuleLocalSpawnFunctionName},
		Args:     []mir.Expression{spawned},
	}

	downcast := &mir.Case{
		Position: pos,
		Argument: &mir.Call{Position: pos, FnType: handleType, Fn: &mir.Variable{Position: pos, Name: config.AnyThunkName}},
		Alternatives: c.caseAlternatives(resultType, config.DowncastName,
			&mir.Variable{Position: pos, Name: config.DowncastName}, pos),
	}
	return &mir.Let{
		Position: pos,
		Name:     config.AnyThunkName,
		Type:     handleType,
		Bound:    spawnCall,
		Body: &mir.LetRecursive{
			Position: pos,
			Definition: &mir.FunctionDefinition{
				Name:        config.ThunkName,
				Environment: []mir.EnvironmentArgument{{Name: config.AnyThunkName, Type: handleType}},
				ResultType:  c.lowerType(resultType),
				Body:        downcast,
				IsThunk:     true,
			},
			Body: &mir.Variable{Position: pos, Name: config.ThunkName},
		},
	}, nil
}

// capturedEnvironment computes the closure environment for l: every
// free variable of its body that is bound in env, in sorted order so
// the emitted definition is deterministic. env includes the module's
// top-level names, so globals the body mentions are captured as well.
func (c *Context) capturedEnvironment(l *hir.Lambda, env infer.VarEnv) []mir.EnvironmentArgument {
	bound := nameSet{}
	for _, a := range l.Arguments {
		bound = bound.with(a.Name)
	}
	free := map[string]bool{}
	collectFree(l.Body, bound, free)

	names := make([]string, 0, len(free))
	for n := range free {
		if _, ok := env[n]; ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	environment := make([]mir.EnvironmentArgument, len(names))
	for i, n := range names {
		environment[i] = mir.EnvironmentArgument{Name: n, Type: c.lowerType(env[n])}
	}
	return environment
}

// concreteRecordType names the one-field wrapper record a generic
// (function, list or map) value is boxed in when it flows into a
// variant. Keying the name by the canonical type keeps the tag chosen
// at coercion time and the tag matched at case time in agreement.
func (c *Context) concreteRecordType(t types.Type) mir.RecordType {
	return mir.RecordType{Name: config.ReservedNamePrefix + types.Canonicalize(t, c.TypeEnv).String()}
}

// caseAlternatives builds one Alternative per member of t, each
// binding name for body. For a union, every arm rebinds name to a
// freshly re-tagged variant of its member so body observes the full
// union-typed value; for a single generic (function/list/map) member,
// the arm matches the member's concrete wrapper record and unboxes its
// sole field. body is emitted once and shared across arms.
func (c *Context) caseAlternatives(t types.Type, name string, body mir.Expression, pos types.Position) []mir.Alternative {
	canon := types.Canonicalize(t, c.TypeEnv)
	_, isUnion := canon.(types.Union)

	var alternatives []mir.Alternative
	for _, member := range types.MembersOf(canon, c.TypeEnv) {
		switch member.(type) {
		case types.Function, types.List, types.Map:
			concrete := c.concreteRecordType(member)
			var expr mir.Expression
			if isUnion {
				expr = &mir.Let{
					Position: pos, Name: name, Type: mir.Variant{},
					Bound: &mir.VariantExpr{Position: pos, Inner: concrete, Payload: &mir.Variable{Position: pos, Name: name}},
					Body:  body,
				}
			} else {
				expr = &mir.Let{
					Position: pos, Name: name, Type: c.lowerType(member),
					Bound: &mir.RecordField{Position: pos, Type: c.lowerType(member), Index: 0, Record: &mir.Variable{Position: pos, Name: name}},
					Body:  body,
				}
			}
			alternatives = append(alternatives, mir.Alternative{Type: concrete, Name: name, Expr: expr})
		default:
			expr := body
			if isUnion {
				expr = &mir.Let{
					Position: pos, Name: name, Type: mir.Variant{},
					Bound: &mir.VariantExpr{Position: pos, Inner: c.lowerType(member), Payload: &mir.Variable{Position: pos, Name: name}},
					Body:  body,
				}
			}
			alternatives = append(alternatives, mir.Alternative{Type: c.lowerType(member), Name: name, Expr: expr})
		}
	}
	return alternatives
}

// lowerThunkValue lowers a Thunk into a zero-argument closure value,
// the same LetRecursive shape lowerClosureValue builds for Lambda
// (bound to a fresh gensym "$closure" name, with IsThunk set), reused
// here since forcing is identical at the call site.
func (c *Context) lowerThunkValue(v *hir.Thunk, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	lambda := &hir.Lambda{Position: v.Position, ResultType: v.Type, Body: v.Expr}
	return c.lowerClosureValue(lambda, env, true)
}

// lowerClosureValue builds a LetRecursive binding a fresh name to
// Lambda's lowered FunctionDefinition (with free variables captured
// explicitly as Environment), and returns a reference to that name:
// the closure used as a first-class value at this point in the
// expression tree.
func (c *Context) lowerClosureValue(l *hir.Lambda, env infer.VarEnv, isThunk bool) (mir.Expression, *cerr.CompileError) {
	name := c.gensym("closure")
	environment := c.capturedEnvironment(l, env)

	bodyEnv := env
	args := make([]mir.FunctionArgument, len(l.Arguments))
	for i, a := range l.Arguments {
		args[i] = mir.FunctionArgument{Name: a.Name, Type: c.lowerType(a.Type)}
		bodyEnv = bodyEnv.With(a.Name, a.Type)
	}
	body, err := c.expr(l.Body, bodyEnv)
	if err != nil {
		return nil, err
	}
	def := &mir.FunctionDefinition{
		Name:        name,
		Environment: environment,
		Arguments:   args,
		ResultType:  c.lowerType(l.ResultType),
		Body:        body,
		IsThunk:     isThunk,
	}
	return &mir.LetRecursive{
		Position:   l.Position,
		Definition: def,
		Body:       &mir.Variable{Position: l.Position, Name: name},
	}, nil
}

// lowerCoercion implements the Variant-wrapping rule: tagging is only
// needed going from a concrete (non-union, non-Any) type into a
// union/Any; widening a union into a bigger union is already correctly
// tagged at runtime and needs no new wrapper. Generic values (function,
// list, map) are boxed in their concrete wrapper record before tagging
// so the variant carries the full type, not the erased runtime shape.
// List-to-list and map-to-map pairs land in the final return: the
// representation is identical, so the payload passes through untouched.
func (c *Context) lowerCoercion(v *hir.TypeCoercion, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	arg, err := c.expr(v.Arg, env)
	if err != nil {
		return nil, err
	}
	fromCanon := types.Canonicalize(v.From, c.TypeEnv)
	toCanon := types.Canonicalize(v.To, c.TypeEnv)
	_, toIsUnion := toCanon.(types.Union)
	_, toIsAny := toCanon.(types.Any)
	if toIsUnion || toIsAny {
		switch fromCanon.(type) {
		case types.Union, types.Any:
			return arg, nil
		case types.Function, types.List, types.Map:
			concrete := c.concreteRecordType(fromCanon)
			boxed := &mir.Record{Position: v.Position, Type: concrete, Fields: []mir.RecordFieldValue{{Expr: arg}}}
			return &mir.VariantExpr{Position: v.Position, Inner: concrete, Payload: boxed}, nil
		default:
			return &mir.VariantExpr{Position: v.Position, Inner: c.lowerType(v.From), Payload: arg}, nil
		}
	}
	return arg, nil
}

func (c *Context) lowerEquality(v *hir.EqualityOperation, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	lhs, err := c.expr(v.Lhs, env)
	if err != nil {
		return nil, err
	}
	rhs, err := c.expr(v.Rhs, env)
	if err != nil {
		return nil, err
	}

	var cmp mir.Expression
	switch types.Canonicalize(v.Type, c.TypeEnv).(type) {
	case types.Number, types.Boolean, types.None:
		cmp = &mir.ComparisonOperation{Position: v.Position, Operator: mir.Equal, Lhs: lhs, Rhs: rhs}
	case types.String:
		fnType := mir.Function{Args: []mir.Type{mir.ByteString{}, mir.ByteString{}}, Result: mir.Boolean{}}
		cmp = &mir.Call{
			Position: v.Position, FnType: fnType,
			Fn:   &mir.Variable{Position: v.Position, Name: c.Config.StringType.EqualFunctionName},
			Args: []mir.Expression{lhs, rhs},
		}
	default:
		fnType := mir.Function{Args: []mir.Type{mir.Variant{}, mir.Variant{}}, Result: mir.Boolean{}}
		cmp = &mir.Call{
			Position: v.Position, FnType: fnType,
			Fn:   &mir.Variable{Position: v.Position, Name: c.Config.Equality.GenericEqualFunctionName},
			Args: []mir.Expression{lhs, rhs},
		}
	}
	if v.Negated {
		return &mir.If{Position: v.Position, Cond: cmp, Then: &mir.BooleanLiteral{Position: v.Position, Value: false}, Else: &mir.BooleanLiteral{Position: v.Position, Value: true}}, nil
	}
	return cmp, nil
}

// lowerList builds a list literal by right-folding its elements into
// nested tagged Cons cells terminated by a tagged Nil, merging spread
// elements through the configured lazy-list function.
func (c *Context) lowerList(v *hir.List, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	listT := mir.RecordType{Name: c.Config.ListType.TypeName}

	var tail mir.Expression = &mir.VariantExpr{Position: v.Position, Inner: c.nilType(), Payload: &mir.Record{Position: v.Position, Type: c.nilType()}}
	for i := len(v.Elements) - 1; i >= 0; i-- {
		el := v.Elements[i]
		lowered, err := c.expr(el.Expr, env)
		if err != nil {
			return nil, err
		}
		if el.Multiple {
			fnType := mir.Function{Args: []mir.Type{listT, listT}, Result: listT}
			tail = &mir.Call{
				Position: el.Expr.Pos(), FnType: fnType,
				Fn:   &mir.Variable{Position: el.Expr.Pos(), Name: c.Config.ListType.LazyFunctionName},
				Args: []mir.Expression{lowered, tail},
			}
			continue
		}
		payload := &mir.Record{Position: el.Expr.Pos(), Type: c.consType(), Fields: []mir.RecordFieldValue{{Expr: lowered}, {Expr: tail}}}
		tail = &mir.VariantExpr{Position: el.Expr.Pos(), Inner: c.consType(), Payload: payload}
	}
	return tail, nil
}

// lowerIfList destructures List by Case-dispatching on its Cons/Nil
// tag, projecting the head/tail pair out of the Cons payload via
// RecordField before evaluating Then.
func (c *Context) lowerIfList(v *hir.IfList, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	list, err := c.expr(v.List, env)
	if err != nil {
		return nil, err
	}
	elemT := c.lowerType(v.Type)
	listT := mir.RecordType{Name: c.Config.ListType.TypeName}
	payloadName := c.gensym("cons")

	thenEnv := env.With(v.FirstName, v.Type).With(v.RestName, types.List{Position: v.Position, Element: v.Type})
	then, err := c.expr(v.Then, thenEnv)
	if err != nil {
		return nil, err
	}
	els, err := c.expr(v.Else, env)
	if err != nil {
		return nil, err
	}

	wrapped := &mir.Let{
		Position: v.Position, Name: v.FirstName, Type: elemT,
		Bound: &mir.RecordField{Position: v.Position, Type: elemT, Index: 0, Record: &mir.Variable{Position: v.Position, Name: payloadName}},
		Body: &mir.Let{
			Position: v.Position, Name: v.RestName, Type: listT,
			Bound: &mir.RecordField{Position: v.Position, Type: listT, Index: 1, Record: &mir.Variable{Position: v.Position, Name: payloadName}},
			Body:  then,
		},
	}
	return &mir.Case{
		Position: v.Position,
		Argument: list,
		Alternatives: []mir.Alternative{
			{Type: c.consType(), Name: payloadName, Expr: wrapped},
		},
		Default: &mir.DefaultAlternative{Expr: els},
	}, nil
}

// lowerIfMap destructures one entry of Map via the configured lookup
// function, which returns an Entry/Done-tagged iterator-protocol
// value; Then runs under the projected value, Else under the Done tag.
func (c *Context) lowerIfMap(v *hir.IfMap, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	mp, err := c.expr(v.Map, env)
	if err != nil {
		return nil, err
	}
	key, err := c.expr(v.Key, env)
	if err != nil {
		return nil, err
	}
	mapT := mir.RecordType{Name: c.Config.MapType.TypeName}
	keyT := c.lowerType(v.KeyType)
	valueT := c.lowerType(v.ValueType)

	lookupFnType := mir.Function{Args: []mir.Type{mapT, keyT}, Result: mir.Variant{}}
	lookup := &mir.Call{
		Position: v.Position, FnType: lookupFnType,
		Fn:   &mir.Variable{Position: v.Position, Name: c.Config.MapType.LookupFunctionName},
		Args: []mir.Expression{mp, key},
	}

	payloadName := c.gensym("entry")
	thenEnv := env.With(v.Name, v.ValueType)
	then, err := c.expr(v.Then, thenEnv)
	if err != nil {
		return nil, err
	}
	els, err := c.expr(v.Else, env)
	if err != nil {
		return nil, err
	}
	wrapped := &mir.Let{
		Position: v.Position, Name: v.Name, Type: valueT,
		Bound: &mir.RecordField{Position: v.Position, Type: valueT, Index: 0, Record: &mir.Variable{Position: v.Position, Name: payloadName}},
		Body:  then,
	}
	return &mir.Case{
		Position: v.Position,
		Argument: lookup,
		Alternatives: []mir.Alternative{
			{Type: c.entryType(), Name: payloadName, Expr: wrapped},
		},
		Default: &mir.DefaultAlternative{Expr: els},
	}, nil
}

// lowerIfType dispatches on Arg's runtime tag: one Alternative per
// member of each branch's type, each rebinding Name to the branch's
// narrowed payload. An Else whose narrowed type is exactly Any becomes
// the Case's DefaultAlternative; an Else narrowed to a smaller union
// contributes ordinary alternatives for that union's members instead.
// Note the asymmetry: an else typed Any collapses to the default arm
// even when the scrutinee is a union whose computed remainder is a
// smaller, named type.
func (c *Context) lowerIfType(v *hir.IfType, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	arg, err := c.expr(v.Arg, env)
	if err != nil {
		return nil, err
	}
	var alternatives []mir.Alternative
	for _, b := range v.Branches {
		then, err := c.expr(b.Then, env.With(v.Name, b.Type))
		if err != nil {
			return nil, err
		}
		alternatives = append(alternatives, c.caseAlternatives(b.Type, v.Name, then, v.Position)...)
	}
	var def *mir.DefaultAlternative
	if v.Else != nil {
		els, err := c.expr(v.Else, env.With(v.Name, v.ElseType))
		if err != nil {
			return nil, err
		}
		if _, isAny := types.Canonicalize(v.ElseType, c.TypeEnv).(types.Any); isAny {
			def = &mir.DefaultAlternative{Name: v.Name, Expr: els}
		} else {
			alternatives = append(alternatives, c.caseAlternatives(v.ElseType, v.Name, els, v.Position)...)
		}
	}
	return &mir.Case{Position: v.Position, Argument: arg, Alternatives: alternatives, Default: def}, nil
}

// lowerListComprehension lowers to a self-recursive closure that
// walks the source list one Cons cell at a time, lazily producing one
// output Cons cell per input element. The element's thunk binding
// (Name, bound at inference time to a zero-argument function type) is
// realized here as a closure over the already-forced head value, so
// repeated calls inside Element never re-walk the source list.
func (c *Context) lowerListComprehension(v *hir.ListComprehension, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	loopName := c.gensym("loop")
	listParam := c.gensym("list")
	payloadName := c.gensym("cons")
	headName := c.gensym("head")
	restName := c.gensym("rest")

	inputElemT := c.lowerType(v.InputType)
	listT := mir.RecordType{Name: c.Config.ListType.TypeName}

	thunkType := types.Function{Position: v.Position, Result: v.InputType}
	elementEnv := env.With(v.Name, thunkType)
	// The thunk bound to v.Name forces to the already-evaluated head
	// variable, so the source list is never re-walked.
	elementBody, err := c.expr(v.Element, elementEnv)
	if err != nil {
		return nil, err
	}
	// The closure is bound under v.Name itself; Element's body (already
	// lowered under that binding) calls it by that name directly.
	elementWithThunk := &mir.LetRecursive{
		Position: v.Position,
		Definition: &mir.FunctionDefinition{
			Name:        v.Name,
			Environment: []mir.EnvironmentArgument{{Name: headName, Type: inputElemT}},
			ResultType:  inputElemT,
			Body:        &mir.Variable{Position: v.Position, Name: headName},
			IsThunk:     true,
		},
		Body: elementBody,
	}

	recurse := &mir.Call{
		Position: v.Position,
		FnType:   mir.Function{Args: []mir.Type{listT}, Result: listT},
		Fn:       &mir.Variable{Position: v.Position, Name: loopName},
		Args:     []mir.Expression{&mir.Variable{Position: v.Position, Name: restName}},
	}
	outCons := &mir.VariantExpr{
		Position: v.Position, Inner: c.consType(),
		Payload: &mir.Record{Position: v.Position, Type: c.consType(), Fields: []mir.RecordFieldValue{
			{Expr: elementWithThunk},
			{Expr: recurse},
		}},
	}
	caseBody := &mir.Let{
		Position: v.Position, Name: headName, Type: inputElemT,
		Bound: &mir.RecordField{Position: v.Position, Type: inputElemT, Index: 0, Record: &mir.Variable{Position: v.Position, Name: payloadName}},
		Body: &mir.Let{
			Position: v.Position, Name: restName, Type: listT,
			Bound: &mir.RecordField{Position: v.Position, Type: listT, Index: 1, Record: &mir.Variable{Position: v.Position, Name: payloadName}},
			Body:  outCons,
		},
	}
	loopDef := &mir.FunctionDefinition{
		Name:       loopName,
		Arguments:  []mir.FunctionArgument{{Name: listParam, Type: listT}},
		ResultType: listT,
		Body: &mir.Case{
			Position: v.Position,
			Argument: &mir.Variable{Position: v.Position, Name: listParam},
			Alternatives: []mir.Alternative{
				{Type: c.consType(), Name: payloadName, Expr: caseBody},
			},
			Default: &mir.DefaultAlternative{Expr: &mir.VariantExpr{Position: v.Position, Inner: c.nilType(), Payload: &mir.Record{Position: v.Position, Type: c.nilType()}}},
		},
	}
	list, err := c.expr(v.List, env)
	if err != nil {
		return nil, err
	}
	walk := &mir.LetRecursive{
		Position:   v.Position,
		Definition: loopDef,
		Body: &mir.Call{
			Position: v.Position,
			FnType:   mir.Function{Args: []mir.Type{listT}, Result: listT},
			Fn:       &mir.Variable{Position: v.Position, Name: loopName},
			Args:     []mir.Expression{list},
		},
	}
	// The whole walk is deferred behind the configured lazy constructor:
	// the comprehension's value is a list whose cells materialize only
	// as they are demanded.
	outerName := c.gensym("comprehension")
	return &mir.Call{
		Position: v.Position,
		FnType:   mir.Function{Args: []mir.Type{mir.Function{Result: listT}}, Result: listT},
		Fn:       &mir.Variable{Position: v.Position, Name: c.Config.ListType.LazyFunctionName},
		Args: []mir.Expression{&mir.LetRecursive{
			Position: v.Position,
			Definition: &mir.FunctionDefinition{
				Name:       outerName,
				ResultType: listT,
				Body:       walk,
				IsThunk:    true,
			},
			Body: &mir.Variable{Position: v.Position, Name: outerName},
		}},
	}, nil
}

// lowerMap builds a map literal by left-folding its elements into
// calls against the configured map constructor functions: the empty
// map seeds the fold, single entries insert, spreads merge wholesale
// and removal keys delete. The map's internal layout stays opaque
// behind that protocol.
func (c *Context) lowerMap(v *hir.Map, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	mapT := mir.RecordType{Name: c.Config.MapType.TypeName}
	var acc mir.Expression = &mir.Call{
		Position: v.Position,
		FnType:   mir.Function{Result: mapT},
		Fn:       &mir.Variable{Position: v.Position, Name: c.Config.MapType.EmptyFunctionName},
	}
	for _, el := range v.Elements {
		switch {
		case el.Spread != nil:
			spread, err := c.expr(el.Spread, env)
			if err != nil {
				return nil, err
			}
			fnType := mir.Function{Args: []mir.Type{mapT, mapT}, Result: mapT}
			acc = &mir.Call{Position: v.Position, FnType: fnType, Fn: &mir.Variable{Position: v.Position, Name: c.Config.MapType.MergeFunctionName}, Args: []mir.Expression{acc, spread}}
		case el.RemoveKey != nil:
			key, err := c.expr(el.RemoveKey, env)
			if err != nil {
				return nil, err
			}
			fnType := mir.Function{Args: []mir.Type{mapT, c.lowerType(v.KeyType)}, Result: mapT}
			acc = &mir.Call{Position: v.Position, FnType: fnType, Fn: &mir.Variable{Position: v.Position, Name: c.Config.MapType.DeleteFunctionName}, Args: []mir.Expression{acc, key}}
		default:
			key, err := c.expr(el.Key, env)
			if err != nil {
				return nil, err
			}
			value, err := c.expr(el.Value, env)
			if err != nil {
				return nil, err
			}
			fnType := mir.Function{Args: []mir.Type{mapT, c.lowerType(v.KeyType), c.lowerType(v.ValueType)}, Result: mapT}
			acc = &mir.Call{Position: v.Position, FnType: fnType, Fn: &mir.Variable{Position: v.Position, Name: c.Config.MapType.InsertFunctionName}, Args: []mir.Expression{acc, key, value}}
		}
	}
	return acc, nil
}

// lowerMapIterationComprehension lowers the same way
// lowerListComprehension does, but walks the source map through the
// configured iterate/key/value/rest function quartet instead of
// direct Cons/Nil record field projection, since a map's internal
// layout is opaque behind that protocol.
func (c *Context) lowerMapIterationComprehension(v *hir.MapIterationComprehension, env infer.VarEnv) (mir.Expression, *cerr.CompileError) {
	loopName := c.gensym("loop")
	iterParam := c.gensym("iter")
	payloadName := c.gensym("entry")

	mapT := mir.RecordType{Name: c.Config.MapType.TypeName}
	// iterT is the tagged Entry/Done value the iterate/rest functions
	// hand back; entryPayloadT is the Entry tag's own payload record,
	// which the key/value/rest functions project out of.
	iterT := mir.Variant{}
	entryPayloadT := c.iterEntryType()
	keyT := c.lowerType(v.KeyType)
	valueT := c.lowerType(v.ValueType)

	entryEnv := env.With(v.KeyName, v.KeyType).With(v.ValueName, v.ValueType)
	keyExpr, err := c.expr(v.KeyExpr, entryEnv)
	if err != nil {
		return nil, err
	}
	valueExpr, err := c.expr(v.ValueExpr, entryEnv)
	if err != nil {
		return nil, err
	}

	outKeyName := c.gensym("key")
	outValueName := c.gensym("value")

	keyCall := &mir.Call{Position: v.Position, FnType: mir.Function{Args: []mir.Type{entryPayloadT}, Result: keyT}, Fn: &mir.Variable{Position: v.Position, Name: c.Config.MapType.Iteration.KeyFunctionName}, Args: []mir.Expression{&mir.Variable{Position: v.Position, Name: payloadName}}}
	valueCall := &mir.Call{Position: v.Position, FnType: mir.Function{Args: []mir.Type{entryPayloadT}, Result: valueT}, Fn: &mir.Variable{Position: v.Position, Name: c.Config.MapType.Iteration.ValueFunctionName}, Args: []mir.Expression{&mir.Variable{Position: v.Position, Name: payloadName}}}
	restCall := &mir.Call{Position: v.Position, FnType: mir.Function{Args: []mir.Type{entryPayloadT}, Result: iterT}, Fn: &mir.Variable{Position: v.Position, Name: c.Config.MapType.Iteration.RestFunctionName}, Args: []mir.Expression{&mir.Variable{Position: v.Position, Name: payloadName}}}

	body := &mir.Let{
		Position: v.Position, Name: v.KeyName, Type: keyT, Bound: keyCall,
		Body: &mir.Let{
			Position: v.Position, Name: v.ValueName, Type: valueT, Bound: valueCall,
			Body: &mir.Let{
				Position: v.Position, Name: outKeyName, Type: keyT, Bound: keyExpr,
				Body: &mir.Let{
					Position: v.Position, Name: outValueName, Type: valueT, Bound: valueExpr,
					Body: &mir.Call{
						Position: v.Position,
						FnType:   mir.Function{Args: []mir.Type{mapT, keyT, valueT}, Result: mapT},
						Fn:       &mir.Variable{Position: v.Position, Name: c.Config.MapType.InsertFunctionName},
						Args: []mir.Expression{
							&mir.Call{Position: v.Position, FnType: mir.Function{Args: []mir.Type{iterT}, Result: mapT}, Fn: &mir.Variable{Position: v.Position, Name: loopName}, Args: []mir.Expression{restCall}},
							&mir.Variable{Position: v.Position, Name: outKeyName},
							&mir.Variable{Position: v.Position, Name: outValueName},
						},
					},
				},
			},
		},
	}

	loopDef := &mir.FunctionDefinition{
		Name:       loopName,
		Arguments:  []mir.FunctionArgument{{Name: iterParam, Type: iterT}},
		ResultType: mapT,
		Body: &mir.Case{
			Position: v.Position,
			Argument: &mir.Variable{Position: v.Position, Name: iterParam},
			Alternatives: []mir.Alternative{
				{Type: c.iterEntryType(), Name: payloadName, Expr: body},
			},
			Default: &mir.DefaultAlternative{Expr: &mir.Call{
				Position: v.Position,
				FnType:   mir.Function{Result: mapT},
				Fn:       &mir.Variable{Position: v.Position, Name: c.Config.MapType.EmptyFunctionName},
			}},
		},
	}

	mp, err := c.expr(v.Map, env)
	if err != nil {
		return nil, err
	}
	initialIterate := &mir.Call{
		Position: v.Position,
		FnType:   mir.Function{Args: []mir.Type{mapT}, Result: iterT},
		Fn:       &mir.Variable{Position: v.Position, Name: c.Config.MapType.Iteration.IterateFunctionName},
		Args:     []mir.Expression{mp},
	}
	return &mir.LetRecursive{
		Position:   v.Position,
		Definition: loopDef,
		Body: &mir.Call{
			Position: v.Position,
			FnType:   mir.Function{Args: []mir.Type{iterT}, Result: mapT},
			Fn:       &mir.Variable{Position: v.Position, Name: loopName},
			Args:     []mir.Expression{initialIterate},
		},
	}, nil
}

// --- free-variable analysis for closure conversion ---

type nameSet map[string]bool

func (s nameSet) with(name string) nameSet {
	if name == "" {
		return s
	}
	next := make(nameSet, len(s)+1)
	for k := range s {
		next[k] = true
	}
	next[name] = true
	return next
}

// collectFree walks e, recording every hir.Variable name referenced
// that is not bound within e itself, into free.
func collectFree(e hir.Expression, bound nameSet, free map[string]bool) {
	switch v := e.(type) {
	case hir.Boolean, hir.None, hir.Number, hir.String:
	case hir.Variable:
		if !bound[v.Name] {
			free[v.Name] = true
		}
	case *hir.Lambda:
		b := bound
		for _, a := range v.Arguments {
			b = b.with(a.Name)
		}
		collectFree(v.Body, b, free)
	case *hir.Let:
		collectFree(v.Bound, bound, free)
		collectFree(v.Body, bound.with(v.Name), free)
	case *hir.Call:
		collectFree(v.Function, bound, free)
		for _, a := range v.Arguments {
			collectFree(a, bound, free)
		}
	case *hir.If:
		collectFree(v.Cond, bound, free)
		collectFree(v.Then, bound, free)
		collectFree(v.Else, bound, free)
	case *hir.IfList:
		collectFree(v.List, bound, free)
		collectFree(v.Then, bound.with(v.FirstName).with(v.RestName), free)
		collectFree(v.Else, bound, free)
	case *hir.IfMap:
		collectFree(v.Map, bound, free)
		collectFree(v.Key, bound, free)
		collectFree(v.Then, bound.with(v.Name), free)
		collectFree(v.Else, bound, free)
	case *hir.IfType:
		collectFree(v.Arg, bound, free)
		for _, b := range v.Branches {
			collectFree(b.Then, bound.with(v.Name), free)
		}
		if v.Else != nil {
			collectFree(v.Else, bound.with(v.Name), free)
		}
	case *hir.List:
		for _, el := range v.Elements {
			collectFree(el.Expr, bound, free)
		}
	case *hir.ListComprehension:
		collectFree(v.List, bound, free)
		collectFree(v.Element, bound.with(v.Name), free)
	case *hir.Map:
		for _, el := range v.Elements {
			switch {
			case el.Spread != nil:
				collectFree(el.Spread, bound, free)
			case el.RemoveKey != nil:
				collectFree(el.RemoveKey, bound, free)
			default:
				collectFree(el.Key, bound, free)
				collectFree(el.Value, bound, free)
			}
		}
	case *hir.MapIterationComprehension:
		collectFree(v.Map, bound, free)
		b := bound.with(v.KeyName).with(v.ValueName)
		collectFree(v.KeyExpr, b, free)
		collectFree(v.ValueExpr, b, free)
	case *hir.ArithmeticOperation:
		collectFree(v.Lhs, bound, free)
		collectFree(v.Rhs, bound, free)
	case *hir.BooleanOperation:
		collectFree(v.Lhs, bound, free)
		collectFree(v.Rhs, bound, free)
	case *hir.EqualityOperation:
		collectFree(v.Lhs, bound, free)
		collectFree(v.Rhs, bound, free)
	case *hir.OrderOperation:
		collectFree(v.Lhs, bound, free)
		collectFree(v.Rhs, bound, free)
	case *hir.Not:
		collectFree(v.Operand, bound, free)
	case *hir.Try:
		collectFree(v.Operand, bound, free)
	case *hir.Spawn:
		collectFree(v.Lambda, bound, free)
	case *hir.RecordConstruction:
		for _, f := range v.Fields {
			collectFree(f.Expr, bound, free)
		}
	case *hir.RecordDeconstruction:
		collectFree(v.Record, bound, free)
	case *hir.RecordUpdate:
		collectFree(v.Record, bound, free)
		for _, f := range v.Fields {
			collectFree(f.Expr, bound, free)
		}
	case *hir.Thunk:
		collectFree(v.Expr, bound, free)
	case *hir.TypeCoercion:
		collectFree(v.Arg, bound, free)
	}
}
