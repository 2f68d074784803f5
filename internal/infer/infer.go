// Package infer implements the type inferrer pass: a bottom-up walk
// that fills every unfilled type slot in a HIR module from its
// children's inferred types. It returns a fresh module with every
// unfilled slot resolved; passes never mutate their input.
package infer

import (
	"github.com/solace-lang/solacec/internal/cerr"
	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/types"
)

// VarEnv maps local variable names to their inferred/declared types.
// It is extended functionally (clone-on-extend) at every binding site;
// the hot path is lookup, not mutation.
type VarEnv map[string]types.Type

// With returns a new VarEnv extending v with name -> t, leaving v
// untouched. A name of "" (anonymous binding) is a no-op.
func (v VarEnv) With(name string, t types.Type) VarEnv {
	if name == "" {
		return v
	}
	next := make(VarEnv, len(v)+1)
	for k, val := range v {
		next[k] = val
	}
	next[name] = t
	return next
}

func (v VarEnv) with(name string, t types.Type) VarEnv { return v.With(name, t) }

// Context threads the module's type environment and configuration
// through the inference walk.
type Context struct {
	TypeEnv *types.Env
	Config  config.Config
}

// NewContext builds a Context for reuse by later passes (coerce, check,
// lower) that need to recompute the type of an already-annotated
// subexpression without re-running inference from scratch.
func NewContext(typeEnv *types.Env, cfg config.Config) *Context {
	return &Context{TypeEnv: typeEnv, Config: cfg}
}

// TypeOf recomputes the type of an already-annotated expression (i.e.
// one that has already been through Module once) under env. Later
// passes use this instead of carrying a separate side-table of
// inferred types, since every "?" slot inference fills is already
// baked into the tree's explicit fields.
func (c *Context) TypeOf(e hir.Expression, env VarEnv) (types.Type, *cerr.CompileError) {
	_, t, err := c.expr(e, env)
	return t, err
}

// Module runs inference over every function definition in m, returning
// a fresh, fully-annotated module.
func Module(m *hir.Module, cfg config.Config) (*hir.Module, *cerr.CompileError) {
	ctx := &Context{TypeEnv: m.Env(), Config: cfg}

	out := &hir.Module{
		TypeDefinitions:      m.TypeDefinitions,
		TypeAliases:          m.TypeAliases,
		ForeignDeclarations:  m.ForeignDeclarations,
		FunctionDeclarations: m.FunctionDeclarations,
	}

	// Module-level function names are mutually visible (each can call
	// any other), so the top-level env is built before walking bodies.
	topEnv := VarEnv{}
	for _, decl := range m.FunctionDeclarations {
		topEnv = topEnv.with(decl.Name, decl.Type)
	}
	for _, def := range m.FunctionDefinitions {
		topEnv = topEnv.with(def.Name, lambdaType(def.Lambda))
	}

	for _, def := range m.FunctionDefinitions {
		lambda, _, err := ctx.expr(def.Lambda, topEnv)
		if err != nil {
			return nil, err
		}
		out.FunctionDefinitions = append(out.FunctionDefinitions, hir.FunctionDefinition{
			Name:   def.Name,
			Lambda: lambda.(*hir.Lambda),
		})
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

// expr infers e under env, returning the rewritten (annotated) node and
// its inferred type.
func (c *Context) expr(e hir.Expression, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	switch v := e.(type) {
	case hir.Boolean:
		return v, types.Boolean{Position: v.Position}, nil
	case hir.None:
		return v, types.None{Position: v.Position}, nil
	case hir.Number:
		return v, types.Number{Position: v.Position}, nil
	case hir.String:
		return v, types.String{Position: v.Position}, nil
	case hir.Variable:
		t, ok := env[v.Name]
		if !ok {
			return nil, nil, cerr.New(cerr.VariableNotFound, v.Position, v.Name)
		}
		return v, t, nil

	case *hir.Lambda:
		return c.inferLambda(v, env)

	case *hir.Let:
		bound, boundType, err := c.expr(v.Bound, env)
		if err != nil {
			return nil, nil, err
		}
		bodyEnv := env.with(v.Name, boundType)
		body, bodyType, err := c.expr(v.Body, bodyEnv)
		if err != nil {
			return nil, nil, err
		}
		return &hir.Let{Position: v.Position, Name: v.Name, Type: boundType, Bound: bound, Body: body}, bodyType, nil

	case *hir.Call:
		fn, fnType, err := c.expr(v.Function, env)
		if err != nil {
			return nil, nil, err
		}
		args := make([]hir.Expression, len(v.Arguments))
		for i, a := range v.Arguments {
			inferred, _, err := c.expr(a, env)
			if err != nil {
				return nil, nil, err
			}
			args[i] = inferred
		}
		fnFunc, ok := types.CanonicalizeFunction(fnType, c.TypeEnv)
		if !ok {
			return nil, nil, cerr.New(cerr.FunctionExpected, v.Position, "")
		}
		return &hir.Call{Position: v.Position, FunctionType: fnType, Function: fn, Arguments: args}, fnFunc.Result, nil

	case *hir.If:
		cond, _, err := c.expr(v.Cond, env)
		if err != nil {
			return nil, nil, err
		}
		then, thenType, err := c.expr(v.Then, env)
		if err != nil {
			return nil, nil, err
		}
		els, _, err := c.expr(v.Else, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.If{Position: v.Position, Cond: cond, Then: then, Else: els}, thenType, nil

	case *hir.IfList:
		return c.inferIfList(v, env)
	case *hir.IfMap:
		return c.inferIfMap(v, env)
	case *hir.IfType:
		return c.inferIfType(v, env)

	case *hir.List:
		return c.inferList(v, env)
	case *hir.ListComprehension:
		return c.inferListComprehension(v, env)
	case *hir.Map:
		return c.inferMap(v, env)
	case *hir.MapIterationComprehension:
		return c.inferMapIterationComprehension(v, env)

	case *hir.ArithmeticOperation:
		lhs, _, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, nil, err
		}
		rhs, _, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.ArithmeticOperation{Position: v.Position, Operator: v.Operator, Lhs: lhs, Rhs: rhs}, types.Number{Position: v.Position}, nil

	case *hir.BooleanOperation:
		lhs, _, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, nil, err
		}
		rhs, _, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.BooleanOperation{Position: v.Position, Operator: v.Operator, Lhs: lhs, Rhs: rhs}, types.Boolean{Position: v.Position}, nil

	case *hir.EqualityOperation:
		lhs, lhsType, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, nil, err
		}
		rhs, rhsType, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, nil, err
		}
		opType := types.Union{Position: v.Position, Lhs: lhsType, Rhs: rhsType}
		return &hir.EqualityOperation{Position: v.Position, Type: opType, Lhs: lhs, Rhs: rhs, Negated: v.Negated}, types.Boolean{Position: v.Position}, nil

	case *hir.OrderOperation:
		lhs, _, err := c.expr(v.Lhs, env)
		if err != nil {
			return nil, nil, err
		}
		rhs, _, err := c.expr(v.Rhs, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.OrderOperation{Position: v.Position, Operator: v.Operator, Lhs: lhs, Rhs: rhs}, types.Boolean{Position: v.Position}, nil

	case *hir.Not:
		operand, _, err := c.expr(v.Operand, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.Not{Position: v.Position, Operand: operand}, types.Boolean{Position: v.Position}, nil

	case *hir.Try:
		operand, operandType, err := c.expr(v.Operand, env)
		if err != nil {
			return nil, nil, err
		}
		errType := types.Reference{Position: v.Position, Name: c.Config.ErrorType.ErrorTypeName}
		successType, ok := types.Difference(operandType, errType, c.TypeEnv)
		if !ok {
			return nil, nil, cerr.New(cerr.UnionExpected, v.Position, "")
		}
		if _, isAny := successType.(types.Any); isAny {
			// Any \ error = Any: an Any cannot be safely narrowed, so a
			// try on it has no meaningful success type.
			return nil, nil, cerr.New(cerr.UnionExpected, v.Position, "")
		}
		return &hir.Try{Position: v.Position, Type: successType, Operand: operand}, successType, nil

	case *hir.Spawn:
		lambda, lambdaType, err := c.expr(v.Lambda, env)
		if err != nil {
			return nil, nil, err
		}
		fn := lambdaType.(types.Function)
		return &hir.Spawn{Position: v.Position, Lambda: lambda.(*hir.Lambda)}, fn.Result, nil

	case *hir.RecordConstruction:
		fields := make([]hir.RecordFieldValue, len(v.Fields))
		for i, f := range v.Fields {
			inferred, _, err := c.expr(f.Expr, env)
			if err != nil {
				return nil, nil, err
			}
			fields[i] = hir.RecordFieldValue{Name: f.Name, Expr: inferred}
		}
		return &hir.RecordConstruction{Position: v.Position, Type: v.Type, Fields: fields}, v.Type, nil

	case *hir.RecordDeconstruction:
		record, recordType, err := c.expr(v.Record, env)
		if err != nil {
			return nil, nil, err
		}
		fields, ok := types.ResolveRecordFields(recordType, c.TypeEnv)
		if !ok {
			return nil, nil, cerr.New(cerr.TypeNotInferred, v.Position, "record type did not resolve")
		}
		var fieldType types.Type
		for _, f := range fields {
			if f.Name == v.FieldName {
				fieldType = f.Type
				break
			}
		}
		if fieldType == nil {
			return nil, nil, cerr.New(cerr.RecordFieldUnknown, v.Position, v.FieldName)
		}
		return &hir.RecordDeconstruction{Position: v.Position, Type: fieldType, Record: record, FieldName: v.FieldName}, fieldType, nil

	case *hir.RecordUpdate:
		record, recordType, err := c.expr(v.Record, env)
		if err != nil {
			return nil, nil, err
		}
		fields := make([]hir.RecordFieldValue, len(v.Fields))
		for i, f := range v.Fields {
			inferred, _, err := c.expr(f.Expr, env)
			if err != nil {
				return nil, nil, err
			}
			fields[i] = hir.RecordFieldValue{Name: f.Name, Expr: inferred}
		}
		return &hir.RecordUpdate{Position: v.Position, Type: recordType, Record: record, Fields: fields}, recordType, nil

	case *hir.Thunk:
		inner, innerType, err := c.expr(v.Expr, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.Thunk{Position: v.Position, Type: innerType, Expr: inner}, innerType, nil

	case *hir.TypeCoercion:
		// Already-coerced input (e.g. re-inference of a fixed-up tree):
		// propagate as-is.
		arg, _, err := c.expr(v.Arg, env)
		if err != nil {
			return nil, nil, err
		}
		return &hir.TypeCoercion{Position: v.Position, From: v.From, To: v.To, Arg: arg}, v.To, nil
	}
	return nil, nil, cerr.New(cerr.TypeNotInferred, e.Pos(), "unhandled expression kind")
}

func (c *Context) inferLambda(v *hir.Lambda, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	bodyEnv := env
	for _, a := range v.Arguments {
		bodyEnv = bodyEnv.with(a.Name, a.Type)
	}
	body, _, err := c.expr(v.Body, bodyEnv)
	if err != nil {
		return nil, nil, err
	}
	lambda := &hir.Lambda{Position: v.Position, Arguments: v.Arguments, ResultType: v.ResultType, Body: body}
	return lambda, lambdaType(lambda), nil
}

func (c *Context) inferIfList(v *hir.IfList, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	list, listType, err := c.expr(v.List, env)
	if err != nil {
		return nil, nil, err
	}
	l, ok := types.CanonicalizeList(listType, c.TypeEnv)
	if !ok {
		return nil, nil, cerr.New(cerr.ListExpected, v.Position, "")
	}
	thenEnv := env.with(v.FirstName, l.Element).with(v.RestName, l)
	then, thenType, err := c.expr(v.Then, thenEnv)
	if err != nil {
		return nil, nil, err
	}
	els, _, err := c.expr(v.Else, env)
	if err != nil {
		return nil, nil, err
	}
	return &hir.IfList{
		Position: v.Position, Type: l.Element, List: list,
		FirstName: v.FirstName, RestName: v.RestName, Then: then, Else: els,
	}, thenType, nil
}

func (c *Context) inferIfMap(v *hir.IfMap, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	m, mapType, err := c.expr(v.Map, env)
	if err != nil {
		return nil, nil, err
	}
	mt, ok := types.CanonicalizeMap(mapType, c.TypeEnv)
	if !ok {
		return nil, nil, cerr.New(cerr.MapExpected, v.Position, "")
	}
	key, _, err := c.expr(v.Key, env)
	if err != nil {
		return nil, nil, err
	}
	thenEnv := env.with(v.Name, mt.Value)
	then, thenType, err := c.expr(v.Then, thenEnv)
	if err != nil {
		return nil, nil, err
	}
	els, _, err := c.expr(v.Else, env)
	if err != nil {
		return nil, nil, err
	}
	return &hir.IfMap{
		Position: v.Position, KeyType: mt.Key, ValueType: mt.Value,
		Name: v.Name, Map: m, Key: key, Then: then, Else: els,
	}, thenType, nil
}

func (c *Context) inferIfType(v *hir.IfType, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	arg, argType, err := c.expr(v.Arg, env)
	if err != nil {
		return nil, nil, err
	}

	branches := make([]hir.IfTypeBranch, len(v.Branches))
	var resultType types.Type
	var branchTypes []types.Type
	for i, b := range v.Branches {
		branchEnv := env.with(v.Name, b.Type)
		then, thenType, err := c.expr(b.Then, branchEnv)
		if err != nil {
			return nil, nil, err
		}
		branches[i] = hir.IfTypeBranch{Type: b.Type, Then: then}
		branchTypes = append(branchTypes, b.Type)
		if i == 0 {
			resultType = thenType
		}
	}

	out := &hir.IfType{Position: v.Position, Name: v.Name, Arg: arg, Branches: branches}
	if v.Else != nil {
		union := types.UnionOf(branchTypes, v.Position)
		elseType, ok := types.Difference(argType, union, c.TypeEnv)
		if !ok {
			return nil, nil, cerr.New(cerr.UnreachableCode, v.Position, "")
		}
		// TODO: an Any elseType collapses the else into the Case's
		// default arm even when the scrutinee is a union whose
		// remainder is a smaller, named type. Decide whether that
		// path should narrow to the remainder instead.
		elseExpr, _, err := c.expr(v.Else, env.with(v.Name, elseType))
		if err != nil {
			return nil, nil, err
		}
		out.Else = elseExpr
		out.ElseType = elseType
	}
	return out, resultType, nil
}

func (c *Context) inferList(v *hir.List, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	elements := make([]hir.ListElement, len(v.Elements))
	for i, el := range v.Elements {
		inferred, _, err := c.expr(el.Expr, env)
		if err != nil {
			return nil, nil, err
		}
		elements[i] = hir.ListElement{Expr: inferred, Multiple: el.Multiple}
	}
	return &hir.List{Position: v.Position, ElementType: v.ElementType, Elements: elements}, types.List{Position: v.Position, Element: v.ElementType}, nil
}

func (c *Context) inferListComprehension(v *hir.ListComprehension, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	list, listType, err := c.expr(v.List, env)
	if err != nil {
		return nil, nil, err
	}
	l, ok := types.CanonicalizeList(listType, c.TypeEnv)
	if !ok {
		return nil, nil, cerr.New(cerr.ListExpected, v.Position, "")
	}
	// the element name is bound as a thunk () -> element_type: forcing
	// is explicit at source level.
	thunkType := types.Function{Position: v.Position, Args: nil, Result: l.Element}
	elementEnv := env.with(v.Name, thunkType)
	element, _, err := c.expr(v.Element, elementEnv)
	if err != nil {
		return nil, nil, err
	}
	return &hir.ListComprehension{
		Position: v.Position, InputType: l.Element, OutType: v.OutType,
		Element: element, Name: v.Name, List: list,
	}, types.List{Position: v.Position, Element: v.OutType}, nil
}

func (c *Context) inferMap(v *hir.Map, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	elements := make([]hir.MapElement, len(v.Elements))
	for i, el := range v.Elements {
		out := hir.MapElement{}
		if el.Spread != nil {
			spread, _, err := c.expr(el.Spread, env)
			if err != nil {
				return nil, nil, err
			}
			out.Spread = spread
		} else if el.RemoveKey != nil {
			key, _, err := c.expr(el.RemoveKey, env)
			if err != nil {
				return nil, nil, err
			}
			out.RemoveKey = key
		} else {
			key, _, err := c.expr(el.Key, env)
			if err != nil {
				return nil, nil, err
			}
			value, _, err := c.expr(el.Value, env)
			if err != nil {
				return nil, nil, err
			}
			out.Key, out.Value = key, value
		}
		elements[i] = out
	}
	return &hir.Map{Position: v.Position, KeyType: v.KeyType, ValueType: v.ValueType, Elements: elements},
		types.Map{Position: v.Position, Key: v.KeyType, Value: v.ValueType}, nil
}

func (c *Context) inferMapIterationComprehension(v *hir.MapIterationComprehension, env VarEnv) (hir.Expression, types.Type, *cerr.CompileError) {
	m, mapType, err := c.expr(v.Map, env)
	if err != nil {
		return nil, nil, err
	}
	mt, ok := types.CanonicalizeMap(mapType, c.TypeEnv)
	if !ok {
		return nil, nil, cerr.New(cerr.MapExpected, v.Position, "")
	}
	entryEnv := env.with(v.KeyName, mt.Key).with(v.ValueName, mt.Value)
	keyExpr, outKeyType, err := c.expr(v.KeyExpr, entryEnv)
	if err != nil {
		return nil, nil, err
	}
	valueExpr, outValueType, err := c.expr(v.ValueExpr, entryEnv)
	if err != nil {
		return nil, nil, err
	}
	return &hir.MapIterationComprehension{
		Position: v.Position, KeyType: mt.Key, ValueType: mt.Value,
		KeyName: v.KeyName, ValueName: v.ValueName,
		KeyExpr: keyExpr, ValueExpr: valueExpr, Map: m,
	}, types.Map{Position: v.Position, Key: outKeyType, Value: outValueType}, nil
}
