// Package coerce implements the type coercer pass: a second walk that
// wraps every subexpression whose inferred type does not structurally
// equal its context's expected type in an explicit hir.TypeCoercion,
// except between two list types or two map types, whose runtime
// representation is identical regardless of declared element/value
// type. After this pass, every implicit widening in the
// tree has been made syntactically explicit for internal/lower to act
// on.
package coerce

import (
	"github.com/solace-lang/solacec/internal/cerr"
	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/infer"
	"github.com/solace-lang/solacec/internal/types"
)

type Context struct {
	Infer *infer.Context
}

// Module coerces every function definition in m, which must already
// have been through infer.Module.
func Module(m *hir.Module, typeEnv *types.Env, cfg config.Config) (*hir.Module, *cerr.CompileError) {
	ctx := &Context{Infer: infer.NewContext(typeEnv, cfg)}

	out := &hir.Module{
		TypeDefinitions:      m.TypeDefinitions,
		TypeAliases:          m.TypeAliases,
		ForeignDeclarations:  m.ForeignDeclarations,
		FunctionDeclarations: m.FunctionDeclarations,
	}

	topEnv := infer.VarEnv{}
	for _, decl := range m.FunctionDeclarations {
		topEnv = topEnv.With(decl.Name, decl.Type)
	}
	for _, def := range m.FunctionDefinitions {
		topEnv = topEnv.With(def.Name, lambdaType(def.Lambda))
	}

	for _, def := range m.FunctionDefinitions {
		lambda, err := ctx.expr(def.Lambda, topEnv, nil)
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

// wrap inserts a TypeCoercion around e if its natural (already-inferred)
// type does not structurally equal expected, skipping the list/list and
// map/map exception.
func (c *Context) wrap(e hir.Expression, env infer.VarEnv, expected types.Type) (hir.Expression, *cerr.CompileError) {
	if expected == nil {
		return e, nil
	}
	natural, err := c.Infer.TypeOf(e, env)
	if err != nil {
		return nil, err
	}
	if types.Equal(natural, expected, c.Infer.TypeEnv) {
		return e, nil
	}
	if _, ok := types.CanonicalizeList(natural, c.Infer.TypeEnv); ok {
		if _, ok2 := types.CanonicalizeList(expected, c.Infer.TypeEnv); ok2 {
			return e, nil
		}
	}
	if _, ok := types.CanonicalizeMap(natural, c.Infer.TypeEnv); ok {
		if _, ok2 := types.CanonicalizeMap(expected, c.Infer.TypeEnv); ok2 {
			return e, nil
		}
	}
	return &hir.TypeCoercion{Position: e.Pos(), From: natural, To: expected, Arg: e}, nil
}

// expr coerces e's subexpressions and then wraps e itself against
// expected, so every expression form is checked against its context.
func (c *Context) expr(e hir.Expression, env infer.VarEnv, expected types.Type) (hir.Expression, *cerr.CompileError) {
	out, err := c.exprNode(e, env, expected)
	if err != nil {
		return nil, err
	}
	return c.wrap(out, env, expected)
}

func (c *Context) exprNode(e hir.Expression, env infer.VarEnv, expected types.Type) (hir.Expression, *cerr.CompileError) {
	switch v := e.(type) {
	case hir.Boolean, hir.None, hir.Number, hir.String, hir.Variable:
		return c.wrap(v, env, expected)

	case *hir.Lambda:
		body, err := c.expr(v.Body, bindArgs(env, v.Arguments), v.ResultType)
		if err != nil {
			return nil, err
		}
		lambda := &hir.Lambda{Position: v.Position, Arguments: v.Arguments, ResultType: v.ResultType, Body: body}
		return c.wrap(lambda, env, expected)

	case *hir.Let:
		bound, err := c.expr(v.Bound, env, v.Type)
		if err != nil {
			return nil, err
		}
		bodyEnv := env.With(v.Name, v.Type)
		body, err := c.expr(v.Body, bodyEnv, expected)
		if err != nil {
			return nil, err
		}
		out := &hir.Let{Position: v.Position, Name: v.Name, Type: v.Type, Bound: bound, Body: body}
		return out, nil // Let's own type equals its body's, already coerced to `expected`.

	case *hir.Call:
		fn, err := c.expr(v.Function, env, nil)
		if err != nil {
			return nil, err
		}
		fnFunc, ok := types.CanonicalizeFunction(v.FunctionType, c.Infer.TypeEnv)
		if !ok {
			return nil, cerr.New(cerr.FunctionExpected, v.Position, "")
		}
		args := make([]hir.Expression, len(v.Arguments))
		for i, a := range v.Arguments {
			var paramType types.Type
			if i < len(fnFunc.Args) {
				paramType = fnFunc.Args[i]
			}
			coerced, err := c.expr(a, env, paramType)
			if err != nil {
				return nil, err
			}
			args[i] = coerced
		}
		out := &hir.Call{Position: v.Position, FunctionType: v.FunctionType, Function: fn, Arguments: args}
		return c.wrap(out, env, expected)

	case *hir.If:
		cond, err := c.expr(v.Cond, env, types.Boolean{Position: v.Cond.Pos()})
		if err != nil {
			return nil, err
		}
		then, err := c.expr(v.Then, env, expected)
		if err != nil {
			return nil, err
		}
		els, err := c.expr(v.Else, env, expected)
		if err != nil {
			return nil, err
		}
		return &hir.If{Position: v.Position, Cond: cond, Then: then, Else: els}, nil

	case *hir.IfList:
		list, err := c.expr(v.List, env, nil)
		if err != nil {
			return nil, err
		}
		thenEnv := env.With(v.FirstName, v.Type).With(v.RestName, types.List{Position: v.Position, Element: v.Type})
		then, err := c.expr(v.Then, thenEnv, expected)
		if err != nil {
			return nil, err
		}
		els, err := c.expr(v.Else, env, expected)
		if err != nil {
			return nil, err
		}
		return &hir.IfList{Position: v.Position, Type: v.Type, List: list, FirstName: v.FirstName, RestName: v.RestName, Then: then, Else: els}, nil

	case *hir.IfMap:
		mp, err := c.expr(v.Map, env, nil)
		if err != nil {
			return nil, err
		}
		key, err := c.expr(v.Key, env, v.KeyType)
		if err != nil {
			return nil, err
		}
		thenEnv := env.With(v.Name, v.ValueType)
		then, err := c.expr(v.Then, thenEnv, expected)
		if err != nil {
			return nil, err
		}
		els, err := c.expr(v.Else, env, expected)
		if err != nil {
			return nil, err
		}
		return &hir.IfMap{Position: v.Position, KeyType: v.KeyType, ValueType: v.ValueType, Name: v.Name, Map: mp, Key: key, Then: then, Else: els}, nil

	case *hir.IfType:
		arg, err := c.expr(v.Arg, env, nil)
		if err != nil {
			return nil, err
		}
		branches := make([]hir.IfTypeBranch, len(v.Branches))
		for i, b := range v.Branches {
			branchEnv := env.With(v.Name, b.Type)
			then, err := c.expr(b.Then, branchEnv, expected)
			if err != nil {
				return nil, err
			}
			branches[i] = hir.IfTypeBranch{Type: b.Type, Then: then}
		}
		out := &hir.IfType{Position: v.Position, Name: v.Name, Arg: arg, Branches: branches, ElseType: v.ElseType}
		if v.Else != nil {
			elseEnv := env.With(v.Name, v.ElseType)
			els, err := c.expr(v.Else, elseEnv, expected)
			if err != nil {
				return nil, err
			}
			out.Else = els
		}
		return out, nil

	case *hir.List:
		elements := make([]hir.ListElement, len(v.Elements))
		for i, el := range v.Elements {
			want := v.ElementType
			if el.Multiple {
				want = types.List{Position: v.Position, Element: v.ElementType}
			}
			coerced, err := c.expr(el.Expr, env, want)
			if err != nil {
				return nil, err
			}
			elements[i] = hir.ListElement{Expr: coerced, Multiple: el.Multiple}
		}
		return &hir.List{Position: v.Position, ElementType: v.ElementType, Elements: elements}, nil

	case *hir.ListComprehension:
		list, err := c.expr(v.List, env, nil)
		if err != nil {
			return nil, err
		}
		thunkType := types.Function{Position: v.Position, Result: v.InputType}
		elementEnv := env.With(v.Name, thunkType)
		element, err := c.expr(v.Element, elementEnv, v.OutType)
		if err != nil {
			return nil, err
		}
		return &hir.ListComprehension{Position: v.Position, InputType: v.InputType, OutType: v.OutType, Element: element, Name: v.Name, List: list}, nil

	case *hir.Map:
		elements := make([]hir.MapElement, len(v.Elements))
		for i, el := range v.Elements {
			out := hir.MapElement{}
			switch {
			case el.Spread != nil:
				coerced, err := c.expr(el.Spread, env, types.Map{Position: v.Position, Key: v.KeyType, Value: v.ValueType})
				if err != nil {
					return nil, err
				}
				out.Spread = coerced
			case el.RemoveKey != nil:
				coerced, err := c.expr(el.RemoveKey, env, v.KeyType)
				if err != nil {
					return nil, err
				}
				out.RemoveKey = coerced
			default:
				key, err := c.expr(el.Key, env, v.KeyType)
				if err != nil {
					return nil, err
				}
				value, err := c.expr(el.Value, env, v.ValueType)
				if err != nil {
					return nil, err
				}
				out.Key, out.Value = key, value
			}
			elements[i] = out
		}
		return &hir.Map{Position: v.Position, KeyType: v.KeyType, ValueType: v.ValueType, Elements: elements}, nil

	case *hir.MapIterationComprehension:
		mp, err := c.expr(v.Map, env, nil)
		if err != nil {
			return nil, err
		}
		entryEnv := env.With(v.KeyName, v.KeyType).With(v.ValueName, v.ValueType)
		keyExpr, err := c.expr(v.KeyExpr, entryEnv, nil)
		if err != nil {
			return nil, err
		}
		valueExpr, err := c.expr(v.ValueExpr, entryEnv, nil)
		if err != nil {
			return nil, err
		}
		return &hir.MapIterationComprehension{
			Position: v.Position, KeyType: v.KeyType, ValueType: v.ValueType,
			KeyName: v.KeyName, ValueName: v.ValueName, KeyExpr: keyExpr, ValueExpr: valueExpr, Map: mp,
		}, nil

	case *hir.ArithmeticOperation:
		lhs, err := c.expr(v.Lhs, env, types.Number{Position: v.Position})
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env, types.Number{Position: v.Position})
		if err != nil {
			return nil, err
		}
		return &hir.ArithmeticOperation{Position: v.Position, Operator: v.Operator, Lhs: lhs, Rhs: rhs}, nil

	case *hir.BooleanOperation:
		lhs, err := c.expr(v.Lhs, env, types.Boolean{Position: v.Position})
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env, types.Boolean{Position: v.Position})
		if err != nil {
			return nil, err
		}
		return &hir.BooleanOperation{Position: v.Position, Operator: v.Operator, Lhs: lhs, Rhs: rhs}, nil

	case *hir.EqualityOperation:
		lhs, err := c.expr(v.Lhs, env, v.Type)
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env, v.Type)
		if err != nil {
			return nil, err
		}
		return &hir.EqualityOperation{Position: v.Position, Type: v.Type, Lhs: lhs, Rhs: rhs, Negated: v.Negated}, nil

	case *hir.OrderOperation:
		lhs, err := c.expr(v.Lhs, env, nil)
		if err != nil {
			return nil, err
		}
		rhs, err := c.expr(v.Rhs, env, nil)
		if err != nil {
			return nil, err
		}
		return &hir.OrderOperation{Position: v.Position, Operator: v.Operator, Lhs: lhs, Rhs: rhs}, nil

	case *hir.Not:
		operand, err := c.expr(v.Operand, env, types.Boolean{Position: v.Position})
		if err != nil {
			return nil, err
		}
		return &hir.Not{Position: v.Position, Operand: operand}, nil

	case *hir.Try:
		operand, err := c.expr(v.Operand, env, nil)
		if err != nil {
			return nil, err
		}
		return &hir.Try{Position: v.Position, Type: v.Type, Operand: operand}, nil

	case *hir.Spawn:
		lambda, err := c.expr(v.Lambda, env, nil)
		if err != nil {
			return nil, err
		}
		return &hir.Spawn{Position: v.Position, Lambda: lambda.(*hir.Lambda)}, nil

	case *hir.RecordConstruction:
		fields, err := c.coerceRecordFields(v.Type, v.Fields, env)
		if err != nil {
			return nil, err
		}
		return &hir.RecordConstruction{Position: v.Position, Type: v.Type, Fields: fields}, nil

	case *hir.RecordDeconstruction:
		record, err := c.expr(v.Record, env, nil)
		if err != nil {
			return nil, err
		}
		return &hir.RecordDeconstruction{Position: v.Position, Type: v.Type, Record: record, FieldName: v.FieldName}, nil

	case *hir.RecordUpdate:
		record, err := c.expr(v.Record, env, nil)
		if err != nil {
			return nil, err
		}
		fields, err := c.coerceRecordFields(v.Type, v.Fields, env)
		if err != nil {
			return nil, err
		}
		return &hir.RecordUpdate{Position: v.Position, Type: v.Type, Record: record, Fields: fields}, nil

	case *hir.Thunk:
		inner, err := c.expr(v.Expr, env, v.Type)
		if err != nil {
			return nil, err
		}
		return &hir.Thunk{Position: v.Position, Type: v.Type, Expr: inner}, nil

	case *hir.TypeCoercion:
		arg, err := c.expr(v.Arg, env, nil)
		if err != nil {
			return nil, err
		}
		return &hir.TypeCoercion{Position: v.Position, From: v.From, To: v.To, Arg: arg}, nil
	}
	return nil, cerr.New(cerr.TypeNotInferred, e.Pos(), "unhandled expression kind in coerce")
}

func (c *Context) coerceRecordFields(recordType types.Type, fields []hir.RecordFieldValue, env infer.VarEnv) ([]hir.RecordFieldValue, *cerr.CompileError) {
	declared, ok := types.ResolveRecordFields(recordType, c.Infer.TypeEnv)
	if !ok {
		return nil, cerr.New(cerr.TypeNotInferred, types.Position{}, "record type did not resolve")
	}
	byName := map[string]types.Type{}
	for _, f := range declared {
		byName[f.Name] = f.Type
	}
	out := make([]hir.RecordFieldValue, len(fields))
	for i, f := range fields {
		expected := byName[f.Name]
		coerced, err := c.expr(f.Expr, env, expected)
		if err != nil {
			return nil, err
		}
		out[i] = hir.RecordFieldValue{Name: f.Name, Expr: coerced}
	}
	return out, nil
}

func bindArgs(env infer.VarEnv, args []hir.Argument) infer.VarEnv {
	for _, a := range args {
		env = env.With(a.Name, a.Type)
	}
	return env
}
