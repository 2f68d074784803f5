// Package check implements the checker pass: a read-only walk over an
// already-inferred-and-coerced module that verifies subsumption,
// arity, exhaustiveness and record-field totality, raising a
// cerr.CompileError on the first violation. It never rewrites the
// tree.
package check

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

// Module checks every function definition in m, which must already have
// been through infer.Module then coerce.Module.
func Module(m *hir.Module, typeEnv *types.Env, cfg config.Config) *cerr.CompileError {
	ctx := &Context{Infer: infer.NewContext(typeEnv, cfg)}

	topEnv := infer.VarEnv{}
	for _, decl := range m.FunctionDeclarations {
		topEnv = topEnv.With(decl.Name, decl.Type)
	}
	for _, def := range m.FunctionDefinitions {
		topEnv = topEnv.With(def.Name, lambdaType(def.Lambda))
	}

	for _, def := range m.FunctionDefinitions {
		if err := ctx.expr(def.Lambda, topEnv); err != nil {
			return err
		}
	}
	return nil
}

func lambdaType(l *hir.Lambda) types.Function {
	args := make([]types.Type, len(l.Arguments))
	for i, a := range l.Arguments {
		args[i] = a.Type
	}
	return types.Function{Args: args, Result: l.ResultType}
}

// matchesContext reports whether a value of type actual satisfies a
// context expecting expected after coercion: either the types are
// structurally equal, or both are lists or both are maps, the two
// pairs the coercer leaves unwrapped because their runtime
// representation is identical.
func (c *Context) matchesContext(actual, expected types.Type) bool {
	if types.Equal(actual, expected, c.Infer.TypeEnv) {
		return true
	}
	if _, ok := types.CanonicalizeList(actual, c.Infer.TypeEnv); ok {
		if _, ok2 := types.CanonicalizeList(expected, c.Infer.TypeEnv); ok2 {
			return true
		}
	}
	if _, ok := types.CanonicalizeMap(actual, c.Infer.TypeEnv); ok {
		if _, ok2 := types.CanonicalizeMap(expected, c.Infer.TypeEnv); ok2 {
			return true
		}
	}
	return false
}

// typeBeforeCoercion reports the type e had before the coercer wrapped
// it, or its ordinary type when no wrapper is present.
func (c *Context) typeBeforeCoercion(e hir.Expression, env infer.VarEnv) (types.Type, *cerr.CompileError) {
	if tc, ok := e.(*hir.TypeCoercion); ok {
		return tc.From, nil
	}
	return c.Infer.TypeOf(e, env)
}

func (c *Context) expr(e hir.Expression, env infer.VarEnv) *cerr.CompileError {
	switch v := e.(type) {
	case hir.Boolean, hir.None, hir.Number, hir.String, hir.Variable:
		return nil

	case *hir.Lambda:
		bodyEnv := env
		for _, a := range v.Arguments {
			bodyEnv = bodyEnv.With(a.Name, a.Type)
		}
		if err := c.expr(v.Body, bodyEnv); err != nil {
			return err
		}
		bodyType, err := c.Infer.TypeOf(v.Body, bodyEnv)
		if err != nil {
			return err
		}
		if !c.matchesContext(bodyType, v.ResultType) {
			return cerr.NewTypesNotMatched(v.Body.Pos(), v.Position, "lambda body does not match declared result type")
		}
		return nil

	case *hir.Let:
		if err := c.expr(v.Bound, env); err != nil {
			return err
		}
		return c.expr(v.Body, env.With(v.Name, v.Type))

	case *hir.Call:
		if err := c.expr(v.Function, env); err != nil {
			return err
		}
		fnFunc, ok := types.CanonicalizeFunction(v.FunctionType, c.Infer.TypeEnv)
		if !ok {
			return cerr.New(cerr.FunctionExpected, v.Position, "")
		}
		if len(v.Arguments) != len(fnFunc.Args) {
			return cerr.New(cerr.WrongArgumentCount, v.Position, "")
		}
		for i, a := range v.Arguments {
			if err := c.expr(a, env); err != nil {
				return err
			}
			argType, err := c.Infer.TypeOf(a, env)
			if err != nil {
				return err
			}
			if !c.matchesContext(argType, fnFunc.Args[i]) {
				return cerr.NewTypesNotMatched(a.Pos(), v.Position, "argument type does not match parameter type")
			}
		}
		return nil

	case *hir.If:
		if err := c.expr(v.Cond, env); err != nil {
			return err
		}
		if err := c.expr(v.Then, env); err != nil {
			return err
		}
		return c.expr(v.Else, env)

	case *hir.IfList:
		if err := c.expr(v.List, env); err != nil {
			return err
		}
		listType, err := c.Infer.TypeOf(v.List, env)
		if err != nil {
			return err
		}
		if _, ok := types.CanonicalizeList(listType, c.Infer.TypeEnv); !ok {
			return cerr.New(cerr.ListExpected, v.Position, "")
		}
		thenEnv := env.With(v.FirstName, v.Type).With(v.RestName, types.List{Position: v.Position, Element: v.Type})
		if err := c.expr(v.Then, thenEnv); err != nil {
			return err
		}
		return c.expr(v.Else, env)

	case *hir.IfMap:
		if err := c.expr(v.Map, env); err != nil {
			return err
		}
		mapType, err := c.Infer.TypeOf(v.Map, env)
		if err != nil {
			return err
		}
		if _, ok := types.CanonicalizeMap(mapType, c.Infer.TypeEnv); !ok {
			return cerr.New(cerr.MapExpected, v.Position, "")
		}
		if err := c.expr(v.Key, env); err != nil {
			return err
		}
		if err := c.expr(v.Then, env.With(v.Name, v.ValueType)); err != nil {
			return err
		}
		return c.expr(v.Else, env)

	case *hir.IfType:
		return c.checkIfType(v, env)

	case *hir.List:
		for _, el := range v.Elements {
			if err := c.expr(el.Expr, env); err != nil {
				return err
			}
			elType, err := c.Infer.TypeOf(el.Expr, env)
			if err != nil {
				return err
			}
			want := v.ElementType
			if el.Multiple {
				want = types.List{Position: v.Position, Element: v.ElementType}
			}
			if !c.matchesContext(elType, want) {
				return cerr.NewTypesNotMatched(el.Expr.Pos(), v.Position, "list element does not match declared element type")
			}
		}
		return nil

	case *hir.ListComprehension:
		if err := c.expr(v.List, env); err != nil {
			return err
		}
		listType, err := c.Infer.TypeOf(v.List, env)
		if err != nil {
			return err
		}
		if _, ok := types.CanonicalizeList(listType, c.Infer.TypeEnv); !ok {
			return cerr.New(cerr.ListExpected, v.Position, "")
		}
		thunkType := types.Function{Position: v.Position, Result: v.InputType}
		return c.expr(v.Element, env.With(v.Name, thunkType))

	case *hir.Map:
		for _, el := range v.Elements {
			switch {
			case el.Spread != nil:
				if err := c.expr(el.Spread, env); err != nil {
					return err
				}
			case el.RemoveKey != nil:
				if err := c.expr(el.RemoveKey, env); err != nil {
					return err
				}
			default:
				if err := c.expr(el.Key, env); err != nil {
					return err
				}
				if err := c.expr(el.Value, env); err != nil {
					return err
				}
			}
		}
		return nil

	case *hir.MapIterationComprehension:
		if err := c.expr(v.Map, env); err != nil {
			return err
		}
		mapType, err := c.Infer.TypeOf(v.Map, env)
		if err != nil {
			return err
		}
		if _, ok := types.CanonicalizeMap(mapType, c.Infer.TypeEnv); !ok {
			return cerr.New(cerr.MapExpected, v.Position, "")
		}
		entryEnv := env.With(v.KeyName, v.KeyType).With(v.ValueName, v.ValueType)
		if err := c.expr(v.KeyExpr, entryEnv); err != nil {
			return err
		}
		return c.expr(v.ValueExpr, entryEnv)

	case *hir.ArithmeticOperation:
		if err := c.expr(v.Lhs, env); err != nil {
			return err
		}
		return c.expr(v.Rhs, env)

	case *hir.BooleanOperation:
		if err := c.expr(v.Lhs, env); err != nil {
			return err
		}
		return c.expr(v.Rhs, env)

	case *hir.EqualityOperation:
		if err := c.expr(v.Lhs, env); err != nil {
			return err
		}
		if err := c.expr(v.Rhs, env); err != nil {
			return err
		}
		// The coercer has already widened both operands to the operand
		// union, so comparability is judged on the types underneath any
		// coercion wrapper.
		lhsType, err := c.typeBeforeCoercion(v.Lhs, env)
		if err != nil {
			return err
		}
		rhsType, err := c.typeBeforeCoercion(v.Rhs, env)
		if err != nil {
			return err
		}
		if !types.Subsume(lhsType, rhsType, c.Infer.TypeEnv) && !types.Subsume(rhsType, lhsType, c.Infer.TypeEnv) {
			return cerr.New(cerr.TypesNotComparable, v.Position, "")
		}
		return nil

	case *hir.OrderOperation:
		if err := c.expr(v.Lhs, env); err != nil {
			return err
		}
		return c.expr(v.Rhs, env)

	case *hir.Not:
		return c.expr(v.Operand, env)

	case *hir.Try:
		operandType, err := c.Infer.TypeOf(v.Operand, env)
		if err != nil {
			return err
		}
		if err := c.expr(v.Operand, env); err != nil {
			return err
		}
		if _, ok := types.Canonicalize(operandType, c.Infer.TypeEnv).(types.Union); !ok {
			return cerr.New(cerr.UnionExpected, v.Position, "")
		}
		errType := types.Reference{Position: v.Position, Name: c.Infer.Config.ErrorType.ErrorTypeName}
		if !types.Subsume(errType, operandType, c.Infer.TypeEnv) {
			return cerr.NewTypesNotMatched(v.Position, v.Operand.Pos(), "try operand cannot carry the error type")
		}
		if !types.Subsume(v.Type, operandType, c.Infer.TypeEnv) {
			return cerr.NewTypesNotMatched(v.Position, v.Operand.Pos(), "try success type is not part of the operand type")
		}
		return nil

	case *hir.Spawn:
		return c.expr(v.Lambda, env)

	case *hir.RecordConstruction:
		fields, ok := types.ResolveRecordFields(v.Type, c.Infer.TypeEnv)
		if !ok {
			return cerr.New(cerr.TypeNotInferred, v.Position, "record type did not resolve")
		}
		byName := map[string]types.Type{}
		for _, f := range fields {
			byName[f.Name] = f.Type
		}
		seen := map[string]bool{}
		for _, f := range v.Fields {
			want, ok := byName[f.Name]
			if !ok {
				return cerr.New(cerr.RecordFieldUnknown, v.Position, f.Name)
			}
			seen[f.Name] = true
			if err := c.expr(f.Expr, env); err != nil {
				return err
			}
			fieldType, err := c.Infer.TypeOf(f.Expr, env)
			if err != nil {
				return err
			}
			if !c.matchesContext(fieldType, want) {
				return cerr.NewTypesNotMatched(f.Expr.Pos(), v.Position, "record field does not match declared field type")
			}
		}
		for _, f := range fields {
			if !seen[f.Name] {
				return cerr.New(cerr.RecordFieldMissing, v.Position, f.Name)
			}
		}
		return nil

	case *hir.RecordDeconstruction:
		if err := c.expr(v.Record, env); err != nil {
			return err
		}
		recordType, err := c.Infer.TypeOf(v.Record, env)
		if err != nil {
			return err
		}
		fields, ok := types.ResolveRecordFields(recordType, c.Infer.TypeEnv)
		if !ok {
			return cerr.New(cerr.TypeNotInferred, v.Position, "record type did not resolve")
		}
		for _, f := range fields {
			if f.Name == v.FieldName {
				return nil
			}
		}
		return cerr.New(cerr.RecordFieldUnknown, v.Position, v.FieldName)

	case *hir.RecordUpdate:
		if err := c.expr(v.Record, env); err != nil {
			return err
		}
		fields, ok := types.ResolveRecordFields(v.Type, c.Infer.TypeEnv)
		if !ok {
			return cerr.New(cerr.TypeNotInferred, v.Position, "record type did not resolve")
		}
		byName := map[string]types.Type{}
		for _, f := range fields {
			byName[f.Name] = f.Type
		}
		for _, f := range v.Fields {
			want, ok := byName[f.Name]
			if !ok {
				return cerr.New(cerr.RecordFieldUnknown, v.Position, f.Name)
			}
			if err := c.expr(f.Expr, env); err != nil {
				return err
			}
			fieldType, err := c.Infer.TypeOf(f.Expr, env)
			if err != nil {
				return err
			}
			if !c.matchesContext(fieldType, want) {
				return cerr.NewTypesNotMatched(f.Expr.Pos(), v.Position, "record field does not match declared field type")
			}
		}
		return nil

	case *hir.Thunk:
		if err := c.expr(v.Expr, env); err != nil {
			return err
		}
		innerType, err := c.Infer.TypeOf(v.Expr, env)
		if err != nil {
			return err
		}
		if !c.matchesContext(innerType, v.Type) {
			return cerr.NewTypesNotMatched(v.Expr.Pos(), v.Position, "thunk body does not match declared type")
		}
		return nil

	case *hir.TypeCoercion:
		argType, err := c.Infer.TypeOf(v.Arg, env)
		if err != nil {
			return err
		}
		if err := c.expr(v.Arg, env); err != nil {
			return err
		}
		if !types.Equal(argType, v.From, c.Infer.TypeEnv) {
			return cerr.NewTypesNotMatched(v.Arg.Pos(), v.Position, "coercion From does not match argument's actual type")
		}
		if !types.Subsume(v.From, v.To, c.Infer.TypeEnv) {
			// list/list and map/map pairs are a lowering-representation
			// exception coerce never wraps, so any coercion present here
			// must be a genuine structural subsumption.
			return cerr.New(cerr.TypesNotMatched, v.Position, "coercion does not widen along a subsumption")
		}
		return nil
	}
	return cerr.New(cerr.TypeNotInferred, e.Pos(), "unhandled expression kind in check")
}

// checkIfType verifies each branch's Then under its narrowed binding,
// rejects branches matching on Any, and requires an Else exactly when
// the branches are not jointly exhaustive over Arg's type.
func (c *Context) checkIfType(v *hir.IfType, env infer.VarEnv) *cerr.CompileError {
	if err := c.expr(v.Arg, env); err != nil {
		return err
	}
	argType, err := c.Infer.TypeOf(v.Arg, env)
	if err != nil {
		return err
	}
	switch types.Canonicalize(argType, c.Infer.TypeEnv).(type) {
	case types.Union, types.Any:
	default:
		return cerr.New(cerr.UnionOrAnyTypeExpected, v.Position, "IfType scrutinee is not a union or Any")
	}

	var branchTypes []types.Type
	for _, b := range v.Branches {
		if _, isAny := types.Canonicalize(b.Type, c.Infer.TypeEnv).(types.Any); isAny {
			return cerr.New(cerr.AnyTypeBranch, v.Position, "")
		}
		branchEnv := env.With(v.Name, b.Type)
		if err := c.expr(b.Then, branchEnv); err != nil {
			return err
		}
		branchTypes = append(branchTypes, b.Type)
	}

	union := types.UnionOf(branchTypes, v.Position)
	remainder, hasRemainder := types.Difference(argType, union, c.Infer.TypeEnv)

	if v.Else == nil {
		if !types.Equal(argType, union, c.Infer.TypeEnv) {
			return cerr.New(cerr.MissingElseBlock, v.Position, "")
		}
		return nil
	}

	if !hasRemainder {
		return cerr.New(cerr.UnreachableCode, v.Position, "")
	}
	if !types.Equal(remainder, v.ElseType, c.Infer.TypeEnv) {
		return cerr.NewTypesNotMatched(v.Position, v.Position, "IfType else type does not match argument minus branches")
	}
	return c.expr(v.Else, env.With(v.Name, v.ElseType))
}
