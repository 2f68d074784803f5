// Package rc implements the MIR reference-count insertion pass:
// given closed-environment MIR (every closure's free variables
// already resolved into an explicit Environment), it threads an
// owned/moved affine-use analysis over each function body and emits
// CloneVariables/DropVariables nodes so that every owned name is
// consumed exactly once along every control-flow path.
package rc

import (
	"github.com/solace-lang/solacec/internal/cerr"
	"github.com/solace-lang/solacec/internal/mir"
)

// ownedEnv maps an in-scope name to its type for as long as the
// current subtree is responsible for ending its lifetime. Extended
// functionally at binding sites, never mutated in place.
type ownedEnv map[string]mir.Type

func withOwned(env ownedEnv, name string, t mir.Type) ownedEnv {
	if name == "" {
		return env
	}
	out := make(ownedEnv, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out[name] = t
	return out
}

// nameSet is the "moved" set: names already consumed along the
// current control-flow path.
type nameSet map[string]struct{}

func newNameSet(names ...string) nameSet {
	s := make(nameSet, len(names))
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s nameSet) has(n string) bool {
	_, ok := s[n]
	return ok
}

func copySet(s nameSet) nameSet {
	out := make(nameSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func withName(s nameSet, n string) nameSet {
	if n == "" {
		return copySet(s)
	}
	out := copySet(s)
	out[n] = struct{}{}
	return out
}

func withoutName(s nameSet, n string) nameSet {
	out := make(nameSet, len(s))
	for k := range s {
		if k != n {
			out[k] = struct{}{}
		}
	}
	return out
}

func union(a, b nameSet) nameSet {
	out := make(nameSet, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// diff returns the members of a not present in b.
func diff(a, b nameSet) nameSet {
	out := make(nameSet, len(a))
	for k := range a {
		if !b.has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// cloneVariables wraps expr in a CloneVariables node naming every
// member of names that owned still tracks, unless names is empty.
func cloneVariables(expr mir.Expression, names nameSet, owned ownedEnv) mir.Expression {
	if len(names) == 0 {
		return expr
	}
	vars := make(map[string]mir.Type, len(names))
	for n := range names {
		if t, ok := owned[n]; ok {
			vars[n] = t
		}
	}
	if len(vars) == 0 {
		return expr
	}
	return &mir.CloneVariables{Position: expr.Pos(), Variables: vars, Expr: expr}
}

// dropVariables wraps expr in a DropVariables node naming every member
// of names that owned still tracks, unless names is empty.
func dropVariables(expr mir.Expression, names nameSet, owned ownedEnv) mir.Expression {
	if len(names) == 0 {
		return expr
	}
	vars := make(map[string]mir.Type, len(names))
	for n := range names {
		if t, ok := owned[n]; ok {
			vars[n] = t
		}
	}
	if len(vars) == 0 {
		return expr
	}
	return &mir.DropVariables{Position: expr.Pos(), Variables: vars, Expr: expr}
}

func functionDefinitionType(def *mir.FunctionDefinition) mir.Function {
	args := make([]mir.Type, len(def.Arguments))
	for i, a := range def.Arguments {
		args[i] = a.Type
	}
	return mir.Function{Args: args, Result: def.ResultType}
}

// Module inserts clone/drop annotations into every function definition
// of m, returning a fresh module (passes never mutate their input).
func Module(m *mir.Module) (*mir.Module, *cerr.CompileError) {
	out := &mir.Module{
		TypeDefinitions:      m.TypeDefinitions,
		ForeignDeclarations:  m.ForeignDeclarations,
		ForeignDefinitions:   m.ForeignDefinitions,
		FunctionDeclarations: m.FunctionDeclarations,
	}
	for _, def := range m.FunctionDefinitions {
		transformed, err := transformFunctionDefinition(def, true)
		if err != nil {
			return nil, err
		}
		out.FunctionDefinitions = append(out.FunctionDefinitions, transformed)
	}
	return out, nil
}

// transformFunctionDefinition seeds the owned set with the function's
// own name (unless global: globals are referenced by name directly,
// never through a closure environment, so have no self-reference to
// own), every environment capture and every ordinary argument, then
// walks the body and drops whatever the body left unmoved at the
// return position.
func transformFunctionDefinition(def *mir.FunctionDefinition, global bool) (*mir.FunctionDefinition, *cerr.CompileError) {
	owned := ownedEnv{}
	if !global {
		owned = withOwned(owned, def.Name, functionDefinitionType(def))
	}
	for _, e := range def.Environment {
		owned = withOwned(owned, e.Name, e.Type)
	}
	for _, a := range def.Arguments {
		owned = withOwned(owned, a.Name, a.Type)
	}

	body, moved, err := transformExpression(def.Body, owned, nameSet{})
	if err != nil {
		return nil, err
	}

	unmoved := nameSet{}
	for n := range owned {
		if !moved.has(n) {
			unmoved[n] = struct{}{}
		}
	}

	out := *def
	out.Body = dropVariables(body, unmoved, owned)
	return &out, nil
}

// transformExpression is the pass's single recursive walk. It returns
// the rewritten expression and the set of names moved along the path
// it took through expr, given the names already moved on entry.
func transformExpression(expr mir.Expression, owned ownedEnv, moved nameSet) (mir.Expression, nameSet, *cerr.CompileError) {
	switch e := expr.(type) {

	case *mir.BooleanLiteral, *mir.ByteStringLiteral, *mir.NoneLiteral, *mir.NumberLiteral:
		return expr, moved, nil

	case *mir.Variable:
		if _, ok := owned[e.Name]; ok && moved.has(e.Name) {
			return cloneVariables(e, newNameSet(e.Name), owned), moved, nil
		}
		return e, withName(moved, e.Name), nil

	case *mir.Let:
		return transformLet(e, owned, moved)

	case *mir.LetRecursive:
		return transformLetRecursive(e, owned, moved)

	case *mir.Call:
		args, moved2, err := transformRight(e.Args, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		fn, moved3, err := transformExpression(e.Fn, owned, moved2)
		if err != nil {
			return nil, nil, err
		}
		return &mir.Call{Position: e.Position, FnType: e.FnType, Fn: fn, Args: args}, moved3, nil

	case *mir.If:
		return transformIf(e, owned, moved)

	case *mir.Case:
		return transformCase(e, owned, moved)

	case *mir.Record:
		fieldExprs := make([]mir.Expression, len(e.Fields))
		for i, f := range e.Fields {
			fieldExprs[i] = f.Expr
		}
		transformed, moved2, err := transformRight(fieldExprs, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		fields := make([]mir.RecordFieldValue, len(transformed))
		for i, f := range transformed {
			fields[i] = mir.RecordFieldValue{Expr: f}
		}
		return &mir.Record{Position: e.Position, Type: e.Type, Fields: fields}, moved2, nil

	case *mir.RecordField:
		record, moved2, err := transformExpression(e.Record, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		return &mir.RecordField{Position: e.Position, Type: e.Type, Index: e.Index, Record: record}, moved2, nil

	case *mir.RecordUpdate:
		fields := make([]mir.RecordUpdateField, len(e.Fields))
		cur := moved
		for i := len(e.Fields) - 1; i >= 0; i-- {
			expr, next, err := transformExpression(e.Fields[i].Expr, owned, cur)
			if err != nil {
				return nil, nil, err
			}
			fields[i] = mir.RecordUpdateField{Index: e.Fields[i].Index, Expr: expr}
			cur = next
		}
		record, moved2, err := transformExpression(e.Record, owned, cur)
		if err != nil {
			return nil, nil, err
		}
		return &mir.RecordUpdate{Position: e.Position, Type: e.Type, Record: record, Fields: fields}, moved2, nil

	case *mir.VariantExpr:
		payload, moved2, err := transformExpression(e.Payload, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		return &mir.VariantExpr{Position: e.Position, Inner: e.Inner, Payload: payload}, moved2, nil

	case *mir.ArithmeticOperation:
		rhs, moved2, err := transformExpression(e.Rhs, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		lhs, moved3, err := transformExpression(e.Lhs, owned, moved2)
		if err != nil {
			return nil, nil, err
		}
		return &mir.ArithmeticOperation{Position: e.Position, Operator: e.Operator, Lhs: lhs, Rhs: rhs}, moved3, nil

	case *mir.ComparisonOperation:
		rhs, moved2, err := transformExpression(e.Rhs, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		lhs, moved3, err := transformExpression(e.Lhs, owned, moved2)
		if err != nil {
			return nil, nil, err
		}
		return &mir.ComparisonOperation{Position: e.Position, Operator: e.Operator, Lhs: lhs, Rhs: rhs}, moved3, nil

	case *mir.StringConcatenation:
		rhs, moved2, err := transformExpression(e.Rhs, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		lhs, moved3, err := transformExpression(e.Lhs, owned, moved2)
		if err != nil {
			return nil, nil, err
		}
		return &mir.StringConcatenation{Position: e.Position, Lhs: lhs, Rhs: rhs}, moved3, nil

	case *mir.TryOperation:
		return transformTry(e, owned, moved)

	case *mir.Synchronize:
		inner, moved2, err := transformExpression(e.Expr, owned, moved)
		if err != nil {
			return nil, nil, err
		}
		return &mir.Synchronize{Position: e.Position, Type: e.Type, Expr: inner}, moved2, nil

	case *mir.CloneVariables, *mir.DropVariables:
		return nil, nil, cerr.New(cerr.ReferenceCountNodePresent, expr.Pos(), "input to internal/rc already carries clone/drop annotations")

	default:
		return expr, moved, nil
	}
}

// transformRight walks exprs right-to-left, threading moved from the
// last element to the first: the syntactically last argument has first
// claim on moving a shared variable, and earlier arguments clone.
func transformRight(exprs []mir.Expression, owned ownedEnv, moved nameSet) ([]mir.Expression, nameSet, *cerr.CompileError) {
	out := make([]mir.Expression, len(exprs))
	cur := moved
	for i := len(exprs) - 1; i >= 0; i-- {
		transformed, next, err := transformExpression(exprs[i], owned, cur)
		if err != nil {
			return nil, nil, err
		}
		out[i] = transformed
		cur = next
	}
	return out, cur, nil
}

func transformLet(e *mir.Let, owned ownedEnv, moved nameSet) (mir.Expression, nameSet, *cerr.CompileError) {
	letOwned := withOwned(owned, e.Name, e.Type)
	body, bodyMoved, err := transformExpression(e.Body, letOwned, withoutName(moved, e.Name))
	if err != nil {
		return nil, nil, err
	}
	bound, moved2, err := transformExpression(e.Bound, owned, union(moved, withoutName(bodyMoved, e.Name)))
	if err != nil {
		return nil, nil, err
	}
	resultBody := body
	if !bodyMoved.has(e.Name) {
		resultBody = dropVariables(body, newNameSet(e.Name), letOwned)
	}
	return &mir.Let{Position: e.Position, Name: e.Name, Type: e.Type, Bound: bound, Body: resultBody}, moved2, nil
}

func transformLetRecursive(e *mir.LetRecursive, owned ownedEnv, moved nameSet) (mir.Expression, nameSet, *cerr.CompileError) {
	def := e.Definition
	fnType := functionDefinitionType(def)
	letOwned := withOwned(owned, def.Name, fnType)

	body, bodyMoved, err := transformExpression(e.Body, letOwned, withoutName(moved, def.Name))
	if err != nil {
		return nil, nil, err
	}
	movedOut := union(moved, withoutName(bodyMoved, def.Name))

	envNames := newNameSet()
	for _, a := range def.Environment {
		envNames[a.Name] = struct{}{}
	}
	clonedVars := nameSet{}
	for n := range envNames {
		if movedOut.has(n) {
			clonedVars[n] = struct{}{}
		}
	}

	innerDef, err := transformFunctionDefinition(def, false)
	if err != nil {
		return nil, nil, err
	}

	resultBody := body
	if !bodyMoved.has(def.Name) {
		resultBody = dropVariables(body, newNameSet(def.Name), letOwned)
	}

	letRec := &mir.LetRecursive{Position: e.Position, Definition: innerDef, Body: resultBody}
	result := cloneVariables(letRec, clonedVars, owned)

	for n := range envNames {
		movedOut[n] = struct{}{}
	}
	return result, movedOut, nil
}

func transformIf(e *mir.If, owned ownedEnv, moved nameSet) (mir.Expression, nameSet, *cerr.CompileError) {
	then, thenMoved, err := transformExpression(e.Then, owned, moved)
	if err != nil {
		return nil, nil, err
	}
	els, elseMoved, err := transformExpression(e.Else, owned, moved)
	if err != nil {
		return nil, nil, err
	}
	allMoved := union(thenMoved, elseMoved)

	cond, moved2, err := transformExpression(e.Cond, owned, allMoved)
	if err != nil {
		return nil, nil, err
	}

	thenWrapped := dropVariables(then, diff(allMoved, thenMoved), owned)
	elseWrapped := dropVariables(els, diff(allMoved, elseMoved), owned)

	return &mir.If{Position: e.Position, Cond: cond, Then: thenWrapped, Else: elseWrapped}, moved2, nil
}

func transformTry(e *mir.TryOperation, owned ownedEnv, moved nameSet) (mir.Expression, nameSet, *cerr.CompileError) {
	// The "then" continuation is an alternate exit, walked with a
	// fresh empty moved set: whatever it moves is local to that path
	// and must not leak into the operand's view before the split.
	thenOwned := withOwned(owned, e.Name, e.Type)
	then, thenMovedRaw, err := transformExpression(e.Then, thenOwned, nameSet{})
	if err != nil {
		return nil, nil, err
	}
	thenMoved := withoutName(thenMovedRaw, e.Name)

	allMoved := union(thenMoved, moved)
	operand, operandMoved, err := transformExpression(e.Operand, owned, allMoved)
	if err != nil {
		return nil, nil, err
	}

	thenWrapped := dropVariables(then, diff(allMoved, thenMoved), thenOwned)
	result := &mir.TryOperation{Position: e.Position, Operand: operand, Name: e.Name, Type: e.Type, Then: thenWrapped}

	return dropVariables(result, diff(allMoved, moved), owned), operandMoved, nil
}

func transformCase(e *mir.Case, owned ownedEnv, moved nameSet) (mir.Expression, nameSet, *cerr.CompileError) {
	// The default arm binds the still-tagged scrutinee under its own
	// name (possibly empty), so it owns that binding the same way an
	// alternative owns its payload.
	var defaultExpr mir.Expression
	var defaultExprMoved nameSet
	defaultOwned := owned
	defaultMoved := copySet(moved)
	if e.Default != nil {
		var err *cerr.CompileError
		defaultOwned = withOwned(owned, e.Default.Name, mir.Variant{})
		defaultExpr, defaultExprMoved, err = transformExpression(e.Default.Expr, defaultOwned, withoutName(moved, e.Default.Name))
		if err != nil {
			return nil, nil, err
		}
		defaultMoved = withoutName(defaultExprMoved, e.Default.Name)
	}

	type altResult struct {
		alt   mir.Alternative
		owned ownedEnv
		moved nameSet
	}
	results := make([]altResult, len(e.Alternatives))
	// alternative_moved_variables starts from the default branch's
	// moved set (or, with no default, from the Case's own incoming
	// moved set; a Default-less Case still must not let an
	// alternative believe a variable is unmoved when the enclosing
	// scope already moved it).
	altMoved := copySet(defaultMoved)
	for i, alt := range e.Alternatives {
		altOwned := withOwned(owned, alt.Name, alt.Type)
		expr, exprMoved, err := transformExpression(alt.Expr, altOwned, withoutName(moved, alt.Name))
		if err != nil {
			return nil, nil, err
		}
		results[i] = altResult{alt: mir.Alternative{Type: alt.Type, Name: alt.Name, Expr: expr}, owned: altOwned, moved: exprMoved}
		for n := range withoutName(exprMoved, alt.Name) {
			altMoved[n] = struct{}{}
		}
	}

	argument, argMoved, err := transformExpression(e.Argument, owned, union(moved, altMoved))
	if err != nil {
		return nil, nil, err
	}

	alternatives := make([]mir.Alternative, len(results))
	for i, r := range results {
		dropped := diff(withName(altMoved, r.alt.Name), r.moved)
		alternatives[i] = mir.Alternative{Type: r.alt.Type, Name: r.alt.Name, Expr: dropVariables(r.alt.Expr, dropped, r.owned)}
	}

	var def *mir.DefaultAlternative
	if e.Default != nil {
		dropped := diff(withName(altMoved, e.Default.Name), defaultExprMoved)
		def = &mir.DefaultAlternative{Name: e.Default.Name, Expr: dropVariables(defaultExpr, dropped, defaultOwned)}
	}

	return &mir.Case{Position: e.Position, Argument: argument, Alternatives: alternatives, Default: def}, argMoved, nil
}
