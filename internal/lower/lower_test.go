package lower

import (
	"testing"

	"github.com/solace-lang/solacec/internal/check"
	"github.com/solace-lang/solacec/internal/coerce"
	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/infer"
	"github.com/solace-lang/solacec/internal/mir"
	"github.com/solace-lang/solacec/internal/types"
)

// pipeline runs infer, coerce and check on m and returns the result
// ready for lower.Module, failing the test on any stage's error.
func pipeline(t *testing.T, m *hir.Module) (*hir.Module, *types.Env) {
	t.Helper()
	cfg := config.Default()
	env := m.Env()
	inferred, err := infer.Module(m, cfg)
	if err != nil {
		t.Fatalf("infer.Module: %v", err)
	}
	coerced, err := coerce.Module(inferred, env, cfg)
	if err != nil {
		t.Fatalf("coerce.Module: %v", err)
	}
	if err := check.Module(coerced, env, cfg); err != nil {
		t.Fatalf("check.Module: %v", err)
	}
	return coerced, env
}

func mustLower(t *testing.T, m *hir.Module) *mir.Module {
	t.Helper()
	coerced, env := pipeline(t, m)
	out, err := Module(coerced, env, config.Default())
	if err != nil {
		t.Fatalf("lower.Module: %v", err)
	}
	return out
}

// TestIfTypeUnionBranch covers a single IfType
// branch whose type is itself the union Number | None, matching the
// scrutinee's type exactly so the IfType has no Else. Lowering must
// split the branch into one Alternative per union member, each
// rebinding the narrowed name to a freshly re-tagged Variant so the
// (shared) branch body still observes a union-typed value.
func TestIfTypeUnionBranch(t *testing.T) {
	union := types.Union{Lhs: types.Number{}, Rhs: types.None{}}
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "x", Type: union}},
				ResultType: types.None{},
				Body: &hir.IfType{
					Name: "y",
					Arg:  hir.Variable{Name: "x"},
					Branches: []hir.IfTypeBranch{
						{Type: union, Then: hir.None{}},
					},
				},
			},
		}},
	}
	out := mustLower(t, m)
	body := out.FunctionDefinitions[0].Body
	cs, ok := body.(*mir.Case)
	if !ok {
		t.Fatalf("expected *mir.Case body, got %T", body)
	}
	if len(cs.Alternatives) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(cs.Alternatives))
	}
	if cs.Default != nil {
		t.Fatalf("expected no Default branch for an exhaustive union split, got %v", cs.Default)
	}
	seen := map[string]bool{}
	for _, alt := range cs.Alternatives {
		if alt.Name != "y" {
			t.Fatalf("expected alternative to bind %q, got %q", "y", alt.Name)
		}
		let, ok := alt.Expr.(*mir.Let)
		if !ok {
			t.Fatalf("expected alternative body to be *mir.Let, got %T", alt.Expr)
		}
		if let.Name != "y" {
			t.Fatalf("expected Let to rebind %q, got %q", "y", let.Name)
		}
		variant, ok := let.Bound.(*mir.VariantExpr)
		if !ok {
			t.Fatalf("expected Let.Bound to be *mir.VariantExpr, got %T", let.Bound)
		}
		if variant.Inner != alt.Type {
			t.Fatalf("expected VariantExpr.Inner %v to match alternative's member type %v", variant.Inner, alt.Type)
		}
		payload, ok := variant.Payload.(*mir.Variable)
		if !ok || payload.Name != "y" {
			t.Fatalf("expected VariantExpr.Payload to reference the rebound name, got %v", variant.Payload)
		}
		switch alt.Type.(type) {
		case mir.None:
			seen["None"] = true
		case mir.Number:
			seen["Number"] = true
		default:
			t.Fatalf("unexpected alternative member type %T", alt.Type)
		}
	}
	if !seen["None"] || !seen["Number"] {
		t.Fatalf("expected alternatives for both None and Number members, got %v", seen)
	}
	if _, ok := cs.Argument.(*mir.Variable); !ok {
		t.Fatalf("expected Case.Argument = Variable, got %T", cs.Argument)
	}
}

func TestTryOnUnion(t *testing.T) {
	m := &hir.Module{
		TypeDefinitions: []hir.TypeDefinition{
			{Name: "Error", Fields: []types.Field{{Name: "message", Type: types.String{}}}},
		},
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments: []hir.Argument{{Name: "v", Type: types.Union{
					Lhs: types.Number{}, Rhs: types.Reference{Name: "Error"},
				}}},
				ResultType: types.Number{},
				Body: &hir.Let{
					Name: "x",
					Bound: &hir.Try{
						Operand: hir.Variable{Name: "v"},
					},
					Body: hir.Variable{Name: "x"},
				},
			},
		}},
	}
	out := mustLower(t, m)
	body := out.FunctionDefinitions[0].Body
	let, ok := body.(*mir.Let)
	if !ok {
		t.Fatalf("expected *mir.Let body, got %T", body)
	}
	cs, ok := let.Bound.(*mir.Case)
	if !ok {
		t.Fatalf("expected the try to lower to a *mir.Case, got %T", let.Bound)
	}
	try, ok := cs.Argument.(*mir.TryOperation)
	if !ok {
		t.Fatalf("expected Case.Argument = *mir.TryOperation, got %T", cs.Argument)
	}
	if try.Name != config.ErrorValueName {
		t.Fatalf("expected the caught error bound to %q, got %q", config.ErrorValueName, try.Name)
	}
	errType, ok := try.Type.(mir.RecordType)
	if !ok || errType.Name != "Error" {
		t.Fatalf("expected TryOperation.Type = Record Error, got %v", try.Type)
	}
	rethrow, ok := try.Then.(*mir.VariantExpr)
	if !ok || rethrow.Inner != try.Type {
		t.Fatalf("expected the alternate exit to re-wrap the error variant, got %#v", try.Then)
	}
	if len(cs.Alternatives) != 1 || cs.Default != nil {
		t.Fatalf("expected exactly one success alternative and no default, got %d/%v", len(cs.Alternatives), cs.Default)
	}
	alt := cs.Alternatives[0]
	if _, ok := alt.Type.(mir.Number); !ok {
		t.Fatalf("expected success alternative at Number, got %v", alt.Type)
	}
	if alt.Name != config.SuccessValueName {
		t.Fatalf("expected success bound to %q, got %q", config.SuccessValueName, alt.Name)
	}
	if v, ok := alt.Expr.(*mir.Variable); !ok || v.Name != config.SuccessValueName {
		t.Fatalf("expected success body to return the bound value, got %#v", alt.Expr)
	}
}

func TestSpawnOfNumberThunk(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.Number{},
				Body: &hir.Spawn{
					Lambda: &hir.Lambda{ResultType: types.Number{}, Body: hir.Number{Value: 1}},
				},
			},
		}},
	}
	out := mustLower(t, m)
	body := out.FunctionDefinitions[0].Body
	let, ok := body.(*mir.Let)
	if !ok || let.Name != config.AnyThunkName {
		t.Fatalf("expected *mir.Let binding %q, got %T", config.AnyThunkName, body)
	}
	handleType, ok := let.Type.(mir.Function)
	if !ok || len(handleType.Args) != 0 {
		t.Fatalf("expected the handle typed as a zero-argument function, got %v", let.Type)
	}
	if _, ok := handleType.Result.(mir.Variant); !ok {
		t.Fatalf("expected the handle to produce a variant, got %v", handleType.Result)
	}

	spawnCall, ok := let.Bound.(*mir.Call)
	if !ok {
		t.Fatalf("expected Let.Bound = spawn Call, got %T", let.Bound)
	}
	if fn, ok := spawnCall.Fn.(*mir.Variable); !ok || fn.Name != config.Default().Concurrency.ModuleLocalSpawnFunctionName {
		t.Fatalf("expected Call to the configured spawn function, got %v", spawnCall.Fn)
	}
	spawned, ok := spawnCall.Args[0].(*mir.LetRecursive)
	if !ok {
		t.Fatalf("expected the spawned value to be a *mir.LetRecursive, got %T", spawnCall.Args[0])
	}
	if !spawned.Definition.IsThunk || spawned.Definition.Name != config.AnyThunkName {
		t.Fatalf("expected an %q thunk definition, got %+v", config.AnyThunkName, spawned.Definition)
	}
	if ve, ok := spawned.Definition.Body.(*mir.VariantExpr); !ok {
		t.Fatalf("expected the spawned body coerced into a variant, got %T", spawned.Definition.Body)
	} else if _, ok := ve.Inner.(mir.Number); !ok {
		t.Fatalf("expected the variant tagged Number, got %v", ve.Inner)
	}
	if _, ok := spawned.Body.(*mir.Synchronize); !ok {
		t.Fatalf("expected the spawned thunk wrapped in Synchronize, got %T", spawned.Body)
	}

	downcast, ok := let.Body.(*mir.LetRecursive)
	if !ok || downcast.Definition.Name != config.ThunkName || !downcast.Definition.IsThunk {
		t.Fatalf("expected the user-facing %q thunk, got %#v", config.ThunkName, let.Body)
	}
	if _, ok := downcast.Definition.ResultType.(mir.Number); !ok {
		t.Fatalf("expected the user-facing thunk typed Number, got %v", downcast.Definition.ResultType)
	}
	cs, ok := downcast.Definition.Body.(*mir.Case)
	if !ok {
		t.Fatalf("expected the downcast Case, got %T", downcast.Definition.Body)
	}
	force, ok := cs.Argument.(*mir.Call)
	if !ok {
		t.Fatalf("expected the downcast to force the handle, got %T", cs.Argument)
	}
	if fn, ok := force.Fn.(*mir.Variable); !ok || fn.Name != config.AnyThunkName {
		t.Fatalf("expected the forced handle to be %q, got %v", config.AnyThunkName, force.Fn)
	}
	if len(cs.Alternatives) != 1 || cs.Default != nil {
		t.Fatalf("expected one downcast alternative and no default, got %d/%v", len(cs.Alternatives), cs.Default)
	}
	alt := cs.Alternatives[0]
	if _, ok := alt.Type.(mir.Number); !ok || alt.Name != config.DowncastName {
		t.Fatalf("expected the downcast alternative to bind %q at Number, got %+v", config.DowncastName, alt)
	}
}

func TestCoercionIntoUnion(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.Union{Lhs: types.Number{}, Rhs: types.String{}},
				Body:       hir.Number{Value: 1},
			},
		}},
	}
	out := mustLower(t, m)
	body := out.FunctionDefinitions[0].Body
	ve, ok := body.(*mir.VariantExpr)
	if !ok {
		t.Fatalf("expected coercion into a union to lower to *mir.VariantExpr, got %T", body)
	}
	if _, ok := ve.Inner.(mir.Number); !ok {
		t.Fatalf("expected VariantExpr.Inner = Number, got %v", ve.Inner)
	}
	if _, ok := ve.Payload.(*mir.NumberLiteral); !ok {
		t.Fatalf("expected VariantExpr.Payload = NumberLiteral, got %T", ve.Payload)
	}
}

// TestCoercionElidedBetweenLists exercises the lowering-time exception:
// list-to-list and map-to-map pairs never get wrapped by the coercer
// in the first place (see internal/coerce), so lowering never sees a
// TypeCoercion node to special-case for them. This constructs one
// directly against lower.Context to confirm lowerCoercion would still
// pass such a node through unboxed if it ever appeared: the result is
// the list literal's own Cons cell, not a "$[Number]" wrapper record.
func TestCoercionElidedBetweenLists(t *testing.T) {
	typeEnv := types.NewEnv()
	c := &Context{TypeEnv: typeEnv, Config: config.Default(), Infer: infer.NewContext(typeEnv, config.Default())}
	listT := types.List{Element: types.Number{}}
	coercion := &hir.TypeCoercion{
		From: listT,
		To:   listT,
		Arg:  &hir.List{ElementType: types.Number{}, Elements: []hir.ListElement{{Expr: hir.Number{Value: 1}}}},
	}
	out, err := c.lowerCoercion(coercion, infer.VarEnv{})
	if err != nil {
		t.Fatalf("lowerCoercion: %v", err)
	}
	if ve, ok := out.(*mir.VariantExpr); !ok || ve.Inner != c.consType() {
		t.Fatalf("expected list-to-list coercion to stay unwrapped (the literal's Cons cell), got %#v", out)
	}
}

func TestLowerListBuildsConsChain(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.List{Element: types.Number{}},
				Body: &hir.List{
					ElementType: types.Number{},
					Elements: []hir.ListElement{
						{Expr: hir.Number{Value: 1}},
						{Expr: hir.Number{Value: 2}},
					},
				},
			},
		}},
	}
	out := mustLower(t, m)
	body := out.FunctionDefinitions[0].Body
	outer, ok := body.(*mir.VariantExpr)
	if !ok {
		t.Fatalf("expected outer list element to be *mir.VariantExpr, got %T", body)
	}
	rec, ok := outer.Payload.(*mir.Record)
	if !ok || len(rec.Fields) != 2 {
		t.Fatalf("expected a 2-field Cons record payload, got %#v", outer.Payload)
	}
	tail, ok := rec.Fields[1].Expr.(*mir.VariantExpr)
	if !ok {
		t.Fatalf("expected tail to be *mir.VariantExpr, got %T", rec.Fields[1].Expr)
	}
	if _, ok := tail.Payload.(*mir.Record); !ok {
		t.Fatalf("expected tail's payload to be a Record, got %T", tail.Payload)
	}
}

func TestLowerMapIterationComprehensionLoopShape(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "m", Type: types.Map{Key: types.String{}, Value: types.Number{}}}},
				ResultType: types.Map{Key: types.String{}, Value: types.Number{}},
				Body: &hir.MapIterationComprehension{
					KeyName:   "k",
					ValueName: "v",
					KeyExpr:   hir.Variable{Name: "k"},
					ValueExpr: hir.Variable{Name: "v"},
					Map:       hir.Variable{Name: "m"},
				},
			},
		}},
	}
	out := mustLower(t, m)
	body := out.FunctionDefinitions[0].Body
	lr, ok := body.(*mir.LetRecursive)
	if !ok {
		t.Fatalf("expected *mir.LetRecursive body, got %T", body)
	}
	if len(lr.Definition.Arguments) != 1 {
		t.Fatalf("expected loop function to take exactly 1 argument, got %d", len(lr.Definition.Arguments))
	}
	paramType := lr.Definition.Arguments[0].Type
	cs, ok := lr.Definition.Body.(*mir.Case)
	if !ok {
		t.Fatalf("expected loop body to be *mir.Case, got %T", lr.Definition.Body)
	}
	argVar, ok := cs.Argument.(*mir.Variable)
	if !ok || argVar.Name != lr.Definition.Arguments[0].Name {
		t.Fatalf("expected Case to dispatch directly on the loop parameter, got %#v", cs.Argument)
	}
	call, ok := lr.Body.(*mir.Call)
	if !ok {
		t.Fatalf("expected the top-level call into the loop, got %T", lr.Body)
	}
	initial, ok := call.Args[0].(*mir.Call)
	if !ok {
		t.Fatalf("expected the initial argument to be the iterate() call, got %T", call.Args[0])
	}
	if fn, ok := initial.Fn.(*mir.Variable); !ok || fn.Name != config.Default().MapType.Iteration.IterateFunctionName {
		t.Fatalf("expected the initial call to invoke the configured iterate function, got %v", initial.Fn)
	}
	if _, ok := paramType.(mir.Variant); !ok {
		t.Fatalf("expected the loop parameter's type to be the tagged iterator Variant, got %v", paramType)
	}
}

func TestIfTypeAnyScrutineeElseBecomesDefault(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "v", Type: types.Any{}}},
				ResultType: types.Boolean{},
				Body: &hir.IfType{
					Name: "w",
					Arg:  hir.Variable{Name: "v"},
					Branches: []hir.IfTypeBranch{
						{Type: types.Number{}, Then: hir.Boolean{Value: true}},
					},
					Else: hir.Boolean{Value: false},
				},
			},
		}},
	}
	out := mustLower(t, m)
	cs, ok := out.FunctionDefinitions[0].Body.(*mir.Case)
	if !ok {
		t.Fatalf("expected *mir.Case body, got %T", out.FunctionDefinitions[0].Body)
	}
	if len(cs.Alternatives) != 1 {
		t.Fatalf("expected 1 alternative, got %d", len(cs.Alternatives))
	}
	if cs.Default == nil {
		t.Fatalf("expected the Any-typed else to collapse into a DefaultAlternative")
	}
	if cs.Default.Name != "w" {
		t.Fatalf("expected the default arm to rebind %q, got %q", "w", cs.Default.Name)
	}
	if _, ok := cs.Default.Expr.(*mir.BooleanLiteral); !ok {
		t.Fatalf("expected the else body in the default arm, got %T", cs.Default.Expr)
	}
}

func TestIfTypeGenericBranchUnboxesConcreteRecord(t *testing.T) {
	scrutinee := types.Union{Lhs: types.None{}, Rhs: types.List{Element: types.Number{}}}
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "v", Type: scrutinee}},
				ResultType: types.Boolean{},
				Body: &hir.IfType{
					Name: "w",
					Arg:  hir.Variable{Name: "v"},
					Branches: []hir.IfTypeBranch{
						{Type: types.List{Element: types.Number{}}, Then: hir.Boolean{Value: true}},
						{Type: types.None{}, Then: hir.Boolean{Value: false}},
					},
				},
			},
		}},
	}
	out := mustLower(t, m)
	cs, ok := out.FunctionDefinitions[0].Body.(*mir.Case)
	if !ok {
		t.Fatalf("expected *mir.Case body, got %T", out.FunctionDefinitions[0].Body)
	}
	var listAlt *mir.Alternative
	for i := range cs.Alternatives {
		if rt, ok := cs.Alternatives[i].Type.(mir.RecordType); ok && rt.Name == "$[Number]" {
			listAlt = &cs.Alternatives[i]
		}
	}
	if listAlt == nil {
		t.Fatalf("expected an alternative tagged with the concrete list wrapper record, got %+v", cs.Alternatives)
	}
	let, ok := listAlt.Expr.(*mir.Let)
	if !ok || let.Name != "w" {
		t.Fatalf("expected the arm to rebind %q from the wrapper, got %#v", "w", listAlt.Expr)
	}
	field, ok := let.Bound.(*mir.RecordField)
	if !ok || field.Index != 0 {
		t.Fatalf("expected the arm to project field 0 of the wrapper record, got %#v", let.Bound)
	}
}

func TestCoercionOfListIntoUnionIsBoxed(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.Union{Lhs: types.None{}, Rhs: types.List{Element: types.Number{}}},
				Body: &hir.List{
					ElementType: types.Number{},
					Elements:    []hir.ListElement{{Expr: hir.Number{Value: 1}}},
				},
			},
		}},
	}
	out := mustLower(t, m)
	ve, ok := out.FunctionDefinitions[0].Body.(*mir.VariantExpr)
	if !ok {
		t.Fatalf("expected *mir.VariantExpr body, got %T", out.FunctionDefinitions[0].Body)
	}
	concrete, ok := ve.Inner.(mir.RecordType)
	if !ok || concrete.Name != "$[Number]" {
		t.Fatalf("expected the variant tagged with the concrete list wrapper, got %v", ve.Inner)
	}
	boxed, ok := ve.Payload.(*mir.Record)
	if !ok || len(boxed.Fields) != 1 {
		t.Fatalf("expected a one-field wrapper record payload, got %#v", ve.Payload)
	}
}

func TestRecordConstructionBindsFieldsInDeclarationOrder(t *testing.T) {
	m := &hir.Module{
		TypeDefinitions: []hir.TypeDefinition{
			{Name: "Point", Fields: []types.Field{
				{Name: "x", Type: types.Number{}},
				{Name: "y", Type: types.Number{}},
			}},
		},
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.Record{Name: "Point"},
				Body: &hir.RecordConstruction{
					Type: types.Record{Name: "Point"},
					Fields: []hir.RecordFieldValue{
						// written y-first; lowering must still bind x first.
						{Name: "y", Expr: hir.Number{Value: 2}},
						{Name: "x", Expr: hir.Number{Value: 1}},
					},
				},
			},
		}},
	}
	out := mustLower(t, m)
	outer, ok := out.FunctionDefinitions[0].Body.(*mir.Let)
	if !ok || outer.Name != "$x" {
		t.Fatalf("expected the outermost binding to be $x, got %#v", out.FunctionDefinitions[0].Body)
	}
	inner, ok := outer.Body.(*mir.Let)
	if !ok || inner.Name != "$y" {
		t.Fatalf("expected the second binding to be $y, got %#v", outer.Body)
	}
	rec, ok := inner.Body.(*mir.Record)
	if !ok || len(rec.Fields) != 2 {
		t.Fatalf("expected the 2-field Record innermost, got %#v", inner.Body)
	}
	first, ok := rec.Fields[0].Expr.(*mir.Variable)
	if !ok || first.Name != "$x" {
		t.Fatalf("expected field 0 to reference $x, got %#v", rec.Fields[0].Expr)
	}
	second, ok := rec.Fields[1].Expr.(*mir.Variable)
	if !ok || second.Name != "$y" {
		t.Fatalf("expected field 1 to reference $y, got %#v", rec.Fields[1].Expr)
	}
}

func TestListComprehensionDeferredThroughLazyFunction(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "xs", Type: types.List{Element: types.Number{}}}},
				ResultType: types.List{Element: types.Number{}},
				Body: &hir.ListComprehension{
					OutType: types.Number{},
					Name:    "item",
					List:    hir.Variable{Name: "xs"},
					Element: &hir.Call{Function: hir.Variable{Name: "item"}},
				},
			},
		}},
	}
	out := mustLower(t, m)
	call, ok := out.FunctionDefinitions[0].Body.(*mir.Call)
	if !ok {
		t.Fatalf("expected the comprehension to lower to a Call, got %T", out.FunctionDefinitions[0].Body)
	}
	if fn, ok := call.Fn.(*mir.Variable); !ok || fn.Name != config.Default().ListType.LazyFunctionName {
		t.Fatalf("expected the call to go through the configured lazy function, got %v", call.Fn)
	}
	thunk, ok := call.Args[0].(*mir.LetRecursive)
	if !ok || !thunk.Definition.IsThunk || len(thunk.Definition.Arguments) != 0 {
		t.Fatalf("expected a zero-argument thunk as the lazy payload, got %#v", call.Args[0])
	}
	walk, ok := thunk.Definition.Body.(*mir.LetRecursive)
	if !ok || len(walk.Definition.Arguments) != 1 {
		t.Fatalf("expected the recursive walk inside the thunk, got %#v", thunk.Definition.Body)
	}
	if _, ok := walk.Body.(*mir.Call); !ok {
		t.Fatalf("expected the walk kicked off on the source list, got %T", walk.Body)
	}
}

func TestLowerMapLiteralFoldsConstructorCalls(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "base", Type: types.Map{Key: types.String{}, Value: types.Number{}}}},
				ResultType: types.Map{Key: types.String{}, Value: types.Number{}},
				Body: &hir.Map{
					KeyType:   types.String{},
					ValueType: types.Number{},
					Elements: []hir.MapElement{
						{Spread: hir.Variable{Name: "base"}},
						{Key: hir.String{Value: "a"}, Value: hir.Number{Value: 1}},
						{RemoveKey: hir.String{Value: "b"}},
					},
				},
			},
		}},
	}
	out := mustLower(t, m)
	cfg := config.Default()

	del, ok := out.FunctionDefinitions[0].Body.(*mir.Call)
	if !ok {
		t.Fatalf("expected the outermost delete call, got %T", out.FunctionDefinitions[0].Body)
	}
	if fn, ok := del.Fn.(*mir.Variable); !ok || fn.Name != cfg.MapType.DeleteFunctionName {
		t.Fatalf("expected the delete constructor, got %v", del.Fn)
	}
	ins, ok := del.Args[0].(*mir.Call)
	if !ok {
		t.Fatalf("expected the insert call under the delete, got %T", del.Args[0])
	}
	if fn, ok := ins.Fn.(*mir.Variable); !ok || fn.Name != cfg.MapType.InsertFunctionName {
		t.Fatalf("expected the insert constructor, got %v", ins.Fn)
	}
	merge, ok := ins.Args[0].(*mir.Call)
	if !ok {
		t.Fatalf("expected the merge call under the insert, got %T", ins.Args[0])
	}
	if fn, ok := merge.Fn.(*mir.Variable); !ok || fn.Name != cfg.MapType.MergeFunctionName {
		t.Fatalf("expected the merge constructor, got %v", merge.Fn)
	}
	empty, ok := merge.Args[0].(*mir.Call)
	if !ok {
		t.Fatalf("expected the empty-map seed under the merge, got %T", merge.Args[0])
	}
	if fn, ok := empty.Fn.(*mir.Variable); !ok || fn.Name != cfg.MapType.EmptyFunctionName {
		t.Fatalf("expected the empty-map constructor seed, got %v", empty.Fn)
	}
}
