package coerce

import (
	"testing"

	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/infer"
	"github.com/solace-lang/solacec/internal/types"
)

// mustCoerce runs infer then Module on m, failing the test on any error.
func mustCoerce(t *testing.T, m *hir.Module) *hir.Module {
	t.Helper()
	cfg := config.Default()
	env := m.Env()
	inferred, err := infer.Module(m, cfg)
	if err != nil {
		t.Fatalf("infer.Module: %v", err)
	}
	coerced, err := Module(inferred, env, cfg)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	return coerced
}

// TestCoercionIntoUnion: a function declared to return Number | None
// whose body is the bare None literal gets its body wrapped in an
// explicit widening from None to the union.
func TestCoercionIntoUnion(t *testing.T) {
	union := types.Union{Lhs: types.Number{}, Rhs: types.None{}}
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name:   "main",
			Lambda: &hir.Lambda{ResultType: union, Body: hir.None{}},
		}},
	}
	out := mustCoerce(t, m)
	body := out.FunctionDefinitions[0].Lambda.Body
	tc, ok := body.(*hir.TypeCoercion)
	if !ok {
		t.Fatalf("expected *hir.TypeCoercion body, got %T", body)
	}
	if _, ok := tc.From.(types.None); !ok {
		t.Fatalf("expected From = None, got %v", tc.From)
	}
	if !types.Equal(tc.To, union, types.NewEnv()) {
		t.Fatalf("expected To = Number | None, got %v", tc.To)
	}
	if _, ok := tc.Arg.(hir.None); !ok {
		t.Fatalf("expected the original None literal as Arg, got %T", tc.Arg)
	}
}

// TestCoercionElidedBetweenLists: a List(None) value in a List(Any)
// context stays unwrapped, since the runtime representation of every
// list is identical.
func TestCoercionElidedBetweenLists(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.List{Element: types.Any{}},
				Body: &hir.List{
					ElementType: types.None{},
					Elements:    []hir.ListElement{{Expr: hir.None{}}},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	body := out.FunctionDefinitions[0].Lambda.Body
	if _, ok := body.(*hir.TypeCoercion); ok {
		t.Fatalf("expected list-to-list coercion to be elided, got a TypeCoercion wrapper")
	}
	if _, ok := body.(*hir.List); !ok {
		t.Fatalf("expected the list literal to pass through untouched, got %T", body)
	}
}

func TestCoercionElidedBetweenMaps(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.Map{Key: types.String{}, Value: types.Any{}},
				Body: &hir.Map{
					KeyType:   types.String{},
					ValueType: types.Number{},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	body := out.FunctionDefinitions[0].Lambda.Body
	if _, ok := body.(*hir.TypeCoercion); ok {
		t.Fatalf("expected map-to-map coercion to be elided, got a TypeCoercion wrapper")
	}
}

func TestCallArgumentCoercedAgainstParameterType(t *testing.T) {
	union := types.Union{Lhs: types.Number{}, Rhs: types.None{}}
	m := &hir.Module{
		FunctionDeclarations: []hir.FunctionDeclaration{
			{Name: "f", Type: types.Function{Args: []types.Type{union}, Result: types.None{}}},
		},
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.None{},
				Body: &hir.Call{
					Function:  hir.Variable{Name: "f"},
					Arguments: []hir.Expression{hir.Number{Value: 1}},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	call := out.FunctionDefinitions[0].Lambda.Body.(*hir.Call)
	tc, ok := call.Arguments[0].(*hir.TypeCoercion)
	if !ok {
		t.Fatalf("expected the argument wrapped in a TypeCoercion, got %T", call.Arguments[0])
	}
	if _, ok := tc.From.(types.Number); !ok {
		t.Fatalf("expected From = Number, got %v", tc.From)
	}
}

func TestIfBranchesCoercedToJoinedType(t *testing.T) {
	union := types.Union{Lhs: types.Number{}, Rhs: types.None{}}
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "c", Type: types.Boolean{}}},
				ResultType: union,
				Body: &hir.If{
					Cond: hir.Variable{Name: "c"},
					Then: hir.Number{Value: 1},
					Else: hir.None{},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	iff := out.FunctionDefinitions[0].Lambda.Body.(*hir.If)
	if _, ok := iff.Then.(*hir.TypeCoercion); !ok {
		t.Fatalf("expected the then branch coerced into the union, got %T", iff.Then)
	}
	if _, ok := iff.Else.(*hir.TypeCoercion); !ok {
		t.Fatalf("expected the else branch coerced into the union, got %T", iff.Else)
	}
}

func TestEqualityOperandsCoercedToOperandUnion(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				Arguments: []hir.Argument{{Name: "v", Type: types.Union{
					Lhs: types.Number{}, Rhs: types.None{},
				}}},
				ResultType: types.Boolean{},
				Body: &hir.EqualityOperation{
					Lhs: hir.Variable{Name: "v"},
					Rhs: hir.Number{Value: 1},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	eq := out.FunctionDefinitions[0].Lambda.Body.(*hir.EqualityOperation)
	if _, ok := eq.Rhs.(*hir.TypeCoercion); !ok {
		t.Fatalf("expected the narrower operand coerced into the operand union, got %T", eq.Rhs)
	}
}

func TestRecordFieldCoercedAgainstDeclaredType(t *testing.T) {
	m := &hir.Module{
		TypeDefinitions: []hir.TypeDefinition{
			{Name: "Box", Fields: []types.Field{
				{Name: "value", Type: types.Union{Lhs: types.Number{}, Rhs: types.None{}}},
			}},
		},
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.Record{Name: "Box"},
				Body: &hir.RecordConstruction{
					Type: types.Record{Name: "Box"},
					Fields: []hir.RecordFieldValue{
						{Name: "value", Expr: hir.Number{Value: 1}},
					},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	rc := out.FunctionDefinitions[0].Lambda.Body.(*hir.RecordConstruction)
	if _, ok := rc.Fields[0].Expr.(*hir.TypeCoercion); !ok {
		t.Fatalf("expected the field value coerced into the declared field type, got %T", rc.Fields[0].Expr)
	}
}

func TestListElementsCoercedAgainstElementType(t *testing.T) {
	union := types.Union{Lhs: types.Number{}, Rhs: types.None{}}
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "main",
			Lambda: &hir.Lambda{
				ResultType: types.List{Element: union},
				Body: &hir.List{
					ElementType: union,
					Elements: []hir.ListElement{
						{Expr: hir.Number{Value: 1}},
						{Expr: hir.None{}},
					},
				},
			},
		}},
	}
	out := mustCoerce(t, m)
	list := out.FunctionDefinitions[0].Lambda.Body.(*hir.List)
	for i, el := range list.Elements {
		if _, ok := el.Expr.(*hir.TypeCoercion); !ok {
			t.Fatalf("expected element %d coerced into the union element type, got %T", i, el.Expr)
		}
	}
}

func TestAlreadyMatchingTypeLeftUnwrapped(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name:   "main",
			Lambda: &hir.Lambda{ResultType: types.Number{}, Body: hir.Number{Value: 1}},
		}},
	}
	out := mustCoerce(t, m)
	if _, ok := out.FunctionDefinitions[0].Lambda.Body.(hir.Number); !ok {
		t.Fatalf("expected the body untouched when types already match, got %T", out.FunctionDefinitions[0].Lambda.Body)
	}
}
