package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/solace-lang/solacec/internal/cerr"
	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/mir"
	"github.com/solace-lang/solacec/internal/types"
)

func addOneModule() *hir.Module {
	return &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "addOne",
			Lambda: &hir.Lambda{
				Arguments:  []hir.Argument{{Name: "n", Type: types.Number{}}},
				ResultType: types.Number{},
				Body: &hir.ArithmeticOperation{
					Operator: hir.Add,
					Lhs:      hir.Variable{Name: "n"},
					Rhs:      hir.Number{Value: 1},
				},
			},
		}},
	}
}

func TestDriverCompileEndToEnd(t *testing.T) {
	m := addOneModule()
	out, err := NewDriver().Compile(m, m.Env(), config.Default())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(out.FunctionDefinitions) != 1 || out.FunctionDefinitions[0].Name != "addOne" {
		t.Fatalf("expected one lowered function definition, got %+v", out.FunctionDefinitions)
	}
	if out.FunctionDefinitions[0].Body == nil {
		t.Fatalf("expected a lowered, rc-annotated body")
	}
}

func TestDriverCompileStampsRunID(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "broken",
			Lambda: &hir.Lambda{
				ResultType: types.Number{},
				Body:       hir.Variable{Name: "missing"},
			},
		}},
	}
	out, err := NewDriver().Compile(m, m.Env(), config.Default())
	if err == nil {
		t.Fatalf("expected a compile error, got %+v", out)
	}
	if err.Kind != cerr.VariableNotFound {
		t.Fatalf("expected VariableNotFound, got %v", err.Kind)
	}
	if err.RunID == "" {
		t.Fatalf("expected the run ID stamped onto the error")
	}
}

func TestDriverCompileDistinctRunIDsPerCall(t *testing.T) {
	m := &hir.Module{
		FunctionDefinitions: []hir.FunctionDefinition{{
			Name: "broken",
			Lambda: &hir.Lambda{
				ResultType: types.Number{},
				Body:       hir.Variable{Name: "missing"},
			},
		}},
	}
	d := NewDriver()
	_, err1 := d.Compile(m, m.Env(), config.Default())
	_, err2 := d.Compile(m, m.Env(), config.Default())
	if err1 == nil || err2 == nil {
		t.Fatalf("expected both compiles to fail")
	}
	if err1.RunID == err2.RunID {
		t.Fatalf("expected distinct run IDs, got %q twice", err1.RunID)
	}
}

func TestPipelineSkipsStagesAfterError(t *testing.T) {
	sentinel := cerr.New(cerr.TypeNotInferred, types.Position{Line: 1}, "sentinel")
	ran := false
	p := New(ProcessorFunc(func(ctx *PipelineContext) *PipelineContext {
		if ctx.Err != nil {
			return ctx
		}
		ran = true
		ctx.MIR = &mir.Module{}
		return ctx
	}))
	ctx := p.Run(&PipelineContext{Err: sentinel})
	if ran {
		t.Fatalf("expected the stage body skipped once an earlier stage failed")
	}
	if ctx.Err != sentinel {
		t.Fatalf("expected the original error preserved, got %v", ctx.Err)
	}
	if ctx.MIR != nil {
		t.Fatalf("expected no MIR produced after an error")
	}
}

func TestWriteDiagnosticPlainOnNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	err := cerr.New(cerr.ListExpected, types.Position{Line: 3, Column: 7}, "")
	err.RunID = "run-1"
	WriteDiagnostic(&buf, err)
	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatalf("expected no ANSI escapes for a non-terminal writer, got %q", out)
	}
	if !strings.Contains(out, "ListExpected") || !strings.Contains(out, "run-1") {
		t.Fatalf("expected the kind and run ID rendered, got %q", out)
	}
}

func TestWriteDiagnosticNilIsNoop(t *testing.T) {
	var buf bytes.Buffer
	WriteDiagnostic(&buf, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written for a nil error, got %q", buf.String())
	}
}
