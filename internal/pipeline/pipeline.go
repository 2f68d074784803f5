// Package pipeline sequences the compiler passes (infer, coerce,
// check, lower, rc) behind a Processor/PipelineContext shape shared
// with the front end's own parse/analyze stages.
package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/solace-lang/solacec/internal/cerr"
	"github.com/solace-lang/solacec/internal/check"
	"github.com/solace-lang/solacec/internal/coerce"
	"github.com/solace-lang/solacec/internal/config"
	"github.com/solace-lang/solacec/internal/hir"
	"github.com/solace-lang/solacec/internal/infer"
	"github.com/solace-lang/solacec/internal/lower"
	"github.com/solace-lang/solacec/internal/mir"
	"github.com/solace-lang/solacec/internal/rc"
	"github.com/solace-lang/solacec/internal/types"
)

// PipelineContext carries state between pipeline stages. Each stage
// reads the fields it needs and writes the ones it produces; a stage
// that finds Err already set from an earlier stage returns ctx
// unchanged, so a caller can still inspect whatever partial state
// exists.
type PipelineContext struct {
	Config config.Config
	Env    *types.Env

	HIR *hir.Module
	MIR *mir.Module

	Err *cerr.CompileError
}

// Processor is one pipeline stage.
type Processor interface {
	Process(ctx *PipelineContext) *PipelineContext
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx *PipelineContext) *PipelineContext

func (f ProcessorFunc) Process(ctx *PipelineContext) *PipelineContext { return f(ctx) }

// Pipeline runs a fixed sequence of Processors.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the pipeline.
func (p *Pipeline) Run(initialCtx *PipelineContext) *PipelineContext {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		// Every processor runs even after an error; each stage returns
		// ctx unchanged once Err is set, so the first error survives.
	}
	return ctx
}

func inferStage(ctx *PipelineContext) *PipelineContext {
	if ctx.Err != nil {
		return ctx
	}
	out, err := infer.Module(ctx.HIR, ctx.Config)
	if err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.HIR = out
	return ctx
}

func coerceStage(ctx *PipelineContext) *PipelineContext {
	if ctx.Err != nil {
		return ctx
	}
	out, err := coerce.Module(ctx.HIR, ctx.Env, ctx.Config)
	if err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.HIR = out
	return ctx
}

func checkStage(ctx *PipelineContext) *PipelineContext {
	if ctx.Err != nil {
		return ctx
	}
	if err := check.Module(ctx.HIR, ctx.Env, ctx.Config); err != nil {
		ctx.Err = err
	}
	return ctx
}

func lowerStage(ctx *PipelineContext) *PipelineContext {
	if ctx.Err != nil {
		return ctx
	}
	out, err := lower.Module(ctx.HIR, ctx.Env, ctx.Config)
	if err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.MIR = out
	return ctx
}

func rcStage(ctx *PipelineContext) *PipelineContext {
	if ctx.Err != nil {
		return ctx
	}
	out, err := rc.Module(ctx.MIR)
	if err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.MIR = out
	return ctx
}

// Driver wires the standard infer -> coerce -> check -> lower -> rc
// sequence into a Pipeline and stamps a fresh run ID into whatever
// error surfaces, so every diagnostic from one Compile call can be
// correlated (e.g. in structured logs). The pipeline only ever
// surfaces the first failing stage's error, since each stage depends
// on the one before it having produced a well-formed tree.
type Driver struct {
	pipeline *Pipeline
}

func NewDriver() *Driver {
	return &Driver{pipeline: New(
		ProcessorFunc(inferStage),
		ProcessorFunc(coerceStage),
		ProcessorFunc(checkStage),
		ProcessorFunc(lowerStage),
		ProcessorFunc(rcStage),
	)}
}

func NewPipelineContext(m *hir.Module, env *types.Env, cfg config.Config) *PipelineContext {
	return &PipelineContext{Config: cfg, Env: env, HIR: m}
}

func (d *Driver) Compile(m *hir.Module, env *types.Env, cfg config.Config) (*mir.Module, *cerr.CompileError) {
	ctx := d.pipeline.Run(NewPipelineContext(m, env, cfg))
	if ctx.Err != nil {
		ctx.Err.RunID = uuid.New().String()
		return nil, ctx.Err
	}
	return ctx.MIR, nil
}

// WriteDiagnostic renders err to w, colorized with ANSI escapes only
// when w is a terminal. Anything that isn't an *os.File is left
// plain; there is nothing to query isatty about.
func WriteDiagnostic(w io.Writer, err *cerr.CompileError) {
	if err == nil {
		return
	}
	if !isColorTerminal(w) {
		fmt.Fprintf(w, "[%s] %s\n", err.RunID, err.Error())
		return
	}
	fmt.Fprintf(w, "\033[31m[%s]\033[0m %s\n", err.RunID, err.Error())
}

func isColorTerminal(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
