// Package mir defines the mid-level intermediate representation:
// variants are explicit tagged unions, records are indexed tuples, and
// (after internal/rc) memory management is explicit via
// CloneVariables/DropVariables annotations.
package mir

import "github.com/solace-lang/solacec/internal/types"

// Position re-exports the shared opaque source location.
type Position = types.Position

// Type is the MIR type algebra: simpler than HIR's because lowering
// has already resolved unions into Variant and containers into their
// concrete record+closure encodings.
type Type interface {
	String() string
	isType()
}

type Boolean struct{}
type None struct{}
type Number struct{}
type ByteString struct{}

// Variant is a tagged existential: a (type tag, payload) pair. The tag
// travels with the value (see VariantExpr); internal/lower leaves Inner
// nil, since the payload type is not known statically.
type Variant struct {
	Inner Type
}

type Function struct {
	Args   []Type
	Result Type
}

// RecordType is nominal; field order/indices live in the owning
// Module's record table, mirroring HIR's record field resolution.
type RecordType struct {
	Name string
}

func (Boolean) isType()    {}
func (None) isType()       {}
func (Number) isType()     {}
func (ByteString) isType() {}
func (Variant) isType()    {}
func (Function) isType()   {}
func (RecordType) isType() {}

func (Boolean) String() string    { return "Boolean" }
func (None) String() string       { return "None" }
func (Number) String() string     { return "Number" }
func (ByteString) String() string { return "ByteString" }
func (v Variant) String() string {
	if v.Inner == nil {
		return "Variant"
	}
	return "Variant<" + v.Inner.String() + ">"
}
func (f Function) String() string {
	s := "("
	for i, a := range f.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ") -> " + f.Result.String()
}
func (r RecordType) String() string { return r.Name }

// Expression is the interface implemented by every MIR node.
type Expression interface {
	Pos() Position
	isExpression()
}

type BooleanLiteral struct {
	Position Position
	Value    bool
}
type ByteStringLiteral struct {
	Position Position
	Value    []byte
}
type NoneLiteral struct {
	Position Position
}
type NumberLiteral struct {
	Position Position
	Value    float64
}

type Variable struct {
	Position Position
	Name     string
}

type Let struct {
	Position Position
	Name     string
	Type     Type
	Bound    Expression
	Body     Expression
}

// EnvironmentArgument is one captured free variable of a closure.
type EnvironmentArgument struct {
	Name string
	Type Type
}

type FunctionArgument struct {
	Name string
	Type Type
}

// FunctionDefinition describes one closure: its captured Environment,
// its ordinary Arguments, declared ResultType and Body. IsThunk marks
// zero-argument closures synthesized for Thunk/Spawn/comprehension
// laziness.
type FunctionDefinition struct {
	Name        string
	Environment []EnvironmentArgument
	Arguments   []FunctionArgument
	ResultType  Type
	Body        Expression
	IsThunk     bool
}

type LetRecursive struct {
	Position   Position
	Definition *FunctionDefinition
	Body       Expression
}

type Call struct {
	Position Position
	FnType   Function
	Fn       Expression
	Args     []Expression
}

type If struct {
	Position Position
	Cond     Expression
	Then     Expression
	Else     Expression
}

// Alternative is one arm of a Case: binds Name to Argument's payload
// when its runtime variant tag matches Type.
type Alternative struct {
	Type Type
	Name string
	Expr Expression
}

// DefaultAlternative is the fallback arm of a Case: binds Name to the
// still-tagged scrutinee value when no Alternative's Type matches. Name
// may be empty when the fallback does not need the value.
type DefaultAlternative struct {
	Name string
	Expr Expression
}

// Case dispatches on Argument's variant tag. Default, if non-nil, is
// evaluated when no Alternative's Type matches (an HIR IfType else
// branch typed Any collapses to this).
type Case struct {
	Position     Position
	Argument     Expression
	Alternatives []Alternative
	Default      *DefaultAlternative
}

type RecordFieldValue struct {
	Expr Expression
}

type Record struct {
	Position Position
	Type     RecordType
	Fields   []RecordFieldValue
}

type RecordField struct {
	Position Position
	Type     Type
	Index    int
	Record   Expression
}

type RecordUpdateField struct {
	Index int
	Expr  Expression
}

type RecordUpdate struct {
	Position Position
	Type     Type
	Record   Expression
	Fields   []RecordUpdateField
}

// VariantExpr tags Payload as being of type Inner.
type VariantExpr struct {
	Position Position
	Inner    Type
	Payload  Expression
}

type ArithmeticOperation struct {
	Position Position
	Operator int // Add/Subtract/Multiply/Divide, shared numbering with hir.ArithmeticOperator
	Lhs      Expression
	Rhs      Expression
}

type ComparisonOperator int

const (
	Equal ComparisonOperator = iota
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
)

type ComparisonOperation struct {
	Position Position
	Operator ComparisonOperator
	Lhs      Expression
	Rhs      Expression
}

// TryOperation evaluates Operand; if it carries the error variant tag
// Type, binds its payload to Name and exits the enclosing function with
// Then's value (internal/lower makes Then re-tag the error); if not,
// it evaluates to Operand's value, which the enclosing Case dispatches
// on. This node only appears inside the Case the lowering of HIR Try
// produces.
type TryOperation struct {
	Position Position
	Operand  Expression
	Name     string
	Type     Type
	Then     Expression
}

// Synchronize forces a thunk expression exactly once, memoizing the
// result for every subsequent forcer. Backend-implemented with a mutex
// or atomic state machine; this node is just the marker.
type Synchronize struct {
	Position Position
	Type     Type
	Expr     Expression
}

type StringConcatenation struct {
	Position Position
	Lhs      Expression
	Rhs      Expression
}

// CloneVariables/DropVariables are RC-only forms; they never appear in
// the input to internal/rc, only in its output.
type CloneVariables struct {
	Position  Position
	Variables map[string]Type
	Expr      Expression
}

type DropVariables struct {
	Position  Position
	Variables map[string]Type
	Expr      Expression
}

func (*BooleanLiteral) isExpression()     {}
func (*ByteStringLiteral) isExpression()  {}
func (*NoneLiteral) isExpression()        {}
func (*NumberLiteral) isExpression()      {}
func (*Variable) isExpression()           {}
func (*Let) isExpression()                {}
func (*LetRecursive) isExpression()       {}
func (*Call) isExpression()               {}
func (*If) isExpression()                 {}
func (*Case) isExpression()               {}
func (*Record) isExpression()             {}
func (*RecordField) isExpression()        {}
func (*RecordUpdate) isExpression()       {}
func (*VariantExpr) isExpression()        {}
func (*ArithmeticOperation) isExpression() {}
func (*ComparisonOperation) isExpression() {}
func (*TryOperation) isExpression()       {}
func (*Synchronize) isExpression()        {}
func (*StringConcatenation) isExpression() {}
func (*CloneVariables) isExpression()     {}
func (*DropVariables) isExpression()      {}

func (e *BooleanLiteral) Pos() Position    { return e.Position }
func (e *ByteStringLiteral) Pos() Position { return e.Position }
func (e *NoneLiteral) Pos() Position       { return e.Position }
func (e *NumberLiteral) Pos() Position     { return e.Position }
func (e *Variable) Pos() Position          { return e.Position }
func (e *Let) Pos() Position               { return e.Position }
func (e *LetRecursive) Pos() Position      { return e.Position }
func (e *Call) Pos() Position              { return e.Position }
func (e *If) Pos() Position                { return e.Position }
func (e *Case) Pos() Position              { return e.Position }
func (e *Record) Pos() Position            { return e.Position }
func (e *RecordField) Pos() Position       { return e.Position }
func (e *RecordUpdate) Pos() Position      { return e.Position }
func (e *VariantExpr) Pos() Position       { return e.Position }
func (e *ArithmeticOperation) Pos() Position { return e.Position }
func (e *ComparisonOperation) Pos() Position { return e.Position }
func (e *TryOperation) Pos() Position       { return e.Position }
func (e *Synchronize) Pos() Position        { return e.Position }
func (e *StringConcatenation) Pos() Position { return e.Position }
func (e *CloneVariables) Pos() Position     { return e.Position }
func (e *DropVariables) Pos() Position      { return e.Position }

// --- module-level declarations ---

type TypeDefinition struct {
	Name   string
	Fields []Field
}

type Field struct {
	Name string
	Type Type
}

type ForeignDeclaration struct {
	Name string
	Type Function
}

// ForeignDefinition names a definition exported to foreign callers,
// distinct from ForeignDeclaration which only declares a signature.
// lower.Module emits none; internal/rc passes the list through.
type ForeignDefinition struct {
	Name string
	Type Function
}

type FunctionDeclaration struct {
	Name string
	Type Function
}

type Module struct {
	TypeDefinitions      []TypeDefinition
	ForeignDeclarations  []ForeignDeclaration
	ForeignDefinitions   []ForeignDefinition
	FunctionDeclarations []FunctionDeclaration
	FunctionDefinitions  []*FunctionDefinition
}
