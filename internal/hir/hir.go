// Package hir defines the high-level intermediate representation: a
// source-type-preserving expression tree produced by the (external)
// parser/analyzer front end and consumed by this module's inference,
// coercion and checking passes.
package hir

import "github.com/solace-lang/solacec/internal/types"

// Position re-exports the shared opaque source location.
type Position = types.Position

// Expression is the interface implemented by every HIR expression node.
type Expression interface {
	Pos() Position
	isExpression()
}

// --- literals ---

type Boolean struct {
	Position Position
	Value    bool
}

type None struct {
	Position Position
}

type Number struct {
	Position Position
	Value    float64
}

type String struct {
	Position Position
	Value    string
}

type Variable struct {
	Position Position
	Name     string
}

// Lambda is a function literal. ResultType is declared by the source;
// Body's inferred type is checked/coerced against it.
type Lambda struct {
	Position   Position
	Arguments  []Argument
	ResultType types.Type
	Body       Expression
}

type Argument struct {
	Name string
	Type types.Type
}

// Let binds Bound to Name (or anonymously if Name == "") in scope of
// Body. Type is filled by inference if nil on input.
type Let struct {
	Position Position
	Name     string
	Type     types.Type
	Bound    Expression
	Body     Expression
}

// Call applies Function to Arguments. FunctionType is filled by
// inference with the inferred type of Function.
type Call struct {
	Position     Position
	FunctionType types.Type
	Function     Expression
	Arguments    []Expression
}

type If struct {
	Position Position
	Cond     Expression
	Then     Expression
	Else     Expression
}

// IfList destructures List into (FirstName : element, RestName : List)
// in Then, or evaluates Else if the list is empty. Type is the
// (canonicalized) element type, filled by inference.
type IfList struct {
	Position  Position
	Type      types.Type
	List      Expression
	FirstName string
	RestName  string
	Then      Expression
	Else      Expression
}

// IfMap destructures one entry of Map keyed by Key, binding Name to its
// value in Then, or evaluates Else if absent. KeyType/ValueType are
// filled by inference.
type IfMap struct {
	Position  Position
	KeyType   types.Type
	ValueType types.Type
	Name      string
	Map       Expression
	Key       Expression
	Then      Expression
	Else      Expression
}

// IfTypeBranch is one arm of an IfType: binds Arg's narrowed value to
// Name in Then, for values whose runtime type is Type.
type IfTypeBranch struct {
	Type types.Type
	Then Expression
}

// IfType performs runtime type-case dispatch over a union/Any-typed
// value, rebinding it under Name in each branch at the branch's
// (possibly narrower) type. ElseType is filled by inference as
// difference(scrutinee_type, union_of(branch_types)) whenever Else is
// present; it is the type Name is rebound to inside Else.
type IfType struct {
	Position Position
	Name     string
	Arg      Expression
	Branches []IfTypeBranch
	Else     Expression // nil if exhaustive without an else
	ElseType types.Type
}

// ListElement is one element of a List literal: either a single value
// or a spread (Multiple) of another list.
type ListElement struct {
	Expr     Expression
	Multiple bool
}

type List struct {
	Position    Position
	ElementType types.Type
	Elements    []ListElement
}

// ListComprehension builds a list by applying Element to each item of
// List under Name, lazily. InputType is the inferred element type of
// the source list; OutType is the declared output element type.
type ListComprehension struct {
	Position  Position
	InputType types.Type
	OutType   types.Type
	Element   Expression
	Name      string
	List      Expression
}

// MapElement is one constituent of a Map literal: a single Key/Value
// pair, a Spread of another map merged wholesale, or a RemoveKey
// deleting an entry; exactly one of the three is set.
type MapElement struct {
	Key       Expression
	Value     Expression
	Spread    Expression
	RemoveKey Expression
}

type Map struct {
	Position  Position
	KeyType   types.Type
	ValueType types.Type
	Elements  []MapElement
}

// MapIterationComprehension builds a map by applying KeyExpr/ValueExpr
// to each entry of Map under KeyName/ValueName. KeyType/ValueType are
// filled by inference from the source map's canonicalized type.
type MapIterationComprehension struct {
	Position  Position
	KeyType   types.Type
	ValueType types.Type
	KeyName   string
	ValueName string
	KeyExpr   Expression
	ValueExpr Expression
	Map       Expression
}

// --- operations ---

type ArithmeticOperator int

const (
	Add ArithmeticOperator = iota
	Subtract
	Multiply
	Divide
)

type ArithmeticOperation struct {
	Position Position
	Operator ArithmeticOperator
	Lhs      Expression
	Rhs      Expression
}

type BooleanOperator int

const (
	And BooleanOperator = iota
	Or
)

type BooleanOperation struct {
	Position Position
	Operator BooleanOperator
	Lhs      Expression
	Rhs      Expression
}

// EqualityOperation's Type is the union of the inferred LHS/RHS types.
type EqualityOperation struct {
	Position Position
	Type     types.Type
	Lhs      Expression
	Rhs      Expression
	Negated  bool
}

type OrderOperator int

const (
	LessThan OrderOperator = iota
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
)

type OrderOperation struct {
	Position Position
	Operator OrderOperator
	Lhs      Expression
	Rhs      Expression
}

type Not struct {
	Position Position
	Operand  Expression
}

// Try is the `?` operator. Type is the inferred success type,
// computed as operand type minus the configured error type.
type Try struct {
	Position Position
	Type     types.Type
	Operand  Expression
}

// Spawn schedules Lambda (a zero-argument function) on the runtime's
// parallel executor and evaluates to a thunk of its result.
type Spawn struct {
	Position Position
	Lambda   *Lambda
}

// --- records ---

type RecordFieldValue struct {
	Name string
	Expr Expression
}

type RecordConstruction struct {
	Position Position
	Type     types.Type
	Fields   []RecordFieldValue
}

type RecordDeconstruction struct {
	Position  Position
	Type      types.Type
	Record    Expression
	FieldName string
}

type RecordUpdate struct {
	Position Position
	Type     types.Type
	Record   Expression
	Fields   []RecordFieldValue
}

// Thunk is a deferred computation; lowering synthesizes a zero-argument
// closure for it, marked IsThunk. No Synchronize is emitted for it;
// internal/lower uses Synchronize only for Spawn.
type Thunk struct {
	Position Position
	Type     types.Type
	Expr     Expression
}

// TypeCoercion marks an explicit widening from From to To, inserted by
// the coercer wherever subsumption was required.
type TypeCoercion struct {
	Position Position
	From     types.Type
	To       types.Type
	Arg      Expression
}

func (Boolean) isExpression()                   {}
func (None) isExpression()                      {}
func (Number) isExpression()                    {}
func (String) isExpression()                    {}
func (Variable) isExpression()                  {}
func (*Lambda) isExpression()                   {}
func (*Let) isExpression()                      {}
func (*Call) isExpression()                     {}
func (*If) isExpression()                       {}
func (*IfList) isExpression()                   {}
func (*IfMap) isExpression()                    {}
func (*IfType) isExpression()                   {}
func (*List) isExpression()                     {}
func (*ListComprehension) isExpression()        {}
func (*Map) isExpression()                      {}
func (*MapIterationComprehension) isExpression() {}
func (*ArithmeticOperation) isExpression()      {}
func (*BooleanOperation) isExpression()         {}
func (*EqualityOperation) isExpression()        {}
func (*OrderOperation) isExpression()           {}
func (*Not) isExpression()                      {}
func (*Try) isExpression()                      {}
func (*Spawn) isExpression()                    {}
func (*RecordConstruction) isExpression()       {}
func (*RecordDeconstruction) isExpression()     {}
func (*RecordUpdate) isExpression()             {}
func (*Thunk) isExpression()                    {}
func (*TypeCoercion) isExpression()             {}

func (e Boolean) Pos() Position  { return e.Position }
func (e None) Pos() Position     { return e.Position }
func (e Number) Pos() Position   { return e.Position }
func (e String) Pos() Position   { return e.Position }
func (e Variable) Pos() Position { return e.Position }
func (e *Lambda) Pos() Position  { return e.Position }
func (e *Let) Pos() Position     { return e.Position }
func (e *Call) Pos() Position    { return e.Position }
func (e *If) Pos() Position      { return e.Position }
func (e *IfList) Pos() Position  { return e.Position }
func (e *IfMap) Pos() Position   { return e.Position }
func (e *IfType) Pos() Position  { return e.Position }
func (e *List) Pos() Position    { return e.Position }
func (e *ListComprehension) Pos() Position         { return e.Position }
func (e *Map) Pos() Position                       { return e.Position }
func (e *MapIterationComprehension) Pos() Position { return e.Position }
func (e *ArithmeticOperation) Pos() Position       { return e.Position }
func (e *BooleanOperation) Pos() Position          { return e.Position }
func (e *EqualityOperation) Pos() Position          { return e.Position }
func (e *OrderOperation) Pos() Position             { return e.Position }
func (e *Not) Pos() Position                        { return e.Position }
func (e *Try) Pos() Position                        { return e.Position }
func (e *Spawn) Pos() Position                      { return e.Position }
func (e *RecordConstruction) Pos() Position         { return e.Position }
func (e *RecordDeconstruction) Pos() Position       { return e.Position }
func (e *RecordUpdate) Pos() Position               { return e.Position }
func (e *Thunk) Pos() Position                       { return e.Position }
func (e *TypeCoercion) Pos() Position                { return e.Position }

// --- module-level declarations ---

// TypeDefinition introduces a record type into the environment.
type TypeDefinition struct {
	Name   string
	Fields []types.Field
}

// TypeAlias introduces a named alias for another type.
type TypeAlias struct {
	Name string
	Type types.Type
}

// ForeignDeclaration declares an externally implemented function.
type ForeignDeclaration struct {
	Name string
	Type types.Function
}

// FunctionDeclaration declares a function's type ahead of its definition.
type FunctionDeclaration struct {
	Name string
	Type types.Function
}

// FunctionDefinition binds Name to Lambda at module scope.
type FunctionDefinition struct {
	Name   string
	Lambda *Lambda
}

// Module is the unit consumed from the surrounding system (the
// external parser/analyzer) and produced by each pass in turn.
type Module struct {
	TypeDefinitions      []TypeDefinition
	TypeAliases          []TypeAlias
	ForeignDeclarations  []ForeignDeclaration
	FunctionDeclarations []FunctionDeclaration
	FunctionDefinitions  []FunctionDefinition
}

// Env builds a types.Env from the module's type definitions and
// aliases, for use by the type algebra during this module's passes.
func (m *Module) Env() *types.Env {
	env := types.NewEnv()
	for _, alias := range m.TypeAliases {
		env.Aliases[alias.Name] = alias.Type
	}
	for _, def := range m.TypeDefinitions {
		env.Records[def.Name] = def.Fields
	}
	return env
}
