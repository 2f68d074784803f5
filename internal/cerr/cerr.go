// Package cerr defines the single structured error type shared by every
// pass in the pipeline. There is no local recovery: a pass fails its
// whole module on the first error, and the driver (internal/pipeline)
// returns that single CompileError from its Compile call.
package cerr

import (
	"fmt"

	"github.com/solace-lang/solacec/internal/types"
)

// Kind enumerates every failure kind a pass can raise.
type Kind int

const (
	TypeNotInferred Kind = iota
	TypesNotMatched
	TypesNotComparable
	FunctionExpected
	ListExpected
	MapExpected
	UnionExpected
	UnionOrAnyTypeExpected
	AnyTypeBranch
	MissingElseBlock
	RecordFieldMissing
	RecordFieldUnknown
	WrongArgumentCount
	VariableNotFound
	UnreachableCode
	ReferenceCountNodePresent
)

func (k Kind) String() string {
	switch k {
	case TypeNotInferred:
		return "TypeNotInferred"
	case TypesNotMatched:
		return "TypesNotMatched"
	case TypesNotComparable:
		return "TypesNotComparable"
	case FunctionExpected:
		return "FunctionExpected"
	case ListExpected:
		return "ListExpected"
	case MapExpected:
		return "MapExpected"
	case UnionExpected:
		return "UnionExpected"
	case UnionOrAnyTypeExpected:
		return "UnionOrAnyTypeExpected"
	case AnyTypeBranch:
		return "AnyTypeBranch"
	case MissingElseBlock:
		return "MissingElseBlock"
	case RecordFieldMissing:
		return "RecordFieldMissing"
	case RecordFieldUnknown:
		return "RecordFieldUnknown"
	case WrongArgumentCount:
		return "WrongArgumentCount"
	case VariableNotFound:
		return "VariableNotFound"
	case UnreachableCode:
		return "UnreachableCode"
	case ReferenceCountNodePresent:
		return "ReferenceCountNodePresent"
	default:
		return "UnknownError"
	}
}

// CompileError is the single sum type every pass raises through.
// Detail is a free-form rendering aid only; it is never consulted
// programmatically; callers branch on Kind.
type CompileError struct {
	Kind       Kind
	Position   types.Position
	UpperBound types.Position // second position, used by TypesNotMatched
	Detail     string
	RunID      string // stamped by internal/pipeline.Driver.Compile
}

func (e *CompileError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Position, e.Detail)
	}
	return fmt.Sprintf("%s at %s", e.Kind, e.Position)
}

func New(kind Kind, pos types.Position, detail string) *CompileError {
	return &CompileError{Kind: kind, Position: pos, Detail: detail}
}

// NewTypesNotMatched builds the one kind carrying two positions.
func NewTypesNotMatched(lowerPos, upperPos types.Position, detail string) *CompileError {
	return &CompileError{Kind: TypesNotMatched, Position: lowerPos, UpperBound: upperPos, Detail: detail}
}
