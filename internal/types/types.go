// Package types implements the HIR type algebra: canonicalization,
// equality, structural subsumption, type difference and record field
// resolution. There is no parametric polymorphism in this language, so
// unlike a Hindley-Milner type system there are no type variables and
// no substitutions here: every type is already ground once parsing has
// filled in surface annotations.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Position is an opaque source location, carried on every type node for
// diagnostics only. It never participates in equality or subsumption.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Type is the interface implemented by every member of the HIR type
// algebra: Boolean, None, Number, String, Any, Reference,
// Record, Function, List, Map, Union.
type Type interface {
	Pos() Position
	String() string
	isType()
}

// Env resolves named references (aliases and record heads) to their
// underlying types, and record heads to their ordered field lists. It
// is passed by shared reference and never mutated by the algebra;
// extending it functionally at binding sites is the caller's job.
type Env struct {
	Aliases map[string]Type
	Records map[string][]Field
}

// Field is one (name, type) pair of a record, in declaration order.
// Order is significant: it becomes a positional index in MIR.
type Field struct {
	Name string
	Type Type
}

func NewEnv() *Env {
	return &Env{Aliases: map[string]Type{}, Records: map[string][]Field{}}
}

// WithAlias returns a new Env extending this one with name -> t, leaving
// the receiver untouched (clone-on-extend).
func (e *Env) WithAlias(name string, t Type) *Env {
	next := &Env{
		Aliases: make(map[string]Type, len(e.Aliases)+1),
		Records: e.Records,
	}
	for k, v := range e.Aliases {
		next.Aliases[k] = v
	}
	next.Aliases[name] = t
	return next
}

// --- leaf and composite type nodes ---

type Boolean struct{ Position Position }
type None struct{ Position Position }
type Number struct{ Position Position }
type String struct{ Position Position }
type Any struct{ Position Position }

// Reference is a named alias or record head, resolved through Env.
type Reference struct {
	Position Position
	Name     string
}

// Record references a record by name; its field list lives in Env.Records.
type Record struct {
	Position Position
	Name     string
}

// Function is one arrow with a vector of argument types.
type Function struct {
	Position Position
	Args     []Type
	Result   Type
}

type List struct {
	Position Position
	Element  Type
}

type Map struct {
	Position Position
	Key      Type
	Value    Type
}

// Union is a binary union node; n-ary unions are built by
// left-folding UnionOf and flattened away by Canonicalize.
type Union struct {
	Position Position
	Lhs      Type
	Rhs      Type
}

func (t Boolean) isType()   {}
func (t None) isType()      {}
func (t Number) isType()    {}
func (t String) isType()    {}
func (t Any) isType()       {}
func (t Reference) isType() {}
func (t Record) isType()    {}
func (t Function) isType()  {}
func (t List) isType()      {}
func (t Map) isType()       {}
func (t Union) isType()     {}

func (t Boolean) Pos() Position   { return t.Position }
func (t None) Pos() Position      { return t.Position }
func (t Number) Pos() Position    { return t.Position }
func (t String) Pos() Position    { return t.Position }
func (t Any) Pos() Position       { return t.Position }
func (t Reference) Pos() Position { return t.Position }
func (t Record) Pos() Position    { return t.Position }
func (t Function) Pos() Position  { return t.Position }
func (t List) Pos() Position      { return t.Position }
func (t Map) Pos() Position       { return t.Position }
func (t Union) Pos() Position     { return t.Position }

func (t Boolean) String() string { return "Boolean" }
func (t None) String() string    { return "None" }
func (t Number) String() string  { return "Number" }
func (t String) String() string  { return "String" }
func (t Any) String() string     { return "Any" }
func (t Reference) String() string {
	return t.Name
}
func (t Record) String() string { return t.Name }
func (t Function) String() string {
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(args, ", "), t.Result.String())
}
func (t List) String() string { return fmt.Sprintf("[%s]", t.Element.String()) }
func (t Map) String() string  { return fmt.Sprintf("{%s: %s}", t.Key.String(), t.Value.String()) }
func (t Union) String() string {
	return fmt.Sprintf("%s | %s", t.Lhs.String(), t.Rhs.String())
}

// Canonicalize normalizes t: it follows Reference chains, flattens
// nested unions, dedupes union members and sorts them for a
// deterministic comparison key, and packs Function into one arrow.
// It is idempotent: Canonicalize(Canonicalize(t)) == Canonicalize(t).
func Canonicalize(t Type, env *Env) Type {
	switch v := t.(type) {
	case Reference:
		if resolved, ok := env.Aliases[v.Name]; ok {
			return Canonicalize(resolved, env)
		}
		if _, ok := env.Records[v.Name]; ok {
			return Record{Position: v.Position, Name: v.Name}
		}
		return v
	case Union:
		members := MembersOf(v, env)
		return buildSortedUnion(members, v.Position)
	case Function:
		args := make([]Type, len(v.Args))
		for i, a := range v.Args {
			args[i] = Canonicalize(a, env)
		}
		return Function{Position: v.Position, Args: args, Result: Canonicalize(v.Result, env)}
	case List:
		return List{Position: v.Position, Element: Canonicalize(v.Element, env)}
	case Map:
		return Map{Position: v.Position, Key: Canonicalize(v.Key, env), Value: Canonicalize(v.Value, env)}
	default:
		return v
	}
}

// CanonicalizeFunction returns the function form of t if t canonicalizes
// to one, else (nil, false).
func CanonicalizeFunction(t Type, env *Env) (Function, bool) {
	f, ok := Canonicalize(t, env).(Function)
	return f, ok
}

// CanonicalizeList returns the list form of t if t canonicalizes to one.
func CanonicalizeList(t Type, env *Env) (List, bool) {
	l, ok := Canonicalize(t, env).(List)
	return l, ok
}

// CanonicalizeMap returns the map form of t if t canonicalizes to one.
func CanonicalizeMap(t Type, env *Env) (Map, bool) {
	m, ok := Canonicalize(t, env).(Map)
	return m, ok
}

// MembersOf enumerates the members of a union (duplicates removed, in
// canonical sorted order), or the singleton set for a leaf type.
func MembersOf(t Type, env *Env) []Type {
	c := t
	if ref, ok := t.(Reference); ok {
		if resolved, ok := env.Aliases[ref.Name]; ok {
			c = resolved
		}
	}
	var flat []Type
	switch v := c.(type) {
	case Union:
		flat = append(flat, MembersOf(v.Lhs, env)...)
		flat = append(flat, MembersOf(v.Rhs, env)...)
	default:
		flat = []Type{Canonicalize(c, env)}
	}
	seen := map[string]bool{}
	var unique []Type
	for _, m := range flat {
		key := m.String()
		if !seen[key] {
			seen[key] = true
			unique = append(unique, m)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].String() < unique[j].String() })
	return unique
}

func buildSortedUnion(members []Type, pos Position) Type {
	if len(members) == 0 {
		return None{Position: pos}
	}
	if len(members) == 1 {
		return members[0]
	}
	result := members[0]
	for _, m := range members[1:] {
		result = Union{Position: pos, Lhs: result, Rhs: m}
	}
	return result
}

// Equal reports whether a and b have structurally identical canonical
// forms. Positions are ignored.
func Equal(a, b Type, env *Env) bool {
	return Canonicalize(a, env).String() == Canonicalize(b, env).String()
}

// Subsume reports whether lower <= upper: every structural member of
// lower is a member of upper. Any is top. Functions are contravariant
// in arguments, covariant in result. List/Map are invariant (the
// list-to-list, map-to-map coercion exception lives in internal/coerce,
// which is a lowering-time representation fact, not a subtyping fact).
func Subsume(lower, upper Type, env *Env) bool {
	lc := Canonicalize(lower, env)
	uc := Canonicalize(upper, env)

	if _, ok := uc.(Any); ok {
		return true
	}

	if lu, ok := lc.(Union); ok {
		for _, m := range MembersOf(lu, env) {
			if !Subsume(m, uc, env) {
				return false
			}
		}
		return true
	}

	if uu, ok := uc.(Union); ok {
		for _, m := range MembersOf(uu, env) {
			if Subsume(lc, m, env) {
				return true
			}
		}
		return false
	}

	switch lf := lc.(type) {
	case Function:
		uf, ok := uc.(Function)
		if !ok || len(lf.Args) != len(uf.Args) {
			return false
		}
		for i := range lf.Args {
			// contravariant: each upper argument subsumes the lower argument
			if !Subsume(uf.Args[i], lf.Args[i], env) {
				return false
			}
		}
		return Subsume(lf.Result, uf.Result, env)
	case List:
		ul, ok := uc.(List)
		return ok && Equal(lf.Element, ul.Element, env)
	case Map:
		um, ok := uc.(Map)
		return ok && Equal(lf.Key, um.Key, env) && Equal(lf.Value, um.Value, env)
	case Record:
		ur, ok := uc.(Record)
		return ok && lf.Name == ur.Name
	default:
		return lc.String() == uc.String()
	}
}

// Difference computes a \ b: the union of members of a not subsumed by
// b. Returns (nil, false) when the result would be empty.
func Difference(a, b Type, env *Env) (Type, bool) {
	ac := Canonicalize(a, env)
	if _, ok := ac.(Any); ok {
		// Any \ anything = Any: an Any result is handled by the caller
		// (the inferrer treats it as an error for try and keeps it as
		// the else type for a type narrowing), not by Difference itself.
		return Any{Position: ac.Pos()}, true
	}

	members := MembersOf(ac, env)
	var remaining []Type
	for _, m := range members {
		if !Subsume(m, b, env) {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) == 0 {
		return nil, false
	}
	return buildSortedUnion(remaining, ac.Pos()), true
}

// UnionOf left-folds types into one binary Union tree, preserving
// input order. Used to reconstruct the else-branch type in IfType.
func UnionOf(types []Type, pos Position) Type {
	if len(types) == 0 {
		return None{Position: pos}
	}
	result := types[0]
	for _, t := range types[1:] {
		result = Union{Position: pos, Lhs: result, Rhs: t}
	}
	return result
}

// ResolveRecordFields returns the ordered (name, type) sequence for a
// record type, following Reference chains first.
func ResolveRecordFields(t Type, env *Env) ([]Field, bool) {
	c := Canonicalize(t, env)
	r, ok := c.(Record)
	if !ok {
		return nil, false
	}
	fields, ok := env.Records[r.Name]
	return fields, ok
}
