package di

import "strconv"

// Behavior controls how a Reference reacts to a missing or unbuilt target.
type Behavior int

const (
	// Strict fails with NotFoundError when the target does not exist.
	Strict Behavior = iota

	// IgnoreOnUninitialized yields nil unless the target is a shared service
	// that was already instantiated. It never triggers construction.
	IgnoreOnUninitialized

	// NullOnInvalid yields nil when the target does not exist.
	NullOnInvalid
)

// String returns the Go identifier of the behavior.
func (b Behavior) String() string {
	switch b {
	case Strict:
		return "Strict"
	case IgnoreOnUninitialized:
		return "IgnoreOnUninitialized"
	case NullOnInvalid:
		return "NullOnInvalid"
	default:
		return "Behavior(" + strconv.Itoa(int(b)) + ")"
	}
}

// Argument is a value holder used inside a Definition.
//
// The set of variants is closed: Literal, Reference, Parameter, Sequence,
// *Condition and *ClosureWrapped.
type Argument interface {
	argument()
}

// Literal is passed through as is.
type Literal struct{ Value any }

// Reference points at another service by id.
type Reference struct {
	ID       string
	Behavior Behavior
}

// Parameter is looked up in the parameter bag at resolution time.
type Parameter struct {
	Name       string
	Default    any
	HasDefault bool
}

// Sequence is an ordered list of arguments, produced for variadic parameters.
type Sequence struct{ Items []Argument }

// ConditionEnv is what a Condition predicate may inspect.
type ConditionEnv interface {
	Has(id string) bool
	Parameter(name string) (any, bool)
}

// Predicate picks the index of the candidate to use. An index out of range
// yields nil.
type Predicate func(env ConditionEnv) int

// Condition picks one of its candidates when it is resolved.
// Candidates may only be service ids or references.
type Condition struct {
	candidates []Argument
	predicate  Predicate
}

// ClosureWrapped defers resolution of exactly one reference until the
// produced function is invoked. It is exempt from cycle detection.
type ClosureWrapped struct {
	ref *Reference
}

func (Literal) argument()         {}
func (Reference) argument()       {}
func (Parameter) argument()       {}
func (Sequence) argument()        {}
func (*Condition) argument()      {}
func (*ClosureWrapped) argument() {}

// Lit returns a Literal argument.
func Lit(v any) Literal { return Literal{Value: v} }

// Ref returns a Strict reference to id.
func Ref(id string) Reference { return Reference{ID: id} }

// RefOr returns a reference to id with the given behavior.
func RefOr(id string, b Behavior) Reference { return Reference{ID: id, Behavior: b} }

// Param returns a Parameter argument without default.
func Param(name string) Parameter { return Parameter{Name: name} }

// ParamOr returns a Parameter argument falling back to def.
func ParamOr(name string, def any) Parameter {
	return Parameter{Name: name, Default: def, HasDefault: true}
}

// NewCondition builds a Condition. See (*Condition).SetValue for the accepted
// candidate shapes.
func NewCondition(pred Predicate, candidates ...any) (*Condition, error) {
	if pred == nil {
		return nil, InvalidArgumentError{What: "Condition", Expected: "predicate must not be nil"}
	}
	c := &Condition{predicate: pred}
	if err := c.SetValue(candidates...); err != nil {
		return nil, err
	}
	return c, nil
}

// SetValue replaces the candidates. Each value must be a string (a service
// id) or a Reference.
func (c *Condition) SetValue(values ...any) error {
	out := make([]Argument, 0, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case string:
			if x == "" {
				return InvalidArgumentError{What: "Condition", Expected: "candidate #" + strconv.Itoa(i) + " must not be an empty id"}
			}
			out = append(out, Ref(x))
		case Reference:
			out = append(out, x)
		default:
			return InvalidArgumentError{What: "Condition", Expected: "candidates must be strings or references"}
		}
	}
	c.candidates = out
	return nil
}

// Values returns the candidates.
func (c *Condition) Values() []Argument {
	return append([]Argument(nil), c.candidates...)
}

// Predicate returns the selection function.
func (c *Condition) Predicate() Predicate { return c.predicate }

// Wrap returns a ClosureWrapped holding a Strict reference to id.
func Wrap(id string) (*ClosureWrapped, error) {
	w := &ClosureWrapped{}
	if err := w.SetValue(Ref(id)); err != nil {
		return nil, err
	}
	return w, nil
}

// MustWrap is like Wrap but panics on error.
func MustWrap(id string) *ClosureWrapped {
	w, err := Wrap(id)
	if err != nil {
		panic(err)
	}
	return w
}

// SetValue replaces the wrapped reference. Exactly one Reference is accepted.
func (w *ClosureWrapped) SetValue(values ...Argument) error {
	if len(values) != 1 {
		return InvalidArgumentError{What: "ClosureWrapped", Expected: "must hold one and only one reference"}
	}
	ref, ok := values[0].(Reference)
	if !ok || ref.ID == "" {
		return InvalidArgumentError{What: "ClosureWrapped", Expected: "must hold one and only one reference"}
	}
	w.ref = &ref
	return nil
}

// Reference returns the wrapped reference.
func (w *ClosureWrapped) Reference() Reference {
	if w.ref == nil {
		return Reference{}
	}
	return *w.ref
}

// references calls fn for every reference reachable from arg. lazy is true
// for references that do not construct their target eagerly.
func references(arg Argument, fn func(ref Reference, lazy bool)) {
	switch a := arg.(type) {
	case Reference:
		fn(a, a.Behavior == IgnoreOnUninitialized)
	case *ClosureWrapped:
		if a.ref != nil {
			fn(*a.ref, true)
		}
	case *Condition:
		for _, c := range a.candidates {
			references(c, fn)
		}
	case Sequence:
		for _, it := range a.Items {
			references(it, fn)
		}
	}
}

// mapReferences returns arg with every reference id rewritten by fn.
func mapReferences(arg Argument, fn func(id string) string) Argument {
	switch a := arg.(type) {
	case Reference:
		a.ID = fn(a.ID)
		return a
	case *ClosureWrapped:
		if a.ref == nil {
			return a
		}
		r := *a.ref
		r.ID = fn(r.ID)
		return &ClosureWrapped{ref: &r}
	case *Condition:
		c := &Condition{predicate: a.predicate, candidates: make([]Argument, len(a.candidates))}
		for i, it := range a.candidates {
			c.candidates[i] = mapReferences(it, fn)
		}
		return c
	case Sequence:
		s := Sequence{Items: make([]Argument, len(a.Items))}
		for i, it := range a.Items {
			s.Items[i] = mapReferences(it, fn)
		}
		return s
	default:
		return arg
	}
}
