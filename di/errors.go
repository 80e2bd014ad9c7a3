package di

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("di: service not found")

	// ErrUnresolvable is matched by UnresolvableDependencyError.
	ErrUnresolvable = errors.New("di: unresolvable dependency")

	// ErrCyclicDependency is matched by CyclicDependencyError.
	ErrCyclicDependency = errors.New("di: cyclic dependency")

	// ErrInvalidArgument is matched by InvalidArgumentError.
	ErrInvalidArgument = errors.New("di: invalid argument")

	// ErrBindingResolution is matched by BindingResolutionError.
	ErrBindingResolution = errors.New("di: binding resolution failed")

	// ErrFrozen is matched by FrozenError.
	ErrFrozen = errors.New("di: definition graph is frozen")

	// ErrNotDumpable is matched by NotDumpableError.
	ErrNotDumpable = errors.New("di: definition cannot be dumped")

	// ErrTypeMismatch is matched by TypeMismatchError.
	ErrTypeMismatch = errors.New("di: type mismatch")

	// ErrSyntheticNotSet is returned when a synthetic service is requested
	// before a value was supplied with Container.Set.
	ErrSyntheticNotSet = errors.New("di: synthetic service not set")

	// ErrParameterPanic is returned if a parameter lookup panics internally.
	ErrParameterPanic = errors.New("di: panic during parameter lookup")
)

// NotFoundError is returned when an id has no definition, no alias and no
// synthetic binding, or names a private service from the public surface.
type NotFoundError struct {
	ID string

	// Reason is an optional hint (for example "service is private").
	Reason string

	// Alternatives lists ids with a similar spelling, sorted.
	Alternatives []string
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	// Example: di: service "nope" not found
	msg := "di: service " + strconv.Quote(e.ID) + " not found"
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if len(e.Alternatives) > 0 {
		msg += "; did you mean " + quoteJoin(e.Alternatives) + "?"
	}
	return msg
}

// Is reports whether target is ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ParameterNotFoundError is returned when a Parameter argument names a missing
// parameter and carries no default.
type ParameterNotFoundError struct{ Name string }

// Error implements the error interface.
func (e ParameterNotFoundError) Error() string {
	return "di: parameter " + strconv.Quote(e.Name) + " not found"
}

// Is reports whether target is ErrNotFound.
func (e ParameterNotFoundError) Is(target error) bool { return target == ErrNotFound }

// UnresolvableDependencyError is returned when autowiring cannot satisfy a
// required parameter.
type UnresolvableDependencyError struct {
	// Class is the owning class (constructor result, factory result or setter receiver).
	Class string

	// Method is empty for constructors and the method name for setters.
	Method string

	// Param is the parameter name, or "#<position>" when names are unknown.
	Param string

	// Position is the zero-based parameter position.
	Position int

	// Type is the declared parameter type.
	Type string

	// Reason explains the failure (for example "ambiguous").
	Reason string

	// Candidates lists competing ids for ambiguous matches.
	Candidates []string
}

// Error implements the error interface.
func (e UnresolvableDependencyError) Error() string {
	// Example: di: cannot resolve parameter "log" (#0, app.Logger) of "*app.Mailer": no candidate
	owner := e.Class
	if e.Method != "" {
		owner += "::" + e.Method
	}
	msg := "di: cannot resolve parameter " + strconv.Quote(e.Param) +
		" (#" + strconv.Itoa(e.Position) + ", " + e.Type + ") of " + strconv.Quote(owner)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.Candidates) > 0 {
		msg += " " + quoteJoin(e.Candidates)
	}
	return msg
}

// Is reports whether target is ErrUnresolvable.
func (e UnresolvableDependencyError) Is(target error) bool { return target == ErrUnresolvable }

// CyclicDependencyError carries the build stack that led back to an id
// already being resolved. The last element repeats the first occurrence.
type CyclicDependencyError struct{ Path []string }

// Error implements the error interface.
func (e CyclicDependencyError) Error() string {
	// Example: di: circular reference "a" -> "b" -> "a"
	return "di: circular reference " + strings.Join(quoteAll(e.Path), " -> ")
}

// Is reports whether target is ErrCyclicDependency.
func (e CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

// InvalidArgumentError reports a malformed Definition or Argument.
type InvalidArgumentError struct {
	// What names the offending construct (for example "ClosureWrapped").
	What string

	// Expected describes the required shape.
	Expected string
}

// Error implements the error interface.
func (e InvalidArgumentError) Error() string {
	// Example: di: invalid ClosureWrapped: must hold one and only one reference
	return "di: invalid " + e.What + ": " + e.Expected
}

// Is reports whether target is ErrInvalidArgument.
func (e InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// BindingResolutionError wraps a lower-level failure raised while building a
// service, for example a recovered panic or a type mismatch. Errors returned
// by constructors and factories are not wrapped.
type BindingResolutionError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e BindingResolutionError) Error() string {
	return "di: cannot build " + strconv.Quote(e.ID) + ": " + e.Err.Error()
}

// Unwrap returns the original cause.
func (e BindingResolutionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrBindingResolution.
func (e BindingResolutionError) Is(target error) bool { return target == ErrBindingResolution }

// FrozenError is raised when a definition or builder is mutated after compile.
type FrozenError struct {
	ID string
	Op string
}

// Error implements the error interface.
func (e FrozenError) Error() string {
	return "di: cannot " + e.Op + " " + strconv.Quote(e.ID) + ": definition graph is frozen"
}

// Is reports whether target is ErrFrozen.
func (e FrozenError) Is(target error) bool { return target == ErrFrozen }

// TypeMismatchError is returned when a resolved value cannot be assigned to
// the declared parameter type.
type TypeMismatchError struct {
	Want string
	Got  string
}

// Error implements the error interface.
func (e TypeMismatchError) Error() string {
	return "di: cannot use " + e.Got + " as " + e.Want
}

// Is reports whether target is ErrTypeMismatch.
func (e TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// NotDumpableError is returned by Dump for services whose construction cannot
// be expressed as Go source (closures, predicates, non-scalar literals).
type NotDumpableError struct {
	ID     string
	Reason string
}

// Error implements the error interface.
func (e NotDumpableError) Error() string {
	return "di: service " + strconv.Quote(e.ID) + " cannot be dumped: " + e.Reason
}

// Is reports whether target is ErrNotDumpable.
func (e NotDumpableError) Is(target error) bool { return target == ErrNotDumpable }

// ProviderError wraps a failure raised by a service provider.
type ProviderError struct {
	Provider string
	Phase    string
	Err      error
}

// Error implements the error interface.
func (e ProviderError) Error() string {
	return "di: provider " + strconv.Quote(e.Provider) + " failed during " + e.Phase + ": " + e.Err.Error()
}

// Unwrap returns the provider's error.
func (e ProviderError) Unwrap() error { return e.Err }

func quoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.Quote(id)
	}
	return out
}

func quoteJoin(ids []string) string {
	return strings.Join(quoteAll(ids), ", ")
}
