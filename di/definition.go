package di

import (
	"reflect"
	"slices"
)

// Kind identifies the Definition variant.
type Kind int

const (
	// KindObject builds a class through its constructor or zero value.
	KindObject Kind = iota

	// KindFactory calls a function, or a method on another service.
	KindFactory

	// KindClosure calls a ClosureFunc with the resolver.
	KindClosure

	// KindAlias is a name binding to another id.
	KindAlias

	// KindUndefined marks a service that could not be resolved.
	KindUndefined

	// KindSynthetic is supplied at runtime through Container.Set.
	KindSynthetic
)

var kindNames = [...]string{"object", "factory", "closure", "alias", "undefined", "synthetic"}

// String returns a lowercase name for the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ClosureFunc builds a service with direct access to the resolver.
type ClosureFunc func(r Resolver) (any, error)

// MethodCall is invoked on the instance after construction.
type MethodCall struct {
	Method string
	Args   []Argument
}

// Definition describes how to build one service.
//
// Definitions are mutable until the owning Builder compiles. Mutators return
// the receiver for chaining and panic with FrozenError afterwards.
type Definition struct {
	id   string
	kind Kind

	class      string
	ctor       any
	factory    any
	factoryRef *Reference
	method     string
	closure    ClosureFunc
	target     string
	reason     string

	public    bool
	shared    bool
	autowired bool
	isDefault bool

	args  []Argument
	calls []MethodCall
	tags  []string

	frozen bool
}

func newDefinition(k Kind) *Definition {
	return &Definition{kind: k, public: true, shared: true, autowired: true}
}

// NewObject returns a definition building a class. classOrCtor is either a
// class name (see TypeName), a reflect.Type, or a constructor function
// returning T or (T, error).
func NewObject(classOrCtor any) *Definition {
	d := newDefinition(KindObject)
	switch c := classOrCtor.(type) {
	case string:
		if c == "" {
			panic(InvalidArgumentError{What: "ObjectDefinition", Expected: "class name must not be empty"})
		}
		d.class = c
	case reflect.Type:
		d.ctor = c
		d.class = TypeName(c)
	default:
		t := reflect.TypeOf(classOrCtor)
		if t == nil || t.Kind() != reflect.Func {
			panic(InvalidArgumentError{What: "ObjectDefinition", Expected: "class name, reflect.Type or constructor function"})
		}
		if t.NumOut() == 0 {
			panic(InvalidArgumentError{What: "ObjectDefinition", Expected: "constructor must return a value"})
		}
		d.ctor = classOrCtor
		d.class = TypeName(t.Out(0))
	}
	return d
}

// NewFactory returns a definition calling callable. callable is a function,
// or a Reference to a factory service whose method is called.
func NewFactory(callable any, method ...string) *Definition {
	d := newDefinition(KindFactory)
	switch c := callable.(type) {
	case Reference:
		if len(method) != 1 || method[0] == "" {
			panic(InvalidArgumentError{What: "FactoryDefinition", Expected: "a service factory needs exactly one method name"})
		}
		d.factoryRef = &c
		d.method = method[0]
	default:
		t := reflect.TypeOf(callable)
		if t == nil || t.Kind() != reflect.Func || t.NumOut() == 0 {
			panic(InvalidArgumentError{What: "FactoryDefinition", Expected: "function returning a value, or a Reference with a method"})
		}
		if t.NumOut() > 2 || t.NumOut() == 2 && t.Out(1) != errorType {
			panic(InvalidArgumentError{What: "FactoryDefinition", Expected: "function returning T or (T, error)"})
		}
		if len(method) > 0 {
			panic(InvalidArgumentError{What: "FactoryDefinition", Expected: "a function factory takes no method name"})
		}
		d.factory = callable
		d.class = TypeName(t.Out(0))
	}
	return d
}

// NewClosure returns a definition calling fn. Closures are never autowired
// and cannot be dumped.
func NewClosure(fn ClosureFunc) *Definition {
	if fn == nil {
		panic(InvalidArgumentError{What: "ClosureDefinition", Expected: "closure must not be nil"})
	}
	d := newDefinition(KindClosure)
	d.closure = fn
	d.autowired = false
	return d
}

// NewAlias returns a name binding to target.
func NewAlias(target string) *Definition {
	if target == "" {
		panic(InvalidArgumentError{What: "ReferenceAlias", Expected: "target id must not be empty"})
	}
	d := newDefinition(KindAlias)
	d.target = target
	d.autowired = false
	return d
}

// NewUndefined returns a placeholder for a service that could not be
// resolved. It is never instantiated.
func NewUndefined(reason string) *Definition {
	d := newDefinition(KindUndefined)
	d.reason = reason
	d.autowired = false
	return d
}

// NewSynthetic declares a service whose value is supplied with Container.Set.
// Declaring it lets other definitions reference and autowire it.
func NewSynthetic(class string) *Definition {
	d := newDefinition(KindSynthetic)
	d.class = class
	d.autowired = false
	return d
}

func (d *Definition) mutable(op string) {
	if d.frozen {
		panic(FrozenError{ID: d.id, Op: op})
	}
}

// ID returns the id the definition was registered under.
func (d *Definition) ID() string { return d.id }

// Kind returns the variant.
func (d *Definition) Kind() Kind { return d.kind }

// Class returns the produced class name, if known.
func (d *Definition) Class() string { return d.class }

// Target returns the alias target.
func (d *Definition) Target() string { return d.target }

// Reason returns the hint of an undefined definition.
func (d *Definition) Reason() string { return d.reason }

// Factory returns the factory function, or the factory service reference
// and method name.
func (d *Definition) Factory() (fn any, ref *Reference, method string) {
	return d.factory, d.factoryRef, d.method
}

// Arguments returns a copy of the constructor arguments. Nil entries are
// filled by autowiring.
func (d *Definition) Arguments() []Argument { return slices.Clone(d.args) }

// MethodCalls returns a copy of the method calls.
func (d *Definition) MethodCalls() []MethodCall {
	out := make([]MethodCall, len(d.calls))
	for i, c := range d.calls {
		out[i] = MethodCall{Method: c.Method, Args: slices.Clone(c.Args)}
	}
	return out
}

// Tags returns the tags in insertion order.
func (d *Definition) Tags() []string { return slices.Clone(d.tags) }

// HasTag reports whether the definition carries tag.
func (d *Definition) HasTag(tag string) bool { return slices.Contains(d.tags, tag) }

// IsPublic reports whether Container.Get may return the service.
func (d *Definition) IsPublic() bool { return d.public }

// IsShared reports whether one instance is kept per container.
func (d *Definition) IsShared() bool { return d.shared }

// IsAutowired reports whether missing arguments are autowired.
func (d *Definition) IsAutowired() bool { return d.autowired }

// IsDefault reports whether the definition wins ties for its types.
func (d *Definition) IsDefault() bool { return d.isDefault }

// IsFrozen reports whether the definition was compiled.
func (d *Definition) IsFrozen() bool { return d.frozen }

// AddArgument appends positional constructor arguments.
func (d *Definition) AddArgument(args ...Argument) *Definition {
	d.mutable("add argument to")
	d.args = append(d.args, args...)
	return d
}

// SetArgument sets the argument at position i, growing the list with
// autowired holes as needed.
func (d *Definition) SetArgument(i int, arg Argument) *Definition {
	d.mutable("set argument of")
	if i < 0 {
		panic(InvalidArgumentError{What: "argument position", Expected: "must not be negative"})
	}
	for len(d.args) <= i {
		d.args = append(d.args, nil)
	}
	d.args[i] = arg
	return d
}

// AddMethodCall appends a call invoked after construction.
func (d *Definition) AddMethodCall(method string, args ...Argument) *Definition {
	d.mutable("add method call to")
	if method == "" {
		panic(InvalidArgumentError{What: "method call", Expected: "method name must not be empty"})
	}
	d.calls = append(d.calls, MethodCall{Method: method, Args: args})
	return d
}

// AddTag adds tags, ignoring duplicates.
func (d *Definition) AddTag(tags ...string) *Definition {
	d.mutable("tag")
	for _, t := range tags {
		if t == "" {
			panic(InvalidArgumentError{What: "tag", Expected: "tag must not be empty"})
		}
		if !slices.Contains(d.tags, t) {
			d.tags = append(d.tags, t)
		}
	}
	return d
}

// SetPublic controls visibility through Container.Get.
func (d *Definition) SetPublic(v bool) *Definition {
	d.mutable("change visibility of")
	d.public = v
	return d
}

// SetShared controls memoization.
func (d *Definition) SetShared(v bool) *Definition {
	d.mutable("change sharing of")
	d.shared = v
	return d
}

// SetAutowired controls autowiring of missing arguments.
func (d *Definition) SetAutowired(v bool) *Definition {
	d.mutable("change autowiring of")
	d.autowired = v
	return d
}

// SetDefault marks the definition as the default for its types when several
// candidates match.
func (d *Definition) SetDefault(v bool) *Definition {
	d.mutable("change default of")
	d.isDefault = v
	return d
}

// Clone returns an unfrozen deep copy without id.
func (d *Definition) Clone() *Definition {
	c := *d
	c.id = ""
	c.frozen = false
	c.args = slices.Clone(d.args)
	c.calls = d.MethodCalls()
	c.tags = slices.Clone(d.tags)
	if d.factoryRef != nil {
		r := *d.factoryRef
		c.factoryRef = &r
	}
	return &c
}

// eachReference visits every reference held by the definition.
func (d *Definition) eachReference(fn func(ref Reference, lazy bool)) {
	if d.factoryRef != nil {
		fn(*d.factoryRef, false)
	}
	if d.kind == KindAlias {
		fn(Ref(d.target), false)
	}
	for _, a := range d.args {
		if a != nil {
			references(a, fn)
		}
	}
	for _, c := range d.calls {
		for _, a := range c.Args {
			if a != nil {
				references(a, fn)
			}
		}
	}
}

// rewriteReferences rewrites every reference id in place.
func (d *Definition) rewriteReferences(fn func(id string) string) {
	if d.factoryRef != nil {
		d.factoryRef.ID = fn(d.factoryRef.ID)
	}
	for i, a := range d.args {
		if a != nil {
			d.args[i] = mapReferences(a, fn)
		}
	}
	for i := range d.calls {
		for j, a := range d.calls[i].Args {
			if a != nil {
				d.calls[i].Args[j] = mapReferences(a, fn)
			}
		}
	}
}
