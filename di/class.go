package di

import (
	"reflect"
	"slices"
	"strconv"
)

var (
	errorType     = reflect.TypeFor[error]()
	optionalIface = reflect.TypeFor[optionalParam]()
	setterIface   = reflect.TypeFor[SetterAutowirer]()
)

// TypeName returns the class name used for type matching:
// "pkg/path.Name" for named types and a "*" prefix for pointers.
func TypeName(t reflect.Type) string {
	switch {
	case t == nil:
		return "<nil>"
	case t.Name() != "" && t.PkgPath() != "":
		return t.PkgPath() + "." + t.Name()
	case t.Kind() == reflect.Pointer:
		return "*" + TypeName(t.Elem())
	default:
		return t.String()
	}
}

// TypeOf returns TypeName of T. Interfaces are named by their own type.
func TypeOf[T any]() string { return TypeName(reflect.TypeFor[T]()) }

// Optional marks a dependency that may be absent. Valid is false when no
// definition matched.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Get returns the value and whether it was resolved.
func (o Optional[T]) Get() (T, bool) { return o.Value, o.Valid }

func (Optional[T]) optionalElem() reflect.Type { return reflect.TypeFor[T]() }

type optionalParam interface {
	optionalElem() reflect.Type
}

func optionalElem(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct || !t.Implements(optionalIface) {
		return nil, false
	}
	return reflect.Zero(t).Interface().(optionalParam).optionalElem(), true
}

// lazyElem reports whether t is func() T or func() (T, error).
func lazyElem(t reflect.Type) (elem reflect.Type, withErr, ok bool) {
	if t.Kind() != reflect.Func || t.NumIn() != 0 {
		return nil, false, false
	}
	switch t.NumOut() {
	case 1:
		return t.Out(0), false, true
	case 2:
		if t.Out(1) == errorType {
			return t.Out(0), true, true
		}
	}
	return nil, false, false
}

// SetterAutowirer lets a type opt setter methods into autowiring.
// Setters not listed are never called automatically.
type SetterAutowirer interface {
	AutowiredSetters() []string
}

// ParamInfo describes one parameter of a constructor, factory or setter.
type ParamInfo struct {
	Name       string
	Position   int
	Type       reflect.Type
	Variadic   bool
	Nullable   bool
	Default    any
	HasDefault bool
}

// Optional reports whether the parameter may fall back to its default or nil.
func (p ParamInfo) Optional() bool { return p.Nullable || p.HasDefault }

// Class is the reflected description of a constructible type.
type Class struct {
	name       string
	typ        reflect.Type
	ctor       reflect.Value
	returnsErr bool
	params     []ParamInfo
	setters    []string
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Type returns the produced type.
func (c *Class) Type() reflect.Type { return c.typ }

// Params returns the constructor parameters.
func (c *Class) Params() []ParamInfo { return append([]ParamInfo(nil), c.params...) }

// Setters returns the setter methods opted into autowiring.
func (c *Class) Setters() []string { return append([]string(nil), c.setters...) }

// HasConstructor reports whether instances come from a constructor function
// rather than the zero value.
func (c *Class) HasConstructor() bool { return c.ctor.IsValid() }

type classConfig struct {
	names    []string
	defaults map[int]any
	nullable map[int]bool
	setters  []string
}

// ClassOption configures class metadata that reflection cannot see.
type ClassOption func(*classConfig)

// ParamNames names constructor parameters in order, for diagnostics.
func ParamNames(names ...string) ClassOption {
	return func(c *classConfig) { c.names = names }
}

// WithDefault gives the parameter at pos a default used when autowiring
// finds nothing.
func WithDefault(pos int, v any) ClassOption {
	return func(c *classConfig) {
		if c.defaults == nil {
			c.defaults = map[int]any{}
		}
		c.defaults[pos] = v
	}
}

// Nullable lets the parameter at pos resolve to nil when autowiring finds
// nothing.
func Nullable(pos int) ClassOption {
	return func(c *classConfig) {
		if c.nullable == nil {
			c.nullable = map[int]bool{}
		}
		c.nullable[pos] = true
	}
}

// Setters opts setter methods into autowiring.
func Setters(names ...string) ClassOption {
	return func(c *classConfig) { c.setters = append(c.setters, names...) }
}

func newClass(ctor any, opts ...ClassOption) (*Class, error) {
	v := reflect.ValueOf(ctor)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, InvalidArgumentError{What: "constructor", Expected: "must be a non-nil function"}
	}
	t := v.Type()
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return nil, InvalidArgumentError{What: "constructor", Expected: "must return T or (T, error)"}
	}
	if t.Out(0) == errorType {
		return nil, InvalidArgumentError{What: "constructor", Expected: "first result must not be error"}
	}

	cfg := &classConfig{}
	for _, o := range opts {
		o(cfg)
	}
	c := &Class{
		name:       TypeName(t.Out(0)),
		typ:        t.Out(0),
		ctor:       v,
		returnsErr: t.NumOut() == 2,
		params:     funcParams(t, 0, cfg),
	}
	c.setters = classSetters(c.typ, cfg.setters)
	return c, nil
}

// isConcrete reports whether t can be built from its zero value.
func isConcrete(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t.Name() != ""
}

func zeroClass(t reflect.Type, opts ...ClassOption) *Class {
	cfg := &classConfig{}
	for _, o := range opts {
		o(cfg)
	}
	return &Class{name: TypeName(t), typ: t, setters: classSetters(t, cfg.setters)}
}

func classSetters(t reflect.Type, explicit []string) []string {
	out := append([]string(nil), explicit...)
	if t.Implements(setterIface) {
		var inst reflect.Value
		if t.Kind() == reflect.Pointer {
			inst = reflect.New(t.Elem())
		} else {
			inst = reflect.New(t).Elem()
		}
		for _, s := range inst.Interface().(SetterAutowirer).AutowiredSetters() {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// funcParams describes the inputs of ft starting at skip (1 skips a method
// receiver).
func funcParams(ft reflect.Type, skip int, cfg *classConfig) []ParamInfo {
	n := ft.NumIn()
	out := make([]ParamInfo, 0, n-skip)
	for i := skip; i < n; i++ {
		pos := i - skip
		p := ParamInfo{Name: "#" + strconv.Itoa(pos), Position: pos, Type: ft.In(i)}
		if ft.IsVariadic() && i == n-1 {
			p.Variadic = true
		}
		if _, ok := optionalElem(p.Type); ok {
			p.Nullable = true
		}
		if cfg != nil {
			if pos < len(cfg.names) && cfg.names[pos] != "" {
				p.Name = cfg.names[pos]
			}
			if v, ok := cfg.defaults[pos]; ok {
				p.Default, p.HasDefault = v, true
			}
			if cfg.nullable[pos] {
				p.Nullable = true
			}
		}
		out = append(out, p)
	}
	return out
}

// catalog indexes classes by name.
type catalog struct {
	classes map[string]*Class
}

func newCatalog() *catalog {
	return &catalog{classes: map[string]*Class{}}
}

func (c *catalog) register(ctor any, opts ...ClassOption) (*Class, error) {
	if t, ok := ctor.(reflect.Type); ok {
		if !isConcrete(t) {
			return nil, InvalidArgumentError{What: "class", Expected: "type " + t.String() + " must be a named struct or pointer to one"}
		}
		cl := zeroClass(t, opts...)
		c.classes[cl.name] = cl
		return cl, nil
	}
	cl, err := newClass(ctor, opts...)
	if err != nil {
		return nil, err
	}
	c.classes[cl.name] = cl
	return cl, nil
}

func (c *catalog) lookup(name string) (*Class, bool) {
	cl, ok := c.classes[name]
	return cl, ok
}

// forType returns the registered class for t, or a zero-value class for a
// concrete type.
func (c *catalog) forType(t reflect.Type) (*Class, bool) {
	if cl, ok := c.classes[TypeName(t)]; ok {
		return cl, true
	}
	if !isConcrete(t) {
		return nil, false
	}
	cl := zeroClass(t)
	c.classes[cl.name] = cl
	return cl, true
}
