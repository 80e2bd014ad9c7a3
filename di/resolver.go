package di

import (
	"fmt"
	"reflect"
	"strconv"
)

// Resolver is handed to closures and generated accessors. Unlike
// Container.Get it reaches private services.
type Resolver interface {
	ConditionEnv

	// Service resolves id with the given behavior.
	Service(id string, b Behavior) (any, error)

	// Lazy returns a function resolving id when called.
	Lazy(id string) func() (any, error)

	// Lookup returns a parameter or ParameterNotFoundError.
	Lookup(name string) (any, error)

	// LookupOr returns a parameter or def when it is missing.
	LookupOr(name string, def any) (any, error)
}

// resolution is one top-level Get call. Its stack detects cycles at runtime
// and is never shared between concurrent calls.
type resolution struct {
	c     *Container
	stack buildStack

	// waiting is the entry this resolution blocks on. Guarded by
	// Container.buildMu.
	waiting *entry
}

var _ Resolver = (*resolution)(nil)

func (r *resolution) Service(id string, b Behavior) (any, error) {
	return r.c.resolve(r, id, b, false)
}

// Lazy resolves in the calling resolution while it is still building, so a
// closure invoked from a constructor still sees the build stack.
func (r *resolution) Lazy(id string) func() (any, error) {
	return func() (any, error) {
		if r.stack.depth() > 0 {
			return r.c.resolve(r, id, Strict, false)
		}
		return r.c.resolve(r.c.newResolution(), id, Strict, false)
	}
}

func (r *resolution) Has(id string) bool { return r.c.has(id, false) }

func (r *resolution) Parameter(name string) (any, bool) {
	v, ok, err := r.c.parameter(name)
	if err != nil {
		r.c.log.Warn().Err(err).Str("parameter", name).Msg("parameter lookup failed")
		return nil, false
	}
	return v, ok
}

func (r *resolution) Lookup(name string) (any, error) {
	v, ok, err := r.c.parameter(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ParameterNotFoundError{Name: name}
	}
	return v, nil
}

func (r *resolution) LookupOr(name string, def any) (any, error) {
	v, ok, err := r.c.parameter(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// service resolves a dependency, building inlined services in place.
func (c *Container) service(r *resolution, id string, b Behavior) (any, error) {
	if rc, ok := c.inlined[id]; ok {
		return c.instantiate(id, rc, r)
	}
	return r.Service(id, b)
}

// instantiate builds one instance from a recipe.
func (c *Container) instantiate(id string, rc *recipe, r *resolution) (any, error) {
	d := rc.def
	var (
		inst any
		err  error
	)
	switch d.kind {
	case KindObject:
		inst, err = c.construct(id, rc, r)
	case KindFactory:
		inst, err = c.callFactory(id, rc, r)
	case KindClosure:
		inst, err = d.closure(r)
	case KindAlias:
		return r.Service(d.target, Strict)
	case KindSynthetic:
		return nil, fmt.Errorf("%w: %s", ErrSyntheticNotSet, strconv.Quote(id))
	default:
		return nil, NotFoundError{ID: id, Reason: d.reason}
	}
	if err != nil {
		return nil, err
	}
	for _, call := range d.calls {
		if err := c.invoke(id, inst, call, r); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

func (c *Container) construct(id string, rc *recipe, r *resolution) (any, error) {
	cl := rc.class
	if cl == nil {
		return nil, BindingResolutionError{ID: id, Err: fmt.Errorf("class %q is not registered", rc.def.class)}
	}
	if !cl.HasConstructor() {
		if cl.typ.Kind() == reflect.Pointer {
			return reflect.New(cl.typ.Elem()).Interface(), nil
		}
		return reflect.New(cl.typ).Elem().Interface(), nil
	}
	in, err := c.arguments(id, rc.params, rc.def.args, r)
	if err != nil {
		return nil, err
	}
	return callFunc(cl.ctor, in)
}

func (c *Container) callFactory(id string, rc *recipe, r *resolution) (any, error) {
	d := rc.def
	fn := rc.fn
	params := rc.params
	if d.factoryRef != nil {
		svc, err := c.service(r, d.factoryRef.ID, d.factoryRef.Behavior)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, BindingResolutionError{ID: id, Err: fmt.Errorf("factory service %q is nil", d.factoryRef.ID)}
		}
		fn = reflect.ValueOf(svc).MethodByName(d.method)
		if !fn.IsValid() {
			return nil, BindingResolutionError{ID: id, Err: fmt.Errorf("%T has no method %q", svc, d.method)}
		}
		if params == nil {
			params = funcParams(fn.Type(), 0, nil)
		}
	}
	in, err := c.arguments(id, params, d.args, r)
	if err != nil {
		return nil, err
	}
	return callFunc(fn, in)
}

func (c *Container) invoke(id string, inst any, call MethodCall, r *resolution) error {
	m := reflect.ValueOf(inst).MethodByName(call.Method)
	if !m.IsValid() {
		return BindingResolutionError{ID: id, Err: fmt.Errorf("%T has no method %q", inst, call.Method)}
	}
	in, err := c.arguments(id, funcParams(m.Type(), 0, nil), call.Args, r)
	if err != nil {
		return err
	}
	out := callValue(m, in)
	if n := len(out); n > 0 && m.Type().Out(n-1) == errorType && !out[n-1].IsNil() {
		return out[n-1].Interface().(error)
	}
	return nil
}

// arguments evaluates args against params. A variadic parameter receives
// either a Sequence at its position or every trailing argument.
func (c *Container) arguments(id string, params []ParamInfo, args []Argument, r *resolution) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, len(params))
	for i, p := range params {
		if p.Variadic {
			v, err := c.variadic(id, p, args[min(i, len(args)):], r)
			if err != nil {
				return nil, err
			}
			in = append(in, v)
			break
		}
		if i >= len(args) || args[i] == nil {
			return nil, UnresolvableDependencyError{Class: id, Param: p.Name, Position: p.Position, Type: p.Type.String(), Reason: "no argument"}
		}
		v, err := c.evaluate(args[i], p.Type, r)
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}
	if len(params) == 0 || !params[len(params)-1].Variadic {
		if len(args) > len(params) {
			return nil, InvalidArgumentError{What: "arguments of " + strconv.Quote(id), Expected: "at most " + strconv.Itoa(len(params)) + " arguments"}
		}
	}
	return in, nil
}

func (c *Container) variadic(id string, p ParamInfo, rest []Argument, r *resolution) (reflect.Value, error) {
	if len(rest) == 1 {
		if seq, ok := rest[0].(Sequence); ok {
			return c.evaluate(seq, p.Type, r)
		}
	}
	out := reflect.MakeSlice(p.Type, 0, len(rest))
	for _, a := range rest {
		if a == nil {
			continue
		}
		v, err := c.evaluate(a, p.Type.Elem(), r)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, v)
	}
	return out, nil
}

// evaluate turns an argument into a value assignable to want. A nil want
// keeps the dynamic type.
func (c *Container) evaluate(arg Argument, want reflect.Type, r *resolution) (reflect.Value, error) {
	switch a := arg.(type) {
	case Literal:
		return coerce(a.Value, want)
	case Reference:
		v, err := c.service(r, a.ID, a.Behavior)
		if err != nil {
			return reflect.Value{}, err
		}
		return coerce(v, want)
	case Parameter:
		var (
			v   any
			err error
		)
		if a.HasDefault {
			v, err = r.LookupOr(a.Name, a.Default)
		} else {
			v, err = r.Lookup(a.Name)
		}
		if err != nil {
			return reflect.Value{}, err
		}
		return coerce(v, want)
	case Sequence:
		st := want
		if st == nil || st.Kind() != reflect.Slice {
			st = reflect.TypeFor[[]any]()
		}
		out := reflect.MakeSlice(st, 0, len(a.Items))
		for _, it := range a.Items {
			v, err := c.evaluate(it, st.Elem(), r)
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, v)
		}
		return coerce(out.Interface(), want)
	case *ClosureWrapped:
		return lazyValue(r.Lazy(a.Reference().ID), want)
	case *Condition:
		idx := a.predicate(r)
		if idx < 0 || idx >= len(a.candidates) {
			return coerce(nil, want)
		}
		return c.evaluate(a.candidates[idx], want, r)
	default:
		return reflect.Value{}, InvalidArgumentError{What: "argument", Expected: fmt.Sprintf("unsupported argument %T", arg)}
	}
}

// coerce converts v to want, wrapping Optional parameters and converting
// between numeric kinds.
func coerce(v any, want reflect.Type) (reflect.Value, error) {
	if want == nil {
		return reflect.ValueOf(v), nil
	}
	if elem, ok := optionalElem(want); ok {
		out := reflect.New(want).Elem()
		if v == nil {
			return out, nil
		}
		if rv := reflect.ValueOf(v); rv.Type() == want {
			return rv, nil
		}
		inner, err := coerce(v, elem)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Field(0).Set(inner)
		out.Field(1).SetBool(true)
		return out, nil
	}
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		return exact(rv, want), nil
	}
	if isNumeric(rv.Kind()) && isNumeric(want.Kind()) {
		return rv.Convert(want), nil
	}
	if rv.Kind() == want.Kind() && rv.Type().ConvertibleTo(want) {
		return rv.Convert(want), nil
	}
	return reflect.Value{}, TypeMismatchError{Want: want.String(), Got: rv.Type().String()}
}

// exact returns v as a value of type t, which v must be assignable to.
func exact(v reflect.Value, t reflect.Type) reflect.Value {
	if v.Type() == t {
		return v
	}
	out := reflect.New(t).Elem()
	out.Set(v)
	return out
}

// lazyValue adapts get to want: func() T, func() (T, error), or an empty
// interface receiving get itself.
func lazyValue(get func() (any, error), want reflect.Type) (reflect.Value, error) {
	gv := reflect.ValueOf(get)
	if want == nil || gv.Type().AssignableTo(want) {
		return exact(gv, gv.Type()), nil
	}
	elem, withErr, ok := lazyElem(want)
	if !ok {
		return reflect.Value{}, TypeMismatchError{Want: want.String(), Got: "lazy service"}
	}
	fn := reflect.MakeFunc(want, func([]reflect.Value) []reflect.Value {
		v, err := get()
		var out reflect.Value
		if err == nil {
			out, err = coerce(v, elem)
		}
		if err != nil {
			if !withErr {
				panic(err)
			}
			return []reflect.Value{reflect.Zero(elem), reflect.ValueOf(&err).Elem()}
		}
		if withErr {
			return []reflect.Value{out, reflect.Zero(errorType)}
		}
		return []reflect.Value{out}
	})
	return fn, nil
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func callValue(fn reflect.Value, in []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(in)
	}
	return fn.Call(in)
}

// callFunc calls a constructor or factory returning T or (T, error).
// Returned errors are passed through unwrapped.
func callFunc(fn reflect.Value, in []reflect.Value) (any, error) {
	out := callValue(fn, in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}
