package di

import (
	"reflect"
	"strconv"

	"github.com/rs/zerolog"
)

// recipe is a definition with everything needed to call it.
type recipe struct {
	def    *Definition
	class  *Class
	fn     reflect.Value
	params []ParamInfo
}

// autowirer fills missing constructor, factory and setter arguments.
type autowirer struct {
	g     *graph
	log   zerolog.Logger
	stack buildStack
}

func newAutowirer(g *graph, log zerolog.Logger) *autowirer {
	return &autowirer{g: g, log: log}
}

// complete fills the missing arguments of def in place and returns its
// recipe.
func (a *autowirer) complete(id string, def *Definition) (*recipe, error) {
	if err := a.stack.push(id); err != nil {
		return nil, err
	}
	defer a.stack.pop()

	rc := &recipe{def: def}
	consumer := def.class
	switch def.kind {
	case KindObject:
		cl, ok := a.g.classes.lookup(def.class)
		if !ok {
			return nil, InvalidArgumentError{What: "service " + strconv.Quote(id), Expected: "class " + strconv.Quote(def.class) + " is not registered"}
		}
		rc.class, rc.fn, rc.params = cl, cl.ctor, cl.params
		if !cl.HasConstructor() && len(def.args) > 0 {
			return nil, InvalidArgumentError{What: "service " + strconv.Quote(id), Expected: "class " + strconv.Quote(cl.name) + " has no constructor and takes no arguments"}
		}
	case KindFactory:
		if def.factory != nil {
			rc.fn = reflect.ValueOf(def.factory)
			rc.params = funcParams(rc.fn.Type(), 0, nil)
		} else if t, ok := a.serviceType(def.factoryRef.ID); ok {
			m, found := t.MethodByName(def.method)
			if !found {
				return nil, InvalidArgumentError{What: "factory of " + strconv.Quote(id), Expected: "type " + t.String() + " has no method " + strconv.Quote(def.method)}
			}
			skip := 1
			if t.Kind() == reflect.Interface {
				skip = 0
			}
			rc.params = funcParams(m.Type, skip, nil)
			if m.Type.NumOut() > 0 {
				consumer = TypeName(m.Type.Out(0))
			}
		} else {
			// Factory service built by a closure: parameters are only known at
			// runtime, so explicit arguments are used as given.
			return rc, nil
		}
	default:
		return rc, nil
	}

	if err := a.fillArgs(def, consumer, "", rc.params); err != nil {
		return nil, err
	}
	if rc.class != nil {
		if err := a.fillCalls(def, rc.class); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

func (a *autowirer) fillArgs(def *Definition, consumer, method string, params []ParamInfo) error {
	for i, p := range params {
		if i < len(def.args) && def.args[i] != nil {
			continue
		}
		arg, err := a.argumentFor(def, consumer, method, p)
		if err != nil {
			return err
		}
		if p.Variadic && arg == nil {
			continue
		}
		for len(def.args) <= i {
			def.args = append(def.args, nil)
		}
		def.args[i] = arg
	}
	return nil
}

func (a *autowirer) fillCalls(def *Definition, cl *Class) error {
	for i, call := range def.calls {
		m, ok := cl.typ.MethodByName(call.Method)
		if !ok {
			return InvalidArgumentError{What: "method call on " + strconv.Quote(def.id), Expected: "type " + cl.typ.String() + " has no method " + strconv.Quote(call.Method)}
		}
		params := funcParams(m.Type, receiverSkip(cl.typ), nil)
		tmp := &Definition{args: call.Args, autowired: def.autowired}
		if err := a.fillArgs(tmp, cl.name, call.Method, params); err != nil {
			return err
		}
		def.calls[i].Args = tmp.args
	}

	if !def.autowired {
		return nil
	}
	for _, name := range cl.setters {
		if hasCall(def, name) {
			continue
		}
		m, ok := cl.typ.MethodByName(name)
		if !ok {
			return InvalidArgumentError{What: "setter of " + strconv.Quote(cl.name), Expected: "no method " + strconv.Quote(name)}
		}
		params := funcParams(m.Type, receiverSkip(cl.typ), nil)
		tmp := &Definition{autowired: true}
		if err := a.fillArgs(tmp, cl.name, name, params); err != nil {
			return err
		}
		def.calls = append(def.calls, MethodCall{Method: name, Args: tmp.args})
		a.log.Debug().Str("class", cl.name).Str("setter", name).Msg("autowired setter")
	}
	return nil
}

// argumentFor resolves one missing parameter. A nil result for a variadic
// parameter means "pass nothing".
func (a *autowirer) argumentFor(def *Definition, consumer, method string, p ParamInfo) (Argument, error) {
	fail := func(reason string, candidates []string) error {
		return UnresolvableDependencyError{
			Class: consumer, Method: method, Param: p.Name, Position: p.Position,
			Type: p.Type.String(), Reason: reason, Candidates: candidates,
		}
	}

	if !def.autowired {
		switch {
		case p.Variadic:
			return nil, nil
		case p.HasDefault:
			return Lit(p.Default), nil
		case p.Nullable:
			return Lit(nil), nil
		}
		return nil, fail("no explicit argument and autowiring is disabled", nil)
	}

	t := p.Type
	if p.Variadic {
		elem := t.Elem()
		ids := a.g.typed(TypeName(elem))
		if len(ids) == 0 {
			return nil, nil
		}
		items := make([]Argument, len(ids))
		for i, id := range ids {
			items[i] = Ref(id)
		}
		a.log.Debug().Str("class", consumer).Str("param", p.Name).Strs("ids", ids).Msg("collected tagged services")
		return Sequence{Items: items}, nil
	}

	lazy := false
	if elem, _, ok := lazyElem(t); ok {
		t, lazy = elem, true
	}
	if elem, ok := optionalElem(t); ok {
		t = elem
	}
	abstract := TypeName(t)

	if arg, ok := a.g.contextualFor(consumer, abstract); ok {
		if ref, isRef := arg.(Reference); isRef {
			if err := a.ensure(ref.ID); err != nil {
				return nil, err
			}
			arg = a.ref(ref, lazy)
		}
		a.log.Debug().Str("class", consumer).Str("param", p.Name).Str("type", abstract).Msg("contextual binding")
		return arg, nil
	}

	switch ids := a.g.candidates(abstract); len(ids) {
	case 0:
	case 1:
		return a.ref(Ref(ids[0]), lazy), nil
	default:
		var defaults []string
		for _, id := range ids {
			if a.g.defs[id].isDefault {
				defaults = append(defaults, id)
			}
		}
		if len(defaults) != 1 {
			return nil, fail("ambiguous, candidates", ids)
		}
		return a.ref(Ref(defaults[0]), lazy), nil
	}

	if cl, ok := a.g.classes.forType(t); ok {
		if err := a.synthesize(cl); err != nil {
			return nil, err
		}
		return a.ref(Ref(cl.name), lazy), nil
	}

	switch {
	case p.HasDefault:
		return Lit(p.Default), nil
	case p.Nullable:
		return Lit(nil), nil
	}
	return nil, fail("no service matches type "+strconv.Quote(abstract), nil)
}

func (a *autowirer) ref(r Reference, lazy bool) Argument {
	if lazy {
		return &ClosureWrapped{ref: &r}
	}
	return r
}

// ensure synthesizes id when it names a catalog class with no definition.
func (a *autowirer) ensure(id string) error {
	if a.g.has(id) {
		return nil
	}
	if cl, ok := a.g.classes.lookup(id); ok {
		return a.synthesize(cl)
	}
	return nil
}

// synthesize registers a private shared definition for a concrete class
// under its class name. The definition is registered only once complete,
// so a class needing itself transitively fails with CyclicDependencyError.
func (a *autowirer) synthesize(cl *Class) error {
	if _, ok := a.g.defs[cl.name]; ok {
		return nil
	}
	def := NewObject(cl.name)
	def.public = false
	def.id = cl.name
	if _, err := a.complete(cl.name, def); err != nil {
		return err
	}
	a.g.set(cl.name, def)
	a.log.Debug().Str("class", cl.name).Msg("synthesized definition")
	return nil
}

// serviceType returns the produced type of a service, when it can be known
// without building it.
func (a *autowirer) serviceType(id string) (reflect.Type, bool) {
	d, ok := a.g.find(id)
	if !ok {
		return nil, false
	}
	switch d.kind {
	case KindObject, KindSynthetic:
		if cl, ok := a.g.classes.lookup(d.class); ok {
			return cl.typ, true
		}
	case KindFactory:
		if d.factory != nil {
			return reflect.TypeOf(d.factory).Out(0), true
		}
	}
	return nil, false
}

func receiverSkip(t reflect.Type) int {
	if t.Kind() == reflect.Interface {
		return 0
	}
	return 1
}

func hasCall(def *Definition, method string) bool {
	for _, c := range def.calls {
		if c.Method == method {
			return true
		}
	}
	return false
}
