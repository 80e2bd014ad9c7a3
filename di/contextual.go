package di

import "reflect"

// ContextualBuilder declares what one consumer class receives for an
// abstract type, overriding global autowiring for that pair only.
//
//	b.When(di.TypeOf[*Reports]()).Needs(di.TypeOf[Store]()).Give("store.readonly")
type ContextualBuilder struct {
	b        *Builder
	consumer string
	needs    string
}

// When starts a contextual binding for consumer (a class name).
func (b *Builder) When(consumer string) *ContextualBuilder {
	b.mutable("bind contextually for", consumer)
	if consumer == "" {
		panic(InvalidArgumentError{What: "contextual consumer", Expected: "must not be empty"})
	}
	return &ContextualBuilder{b: b, consumer: consumer}
}

// Needs names the abstract type (see TypeOf) being overridden.
func (cb *ContextualBuilder) Needs(abstract string) *ContextualBuilder {
	if abstract == "" {
		panic(InvalidArgumentError{What: "contextual abstract", Expected: "must not be empty"})
	}
	cb.needs = abstract
	return cb
}

// Give sets the concrete choice: a service id or class name, an Argument,
// or a constructor function whose class is synthesized on demand.
func (cb *ContextualBuilder) Give(choice any) *Builder {
	var arg Argument
	switch c := choice.(type) {
	case string:
		if c == "" {
			panic(InvalidArgumentError{What: "contextual choice", Expected: "id must not be empty"})
		}
		arg = Ref(c)
	case Argument:
		arg = c
	default:
		if reflect.TypeOf(choice) == nil || reflect.TypeOf(choice).Kind() != reflect.Func {
			panic(InvalidArgumentError{What: "contextual choice", Expected: "id, Argument or constructor function"})
		}
		arg = Ref(cb.b.Class(choice))
	}
	return cb.bind(arg)
}

// GiveValue binds a literal value.
func (cb *ContextualBuilder) GiveValue(v any) *Builder {
	return cb.bind(Lit(v))
}

func (cb *ContextualBuilder) bind(arg Argument) *Builder {
	if cb.needs == "" {
		panic(InvalidArgumentError{What: "contextual binding for " + cb.consumer, Expected: "Needs must be called before Give"})
	}
	cb.b.mutable("bind contextually for", cb.consumer)
	m, ok := cb.b.g.contextual[cb.consumer]
	if !ok {
		m = map[string]Argument{}
		cb.b.g.contextual[cb.consumer] = m
	}
	m[cb.needs] = arg
	return cb.b
}

func (g *graph) contextualFor(consumer, abstract string) (Argument, bool) {
	arg, ok := g.contextual[consumer][abstract]
	return arg, ok
}
