package di

import (
	"fmt"
	"maps"
	"slices"
)

// Parameters supplies values for Parameter arguments.
//
// It is intentionally:
// - read-only
// - side effect free
//
// Expected usage:
//
//	val, ok, err := params.Resolve("mail.dsn")
type Parameters interface {
	Resolve(name string) (val any, ok bool, err error)
}

// ParameterBag is the flat in-memory parameter table of a container graph.
type ParameterBag struct {
	items map[string]any
}

// NewParameterBag returns an empty bag.
func NewParameterBag() *ParameterBag {
	return &ParameterBag{items: map[string]any{}}
}

// Set stores a value under name and returns the bag for chaining.
func (p *ParameterBag) Set(name string, val any) *ParameterBag {
	if name == "" {
		panic(InvalidArgumentError{What: "parameter", Expected: "name must not be empty"})
	}
	p.items[name] = val
	return p
}

// Resolve implements Parameters.
func (p *ParameterBag) Resolve(name string) (any, bool, error) {
	v, ok := p.items[name]
	return v, ok, nil
}

// Get returns the value if present.
func (p *ParameterBag) Get(name string) (any, bool) {
	v, ok := p.items[name]
	return v, ok
}

// MustGet returns the value or panics with a helpful message.
func (p *ParameterBag) MustGet(name string) any {
	v, ok := p.items[name]
	if !ok {
		panic(ParameterNotFoundError{Name: name})
	}
	return v
}

// Names returns the parameter names in sorted order.
func (p *ParameterBag) Names() []string {
	return slices.Sorted(maps.Keys(p.items))
}

// All returns a copy of the table.
func (p *ParameterBag) All() map[string]any {
	return maps.Clone(p.items)
}

// Len returns the number of parameters.
func (p *ParameterBag) Len() int { return len(p.items) }

func (p *ParameterBag) clone() *ParameterBag {
	return &ParameterBag{items: maps.Clone(p.items)}
}

// lookupParameter queries the sources in order and converts panics into
// ErrParameterPanic.
func lookupParameter(name string, sources ...Parameters) (val any, ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			val = nil
			ok = false
			err = fmt.Errorf("%w: %v", ErrParameterPanic, rec)
		}
	}()

	for _, src := range sources {
		if src == nil {
			continue
		}
		v, found, rerr := src.Resolve(name)
		if rerr != nil {
			return nil, false, rerr
		}
		if found {
			return v, true, nil
		}
	}
	return nil, false, nil
}
