package di

import (
	"fmt"
	"reflect"
	"slices"
)

// ServiceFunc builds one service of a generated container.
type ServiceFunc func(r Resolver) (any, error)

// CompiledService is one row of a generated dispatch table.
type CompiledService struct {
	Shared bool
	Public bool
	Build  ServiceFunc
}

// CompiledSpec is the artifact emitted by Dump. It loads without a Builder,
// so production containers never run autowiring.
type CompiledSpec struct {
	Services   map[string]CompiledService
	Aliases    map[string]string
	Parameters map[string]any
	Preload    []string
	Synthetic  []string
	Hash       string
}

// NewCompiled returns a container running a generated service table.
func NewCompiled(spec CompiledSpec, opts ...Option) *Container {
	c := newContainer(applyOptions(defaultOptions(), opts), true)
	bag := NewParameterBag()
	for k, v := range spec.Parameters {
		bag.Set(k, v)
	}
	c.params = bag
	for a, id := range spec.Aliases {
		c.aliases[a] = id
	}
	c.preload = slices.Clone(spec.Preload)
	for id, s := range spec.Services {
		build := s.Build
		c.entries[id] = &entry{
			id:     id,
			shared: s.Shared,
			public: s.Public,
			kind:   KindFactory,
			build:  func(r *resolution) (any, error) { return build(r) },
		}
	}
	for _, id := range spec.Synthetic {
		sid := id
		c.entries[id] = &entry{
			id:     id,
			shared: true,
			public: true,
			kind:   KindSynthetic,
			build: func(*resolution) (any, error) {
				return nil, fmt.Errorf("%w: %q", ErrSyntheticNotSet, sid)
			},
		}
	}
	if spec.Hash != "" {
		c.log = c.log.With().Str("hash", spec.Hash).Logger()
	}
	return c
}

// Get returns the public service id as T.
func Get[T any](c *Container, id string) (T, error) {
	var zero T
	v, err := c.Get(id)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{Want: TypeOf[T](), Got: fmt.Sprintf("%T", v)}
	}
	return t, nil
}

// MustGet is like Get but panics on error.
func MustGet[T any](c *Container, id string) T {
	t, err := Get[T](c, id)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the service bound to the type name of T.
func Resolve[T any](c *Container) (T, error) {
	return Get[T](c, TypeOf[T]())
}

// As converts a resolved value to T. Nil becomes the zero value. It is used
// by generated accessors and panics on a type mismatch.
func As[T any](v any) T {
	var zero T
	if v == nil {
		return zero
	}
	if t, ok := v.(T); ok {
		return t
	}
	rv, err := coerce(v, reflect.TypeFor[T]())
	if err != nil {
		panic(err)
	}
	return rv.Interface().(T)
}

// Slice converts resolved values to []T.
func Slice[T any](vs ...any) []T {
	out := make([]T, len(vs))
	for i, v := range vs {
		out[i] = As[T](v)
	}
	return out
}
