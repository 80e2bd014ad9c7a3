package di

import (
	"fmt"
	"reflect"
	"sort"
)

// Provider contributes definitions to a Builder.
type Provider interface {
	Build(b *Builder) error
}

// AliasProvider declares aliases. They are applied after every provider has
// built, so an alias may name a service from another provider.
type AliasProvider interface {
	Aliases() map[string]string
}

// Extender adjusts definitions registered by other providers. Extenders run
// last, in registration order.
type Extender interface {
	Extend(b *Builder) error
}

// BaseProvider can be embedded by providers with nothing to alias or extend.
type BaseProvider struct{}

// Aliases implements AliasProvider.
func (BaseProvider) Aliases() map[string]string { return nil }

// Extend implements Extender.
func (BaseProvider) Extend(*Builder) error { return nil }

// ProviderRegistry applies providers to a builder in three phases: build,
// alias and extend.
type ProviderRegistry struct {
	providers []Provider
	names     []string
}

// NewProviderRegistry returns a registry holding providers.
func NewProviderRegistry(providers ...Provider) *ProviderRegistry {
	r := &ProviderRegistry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register appends p. A nil provider panics.
func (r *ProviderRegistry) Register(p Provider) *ProviderRegistry {
	if p == nil {
		panic(InvalidArgumentError{What: "provider", Expected: "must not be nil"})
	}
	r.providers = append(r.providers, p)
	r.names = append(r.names, providerName(p))
	return r
}

// Len returns the number of registered providers.
func (r *ProviderRegistry) Len() int { return len(r.providers) }

// Apply runs every provider against b. The first failure stops the run and
// is returned as a ProviderError.
func (r *ProviderRegistry) Apply(b *Builder) error {
	for i, p := range r.providers {
		if err := p.Build(b); err != nil {
			return ProviderError{Provider: r.names[i], Phase: "build", Err: err}
		}
		b.log.Debug().Str("provider", r.names[i]).Msg("provider built")
	}

	for i, p := range r.providers {
		ap, ok := p.(AliasProvider)
		if !ok {
			continue
		}
		aliases := ap.Aliases()
		keys := make([]string, 0, len(aliases))
		for a := range aliases {
			keys = append(keys, a)
		}
		sort.Strings(keys)
		for _, a := range keys {
			if err := safeAlias(b, a, aliases[a]); err != nil {
				return ProviderError{Provider: r.names[i], Phase: "alias", Err: err}
			}
		}
	}

	for i, p := range r.providers {
		if ex, ok := p.(Extender); ok {
			if err := ex.Extend(b); err != nil {
				return ProviderError{Provider: r.names[i], Phase: "extend", Err: err}
			}
		}
	}
	return nil
}

func safeAlias(b *Builder, alias, id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", rec)
		}
	}()
	b.Alias(alias, id)
	return nil
}

func providerName(p Provider) string {
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return TypeName(t)
}
