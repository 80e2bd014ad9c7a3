package manifest

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sghaida/dic/di"
)

// innerRef names the decorated service inside a decorator's arguments.
const innerRef = "@.inner"

// ServiceError reports a service that could not be loaded.
type ServiceError struct {
	ID  string
	Err error
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("manifest: service %q: %v", e.ID, e.Err)
}

func (e ServiceError) Unwrap() error { return e.Err }

// Loader applies manifests to builders. Class and factory names are looked
// up in its constructor table.
type Loader struct {
	ctors   map[string]any
	env     *Env
	lenient bool
	log     zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithConstructor registers fn under name for "class" and "factory" keys.
func WithConstructor(name string, fn any) Option {
	return func(l *Loader) { l.ctors[name] = fn }
}

// WithConstructors registers every entry of fns.
func WithConstructors(fns map[string]any) Option {
	return func(l *Loader) {
		for k, v := range fns {
			l.ctors[k] = v
		}
	}
}

// WithEnv sets the %env()% lookup. The default reads the process
// environment only.
func WithEnv(e *Env) Option {
	return func(l *Loader) { l.env = e }
}

// Lenient keeps unknown classes and factories as bare class names. The
// resulting builder supports Analyze but not Compile.
func Lenient() Option {
	return func(l *Loader) { l.lenient = true }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// NewLoader returns a loader configured by opts.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{ctors: map[string]any{}, env: &Env{files: map[string]string{}}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Provider returns f as a di.Provider, for use in a di.ProviderRegistry.
func (l *Loader) Provider(f *File) di.Provider {
	return manifestProvider{l: l, f: f}
}

type manifestProvider struct {
	l *Loader
	f *File
}

func (p manifestProvider) Build(b *di.Builder) error { return p.l.Apply(b, p.f) }

// Apply registers the parameters and services of f on b. Definitions are
// registered first so that arguments may use tags of later services;
// decorators are applied last.
func (l *Loader) Apply(b *di.Builder, f *File) error {
	res := newResolver(f.Parameters, l.env)
	for _, name := range slices.Sorted(maps.Keys(f.Parameters)) {
		v, err := res.param(name)
		if err != nil {
			return err
		}
		b.SetParameter(name, v)
	}

	defs := make(map[string]*di.Definition, len(f.Services))
	var decorators []*Service
	for _, svc := range f.Services {
		if svc.Decorates != "" {
			decorators = append(decorators, svc)
		}
		err := guard(func() error {
			def, err := l.register(b, svc)
			if def != nil {
				defs[svc.ID] = def
			}
			return err
		})
		if err != nil {
			return ServiceError{ID: svc.ID, Err: err}
		}
	}

	for _, svc := range f.Services {
		def, ok := defs[svc.ID]
		if !ok {
			continue
		}
		err := guard(func() error { return l.configure(b, res, svc, def) })
		if err != nil {
			return ServiceError{ID: svc.ID, Err: err}
		}
	}

	for _, svc := range decorators {
		err := guard(func() error {
			if _, err := b.Decorate(svc.Decorates, defs[svc.ID]); err != nil {
				return err
			}
			b.Alias(svc.ID, svc.Decorates)
			return nil
		})
		if err != nil {
			return ServiceError{ID: svc.ID, Err: err}
		}
	}
	l.log.Debug().
		Int("services", len(f.Services)).
		Int("parameters", len(f.Parameters)).
		Msg("manifest applied")
	return nil
}

// register creates the definition of svc. Aliases are registered directly
// and return a nil definition; decorators are returned unregistered.
func (l *Loader) register(b *di.Builder, svc *Service) (*di.Definition, error) {
	if svc.Alias != "" {
		b.Alias(svc.ID, svc.Alias)
		return nil, nil
	}
	def, err := l.definition(b, svc)
	if err != nil {
		return nil, err
	}
	if svc.Public != nil {
		def.SetPublic(*svc.Public)
	}
	if svc.Shared != nil {
		def.SetShared(*svc.Shared)
	}
	if svc.Autowire != nil {
		def.SetAutowired(*svc.Autowire)
	}
	if svc.Default {
		def.SetDefault(true)
	}
	if len(svc.Tags) > 0 {
		def.AddTag(svc.Tags...)
	}
	if svc.Decorates != "" {
		return def, nil
	}
	return b.Register(svc.ID, def), nil
}

func (l *Loader) definition(b *di.Builder, svc *Service) (*di.Definition, error) {
	switch {
	case svc.Synthetic:
		return di.NewSynthetic(svc.Class), nil
	case svc.Factory != "":
		if svc.Class != "" {
			return nil, fmt.Errorf("class and factory are mutually exclusive")
		}
		return l.factory(svc.Factory)
	}
	class := svc.Class
	if class == "" {
		class = svc.ID
	}
	if fn, ok := l.ctors[class]; ok {
		return di.NewObject(fn), nil
	}
	if _, ok := b.LookupClass(class); ok || l.lenient {
		return di.NewObject(class), nil
	}
	return nil, fmt.Errorf("unknown class %q", class)
}

// factory parses "name" (a registered function) or "@service::Method".
func (l *Loader) factory(spec string) (*di.Definition, error) {
	if strings.HasPrefix(spec, "@") {
		id, method, ok := strings.Cut(spec[1:], "::")
		if !ok || id == "" || method == "" {
			return nil, fmt.Errorf("factory %q must look like \"@service::Method\"", spec)
		}
		return di.NewFactory(di.Ref(id), method), nil
	}
	if fn, ok := l.ctors[spec]; ok {
		return di.NewFactory(fn), nil
	}
	if l.lenient {
		return di.NewObject(spec), nil
	}
	return nil, fmt.Errorf("unknown factory %q", spec)
}

func (l *Loader) configure(b *di.Builder, res *resolver, svc *Service, def *di.Definition) error {
	for i, raw := range svc.Arguments {
		arg, err := l.argument(b, res, svc, raw)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		def.SetArgument(i, arg)
	}
	for _, call := range svc.Calls {
		args := make([]di.Argument, len(call.Arguments))
		for i, raw := range call.Arguments {
			arg, err := l.argument(b, res, svc, raw)
			if err != nil {
				return fmt.Errorf("call %s argument %d: %w", call.Method, i, err)
			}
			args[i] = arg
		}
		def.AddMethodCall(call.Method, args...)
	}
	return nil
}

// argument converts a YAML value. Mappings with a single "lazy" or
// "tagged" key build a lazy reference or the list of tagged services.
func (l *Loader) argument(b *di.Builder, res *resolver, svc *Service, raw any) (di.Argument, error) {
	switch v := raw.(type) {
	case string:
		return l.stringArgument(res, svc, v)
	case []any:
		items := make([]di.Argument, len(v))
		for i, it := range v {
			a, err := l.argument(b, res, svc, it)
			if err != nil {
				return nil, err
			}
			items[i] = a
		}
		return di.Sequence{Items: items}, nil
	case map[string]any:
		if len(v) == 1 {
			if id, ok := v["lazy"].(string); ok {
				return di.Wrap(strings.TrimPrefix(id, "@"))
			}
			if tag, ok := v["tagged"].(string); ok {
				ids := b.Tagged(tag)
				items := make([]di.Argument, len(ids))
				for i, id := range ids {
					items[i] = di.Ref(id)
				}
				return di.Sequence{Items: items}, nil
			}
		}
		val, err := res.value(v)
		if err != nil {
			return nil, err
		}
		return di.Lit(val), nil
	default:
		return di.Lit(v), nil
	}
}

func (l *Loader) stringArgument(res *resolver, svc *Service, s string) (di.Argument, error) {
	switch {
	case s == innerRef && svc.Decorates != "":
		return di.Ref(di.InnerID(svc.Decorates)), nil
	case strings.HasPrefix(s, "@@"):
		return di.Lit(s[1:]), nil
	case strings.HasPrefix(s, "@?"):
		return di.RefOr(s[2:], di.NullOnInvalid), nil
	case strings.HasPrefix(s, "@!"):
		return di.RefOr(s[2:], di.IgnoreOnUninitialized), nil
	case strings.HasPrefix(s, "@"):
		return di.Ref(s[1:]), nil
	}
	if name, ok := wholePlaceholder(s); ok {
		if _, isEnv := envName(name); !isEnv {
			return di.Param(name), nil
		}
	}
	v, err := res.expand(s)
	if err != nil {
		return nil, err
	}
	return di.Lit(v), nil
}

// guard turns builder panics (frozen or invalid arguments) into errors.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn()
}
