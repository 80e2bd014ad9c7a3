package di

import (
	"maps"

	"github.com/rs/zerolog"
)

// TagPreload marks shared services instantiated by Container.Boot.
const TagPreload = "container.preload"

// InnerID is the id a decorated definition is moved to by Builder.Decorate.
func InnerID(id string) string { return id + ".inner" }

// graph is the id-indexed definition arena.
type graph struct {
	defs       map[string]*Definition
	order      []string
	aliases    map[string]string
	params     *ParameterBag
	contextual map[string]map[string]Argument
	classes    *catalog
}

func newGraph() *graph {
	return &graph{
		defs:       map[string]*Definition{},
		aliases:    map[string]string{},
		params:     NewParameterBag(),
		contextual: map[string]map[string]Argument{},
		classes:    newCatalog(),
	}
}

// clone copies the graph so analysis can fill gaps without touching the
// builder.
func (g *graph) clone() *graph {
	c := &graph{
		defs:       make(map[string]*Definition, len(g.defs)),
		order:      append([]string(nil), g.order...),
		aliases:    maps.Clone(g.aliases),
		params:     g.params.clone(),
		contextual: make(map[string]map[string]Argument, len(g.contextual)),
		classes:    &catalog{classes: maps.Clone(g.classes.classes)},
	}
	for id, d := range g.defs {
		cd := d.Clone()
		cd.id = id
		c.defs[id] = cd
	}
	for k, v := range g.contextual {
		c.contextual[k] = maps.Clone(v)
	}
	return c
}

func (g *graph) set(id string, d *Definition) {
	if _, ok := g.defs[id]; !ok {
		g.order = append(g.order, id)
	}
	delete(g.aliases, id)
	d.id = id
	g.defs[id] = d
}

func (g *graph) has(id string) bool {
	if _, ok := g.defs[id]; ok {
		return true
	}
	_, ok := g.aliases[id]
	return ok
}

// canonical follows alias chains to the final id.
func (g *graph) canonical(id string) (string, error) {
	var stack buildStack
	for {
		next, ok := g.aliases[id]
		if !ok {
			if d, isDef := g.defs[id]; isDef && d.kind == KindAlias {
				next, ok = d.target, true
			}
		}
		if !ok {
			return id, nil
		}
		if err := stack.push(id); err != nil {
			return "", err
		}
		id = next
	}
}

func (g *graph) find(id string) (*Definition, bool) {
	cid, err := g.canonical(id)
	if err != nil {
		return nil, false
	}
	d, ok := g.defs[cid]
	return d, ok
}

// candidates returns the ids able to satisfy abstract. A definition or
// alias registered under the type name itself is an explicit binding and
// wins outright; otherwise definitions tagged with the type or producing
// exactly that class compete.
func (g *graph) candidates(abstract string) []string {
	if d, ok := g.defs[abstract]; ok && d.kind != KindUndefined {
		return []string{abstract}
	}
	if _, ok := g.aliases[abstract]; ok {
		return []string{abstract}
	}
	return g.typed(abstract)
}

// typed returns, in registration order, the definitions tagged with
// abstract or producing that class.
func (g *graph) typed(abstract string) []string {
	var ids []string
	for _, id := range g.order {
		d := g.defs[id]
		if d == nil || d.kind == KindAlias || d.kind == KindUndefined {
			continue
		}
		if d.HasTag(abstract) || d.class == abstract {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *graph) tagged(tag string) []string {
	var ids []string
	for _, id := range g.order {
		if d := g.defs[id]; d != nil && d.HasTag(tag) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Builder assembles the definition graph. It is single-threaded and becomes
// frozen once compiled.
type Builder struct {
	g      *graph
	opts   options
	log    zerolog.Logger
	frozen bool
	plan   *Plan
}

// NewBuilder returns an empty builder.
func NewBuilder(opts ...Option) *Builder {
	o := applyOptions(defaultOptions(), opts)
	return &Builder{
		g:    newGraph(),
		opts: o,
		log:  o.log.With().Str("component", "di.builder").Logger(),
	}
}

func (b *Builder) mutable(op, id string) {
	if b.frozen {
		panic(FrozenError{ID: id, Op: op})
	}
}

// IsFrozen reports whether the builder was compiled.
func (b *Builder) IsFrozen() bool { return b.frozen }

// Register stores def under id, replacing any definition or alias with the
// same id. A constructor given to NewObject is added to the class catalog.
func (b *Builder) Register(id string, def *Definition) *Definition {
	b.mutable("register", id)
	if id == "" {
		panic(InvalidArgumentError{What: "service id", Expected: "must not be empty"})
	}
	if def == nil {
		panic(InvalidArgumentError{What: "definition for " + id, Expected: "must not be nil"})
	}
	if def.ctor != nil {
		if _, err := b.g.classes.register(def.ctor); err != nil {
			panic(err)
		}
	}
	if _, exists := b.g.defs[id]; exists {
		b.log.Debug().Str("id", id).Msg("definition replaced")
	}
	b.g.set(id, def)
	return def
}

// Autowire registers an object definition built by ctor. An empty id
// registers the service under its class name.
func (b *Builder) Autowire(id string, ctor any, opts ...ClassOption) *Definition {
	b.mutable("autowire", id)
	cl, err := b.g.classes.register(ctor, opts...)
	if err != nil {
		panic(err)
	}
	if id == "" {
		id = cl.name
	}
	return b.Register(id, NewObject(cl.name))
}

// Class adds a constructor function, or a reflect.Type of a concrete struct,
// to the class catalog and returns the class name.
func (b *Builder) Class(ctorOrType any, opts ...ClassOption) string {
	b.mutable("register class", "")
	cl, err := b.g.classes.register(ctorOrType, opts...)
	if err != nil {
		panic(err)
	}
	return cl.name
}

// LookupClass returns a registered class by name.
func (b *Builder) LookupClass(name string) (*Class, bool) {
	return b.g.classes.lookup(name)
}

// Has reports whether id names a definition or an alias.
func (b *Builder) Has(id string) bool { return b.g.has(id) }

// Definition returns the definition for id, following aliases.
func (b *Builder) Definition(id string) (*Definition, bool) { return b.g.find(id) }

// IDs returns the definition ids in registration order.
func (b *Builder) IDs() []string { return append([]string(nil), b.g.order...) }

// Aliases returns a copy of the alias table.
func (b *Builder) Aliases() map[string]string { return maps.Clone(b.g.aliases) }

// Extend lets fn mutate an already registered definition.
func (b *Builder) Extend(id string, fn func(def *Definition) error) error {
	b.mutable("extend", id)
	d, ok := b.g.find(id)
	if !ok {
		return NotFoundError{ID: id, Alternatives: alternatives(id, b.g.order)}
	}
	return fn(d)
}

// Decorate moves the definition of id to InnerID(id) as a private service
// and registers def under id. The decorator usually references the inner
// service explicitly.
func (b *Builder) Decorate(id string, def *Definition) (*Definition, error) {
	b.mutable("decorate", id)
	cid, err := b.g.canonical(id)
	if err != nil {
		return nil, err
	}
	inner, ok := b.g.defs[cid]
	if !ok {
		return nil, NotFoundError{ID: id, Alternatives: alternatives(id, b.g.order)}
	}
	inner.public = false
	b.g.set(InnerID(cid), inner)
	return b.Register(cid, def), nil
}

// Alias makes alias resolve to id.
func (b *Builder) Alias(alias, id string) *Builder {
	b.mutable("alias", alias)
	if alias == "" || id == "" {
		panic(InvalidArgumentError{What: "alias", Expected: "alias and target must not be empty"})
	}
	if alias == id {
		panic(InvalidArgumentError{What: "alias " + alias, Expected: "must not point to itself"})
	}
	if _, ok := b.g.defs[alias]; ok {
		delete(b.g.defs, alias)
		b.g.order = removeString(b.g.order, alias)
	}
	b.g.aliases[alias] = id
	return b
}

// SetParameter stores a parameter value.
func (b *Builder) SetParameter(name string, v any) *Builder {
	b.mutable("set parameter", name)
	b.g.params.Set(name, v)
	return b
}

// Parameters returns the parameter table.
func (b *Builder) Parameters() *ParameterBag { return b.g.params }

// Tagged returns the ids carrying tag in registration order.
func (b *Builder) Tagged(tag string) []string { return b.g.tagged(tag) }

// Container returns an uncompiled container that autowires lazily on first
// access. The builder must not be mutated while the container is in use.
func (b *Builder) Container(opts ...Option) *Container {
	o := applyOptions(b.opts, opts)
	c := newContainer(o, false)
	c.graph = b.g
	c.params = b.g.params
	return c
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, x := range ss {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
