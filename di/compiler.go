package di

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// CompileOptions tunes the compiler. The zero value is not valid; use
// DefaultCompileOptions.
type CompileOptions struct {
	// Inline builds private non-shared services referenced exactly once at
	// their call site instead of giving them an accessor.
	Inline bool

	// Prune drops private services nothing references.
	Prune bool

	// PreloadTag marks services for Container.Boot.
	PreloadTag string `validate:"required"`
}

// DefaultCompileOptions returns the options used by Compile without
// arguments.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{Inline: true, Prune: true, PreloadTag: TagPreload}
}

// CompileOption changes CompileOptions.
type CompileOption func(*CompileOptions)

// WithoutInlining keeps one accessor per service.
func WithoutInlining() CompileOption { return func(o *CompileOptions) { o.Inline = false } }

// WithoutPruning keeps unreferenced private services.
func WithoutPruning() CompileOption { return func(o *CompileOptions) { o.Prune = false } }

// WithPreloadTag changes the tag marking preload services.
func WithPreloadTag(tag string) CompileOption {
	return func(o *CompileOptions) { o.PreloadTag = tag }
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Plan is the frozen, fully resolved graph a compiled container runs.
type Plan struct {
	services  map[string]*planned
	ids       []string
	aliases   map[string]string
	params    map[string]any
	preload   []string
	levels    [][]string
	synthetic []string
	hash      string
}

type planned struct {
	def    *Definition
	rc     *recipe
	inline bool
	refs   int
}

// IDs returns the service ids of the plan, sorted. Inlined services are
// included.
func (p *Plan) IDs() []string { return slices.Clone(p.ids) }

// Definition returns the resolved definition of id.
func (p *Plan) Definition(id string) (*Definition, bool) {
	s, ok := p.services[id]
	if !ok {
		return nil, false
	}
	return s.def, true
}

// IsInlined reports whether id is built at its single call site.
func (p *Plan) IsInlined(id string) bool {
	s, ok := p.services[id]
	return ok && s.inline
}

// Aliases returns every alias mapped to its final id.
func (p *Plan) Aliases() map[string]string { return maps.Clone(p.aliases) }

// Parameters returns the parameter table.
func (p *Plan) Parameters() map[string]any { return maps.Clone(p.params) }

// Preload returns the preload services in construction order.
func (p *Plan) Preload() []string { return slices.Clone(p.preload) }

// Levels groups the services by dependency depth, dependencies first.
func (p *Plan) Levels() [][]string {
	out := make([][]string, len(p.levels))
	for i, l := range p.levels {
		out[i] = slices.Clone(l)
	}
	return out
}

// Hash returns the sha256 of the plan's canonical rendering.
func (p *Plan) Hash() string { return p.hash }

// Compile freezes the builder and returns a container running the plan.
func (b *Builder) Compile(opts ...CompileOption) (*Container, error) {
	p, err := b.Plan(opts...)
	if err != nil {
		return nil, err
	}
	return b.containerFor(p), nil
}

// Plan freezes the builder and returns the compiled plan. Subsequent calls
// return the same plan.
func (b *Builder) Plan(opts ...CompileOption) (*Plan, error) {
	if b.plan != nil {
		return b.plan, nil
	}
	o, err := compileOptions(opts)
	if err != nil {
		return nil, err
	}
	// A failed compile must leave the builder as it was, so work on a copy
	// and install it only on success.
	g := b.g.clone()
	p, err := b.compile(g, o, false)
	if err != nil {
		return nil, err
	}
	for _, d := range b.g.defs {
		d.frozen = true
	}
	for _, d := range g.defs {
		d.frozen = true
	}
	b.g = g
	b.frozen = true
	b.plan = p
	b.log.Info().
		Int("services", len(p.ids)).
		Int("aliases", len(p.aliases)).
		Int("preload", len(p.preload)).
		Str("hash", p.hash).
		Msg("container compiled")
	return p, nil
}

// Analyze checks a copy of the graph without reflection: undefined
// references, alias chains and cycles. It never freezes the builder. The
// returned plan is usable for inspection even when err lists diagnostics.
func (b *Builder) Analyze(opts ...CompileOption) (*Plan, error) {
	o, err := compileOptions(opts)
	if err != nil {
		return nil, err
	}
	return b.compile(b.g.clone(), o, true)
}

func compileOptions(opts []CompileOption) (CompileOptions, error) {
	o := DefaultCompileOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if err := validate.Struct(o); err != nil {
		return o, InvalidArgumentError{What: "compile options", Expected: err.Error()}
	}
	return o, nil
}

func (b *Builder) compile(g *graph, o CompileOptions, analyze bool) (*Plan, error) {
	var errs *multierror.Error
	recipes := map[string]*recipe{}

	// Autowire in registration order. Synthesized definitions are appended
	// to the order and completed as the loop reaches them.
	if !analyze {
		aw := newAutowirer(g, b.log)
		for i := 0; i < len(g.order); i++ {
			id := g.order[i]
			d := g.defs[id]
			rc, err := aw.complete(id, d)
			if err != nil {
				errs = multierror.Append(errs, err)
				g.defs[id] = undefinedFrom(id, d, err.Error())
				continue
			}
			recipes[id] = rc
		}
	}

	// Strict references to ids that do not exist become undefined.
	for _, id := range slices.Sorted(maps.Keys(g.defs)) {
		g.defs[id].eachReference(func(ref Reference, lazy bool) {
			if ref.Behavior != Strict || g.has(ref.ID) {
				return
			}
			errs = multierror.Append(errs, NotFoundError{ID: ref.ID, Reason: "referenced by " + strconv.Quote(id)})
			g.set(ref.ID, undefinedFrom(ref.ID, NewUndefined(""), "referenced by "+strconv.Quote(id)+" but not defined"))
			g.defs[ref.ID].public = false
		})
	}

	aliases := map[string]string{}
	for _, a := range slices.Sorted(maps.Keys(g.aliases)) {
		cid, err := g.canonical(a)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, ok := g.defs[cid]; !ok {
			reason := "target of alias " + strconv.Quote(a)
			errs = multierror.Append(errs, NotFoundError{ID: cid, Reason: reason})
			g.set(cid, undefinedFrom(cid, NewUndefined(""), reason+" but not defined"))
			g.defs[cid].public = false
		}
		aliases[a] = cid
	}
	services := map[string]*Definition{}
	for id, d := range g.defs {
		if d.kind != KindAlias {
			services[id] = d
			continue
		}
		cid, err := g.canonical(id)
		if err != nil {
			if !slices.ContainsFunc(errs.WrappedErrors(), func(e error) bool { return e.Error() == err.Error() }) {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		aliases[id] = cid
	}
	for _, d := range services {
		d.rewriteReferences(func(id string) string {
			if cid, ok := aliases[id]; ok {
				return cid
			}
			return id
		})
	}

	if err := detectCycles(services); err != nil {
		errs = multierror.Append(errs, err)
	}

	p := &Plan{
		services: map[string]*planned{},
		aliases:  aliases,
		params:   g.params.All(),
	}
	for id, d := range services {
		p.services[id] = &planned{def: d, rc: recipes[id]}
		if d.kind == KindSynthetic {
			p.synthetic = append(p.synthetic, id)
		}
	}
	sort.Strings(p.synthetic)

	if errs != nil {
		errs.ErrorFormat = formatDiagnostics
		if analyze {
			b.finishPlan(p, o)
		}
		return p, errs
	}
	b.finishPlan(p, o)
	return p, nil
}

// finishPlan decides inlining, pruning and preload order, then hashes.
func (b *Builder) finishPlan(p *Plan, o CompileOptions) {
	lazy := map[string]bool{}
	for _, s := range p.services {
		s.def.eachReference(func(ref Reference, isLazy bool) {
			if t, ok := p.services[ref.ID]; ok {
				t.refs++
				if isLazy {
					lazy[ref.ID] = true
				}
			}
		})
	}

	preload := map[string]bool{}
	for id, s := range p.services {
		d := s.def
		if d.HasTag(o.PreloadTag) {
			if d.shared {
				preload[id] = true
			} else {
				b.log.Warn().Str("id", id).Msg("preload tag ignored on non-shared service")
			}
		}
	}

	if o.Prune {
		for {
			var pruned []string
			for id, s := range p.services {
				if !s.def.public && s.refs == 0 && !preload[id] && s.def.kind != KindSynthetic && !aliasTarget(p.aliases, id) {
					pruned = append(pruned, id)
				}
			}
			if len(pruned) == 0 {
				break
			}
			for _, id := range pruned {
				p.services[id].def.eachReference(func(ref Reference, _ bool) {
					if t, ok := p.services[ref.ID]; ok {
						t.refs--
					}
				})
				delete(p.services, id)
				b.log.Debug().Str("id", id).Msg("pruned unused private service")
			}
		}
	}

	for id, s := range p.services {
		d := s.def
		if o.Inline && !d.shared && !d.public && s.refs == 1 && !lazy[id] && !preload[id] &&
			!aliasTarget(p.aliases, id) && (d.kind == KindObject || d.kind == KindFactory) {
			s.inline = true
			b.log.Debug().Str("id", id).Msg("inlined service")
		}
	}

	defs := make(map[string]*Definition, len(p.services))
	for id, s := range p.services {
		defs[id] = s.def
	}
	p.ids = slices.Sorted(maps.Keys(p.services))
	p.levels = dependencyLevels(defs)
	for _, level := range p.levels {
		for _, id := range level {
			if preload[id] {
				p.preload = append(p.preload, id)
			}
		}
	}
	p.hash = p.canonicalHash()
}

func aliasTarget(aliases map[string]string, id string) bool {
	for _, t := range aliases {
		if t == id {
			return true
		}
	}
	return false
}

func undefinedFrom(id string, d *Definition, reason string) *Definition {
	u := NewUndefined(reason)
	u.id = id
	u.public = d.public
	u.shared = d.shared
	u.tags = slices.Clone(d.tags)
	return u
}

func formatDiagnostics(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = "  * " + err.Error()
	}
	return strconv.Itoa(len(errs)) + " container diagnostic(s):\n" + strings.Join(lines, "\n")
}

// canonicalHash renders the plan into a stable text and hashes it.
func (p *Plan) canonicalHash() string {
	var sb strings.Builder
	for _, id := range p.ids {
		s := p.services[id]
		d := s.def
		fmt.Fprintf(&sb, "service %q kind=%s class=%q public=%t shared=%t inline=%t\n",
			id, d.kind, d.class, d.public, d.shared, s.inline)
		if d.factoryRef != nil {
			fmt.Fprintf(&sb, "  factory @%s::%s\n", d.factoryRef.ID, d.method)
		} else if d.factory != nil {
			fmt.Fprintf(&sb, "  factory %s\n", funcSymbol(reflect.ValueOf(d.factory)))
		}
		for i, a := range d.args {
			fmt.Fprintf(&sb, "  arg %d %s\n", i, describeArgument(a))
		}
		for _, c := range d.calls {
			fmt.Fprintf(&sb, "  call %s", c.Method)
			for _, a := range c.Args {
				sb.WriteString(" " + describeArgument(a))
			}
			sb.WriteString("\n")
		}
		if len(d.tags) > 0 {
			fmt.Fprintf(&sb, "  tags %s\n", strings.Join(d.tags, ","))
		}
	}
	for _, a := range slices.Sorted(maps.Keys(p.aliases)) {
		fmt.Fprintf(&sb, "alias %q -> %q\n", a, p.aliases[a])
	}
	for _, n := range slices.Sorted(maps.Keys(p.params)) {
		fmt.Fprintf(&sb, "param %q = %s\n", n, canonicalValue(p.params[n]))
	}
	for _, id := range p.preload {
		fmt.Fprintf(&sb, "preload %q\n", id)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// describeArgument renders an argument for hashing and diagnostics.
func describeArgument(a Argument) string {
	switch x := a.(type) {
	case nil:
		return "<unset>"
	case Literal:
		return "lit(" + canonicalValue(x.Value) + ")"
	case Reference:
		return "@" + x.ID + "/" + x.Behavior.String()
	case Parameter:
		if x.HasDefault {
			return "%" + x.Name + "%|" + canonicalValue(x.Default)
		}
		return "%" + x.Name + "%"
	case Sequence:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			parts[i] = describeArgument(it)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case *ClosureWrapped:
		return "lazy(@" + x.Reference().ID + ")"
	case *Condition:
		parts := make([]string, len(x.candidates))
		for i, it := range x.candidates {
			parts[i] = describeArgument(it)
		}
		return "cond(" + strings.Join(parts, ",") + ")"
	default:
		return fmt.Sprintf("%T", a)
	}
}

// containerFor builds a container running p in memory.
func (b *Builder) containerFor(p *Plan) *Container {
	c := newContainer(b.opts, true)
	bag := NewParameterBag()
	for k, v := range p.params {
		bag.Set(k, v)
	}
	c.params = bag
	c.aliases = p.Aliases()
	c.preload = p.Preload()
	for _, id := range p.ids {
		s := p.services[id]
		rc := s.rc
		if rc == nil {
			rc = &recipe{def: s.def}
		}
		if s.inline {
			c.inlined[id] = rc
			continue
		}
		cid := id
		c.entries[id] = &entry{
			id:     id,
			shared: s.def.shared,
			public: s.def.public,
			kind:   s.def.kind,
			build:  func(r *resolution) (any, error) { return c.instantiate(cid, rc, r) },
		}
	}
	return c
}

// canonicalValue renders v without memory addresses: pointers are followed,
// map keys sorted and functions named by symbol, so equal values hash equally
// across processes.
func canonicalValue(v any) string {
	var sb strings.Builder
	writeCanonical(&sb, reflect.ValueOf(v), map[uintptr]bool{})
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v reflect.Value, seen map[uintptr]bool) {
	if !v.IsValid() {
		sb.WriteString("nil")
		return
	}
	t := v.Type()
	switch v.Kind() {
	case reflect.Bool:
		sb.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(t.String() + "(" + strconv.FormatInt(v.Int(), 10) + ")")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		sb.WriteString(t.String() + "(" + strconv.FormatUint(v.Uint(), 10) + ")")
	case reflect.Float32, reflect.Float64:
		sb.WriteString(t.String() + "(" + strconv.FormatFloat(v.Float(), 'g', -1, 64) + ")")
	case reflect.Complex64, reflect.Complex128:
		sb.WriteString(t.String() + strconv.FormatComplex(v.Complex(), 'g', -1, 128))
	case reflect.String:
		if t != reflect.TypeFor[string]() {
			sb.WriteString(t.String())
		}
		sb.WriteString(strconv.Quote(v.String()))
	case reflect.Pointer:
		if v.IsNil() {
			sb.WriteString("(" + t.String() + ")(nil)")
			return
		}
		if seen[v.Pointer()] {
			sb.WriteString("<cycle " + t.String() + ">")
			return
		}
		seen[v.Pointer()] = true
		sb.WriteString("&")
		writeCanonical(sb, v.Elem(), seen)
		delete(seen, v.Pointer())
	case reflect.Interface:
		writeCanonical(sb, v.Elem(), seen)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			sb.WriteString(t.String() + "(nil)")
			return
		}
		sb.WriteString(t.String() + "{")
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeCanonical(sb, v.Index(i), seen)
		}
		sb.WriteString("}")
	case reflect.Map:
		keys := make([]string, 0, v.Len())
		vals := map[string]reflect.Value{}
		for it := v.MapRange(); it.Next(); {
			var kb strings.Builder
			writeCanonical(&kb, it.Key(), seen)
			keys = append(keys, kb.String())
			vals[kb.String()] = it.Value()
		}
		sort.Strings(keys)
		sb.WriteString(t.String() + "{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k + ": ")
			writeCanonical(sb, vals[k], seen)
		}
		sb.WriteString("}")
	case reflect.Struct:
		sb.WriteString(t.String() + "{")
		for i := 0; i < v.NumField(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.Field(i).Name + ": ")
			writeCanonical(sb, v.Field(i), seen)
		}
		sb.WriteString("}")
	case reflect.Func:
		if v.IsNil() {
			sb.WriteString("(" + t.String() + ")(nil)")
			return
		}
		sb.WriteString("func " + funcSymbol(v))
	default:
		sb.WriteString("<" + t.String() + ">")
	}
}
