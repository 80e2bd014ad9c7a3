package di

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// entry is one resolvable service of a container.
type entry struct {
	id     string
	shared bool
	public bool
	kind   Kind
	build  func(r *resolution) (any, error)

	// owner is the resolution building the shared instance. Guarded by
	// Container.buildMu.
	owner *resolution
}

// Container answers Get, Has and Set at request time.
//
// It either runs a compiled service table (Builder.Compile, NewCompiled) or
// interprets the builder's definitions, autowiring each service on first
// access (Builder.Container). Concurrent Get calls are safe; shared
// instances are built at most once. Synthetic values set with Set belong to
// this container only, so per-request values go into a NewScope.
type Container struct {
	id       string
	compiled bool
	log      zerolog.Logger
	observer Observer

	aliases map[string]string
	params  Parameters
	extra   Parameters
	preload []string
	inlined map[string]*recipe

	// graph is set in interpreter mode.
	graph     *graph
	prepareMu *sync.Mutex

	mu        sync.RWMutex
	entries   map[string]*entry
	services  map[string]any
	built     []string
	synthetic map[string]any
	closed    bool

	buildMu   sync.Mutex
	buildCond *sync.Cond
}

func newContainer(o options, compiled bool) *Container {
	c := &Container{
		id:        uuid.NewString(),
		compiled:  compiled,
		observer:  o.observer,
		extra:     o.params,
		aliases:   map[string]string{},
		inlined:   map[string]*recipe{},
		prepareMu: &sync.Mutex{},
		entries:   map[string]*entry{},
		services:  map[string]any{},
		synthetic: map[string]any{},
	}
	c.buildCond = sync.NewCond(&c.buildMu)
	c.log = o.log.With().Str("component", "di.container").Str("container", c.id).Logger()
	return c
}

// ID returns a random identifier of this container instance.
func (c *Container) ID() string { return c.id }

// IsCompiled reports whether the container runs a compiled service table.
func (c *Container) IsCompiled() bool { return c.compiled }

// Get returns the public service id.
func (c *Container) Get(id string) (any, error) {
	return c.resolve(c.newResolution(), id, Strict, true)
}

// Has reports whether Get(id) can succeed: id names a public service or a
// synthetic value that was set.
func (c *Container) Has(id string) bool { return c.has(id, true) }

// Set supplies a synthetic service. It fails for ids defined as anything
// else than synthetic.
func (c *Container) Set(id string, v any) error {
	if id == "" {
		return InvalidArgumentError{What: "service id", Expected: "must not be empty"}
	}
	cid := c.canonical(id)
	e, err := c.entry(cid)
	if err != nil {
		return err
	}
	if e != nil && e.kind != KindSynthetic {
		return InvalidArgumentError{What: "service " + strconv.Quote(id), Expected: "only synthetic or unknown ids can be set"}
	}
	c.mu.Lock()
	c.synthetic[cid] = v
	c.mu.Unlock()
	return nil
}

// Parameter returns a parameter value.
func (c *Container) Parameter(name string) (any, bool) {
	v, ok, err := c.parameter(name)
	if err != nil {
		c.log.Warn().Err(err).Str("parameter", name).Msg("parameter lookup failed")
		return nil, false
	}
	return v, ok
}

// Preload returns the services instantiated by Boot, in order.
func (c *Container) Preload() []string { return slices.Clone(c.preload) }

// Boot instantiates the preload services in order. An uncompiled container
// uses the preload-tagged shared services in registration order.
func (c *Container) Boot() error {
	ids := c.preload
	if c.graph != nil {
		c.prepareMu.Lock()
		ids = nil
		for _, id := range c.graph.tagged(TagPreload) {
			if d := c.graph.defs[id]; d.shared && d.kind != KindUndefined {
				ids = append(ids, id)
			}
		}
		c.prepareMu.Unlock()
	}
	for _, id := range ids {
		if _, err := c.resolve(c.newResolution(), id, Strict, false); err != nil {
			return err
		}
		c.log.Debug().Str("id", id).Msg("preloaded")
	}
	return nil
}

// NewScope returns a container sharing this container's service table but
// with its own shared instances and synthetic values.
func (c *Container) NewScope() *Container {
	s := &Container{
		id:        uuid.NewString(),
		compiled:  c.compiled,
		observer:  c.observer,
		aliases:   c.aliases,
		params:    c.params,
		extra:     c.extra,
		preload:   c.preload,
		inlined:   c.inlined,
		graph:     c.graph,
		prepareMu: c.prepareMu,
		entries:   map[string]*entry{},
		services:  map[string]any{},
		synthetic: map[string]any{},
	}
	s.buildCond = sync.NewCond(&s.buildMu)
	s.log = c.log.With().Str("scope", s.id).Logger()
	c.mu.RLock()
	for id, e := range c.entries {
		s.entries[id] = &entry{id: e.id, shared: e.shared, public: e.public, kind: e.kind, build: e.build}
	}
	c.mu.RUnlock()
	return s
}

// Close releases shared instances implementing io.Closer in reverse
// construction order. The container must not be used afterwards.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	built := slices.Clone(c.built)
	services := c.services
	c.mu.Unlock()

	var errs *multierror.Error
	for i := len(built) - 1; i >= 0; i-- {
		if cl, ok := services[built[i]].(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close %q: %w", built[i], err))
			}
		}
	}
	return errs.ErrorOrNil()
}

// ServiceIDs returns the public service ids in sorted order.
func (c *Container) ServiceIDs() []string {
	var ids []string
	if c.graph != nil {
		c.prepareMu.Lock()
		defer c.prepareMu.Unlock()
		for _, id := range c.graph.order {
			if d := c.graph.defs[id]; d.public && d.kind != KindUndefined {
				ids = append(ids, id)
			}
		}
	} else {
		c.mu.RLock()
		for id, e := range c.entries {
			if e.public {
				ids = append(ids, id)
			}
		}
		c.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

func (c *Container) newResolution() *resolution { return &resolution{c: c} }

func (c *Container) canonical(id string) string {
	if c.graph != nil {
		c.prepareMu.Lock()
		defer c.prepareMu.Unlock()
		if cid, err := c.graph.canonical(id); err == nil {
			return cid
		}
		return id
	}
	if cid, ok := c.aliases[id]; ok {
		return cid
	}
	return id
}

func (c *Container) parameter(name string) (any, bool, error) {
	return lookupParameter(name, c.extra, c.params)
}

func (c *Container) has(id string, public bool) bool {
	cid := c.canonical(id)
	c.mu.RLock()
	_, ok := c.synthetic[cid]
	c.mu.RUnlock()
	if ok {
		return true
	}
	e, err := c.entry(cid)
	if err != nil || e == nil || e.kind == KindSynthetic || e.kind == KindUndefined {
		return false
	}
	return !public || e.public
}

// entry returns the service entry for a canonical id, preparing it from the
// graph in interpreter mode. A nil entry means the id is unknown.
func (c *Container) entry(id string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok || c.graph == nil {
		return e, nil
	}

	c.prepareMu.Lock()
	defer c.prepareMu.Unlock()
	c.mu.RLock()
	e, ok = c.entries[id]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	def, known := c.graph.defs[id]
	if !known {
		if _, isClass := c.graph.classes.lookup(id); !isClass {
			return nil, nil
		}
	}
	aw := newAutowirer(c.graph, c.log)
	if !known {
		cl, _ := c.graph.classes.lookup(id)
		if err := aw.synthesize(cl); err != nil {
			return nil, err
		}
		// Requested by class name, so it is reachable through Get.
		def = c.graph.defs[id]
		def.public = true
	}
	work := def.Clone()
	work.id = id
	rc, err := aw.complete(id, work)
	if err != nil {
		return nil, err
	}
	e = &entry{
		id:     id,
		shared: work.shared,
		public: work.public,
		kind:   work.kind,
		build:  func(r *resolution) (any, error) { return c.instantiate(id, rc, r) },
	}
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
	return e, nil
}

// resolve is the single resolution path behind Get, Resolver.Service and
// generated accessors.
func (c *Container) resolve(r *resolution, id string, b Behavior, public bool) (any, error) {
	cid := c.canonical(id)

	c.mu.RLock()
	if v, ok := c.synthetic[cid]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	e, err := c.entry(cid)
	if err != nil {
		return nil, err
	}
	if e == nil {
		if b != Strict {
			return nil, nil
		}
		return nil, NotFoundError{ID: id, Alternatives: c.alternatives(id)}
	}
	if public && !e.public {
		return nil, NotFoundError{ID: id, Reason: "service is private"}
	}
	if b != Strict && (e.kind == KindSynthetic || e.kind == KindUndefined) {
		return nil, nil
	}

	if b == IgnoreOnUninitialized {
		c.mu.RLock()
		v := c.services[cid]
		c.mu.RUnlock()
		return v, nil
	}

	if !e.shared {
		return c.build(r, e)
	}

	c.mu.RLock()
	v, ok := c.services[cid]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	// Cycles are detected before waiting on the entry, so a service reaching
	// itself fails instead of deadlocking.
	if err := r.stack.push(cid); err != nil {
		return nil, err
	}
	r.stack.pop()

	if err := c.acquire(r, e); err != nil {
		return nil, err
	}
	defer c.release(e)
	c.mu.RLock()
	v, ok = c.services[cid]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	v, err = c.build(r, e)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.services[cid] = v
	c.built = append(c.built, cid)
	c.mu.Unlock()
	return v, nil
}

// acquire makes r the builder of e, waiting while another resolution builds
// it. Two resolutions waiting on each other's entries form a cycle, and the
// one closing it fails.
func (c *Container) acquire(r *resolution, e *entry) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	for e.owner != nil {
		if waitsOn(e.owner, r) {
			return CyclicDependencyError{Path: append(r.stack.snapshot(), e.id)}
		}
		r.waiting = e
		c.buildCond.Wait()
		r.waiting = nil
	}
	e.owner = r
	return nil
}

func (c *Container) release(e *entry) {
	c.buildMu.Lock()
	e.owner = nil
	c.buildMu.Unlock()
	c.buildCond.Broadcast()
}

// waitsOn reports whether owner is r or transitively waits on an entry r
// builds. Callers hold buildMu.
func waitsOn(owner, r *resolution) bool {
	seen := map[*resolution]bool{}
	for owner != nil && !seen[owner] {
		if owner == r {
			return true
		}
		seen[owner] = true
		if owner.waiting == nil {
			return false
		}
		owner = owner.waiting.owner
	}
	return false
}

func (c *Container) build(r *resolution, e *entry) (v any, err error) {
	if err := r.stack.push(e.id); err != nil {
		return nil, err
	}
	defer r.stack.pop()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			var cause error
			if re, ok := rec.(error); ok {
				cause = re
			} else {
				cause = fmt.Errorf("panic: %v", rec)
			}
			err = BindingResolutionError{ID: e.id, Err: cause}
		}
		if c.observer != nil {
			c.observer.Resolved(e.id, time.Since(start), err)
		}
		if err != nil {
			var cyc CyclicDependencyError
			if !errors.As(err, &cyc) {
				c.log.Debug().Err(err).Str("id", e.id).Msg("service construction failed")
			}
		}
	}()
	return e.build(r)
}

func (c *Container) alternatives(id string) []string {
	var ids []string
	if c.graph != nil {
		c.prepareMu.Lock()
		ids = slices.Clone(c.graph.order)
		c.prepareMu.Unlock()
	} else {
		c.mu.RLock()
		for k := range c.entries {
			ids = append(ids, k)
		}
		c.mu.RUnlock()
	}
	return alternatives(id, ids)
}

// alternatives returns ids within a small edit distance of id, sorted.
func alternatives(id string, ids []string) []string {
	var out []string
	for _, cand := range ids {
		if cand == id {
			continue
		}
		limit := max(len(id)/3, 1)
		if levenshtein(id, cand) <= limit {
			out = append(out, cand)
		}
	}
	sort.Strings(out)
	return out
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
