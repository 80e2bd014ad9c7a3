package manifest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
	"github.com/sghaida/dic/di"
)

// Report is the outcome of Analyze.
type Report struct {
	Errors   []string
	Warnings []string
	// Plan is nil only when the manifest could not be loaded.
	Plan *di.Plan
}

// OK reports whether the manifest has no errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Analyze loads f leniently into a fresh builder and inspects it without
// calling any constructor: undefined references, alias chains, cycles,
// undeclared parameters and tag usage.
func Analyze(f *File, opts ...Option) *Report {
	rep := &Report{}
	l := NewLoader(append(slices.Clone(opts), Lenient())...)
	b := di.NewBuilder(di.WithLogger(l.log))
	if err := l.Apply(b, f); err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}

	plan, err := b.Analyze(di.WithoutPruning(), di.WithoutInlining())
	rep.Plan = plan
	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.WrappedErrors() {
				rep.Errors = append(rep.Errors, e.Error())
			}
		} else {
			rep.Errors = append(rep.Errors, err.Error())
		}
	}
	rep.Warnings = warnings(f, plan)
	return rep
}

func warnings(f *File, plan *di.Plan) []string {
	var out []string
	referenced := map[string]bool{}
	for _, id := range plan.IDs() {
		d, _ := plan.Definition(id)
		for _, a := range d.Arguments() {
			collect(a, referenced, func(name string) {
				if _, ok := f.Parameters[name]; !ok {
					out = append(out, fmt.Sprintf("service %q: parameter %q is not declared in the manifest", id, name))
				}
			})
		}
		for _, c := range d.MethodCalls() {
			for _, a := range c.Args {
				collect(a, referenced, func(string) {})
			}
		}
		if fr, ok := factoryRef(d); ok {
			referenced[fr] = true
		}
	}
	for _, target := range plan.Aliases() {
		referenced[target] = true
	}
	for _, id := range plan.IDs() {
		d, _ := plan.Definition(id)
		if d.HasTag(di.TagPreload) && !d.IsShared() {
			out = append(out, fmt.Sprintf("service %q: %s has no effect on a non-shared service", id, di.TagPreload))
		}
		if !d.IsPublic() && !referenced[id] && d.Kind() != di.KindUndefined && !d.HasTag(di.TagPreload) && len(d.Tags()) == 0 {
			out = append(out, fmt.Sprintf("service %q: private and never referenced", id))
		}
	}
	return out
}

func factoryRef(d *di.Definition) (string, bool) {
	_, ref, _ := d.Factory()
	if ref == nil {
		return "", false
	}
	return ref.ID, true
}

// collect marks referenced ids and reports parameters without a default.
func collect(a di.Argument, refs map[string]bool, param func(name string)) {
	switch v := a.(type) {
	case di.Reference:
		refs[v.ID] = true
	case di.Parameter:
		if !v.HasDefault {
			param(v.Name)
		}
	case di.Sequence:
		for _, it := range v.Items {
			collect(it, refs, param)
		}
	case *di.ClosureWrapped:
		refs[v.Reference().ID] = true
	case *di.Condition:
		for _, it := range v.Values() {
			collect(it, refs, param)
		}
	}
}
