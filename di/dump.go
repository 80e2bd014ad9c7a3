package di

import (
	"bytes"
	"fmt"
	"go/token"
	"math"
	"reflect"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/sghaida/dic/internal/codegen"
)

// DumpOptions controls the generated source.
type DumpOptions struct {
	// Package is the package clause of the generated files.
	Package string `validate:"required"`

	// ImportPath is the import path of the generated package. Types and
	// functions from it are referenced unqualified.
	ImportPath string

	// MaxServicesPerFile splits the accessors into several files. Zero keeps
	// them in one.
	MaxServicesPerFile int `validate:"gte=0"`

	// FileName is the base name of the generated files, "container" when
	// empty.
	FileName string
}

// File is one generated source file.
type File struct {
	Name    string
	Content []byte
}

var diPath = reflect.TypeFor[Container]().PkgPath()

var fileTmpl = template.Must(template.New("file").Funcs(template.FuncMap{
	"importLine": func(gi codegen.GoImport) string {
		if gi.Name == codegen.ImportPathBase(gi.Path) {
			return strconv.Quote(gi.Path)
		}
		return gi.Name + " " + strconv.Quote(gi.Path)
	},
}).Parse(`// Code generated by dic; DO NOT EDIT.
// Plan-SHA256: {{.Hash}}

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	{{importLine .}}
{{- end}}
)
{{end}}
{{.Body}}
`))

type fileData struct {
	Hash    string
	Package string
	Imports []codegen.GoImport
	Body    string
}

// Dump renders a compiled plan as Go source: a New function returning a
// container whose services are built by plain function calls, without
// reflection or autowiring. Output is deterministic for a given plan.
func Dump(p *Plan, opts DumpOptions) ([]File, error) {
	if p == nil {
		return nil, InvalidArgumentError{What: "plan", Expected: "must not be nil"}
	}
	if err := validate.Struct(opts); err != nil {
		return nil, InvalidArgumentError{What: "dump options", Expected: err.Error()}
	}
	base := opts.FileName
	if base == "" {
		base = "container"
	}

	var ids []string
	for _, id := range p.ids {
		s := p.services[id]
		if s.inline || s.def.kind == KindSynthetic {
			continue
		}
		ids = append(ids, id)
	}
	names := builderNames(ids)

	var files []File
	main, err := renderFile(p, opts, func(e *emitter) error { return e.newFunc(ids, names) })
	if err != nil {
		return nil, err
	}
	files = append(files, File{Name: base + ".gen.go", Content: main})

	chunk := opts.MaxServicesPerFile
	if chunk == 0 {
		chunk = max(len(ids), 1)
	}
	for n, group := range slices.Collect(slices.Chunk(ids, chunk)) {
		src, err := renderFile(p, opts, func(e *emitter) error {
			for _, id := range group {
				if err := e.builder(id, names[id]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: fmt.Sprintf("%s_services_%02d.gen.go", base, n+1), Content: src})
	}
	return files, nil
}

// renderFile runs body twice: once to collect imports, once with aliases
// assigned.
func renderFile(p *Plan, opts DumpOptions, body func(e *emitter) error) ([]byte, error) {
	im := codegen.NewImports(opts.ImportPath, "r", "v", "err", "svc", "zero", "any", "error", "nil", "panic")
	if err := body(newEmitter(p, im, opts.ImportPath)); err != nil {
		return nil, err
	}
	im.Seal()
	e := newEmitter(p, im, opts.ImportPath)
	if err := body(e); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	data := fileData{Hash: p.hash, Package: opts.Package, Imports: im.List(), Body: e.sb.String()}
	if err := fileTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	src, err := codegen.Format(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("di: generated source does not parse: %w", err)
	}
	return src, nil
}

// builderNames maps ids to unique function names.
func builderNames(ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	used := map[string]bool{"New": true}
	for _, id := range ids {
		name := "build" + codegen.Ident(id)
		for n := 2; used[name]; n++ {
			name = "build" + codegen.Ident(id) + strconv.Itoa(n)
		}
		used[name] = true
		out[id] = name
	}
	return out
}

type emitter struct {
	p    *Plan
	im   *codegen.Imports
	self string
	di   string
	id   string
	n    int
	sb   strings.Builder
}

func newEmitter(p *Plan, im *codegen.Imports, self string) *emitter {
	return &emitter{p: p, im: im, self: self, di: im.Qualifier(diPath)}
}

func (e *emitter) line(format string, args ...any) {
	fmt.Fprintf(&e.sb, format+"\n", args...)
}

func (e *emitter) tmp() string {
	e.n++
	return "v" + strconv.Itoa(e.n)
}

func (e *emitter) check() { e.line("if err != nil {\nreturn nil, err\n}") }

func (e *emitter) fail(reason string) error { return NotDumpableError{ID: e.id, Reason: reason} }

func (e *emitter) newFunc(ids []string, names map[string]string) error {
	e.line("// New returns the compiled container.")
	e.line("func New(opts ...%sOption) *%sContainer {", e.di, e.di)
	e.line("return %sNewCompiled(%sCompiledSpec{", e.di, e.di)
	e.line("Services: map[string]%sCompiledService{", e.di)
	for _, id := range ids {
		d := e.p.services[id].def
		e.line("%s: {Shared: %t, Public: %t, Build: %s},", strconv.Quote(id), d.shared, d.public, names[id])
	}
	e.line("},")
	if len(e.p.aliases) > 0 {
		e.line("Aliases: map[string]string{")
		for _, a := range sortedKeys(e.p.aliases) {
			e.line("%s: %s,", strconv.Quote(a), strconv.Quote(e.p.aliases[a]))
		}
		e.line("},")
	}
	if len(e.p.params) > 0 {
		e.line("Parameters: map[string]any{")
		for _, k := range sortedKeys(e.p.params) {
			e.id = "%" + k + "%"
			lit, err := e.literal(e.p.params[k])
			if err != nil {
				return err
			}
			e.line("%s: %s,", strconv.Quote(k), lit)
		}
		e.line("},")
	}
	if len(e.p.preload) > 0 {
		e.line("Preload: %s,", quotedSlice(e.p.preload))
	}
	if len(e.p.synthetic) > 0 {
		e.line("Synthetic: %s,", quotedSlice(e.p.synthetic))
	}
	e.line("Hash: %s,", strconv.Quote(e.p.hash))
	e.line("}, opts...)")
	e.line("}")
	return nil
}

func (e *emitter) builder(id, name string) error {
	e.id = id
	e.n = 0
	e.line("")
	e.line("func %s(r %sResolver) (any, error) {", name, e.di)
	v, err := e.instance(id)
	if err != nil {
		return err
	}
	e.line("return %s, nil", v)
	e.line("}")
	return nil
}

// instance emits the construction of id and returns the variable holding it.
func (e *emitter) instance(id string) (string, error) {
	outer := e.id
	e.id = id
	defer func() { e.id = outer }()

	s := e.p.services[id]
	d := s.def
	if d.kind == KindClosure {
		return "", e.fail("closures cannot be dumped")
	}
	if s.rc == nil {
		return "", e.fail("service was not compiled")
	}
	rc := s.rc

	var (
		v   string
		typ reflect.Type
		err error
	)
	switch d.kind {
	case KindObject:
		cl := rc.class
		if cl == nil {
			return "", e.fail("class " + strconv.Quote(d.class) + " is not registered")
		}
		typ = cl.typ
		if !cl.HasConstructor() {
			v, err = e.zero(cl.typ)
			break
		}
		var fn string
		if fn, err = e.funcExpr(cl.ctor); err == nil {
			v, err = e.call(fn, cl.ctor.Type(), rc.params, d.args)
		}
	case KindFactory:
		if d.factory != nil {
			fv := reflect.ValueOf(d.factory)
			typ = fv.Type().Out(0)
			var fn string
			if fn, err = e.funcExpr(fv); err == nil {
				v, err = e.call(fn, fv.Type(), rc.params, d.args)
			}
			break
		}
		ft, ok := e.p.serviceType(d.factoryRef.ID)
		if !ok {
			return "", e.fail("type of factory service " + strconv.Quote(d.factoryRef.ID) + " is unknown")
		}
		m, found := ft.MethodByName(d.method)
		if !found {
			return "", e.fail(ft.String() + " has no method " + strconv.Quote(d.method))
		}
		if m.Type.NumOut() == 0 {
			return "", e.fail("factory method " + strconv.Quote(d.method) + " returns nothing")
		}
		typ = m.Type.Out(0)
		var f, recv string
		if f, err = e.ref(*d.factoryRef); err != nil {
			return "", err
		}
		if recv, err = e.typeExpr(ft); err != nil {
			return "", err
		}
		fn := fmt.Sprintf("%sAs[%s](%s).%s", e.di, recv, f, d.method)
		v, err = e.call(fn, m.Type, funcParams(m.Type, receiverSkip(ft), nil), d.args)
	default:
		return "", e.fail(d.kind.String() + " services cannot be dumped")
	}
	if err != nil {
		return "", err
	}

	for _, c := range d.calls {
		m, ok := typ.MethodByName(c.Method)
		if !ok {
			return "", e.fail(typ.String() + " has no method " + strconv.Quote(c.Method))
		}
		args, err := e.args(funcParams(m.Type, receiverSkip(typ), nil), c.Args)
		if err != nil {
			return "", err
		}
		call := v + "." + c.Method + "(" + strings.Join(args, ", ") + ")"
		if n := m.Type.NumOut(); n > 0 && m.Type.Out(n-1) == errorType {
			e.line("if err := %s; err != nil {\nreturn nil, err\n}", call)
		} else {
			e.line("%s", call)
		}
	}
	return v, nil
}

func (e *emitter) zero(t reflect.Type) (string, error) {
	v := e.tmp()
	if t.Kind() == reflect.Pointer {
		te, err := e.typeExpr(t.Elem())
		if err != nil {
			return "", err
		}
		e.line("%s := &%s{}", v, te)
		return v, nil
	}
	te, err := e.typeExpr(t)
	if err != nil {
		return "", err
	}
	e.line("%s := %s{}", v, te)
	return v, nil
}

func (e *emitter) call(fn string, ft reflect.Type, params []ParamInfo, args []Argument) (string, error) {
	in, err := e.args(params, args)
	if err != nil {
		return "", err
	}
	v := e.tmp()
	expr := fn + "(" + strings.Join(in, ", ") + ")"
	if ft.NumOut() == 2 {
		e.line("%s, err := %s", v, expr)
		e.check()
	} else {
		e.line("%s := %s", v, expr)
	}
	return v, nil
}

func (e *emitter) args(params []ParamInfo, args []Argument) ([]string, error) {
	out := make([]string, 0, len(params))
	for i, p := range params {
		if p.Variadic {
			rest := args[min(i, len(args)):]
			if len(rest) == 1 {
				if seq, ok := rest[0].(Sequence); ok {
					x, err := e.value(seq, p.Type)
					if err != nil {
						return nil, err
					}
					out = append(out, x+"...")
					break
				}
			}
			for _, a := range rest {
				if a == nil {
					continue
				}
				x, err := e.value(a, p.Type.Elem())
				if err != nil {
					return nil, err
				}
				out = append(out, x)
			}
			break
		}
		if i >= len(args) || args[i] == nil {
			return nil, e.fail("no argument for parameter " + p.Name)
		}
		x, err := e.value(args[i], p.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

// value returns an expression of type want evaluating arg.
func (e *emitter) value(arg Argument, want reflect.Type) (string, error) {
	te, err := e.typeExpr(want)
	if err != nil {
		return "", err
	}
	as := func(x string) string { return e.di + "As[" + te + "](" + x + ")" }

	switch a := arg.(type) {
	case Literal:
		lit, err := e.literal(a.Value)
		if err != nil {
			return "", err
		}
		return as(lit), nil
	case Reference:
		v, err := e.ref(a)
		if err != nil {
			return "", err
		}
		return as(v), nil
	case Parameter:
		v := e.tmp()
		if a.HasDefault {
			lit, err := e.literal(a.Default)
			if err != nil {
				return "", err
			}
			e.line("%s, err := r.LookupOr(%s, %s)", v, strconv.Quote(a.Name), lit)
		} else {
			e.line("%s, err := r.Lookup(%s)", v, strconv.Quote(a.Name))
		}
		e.check()
		return as(v), nil
	case Sequence:
		st := want
		if st.Kind() != reflect.Slice {
			st = reflect.TypeFor[[]any]()
		}
		items := make([]string, len(a.Items))
		for i, it := range a.Items {
			if items[i], err = e.value(it, st.Elem()); err != nil {
				return "", err
			}
		}
		ste, err := e.typeExpr(st)
		if err != nil {
			return "", err
		}
		expr := ste + "{" + strings.Join(items, ", ") + "}"
		if st != want {
			return as(expr), nil
		}
		return expr, nil
	case *ClosureWrapped:
		return e.lazy(a.Reference(), want)
	case *Condition:
		return "", e.fail("conditional arguments cannot be dumped")
	default:
		return "", e.fail(fmt.Sprintf("unsupported argument %T", arg))
	}
}

func (e *emitter) ref(ref Reference) (string, error) {
	if s, ok := e.p.services[ref.ID]; ok && s.inline {
		return e.instance(ref.ID)
	}
	v := e.tmp()
	e.line("%s, err := r.Service(%s, %s%s)", v, strconv.Quote(ref.ID), e.di, ref.Behavior)
	e.check()
	return v, nil
}

func (e *emitter) lazy(ref Reference, want reflect.Type) (string, error) {
	l := e.tmp()
	e.line("%s := r.Lazy(%s)", l, strconv.Quote(ref.ID))
	if want.Kind() == reflect.Interface && want.NumMethod() == 0 || want == reflect.TypeFor[func() (any, error)]() {
		return l, nil
	}
	elem, withErr, ok := lazyElem(want)
	if !ok {
		return "", e.fail("lazy reference to " + strconv.Quote(ref.ID) + " needs a func() T parameter, got " + want.String())
	}
	te, err := e.typeExpr(elem)
	if err != nil {
		return "", err
	}
	if withErr {
		return fmt.Sprintf("func() (%s, error) {\nv, err := %s()\nif err != nil {\nvar zero %s\nreturn zero, err\n}\nreturn %sAs[%s](v), nil\n}",
			te, l, te, e.di, te), nil
	}
	return fmt.Sprintf("func() %s {\nv, err := %s()\nif err != nil {\npanic(err)\n}\nreturn %sAs[%s](v)\n}",
		te, l, e.di, te), nil
}

// funcExpr returns the qualified name of a package-level function.
func (e *emitter) funcExpr(fn reflect.Value) (string, error) {
	sym := funcSymbol(fn)
	pkg, name := splitSymbol(sym)
	switch {
	case sym == "":
		return "", e.fail("function has no symbol")
	case pkg == "" || pkg == "main":
		return "", e.fail("function " + sym + " is not importable")
	case !token.IsIdentifier(name):
		return "", e.fail("function " + sym + " is anonymous, generic or a method value")
	case pkg != e.self && !token.IsExported(name):
		return "", e.fail("function " + sym + " is not exported")
	}
	return e.im.Qualifier(pkg) + name, nil
}

// typeExpr renders t as Go source.
func (e *emitter) typeExpr(t reflect.Type) (string, error) {
	if elem, ok := optionalElem(t); ok {
		x, err := e.typeExpr(elem)
		if err != nil {
			return "", err
		}
		return e.di + "Optional[" + x + "]", nil
	}
	if name := t.Name(); name != "" {
		switch {
		case strings.Contains(name, "["):
			return "", e.fail("generic type " + t.String() + " cannot be dumped")
		case t.PkgPath() == "":
			return name, nil
		case t.PkgPath() == "main":
			return "", e.fail("type " + t.String() + " is not importable")
		case t.PkgPath() != e.self && !token.IsExported(name):
			return "", e.fail("type " + t.String() + " is not exported")
		}
		return e.im.Qualifier(t.PkgPath()) + name, nil
	}

	elem := func(prefix string, et reflect.Type) (string, error) {
		x, err := e.typeExpr(et)
		return prefix + x, err
	}
	switch t.Kind() {
	case reflect.Pointer:
		return elem("*", t.Elem())
	case reflect.Slice:
		return elem("[]", t.Elem())
	case reflect.Array:
		return elem("["+strconv.Itoa(t.Len())+"]", t.Elem())
	case reflect.Chan:
		switch t.ChanDir() {
		case reflect.RecvDir:
			return elem("<-chan ", t.Elem())
		case reflect.SendDir:
			return elem("chan<- ", t.Elem())
		}
		return elem("chan ", t.Elem())
	case reflect.Map:
		k, err := e.typeExpr(t.Key())
		if err != nil {
			return "", err
		}
		return elem("map["+k+"]", t.Elem())
	case reflect.Func:
		in := make([]string, t.NumIn())
		for i := range in {
			it := t.In(i)
			prefix := ""
			if t.IsVariadic() && i == len(in)-1 {
				it, prefix = it.Elem(), "..."
			}
			x, err := elem(prefix, it)
			if err != nil {
				return "", err
			}
			in[i] = x
		}
		out := make([]string, t.NumOut())
		for i := range out {
			x, err := e.typeExpr(t.Out(i))
			if err != nil {
				return "", err
			}
			out[i] = x
		}
		s := "func(" + strings.Join(in, ", ") + ")"
		switch len(out) {
		case 0:
			return s, nil
		case 1:
			return s + " " + out[0], nil
		}
		return s + " (" + strings.Join(out, ", ") + ")", nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any", nil
		}
	}
	return "", e.fail("type " + t.String() + " cannot be expressed")
}

// literal renders a scalar, or a slice or map of scalars.
func (e *emitter) literal(v any) (string, error) {
	if v == nil {
		return "nil", nil
	}
	rv := reflect.ValueOf(v)
	t := rv.Type()
	var s string
	switch rv.Kind() {
	case reflect.Bool:
		s = strconv.FormatBool(rv.Bool())
	case reflect.String:
		s = strconv.Quote(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s = strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		s = strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", e.fail("non-finite float literal")
		}
		s = strconv.FormatFloat(f, 'g', -1, t.Bits())
	case reflect.Slice:
		return e.sliceLiteral(rv)
	case reflect.Map:
		return e.mapLiteral(rv)
	default:
		return "", e.fail("literal of type " + t.String() + " cannot be dumped")
	}
	switch t {
	case reflect.TypeFor[bool](), reflect.TypeFor[string](), reflect.TypeFor[int]():
		return s, nil
	}
	te, err := e.typeExpr(t)
	if err != nil {
		return "", err
	}
	return te + "(" + s + ")", nil
}

func (e *emitter) sliceLiteral(rv reflect.Value) (string, error) {
	te, err := e.typeExpr(rv.Type())
	if err != nil {
		return "", err
	}
	if rv.IsNil() {
		return te + "(nil)", nil
	}
	items := make([]string, rv.Len())
	for i := range items {
		if items[i], err = e.literal(rv.Index(i).Interface()); err != nil {
			return "", err
		}
	}
	return te + "{" + strings.Join(items, ", ") + "}", nil
}

func (e *emitter) mapLiteral(rv reflect.Value) (string, error) {
	te, err := e.typeExpr(rv.Type())
	if err != nil {
		return "", err
	}
	if rv.IsNil() {
		return te + "(nil)", nil
	}
	entries := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := e.literal(iter.Key().Interface())
		if err != nil {
			return "", err
		}
		v, err := e.literal(iter.Value().Interface())
		if err != nil {
			return "", err
		}
		entries = append(entries, k+": "+v)
	}
	sort.Strings(entries)
	return te + "{" + strings.Join(entries, ", ") + "}", nil
}

// serviceType returns the static type a planned service produces.
func (p *Plan) serviceType(id string) (reflect.Type, bool) {
	if cid, ok := p.aliases[id]; ok {
		id = cid
	}
	s, ok := p.services[id]
	if !ok {
		return nil, false
	}
	d := s.def
	switch {
	case s.rc != nil && s.rc.class != nil:
		return s.rc.class.typ, true
	case d.factory != nil:
		return reflect.TypeOf(d.factory).Out(0), true
	case d.factoryRef != nil:
		ft, ok := p.serviceType(d.factoryRef.ID)
		if !ok {
			return nil, false
		}
		if m, found := ft.MethodByName(d.method); found && m.Type.NumOut() > 0 {
			return m.Type.Out(0), true
		}
	}
	return nil, false
}

// funcSymbol returns the linker name of a function value, such as
// "example.com/app.NewMailer".
func funcSymbol(fn reflect.Value) string {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(fn.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}

// splitSymbol splits a linker name into package path and the rest.
func splitSymbol(sym string) (pkg, name string) {
	slash := strings.LastIndex(sym, "/")
	dot := strings.Index(sym[slash+1:], ".")
	if dot < 0 {
		return "", sym
	}
	return sym[:slash+1+dot], sym[slash+1+dot+1:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quotedSlice(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = strconv.Quote(s)
	}
	return "[]string{" + strings.Join(q, ", ") + "}"
}
