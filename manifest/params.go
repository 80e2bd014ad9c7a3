package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Env looks up environment variables for %env(NAME)% placeholders. The
// process environment wins over values read from .env files.
type Env struct {
	files map[string]string
}

// NewEnv reads the given .env files. Missing files are an error.
func NewEnv(files ...string) (*Env, error) {
	e := &Env{files: map[string]string{}}
	if len(files) == 0 {
		return e, nil
	}
	vals, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	e.files = vals
	return e, nil
}

// Lookup returns the value of name.
func (e *Env) Lookup(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	v, ok := e.files[name]
	return v, ok
}

// resolver expands parameter placeholders, detecting cycles between
// parameters.
type resolver struct {
	raw      map[string]any
	env      *Env
	done     map[string]any
	visiting map[string]bool
}

func newResolver(raw map[string]any, env *Env) *resolver {
	return &resolver{raw: raw, env: env, done: map[string]any{}, visiting: map[string]bool{}}
}

func (r *resolver) param(name string) (any, error) {
	if v, ok := r.done[name]; ok {
		return v, nil
	}
	if env, ok := envName(name); ok {
		v, found := r.env.Lookup(env)
		if !found {
			return nil, fmt.Errorf("manifest: environment variable %q is not set", env)
		}
		return v, nil
	}
	raw, ok := r.raw[name]
	if !ok {
		return nil, fmt.Errorf("manifest: parameter %q is not defined", name)
	}
	if r.visiting[name] {
		return nil, fmt.Errorf("manifest: parameter %q references itself", name)
	}
	r.visiting[name] = true
	defer delete(r.visiting, name)

	v, err := r.value(raw)
	if err != nil {
		return nil, err
	}
	r.done[name] = v
	return v, nil
}

// value expands placeholders in strings, lists and maps.
func (r *resolver) value(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.expand(t)
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			x, err := r.value(it)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return normalizeList(out), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, it := range t {
			x, err := r.value(it)
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil
	default:
		return v, nil
	}
}

// expand resolves a string. A string made of one placeholder keeps the
// parameter's type; placeholders inside text are formatted with %v.
func (r *resolver) expand(s string) (any, error) {
	if name, ok := wholePlaceholder(s); ok {
		return r.param(name)
	}
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var sb strings.Builder
	for {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			sb.WriteString(s)
			return sb.String(), nil
		}
		sb.WriteString(s[:i])
		s = s[i+1:]
		if strings.HasPrefix(s, "%") {
			sb.WriteByte('%')
			s = s[1:]
			continue
		}
		j := strings.IndexByte(s, '%')
		if j < 0 || strings.ContainsAny(s[:j], " \t") {
			sb.WriteByte('%')
			continue
		}
		v, err := r.param(s[:j])
		if err != nil {
			return nil, err
		}
		fmt.Fprint(&sb, v)
		s = s[j+1:]
	}
}

// wholePlaceholder reports whether s is exactly "%name%".
func wholePlaceholder(s string) (string, bool) {
	if len(s) < 3 || s[0] != '%' || s[len(s)-1] != '%' {
		return "", false
	}
	name := s[1 : len(s)-1]
	if strings.ContainsAny(name, "% \t") {
		return "", false
	}
	return name, true
}

func envName(name string) (string, bool) {
	if strings.HasPrefix(name, "env(") && strings.HasSuffix(name, ")") {
		return name[4 : len(name)-1], true
	}
	return "", false
}

// normalizeList turns homogeneous YAML lists into typed slices so they
// can be passed to constructors expecting []string, []int or []float64.
func normalizeList(items []any) any {
	if len(items) == 0 {
		return items
	}
	switch items[0].(type) {
	case string:
		return typedList[string](items)
	case int:
		return typedList[int](items)
	case float64:
		return typedList[float64](items)
	case bool:
		return typedList[bool](items)
	}
	return items
}

func typedList[T any](items []any) any {
	out := make([]T, len(items))
	for i, it := range items {
		v, ok := it.(T)
		if !ok {
			return items
		}
		out[i] = v
	}
	return out
}
