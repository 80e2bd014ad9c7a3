// Package manifest reads YAML service manifests into a di.Builder.
//
// A manifest declares parameters and services:
//
//	imports: [base.yaml]
//	parameters:
//	  mail.transport: smtp
//	  db.dsn: "%env(DATABASE_URL)%"
//	services:
//	  logger:
//	    class: app.NewLogger
//	    public: false
//	  mailer:
//	    class: app.NewMailer
//	    arguments: ["@logger", "%mail.transport%"]
//	    tags: [container.preload]
//	  mail: "@mailer"
//
// Argument strings starting with "@" are references ("@?id" tolerates a
// missing service, "@!id" only sees an already built one, "@@" escapes a
// literal "@"). A whole "%name%" string is a parameter, "%%" escapes "%".
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is a parsed manifest.
type File struct {
	Imports    []string       `yaml:"imports"`
	Parameters map[string]any `yaml:"parameters"`
	Services   Services       `yaml:"services"`
}

// Services keeps the declaration order of the services mapping.
type Services []*Service

// Service is one entry of the services mapping.
type Service struct {
	ID        string   `yaml:"-"`
	Class     string   `yaml:"class"`
	Factory   string   `yaml:"factory"`
	Alias     string   `yaml:"alias"`
	Decorates string   `yaml:"decorates"`
	Arguments []any    `yaml:"arguments"`
	Calls     []Call   `yaml:"calls"`
	Tags      []string `yaml:"tags"`
	Public    *bool    `yaml:"public"`
	Shared    *bool    `yaml:"shared"`
	Autowire  *bool    `yaml:"autowire"`
	Default   bool     `yaml:"default"`
	Synthetic bool     `yaml:"synthetic"`
}

// Call is a method invoked on a service after construction.
type Call struct {
	Method    string `yaml:"method"`
	Arguments []any  `yaml:"arguments"`
}

// UnmarshalYAML decodes the services mapping in document order. A scalar
// value is an alias ("@target"), a null value a service whose class is its
// id.
func (s *Services) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("manifest: line %d: services must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		svc := &Service{ID: key.Value}
		switch {
		case val.ShortTag() == "!!null":
			svc.Class = key.Value
		case val.Kind == yaml.ScalarNode:
			target, ok := aliasTarget(val.Value)
			if !ok {
				return fmt.Errorf("manifest: line %d: service %q: scalar value must be an \"@id\" alias", val.Line, key.Value)
			}
			svc.Alias = target
		default:
			if err := val.Decode(svc); err != nil {
				return fmt.Errorf("manifest: service %q: %w", key.Value, err)
			}
		}
		*s = append(*s, svc)
	}
	return nil
}

func aliasTarget(v string) (string, bool) {
	if len(v) < 2 || v[0] != '@' || v[1] == '@' || v[1] == '?' || v[1] == '!' {
		return "", false
	}
	return v[1:], true
}

// Parse decodes a manifest. Imports are left unresolved.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &f, nil
}

// ReadFile parses path and merges its imports, which are resolved relative
// to the importing file. Later declarations override earlier ones.
func ReadFile(path string) (*File, error) {
	return readFile(path, map[string]bool{})
}

func readFile(path string, seen map[string]bool) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("manifest: import cycle through %q", path)
	}
	seen[abs] = true
	defer delete(seen, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	merged := &File{}
	for _, imp := range f.Imports {
		if !filepath.IsAbs(imp) {
			imp = filepath.Join(filepath.Dir(abs), imp)
		}
		sub, err := readFile(imp, seen)
		if err != nil {
			return nil, err
		}
		merged.Merge(sub)
	}
	merged.Merge(f)
	merged.Imports = nil
	return merged, nil
}

// Merge adds the parameters and services of o to f. Services with an id
// already present replace the earlier entry in place.
func (f *File) Merge(o *File) {
	if len(o.Parameters) > 0 && f.Parameters == nil {
		f.Parameters = map[string]any{}
	}
	for k, v := range o.Parameters {
		f.Parameters[k] = v
	}
	for _, svc := range o.Services {
		replaced := false
		for i, cur := range f.Services {
			if cur.ID == svc.ID {
				f.Services[i] = svc
				replaced = true
				break
			}
		}
		if !replaced {
			f.Services = append(f.Services, svc)
		}
	}
}
