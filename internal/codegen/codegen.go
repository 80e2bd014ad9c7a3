// Package codegen holds the source-emission helpers shared by generators:
// deterministic import aliasing, gofmt, hashing and identifier mangling.
package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"go/format"
	"go/token"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// GoImport is one import line.
type GoImport struct {
	Name string // alias, empty for none
	Path string // import path, e.g. "context"
}

// Imports collects import paths and gives each one a stable alias.
//
// Aliases depend only on the set of paths added, never on the order they
// were added in, so two runs over the same input emit the same file.
type Imports struct {
	self     string
	reserved map[string]bool
	paths    map[string]bool
	aliases  map[string]string
	sealed   bool
}

// NewImports returns an empty set for a file living in package self.
// Reserved names are never used as aliases.
func NewImports(self string, reserved ...string) *Imports {
	r := map[string]bool{}
	for _, n := range reserved {
		r[n] = true
	}
	return &Imports{self: self, reserved: r, paths: map[string]bool{}}
}

// Add records a path. Adding the file's own package is a no-op.
func (im *Imports) Add(p string) {
	if im.sealed {
		panic("codegen: Add after Seal")
	}
	if p == "" || p == im.self {
		return
	}
	im.paths[p] = true
}

// Seal assigns aliases in sorted path order.
func (im *Imports) Seal() {
	if im.sealed {
		return
	}
	im.sealed = true
	im.aliases = map[string]string{}
	used := map[string]bool{}
	paths := make([]string, 0, len(im.paths))
	for p := range im.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		base := PackageBase(p)
		alias := base
		for n := 2; used[alias] || im.reserved[alias] || token.IsKeyword(alias); n++ {
			alias = base + strconv.Itoa(n)
		}
		used[alias] = true
		im.aliases[p] = alias
	}
}

// Qualifier returns "alias." for p, or "" for the file's own package.
func (im *Imports) Qualifier(p string) string {
	if p == "" || p == im.self {
		return ""
	}
	if !im.sealed {
		im.Add(p)
		return "_."
	}
	alias, ok := im.aliases[p]
	if !ok {
		panic("codegen: path " + strconv.Quote(p) + " was not collected before Seal")
	}
	return alias + "."
}

// List returns the imports sorted by path, each with its alias.
func (im *Imports) List() []GoImport {
	out := make([]GoImport, 0, len(im.aliases))
	for p, a := range im.aliases {
		out = append(out, GoImport{Name: a, Path: p})
	}
	return DedupeAndSort(out)
}

// DedupeAndSort removes duplicate imports and sorts by path then name.
func DedupeAndSort(imps []GoImport) []GoImport {
	type key struct {
		path string
		name string
	}
	seen := map[key]bool{}
	out := make([]GoImport, 0, len(imps))
	for _, gi := range imps {
		k := key{path: gi.Path, name: gi.Name}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, gi)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// PackageBase derives an identifier from an import path: the last element,
// skipping major-version suffixes and dropping characters Go rejects.
func PackageBase(p string) string {
	elems := strings.Split(p, "/")
	base := elems[len(elems)-1]
	if isMajorVersion(base) && len(elems) > 1 {
		base = elems[len(elems)-2]
	}
	if i := strings.Index(base, ".v"); i > 0 {
		base = base[:i]
	}
	base = strings.TrimPrefix(base, "go-")
	base = strings.TrimSuffix(base, "-go")
	var sb strings.Builder
	for _, r := range base {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) && sb.Len() > 0 {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	if sb.Len() == 0 {
		return "pkg"
	}
	return sb.String()
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

// SHA256Hex returns the hex sha256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Format runs gofmt over src.
func Format(src []byte) ([]byte, error) {
	return format.Source(src)
}

// WriteFormatted formats src and writes it to out. On a format error the raw
// source is written instead so the failure can be inspected.
func WriteFormatted(out string, src []byte) error {
	fmtSrc, err := format.Source(src)
	if err != nil {
		_ = os.WriteFile(out, src, 0o644)
		return err
	}
	return os.WriteFile(out, fmtSrc, 0o644)
}

// ExportName upper-cases the first letter.
func ExportName(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Ident turns an arbitrary id such as "mail.transport" or "*app.Mailer"
// into an exported identifier fragment ("MailTransport", "AppMailer").
func Ident(id string) string {
	var sb strings.Builder
	upper := true
	for _, r := range id {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	s := sb.String()
	if s == "" || unicode.IsDigit(rune(s[0])) {
		s = "S" + s
	}
	return s
}

// ImportPathBase is path.Base for import paths.
func ImportPathBase(p string) string { return path.Base(p) }
