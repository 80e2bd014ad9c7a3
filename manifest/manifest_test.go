package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sghaida/dic/di"
	"github.com/sghaida/dic/internal/fixture"
	"github.com/sghaida/dic/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appManifest = `
parameters:
  mail.transport: smtp
  mail.host: mx.local
  mail.port: 2525
  mail.url: "smtp://%mail.host%:%mail.port%"
  hosts: [a, b]

services:
  logger:
    class: fixture.NewMemoryLogger
  mailer:
    class: fixture.NewMailer
    arguments: ["@logger", "%mail.transport%"]
    tags: [container.preload]
  mail: "@mailer"
  h.upper:
    class: fixture.NewUpperHandler
    tags: [handler]
  h.trim:
    class: fixture.NewTrimHandler
    tags: [handler]
  pipeline:
    class: fixture.NewPipeline
    arguments: [{tagged: handler}]
  conn.factory:
    class: fixture.NewConnectionFactory
    arguments: ["%mail.url%"]
  conn.main:
    factory: "@conn.factory::Open"
    arguments: ["main"]
  decor:
    class: fixture.NewLoggingDecorator
    arguments: ["@logger", "@?none"]
  decor.outer:
    class: fixture.NewLoggingDecorator
    decorates: decor
    arguments: ["@logger", "@.inner"]
  deferred:
    class: fixture.NewDeferredDecorator
    arguments: ["@logger", {lazy: "@decor"}]
  clock:
    class: fixture.Clock
    calls:
      - method: SetZone
        arguments: ["@@utc"]
`

func constructors() manifest.Option {
	return manifest.WithConstructors(map[string]any{
		"fixture.NewMemoryLogger":      fixture.NewMemoryLogger,
		"fixture.NewMailer":            fixture.NewMailer,
		"fixture.NewUpperHandler":      fixture.NewUpperHandler,
		"fixture.NewTrimHandler":       fixture.NewTrimHandler,
		"fixture.NewPipeline":          fixture.NewPipeline,
		"fixture.NewConnectionFactory": fixture.NewConnectionFactory,
		"fixture.NewLoggingDecorator":  fixture.NewLoggingDecorator,
		"fixture.NewDeferredDecorator": fixture.NewDeferredDecorator,
		"fixture.NewMemStore":          fixture.NewMemStore,
		"fixture.Clock":                func() *fixture.Clock { return &fixture.Clock{} },
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

//
// -----------------------------------------------------------------------------
// Parsing
// -----------------------------------------------------------------------------

// TestParse_KeepsServiceOrder verifies services keep their declaration order and shorthand forms.
func TestParse_KeepsServiceOrder(t *testing.T) {
	t.Parallel()

	f, err := manifest.Parse([]byte(`
services:
  zeta: ~
  alpha:
    class: app.Alpha
    public: false
  a: "@alpha"
`))
	require.NoError(t, err)
	require.Len(t, f.Services, 3)

	assert.Equal(t, "zeta", f.Services[0].ID)
	assert.Equal(t, "zeta", f.Services[0].Class)
	assert.Equal(t, "app.Alpha", f.Services[1].Class)
	require.NotNil(t, f.Services[1].Public)
	assert.False(t, *f.Services[1].Public)
	assert.Equal(t, "alpha", f.Services[2].Alias)
}

// TestParse_Rejects verifies malformed service entries fail to parse.
func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "scalar that is not an alias", doc: "services:\n  a: mailer\n"},
		{name: "escaped alias", doc: "services:\n  a: \"@@mailer\"\n"},
		{name: "services as list", doc: "services:\n  - a\n"},
		{name: "invalid yaml", doc: "services: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := manifest.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

// TestReadFile_MergesImports verifies imports load first and the importing file overrides them.
func TestReadFile_MergesImports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "conf"), 0o700))
	writeFile(t, dir, "conf/base.yaml", `
parameters:
  mail.transport: sendmail
  retries: 3
services:
  logger:
    class: fixture.NewMemoryLogger
  mailer:
    class: fixture.NewMailer
`)
	path := writeFile(t, dir, "app.yaml", `
imports: [conf/base.yaml]
parameters:
  mail.transport: smtp
services:
  mailer:
    class: fixture.NewMailer
    arguments: ["@logger", "%mail.transport%"]
`)

	f, err := manifest.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "smtp", f.Parameters["mail.transport"])
	assert.Equal(t, 3, f.Parameters["retries"])
	require.Len(t, f.Services, 2)
	assert.Equal(t, "logger", f.Services[0].ID)
	assert.Len(t, f.Services[1].Arguments, 2)
	assert.Empty(t, f.Imports)
}

// TestReadFile_ImportCycle verifies files importing each other fail.
func TestReadFile_ImportCycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "imports: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "imports: [a.yaml]\n")

	_, err := manifest.ReadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import cycle")
}

//
// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// TestLoader_Apply verifies a manifest compiles into a working container.
func TestLoader_Apply(t *testing.T) {
	t.Parallel()

	f, err := manifest.Parse([]byte(appManifest))
	require.NoError(t, err)

	b := di.NewBuilder()
	require.NoError(t, manifest.NewLoader(constructors()).Apply(b, f))
	c, err := b.Compile()
	require.NoError(t, err)

	m, err := di.Get[*fixture.Mailer](c, "mail")
	require.NoError(t, err)
	assert.Equal(t, "smtp", m.Transport)
	assert.NotNil(t, m.Logger)

	p, err := di.Get[*fixture.Pipeline](c, "pipeline")
	require.NoError(t, err)
	assert.Equal(t, "HI", p.Run("  hi "))

	conn, err := di.Get[*fixture.Conn](c, "conn.main")
	require.NoError(t, err)
	assert.Equal(t, "main", conn.Name)
	assert.Equal(t, "smtp://mx.local:2525", conn.DSN)

	outer, err := di.Get[*fixture.LoggingDecorator](c, "decor")
	require.NoError(t, err)
	require.NotNil(t, outer.Inner)
	inner, ok := outer.Inner.(*fixture.LoggingDecorator)
	require.True(t, ok)
	assert.Nil(t, inner.Inner)
	alias, err := c.Get("decor.outer")
	require.NoError(t, err)
	assert.Same(t, outer, alias)

	deferred, err := di.Get[*fixture.DeferredDecorator](c, "deferred")
	require.NoError(t, err)
	got, err := deferred.Inner()
	require.NoError(t, err)
	assert.Same(t, outer, got)

	clock, err := di.Get[*fixture.Clock](c, "clock")
	require.NoError(t, err)
	assert.Equal(t, "@utc", clock.Zone)

	hosts, ok := c.Parameter("hosts")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, hosts)
}

// TestLoader_Environment verifies %env()% reads the process environment before .env files.
func TestLoader_Environment(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "DIC_TEST_DSN=postgres://file\nDIC_TEST_TRANSPORT=ses\n")
	t.Setenv("DIC_TEST_DSN", "postgres://process")

	env, err := manifest.NewEnv(envFile)
	require.NoError(t, err)

	f, err := manifest.Parse([]byte(`
parameters:
  dsn: "%env(DIC_TEST_DSN)%"
services:
  logger:
    class: fixture.NewMemoryLogger
  conn.factory:
    class: fixture.NewConnectionFactory
    arguments: ["%dsn%"]
  mailer:
    class: fixture.NewMailer
    arguments: ["@logger", "%env(DIC_TEST_TRANSPORT)%"]
`))
	require.NoError(t, err)

	b := di.NewBuilder()
	require.NoError(t, manifest.NewLoader(constructors(), manifest.WithEnv(env)).Apply(b, f))
	c, err := b.Compile()
	require.NoError(t, err)

	cf, err := di.Get[*fixture.ConnectionFactory](c, "conn.factory")
	require.NoError(t, err)
	assert.Equal(t, "postgres://process", cf.DSN)

	m, err := di.Get[*fixture.Mailer](c, "mailer")
	require.NoError(t, err)
	assert.Equal(t, "ses", m.Transport)

	_, err = manifest.NewEnv(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

// TestLoader_Errors verifies invalid services are reported with their id.
func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		doc       string
		wantID    string
		wantErr   string
		wantErrIs error
	}{
		{
			name:    "unknown class",
			doc:     "services:\n  x:\n    class: app.Missing\n",
			wantID:  "x",
			wantErr: `unknown class "app.Missing"`,
		},
		{
			name:    "unknown factory",
			doc:     "services:\n  x:\n    factory: app.NewX\n",
			wantID:  "x",
			wantErr: `unknown factory "app.NewX"`,
		},
		{
			name:    "malformed service factory",
			doc:     "services:\n  x:\n    factory: \"@conn\"\n",
			wantID:  "x",
			wantErr: "@service::Method",
		},
		{
			name:    "class and factory",
			doc:     "services:\n  x:\n    class: fixture.NewMemStore\n    factory: fixture.NewMemStore\n",
			wantID:  "x",
			wantErr: "mutually exclusive",
		},
		{
			name:      "decorating a missing service",
			doc:       "services:\n  x:\n    class: fixture.NewMemStore\n    decorates: nothing\n",
			wantID:    "x",
			wantErrIs: di.ErrNotFound,
		},
		{
			name:    "missing environment variable",
			doc:     "services:\n  x:\n    class: fixture.NewConnectionFactory\n    arguments: [\"%env(DIC_TEST_UNSET_VARIABLE)%\"]\n",
			wantID:  "x",
			wantErr: `"DIC_TEST_UNSET_VARIABLE" is not set`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := manifest.Parse([]byte(tt.doc))
			require.NoError(t, err)
			err = manifest.NewLoader(constructors()).Apply(di.NewBuilder(), f)

			var se manifest.ServiceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantID, se.ID)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}
		})
	}
}

// TestLoader_ParameterErrors verifies parameter expansion failures stop loading.
func TestLoader_ParameterErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{name: "self reference", params: map[string]any{"a": "%b%", "b": "x%a%"}, wantErr: "references itself"},
		{name: "undefined", params: map[string]any{"a": "%nope%"}, wantErr: `parameter "nope" is not defined`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := manifest.NewLoader().Apply(di.NewBuilder(), &manifest.File{Parameters: tt.params})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoader_Provider verifies a manifest takes part in a provider registry.
func TestLoader_Provider(t *testing.T) {
	t.Parallel()

	f, err := manifest.Parse([]byte(appManifest))
	require.NoError(t, err)

	b := di.NewBuilder()
	reg := di.NewProviderRegistry(manifest.NewLoader(constructors()).Provider(f))
	require.NoError(t, reg.Apply(b))
	assert.True(t, b.Has("mail"))
	assert.Equal(t, []string{"h.upper", "h.trim"}, b.Tagged("handler"))
}
