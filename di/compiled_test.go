package di_test

import (
	"testing"

	"github.com/sghaida/dic/di"
	"github.com/sghaida/dic/internal/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handWritten mirrors what Dump emits for mailerBuilder.
func handWritten(opts ...di.Option) *di.Container {
	return di.NewCompiled(di.CompiledSpec{
		Services: map[string]di.CompiledService{
			"logger": {Shared: true, Public: true, Build: func(di.Resolver) (any, error) {
				return fixture.NewMemoryLogger(), nil
			}},
			"mailer": {Shared: true, Public: true, Build: func(r di.Resolver) (any, error) {
				v1, err := r.Service("logger", di.Strict)
				if err != nil {
					return nil, err
				}
				v2, err := r.Lookup("mail.transport")
				if err != nil {
					return nil, err
				}
				return fixture.NewMailer(di.As[fixture.Logger](v1), di.As[string](v2))
			}},
			"counter": {Shared: false, Public: true, Build: func(di.Resolver) (any, error) {
				return fixture.NewCounter(), nil
			}},
		},
		Aliases:    map[string]string{"mail": "mailer"},
		Parameters: map[string]any{"mail.transport": "smtp"},
		Preload:    []string{"logger"},
		Synthetic:  []string{"request"},
		Hash:       "abc",
	}, opts...)
}

// TestNewCompiled_RunsTable verifies a generated table behaves like a compiled builder.
func TestNewCompiled_RunsTable(t *testing.T) {
	t.Parallel()

	c := handWritten()
	assert.True(t, c.IsCompiled())
	assert.Equal(t, []string{"logger"}, c.Preload())
	require.NoError(t, c.Boot())

	m1, err := di.Get[*fixture.Mailer](c, "mail")
	require.NoError(t, err)
	m2 := di.MustGet[*fixture.Mailer](c, "mailer")
	assert.Same(t, m1, m2)
	assert.Equal(t, "smtp", m1.Transport)

	c1 := di.MustGet[*fixture.Counter](c, "counter")
	c2 := di.MustGet[*fixture.Counter](c, "counter")
	assert.NotSame(t, c1, c2)

	assert.False(t, c.Has("request"))
	_, err = c.Get("request")
	assert.ErrorIs(t, err, di.ErrSyntheticNotSet)
	require.NoError(t, c.Set("request", &fixture.Conn{Name: "req"}))
	assert.True(t, c.Has("request"))

	assert.Equal(t, []string{"counter", "logger", "mailer", "request"}, c.ServiceIDs())
}

// TestNewCompiled_ParameterSource verifies external parameters override the table.
func TestNewCompiled_ParameterSource(t *testing.T) {
	t.Parallel()

	c := handWritten(di.WithParameterSource(di.NewParameterBag().Set("mail.transport", "ses")))
	m, err := di.Get[*fixture.Mailer](c, "mailer")
	require.NoError(t, err)
	assert.Equal(t, "ses", m.Transport)
}

//
// -----------------------------------------------------------------------------
// As / Slice
// -----------------------------------------------------------------------------

// TestAs_Converts verifies nil, exact and numeric conversions.
func TestAs_Converts(t *testing.T) {
	t.Parallel()

	assert.Nil(t, di.As[fixture.Logger](nil))
	assert.Equal(t, 3, di.As[int](3))
	assert.Equal(t, int64(3), di.As[int64](3))
	assert.Equal(t, 2.0, di.As[float64](2))

	l := fixture.NewMemoryLogger()
	assert.Same(t, l, di.As[fixture.Logger](l))

	assert.Panics(t, func() { di.As[int]("three") })
}

// TestSlice_Converts verifies Slice converts every element.
func TestSlice_Converts(t *testing.T) {
	t.Parallel()

	hs := di.Slice[fixture.Handler](fixture.NewUpperHandler(), fixture.NewTrimHandler())
	require.Len(t, hs, 2)
	assert.Equal(t, "HI", fixture.NewPipeline(hs...).Run(" hi "))
}
