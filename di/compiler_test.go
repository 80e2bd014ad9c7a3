package di_test

import (
	"testing"

	"github.com/sghaida/dic/di"
	"github.com/sghaida/dic/internal/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//
// -----------------------------------------------------------------------------
// Inlining / pruning
// -----------------------------------------------------------------------------

// inlineBuilder has a private non-shared logger referenced once by the mailer.
func inlineBuilder() *di.Builder {
	b := di.NewBuilder()
	b.Autowire("logger", fixture.NewMemoryLogger).SetPublic(false).SetShared(false)
	b.Autowire("mailer", fixture.NewMailer).
		SetArgument(0, di.Ref("logger")).
		SetArgument(1, di.Lit("smtp"))
	b.Autowire("unused", fixture.NewMemStore).SetPublic(false)
	return b
}

// TestPlan_InlinesAndPrunes verifies single-use private services are inlined and unused ones dropped.
func TestPlan_InlinesAndPrunes(t *testing.T) {
	t.Parallel()

	b := inlineBuilder()
	p, err := b.Plan()
	require.NoError(t, err)

	assert.True(t, p.IsInlined("logger"))
	assert.False(t, p.IsInlined("mailer"))
	assert.Equal(t, []string{"logger", "mailer"}, p.IDs())

	c, err := b.Compile()
	require.NoError(t, err)
	m, err := di.Get[*fixture.Mailer](c, "mailer")
	require.NoError(t, err)
	assert.NotNil(t, m.Logger)

	_, err = c.Get("logger")
	assert.ErrorIs(t, err, di.ErrNotFound)
}

// TestPlan_Options verifies compile options switch stages off and are validated.
func TestPlan_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []di.CompileOption
		wantErrIs  error
		wantInline bool
		wantUnused bool
	}{
		{name: "defaults", wantInline: true},
		{name: "without inlining", opts: []di.CompileOption{di.WithoutInlining()}},
		{name: "without pruning", opts: []di.CompileOption{di.WithoutPruning()}, wantInline: true, wantUnused: true},
		{name: "empty preload tag", opts: []di.CompileOption{di.WithPreloadTag("")}, wantErrIs: di.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := inlineBuilder().Plan(tt.opts...)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantInline, p.IsInlined("logger"))
			_, ok := p.Definition("unused")
			assert.Equal(t, tt.wantUnused, ok)
		})
	}
}

//
// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

// TestCompile_UndefinedReference verifies strict references to missing ids fail compilation.
func TestCompile_UndefinedReference(t *testing.T) {
	t.Parallel()

	b := di.NewBuilder()
	b.Autowire("mailer", fixture.NewMailer).
		SetArgument(0, di.Ref("missing")).
		SetArgument(1, di.Lit("smtp"))

	_, err := b.Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, di.ErrNotFound)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.False(t, b.IsFrozen())
}

// TestCompile_NullOnInvalidReference verifies tolerant references compile and resolve to nil.
func TestCompile_NullOnInvalidReference(t *testing.T) {
	t.Parallel()

	eachMode(t, func() *di.Builder {
		b := di.NewBuilder()
		b.Autowire("mailer", fixture.NewMailer).
			SetArgument(0, di.RefOr("missing", di.NullOnInvalid)).
			SetArgument(1, di.Lit("smtp"))
		return b
	}, func(t *testing.T, c *di.Container) {
		m, err := di.Get[*fixture.Mailer](c, "mailer")
		require.NoError(t, err)
		assert.Nil(t, m.Logger)
	})
}

// TestCompile_IgnoreOnUninitialized verifies such references only see already built services.
func TestCompile_IgnoreOnUninitialized(t *testing.T) {
	t.Parallel()

	eachMode(t, func() *di.Builder {
		b := di.NewBuilder()
		b.Autowire("logger", fixture.NewMemoryLogger)
		b.Autowire("mailer", fixture.NewMailer).
			SetArgument(0, di.RefOr("logger", di.IgnoreOnUninitialized)).
			SetArgument(1, di.Lit("smtp")).
			SetShared(false)
		return b
	}, func(t *testing.T, c *di.Container) {
		m, err := di.Get[*fixture.Mailer](c, "mailer")
		require.NoError(t, err)
		assert.Nil(t, m.Logger)

		_, err = c.Get("logger")
		require.NoError(t, err)
		m, err = di.Get[*fixture.Mailer](c, "mailer")
		require.NoError(t, err)
		assert.NotNil(t, m.Logger)
	})
}

// TestCompile_CollectsEveryDiagnostic verifies all failures are reported at once.
func TestCompile_CollectsEveryDiagnostic(t *testing.T) {
	t.Parallel()

	b := di.NewBuilder()
	b.Autowire("reports", fixture.NewReports)
	b.Autowire("billing", fixture.NewBilling)

	_, err := b.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 container diagnostic(s)")
	assert.Contains(t, err.Error(), di.TypeOf[*fixture.Reports]())
	assert.Contains(t, err.Error(), di.TypeOf[*fixture.Billing]())
}

// TestCompile_Aliases verifies alias chains collapse and alias cycles fail.
func TestCompile_Aliases(t *testing.T) {
	t.Parallel()

	t.Run("chain", func(t *testing.T) {
		t.Parallel()

		b := mailerBuilder()
		b.Alias("mail", "mail.default")
		b.Alias("mail.default", "mailer")
		b.Register("mail.legacy", di.NewAlias("mail"))

		p, err := b.Plan()
		require.NoError(t, err)
		aliases := p.Aliases()
		assert.Equal(t, "mailer", aliases["mail"])
		assert.Equal(t, "mailer", aliases["mail.default"])
		assert.Equal(t, "mailer", aliases["mail.legacy"])

		c, err := b.Compile()
		require.NoError(t, err)
		v1, err := c.Get("mail.legacy")
		require.NoError(t, err)
		v2, err := c.Get("mailer")
		require.NoError(t, err)
		assert.Same(t, v1, v2)
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()

		b := di.NewBuilder()
		b.Alias("x", "y")
		b.Alias("y", "x")
		_, err := b.Compile()
		assert.ErrorIs(t, err, di.ErrCyclicDependency)
	})

	t.Run("guards", func(t *testing.T) {
		t.Parallel()

		b := di.NewBuilder()
		assert.ErrorIs(t, recoverError(func() { b.Alias("", "x") }), di.ErrInvalidArgument)
		assert.ErrorIs(t, recoverError(func() { b.Alias("x", "x") }), di.ErrInvalidArgument)
	})
}

//
// -----------------------------------------------------------------------------
// Freezing / hashing
// -----------------------------------------------------------------------------

// TestCompile_FreezesGraph verifies mutation after compile panics with FrozenError.
func TestCompile_FreezesGraph(t *testing.T) {
	t.Parallel()

	b := mailerBuilder()
	_, err := b.Compile()
	require.NoError(t, err)
	assert.True(t, b.IsFrozen())

	def, ok := b.Definition("mailer")
	require.True(t, ok)
	assert.True(t, def.IsFrozen())

	assert.ErrorIs(t, recoverError(func() { def.AddTag("x") }), di.ErrFrozen)
	assert.ErrorIs(t, recoverError(func() { b.Autowire("other", fixture.NewMemStore) }), di.ErrFrozen)
	assert.ErrorIs(t, recoverError(func() { b.SetParameter("k", 1) }), di.ErrFrozen)

	p1, err := b.Plan()
	require.NoError(t, err)
	p2, err := b.Plan()
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

// TestPlan_HashIsDeterministic verifies equal graphs hash equally and different graphs do not.
func TestPlan_HashIsDeterministic(t *testing.T) {
	t.Parallel()

	p1, err := mailerBuilder().Plan()
	require.NoError(t, err)
	p2, err := mailerBuilder().Plan()
	require.NoError(t, err)
	assert.Equal(t, p1.Hash(), p2.Hash())
	assert.Len(t, p1.Hash(), 64)

	b := mailerBuilder()
	b.SetParameter("mail.transport", "ses")
	p3, err := b.Plan()
	require.NoError(t, err)
	assert.NotEqual(t, p1.Hash(), p3.Hash())
}

// TestPlan_Levels verifies services are grouped dependencies first.
func TestPlan_Levels(t *testing.T) {
	t.Parallel()

	p, err := mailerBuilder().Plan()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"logger"}, {"mailer"}}, p.Levels())
	assert.Equal(t, "smtp", p.Parameters()["mail.transport"])
}

// TestPlan_PreloadIgnoresNonShared verifies the preload tag only applies to shared services.
func TestPlan_PreloadIgnoresNonShared(t *testing.T) {
	t.Parallel()

	b := mailerBuilder()
	b.Autowire("counter", fixture.NewCounter).SetShared(false).AddTag(di.TagPreload)
	b.Autowire("store", fixture.NewMemStore).AddTag(di.TagPreload)
	p, err := b.Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{"store"}, p.Preload())
}

//
// -----------------------------------------------------------------------------
// Analyze
// -----------------------------------------------------------------------------

// TestAnalyze_ReportsWithoutFreezing verifies Analyze inspects a copy of the graph.
func TestAnalyze_ReportsWithoutFreezing(t *testing.T) {
	t.Parallel()

	b := di.NewBuilder()
	b.Autowire("mailer", fixture.NewMailer).
		SetArgument(0, di.Ref("missing")).
		SetArgument(1, di.Lit("smtp"))

	p, err := b.Analyze()
	require.Error(t, err)
	require.NotNil(t, p)
	assert.False(t, b.IsFrozen())
	assert.False(t, b.Has("missing"))

	def, ok := p.Definition("missing")
	require.True(t, ok)
	assert.Equal(t, di.KindUndefined, def.Kind())
	assert.Contains(t, def.Reason(), `"mailer"`)
}

//
// -----------------------------------------------------------------------------
// Failure handling
// -----------------------------------------------------------------------------

// TestCompile_AliasToMissingService verifies an alias chain ending at an
// undefined id is reported instead of silently rewriting references.
func TestCompile_AliasToMissingService(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		aliases [][2]string
	}{
		{name: "direct", aliases: [][2]string{{"store.default", "store.missing"}}},
		{name: "chain", aliases: [][2]string{{"store.default", "store.primary"}, {"store.primary", "store.missing"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := di.NewBuilder()
			for _, a := range tt.aliases {
				b.Alias(a[0], a[1])
			}
			b.Autowire("reports", fixture.NewReports).SetArgument(0, di.Ref("store.default"))

			_, err := b.Compile()
			require.ErrorIs(t, err, di.ErrNotFound)
			assert.ErrorContains(t, err, `"store.missing"`)
			assert.False(t, b.IsFrozen())

			p, err := b.Analyze()
			require.Error(t, err)
			def, ok := p.Definition("store.missing")
			require.True(t, ok)
			assert.Equal(t, di.KindUndefined, def.Kind())
		})
	}
}

// TestCompile_FailureLeavesBuilderUsable verifies a failed compile changes
// nothing, so the graph can be fixed and compiled again.
func TestCompile_FailureLeavesBuilderUsable(t *testing.T) {
	t.Parallel()

	b := di.NewBuilder()
	reports := b.Autowire("reports", fixture.NewReports)

	_, err := b.Compile()
	require.ErrorIs(t, err, di.ErrUnresolvable)
	assert.False(t, b.IsFrozen())
	def, ok := b.Definition("reports")
	require.True(t, ok)
	assert.Equal(t, di.KindObject, def.Kind())
	assert.Len(t, b.IDs(), 1)

	b.Autowire("store", fixture.NewMemStore)
	b.Alias(storeType, "store")
	c, err := b.Compile()
	require.NoError(t, err)

	r, err := di.Get[*fixture.Reports](c, "reports")
	require.NoError(t, err)
	assert.Equal(t, "mem", r.Store.Name())
	assert.True(t, reports.IsFrozen())
}

// TestPlan_HashIgnoresAddresses verifies pointer values hash by content.
func TestPlan_HashIgnoresAddresses(t *testing.T) {
	t.Parallel()

	build := func(zone string) *di.Builder {
		b := mailerBuilder()
		b.SetParameter("clock", &fixture.Clock{Zone: zone})
		b.Autowire("reports", fixture.NewReports).SetArgument(0, di.Lit(fixture.NewSQLStore(zone)))
		return b
	}

	p1, err := build("UTC").Plan()
	require.NoError(t, err)
	p2, err := build("UTC").Plan()
	require.NoError(t, err)
	assert.Equal(t, p1.Hash(), p2.Hash())

	p3, err := build("CET").Plan()
	require.NoError(t, err)
	assert.NotEqual(t, p1.Hash(), p3.Hash())
}
