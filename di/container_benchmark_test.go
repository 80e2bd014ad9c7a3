package di_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/sghaida/dic/di"
	"github.com/sghaida/dic/internal/fixture"
)

/*
   Shared helpers (NOT counted in benchmarks)
*/

func benchBuilder() *di.Builder {
	b := di.NewBuilder()
	b.SetParameter("mail.transport", "smtp")
	b.Autowire("logger", fixture.NewMemoryLogger)
	b.Autowire("mailer", fixture.NewMailer).
		SetArgument(0, di.Ref("logger")).
		SetArgument(1, di.Param("mail.transport"))
	b.Autowire("counter", fixture.NewCounter).SetShared(false)
	b.Autowire("h.upper", fixture.NewUpperHandler).AddTag(handlerType)
	b.Autowire("h.trim", fixture.NewTrimHandler).AddTag(handlerType)
	b.Autowire("pipeline", fixture.NewPipeline).SetShared(false)
	return b
}

func benchContainer(b *testing.B, compiled bool) *di.Container {
	b.Helper()
	if !compiled {
		return benchBuilder().Container()
	}
	c, err := benchBuilder().Compile()
	if err != nil {
		b.Fatal(err)
	}
	return c
}

func benchGet(b *testing.B, c *di.Container, id string) {
	b.Helper()
	if _, err := c.Get(id); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get(id)
	}
}

/*
   Benchmarks
*/

func BenchmarkCompile(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := benchBuilder().Compile(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet_Shared_Compiled(b *testing.B) { benchGet(b, benchContainer(b, true), "mailer") }

func BenchmarkGet_Shared_Interpreted(b *testing.B) { benchGet(b, benchContainer(b, false), "mailer") }

func BenchmarkGet_NonShared_Compiled(b *testing.B) { benchGet(b, benchContainer(b, true), "counter") }

func BenchmarkGet_NonShared_Interpreted(b *testing.B) {
	benchGet(b, benchContainer(b, false), "counter")
}

func BenchmarkGet_Variadic_Compiled(b *testing.B) { benchGet(b, benchContainer(b, true), "pipeline") }

func BenchmarkGet_Alias(b *testing.B) {
	bld := benchBuilder()
	bld.Alias("mail", "mailer")
	c, err := bld.Compile()
	if err != nil {
		b.Fatal(err)
	}
	benchGet(b, c, "mail")
}

func BenchmarkGet_Parallel(b *testing.B) {
	c := benchContainer(b, true)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = c.Get("mailer")
		}
	})
}

func BenchmarkNewScope(b *testing.B) {
	bld := benchBuilder()
	bld.Register("request", di.NewSynthetic(di.TypeOf[*fixture.Conn]()))
	c, err := bld.Compile(di.WithoutPruning())
	if err != nil {
		b.Fatal(err)
	}
	conn := &fixture.Conn{Name: "req"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := c.NewScope()
		_ = s.Set("request", conn)
	}
}

func BenchmarkGet_WithLogger(b *testing.B) {
	bld := benchBuilder()
	c := bld.Container(di.WithLogger(zerolog.Nop()))
	benchGet(b, c, "counter")
}
