package di_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sghaida/dic/di"
	"github.com/sghaida/dic/internal/fixture"
	"github.com/stretchr/testify/require"
)

// mode builds a container from a builder, either interpreted or compiled.
type mode struct {
	name  string
	build func(t *testing.T, b *di.Builder) *di.Container
}

var modes = []mode{
	{
		name: "interpreted",
		build: func(t *testing.T, b *di.Builder) *di.Container {
			return b.Container()
		},
	},
	{
		name: "compiled",
		build: func(t *testing.T, b *di.Builder) *di.Container {
			c, err := b.Compile()
			require.NoError(t, err)
			return c
		},
	},
}

// eachMode runs fn once per container mode with a fresh builder.
func eachMode(t *testing.T, newBuilder func() *di.Builder, fn func(t *testing.T, c *di.Container)) {
	t.Helper()
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			t.Parallel()
			fn(t, m.build(t, newBuilder()))
		})
	}
}

// recoverError runs fn and returns the error it panicked with.
func recoverError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}

var loggerType = di.TypeOf[fixture.Logger]()

// mailerBuilder registers a shared logger bound to the Logger interface and a
// mailer using it.
func mailerBuilder() *di.Builder {
	b := di.NewBuilder()
	b.SetParameter("mail.transport", "smtp")
	b.Autowire("logger", fixture.NewMemoryLogger)
	b.Alias(loggerType, "logger")
	b.Autowire("mailer", fixture.NewMailer).SetArgument(1, di.Param("mail.transport"))
	return b
}

// recordingObserver remembers every construction it is told about.
type recordingObserver struct {
	mu   sync.Mutex
	seen []string
	errs []error
}

func (o *recordingObserver) Resolved(id string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, id)
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) ids() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

func (o *recordingObserver) lastErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.errs) == 0 {
		return nil
	}
	return o.errs[len(o.errs)-1]
}
