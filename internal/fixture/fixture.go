// Package fixture holds small services wired by the container tests and the
// example application. Constructors are package-level functions so compiled
// containers can call them directly.
package fixture

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sghaida/dic/di"
)

// Logger records messages.
type Logger interface {
	Log(msg string)
}

// MemoryLogger keeps every line in memory.
type MemoryLogger struct {
	mu    sync.Mutex
	lines []string
}

func NewMemoryLogger() *MemoryLogger { return &MemoryLogger{} }

func (l *MemoryLogger) Log(msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, msg)
	l.mu.Unlock()
}

// Lines returns a copy of the logged lines.
func (l *MemoryLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Store is a named backend.
type Store interface {
	Name() string
}

type SQLStore struct{ DSN string }

func NewSQLStore(dsn string) *SQLStore { return &SQLStore{DSN: dsn} }

func (*SQLStore) Name() string { return "sql" }

type MemStore struct{}

func NewMemStore() *MemStore { return &MemStore{} }

func (*MemStore) Name() string { return "mem" }

// Reports and Billing both need a Store; contextual bindings give them
// different ones.
type Reports struct{ Store Store }

func NewReports(s Store) *Reports { return &Reports{Store: s} }

type Billing struct{ Store Store }

func NewBilling(s Store) *Billing { return &Billing{Store: s} }

// ErrNoTransport is returned by NewMailer for an empty transport.
var ErrNoTransport = errors.New("fixture: mailer transport is empty")

// Mailer sends mail through a transport and closes with the container.
type Mailer struct {
	Logger    Logger
	Transport string
	closed    atomic.Bool
}

func NewMailer(l Logger, transport string) (*Mailer, error) {
	if transport == "" {
		return nil, ErrNoTransport
	}
	return &Mailer{Logger: l, Transport: transport}, nil
}

func (m *Mailer) Close() error {
	m.closed.Store(true)
	if m.Logger != nil {
		m.Logger.Log("mailer closed")
	}
	return nil
}

// Closed reports whether Close ran.
func (m *Mailer) Closed() bool { return m.closed.Load() }

// Cache is never bound in tests; it exercises nullable parameters.
type Cache interface {
	Get(key string) (any, bool)
}

// Profile takes an optional Cache.
type Profile struct{ Cache di.Optional[Cache] }

func NewProfile(c di.Optional[Cache]) *Profile { return &Profile{Cache: c} }

// A and B need each other.
type A struct{ B *B }

func NewA(b *B) *A { return &A{B: b} }

type B struct{ A *A }

func NewB(a *A) *B { return &B{A: a} }

// Decorator wraps text.
type Decorator interface {
	Decorate(s string) string
}

// Decorated consumes a Decorator.
type Decorated struct{ Decorator Decorator }

func NewDecorated(d Decorator) *Decorated { return &Decorated{Decorator: d} }

// LoggingDecorator takes its inner decorator eagerly.
type LoggingDecorator struct {
	Logger Logger
	Inner  Decorator
}

func NewLoggingDecorator(l Logger, inner Decorator) *LoggingDecorator {
	return &LoggingDecorator{Logger: l, Inner: inner}
}

func (d *LoggingDecorator) Decorate(s string) string {
	d.Logger.Log(s)
	return "[" + s + "]"
}

// DeferredDecorator resolves its inner decorator on demand.
type DeferredDecorator struct {
	Logger Logger
	inner  func() (Decorator, error)
}

func NewDeferredDecorator(l Logger, inner func() (Decorator, error)) *DeferredDecorator {
	return &DeferredDecorator{Logger: l, inner: inner}
}

func (d *DeferredDecorator) Decorate(s string) string {
	d.Logger.Log(s)
	return "<" + s + ">"
}

// Inner resolves the inner decorator.
func (d *DeferredDecorator) Inner() (Decorator, error) { return d.inner() }

// Handler transforms one string.
type Handler interface {
	Handle(s string) string
}

type UpperHandler struct{}

func NewUpperHandler() *UpperHandler { return &UpperHandler{} }

func (*UpperHandler) Handle(s string) string { return strings.ToUpper(s) }

type TrimHandler struct{}

func NewTrimHandler() *TrimHandler { return &TrimHandler{} }

func (*TrimHandler) Handle(s string) string { return strings.TrimSpace(s) }

// Pipeline runs every handler in order.
type Pipeline struct{ Handlers []Handler }

func NewPipeline(hs ...Handler) *Pipeline { return &Pipeline{Handlers: hs} }

func (p *Pipeline) Run(s string) string {
	for _, h := range p.Handlers {
		s = h.Handle(s)
	}
	return s
}

// Notifier gets its logger through an opted-in setter.
type Notifier struct {
	Logger Logger
	Prefix string
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) SetLogger(l Logger) { n.Logger = l }

func (n *Notifier) SetPrefix(p string) { n.Prefix = p }

// AutowiredSetters implements di.SetterAutowirer.
func (*Notifier) AutowiredSetters() []string { return []string{"SetLogger"} }

// ConnectionFactory opens named connections.
type ConnectionFactory struct{ DSN string }

func NewConnectionFactory(dsn string) *ConnectionFactory { return &ConnectionFactory{DSN: dsn} }

// Open returns a connection for name.
func (f *ConnectionFactory) Open(name string) (*Conn, error) {
	if name == "" {
		return nil, errors.New("fixture: empty connection name")
	}
	return &Conn{Name: name, DSN: f.DSN}, nil
}

type Conn struct {
	Name string
	DSN  string
}

// Counter counts constructions.
type Counter struct{ N int64 }

var counted atomic.Int64

func NewCounter() *Counter { return &Counter{N: counted.Add(1)} }

// ErrBoom is returned by NewFailing.
var ErrBoom = errors.New("fixture: boom")

type Failing struct{}

func NewFailing() (*Failing, error) { return nil, ErrBoom }

type Panicking struct{}

func NewPanicking() *Panicking { panic("fixture: kaboom") }

// Clock is a plain struct built from its zero value.
type Clock struct{ Zone string }

func (c *Clock) SetZone(z string) { c.Zone = z }
