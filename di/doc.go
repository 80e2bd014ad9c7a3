// Package di is a dependency injection container with autowiring,
// contextual binding and an optional compile step.
//
// Services are declared on a Builder, either explicitly or by handing it a
// constructor to autowire:
//
//	b := di.NewBuilder()
//	b.SetParameter("mail.transport", "smtp")
//	b.Autowire("logger", NewLogger)
//	b.Autowire("mailer", NewMailer).SetArgument(1, di.Param("mail.transport"))
//	b.Alias(di.TypeOf[Logger](), "logger")
//
// Constructor parameters are resolved by type. Candidates are a service or
// alias registered under the type name, then services tagged with it or
// producing it; a service marked SetDefault breaks ties. Concrete classes
// nobody registered are synthesized as private shared services. When one
// consumer needs a different implementation, bind it contextually:
//
//	b.When(di.TypeOf[*Reports]()).Needs(di.TypeOf[Store]()).Give("store.sql")
//
// A container can run the graph directly:
//
//	c := b.Container()
//
// or compile it first. Compilation autowires everything, reports every
// undefined reference and cycle at once, inlines single-use private
// services, drops unused ones and freezes the builder:
//
//	c, err := b.Compile()
//
// Dump renders a compiled plan as Go source that builds the same container
// without reflection; NewCompiled loads it.
//
// Shared services are built once per container and memoized under a
// per-service lock, so Get is safe for concurrent use. A func() T or
// func() (T, error) parameter receives a lazy reference, which is how
// mutually dependent services are wired.
package di
