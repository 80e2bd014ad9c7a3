// Command dic inspects service manifests without building any service.
//
// Usage:
//
//	dic lint  -m services.yaml [--strict]
//	dic graph -m services.yaml [-f text|yaml]
//
// lint reports undefined references, alias cycles, dependency cycles,
// undeclared parameters and suspicious tag usage. It exits with 1 when
// errors are found, or warnings under --strict.
//
// graph prints the services grouped by dependency level, the preload order
// and the graph hash that generated containers carry in their header.
//
// Settings may also come from dic.yaml and DIC_* environment variables
// (DIC_MANIFEST, DIC_LOG_LEVEL, ...); .env files are loaded first.
package main
