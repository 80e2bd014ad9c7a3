// Package dic is a dependency injection toolkit for Go.
//
//   - di: the container (builder, autowiring, compiler, runtime, source dumper)
//   - di/diprom: Prometheus metrics for service construction
//   - manifest: YAML service manifests loaded into a builder
//   - cmd/dic: lint and graph commands over manifests
//   - examples/app: a provider based application run interpreted, compiled
//     and from a manifest
package dic
