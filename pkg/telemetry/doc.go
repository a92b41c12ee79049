// Package telemetry provides observability for the bundler: structured
// logging via zerolog, distributed tracing via OpenTelemetry, Prometheus
// metrics, and an in-process event stream.
//
// The Telemetry struct bundles all four and travels through contexts so
// the engine and CLI can instrument compilations without wiring each
// component separately.
package telemetry
