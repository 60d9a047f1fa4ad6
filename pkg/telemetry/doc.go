// Package telemetry provides observability for the DeployForge engine:
// structured logging via zerolog, distributed tracing via OpenTelemetry,
// Prometheus metrics, and an in-process lifecycle event bus.
//
// The Telemetry struct bundles all four and travels on the context so
// handlers and collaborators can instrument themselves without explicit
// plumbing.
package telemetry
