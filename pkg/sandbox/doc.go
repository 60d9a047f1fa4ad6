// Package sandbox validates service credentials by running connection
// tests in isolated, time-bounded environments.
//
// Three tester strategies exist: builtin testers for well-known service
// types, Starlark scripts for generated tests, and WASM modules for
// compiled tests. All strategies honor context deadlines; the WASM
// runtime is additionally memory-capped and force-closed when the
// context ends.
//
// The Registry resolves a tester per service type, generating and
// persisting a test definition on first use so generation happens at
// most once per type.
package sandbox
