// Package engine implements the deployment lifecycle orchestration engine.
//
// The engine owns the deployment aggregate and its state machine: a static
// transition graph over ~30 named statuses, a handler per status, and a
// bounded work loop that advances a deployment until it reaches a terminal
// status or a status that requires external input (collected variables,
// validated credentials, or an approval decision).
//
// The engine never talks to external systems directly. Code generation,
// source control, cloud providers and notification delivery are collaborator
// interfaces (see interfaces.go); step gating, credential validation,
// tool-protocol calls and approvals are separate packages wired into the
// orchestrator at construction time.
//
// Concurrency model: one in-flight mutation per deployment, enforced by an
// optimistic version check at the persistence layer. Unrelated deployments
// proceed fully in parallel. Monitoring loops are independent repeating
// tasks keyed by deployment id.
package engine
