// Package gate computes step-completion status for deployments.
//
// Each logical step declares its completion criteria and its dependencies
// on other steps. The dependency graph is separate from the status
// transition graph: the orchestrator consults the gate before entering a
// status that maps to a gated step, and a blocked result is a normal
// outcome that names the blocking step, not an error.
package gate
