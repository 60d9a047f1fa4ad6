// Package policy evaluates Rego policies against deployment transitions.
//
// Built-in policies guard the irreversible edges of the lifecycle:
// production rollouts require a resolved approval round, sandbox rollouts
// require validated and sandbox-tested credentials, and production
// deployments may not rely on placeholder tool servers. Additional
// policies can be loaded from .rego files and hot-reloaded on change.
package policy
