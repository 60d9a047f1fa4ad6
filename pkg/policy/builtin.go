package policy

import (
	"time"
)

// BuiltinPolicies returns the policies every engine loads at startup.
func BuiltinPolicies() []Policy {
	return []Policy{
		productionApprovalPolicy(),
		credentialValidationPolicy(),
		placeholderToolServerPolicy(),
		terminalStatusPolicy(),
	}
}

// productionApprovalPolicy blocks production rollouts whose approval round
// has not resolved as approved.
func productionApprovalPolicy() Policy {
	return Policy{
		Name:        "production-approval",
		Description: "Production rollouts require a resolved approval round",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"approval", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployforge.policies.approval

import rego.v1

deny contains violation if {
	input.transition.to == "deploying"
	input.deployment.environment == "production"
	input.approval.required
	not input.approval.resolved
	violation := {
		"message": sprintf("deployment %s cannot roll out to production: approval round has %d of %d required approvals", [input.deployment.id, input.approval.approvals, input.approval.required_count]),
		"severity": "critical",
		"remediation": "wait for the remaining approvers to decide",
	}
}

deny contains violation if {
	input.transition.to == "deploying"
	input.deployment.environment == "production"
	not input.approval
	violation := {
		"message": sprintf("deployment %s cannot roll out to production without an approval round", [input.deployment.id]),
		"severity": "critical",
		"remediation": "request approval for the deployment",
	}
}`,
	}
}

// credentialValidationPolicy blocks sandbox rollouts until every detected
// service type has a validated, sandbox-tested credential.
func credentialValidationPolicy() Policy {
	return Policy{
		Name:        "credential-validation",
		Description: "Sandbox rollouts require validated, sandbox-tested credentials",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"credentials", "sandbox"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployforge.policies.credentials

import rego.v1

deny contains violation if {
	input.transition.to == "sandbox_deploying"
	count(input.credentials.service_types) > 0
	not input.credentials.validated
	violation := {
		"message": sprintf("deployment %s has unvalidated credentials for services %v", [input.deployment.id, input.credentials.service_types]),
		"severity": "error",
		"remediation": "validate a credential for every detected service type",
	}
}

deny contains violation if {
	input.transition.to == "sandbox_deploying"
	count(input.credentials.service_types) > 0
	input.credentials.validated
	not input.credentials.sandbox_tested
	violation := {
		"message": sprintf("deployment %s has credentials that never passed a sandbox connection test", [input.deployment.id]),
		"severity": "error",
		"remediation": "run the sandbox connection test for each credential",
	}
}`,
	}
}

// placeholderToolServerPolicy blocks production rollouts that would rely on
// fallback-only tool servers, and warns about them elsewhere.
func placeholderToolServerPolicy() Policy {
	return Policy{
		Name:        "placeholder-tool-server",
		Description: "Production rollouts must not depend on placeholder tool servers",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tools", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployforge.policies.tools

import rego.v1

deny contains violation if {
	input.transition.to == "deploying"
	input.deployment.environment == "production"
	some server in input.tool_servers
	server.fallback_only
	violation := {
		"message": sprintf("tool server %s has a placeholder URL %q and would serve production from local fallbacks", [server.name, server.url]),
		"severity": "error",
		"remediation": "configure a real URL for the tool server",
	}
}

deny contains violation if {
	input.transition.to != "deploying"
	some server in input.tool_servers
	server.fallback_only
	violation := {
		"message": sprintf("tool server %s has a placeholder URL %q; calls use local fallbacks", [server.name, server.url]),
		"severity": "warning",
	}
}`,
	}
}

// terminalStatusPolicy denies transitions out of terminal statuses. The
// transition graph already refuses these edges; the policy catches direct
// store manipulation.
func terminalStatusPolicy() Policy {
	return Policy{
		Name:        "terminal-status",
		Description: "Terminal deployments never transition again",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"lifecycle"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployforge.policies.lifecycle

import rego.v1

terminal := {"rolled_back", "cancelled"}

deny contains violation if {
	input.transition.from in terminal
	violation := {
		"message": sprintf("deployment %s is %s and cannot transition to %s", [input.deployment.id, input.transition.from, input.transition.to]),
		"severity": "critical",
	}
}`,
	}
}
