// Package approval implements multi-approver gating for deployments.
//
// Each environment carries a rule: whether approval is required, how
// many distinct approvers must agree, which roles may decide, and how
// long a round stays open. A round captures its resume target when it is
// requested, so the orchestrator knows where to continue once the round
// resolves. One rejection resolves the round immediately; approvals
// accumulate until the required count is reached.
package approval
