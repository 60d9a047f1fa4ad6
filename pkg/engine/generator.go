package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deployforge/deployforge/pkg/toolproto"
)

// Tool server and tool names the generator calls. Each server should carry
// a local fallback so the pipeline keeps moving when the remote side is a
// placeholder or down.
const (
	ServerAnalyzer  = "analyzer"
	ServerPlanner   = "planner"
	ServerGenerator = "generator"
	ServerEstimator = "estimator"

	ToolAnalyzeRepository = "analyze_repository"
	ToolCreatePlan        = "create_plan"
	ToolGenerateConfigs   = "generate_configs"
	ToolEstimateCosts     = "estimate_costs"
	ToolGenerateConnTest  = "generate_connection_test"
)

// ToolCodeGenerator fronts the tool server registry with the CodeGenerator
// interface. It also generates sandbox connection tests for service types
// without a builtin tester.
type ToolCodeGenerator struct {
	tools *toolproto.Registry
}

// NewToolCodeGenerator creates a generator backed by the given registry.
func NewToolCodeGenerator(tools *toolproto.Registry) *ToolCodeGenerator {
	return &ToolCodeGenerator{tools: tools}
}

// AnalyzeRepository asks the analyzer server what the repository needs.
func (g *ToolCodeGenerator) AnalyzeRepository(ctx context.Context, repository string) (*AnalysisResult, error) {
	raw, err := g.tools.Call(ctx, ServerAnalyzer, ToolAnalyzeRepository, map[string]interface{}{
		"repository": repository,
	})
	if err != nil {
		return nil, err
	}

	var result AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("analyzer returned malformed result: %w", err)
	}
	if len(result.Analysis) == 0 {
		result.Analysis = raw
	}
	return &result, nil
}

// GeneratePlan asks the planner server for a deployment plan.
func (g *ToolCodeGenerator) GeneratePlan(ctx context.Context, dep *Deployment) (string, error) {
	raw, err := g.tools.Call(ctx, ServerPlanner, ToolCreatePlan, map[string]interface{}{
		"repository":  dep.Repository,
		"environment": dep.Environment,
		"analysis":    json.RawMessage(dep.Requirements.Analysis),
		"services":    dep.Requirements.DetectedServices,
	})
	if err != nil {
		return "", err
	}
	return decodeText(raw, "plan")
}

// GenerateFiles asks the generator server for infrastructure files.
func (g *ToolCodeGenerator) GenerateFiles(ctx context.Context, dep *Deployment) (map[string]string, error) {
	raw, err := g.tools.Call(ctx, ServerGenerator, ToolGenerateConfigs, map[string]interface{}{
		"repository":  dep.Repository,
		"environment": dep.Environment,
		"plan":        dep.Requirements.Plan,
		"services":    dep.Requirements.DetectedServices,
		"variables":   dep.Requirements.Variables,
	})
	if err != nil {
		return nil, err
	}

	// Accept either a bare name->content map or a wrapper with a "files" key.
	var wrapper struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Files) > 0 {
		return wrapper.Files, nil
	}
	var files map[string]string
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("generator returned malformed files: %w", err)
	}
	return files, nil
}

// EstimateCost asks the estimator server for a cost estimate.
func (g *ToolCodeGenerator) EstimateCost(ctx context.Context, dep *Deployment) (string, error) {
	raw, err := g.tools.Call(ctx, ServerEstimator, ToolEstimateCosts, map[string]interface{}{
		"environment": dep.Environment,
		"plan":        dep.Requirements.Plan,
		"files":       dep.Requirements.GeneratedFiles,
	})
	if err != nil {
		return "", err
	}
	return decodeText(raw, "estimate")
}

// GenerateTest asks the generator server for a sandbox connection test.
// Implements the sandbox registry's Generator interface.
func (g *ToolCodeGenerator) GenerateTest(ctx context.Context, serviceType, credentialSchema string) (string, string, error) {
	raw, err := g.tools.Call(ctx, ServerGenerator, ToolGenerateConnTest, map[string]interface{}{
		"service_type":      serviceType,
		"credential_schema": credentialSchema,
	})
	if err != nil {
		return "", "", err
	}

	var result struct {
		Source   string `json:"source"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", "", fmt.Errorf("generator returned malformed test: %w", err)
	}
	if result.Source == "" {
		return "", "", fmt.Errorf("generator returned an empty test for %s", serviceType)
	}
	if result.Language == "" {
		result.Language = "starlark"
	}
	return result.Source, result.Language, nil
}

// decodeText extracts a text payload that may arrive as a bare JSON string
// or wrapped in an object under the given key.
func decodeText(raw json.RawMessage, key string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("malformed %s payload: %w", key, err)
	}
	if v, ok := obj[key].(string); ok {
		return v, nil
	}
	if v, ok := obj["content"].(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("%s payload missing %q field", key, key)
}
