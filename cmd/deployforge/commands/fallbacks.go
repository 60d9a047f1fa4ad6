package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deployforge/deployforge/pkg/engine"
	"github.com/deployforge/deployforge/pkg/toolproto"
)

// registerFallbacks installs local implementations for every tool the
// engine calls, so a deployment can run end to end with placeholder or
// unreachable tool servers. The fallbacks are deliberately conservative:
// no detected services, generic infrastructure files, flat cost estimate.
func registerFallbacks(tools *toolproto.Registry) {
	tools.RegisterFallback(engine.ServerAnalyzer, engine.ToolAnalyzeRepository, fallbackAnalyze)
	tools.RegisterFallback(engine.ServerPlanner, engine.ToolCreatePlan, fallbackPlan)
	tools.RegisterFallback(engine.ServerGenerator, engine.ToolGenerateConfigs, fallbackGenerate)
	tools.RegisterFallback(engine.ServerEstimator, engine.ToolEstimateCosts, fallbackEstimate)
	tools.RegisterFallback(engine.ServerGenerator, engine.ToolGenerateConnTest, fallbackConnTest)
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func stringsArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func fallbackAnalyze(_ context.Context, args map[string]interface{}) (json.RawMessage, error) {
	repository := stringArg(args, "repository")
	result := map[string]interface{}{
		"analysis": map[string]interface{}{
			"repository": repository,
			"source":     "local-fallback",
			"notes":      "no tool server available, assuming a standalone containerized service",
		},
		"detected_services":  []string{},
		"required_variables": []string{},
	}
	return json.Marshal(result)
}

func fallbackPlan(_ context.Context, args map[string]interface{}) (json.RawMessage, error) {
	repository := stringArg(args, "repository")
	environment := stringArg(args, "environment")
	services := stringsArg(args, "services")

	var b strings.Builder
	fmt.Fprintf(&b, "Deployment plan for %s (%s)\n\n", repository, environment)
	b.WriteString("1. Build the container image from the repository Dockerfile\n")
	b.WriteString("2. Provision a container service\n")
	for i, svc := range services {
		fmt.Fprintf(&b, "%d. Provision managed %s and wire its connection string\n", i+3, svc)
	}
	fmt.Fprintf(&b, "%d. Route traffic and enable health checks\n", len(services)+3)
	return json.Marshal(b.String())
}

func fallbackGenerate(_ context.Context, args map[string]interface{}) (json.RawMessage, error) {
	environment := stringArg(args, "environment")
	services := stringsArg(args, "services")

	var svcResources strings.Builder
	for _, svc := range services {
		fmt.Fprintf(&svcResources, "\nmodule %q {\n  source = \"./modules/%s\"\n}\n", svc, svc)
	}

	files := map[string]string{
		"Dockerfile": strings.Join([]string{
			"FROM alpine:3.20",
			"WORKDIR /app",
			"COPY . .",
			`CMD ["./start.sh"]`,
			"",
		}, "\n"),
		"main.tf": fmt.Sprintf(`resource "aws_ecs_service" "app" {
  name = "app-%s"
}
%s`, environment, svcResources.String()),
		"variables.tf": `variable "environment" {
  type = string
}
`,
		"outputs.tf": `output "service_url" {
  value = aws_ecs_service.app.name
}
`,
	}
	return json.Marshal(map[string]interface{}{"files": files})
}

func fallbackEstimate(_ context.Context, args map[string]interface{}) (json.RawMessage, error) {
	services := stringsArg(args, "services")
	// Flat rates: the fallback cannot price real instance types
	base := 25.0
	perService := 15.0
	total := base + perService*float64(len(services))

	var b strings.Builder
	fmt.Fprintf(&b, "Estimated monthly cost: $%.2f\n", total)
	fmt.Fprintf(&b, "  container service: $%.2f\n", base)
	for _, svc := range services {
		fmt.Fprintf(&b, "  managed %s: $%.2f\n", svc, perService)
	}
	b.WriteString("Estimate produced by local fallback, not provider pricing APIs\n")
	return json.Marshal(b.String())
}

func fallbackConnTest(_ context.Context, args map[string]interface{}) (json.RawMessage, error) {
	serviceType := stringArg(args, "service_type")
	source := fmt.Sprintf(`
host = creds.get("host", "")
success = host != ""
message = "host reachable check for %s" if success else "host is required"
details = {"service_type": %q, "host": host}
`, serviceType, serviceType)

	return json.Marshal(map[string]string{
		"source":   source,
		"language": "starlark",
	})
}
