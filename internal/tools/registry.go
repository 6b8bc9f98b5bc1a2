package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wareply/internal/metrics"
	"wareply/pkg/llm"

	"github.com/sirupsen/logrus"
)

// Registry holds the tools exposed to the model.
type Registry struct {
	logger *logrus.Logger
	mu     sync.RWMutex
	tools  map[string]Tool
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger: logger,
		tools:  make(map[string]Tool),
	}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the registered tools as model-facing definitions,
// sorted by name for a stable prompt.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		definitions = append(definitions, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	sort.Slice(definitions, func(i, j int) bool { return definitions[i].Name < definitions[j].Name })
	return definitions
}

// ValidateParameters checks args against the tool's schema: every
// required parameter must be present, and declared string/number/boolean
// types must match. It returns one message per violation.
func (r *Registry) ValidateParameters(name string, args map[string]interface{}) []string {
	tool, ok := r.Get(name)
	if !ok {
		return []string{fmt.Sprintf("unknown tool %q", name)}
	}

	schema := tool.Parameters()
	var problems []string

	if required, ok := schema["required"].([]string); ok {
		for _, param := range required {
			if _, present := args[param]; !present {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", param))
			}
		}
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return problems
	}

	for param, value := range args {
		spec, ok := properties[param].(map[string]interface{})
		if !ok {
			problems = append(problems, fmt.Sprintf("unexpected parameter %q", param))
			continue
		}
		declaredType, _ := spec["type"].(string)
		if value == nil {
			continue
		}
		switch declaredType {
		case "string":
			if _, ok := value.(string); !ok {
				problems = append(problems, fmt.Sprintf("parameter %q must be a string", param))
			}
		case "number", "integer":
			if _, ok := value.(float64); !ok {
				if _, ok := value.(int); !ok {
					problems = append(problems, fmt.Sprintf("parameter %q must be a number", param))
				}
			}
		case "boolean":
			if _, ok := value.(bool); !ok {
				problems = append(problems, fmt.Sprintf("parameter %q must be a boolean", param))
			}
		}
	}

	sort.Strings(problems)
	return problems
}

// Execute validates the arguments and runs the tool. Validation
// failures and panics come back as error results, never as aborts, so
// the model loop can report them and continue.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, tc ToolContext) *ToolResult {
	if problems := r.ValidateParameters(name, args); len(problems) > 0 {
		r.logger.WithFields(logrus.Fields{
			"tool":     name,
			"problems": problems,
		}).Warn("Tool arguments rejected")
		metrics.IncrementCounter("tool_validation_failures_total",
			map[string]string{"tool": name}, "tool calls rejected by validation")

		message := "invalid arguments:"
		for _, p := range problems {
			message += " " + p + ";"
		}
		return ErrorResult(message)
	}

	tool, _ := r.Get(name)

	start := time.Now()
	result := r.run(ctx, tool, args, tc)
	duration := time.Since(start)

	metrics.RecordTimer("tool_execution_duration", duration,
		map[string]string{"tool": name}, "tool execution time")

	entry := r.logger.WithFields(logrus.Fields{
		"tool":        name,
		"duration_ms": duration.Milliseconds(),
		"success":     result.Success,
	})
	if result.Success {
		entry.Info("Tool execution completed")
	} else {
		entry.WithField("message", result.Message).Warn("Tool execution failed")
	}

	return result
}

func (r *Registry) run(ctx context.Context, tool Tool, args map[string]interface{}, tc ToolContext) (result *ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"tool":  tool.Name(),
				"panic": rec,
			}).Error("Tool panicked")
			result = ErrorResult(fmt.Sprintf("tool %q failed internally", tool.Name())).
				WithError(fmt.Errorf("tool panicked: %v", rec))
		}
	}()
	return tool.Execute(ctx, args, tc)
}
