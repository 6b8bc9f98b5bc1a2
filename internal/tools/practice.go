package tools

import (
	"context"
	"fmt"
	"strings"
)

// PracticeTool answers questions about the business itself.
type PracticeTool struct {
	directory Directory
}

func NewPracticeTool(directory Directory) *PracticeTool {
	return &PracticeTool{directory: directory}
}

func (t *PracticeTool) Name() string { return "practice_info" }

func (t *PracticeTool) Description() string {
	return "Get the practice's name, address, phone number and general information such as opening notes and offered treatments."
}

func (t *PracticeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *PracticeTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *ToolResult {
	practice, err := t.directory.GetPractice(ctx)
	if err != nil {
		return ErrorResult("could not load practice information").WithError(err)
	}
	if practice == nil {
		return ErrorResult("no practice information has been configured")
	}

	var parts []string
	parts = append(parts, "name: "+practice.Name)
	if practice.Address != "" {
		parts = append(parts, "address: "+practice.Address)
	}
	if practice.Phone != "" {
		parts = append(parts, "phone: "+practice.Phone)
	}
	if practice.Info != "" {
		parts = append(parts, "info: "+practice.Info)
	}

	return SuccessResult(fmt.Sprintf("practice details\n%s", strings.Join(parts, "\n")))
}
