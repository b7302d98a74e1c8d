package tools

import (
	"fmt"

	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/pkg/models"
)

// RegisterAll builds and registers the five canonical sandbox-backed tools
// against reg. Callers that need a custom tool set construct adapters
// individually instead.
func RegisterAll(reg interface{ Register(models.Tool) error }, manager *sandbox.Manager) error {
	adapters := []models.Tool{
		NewShellTool(manager),
		NewFileReadTool(manager),
		NewFileWriteTool(manager),
		NewFileListTool(manager),
		NewBrowserTool(manager),
	}
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			return fmt.Errorf("tools: register %s: %w", a.Name(), err)
		}
	}
	return nil
}
