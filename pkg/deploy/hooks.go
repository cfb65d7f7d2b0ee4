package deploy

import (
	"context"

	"github.com/cuemby/ghost/pkg/command"
	"github.com/cuemby/ghost/pkg/types"
)

// Phase names a hook point of the pipeline
type Phase string

const (
	PhasePreDeploy  Phase = "pre_deploy"
	PhasePostDeploy Phase = "post_deploy"
)

// Hook runs module scripts around packaging
type Hook interface {
	Run(ctx context.Context, phase Phase, app *types.App, module *types.Module, dir string) error
}

// NopHook runs nothing
type NopHook struct{}

func (NopHook) Run(ctx context.Context, phase Phase, app *types.App, module *types.Module, dir string) error {
	return nil
}

// ScriptHook runs the module's pre_deploy and post_deploy scripts with bash
// in the working copy
type ScriptHook struct {
	runner *command.Runner
}

// NewScriptHook creates a hook running scripts through runner
func NewScriptHook(runner *command.Runner) *ScriptHook {
	return &ScriptHook{runner: runner}
}

func (h *ScriptHook) Run(ctx context.Context, phase Phase, app *types.App, module *types.Module, dir string) error {
	script := module.PreDeploy
	if phase == PhasePostDeploy {
		script = module.PostDeploy
	}
	if script == "" {
		return nil
	}
	_, err := h.runner.Shell(ctx, dir, script, map[string]string{
		"GHOST_APP":         app.Name,
		"GHOST_ENV":         app.Env,
		"GHOST_ROLE":        app.Role,
		"GHOST_MODULE_NAME": module.Name,
		"GHOST_MODULE_PATH": module.Path,
		"GHOST_PHASE":       string(phase),
	})
	return err
}
