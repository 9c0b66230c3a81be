package blender

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"logorender/internal/config"
	"logorender/internal/domain"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/process"
)

// Fallbacks are tried in order when no explicit executable is configured.
var Fallbacks = []string{
	"/usr/local/bin/blender",
	"/opt/blender-3.6.0-linux-x64/blender",
	"blender",
}

// Runner invokes the render host in background mode with a scene script.
type Runner struct {
	Executable  string
	Script      string
	FramePrefix string
	Timeout     time.Duration
}

// Job is one render-host invocation.
type Job struct {
	InputPath string
	OutputDir string
	Params    domain.Params
}

// Result is the discovered output plus process diagnostics.
type Result struct {
	Artifacts
	Elapsed time.Duration
	Stderr  string
}

// NewRunner builds a Runner from configuration. The executable is resolved
// per render, so a host installed after startup is picked up.
func NewRunner(cfg config.RenderConfig) *Runner {
	return &Runner{
		Executable:  cfg.BlenderPath,
		Script:      cfg.ScriptPath,
		FramePrefix: cfg.FramePrefix,
		Timeout:     cfg.Timeout(),
	}
}

// Args builds the render-host command line:
// -b -P <script> -- <input> <outDir> <material> <extrude> <bevel> [--transparent]
func Args(script string, job Job) []string {
	args := []string{
		"-b", "-P", script, "--",
		job.InputPath,
		job.OutputDir,
		job.Params.Material,
		formatFloat(job.Params.ExtrudeDepth),
		formatFloat(job.Params.BevelDepth),
	}
	if job.Params.Transparent {
		args = append(args, "--transparent")
	}
	return args
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Render runs the host and discovers its output. The job timeout overrides
// the runner default when positive.
func (r *Runner) Render(ctx context.Context, job Job) (*Result, error) {
	bin, err := process.Locate(r.Executable, Fallbacks...)
	if err != nil {
		return nil, domain.Wrap(domain.KindExecutableNotFound, "Blender not found. Please install Blender", err)
	}

	timeout := r.Timeout
	if job.Params.Timeout > 0 {
		timeout = job.Params.Timeout
	}

	logging.Info("Starting render",
		"job_id", job.Params.JobID,
		"material", job.Params.Material,
		"extrude_depth", job.Params.ExtrudeDepth,
		"bevel_depth", job.Params.BevelDepth,
		"transparent", job.Params.Transparent,
		"timeout_secs", int(timeout.Seconds()),
	)

	out, err := process.Run(ctx, timeout, job.OutputDir, bin, Args(r.Script, job)...)
	if err != nil {
		switch {
		case errors.Is(err, process.ErrTimedOut):
			return nil, domain.Errorf(domain.KindTimeout, "Render timed out after %d seconds", int(timeout.Seconds()))
		case errors.Is(err, process.ErrNotFound):
			return nil, domain.Wrap(domain.KindExecutableNotFound, "Blender not found. Please install Blender", err)
		case errors.Is(err, context.Canceled):
			return nil, domain.Wrap(domain.KindProcessFailed, "Render canceled", err)
		}
		stderr := strings.TrimSpace(out.Stderr)
		logging.Error("Blender render failed", "job_id", job.Params.JobID, "exit_code", out.ExitCode, "stderr", stderr)
		if stderr == "" {
			return nil, domain.Wrap(domain.KindProcessFailed, "Render failed", err)
		}
		return nil, domain.Errorf(domain.KindProcessFailed, "Render failed: %s", stderr)
	}

	logging.Info("Render completed", "job_id", job.Params.JobID, "elapsed_secs", out.Elapsed.Seconds())

	arts, err := Discover(job.OutputDir, r.FramePrefix)
	if err != nil {
		return nil, err
	}
	return &Result{Artifacts: *arts, Elapsed: out.Elapsed, Stderr: out.Stderr}, nil
}
