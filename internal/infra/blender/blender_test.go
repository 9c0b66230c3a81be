package blender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"logorender/internal/domain"
)

// fakeHost writes a shell script standing in for the render host. Positional
// arguments follow Args: $6 is the output directory.
func fakeHost(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blender")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake host: %v", err)
	}
	return p
}

func newJob(t *testing.T) Job {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	in := filepath.Join(dir, "input.svg")
	if err := os.WriteFile(in, []byte("<svg/>"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return Job{
		InputPath: in,
		OutputDir: out,
		Params:    domain.Params{Material: "chrome", ExtrudeDepth: 0.1, BevelDepth: 0.02, JobID: "j1"},
	}
}

func TestArgs(t *testing.T) {
	job := Job{InputPath: "/in.svg", OutputDir: "/out", Params: domain.Params{Material: "golden", ExtrudeDepth: 0.25, BevelDepth: 0}}
	assert.Equal(t,
		[]string{"-b", "-P", "/s.py", "--", "/in.svg", "/out", "golden", "0.25", "0"},
		Args("/s.py", job))

	job.Params.Transparent = true
	args := Args("/s.py", job)
	assert.Equal(t, "--transparent", args[len(args)-1])
}

func TestRender_FramesDiscoveredInOrder(t *testing.T) {
	host := fakeHost(t, `for i in 0010 0002 0001; do printf png > "$6/frame_$i.png"; done; printf x > "$6/notes.txt"`)
	r := &Runner{Executable: host, Script: "/s.py", FramePrefix: "frame_", Timeout: 5 * time.Second}

	job := newJob(t)
	res, err := r.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	assert.Equal(t, 3, res.FrameCount())
	assert.Equal(t, "frame_0001.png", filepath.Base(res.Frames[0]))
	assert.Equal(t, "frame_0010.png", filepath.Base(res.Frames[2]))
	assert.Empty(t, res.Video)
}

func TestRender_VideoWins(t *testing.T) {
	host := fakeHost(t, `printf png > "$6/frame_0001.png"; printf mp4 > "$6/output.mp4"`)
	r := &Runner{Executable: host, Script: "/s.py", Timeout: 5 * time.Second}

	res, err := r.Render(context.Background(), newJob(t))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	assert.Equal(t, "output.mp4", filepath.Base(res.Video))
}

func TestRender_NoOutput(t *testing.T) {
	host := fakeHost(t, `exit 0`)
	r := &Runner{Executable: host, Script: "/s.py", Timeout: 5 * time.Second}

	_, err := r.Render(context.Background(), newJob(t))
	if !errors.Is(err, domain.ErrNoOutput) {
		t.Fatalf("expected no_output, got %v", err)
	}
	assert.Contains(t, err.Error(), "No output files generated")
}

func TestRender_NonZeroExitCarriesStderr(t *testing.T) {
	host := fakeHost(t, `echo "Error: SVG import failed" >&2; exit 1`)
	r := &Runner{Executable: host, Script: "/s.py", Timeout: 5 * time.Second}

	_, err := r.Render(context.Background(), newJob(t))
	if !errors.Is(err, domain.ErrProcessFailed) {
		t.Fatalf("expected process_failed, got %v", err)
	}
	assert.Contains(t, err.Error(), "SVG import failed")
}

func TestRender_Timeout(t *testing.T) {
	host := fakeHost(t, `exec sleep 10`)
	r := &Runner{Executable: host, Script: "/s.py", Timeout: 10 * time.Second}

	job := newJob(t)
	job.Params.Timeout = 100 * time.Millisecond
	_, err := r.Render(context.Background(), job)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRender_MissingExecutable(t *testing.T) {
	r := &Runner{Executable: "/definitely/missing/blender", Script: "/s.py", Timeout: time.Second}
	_, err := r.Render(context.Background(), newJob(t))
	if !errors.Is(err, domain.ErrExecutableNotFound) {
		t.Fatalf("expected executable_not_found, got %v", err)
	}
}

func TestRender_PassesTransparentFlag(t *testing.T) {
	host := fakeHost(t, `printf "%s" "${10}" > "$6/frame_0001.png"`)
	r := &Runner{Executable: host, Script: "/s.py", Timeout: 5 * time.Second}

	job := newJob(t)
	job.Params.Transparent = true
	res, err := r.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	data, _ := os.ReadFile(res.Frames[0])
	if strings.TrimSpace(string(data)) != "--transparent" {
		t.Fatalf("expected transparent flag as tenth argument, got %q", data)
	}
}

func TestDiscover_IgnoresEmptyAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "frame_0001.png"), nil, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "frame_abc.png"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "other_0001.png"), []byte("x"), 0o644)

	if _, err := Discover(dir, "frame_"); !errors.Is(err, domain.ErrNoOutput) {
		t.Fatalf("expected no_output, got %v", err)
	}
	if _, err := Discover(filepath.Join(dir, "missing"), ""); !errors.Is(err, domain.ErrNoOutput) {
		t.Fatalf("expected no_output for missing dir, got %v", err)
	}
}
