package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"logorender/internal/domain"
)

func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return p
}

func writeFrames(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	var frames []string
	for i := 1; i <= n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			t.Fatalf("write frame: %v", err)
		}
		frames = append(frames, p)
	}
	return frames
}

func TestPattern(t *testing.T) {
	pattern, start, err := Pattern("/tmp/out/frame_0001.png", "frame_")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/out/frame_%04d.png", pattern)
	assert.Equal(t, 1, start)

	_, _, err = Pattern("/tmp/out/shot_0001.png", "frame_")
	assert.Error(t, err)
	_, _, err = Pattern("/tmp/out/frame_x.png", "frame_")
	assert.Error(t, err)
}

func TestArgs_OpaqueAndTransparent(t *testing.T) {
	e := &Encoder{Framerate: 24, CRF: 23, Codec: "libx264", PixFmt: "yuv420p"}

	opaque := e.Args("/o/frame_%04d.png", 1, "/o/output.mp4", false)
	assert.Equal(t, []string{
		"-y", "-framerate", "24", "-start_number", "1", "-i", "/o/frame_%04d.png",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-crf", "23", "/o/output.mp4",
	}, opaque)

	alpha := strings.Join(e.Args("/o/frame_%04d.png", 1, "/o/output.webm", true), " ")
	assert.Contains(t, alpha, "-c:v libvpx-vp9")
	assert.Contains(t, alpha, "-pix_fmt yuva420p")
	assert.Contains(t, alpha, "-b:v 0")
	assert.Equal(t, ".webm", Extension(true))
	assert.Equal(t, ".mp4", Extension(false))
}

func TestEncode_WritesVideo(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done; printf video > "$last"`)
	e := &Encoder{Executable: bin, Framerate: 24, CRF: 23, Timeout: 5 * time.Second}

	frames := writeFrames(t, 3)
	out := filepath.Join(filepath.Dir(frames[0]), "output.mp4")
	if err := e.Encode(context.Background(), frames, "frame_", out, false); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data, err := os.ReadFile(out)
	assert.NoError(t, err)
	assert.Equal(t, "video", string(data))
}

func TestEncode_Failures(t *testing.T) {
	frames := writeFrames(t, 2)
	out := filepath.Join(filepath.Dir(frames[0]), "output.mp4")

	tests := []struct {
		name string
		enc  *Encoder
		want error
	}{
		{"non-zero exit", &Encoder{Executable: fakeFFmpeg(t, `echo "Unknown encoder" >&2; exit 1`), Timeout: 5 * time.Second}, domain.ErrTranscodeFailed},
		{"no file written", &Encoder{Executable: fakeFFmpeg(t, `exit 0`), Timeout: 5 * time.Second}, domain.ErrTranscodeFailed},
		{"timeout", &Encoder{Executable: fakeFFmpeg(t, `exec sleep 10`), Timeout: 100 * time.Millisecond}, domain.ErrTranscodeFailed},
		{"missing binary", &Encoder{Executable: "/definitely/missing/ffmpeg", Timeout: time.Second}, domain.ErrExecutableNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.enc.Encode(context.Background(), frames, "frame_", out, false)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if err := (&Encoder{}).Encode(context.Background(), nil, "frame_", out, false); !errors.Is(err, domain.ErrTranscodeFailed) {
		t.Fatalf("expected transcode_failed for empty frame list, got %v", err)
	}
}
