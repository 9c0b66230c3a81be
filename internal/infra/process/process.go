// Package process runs external tools under a deadline and captures the tail
// of their output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// tailLimit caps captured stdout/stderr per stream.
const tailLimit = 64 * 1024

var (
	// ErrNotFound means no usable executable was found.
	ErrNotFound = errors.New("executable not found")
	// ErrTimedOut means the process was killed because its deadline passed.
	ErrTimedOut = errors.New("process timed out")
)

// Output is what a finished process left behind.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// Locate resolves an executable. A non-empty explicit value wins: a path is
// checked directly, a bare name is searched in PATH. Otherwise the fallbacks
// are tried in order, with bare names searched in PATH.
func Locate(explicit string, fallbacks ...string) (string, error) {
	if explicit != "" {
		if p, ok := resolve(explicit); ok {
			return p, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, explicit)
	}
	for _, c := range fallbacks {
		if p, ok := resolve(c); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(fallbacks, ", "))
}

func resolve(candidate string) (string, bool) {
	if !strings.ContainsRune(candidate, os.PathSeparator) {
		p, err := exec.LookPath(candidate)
		return p, err == nil
	}
	st, err := os.Stat(candidate)
	if err != nil || st.IsDir() || st.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return candidate, true
}

// Run executes bin with args and waits for it. A positive timeout bounds the
// run; on expiry the whole process group is killed and ErrTimedOut is
// returned. A non-zero exit returns the *exec.ExitError with Output filled.
func Run(ctx context.Context, timeout time.Duration, dir, bin string, args ...string) (*Output, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout := &tailBuffer{limit: tailLimit}
	stderr := &tailBuffer{limit: tailLimit}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	configure(cmd)

	start := time.Now()
	err := cmd.Run()
	out := &Output{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
		}
		return out, ctxErr
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return out, err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[len(p)-t.limit:])
		return n, nil
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
