package runner

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/hookd/internal/protocol"
)

// maxStderrBytes caps the amount of stderr kept from a script.
const maxStderrBytes = 64 * 1024

// execution is what a finished script process left behind.
type execution struct {
	exitCode int
	stdout   []byte
	stderr   string
	// stdoutTruncated is set when the script printed more than
	// protocol.MaxOutputBytes.
	stdoutTruncated bool
}

// spawn runs script to completion with in on stdin. A non-nil error means the
// process could not be started or waited on; a non-zero exit is not an error.
func spawn(script string, in *protocol.Input, env []string, logger *slog.Logger) (*execution, error) {
	cmd := exec.Command(script)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = append(os.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout := &cappedBuffer{max: protocol.MaxOutputBytes}
	stderr := &cappedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning hook script", "script", script)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeInput(stdin, in)
	}()

	waitErr := cmd.Wait()
	if werr := <-writeErr; werr != nil && !isClosedPipe(werr) {
		return nil, werr
	}

	res := &execution{
		stdout:          stdout.buf.Bytes(),
		stderr:          stderr.String(),
		stdoutTruncated: stdout.truncated,
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait for process: %w", waitErr)
		}
		// ExitCode is -1 when the process was killed by a signal.
		res.exitCode = exitErr.ExitCode()
	}
	if stderr.truncated {
		logger.Debug("script stderr truncated", "limit_bytes", maxStderrBytes)
	}
	return res, nil
}

// A script may exit without reading its input.
func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }
