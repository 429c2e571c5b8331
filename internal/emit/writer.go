package emit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/oxspec/speccompiler/internal/config"
)

// WriteTask is one output-format invocation: a serialized assembled AST
// plus the format's writer flags (§4.10 step 7 "spawns the external writer
// with the format's flags").
type WriteTask struct {
	Format     config.OutputFormat
	ASTJSON    []byte
	OutputPath string
}

// WriterRunner invokes the external writer process for one task, returning
// the artifact bytes it produced on stdout. Abstracted so the emitter can
// be tested without spawning real subprocesses.
type WriterRunner interface {
	Write(ctx context.Context, task WriteTask) ([]byte, error)
}

// ExternalWriter spawns a per-format writer executable, feeding it the
// serialized AST on stdin and format-specific flags as arguments (§4.10,
// §6 "the AST parser is external... delegated to external tool" — the
// writer direction of the same non-goal).
type ExternalWriter struct {
	Executable string
	Timeout    time.Duration
}

// Write runs the configured executable with a per-task timeout (§4.9's
// renderer timeout policy applies equally to output writers per §5
// "Within TRANSFORM and EMIT, the external renderer and output writers
// exploit parallel OS-process workers").
func (w *ExternalWriter) Write(ctx context.Context, task WriteTask) ([]byte, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--format", task.Format.Name}
	if task.Format.ReferenceDoc != "" {
		args = append(args, "--reference-doc", task.Format.ReferenceDoc)
	}
	if task.Format.Bibliography != "" {
		args = append(args, "--bibliography", task.Format.Bibliography)
	}
	if task.Format.CSLFile != "" {
		args = append(args, "--csl", task.Format.CSLFile)
	}

	cmd := exec.CommandContext(runCtx, w.Executable, args...)
	cmd.Stdin = bytes.NewReader(task.ASTJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("external writer %q (%s): %w: %s", w.Executable, task.Format.Name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
