// Package renderer implements the external renderer subsystem (§4.9): a
// bounded pool of OS-process workers that run a type module's renderer
// executable over a float or view's raw content, cached by content hash so
// an unchanged input never re-invokes the external tool.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oxspec/speccompiler/internal/cachekey"
)

// Descriptor is a type module's renderer binding: the executable to run and
// an argument template, with "{{output}}" substituted for the path the
// renderer is expected to write its artifact to. Raw content is streamed on
// stdin rather than a templated "{{input}}" path, matching §4.9's "runs the
// renderer with" framing without requiring a temp-file round trip.
type Descriptor struct {
	Executable string
	Args       []string
	Version    string
}

// Task is one unit of render work, collected by TRANSFORM for every float
// or view whose type has needs_external_render = true.
type Task struct {
	ID          int64 // float or view row id, interpreted by the caller
	TypeRef     string
	ContentHash string
	RawContent  string
	Descriptor  Descriptor
	Timeout     time.Duration
}

// Result is one task's outcome: either a resolved output artifact path, or
// an error describing why the renderer failed (timeout, non-zero exit,
// cache miss that could not be satisfied).
type Result struct {
	Task       Task
	OutputPath string
	Err        error
}

// Pool runs render tasks with bounded parallelism (§4.9 "spawn up to N
// worker processes", default N = CPU count). The output cache is the
// content-addressed artifact directory itself (§6 "<build-dir>/cache/
// external/<hash>.<ext>") — a cache key's path either already exists (hit)
// or doesn't (miss), so no separate cache-database row is needed here.
type Pool struct {
	sem       *semaphore.Weighted
	outputDir string
	graceWait time.Duration
}

// NewPool builds a renderer pool. workers <= 0 defaults to runtime.NumCPU().
func NewPool(workers int, outputDir string) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		sem:       semaphore.NewWeighted(int64(workers)),
		outputDir: outputDir,
		graceWait: 2 * time.Second,
	}
}

// Run dispatches every task in parallel (§4.9 "Parallel dispatch"), blocking
// until all results are in, and returns them in **submission order** so IR
// integration stays deterministic regardless of which worker finished first
// (§5 "result integration into the IR happens sequentially in submission
// order").
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Task: task, Err: fmt.Errorf("renderer: %w", err)}
			continue
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer p.sem.Release(1)
			results[i] = p.runOne(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

// runOne checks the artifact cache, then on a miss runs the renderer
// executable with a per-task timeout and SIGTERM -> grace -> SIGKILL
// cancellation (§4.9, §5 "Cancellation").
func (p *Pool) runOne(ctx context.Context, task Task) Result {
	key := cachekey.RenderKey(task.TypeRef, task.RawContent, task.Descriptor.Version)
	outputPath := filepath.Join(p.outputDir, key+".out")

	if info, err := os.Stat(outputPath); err == nil && !info.IsDir() {
		return Result{Task: task, OutputPath: outputPath}
	}

	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return Result{Task: task, Err: fmt.Errorf("renderer: preparing cache dir: %w", err)}
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := substituteArgs(task.Descriptor.Args, outputPath)
	cmd := exec.CommandContext(runCtx, task.Descriptor.Executable, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.Stdin = strings.NewReader(task.RawContent)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := p.runWithGrace(cmd, runCtx); err != nil {
		return Result{Task: task, Err: fmt.Errorf("renderer: %s: %w: %s", task.TypeRef, err, stderr.String())}
	}

	return Result{Task: task, OutputPath: outputPath}
}

// runWithGrace starts cmd and waits for it. If the context is done before
// the process exits on its own, exec sends SIGTERM through the Cancel hook
// runOne installs, and the process is given a short grace window to exit
// before an explicit Kill (§5 "SIGTERM -> grace -> SIGKILL").
func (p *Pool) runWithGrace(cmd *exec.Cmd, ctx context.Context) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting renderer: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(p.graceWait):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-done
			return fmt.Errorf("renderer timed out: %w", ctx.Err())
		}
	}
}

func substituteArgs(args []string, outputPath string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "{{output}}", outputPath)
	}
	return out
}
