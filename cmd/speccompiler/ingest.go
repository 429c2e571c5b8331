package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/oxspec/speccompiler/internal/config"
	"github.com/oxspec/speccompiler/internal/ioutil"
	"github.com/oxspec/speccompiler/internal/orchestrator"
)

// ingestResult pairs a discovered document with its parsed AST or the
// error the external parser returned for it.
type ingestResult struct {
	path string
	ast  []byte
	err  error
}

// ingestDocuments discovers every input document under cfg's roots and
// patterns and runs cfg.Parser over each (§6 "the AST parser is external;
// the core receives parsed ASTs" — this command is the one place that
// collaborator is invoked, never inside internal/handlers). Concurrency is
// bounded the same way the EMIT writer dispatch is (§4.9's worker-pool
// framing, reused here since both are parallel OS-process fan-out).
func ingestDocuments(ctx context.Context, cfg *config.Config) ([]*orchestrator.Context, error) {
	paths, err := ioutil.DiscoverDocuments(cfg.InputRoots, cfg.InputPatterns)
	if err != nil {
		return nil, fmt.Errorf("discovering input documents: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input documents found under %v matching %v", cfg.InputRoots, cfg.InputPatterns)
	}

	concurrency := cfg.WriterConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	results := make([]ingestResult, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = ingestResult{path: path, err: err}
			continue
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer sem.Release(1)
			ast, err := parseDocument(ctx, cfg.Parser, path)
			results[i] = ingestResult{path: path, ast: ast, err: err}
		}(i, path)
	}
	wg.Wait()

	contexts := make([]*orchestrator.Context, 0, len(paths))
	for _, res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("parsing %q: %w", res.path, res.err)
		}
		contexts = append(contexts, &orchestrator.Context{
			SourceFile: res.path,
			AST:        json.RawMessage(res.ast),
			Scratch:    make(map[string]any),
		})
	}
	return contexts, nil
}

// parseDocument shells out to the configured parser executable with path's
// contents on stdin and returns its stdout verbatim — a JSON-encoded Pandoc
// block list, per the AST's "opaque tagged-tree value with a JSON
// round-trip" contract (spec.md §1).
func parseDocument(ctx context.Context, parser config.ParserConfig, path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, parser.Executable, parser.Args...)
	cmd.Stdin = bytes.NewReader(content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", parser.Executable, parser.Args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
