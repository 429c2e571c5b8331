package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oxspec/speccompiler/internal/cache"
	"github.com/oxspec/speccompiler/internal/cachekey"
	"github.com/oxspec/speccompiler/internal/config"
	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/ioutil"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/pandocast"
	"github.com/oxspec/speccompiler/internal/specir"
)

// Emitter builds the EMIT-phase handler (§4.10): per specification, it
// assembles the output document, checks the output cache per configured
// format, dispatches the external writer for cache misses, and populates
// the full-text search tables. Config, the build cache, and the writer
// runner are resolved once per build and have no slot in orchestrator.Hook,
// so — like Verifier — this is a constructor closing over them rather than
// a zero-argument handler.
func Emitter(cfg *config.Config, buildCache *cache.Cache, writer WriterRunner) orchestrator.Handler {
	return orchestrator.Handler{
		Name: "emit-assembler",
		OnEmit: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			// Writer dispatch is bounded and may run concurrently across
			// specifications and formats (§4.10 "Parallel writer
			// dispatch"); cache writes share one mutex since the cache's
			// gorm/sqlite connection is not safe for unserialized
			// concurrent writers (§5's single-writer policy applies to
			// the Spec-IR store explicitly, and is followed here for the
			// cache database by the same reasoning).
			var cacheMu sync.Mutex
			g, gctx := errgroup.WithContext(context.Background())
			g.SetLimit(writerConcurrency(cfg))

			for _, ctx := range contexts {
				specificationID := ctx.SpecificationID
				doc, err := Assemble(store, specificationID)
				if err != nil {
					return fmt.Errorf("emit-assembler: %w", err)
				}

				astJSON, err := json.Marshal(doc.Blocks)
				if err != nil {
					return fmt.Errorf("emit-assembler: serializing %q: %w", doc.RootPath, err)
				}
				blocksHash := ioutil.SHA256Hex(astJSON)
				metaHash := ioutil.SHA256Hex([]byte(doc.LongName + "\x00" + doc.PID + "\x00" + doc.TypeRef))
				irSliceHash := ioutil.SHA256Hex([]byte(blocksHash + metaHash))
				sourceSlices := map[string]string{"blocks": blocksHash, "metadata": metaHash}

				for _, format := range cfg.OutputFormats {
					format := format
					outputPath := outputPathFor(cfg.OutputDir, doc.RootPath, format.Name)
					filterIdentity := filterSetIdentity(format)
					key := cachekey.OutputKey(irSliceHash, outputPath, filterIdentity)

					g.Go(func() error {
						cacheMu.Lock()
						cached, err := buildCache.IsOutputCached(specificationID, outputPath, key)
						cacheMu.Unlock()
						if err != nil {
							return fmt.Errorf("emit-assembler: checking output cache for %q: %w", outputPath, err)
						}
						if cached {
							return nil
						}

						artifact, err := writer.Write(gctx, WriteTask{Format: format, ASTJSON: astJSON, OutputPath: outputPath})
						if err != nil {
							diags.Add(diagnostics.Diagnostic{
								Severity: diagnostics.SeverityError,
								Phase:    "EMIT",
								Handler:  "emit-assembler",
								File:     doc.RootPath,
								Message:  fmt.Sprintf("writing format %q: %v", format.Name, err),
							})
							return nil
						}
						if err := ioutil.WriteFileAtomic(outputPath, artifact, 0o644); err != nil {
							return fmt.Errorf("emit-assembler: writing %q: %w", outputPath, err)
						}

						cacheMu.Lock()
						err = buildCache.RecordOutput(specificationID, outputPath, key, sourceSlices)
						cacheMu.Unlock()
						if err != nil {
							return fmt.Errorf("emit-assembler: recording output cache for %q: %w", outputPath, err)
						}
						return nil
					})
				}
			}

			if err := g.Wait(); err != nil {
				return err
			}

			return populateSearchIndex(store, contexts)
		},
	}
}

// writerConcurrency resolves the worker-pool limit for output writers:
// cfg.WriterConcurrency when positive, otherwise a fixed default of 4.
func writerConcurrency(cfg *config.Config) int {
	if cfg != nil && cfg.WriterConcurrency > 0 {
		return cfg.WriterConcurrency
	}
	return 4
}

func outputPathFor(outputDir, rootPath, formatName string) string {
	if outputDir == "" {
		outputDir = "."
	}
	stem := strings.TrimSuffix(filepath.Base(rootPath), filepath.Ext(rootPath))
	return filepath.Join(outputDir, stem+"."+formatName)
}

// filterSetIdentity folds an output format's writer flags into a stable
// string so toggling a reference doc, bibliography, or CSL file
// invalidates the cached artifact (cachekey.OutputKey's "enabled
// output-filter set identity").
func filterSetIdentity(f config.OutputFormat) string {
	return strings.Join([]string{f.Name, f.ReferenceDoc, f.Bibliography, f.CSLFile}, "\x00")
}

// populateSearchIndex converts every object, attribute value, and float's
// text into the FTS tables (§4.10 step 8, §3.4).
func populateSearchIndex(store *specir.Store, contexts []*orchestrator.Context) error {
	tx, err := store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ctx := range contexts {
		objRows, err := store.QueryAll(`SELECT id, title, ast FROM spec_objects WHERE specification_id = ?`, ctx.SpecificationID)
		if err != nil {
			return fmt.Errorf("emit-assembler: loading objects for search index: %w", err)
		}
		for _, row := range objRows {
			body := row.String("title")
			if blocks, err := pandocast.ParseBlocks([]byte(row.String("ast"))); err == nil {
				for _, b := range blocks {
					if text := pandocast.PlainText(b.Inlines); text != "" {
						body = text
					}
				}
			}
			if err := tx.IndexObject(row.Int64("id"), row.String("title"), body, body); err != nil {
				return fmt.Errorf("emit-assembler: %w", err)
			}
		}

		floatRows, err := store.QueryAll(`SELECT id, caption, raw_content FROM spec_floats WHERE specification_id = ?`, ctx.SpecificationID)
		if err != nil {
			return fmt.Errorf("emit-assembler: loading floats for search index: %w", err)
		}
		for _, row := range floatRows {
			if err := tx.IndexFloat(row.Int64("id"), row.String("caption"), row.String("raw_content")); err != nil {
				return fmt.Errorf("emit-assembler: %w", err)
			}
		}

		attrRows, err := store.QueryAll(`SELECT id, raw_value FROM spec_attribute_values WHERE specification_id = ?`, ctx.SpecificationID)
		if err != nil {
			return fmt.Errorf("emit-assembler: loading attribute values for search index: %w", err)
		}
		for _, row := range attrRows {
			if err := tx.IndexAttributeValue(row.Int64("id"), row.String("raw_value")); err != nil {
				return fmt.Errorf("emit-assembler: %w", err)
			}
		}
	}

	return tx.Commit()
}
