// Package cache implements the build cache (§4.2): a source-file cache
// keyed by content hash, an include-graph validator, and an output cache
// keyed by a hash over the relevant Spec-IR slice. All three share one
// gorm-backed database, kept separate from the primary Spec-IR store
// (internal/specir) since cache rows are advisory — losing them forces a
// full rebuild, never data loss.
package cache

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Cache wraps the cache database with the decisions §4.2 describes.
type Cache struct {
	db *gorm.DB
}

// Open connects to the cache database at dsn and returns a ready Cache.
func Open(dsn string, debug bool) (*Cache, error) {
	db, err := Connect(dsn, debug)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsSourceTentativelyReusable reports whether rootPath's recorded content
// hash still matches contentSHA (§4.2 "tentatively reusable" — the
// include-graph still needs validating before the state is actually
// reused).
func (c *Cache) IsSourceTentativelyReusable(rootPath, contentSHA string) (bool, error) {
	var row SourceFile
	err := c.db.Where("root_path = ?", rootPath).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: looking up source file %q: %w", rootPath, err)
	}
	return row.ContentSHA == contentSHA, nil
}

// ValidateIncludeGraph compares currentHashes (include path -> content
// hash, "" meaning the file is now missing) against the edges recorded
// for rootPath. Any mismatch, any missing file, or a changed include set
// forces a full rebuild (§4.2 "Include-graph validation").
func (c *Cache) ValidateIncludeGraph(rootPath string, currentHashes map[string]string) (bool, error) {
	var edges []IncludeEdge
	if err := c.db.Where("root_path = ?", rootPath).Find(&edges).Error; err != nil {
		return false, fmt.Errorf("cache: listing include edges for %q: %w", rootPath, err)
	}
	if len(edges) != len(currentHashes) {
		return false, nil
	}
	for _, e := range edges {
		current, ok := currentHashes[e.IncludePath]
		if !ok || current == "" || current != e.IncludeSHA {
			return false, nil
		}
	}
	return true, nil
}

// RecordBuild writes the source-file hash and include-graph edges for a
// successful build of rootPath. Callers defer this to the end of a
// successful phase (§4.2 "Cache writes are deferred... so a crash
// mid-pipeline does not poison the cache with partial state").
func (c *Cache) RecordBuild(rootPath, contentSHA string, includeHashes map[string]string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&SourceFile{RootPath: rootPath, ContentSHA: contentSHA}).Error; err != nil {
			return fmt.Errorf("recording source file: %w", err)
		}
		if err := tx.Where("root_path = ?", rootPath).Delete(&IncludeEdge{}).Error; err != nil {
			return fmt.Errorf("clearing include edges: %w", err)
		}
		for includePath, sha := range includeHashes {
			edge := IncludeEdge{RootPath: rootPath, IncludePath: includePath, IncludeSHA: sha}
			if err := tx.Create(&edge).Error; err != nil {
				return fmt.Errorf("recording include edge %q: %w", includePath, err)
			}
		}
		return nil
	})
}

// IsOutputCached reports whether (specificationID, outputPath) is already
// up to date for irSliceHash, and the generation can be skipped (§4.2
// "Output cache").
func (c *Cache) IsOutputCached(specificationID int64, outputPath, irSliceHash string) (bool, error) {
	var row OutputCacheEntry
	err := c.db.Where("specification_id = ? AND output_path = ?", specificationID, outputPath).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: looking up output cache entry: %w", err)
	}
	return row.Hash == irSliceHash, nil
}

// RecordOutput writes the output cache entry for (specificationID,
// outputPath), breaking the composite hash down by source component for
// diagnostic diffing (see diffreport.go).
func (c *Cache) RecordOutput(specificationID int64, outputPath, irSliceHash string, sourceSlices map[string]string) error {
	encoded, err := json.Marshal(sourceSlices)
	if err != nil {
		return fmt.Errorf("cache: encoding source slices: %w", err)
	}
	entry := OutputCacheEntry{
		SpecificationID: specificationID,
		OutputPath:      outputPath,
		Hash:            irSliceHash,
		SourceSlices:    datatypes.JSON(encoded),
	}
	return c.db.Save(&entry).Error
}

// SourceSlicesOf decodes a recorded entry's per-component hash map, used
// by diffreport.go to explain why a cache entry went stale.
func (c *Cache) SourceSlicesOf(specificationID int64, outputPath string) (map[string]string, error) {
	var row OutputCacheEntry
	if err := c.db.Where("specification_id = ? AND output_path = ?", specificationID, outputPath).First(&row).Error; err != nil {
		return nil, fmt.Errorf("cache: looking up output cache entry: %w", err)
	}
	out := make(map[string]string)
	if len(row.SourceSlices) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(row.SourceSlices, &out); err != nil {
		return nil, fmt.Errorf("cache: decoding source slices: %w", err)
	}
	return out, nil
}
