package cache

import (
	"time"

	"gorm.io/datatypes"
)

// SourceFile is the source-file cache row (§4.2 "Source-file cache"): one
// row per root document, recording the content hash observed at the last
// successful build.
type SourceFile struct {
	RootPath    string    `gorm:"primaryKey;type:varchar(1024)"`
	ContentSHA  string    `gorm:"type:varchar(64);not null"`
	LastBuildAt time.Time `gorm:"autoUpdateTime"`
}

func (SourceFile) TableName() string { return "source_files" }

// IncludeEdge is one recorded include relationship in the build graph
// (§4.2 "Include-graph validation"): RootPath includes IncludePath, whose
// content hash was IncludeSHA as of the last successful build.
type IncludeEdge struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RootPath    string `gorm:"type:varchar(1024);index:idx_include_edges_root"`
	IncludePath string `gorm:"type:varchar(1024)"`
	IncludeSHA  string `gorm:"type:varchar(64)"`
}

func (IncludeEdge) TableName() string { return "include_edges" }

// OutputCacheEntry is the output cache row (§4.2 "Output cache"): one row
// per (specification, output path), recording the hash of the IR slice
// that produced the file at GeneratedAt. SourceSlices breaks that hash
// down by caller-named component (the emitter records "blocks" and
// "metadata") so a cache
// miss can be diagnosed without rehashing — surfaced in --verbose
// cache-decision logging via diffreport.go.
type OutputCacheEntry struct {
	SpecificationID int64          `gorm:"primaryKey"`
	OutputPath      string         `gorm:"primaryKey;type:varchar(1024)"`
	Hash            string         `gorm:"type:varchar(64);not null"`
	SourceSlices    datatypes.JSON `gorm:"type:jsonb"`
	GeneratedAt     time.Time      `gorm:"autoUpdateTime"`
}

func (OutputCacheEntry) TableName() string { return "output_cache_entries" }
