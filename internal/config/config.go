// Package config loads the project configuration file (§6) and merges it
// with environment overrides: a YAML document declaring the model load
// order, logging level, output format options, and validation policy
// severity overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/renderer"
)

// OutputFormat is one entry of the config file's `output.formats` list
// (§6 "output formats and per-format options").
type OutputFormat struct {
	Name         string `yaml:"name"`
	ReferenceDoc string `yaml:"reference_doc,omitempty"`
	Bibliography string `yaml:"bibliography,omitempty"`
	CSLFile      string `yaml:"csl_file,omitempty"`
}

// ParserConfig names the external Markdown-to-AST collaborator invoked
// once per discovered input document (§6 "the AST parser is external; the
// core receives parsed ASTs") — the core never parses Markdown itself.
type ParserConfig struct {
	Executable string
	Args       []string
}

// Config is the resolved project configuration: file contents merged with
// environment overrides and built-in defaults.
type Config struct {
	Models            []string
	LoggingLevel      string
	OutputFormats     []OutputFormat
	ValidationPolicy  map[string]diagnostics.Severity
	BuildDir          string
	OutputDir         string
	CacheDSN          string
	WriterConcurrency int
	InputRoots        []string
	InputPatterns     []string
	Parser            ParserConfig
	// Renderers maps a float/view type_ref to its external-render binding
	// (§4.9 "the renderer descriptor is supplied by the type module"). The
	// default model declares no `needs_external_render` type, so this is
	// normally empty; a domain model that does would need its descriptor
	// registered here until the type registry grows a dedicated column for
	// it (see DESIGN.md's internal/renderer entry).
	Renderers map[string]renderer.Descriptor
}

// fileDocument mirrors the on-disk YAML shape; raw validation severities are
// decoded as plain strings here and converted to diagnostics.Severity (with
// validation) in Load.
type fileDocument struct {
	Models            []string `yaml:"models"`
	BuildDir          string   `yaml:"build_dir"`
	OutputDir         string   `yaml:"output_dir"`
	CacheDSN          string   `yaml:"cache_dsn"`
	WriterConcurrency int      `yaml:"writer_concurrency"`
	Logging           struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Output struct {
		Formats []OutputFormat `yaml:"formats"`
	} `yaml:"output"`
	Validation map[string]string `yaml:"validation"`
	Input      struct {
		Roots    []string `yaml:"roots"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"input"`
	Parser struct {
		Executable string   `yaml:"executable"`
		Args       []string `yaml:"args"`
	} `yaml:"parser"`
	Renderers map[string]struct {
		Executable string   `yaml:"executable"`
		Args       []string `yaml:"args"`
		Version    string   `yaml:"version"`
	} `yaml:"renderers"`
}

// DefaultValidationPolicy returns the baseline severities from §4.8's
// required-proofs table: every policy key is `error` except
// `relation_ambiguous` and `view_materialization_failure`, which default to
// `warn`.
func DefaultValidationPolicy() map[string]diagnostics.Severity {
	keys := []string{
		"spec_missing_required",
		"spec_invalid_type",
		"object_missing_required",
		"object_cardinality_over",
		"object_cast_failures",
		"object_invalid_enum",
		"object_invalid_date",
		"object_bounds_violation",
		"object_duplicate_pid",
		"float_orphan",
		"float_duplicate_label",
		"float_render_failure",
		"float_invalid_type",
		"relation_unresolved",
		"relation_dangling",
		"relation_ambiguous",
		"view_materialization_failure",
	}
	policy := make(map[string]diagnostics.Severity, len(keys))
	for _, k := range keys {
		policy[k] = diagnostics.SeverityError
	}
	policy["relation_ambiguous"] = diagnostics.SeverityWarn
	policy["view_materialization_failure"] = diagnostics.SeverityWarn
	return policy
}

// Load reads the project configuration file at path, overlays a `.env` file
// if present via godotenv (SPECCOMPILER_HOME/SPECCOMPILER_LOG_LEVEL and
// friends, §A.3), and merges environment overrides over the file's values.
// A missing config file is not fatal: Load falls back to built-in defaults,
// including a model list of just `default`.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of a .env file is not an error

	doc := fileDocument{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("config: parsing %q: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through with zero-value doc
		default:
			return nil, fmt.Errorf("config: reading %q: %w", path, err)
		}
	}

	cfg := &Config{
		Models:            doc.Models,
		LoggingLevel:      doc.Logging.Level,
		OutputFormats:     doc.Output.Formats,
		BuildDir:          doc.BuildDir,
		OutputDir:         doc.OutputDir,
		CacheDSN:          doc.CacheDSN,
		WriterConcurrency: doc.WriterConcurrency,
		InputRoots:        doc.Input.Roots,
		InputPatterns:     doc.Input.Patterns,
		Parser:            ParserConfig{Executable: doc.Parser.Executable, Args: doc.Parser.Args},
	}
	if cfg.LoggingLevel == "" {
		cfg.LoggingLevel = "info"
	}
	if cfg.BuildDir == "" {
		cfg.BuildDir = ".speccompiler"
	}
	if cfg.CacheDSN == "" {
		cfg.CacheDSN = cfg.BuildDir + "/cache.db"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "out"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{"default"}
	}
	if len(cfg.InputRoots) == 0 {
		cfg.InputRoots = []string{"."}
	}
	if len(cfg.InputPatterns) == 0 {
		cfg.InputPatterns = []string{"**/*.md"}
	}
	if cfg.Parser.Executable == "" {
		cfg.Parser.Executable = "pandoc"
	}
	if len(cfg.Parser.Args) == 0 {
		cfg.Parser.Args = []string{"-f", "markdown", "-t", "json"}
	}
	if len(doc.Renderers) > 0 {
		cfg.Renderers = make(map[string]renderer.Descriptor, len(doc.Renderers))
		for typeRef, d := range doc.Renderers {
			cfg.Renderers[typeRef] = renderer.Descriptor{Executable: d.Executable, Args: d.Args, Version: d.Version}
		}
	}

	policy := DefaultValidationPolicy()
	for key, raw := range doc.Validation {
		sev, err := parseSeverity(raw)
		if err != nil {
			return nil, fmt.Errorf("config: validation policy for %q: %w", key, err)
		}
		policy[key] = sev
	}
	cfg.ValidationPolicy = policy

	// Environment variables take precedence over the file (§6).
	if level := os.Getenv("SPECCOMPILER_LOG_LEVEL"); level != "" {
		cfg.LoggingLevel = level
	}
	if dsn := os.Getenv("SPECCOMPILER_CACHE_DSN"); dsn != "" {
		cfg.CacheDSN = dsn
	}

	return cfg, nil
}

func parseSeverity(raw string) (diagnostics.Severity, error) {
	switch diagnostics.Severity(raw) {
	case diagnostics.SeverityError, diagnostics.SeverityWarn, diagnostics.SeverityIgnore:
		return diagnostics.Severity(raw), nil
	default:
		return "", fmt.Errorf("unknown severity %q (want error|warn|ignore)", raw)
	}
}

// SeverityFor looks up the effective severity for a policy key, falling
// back to `error` for a key with no baseline or override entry — an
// unrecognized proof should never be silently dropped.
func (c *Config) SeverityFor(policyKey string) diagnostics.Severity {
	if sev, ok := c.ValidationPolicy[policyKey]; ok {
		return sev
	}
	return diagnostics.SeverityError
}

// SpecCompilerHome resolves §6's model search root environment variable,
// mirrored here for callers that build diagnostics/log lines referencing it;
// `internal/typeregistry.Loader` resolves model paths independently.
func SpecCompilerHome() string {
	return os.Getenv("SPECCOMPILER_HOME")
}
