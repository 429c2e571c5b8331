package typeregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/proof"
	"github.com/oxspec/speccompiler/internal/specir"
)

// Loader resolves, registers, and propagates one or more named models in
// declared order (§4.3).
type Loader struct {
	Store        *specir.Store
	Orchestrator *orchestrator.Orchestrator
	Proofs       *proof.Registry
}

// NewLoader wires a loader against the build's store, orchestrator, and
// proof registry.
func NewLoader(store *specir.Store, orch *orchestrator.Orchestrator, proofs *proof.Registry) *Loader {
	return &Loader{Store: store, Orchestrator: orch, Proofs: proofs}
}

// resolveModelPath implements §4.3's "Path resolution": for a model name,
// locate `<SPECCOMPILER_HOME>/models/<name>` if the environment variable is
// set, else `<cwd>/models/<name>`. A missing path is a fatal error.
func resolveModelPath(name string) (string, error) {
	root := os.Getenv("SPECCOMPILER_HOME")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("typeregistry: resolving cwd for model %q: %w", name, err)
		}
		root = cwd
	}
	path := filepath.Join(root, "models", name)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("typeregistry: model path %q not found for model %q", path, name)
	}
	return path, nil
}

// Load resolves each named model in order — typically a default model
// first, then one or more domain models (§4.3 Layering) — registers its
// exports, and runs post-load propagation to a fixed point once every
// model has loaded.
func (l *Loader) Load(modelNames []string) error {
	for _, name := range modelNames {
		factory, ok := factories[name]
		if !ok {
			return fmt.Errorf("typeregistry: unknown model %q (no compiled-in package registered)", name)
		}
		path, err := resolveModelPath(name)
		if err != nil {
			return err
		}
		model := factory()
		if err := l.registerModel(model); err != nil {
			return fmt.Errorf("typeregistry: registering model %q: %w", name, err)
		}
		if err := l.loadProofs(path); err != nil {
			return fmt.Errorf("typeregistry: loading proofs for model %q: %w", name, err)
		}
	}
	if err := l.Store.GeneratePivotViews(); err != nil {
		return fmt.Errorf("typeregistry: generating pivot views: %w", err)
	}
	return propagateFixedPoint(l.Store)
}

// registerModel performs §4.3's "Registration" step for one model: every
// export is upserted into the store via its `register_*` method (override
// semantics — later-loaded models win), handlers are handed to the
// orchestrator, and relation-type resolvers are registered into the
// store's resolver registry keyed by resolver root.
func (l *Loader) registerModel(m Model) error {
	for _, alias := range sortedKeys(m.ImplicitObjectAliases) {
		if err := l.Store.RegisterImplicitObjectAlias(alias, m.ImplicitObjectAliases[alias]); err != nil {
			return err
		}
	}
	for _, alias := range sortedKeys(m.ImplicitSpecificationAliases) {
		if err := l.Store.RegisterImplicitSpecificationAlias(alias, m.ImplicitSpecificationAliases[alias]); err != nil {
			return err
		}
	}

	for _, s := range m.Specifications {
		if err := l.Store.RegisterSpecificationType(s.Type); err != nil {
			return err
		}
		if err := l.registerAttributes(specir.OwnerSpecification, s.Type.ID, s.Attributes); err != nil {
			return err
		}
		if s.Handler != nil {
			if err := l.Orchestrator.Register(*s.Handler); err != nil {
				return err
			}
		}
	}

	for _, o := range m.Objects {
		if err := l.Store.RegisterObjectType(o.Type); err != nil {
			return err
		}
		if err := l.registerAttributes(specir.OwnerObject, o.Type.ID, o.Attributes); err != nil {
			return err
		}
		if o.Handler != nil {
			if err := l.Orchestrator.Register(*o.Handler); err != nil {
				return err
			}
		}
	}

	for _, f := range m.Floats {
		if err := l.Store.RegisterFloatType(f.Type); err != nil {
			return err
		}
		if err := l.registerAttributes(specir.OwnerFloat, f.Type.ID, f.Attributes); err != nil {
			return err
		}
		if f.Handler != nil {
			if err := l.Orchestrator.Register(*f.Handler); err != nil {
				return err
			}
		}
	}

	for _, r := range m.Relations {
		if err := l.Store.RegisterRelationType(r.Type); err != nil {
			return err
		}
		if r.Resolver != nil {
			l.Store.Resolvers().RegisterResolver(r.Type.ID, r.Resolver)
		}
	}

	for _, v := range m.Views {
		if err := l.Store.RegisterViewType(v.Type); err != nil {
			return err
		}
		if err := l.registerAttributes(specir.OwnerObject, v.Type.ID, v.Attributes); err != nil {
			return err
		}
		if v.Handler != nil {
			if err := l.Orchestrator.Register(*v.Handler); err != nil {
				return err
			}
		}
	}

	for _, h := range m.Handlers {
		if err := l.Orchestrator.Register(h); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loader) registerAttributes(owner specir.OwnerKind, typeID string, attrs []AttributeDef) error {
	for _, a := range attrs {
		err := l.Store.RegisterAttributeType(specir.AttributeType{
			OwnerKind:   owner,
			OwnerTypeID: typeID,
			Name:        a.Name,
			Datatype:    a.Datatype,
			MinOccurs:   a.MinOccurs,
			MaxOccurs:   a.MaxOccurs,
			MinValue:    a.MinValue,
			MaxValue:    a.MaxValue,
			EnumValues:  a.EnumValues,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// loadProofs scans `<model>/proofs/*.sql` (§4.8 "discovered at model-load
// time") and registers one proof per file, policy key taken from the
// filename stem.
func (l *Loader) loadProofs(modelPath string) error {
	dir := filepath.Join(modelPath, "proofs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading proofs directory %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading proof file %q: %w", e.Name(), err)
		}
		policyKey := strings.TrimSuffix(e.Name(), ".sql")
		l.Proofs.Register(proof.Proof{PolicyKey: policyKey, Query: string(contents)})
	}
	return nil
}

// sortedKeys returns m's keys in sorted order, for deterministic
// registration (§5 Determinism requirements).
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
