package specir

import (
	"fmt"
	"sync"
)

// ResolvedTarget is what a relation resolver returns for a candidate link
// target (§4.6 step 2).
type ResolvedTarget struct {
	ID          int64
	Kind        TargetKind
	TypeRef     string
	IsAmbiguous bool
}

// TargetKind distinguishes an object target from a float target.
type TargetKind string

const (
	TargetObject TargetKind = "object"
	TargetFloat  TargetKind = "float"
	TargetNone   TargetKind = ""
)

// Resolver resolves a relation's raw target text against the store,
// scoped to the specification and source object the relation originated
// from (§4.6 step 2, "Type-driven resolution").
type Resolver func(store *Store, specificationID int64, targetText string, sourceObjectID int64) (ResolvedTarget, bool)

// ResolverRegistry is the store's map from resolver-root identifier (the
// topmost ancestor of a relation type's `extends` chain) to its resolver
// callable (§4.1 "Resolver registry"). Read-only once type loading
// completes (§5 "Shared-resource policy").
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func newResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[string]Resolver)}
}

// RegisterResolver registers the resolver for a resolver-root relation
// type. A later registration for the same root overrides the earlier one,
// mirroring the type-loader's override-by-identifier semantics.
func (r *ResolverRegistry) RegisterResolver(resolverRoot string, fn Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[resolverRoot] = fn
}

// Lookup returns the resolver registered for a root id, if any.
func (r *ResolverRegistry) Lookup(resolverRoot string) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.resolvers[resolverRoot]
	return fn, ok
}

// Resolvers exposes the resolver registry attached to this store.
func (s *Store) Resolvers() *ResolverRegistry {
	s.resolverOnce.Do(func() { s.resolverRegistry = newResolverRegistry() })
	return s.resolverRegistry
}

// RelationTypeParentChain returns the chain of relation type ids from id up
// to (and including) its root ancestor, by walking parent_id.
func (s *Store) RelationTypeParentChain(id string) ([]string, error) {
	chain := []string{id}
	current := id
	for {
		row := s.db.QueryRow(`SELECT parent_id FROM relation_types WHERE id = ?`, current)
		var parent *string
		if err := row.Scan(&parent); err != nil {
			return nil, fmt.Errorf("relation type parent chain for %q: %w", current, err)
		}
		if parent == nil || *parent == "" {
			return chain, nil
		}
		chain = append(chain, *parent)
		current = *parent
	}
}

// ResolverRootOf returns the topmost ancestor of a relation type's extends
// chain — the "resolver root" (GLOSSARY).
func (s *Store) ResolverRootOf(relationTypeID string) (string, error) {
	chain, err := s.RelationTypeParentChain(relationTypeID)
	if err != nil {
		return "", err
	}
	return chain[len(chain)-1], nil
}
