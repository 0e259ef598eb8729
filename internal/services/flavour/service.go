// Package flavour maintains the bidirectional mapping between the canonical
// field set and named vocabularies: built-ins compiled in, user flavours
// persisted in the document store behind a read-mostly snapshot cache.
package flavour

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// snapshot is the immutable user-flavour view readers race against. Writers
// rebuild and atomically swap it after every successful mutation.
type snapshot struct {
	byKey map[string]*models.Flavour // "owner/name"
}

// Service implements interfaces.FlavourService.
type Service struct {
	store   interfaces.MetadataStore
	logger  arbor.ILogger
	cache   atomic.Pointer[snapshot]
	writeMu sync.Mutex
	now     func() time.Time
}

// NewService creates the flavour registry and primes the snapshot cache.
func NewService(ctx context.Context, store interfaces.MetadataStore, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	if err := s.reload(ctx); err != nil {
		// A cold document store must not keep the service from starting;
		// built-ins remain available and the cache repopulates on first write.
		logger.Warn().Err(err).Msg("Could not preload user flavours")
		s.cache.Store(&snapshot{byKey: map[string]*models.Flavour{}})
	}
	return s, nil
}

func key(owner, name string) string {
	return owner + "/" + name
}

func (s *Service) reload(ctx context.Context) error {
	all, err := s.store.ListFlavours(ctx, nil)
	if err != nil {
		return err
	}
	byKey := make(map[string]*models.Flavour, len(all))
	for _, f := range all {
		byKey[key(f.Owner, f.Name)] = f
	}
	s.cache.Store(&snapshot{byKey: byKey})
	return nil
}

// Resolve looks a flavour up by name for the given owner: built-ins first,
// then the owner's flavours, then global user-defined ones.
func (s *Service) Resolve(ctx context.Context, name, owner string) (*models.Flavour, error) {
	if f, ok := builtins[name]; ok {
		return f, nil
	}
	snap := s.cache.Load()
	if snap != nil {
		if owner != "" {
			if f, ok := snap.byKey[key(owner, name)]; ok {
				return f, nil
			}
		}
		if f, ok := snap.byKey[key(models.GlobalOwner, name)]; ok {
			return f, nil
		}
	}
	return nil, apierrors.NotFound("flavour %q not found", name)
}

// List returns the flavours visible to owner: all built-ins, all global
// user-defined flavours, and the owner's own.
func (s *Service) List(ctx context.Context, owner string) ([]*models.Flavour, error) {
	out := make([]*models.Flavour, 0, len(BuiltinNames)+4)
	for _, name := range BuiltinNames {
		out = append(out, builtins[name])
	}
	snap := s.cache.Load()
	if snap != nil {
		for _, f := range snap.byKey {
			if f.Owner == models.GlobalOwner || f.Owner == owner {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func targetOwner(principal *models.Principal, global bool) (string, error) {
	if !global {
		return principal.Username, nil
	}
	if !principal.IsAdmin {
		return "", apierrors.Forbidden("only admins may manage global flavours")
	}
	return models.GlobalOwner, nil
}

// Create registers a new user flavour. Built-in names and existing
// (name, owner) pairs are rejected.
func (s *Service) Create(ctx context.Context, principal *models.Principal, name string, req *models.FlavourRequest) (*models.Flavour, error) {
	owner, err := targetOwner(principal, req.Global)
	if err != nil {
		return nil, err
	}
	if IsBuiltin(name) {
		return nil, apierrors.Newf(apierrors.KindImmutable, "flavour %q is built in", name)
	}
	if err := validateMapping(req.Mapping); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if existing, err := s.store.GetFlavour(ctx, name, owner); err == nil && existing != nil {
		return nil, apierrors.Newf(apierrors.KindConflict, "flavour %q already exists", name)
	}
	f := &models.Flavour{
		Name:      name,
		Owner:     owner,
		Mapping:   req.Mapping,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.UpsertFlavour(ctx, f); err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "could not store flavour", err)
	}
	s.invalidate(ctx)
	s.logger.Info().Str("flavour", name).Str("owner", owner).Msg("Flavour created")
	return f, nil
}

// Update edits an existing user flavour. A new flavour_name in the request
// renames atomically; renaming onto an existing name is a conflict. Keys
// absent from the request mapping retain their prior values.
func (s *Service) Update(ctx context.Context, principal *models.Principal, name string, req *models.FlavourRequest) (*models.Flavour, error) {
	owner, err := targetOwner(principal, req.Global)
	if err != nil {
		return nil, err
	}
	if IsBuiltin(name) {
		return nil, apierrors.Newf(apierrors.KindImmutable, "flavour %q is built in", name)
	}
	if err := validateMapping(req.Mapping); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.store.GetFlavour(ctx, name, owner)
	if err != nil || existing == nil {
		return nil, apierrors.NotFound("flavour %q not found", name)
	}

	merged := make(map[string]string, len(existing.Mapping)+len(req.Mapping))
	for k, v := range existing.Mapping {
		merged[k] = v
	}
	for k, v := range req.Mapping {
		merged[k] = v
	}

	newName := name
	if req.FlavourName != "" && req.FlavourName != name {
		newName = req.FlavourName
		if IsBuiltin(newName) {
			return nil, apierrors.Newf(apierrors.KindImmutable, "flavour %q is built in", newName)
		}
		if clash, err := s.store.GetFlavour(ctx, newName, owner); err == nil && clash != nil {
			return nil, apierrors.Newf(apierrors.KindConflict, "flavour %q already exists", newName)
		}
	}

	f := &models.Flavour{
		Name:      newName,
		Owner:     owner,
		Mapping:   merged,
		CreatedAt: existing.CreatedAt,
	}
	if newName != name {
		err = s.store.RenameFlavour(ctx, name, owner, f)
	} else {
		err = s.store.UpsertFlavour(ctx, f)
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "could not store flavour", err)
	}
	s.invalidate(ctx)
	s.logger.Info().Str("flavour", name).Str("renamed_to", newName).Str("owner", owner).Msg("Flavour updated")
	return f, nil
}

// Delete removes a user flavour. Built-ins are rejected.
func (s *Service) Delete(ctx context.Context, principal *models.Principal, name string, global bool) error {
	owner, err := targetOwner(principal, global)
	if err != nil {
		return err
	}
	if IsBuiltin(name) {
		return apierrors.Newf(apierrors.KindImmutable, "flavour %q is built in", name)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.store.GetFlavour(ctx, name, owner)
	if err != nil || existing == nil {
		return apierrors.NotFound("flavour %q not found", name)
	}
	if err := s.store.DeleteFlavour(ctx, name, owner); err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "could not delete flavour", err)
	}
	s.invalidate(ctx)
	s.logger.Info().Str("flavour", name).Str("owner", owner).Msg("Flavour deleted")
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.reload(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Flavour cache reload failed")
	}
}

// TranslateIn maps flavour-specific query keys to canonical names. Unknown
// keys fail; values pass through untouched so wildcard and regex syntax
// survive translation.
func (s *Service) TranslateIn(flavour *models.Flavour, facets map[string][]string) (map[string][]string, error) {
	reverse := flavour.Reverse()
	out := make(map[string][]string, len(facets))
	for k, values := range facets {
		name, negated := strings.CutSuffix(k, "_not_")
		canonical, ok := reverse[name]
		if !ok {
			if !models.IsCanonicalField(name) {
				return nil, apierrors.InvalidInput("invalid facet %q for flavour %q", k, flavour.Name)
			}
			// A canonical name that the flavour maps elsewhere must not be
			// accepted under its canonical spelling, or the round trip breaks.
			if _, mapped := flavour.Mapping[name]; mapped {
				return nil, apierrors.InvalidInput("invalid facet %q for flavour %q", k, flavour.Name)
			}
			canonical = name
		}
		if negated {
			canonical += "_not_"
		}
		out[canonical] = append(out[canonical], values...)
	}
	return out, nil
}

// TranslateOut maps canonical document fields into the flavour's vocabulary.
// Unmapped fields pass through under their canonical name.
func (s *Service) TranslateOut(flavour *models.Flavour, doc models.SearchDocument) models.SearchDocument {
	out := make(models.SearchDocument, len(doc))
	for k, v := range doc {
		out[flavour.TranslateOutField(k)] = v
	}
	return out
}

func validateMapping(mapping map[string]string) error {
	seen := make(map[string]string, len(mapping))
	for canonical, specific := range mapping {
		if !models.IsCanonicalField(canonical) {
			return apierrors.InvalidInput("unknown canonical field %q in mapping", canonical)
		}
		if specific == "" {
			return apierrors.InvalidInput("empty mapping for field %q", canonical)
		}
		if prev, dup := seen[specific]; dup {
			return apierrors.InvalidInput("mapping is not injective: %q and %q both map to %q", prev, canonical, specific)
		}
		seen[specific] = canonical
	}
	return nil
}
