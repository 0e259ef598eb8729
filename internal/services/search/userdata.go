package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// userProject is the default collection user uploads land in when the caller
// supplies no project facet.
const userProject = "user-data"

// AddUserData ingests user-owned search documents. Request-level facets apply
// to every entry; per-entry facets override them. Entries missing a required
// key or carrying an unparsable time range are skipped, not fatal.
func (s *Service) AddUserData(ctx context.Context, principal *models.Principal, entries []models.UserDataEntry, facets map[string]string) (*models.IngestResult, error) {
	if principal == nil {
		return nil, apierrors.Unauthenticated("user data requires authentication")
	}
	result := &models.IngestResult{}
	docs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		doc, err := s.buildUserDoc(principal, entry, facets)
		if err != nil {
			s.logger.Debug().Err(err).Str("file", entry.File).Msg("Skipping user data entry")
			result.Skipped++
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return result, nil
	}

	// User data is visible in both views: the multi-version core and the
	// deduplicated latest core.
	for _, core := range []string{s.multiCore, s.latestCore} {
		if err := s.client.Update(ctx, core, docs); err != nil {
			return nil, err
		}
	}
	result.Ingested = len(docs)
	s.logger.Info().
		Str("user", principal.Username).
		Int("ingested", result.Ingested).
		Int("skipped", result.Skipped).
		Msg("User data ingested")
	return result, nil
}

func (s *Service) buildUserDoc(principal *models.Principal, entry models.UserDataEntry, facets map[string]string) (map[string]interface{}, error) {
	if entry.File == "" || entry.Variable == "" || entry.Time == "" || entry.TimeFrequency == "" {
		return nil, apierrors.InvalidInput("file, variable, time and time_frequency are required")
	}
	start, end, _, err := parseTimeSpec(entry.Time)
	if err != nil {
		return nil, err
	}

	doc := map[string]interface{}{}
	for k, v := range facets {
		if !models.IsCanonicalField(k) {
			return nil, apierrors.InvalidInput("invalid facet %q", k)
		}
		doc[k] = v
	}
	for k, v := range entry.Facets {
		if !models.IsCanonicalField(k) {
			return nil, apierrors.InvalidInput("invalid facet %q", k)
		}
		doc[k] = v
	}

	doc["file"] = entry.File
	doc["variable"] = entry.Variable
	doc["time_frequency"] = entry.TimeFrequency
	doc["time"] = fmt.Sprintf("[%s TO %s]", start.Format(solrTimeLayout), end.Format(solrTimeLayout))
	if _, ok := doc["project"]; !ok {
		doc["project"] = userProject
	}
	if _, ok := doc["uri"]; !ok {
		if strings.Contains(entry.File, "://") {
			doc["uri"] = entry.File
		} else {
			doc["uri"] = "file://" + entry.File
		}
	}
	if _, ok := doc["fs_type"]; !ok {
		doc["fs_type"] = "posix"
	}
	// The uploader is stamped unconditionally; clients cannot forge ownership.
	doc["user"] = principal.Username
	doc["id"] = userDocID(principal.Username, entry.File)
	return doc, nil
}

// userDocID derives the stable 64-bit document id from the owner and path.
func userDocID(username, file string) int64 {
	h := fnv.New64a()
	h.Write([]byte(username))
	h.Write([]byte{0})
	h.Write([]byte(file))
	return int64(h.Sum64() &^ (1 << 63))
}

// DeleteUserData removes the documents matching the given facets, provided
// every match is owned by the caller. A mix of owned and foreign documents
// rejects the whole request. Admins may target another user by passing an
// explicit user facet.
func (s *Service) DeleteUserData(ctx context.Context, principal *models.Principal, facets map[string][]string) (*models.DeleteResult, error) {
	if principal == nil {
		return nil, apierrors.Unauthenticated("user data requires authentication")
	}

	target := principal.Username
	if explicit, ok := facets["user"]; ok && len(explicit) > 0 {
		if explicit[0] != principal.Username && !principal.IsAdmin {
			return nil, apierrors.Forbidden("only admins may delete another user's data")
		}
		target = explicit[0]
	}

	scoped := make(map[string][]string, len(facets)+1)
	for k, vs := range facets {
		if k == "user" {
			continue
		}
		scoped[k] = vs
	}

	// Ownership check before any destructive call: the unscoped match set
	// must not contain foreign documents.
	meta, err := s.MetadataSearch(ctx, interfaces.SearchParams{
		Facets:      scoped,
		FacetFilter: []string{"user"},
	})
	if err != nil {
		return nil, err
	}
	owners := meta.Facets["user"]
	for _, owner := range owners {
		if owner.Value != target {
			return nil, apierrors.Forbidden("matched documents owned by %q; refusing to delete", owner.Value)
		}
	}

	scoped["user"] = []string{target}
	count, _, err := s.Count(ctx, interfaces.SearchParams{Facets: scoped}, false)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return &models.DeleteResult{Deleted: 0}, nil
	}

	filters, err := facetFilters(scoped, false)
	if err != nil {
		return nil, err
	}
	query := strings.Join(filters, " AND ")
	for _, core := range []string{s.multiCore, s.latestCore} {
		if err := s.client.Update(ctx, core, map[string]interface{}{
			"delete": map[string]string{"query": query},
		}); err != nil {
			return nil, err
		}
	}
	s.logger.Info().Str("user", target).Int64("deleted", count).Msg("User data deleted")
	return &models.DeleteResult{Deleted: int(count)}, nil
}
