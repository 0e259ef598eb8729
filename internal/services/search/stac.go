package search

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

const (
	stacMaxLimit     = 1000
	stacDefaultLimit = 10
)

// pageToken is the opaque STAC pagination cursor: direction:collection:item_id.
type pageToken struct {
	Direction  string
	Collection string
	ItemID     string
}

// EncodePageToken encodes the cursor as unpadded base64url; it is not signed.
func EncodePageToken(direction, collection, itemID string) string {
	raw := fmt.Sprintf("%s:%s:%s", direction, collection, itemID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodePageToken(token string) (pageToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pageToken{}, apierrors.InvalidInput("invalid pagination token")
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 || (parts[0] != "next" && parts[0] != "prev") || parts[2] == "" {
		return pageToken{}, apierrors.InvalidInput("invalid pagination token")
	}
	return pageToken{Direction: parts[0], Collection: parts[1], ItemID: parts[2]}, nil
}

// StacCollections lists the canonical projects, which map one-to-one onto
// STAC collections (lowercased).
func (s *Service) StacCollections(ctx context.Context) ([]string, error) {
	meta, err := s.MetadataSearch(ctx, interfaces.SearchParams{
		Facets:      map[string][]string{},
		FacetFilter: []string{"project"},
	})
	if err != nil {
		return nil, err
	}
	projects := make([]string, 0, len(meta.Facets["project"]))
	for _, pair := range meta.Facets["project"] {
		projects = append(projects, strings.ToLower(pair.Value))
	}
	return projects, nil
}

// StacCollectionExtent derives a collection's spatio-temporal extent. The
// index has no cheap aggregate for interval hulls, so the advertised extent
// is the global envelope with an open temporal interval.
func (s *Service) StacCollectionExtent(ctx context.Context, collection string) (*models.StacExtent, error) {
	count, _, err := s.Count(ctx, interfaces.SearchParams{
		Facets: map[string][]string{"project": {collection}},
	}, false)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, apierrors.NotFound("collection %q not found", collection)
	}
	return &models.StacExtent{
		Spatial:  models.StacSpatialExtent{Bbox: [][]float64{{-180, -90, 180, 90}}},
		Temporal: models.StacTemporalExtent{Interval: [][]*string{{nil, nil}}},
	}, nil
}

// StacItems returns one page of item documents for a collection (or a
// cross-collection search when params.Collection is empty), with opaque
// next/prev cursors. Order is total over document ids, so concatenating all
// pages yields the full result set without duplicates.
func (s *Service) StacItems(ctx context.Context, p interfaces.StacItemParams) (*interfaces.StacPage, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = stacDefaultLimit
	}
	if limit > stacMaxLimit {
		return nil, apierrors.InvalidInput("limit %d exceeds maximum %d", p.Limit, stacMaxLimit)
	}

	facets := map[string][]string{}
	for k, vs := range p.Query {
		facets[k] = append([]string(nil), vs...)
	}
	collection := p.Collection
	var cursor *pageToken
	if p.Token != "" {
		decoded, err := decodePageToken(p.Token)
		if err != nil {
			return nil, err
		}
		cursor = &decoded
		if collection == "" {
			collection = decoded.Collection
		}
	}
	if collection != "" {
		facets["project"] = []string{collection}
	}

	params, err := s.buildParams(interfaces.SearchParams{Facets: facets})
	if err != nil {
		return nil, err
	}
	if p.Datetime != "" {
		fq, err := timeFilter(strings.ReplaceAll(p.Datetime, "/", " to "), interfaces.TimeSelectFlexible)
		if err != nil {
			return nil, err
		}
		params.Add("fq", fq)
	}
	if len(p.Bbox) == 4 {
		fq, err := bboxFilter(fmt.Sprintf("%g,%g,%g,%g", p.Bbox[0], p.Bbox[1], p.Bbox[2], p.Bbox[3]), "")
		if err != nil {
			return nil, err
		}
		params.Add("fq", fq)
	}
	if len(p.IDs) > 0 {
		clauses := make([]string, 0, len(p.IDs))
		for _, id := range p.IDs {
			clauses = append(clauses, escapeValue(id))
		}
		params.Add("fq", "id:("+strings.Join(clauses, " OR ")+")")
	}

	descending := false
	if cursor != nil {
		switch cursor.Direction {
		case "next":
			params.Add("fq", fmt.Sprintf("id:{%s TO *]", escapeValue(cursor.ItemID)))
		case "prev":
			params.Add("fq", fmt.Sprintf("id:[* TO %s}", escapeValue(cursor.ItemID)))
			descending = true
		}
	}
	if descending {
		params.Set("sort", "id desc")
	} else {
		params.Set("sort", "id asc")
	}
	params.Set("rows", fmt.Sprintf("%d", limit))
	params.Set("fl", "*")

	resp, err := s.client.Select(ctx, s.latestCore, params)
	if err != nil {
		return nil, err
	}

	docs := make([]models.SearchDocument, 0, len(resp.Response.Docs))
	for _, d := range resp.Response.Docs {
		docs = append(docs, models.SearchDocument(d))
	}
	if descending {
		// Backwards pages are fetched in reverse; restore ascending order.
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	}

	page := &interfaces.StacPage{Documents: docs, Matched: resp.Response.NumFound}
	if len(docs) > 0 {
		firstID := fmt.Sprintf("%d", docs[0].ID())
		lastID := fmt.Sprintf("%d", docs[len(docs)-1].ID())
		tokenCollection := collection
		// The page is full or mid-stream: expose cursors. A short first page
		// has no continuation in either direction.
		if len(docs) == limit || descending {
			page.NextToken = EncodePageToken("next", tokenCollection, lastID)
		}
		if cursor != nil && (cursor.Direction == "next" || len(docs) == limit) {
			page.PrevToken = EncodePageToken("prev", tokenCollection, firstID)
		}
	}
	return page, nil
}

// StacItem fetches a single item by collection and id.
func (s *Service) StacItem(ctx context.Context, collection, itemID string) (models.SearchDocument, error) {
	params, err := s.buildParams(interfaces.SearchParams{
		Facets: map[string][]string{"project": {collection}},
	})
	if err != nil {
		return nil, err
	}
	params.Add("fq", "id:"+escapeValue(itemID))
	params.Set("rows", "1")
	params.Set("fl", "*")

	resp, err := s.client.Select(ctx, s.latestCore, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Response.Docs) == 0 {
		return nil, apierrors.NotFound("item %q not found in collection %q", itemID, collection)
	}
	return models.SearchDocument(resp.Response.Docs[0]), nil
}
