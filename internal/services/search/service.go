package search

import (
	"context"
	"net/url"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

const (
	// defaultBatchSize is the page size used when streaming results.
	defaultBatchSize = 150
	// maxStreamBatch bounds batch_size on streaming endpoints.
	maxStreamBatch = 10000
	// maxPageBatch bounds batch_size on non-streaming (paged) endpoints.
	maxPageBatch = 1000
)

// Service implements interfaces.SearchService on top of a Solr instance with
// a multi-version core and a deduplicated latest-version core.
type Service struct {
	client     *solrClient
	config     *common.Config
	logger     arbor.ILogger
	multiCore  string
	latestCore string
}

// NewService creates the search engine adapter.
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		client:     newSolrClient(config.SolrBaseURL(), logger),
		config:     config,
		logger:     logger,
		multiCore:  config.Solr.Core,
		latestCore: config.SolrLatestCore(),
	}
}

func (s *Service) core(multiVersion bool) string {
	if multiVersion {
		return s.multiCore
	}
	return s.latestCore
}

// buildParams renders the cross-cutting query parts shared by every search
// operation: facet filters, time filter, bbox filter.
func (s *Service) buildParams(p interfaces.SearchParams) (url.Values, error) {
	params := url.Values{}
	params.Set("q", "*:*")
	params.Set("wt", "json")

	filters, err := facetFilters(p.Facets, p.MultiVersion)
	if err != nil {
		return nil, err
	}
	for _, fq := range filters {
		params.Add("fq", fq)
	}
	if p.TimeSpec != "" {
		fq, err := timeFilter(p.TimeSpec, p.TimeSelect)
		if err != nil {
			return nil, err
		}
		params.Add("fq", fq)
	}
	if p.Bbox != "" {
		fq, err := bboxFilter(p.Bbox, p.BboxSelect)
		if err != nil {
			return nil, err
		}
		params.Add("fq", fq)
	}
	return params, nil
}

func clampBatch(requested, limit int) int {
	if requested <= 0 {
		return defaultBatchSize
	}
	if requested > limit {
		return limit
	}
	return requested
}

// DataSearch opens a lazy stream over the matching documents, restricted to
// the uniq key column plus identity fields.
func (s *Service) DataSearch(ctx context.Context, p interfaces.SearchParams) (interfaces.DocumentStream, error) {
	if p.UniqKey != "file" && p.UniqKey != "uri" {
		return nil, apierrors.InvalidInput("invalid uniq key %q (expected file or uri)", p.UniqKey)
	}
	params, err := s.buildParams(p)
	if err != nil {
		return nil, err
	}
	params.Set("fl", "id,"+p.UniqKey)

	batch := clampBatch(p.BatchSize, maxStreamBatch)
	return newCursorStream(ctx, s.client, s.core(p.MultiVersion), params, p.Start, batch, -1)
}

// MetadataSearch returns facet value counts for the query. Extended searches
// cover every canonical facet; otherwise the primary set (optionally narrowed
// by FacetFilter) is returned.
func (s *Service) MetadataSearch(ctx context.Context, p interfaces.SearchParams) (*interfaces.MetadataResult, error) {
	params, err := s.buildParams(p)
	if err != nil {
		return nil, err
	}
	params.Set("rows", "0")
	params.Set("facet", "true")
	params.Set("facet.mincount", "1")
	if p.MaxFacetResults > 0 {
		params.Set("facet.limit", strconv.Itoa(p.MaxFacetResults))
	} else {
		params.Set("facet.limit", "-1")
	}

	fields := s.facetFields(p)
	for _, f := range fields {
		params.Add("facet.field", f)
	}

	resp, err := s.client.Select(ctx, s.core(p.MultiVersion), params)
	if err != nil {
		return nil, err
	}

	result := &interfaces.MetadataResult{
		Total:         resp.Response.NumFound,
		Facets:        make(map[string][]interfaces.FacetCount, len(fields)),
		PrimaryFacets: models.PrimaryFacets,
	}
	for field, flat := range resp.FacetCounts.FacetFields {
		result.Facets[field] = decodeFacetPairs(flat)
	}
	return result, nil
}

func (s *Service) facetFields(p interfaces.SearchParams) []string {
	var candidates []string
	if p.Extended {
		for _, f := range models.CanonicalFields {
			switch f {
			case "file", "uri", "time", "bbox":
			default:
				candidates = append(candidates, f)
			}
		}
	} else {
		candidates = append(candidates, models.PrimaryFacets...)
		if p.MultiVersion {
			candidates = append(candidates, "version")
		}
	}
	if len(p.FacetFilter) == 0 {
		return candidates
	}
	allowed := make(map[string]bool, len(p.FacetFilter))
	for _, f := range p.FacetFilter {
		allowed[f] = true
	}
	out := candidates[:0]
	for _, f := range candidates {
		if allowed[f] {
			out = append(out, f)
		}
	}
	return out
}

// decodeFacetPairs unpacks Solr's flat [value, count, value, count] facet
// array representation.
func decodeFacetPairs(flat []interface{}) []interfaces.FacetCount {
	out := make([]interfaces.FacetCount, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		value, ok := flat[i].(string)
		if !ok {
			continue
		}
		var count int64
		switch c := flat[i+1].(type) {
		case float64:
			count = int64(c)
		case int64:
			count = c
		}
		out = append(out, interfaces.FacetCount{Value: value, Count: count})
	}
	return out
}

// Count returns the match total; with detail it also returns per-facet value
// counts keyed facet -> value -> count.
func (s *Service) Count(ctx context.Context, p interfaces.SearchParams, detail bool) (int64, map[string]map[string]int64, error) {
	if !detail {
		params, err := s.buildParams(p)
		if err != nil {
			return 0, nil, err
		}
		params.Set("rows", "0")
		resp, err := s.client.Select(ctx, s.core(p.MultiVersion), params)
		if err != nil {
			return 0, nil, err
		}
		return resp.Response.NumFound, nil, nil
	}

	meta, err := s.MetadataSearch(ctx, p)
	if err != nil {
		return 0, nil, err
	}
	counts := make(map[string]map[string]int64, len(meta.Facets))
	for facet, pairs := range meta.Facets {
		m := make(map[string]int64, len(pairs))
		for _, pair := range pairs {
			m[pair.Value] = pair.Count
		}
		counts[facet] = m
	}
	return meta.Total, counts, nil
}
