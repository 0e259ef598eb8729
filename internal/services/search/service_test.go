package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
)

// fakeSolr serves a static document set with enough of the select protocol
// for the adapter: cursorMark paging, rows, facet.field counts.
type fakeSolr struct {
	docs     []map[string]interface{}
	requests int
}

func (f *fakeSolr) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		q := r.URL.Query()
		rows, _ := strconv.Atoi(q.Get("rows"))
		cursor := q.Get("cursorMark")

		start := 0
		if cursor != "" && cursor != "*" {
			start, _ = strconv.Atoi(cursor)
		}
		end := start + rows
		if end > len(f.docs) {
			end = len(f.docs)
		}
		page := f.docs[start:end]

		response := map[string]interface{}{
			"response": map[string]interface{}{
				"numFound": len(f.docs),
				"docs":     page,
			},
		}
		if cursor != "" {
			next := fmt.Sprintf("%d", end)
			if len(page) == 0 {
				next = cursor
			}
			response["nextCursorMark"] = next
		}
		if q.Get("facet") == "true" {
			counts := map[string]map[string]int{}
			for _, field := range q["facet.field"] {
				counts[field] = map[string]int{}
				for _, doc := range f.docs {
					if v, ok := doc[field].(string); ok {
						counts[field][v]++
					}
				}
			}
			facetFields := map[string]interface{}{}
			for field, values := range counts {
				flat := []interface{}{}
				for v, c := range values {
					flat = append(flat, v, c)
				}
				facetFields[field] = flat
			}
			response["facet_counts"] = map[string]interface{}{"facet_fields": facetFields}
		}
		json.NewEncoder(w).Encode(response)
	}
}

func testDocs(n int) []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, map[string]interface{}{
			"id":       i + 1,
			"file":     fmt.Sprintf("/data/file_%03d.nc", i+1),
			"uri":      fmt.Sprintf("file:///data/file_%03d.nc", i+1),
			"project":  "observations",
			"variable": "pr",
		})
	}
	return docs
}

func newTestSearch(t *testing.T, solr *fakeSolr) (*Service, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/solr/", solr.handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	cfg := common.NewDefaultConfig()
	cfg.Solr.Host = ts.URL
	return NewService(cfg, arbor.NewLogger()), ts
}

func drain(t *testing.T, stream interfaces.DocumentStream) []string {
	t.Helper()
	var out []string
	for {
		doc, ok, err := stream.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, doc.FirstString("file"))
	}
}

func TestDataSearchStreamsAllPages(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(7)}
	svc, _ := newTestSearch(t, solr)

	stream, err := svc.DataSearch(context.Background(), interfaces.SearchParams{
		UniqKey:   "file",
		Facets:    map[string][]string{"project": {"observations"}},
		BatchSize: 3,
	})
	require.NoError(t, err)
	defer stream.Close()

	files := drain(t, stream)
	assert.Len(t, files, 7)
	assert.Equal(t, "/data/file_001.nc", files[0])
	assert.Equal(t, "/data/file_007.nc", files[6])
	assert.Equal(t, int64(7), stream.Total())
}

func TestDataSearchStartOffset(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(6)}
	svc, _ := newTestSearch(t, solr)

	stream, err := svc.DataSearch(context.Background(), interfaces.SearchParams{
		UniqKey:   "file",
		Facets:    map[string][]string{},
		Start:     4,
		BatchSize: 2,
	})
	require.NoError(t, err)
	defer stream.Close()

	files := drain(t, stream)
	assert.Equal(t, []string{"/data/file_005.nc", "/data/file_006.nc"}, files)
}

func TestDataSearchEmptyResult(t *testing.T) {
	solr := &fakeSolr{docs: nil}
	svc, _ := newTestSearch(t, solr)

	stream, err := svc.DataSearch(context.Background(), interfaces.SearchParams{
		UniqKey: "file",
		Facets:  map[string][]string{},
	})
	require.NoError(t, err)
	defer stream.Close()
	assert.Empty(t, drain(t, stream))
}

func TestDataSearchInvalidUniqKey(t *testing.T) {
	solr := &fakeSolr{docs: nil}
	svc, _ := newTestSearch(t, solr)
	_, err := svc.DataSearch(context.Background(), interfaces.SearchParams{UniqKey: "path"})
	assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput))
}

func TestMetadataSearchCounts(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(4)}
	svc, _ := newTestSearch(t, solr)

	result, err := svc.MetadataSearch(context.Background(), interfaces.SearchParams{
		Facets:      map[string][]string{},
		FacetFilter: []string{"project", "variable"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Total)
	require.Contains(t, result.Facets, "project")
	assert.Equal(t, []interfaces.FacetCount{{Value: "observations", Count: 4}}, result.Facets["project"])
}

func TestCountDetail(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(3)}
	svc, _ := newTestSearch(t, solr)

	total, counts, err := svc.Count(context.Background(), interfaces.SearchParams{
		Facets:      map[string][]string{},
		FacetFilter: []string{"variable"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(3), counts["variable"]["pr"])
}

func TestBackendUnavailable(t *testing.T) {
	cfg := common.NewDefaultConfig()
	// Nothing listens here; connection errors are retried then surfaced.
	cfg.Solr.Host = "127.0.0.1:1"
	svc := NewService(cfg, arbor.NewLogger())

	_, err := svc.DataSearch(context.Background(), interfaces.SearchParams{
		UniqKey: "file",
		Facets:  map[string][]string{},
	})
	assert.True(t, apierrors.IsKind(err, apierrors.KindBackendUnavailable))
}

func TestIntakeCatalogue(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(2)}
	svc, _ := newTestSearch(t, solr)

	catalogue, err := svc.IntakeCatalogue(context.Background(), interfaces.SearchParams{
		UniqKey: "file",
		Facets:  map[string][]string{},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", catalogue.EsmcatVersion)
	assert.Equal(t, "file", catalogue.Assets.ColumnName)
	assert.Len(t, catalogue.CatalogDict, 2)
	assert.Equal(t, "/data/file_001.nc", catalogue.CatalogDict[0]["file"])
	assert.Contains(t, catalogue.AggregationControl.GroupbyAttrs, "project")
}
