package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// StacHandler serves the /stacapi endpoints (STAC 1.1.0: core, collections,
// item-search).
type StacHandler struct {
	search interfaces.SearchService
	config *common.Config
	logger arbor.ILogger
}

// NewStacHandler wires the STAC surface.
func NewStacHandler(search interfaces.SearchService, config *common.Config, logger arbor.ILogger) *StacHandler {
	return &StacHandler{search: search, config: config, logger: logger}
}

func (h *StacHandler) baseURL() string {
	return h.config.ProxyURL() + "/stacapi"
}

// LandingHandler serves the API landing page.
func (h *StacHandler) LandingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	base := h.baseURL()
	landing := models.StacLanding{
		Type:        "Catalog",
		StacVersion: models.StacVersion,
		ID:          models.StacLandingID,
		Title:       "Freva databrowser STAC API",
		Description: "Climate datasets indexed by the freva databrowser",
		ConformsTo:  models.StacConformance,
		Links: []models.StacLink{
			{Rel: "self", Href: base, Type: "application/json"},
			{Rel: "root", Href: base, Type: "application/json"},
			{Rel: "conformance", Href: base + "/conformance", Type: "application/json"},
			{Rel: "data", Href: base + "/collections", Type: "application/json"},
			{Rel: "search", Href: base + "/search", Type: "application/geo+json"},
			{Rel: "http://www.opengis.net/def/rel/ogc/1.0/queryables", Href: base + "/queryables", Type: "application/schema+json"},
		},
	}
	WriteJSON(w, http.StatusOK, landing)
}

// ConformanceHandler lists the advertised conformance classes.
func (h *StacHandler) ConformanceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"conformsTo": models.StacConformance})
}

func (h *StacHandler) collection(id string, extent *models.StacExtent) models.StacCollection {
	base := h.baseURL()
	return models.StacCollection{
		Type:        "Collection",
		StacVersion: models.StacVersion,
		ID:          id,
		Title:       id,
		Description: fmt.Sprintf("Datasets of the %s project", id),
		License:     "proprietary",
		Extent:      *extent,
		Links: []models.StacLink{
			{Rel: "self", Href: base + "/collections/" + id, Type: "application/json"},
			{Rel: "root", Href: base, Type: "application/json"},
			{Rel: "items", Href: base + "/collections/" + id + "/items", Type: "application/geo+json"},
			{Rel: "http://www.opengis.net/def/rel/ogc/1.0/queryables", Href: base + "/collections/" + id + "/queryables", Type: "application/schema+json"},
		},
	}
}

// CollectionsHandler lists all collections (one per canonical project).
func (h *StacHandler) CollectionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	projects, err := h.search.StacCollections(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	defaultExtent := &models.StacExtent{
		Spatial:  models.StacSpatialExtent{Bbox: [][]float64{{-180, -90, 180, 90}}},
		Temporal: models.StacTemporalExtent{Interval: [][]*string{{nil, nil}}},
	}
	collections := make([]models.StacCollection, 0, len(projects))
	for _, p := range projects {
		collections = append(collections, h.collection(p, defaultExtent))
	}
	WriteJSON(w, http.StatusOK, models.StacCollectionList{
		Collections: collections,
		Links: []models.StacLink{
			{Rel: "self", Href: h.baseURL() + "/collections", Type: "application/json"},
			{Rel: "root", Href: h.baseURL(), Type: "application/json"},
		},
	})
}

// CollectionRoutes dispatches /stacapi/collections/{id}[/items[/{item_id}]]
// and /stacapi/collections/{id}/queryables.
func (h *StacHandler) CollectionRoutes(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		suffix := strings.Trim(PathSuffix(r, prefix), "/")
		if suffix == "" {
			h.CollectionsHandler(w, r)
			return
		}
		parts := strings.Split(suffix, "/")
		collection := strings.ToLower(parts[0])
		switch {
		case len(parts) == 1:
			h.getCollection(w, r, collection)
		case len(parts) == 2 && parts[1] == "items":
			h.getItems(w, r, collection)
		case len(parts) == 2 && parts[1] == "queryables":
			h.QueryablesHandler(w, r)
		case len(parts) == 3 && parts[1] == "items":
			h.getItem(w, r, collection, parts[2])
		default:
			WriteDetail(w, http.StatusNotFound, "not found")
		}
	}
}

func (h *StacHandler) getCollection(w http.ResponseWriter, r *http.Request, collection string) {
	extent, err := h.search.StacCollectionExtent(r.Context(), collection)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, h.collection(collection, extent))
}

func (h *StacHandler) getItems(w http.ResponseWriter, r *http.Request, collection string) {
	limit, err := QueryInt(r, "limit", 0)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if limit < 0 || (limit == 0 && r.URL.Query().Get("limit") != "") {
		WriteError(w, apierrors.InvalidInput("limit must satisfy 1 <= limit <= 1000"), h.logger)
		return
	}
	page, err := h.search.StacItems(r.Context(), interfaces.StacItemParams{
		Collection: collection,
		Limit:      limit,
		Token:      r.URL.Query().Get("token"),
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	itemsURL := fmt.Sprintf("%s/collections/%s/items", h.baseURL(), collection)
	h.writePage(w, page, itemsURL, limit)
}

func (h *StacHandler) writePage(w http.ResponseWriter, page *interfaces.StacPage, pageURL string, limit int) {
	features := make([]models.StacItem, 0, len(page.Documents))
	for _, doc := range page.Documents {
		features = append(features, h.item(doc))
	}
	links := []models.StacLink{
		{Rel: "self", Href: pageURL, Type: "application/geo+json"},
		{Rel: "root", Href: h.baseURL(), Type: "application/json"},
	}
	limitParam := ""
	if limit > 0 {
		limitParam = fmt.Sprintf("&limit=%d", limit)
	}
	if page.NextToken != "" {
		links = append(links, models.StacLink{
			Rel:  "next",
			Href: fmt.Sprintf("%s?token=%s%s", pageURL, page.NextToken, limitParam),
			Type: "application/geo+json",
		})
	}
	if page.PrevToken != "" {
		links = append(links, models.StacLink{
			Rel:  "prev",
			Href: fmt.Sprintf("%s?token=%s%s", pageURL, page.PrevToken, limitParam),
			Type: "application/geo+json",
		})
	}
	WriteGeoJSON(w, http.StatusOK, models.StacItemCollection{
		Type:           "FeatureCollection",
		Features:       features,
		Links:          links,
		NumberMatched:  page.Matched,
		NumberReturned: len(features),
	})
}

func (h *StacHandler) getItem(w http.ResponseWriter, r *http.Request, collection, itemID string) {
	doc, err := h.search.StacItem(r.Context(), collection, itemID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteGeoJSON(w, http.StatusOK, h.item(doc))
}

// SearchHandler implements cross-collection item search (GET and POST).
func (h *StacHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StacSearchRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if collections := q.Get("collections"); collections != "" {
			req.Collections = strings.Split(collections, ",")
		}
		if ids := q.Get("ids"); ids != "" {
			req.IDs = strings.Split(ids, ",")
		}
		if bboxRaw := q.Get("bbox"); bboxRaw != "" {
			for _, part := range strings.Split(bboxRaw, ",") {
				var v float64
				if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &v); err != nil {
					WriteError(w, apierrors.InvalidInput("invalid bbox"), h.logger)
					return
				}
				req.Bbox = append(req.Bbox, v)
			}
		}
		req.Datetime = q.Get("datetime")
		limit, err := QueryInt(r, "limit", 0)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		req.Limit = limit
		req.Token = q.Get("token")
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, apierrors.InvalidInput("invalid request body"), h.logger)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := interfaces.StacItemParams{
		Limit:    req.Limit,
		Token:    req.Token,
		Bbox:     req.Bbox,
		Datetime: req.Datetime,
		IDs:      req.IDs,
		Query:    map[string][]string{},
	}
	if len(req.Collections) == 1 {
		params.Collection = strings.ToLower(req.Collections[0])
	} else if len(req.Collections) > 1 {
		params.Query["project"] = req.Collections
	}
	for key, value := range req.Query {
		switch v := value.(type) {
		case string:
			params.Query[key] = append(params.Query[key], v)
		case []interface{}:
			for _, e := range v {
				params.Query[key] = append(params.Query[key], fmt.Sprintf("%v", e))
			}
		default:
			params.Query[key] = append(params.Query[key], fmt.Sprintf("%v", v))
		}
	}

	page, err := h.search.StacItems(r.Context(), params)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.writePage(w, page, h.baseURL()+"/search", req.Limit)
}

// QueryablesHandler returns the JSON-Schema description of filterable
// properties, shared by the landing page and every collection.
func (h *StacHandler) QueryablesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	properties := map[string]interface{}{
		"id": map[string]interface{}{
			"title": "Item identifier",
			"type":  "string",
		},
		"datetime": map[string]interface{}{
			"title":  "Acquisition interval",
			"type":   "string",
			"format": "date-time",
		},
	}
	for _, field := range models.PrimaryFacets {
		properties[field] = map[string]interface{}{
			"title": field,
			"type":  "string",
		}
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.StacQueryables{
		Schema:               "https://json-schema.org/draft/2019-09/schema",
		ID:                   h.baseURL() + "/queryables",
		Type:                 "object",
		Title:                "Queryables for the freva STAC API",
		Properties:           properties,
		AdditionalProperties: true,
	})
}

// item shapes one search document as a STAC item.
func (h *StacHandler) item(doc models.SearchDocument) models.StacItem {
	collection := strings.ToLower(doc.FirstString("project"))
	itemID := fmt.Sprintf("%d", doc.ID())
	base := h.baseURL()

	bboxVals := docBbox(doc)
	geometry := map[string]interface{}{
		"type": "Polygon",
		"coordinates": [][][]float64{{
			{bboxVals[0], bboxVals[1]},
			{bboxVals[2], bboxVals[1]},
			{bboxVals[2], bboxVals[3]},
			{bboxVals[0], bboxVals[3]},
			{bboxVals[0], bboxVals[1]},
		}},
	}

	properties := map[string]interface{}{"datetime": nil}
	if start, end, ok := parseStoredInterval(doc.FirstString("time")); ok {
		properties["start_datetime"] = start
		properties["end_datetime"] = end
	}
	for _, field := range models.PrimaryFacets {
		if v := doc.FirstString(field); v != "" {
			properties[field] = v
		}
	}

	assets := map[string]models.StacAsset{}
	location := doc.FirstString("uri")
	if location == "" {
		location = doc.FirstString("file")
	}
	if location != "" {
		assets["data"] = models.StacAsset{
			Href:  location,
			Title: "Data file",
			Roles: []string{"data"},
		}
		assets["zarr-access"] = models.StacAsset{
			Href:        fmt.Sprintf("%s/data-portal/zarr/convert?path=%s", h.config.ProxyURL(), url.QueryEscape(doc.FirstString("file"))),
			Title:       "Stream as zarr",
			Type:        "application/vnd+zarr",
			Roles:       []string{"data"},
			Description: "Convert and stream this dataset through the zarr endpoint",
		}
	}

	return models.StacItem{
		Type:        "Feature",
		StacVersion: models.StacVersion,
		ID:          itemID,
		Collection:  collection,
		Geometry:    geometry,
		Bbox:        bboxVals,
		Properties:  properties,
		Assets:      assets,
		Links: []models.StacLink{
			{Rel: "self", Href: fmt.Sprintf("%s/collections/%s/items/%s", base, collection, itemID), Type: "application/geo+json"},
			{Rel: "collection", Href: base + "/collections/" + collection, Type: "application/json"},
			{Rel: "root", Href: base, Type: "application/json"},
		},
	}
}

// docBbox extracts the document's bounding box; absent means global.
func docBbox(doc models.SearchDocument) []float64 {
	global := []float64{-180, -90, 180, 90}
	raw, ok := doc["bbox"].([]interface{})
	if !ok || len(raw) != 4 {
		return global
	}
	out := make([]float64, 4)
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return global
		}
		out[i] = f
	}
	return out
}

// parseStoredInterval unpacks the index's "[start TO end]" range encoding.
func parseStoredInterval(raw string) (string, string, bool) {
	raw = strings.Trim(raw, "[]{}")
	parts := strings.SplitN(raw, " TO ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
