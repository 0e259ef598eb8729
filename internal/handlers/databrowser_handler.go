package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// flushEvery bounds how many streamed lines are buffered before a flush.
const flushEvery = 100

// DatabrowserHandler serves the /databrowser/* endpoints.
type DatabrowserHandler struct {
	search   interfaces.SearchService
	flavours interfaces.FlavourService
	auth     interfaces.AuthService
	zarr     interfaces.ZarrService
	stats    interfaces.StatsService
	config   *common.Config
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewDatabrowserHandler wires the databrowser surface.
func NewDatabrowserHandler(
	search interfaces.SearchService,
	flavours interfaces.FlavourService,
	auth interfaces.AuthService,
	zarr interfaces.ZarrService,
	stats interfaces.StatsService,
	config *common.Config,
	logger arbor.ILogger,
) *DatabrowserHandler {
	return &DatabrowserHandler{
		search:   search,
		flavours: flavours,
		auth:     auth,
		zarr:     zarr,
		stats:    stats,
		config:   config,
		logger:   logger,
		validate: validator.New(),
	}
}

// optionalPrincipal validates a bearer when present; anonymous requests pass.
func (h *DatabrowserHandler) optionalPrincipal(r *http.Request) *models.Principal {
	token := BearerToken(r)
	if token == "" {
		return nil
	}
	principal, err := h.auth.ValidateToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return principal
}

// requirePrincipal rejects requests without a valid bearer.
func (h *DatabrowserHandler) requirePrincipal(r *http.Request) (*models.Principal, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, apierrors.Unauthenticated("authentication required")
	}
	return h.auth.ValidateToken(r.Context(), token)
}

// parseSearchPath splits ".../{endpoint}/{flavour}/{uniq_key}".
func parseSearchPath(r *http.Request, prefix string) (flavourName, uniqKey string, err error) {
	suffix := PathSuffix(r, prefix)
	parts := strings.SplitN(strings.Trim(suffix, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", apierrors.InvalidInput("flavour missing from path")
	}
	flavourName = parts[0]
	if len(parts) == 2 {
		uniqKey = parts[1]
	}
	return flavourName, uniqKey, nil
}

// buildParams assembles the canonicalised search parameters shared by the
// search endpoints.
func (h *DatabrowserHandler) buildParams(r *http.Request, flavourName, uniqKey string, principal *models.Principal) (interfaces.SearchParams, error) {
	owner := ""
	if principal != nil {
		owner = principal.Username
	}
	flavour, err := h.flavours.Resolve(r.Context(), flavourName, owner)
	if err != nil {
		return interfaces.SearchParams{}, err
	}
	facets, err := h.flavours.TranslateIn(flavour, FacetParams(r))
	if err != nil {
		return interfaces.SearchParams{}, err
	}

	start, err := QueryInt(r, "start", 0)
	if err != nil {
		return interfaces.SearchParams{}, err
	}
	maxResults, err := QueryInt(r, "max-results", 0)
	if err != nil {
		return interfaces.SearchParams{}, err
	}
	batchSize, err := QueryInt(r, "batch-size", 0)
	if err != nil {
		return interfaces.SearchParams{}, err
	}
	maxFacets, err := QueryInt(r, "max_facet_results", 0)
	if err != nil {
		return interfaces.SearchParams{}, err
	}

	params := interfaces.SearchParams{
		Flavour:         flavour,
		UniqKey:         uniqKey,
		Facets:          facets,
		TimeSpec:        r.URL.Query().Get("time"),
		TimeSelect:      r.URL.Query().Get("time_select"),
		Bbox:            r.URL.Query().Get("bbox"),
		BboxSelect:      r.URL.Query().Get("bbox_select"),
		MultiVersion:    QueryBool(r, "multi-version"),
		Start:           int64(start),
		BatchSize:       batchSize,
		FacetFilter:     r.URL.Query()["facet"],
		MaxFacetResults: maxFacets,
	}
	if maxResults > 0 && (params.BatchSize <= 0 || params.BatchSize > maxResults) {
		// No point fetching pages larger than the result cap.
		params.BatchSize = maxResults
	}
	return params, nil
}

// recordStats enqueues a usage record unless the client went away mid-stream.
func (h *DatabrowserHandler) recordStats(r *http.Request, params interfaces.SearchParams, count int64, started time.Time, aborted bool) {
	if aborted {
		h.logger.Debug().Str("route", r.URL.Path).Bool("aborted", true).Msg("Client disconnected mid-stream")
		return
	}
	principal := ""
	if p := h.optionalPrincipal(r); p != nil {
		principal = p.Username
	}
	flavourName := "freva"
	if params.Flavour != nil {
		flavourName = params.Flavour.Name
	}
	h.stats.Record(models.StatsRecord{
		Timestamp:   time.Now().UTC(),
		Route:       r.URL.Path,
		Principal:   principal,
		Flavour:     flavourName,
		Facets:      params.Facets,
		ResultCount: count,
		DurationMS:  time.Since(started).Milliseconds(),
	})
}

// DataSearchHandler streams matching file locations, one per line. With
// ?--json the stream switches to NDJSON; with ?zarr_stream=true the paths
// are registered for conversion and streamed as zarr endpoints.
func (h *DatabrowserHandler) DataSearchHandler(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		started := time.Now()
		flavourName, uniqKey, err := parseSearchPath(r, prefix)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		principal := h.optionalPrincipal(r)
		params, err := h.buildParams(r, flavourName, uniqKey, principal)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		maxResults, _ := QueryInt(r, "max-results", 0)

		zarrStream := QueryBool(r, "zarr_stream")
		if zarrStream {
			h.streamZarrEndpoints(w, r, params, maxResults, started)
			return
		}

		stream, err := h.search.DataSearch(r.Context(), params)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		defer stream.Close()

		ndjson := QueryBool(r, "--json")
		if ndjson {
			w.Header().Set("Content-Type", "application/x-ndjson")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		// Headers commit here; backend errors past this point can only
		// truncate the stream.
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		var count int64
		aborted := false
		for {
			doc, ok, err := stream.Next(r.Context())
			if err != nil {
				h.logger.Warn().Err(err).Msg("Stream aborted by backend error")
				aborted = true
				break
			}
			if !ok {
				break
			}
			location := doc.FirstString(params.UniqKey)
			if location == "" {
				continue
			}
			var line []byte
			if ndjson {
				line, _ = json.Marshal(location)
			} else {
				line = []byte(location)
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				aborted = true
				break
			}
			count++
			if maxResults > 0 && count >= int64(maxResults) {
				break
			}
			if count%flushEvery == 0 && flusher != nil {
				flusher.Flush()
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
		h.recordStats(r, params, count, started, aborted || r.Context().Err() != nil)
	}
}

// streamZarrEndpoints converts the matching paths and streams one zarr URL
// per path. Conversion requires authentication and the zarr-stream service.
func (h *DatabrowserHandler) streamZarrEndpoints(w http.ResponseWriter, r *http.Request, params interfaces.SearchParams, maxResults int, started time.Time) {
	principal, err := h.requirePrincipal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if h.zarr == nil {
		WriteDetail(w, http.StatusServiceUnavailable, "zarr streaming is disabled")
		return
	}

	stream, err := h.search.DataSearch(r.Context(), params)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	defer stream.Close()

	var paths []string
	for {
		doc, ok, err := stream.Next(r.Context())
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		if !ok {
			break
		}
		if location := doc.FirstString(params.UniqKey); location != "" {
			paths = append(paths, location)
		}
		if maxResults > 0 && len(paths) >= maxResults {
			break
		}
	}
	if len(paths) == 0 {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}

	response, err := h.zarr.Convert(r.Context(), principal, &models.ConvertRequest{Path: paths})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, u := range response.URLs {
		fmt.Fprintln(w, u)
	}
	h.recordStats(r, params, int64(len(response.URLs)), started, r.Context().Err() != nil)
}

// metadataResponse shapes facet counts the way clients expect: Solr-style
// flattened [value, count, ...] arrays keyed by flavour-translated names.
func (h *DatabrowserHandler) metadataResponse(params interfaces.SearchParams, result *interfaces.MetadataResult) map[string]interface{} {
	facets := make(map[string][]interface{}, len(result.Facets))
	translate := func(name string) string {
		if params.Flavour == nil {
			return name
		}
		return params.Flavour.TranslateOutField(name)
	}
	for name, pairs := range result.Facets {
		flat := make([]interface{}, 0, len(pairs)*2)
		for _, pair := range pairs {
			flat = append(flat, pair.Value, pair.Count)
		}
		facets[translate(name)] = flat
	}
	primary := make([]string, 0, len(result.PrimaryFacets))
	for _, name := range result.PrimaryFacets {
		primary = append(primary, translate(name))
	}
	return map[string]interface{}{
		"total_count":    result.Total,
		"facets":         facets,
		"primary_facets": primary,
	}
}

// MetadataSearchHandler returns facet counts for the query.
func (h *DatabrowserHandler) MetadataSearchHandler(prefix string, extended bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		started := time.Now()
		flavourName, uniqKey, err := parseSearchPath(r, prefix)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		principal := h.optionalPrincipal(r)
		params, err := h.buildParams(r, flavourName, uniqKey, principal)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		params.Extended = extended

		result, err := h.search.MetadataSearch(r.Context(), params)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteJSON(w, http.StatusOK, h.metadataResponse(params, result))
		h.recordStats(r, params, result.Total, started, false)
	}
}

// DataCountHandler returns the match total; with ?detail per-facet counts.
func (h *DatabrowserHandler) DataCountHandler(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		flavourName, uniqKey, err := parseSearchPath(r, prefix)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		principal := h.optionalPrincipal(r)
		params, err := h.buildParams(r, flavourName, uniqKey, principal)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		detail := QueryBool(r, "detail")
		total, counts, err := h.search.Count(r.Context(), params, detail)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		if detail {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"total_count": total, "counts": counts})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"total_count": total})
	}
}

// OverviewHandler lists the available flavours and their attribute names.
func (h *DatabrowserHandler) OverviewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal := h.optionalPrincipal(r)
	owner := ""
	if principal != nil {
		owner = principal.Username
	}
	flavours, err := h.flavours.List(r.Context(), owner)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	names := make([]string, 0, len(flavours))
	attributes := make(map[string][]string, len(flavours))
	for _, f := range flavours {
		names = append(names, f.Name)
		attrs := make([]string, 0, len(models.PrimaryFacets))
		for _, field := range models.PrimaryFacets {
			attrs = append(attrs, f.TranslateOutField(field))
		}
		attributes[f.Name] = attrs
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"flavours":   names,
		"attributes": attributes,
	})
}

// IntakeHandler returns an intake-ESM catalogue. An empty result set is a
// 400: an empty catalogue cannot be opened by intake.
func (h *DatabrowserHandler) IntakeHandler(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		started := time.Now()
		flavourName, uniqKey, err := parseSearchPath(r, prefix)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		principal := h.optionalPrincipal(r)
		params, err := h.buildParams(r, flavourName, uniqKey, principal)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		catalogue, err := h.search.IntakeCatalogue(r.Context(), params)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		if len(catalogue.CatalogDict) == 0 {
			WriteDetail(w, http.StatusBadRequest, "no datasets found for the given constraints")
			return
		}
		WriteJSON(w, http.StatusOK, catalogue)
		h.recordStats(r, params, int64(len(catalogue.CatalogDict)), started, false)
	}
}

// userDataRequest is the body of POST /databrowser/userdata.
type userDataRequest struct {
	UserMetadata []models.UserDataEntry `json:"user_metadata" validate:"required,min=1,dive"`
	Facets       map[string]string      `json:"facets,omitempty"`
}

// UserDataHandler ingests (POST) or purges (DELETE) user data.
func (h *DatabrowserHandler) UserDataHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := h.requirePrincipal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if principal.IsGuest {
		WriteError(w, apierrors.Forbidden("guests may not manage user data"), h.logger)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req userDataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, apierrors.InvalidInput("invalid request body"), h.logger)
			return
		}
		if err := h.validate.Struct(&req); err != nil {
			WriteError(w, apierrors.InvalidInput("invalid user data: %v", err), h.logger)
			return
		}
		result, err := h.search.AddUserData(r.Context(), principal, req.UserMetadata, req.Facets)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteJSON(w, http.StatusCreated, result)
	case http.MethodDelete:
		result, err := h.search.DeleteUserData(r.Context(), principal, FacetParams(r))
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
