// Package handlers maps URL paths to component operations, manages streaming
// response lifecycles and translates service errors to HTTP statuses.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteGeoJSON writes a STAC payload under the geo+json content type.
func WriteGeoJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a service error to its HTTP status and writes the
// {"detail": ...} body the API promises.
func WriteError(w http.ResponseWriter, err error, logger arbor.ILogger) {
	status := apierrors.StatusCode(err)
	if status >= 500 && logger != nil {
		logger.Error().Err(err).Msg("Request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": apierrors.Detail(err)})
}

// WriteDetail writes a plain {"detail": ...} body with the given status.
func WriteDetail(w http.ResponseWriter, statusCode int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// reservedParams are query keys with dedicated semantics; everything else is
// treated as a facet constraint.
var reservedParams = map[string]bool{
	"time":              true,
	"time_select":       true,
	"bbox":              true,
	"bbox_select":       true,
	"start":             true,
	"max-results":       true,
	"batch-size":        true,
	"multi-version":     true,
	"detail":            true,
	"zarr_stream":       true,
	"translate":         true,
	"facet":             true,
	"max_facet_results": true,
	"--json":            true,
}

// FacetParams collects the non-reserved query parameters as facet pairs.
func FacetParams(r *http.Request) map[string][]string {
	out := map[string][]string{}
	for key, values := range r.URL.Query() {
		if reservedParams[key] {
			continue
		}
		out[key] = append(out[key], values...)
	}
	return out
}

// QueryInt parses an integer query parameter, returning fallback when the
// parameter is absent.
func QueryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierrors.InvalidInput("invalid integer for %q: %q", key, raw)
	}
	return v, nil
}

// QueryBool parses a boolean query parameter; bare presence counts as true.
func QueryBool(r *http.Request, key string) bool {
	if _, present := r.URL.Query()[key]; !present {
		return false
	}
	raw := strings.ToLower(r.URL.Query().Get(key))
	return raw == "" || raw == "true" || raw == "1" || raw == "yes"
}

// PathSuffix strips a route prefix from the request path.
func PathSuffix(r *http.Request, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
}
