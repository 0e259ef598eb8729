package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// ZarrHandler serves the /data-portal/zarr and /data-portal/zarr-utils
// endpoints.
type ZarrHandler struct {
	zarr     interfaces.ZarrService
	auth     interfaces.AuthService
	config   *common.Config
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewZarrHandler wires the zarr broker surface.
func NewZarrHandler(zarr interfaces.ZarrService, auth interfaces.AuthService, config *common.Config, logger arbor.ILogger) *ZarrHandler {
	return &ZarrHandler{
		zarr:     zarr,
		auth:     auth,
		config:   config,
		logger:   logger,
		validate: validator.New(),
	}
}

func (h *ZarrHandler) principal(r *http.Request) (*models.Principal, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, apierrors.Unauthenticated("authentication required")
	}
	return h.auth.ValidateToken(r.Context(), token)
}

// ConvertHandler registers conversion jobs. POST carries a JSON body; the
// GET alias carries the same fields as query parameters.
func (h *ZarrHandler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var req models.ConvertRequest
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, apierrors.InvalidInput("invalid request body"), h.logger)
			return
		}
	case http.MethodGet:
		q := r.URL.Query()
		req.Path = q["path"]
		req.Aggregate = q.Get("aggregate")
		req.Join = q.Get("join")
		req.Compat = q.Get("compat")
		req.DataVars = q.Get("data_vars")
		req.Coords = q.Get("coords")
		req.Dim = q.Get("dim")
		req.GroupBy = q.Get("group_by")
		req.Public = QueryBool(r, "public")
		if ttl := q.Get("ttl_seconds"); ttl != "" {
			parsed, err := strconv.Atoi(ttl)
			if err != nil {
				WriteError(w, apierrors.InvalidInput("invalid ttl_seconds %q", ttl), h.logger)
				return
			}
			req.TTLSeconds = parsed
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, apierrors.InvalidInput("invalid conversion request: %v", err), h.logger)
		return
	}
	if req.Join != "" && !req.Aggregated() {
		WriteError(w, apierrors.InvalidInput("join requires aggregate"), h.logger)
		return
	}

	response, err := h.zarr.Convert(r.Context(), principal, &req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, response)
}

// StatusHandler reports the state of one conversion job.
func (h *ZarrHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		WriteError(w, apierrors.InvalidInput("token is required"), h.logger)
		return
	}
	status, err := h.zarr.Status(r.Context(), token)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HTMLHandler renders the store preview for the caller's job.
func (h *ZarrHandler) HTMLHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, err := h.principal(r); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		WriteError(w, apierrors.InvalidInput("token is required"), h.logger)
		return
	}
	page, err := h.zarr.HTMLPreview(r.Context(), token)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

// splitStorePath splits "<token>.zarr[/<key...>]" into token and store key.
func splitStorePath(suffix string) (token, key string, err error) {
	parts := strings.SplitN(suffix, "/", 2)
	token, ok := strings.CutSuffix(parts[0], ".zarr")
	if !ok || token == "" {
		return "", "", apierrors.NotFound("unknown zarr store %q", suffix)
	}
	if len(parts) == 2 {
		key = parts[1]
	}
	return token, key, nil
}

// StoreRoutes dispatches /data-portal/zarr/*: the convert alias, the share
// issuer, and chunk/metadata retrieval.
func (h *ZarrHandler) StoreRoutes(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.Trim(PathSuffix(r, prefix), "/")
		switch suffix {
		case "convert":
			h.ConvertHandler(w, r)
			return
		case "share-zarr":
			h.ShareHandler(w, r)
			return
		}
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		token, key, err := splitStorePath(suffix)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		h.serveKey(w, r, token, key, false)
	}
}

// serveKey streams one store key after the authorisation gate: a bearer
// principal, a public unexpired job, or an already-verified share path.
func (h *ZarrHandler) serveKey(w http.ResponseWriter, r *http.Request, token, key string, shared bool) {
	if !shared {
		if _, err := h.principal(r); err != nil {
			job, jobErr := h.zarr.Job(r.Context(), token)
			if jobErr != nil || !job.Public || job.Expired(time.Now()) {
				WriteError(w, apierrors.Unauthenticated("authentication required"), h.logger)
				return
			}
		}
	}

	data, contentType, err := h.zarr.ReadKey(r.Context(), token, key)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ShareHandler issues a pre-signed URL for an existing store.
func (h *ZarrHandler) ShareHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, err := h.principal(r); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	var req models.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, apierrors.InvalidInput("invalid share request: %v", err), h.logger)
		return
	}
	grant, err := h.zarr.Share(r.Context(), &req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, grant)
}

// SharedRoutes serves /data-portal/share/{sig}/{token}.zarr[/{key}]: HMAC
// verification replaces the Authorization header.
func (h *ZarrHandler) SharedRoutes(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		suffix := strings.Trim(PathSuffix(r, prefix), "/")
		parts := strings.SplitN(suffix, "/", 2)
		if len(parts) != 2 {
			WriteError(w, apierrors.NotFound("unknown share path"), h.logger)
			return
		}
		sig := parts[0]
		token, key, err := splitStorePath(parts[1])
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		expiresRaw := r.URL.Query().Get("expires")
		expires, err := strconv.ParseInt(expiresRaw, 10, 64)
		if err != nil {
			WriteError(w, apierrors.Unauthenticated("missing or invalid expiry"), h.logger)
			return
		}
		if err := h.zarr.VerifyShare(sig, token, expires, time.Now()); err != nil {
			WriteError(w, err, h.logger)
			return
		}
		h.serveKey(w, r, token, key, true)
	}
}
