package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// FlavourHandler serves user-flavour CRUD under /databrowser/flavours.
type FlavourHandler struct {
	flavours interfaces.FlavourService
	auth     interfaces.AuthService
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewFlavourHandler wires the flavour CRUD surface.
func NewFlavourHandler(flavours interfaces.FlavourService, auth interfaces.AuthService, logger arbor.ILogger) *FlavourHandler {
	return &FlavourHandler{
		flavours: flavours,
		auth:     auth,
		logger:   logger,
		validate: validator.New(),
	}
}

func (h *FlavourHandler) principal(r *http.Request) (*models.Principal, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, apierrors.Unauthenticated("authentication required")
	}
	principal, err := h.auth.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if principal.IsGuest {
		return nil, apierrors.Forbidden("guests may not manage flavours")
	}
	return principal, nil
}

// ListHandler returns the flavours visible to the caller. Anonymous callers
// see built-ins and global flavours.
func (h *FlavourHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	owner := ""
	if token := BearerToken(r); token != "" {
		if principal, err := h.auth.ValidateToken(r.Context(), token); err == nil {
			owner = principal.Username
		}
	}
	flavours, err := h.flavours.List(r.Context(), owner)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"flavours": flavours})
}

// FlavourRoutes dispatches /databrowser/flavours/{name} by method.
func (h *FlavourHandler) FlavourRoutes(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(PathSuffix(r, prefix), "/")
		if name == "" {
			switch r.Method {
			case http.MethodGet:
				h.ListHandler(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getFlavour(w, r, name)
		case http.MethodPost:
			h.createFlavour(w, r, name)
		case http.MethodPut:
			h.updateFlavour(w, r, name)
		case http.MethodDelete:
			h.deleteFlavour(w, r, name)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (h *FlavourHandler) getFlavour(w http.ResponseWriter, r *http.Request, name string) {
	owner := ""
	if token := BearerToken(r); token != "" {
		if principal, err := h.auth.ValidateToken(r.Context(), token); err == nil {
			owner = principal.Username
		}
	}
	flavour, err := h.flavours.Resolve(r.Context(), name, owner)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, flavour)
}

func (h *FlavourHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*models.FlavourRequest, bool) {
	var req models.FlavourRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierrors.InvalidInput("invalid request body"), h.logger)
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, apierrors.InvalidInput("invalid flavour definition: %v", err), h.logger)
		return nil, false
	}
	return &req, true
}

func (h *FlavourHandler) createFlavour(w http.ResponseWriter, r *http.Request, name string) {
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	flavour, err := h.flavours.Create(r.Context(), principal, name, req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, flavour)
}

func (h *FlavourHandler) updateFlavour(w http.ResponseWriter, r *http.Request, name string) {
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	flavour, err := h.flavours.Update(r.Context(), principal, name, req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, flavour)
}

func (h *FlavourHandler) deleteFlavour(w http.ResponseWriter, r *http.Request, name string) {
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	global := QueryBool(r, "global")
	if err := h.flavours.Delete(r.Context(), principal, name, global); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
