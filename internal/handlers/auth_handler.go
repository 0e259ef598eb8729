package handlers

import (
	"net/http"
	"net/url"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
	"github.com/freva-org/freva-rest/internal/services/auth"
)

// AuthHandler serves the /auth/v2 endpoints.
type AuthHandler struct {
	auth   interfaces.AuthService
	config *common.Config
	logger arbor.ILogger
}

// NewAuthHandler wires the auth mediator surface.
func NewAuthHandler(authService interfaces.AuthService, config *common.Config, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{auth: authService, config: config, logger: logger}
}

func (h *AuthHandler) principal(r *http.Request) (*models.Principal, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, apierrors.Unauthenticated("authentication required")
	}
	return h.auth.ValidateToken(r.Context(), token)
}

// WellKnownHandler proxies the relevant discovery endpoints, rewritten where
// this service sits in front of the IdP.
func (h *AuthHandler) WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	doc, err := h.auth.WellKnown(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// LoginHandler starts the authorization-code flow: validates the client
// redirect, issues a single-use state, and bounces to the IdP.
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		WriteError(w, apierrors.InvalidInput("redirect_uri is required"), h.logger)
		return
	}
	if err := h.auth.ValidateRedirect(redirectURI); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	offline := QueryBool(r, "offline_access")
	state := h.auth.IssueState(redirectURI)
	authorizeURL, err := h.auth.AuthorizeURL(r.Context(), state, offline)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusTemporaryRedirect)
}

// CallbackHandler receives the IdP redirect, redeems the state, and forwards
// the code to the redirect the client registered at login time.
func (h *AuthHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		WriteError(w, apierrors.InvalidInput("code and state are required"), h.logger)
		return
	}
	redirectURI, ok := h.auth.ConsumeState(state)
	if !ok {
		WriteError(w, apierrors.Unauthenticated("unknown or expired login state"), h.logger)
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		WriteError(w, apierrors.InvalidInput("invalid redirect target"), h.logger)
		return
	}
	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
}

// TokenHandler exchanges grants for tokens: authorization_code,
// refresh_token, or the device-code grant.
func (h *AuthHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		WriteError(w, apierrors.InvalidInput("invalid form body"), h.logger)
		return
	}
	grantType := r.PostFormValue("grant_type")

	var (
		token *models.TokenResponse
		err   error
	)
	switch grantType {
	case "authorization_code":
		token, err = h.auth.ExchangeCode(r.Context(), r.PostFormValue("code"), r.PostFormValue("redirect_uri"))
	case "refresh_token":
		token, err = h.auth.RefreshToken(r.Context(), r.PostFormValue("refresh_token"))
	case "urn:ietf:params:oauth:grant-type:device_code":
		token, err = h.auth.DeviceToken(r.Context(), r.PostFormValue("device_code"))
	default:
		err = apierrors.InvalidInput("unsupported grant_type %q", grantType)
	}
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, token)
}

// DeviceHandler initiates the device-code flow for clients that cannot bind
// a localhost port.
func (h *AuthHandler) DeviceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, http.MethodGet) {
		return
	}
	response, err := h.auth.DeviceAuthorize(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, response)
}

// StatusHandler reports the bearer's subject and expiry.
func (h *AuthHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, models.TokenStatus{
		Sub:   principal.Subject,
		Exp:   principal.Expiry,
		Email: principal.Email,
	})
}

// UserinfoHandler returns the profile of the authenticated user.
func (h *AuthHandler) UserinfoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, auth.UserInfoFor(principal))
}

// SystemUserHandler returns the canonical username; guests are rejected.
func (h *AuthHandler) SystemUserHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if principal.IsGuest {
		WriteError(w, apierrors.Forbidden("guests have no system user"), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"username": principal.Username})
}

// CheckUserHandler reports the primary user name of the principal.
func (h *AuthHandler) CheckUserHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, err := h.principal(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if principal.IsGuest || principal.Username == "" {
		WriteError(w, apierrors.Forbidden("not a primary user"), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"pw_name": principal.Username})
}

// LogoutHandler clears the session cookie and bounces to the IdP's
// end-session endpoint.
func (h *AuthHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "freva-session",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	endSession, err := h.auth.EndSessionURL(r.URL.Query().Get("post_logout_redirect_uri"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	http.Redirect(w, r, endSession, http.StatusTemporaryRedirect)
}
