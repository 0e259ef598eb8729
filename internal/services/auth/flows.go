package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/models"
)

// AuthorizeURL builds the IdP authorization redirect for the code flow. The
// IdP returns to this service's callback; the client redirect travels in the
// state store and is redeemed at callback time.
func (s *Service) AuthorizeURL(ctx context.Context, state string, offline bool) (string, error) {
	providerState, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	cfg := s.oauthConfig(providerState, s.callbackURL)
	if offline {
		cfg.Scopes = append(cfg.Scopes, "offline_access")
	}
	return cfg.AuthCodeURL(state), nil
}

// ExchangeCode trades an authorization code for tokens at the IdP.
func (s *Service) ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenResponse, error) {
	state, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	redirect := s.callbackURL
	if redirectURI != "" {
		redirect = redirectURI
	}
	cfg := s.oauthConfig(state, redirect)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnauthenticated, "code exchange failed", err)
	}
	return convertToken(token), nil
}

// RefreshToken trades a refresh token for a fresh token pair.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	if refreshToken == "" {
		return nil, apierrors.InvalidInput("refresh_token is required")
	}
	state, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	cfg := s.oauthConfig(state, "")
	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnauthenticated, "token refresh failed", err)
	}
	return convertToken(token), nil
}

// DeviceAuthorize starts the device flow for clients that cannot bind a
// localhost port.
func (s *Service) DeviceAuthorize(ctx context.Context) (*models.DeviceAuthResponse, error) {
	state, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.endpointOrError(state.extra.DeviceAuthorizationEndpoint, "device authorization"); err != nil {
		return nil, err
	}
	cfg := s.oauthConfig(state, "")
	cfg.Endpoint.DeviceAuthURL = state.extra.DeviceAuthorizationEndpoint
	response, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "device authorization failed", err)
	}
	interval := int(response.Interval)
	if interval <= 0 {
		interval = 5
	}
	return &models.DeviceAuthResponse{
		DeviceCode:      response.DeviceCode,
		UserCode:        response.UserCode,
		VerificationURI: response.VerificationURI,
		Interval:        interval,
	}, nil
}

// DeviceToken performs one poll of the device-code grant. Pending
// authorisations surface as UNAUTHENTICATED so the client keeps polling.
func (s *Service) DeviceToken(ctx context.Context, deviceCode string) (*models.TokenResponse, error) {
	if deviceCode == "" {
		return nil, apierrors.InvalidInput("device_code is required")
	}
	state, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, err := s.endpointOrError(state.extra.TokenEndpoint, "token")
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("device_code", deviceCode)
	form.Set("client_id", s.config.OIDC.ClientID)
	if s.config.OIDC.ClientSecret != "" {
		form.Set("client_secret", s.config.OIDC.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "could not build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "identity provider unavailable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "identity provider unavailable", err)
	}

	var decoded struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		ExpiresIn        int64  `json:"expires_in"`
		RefreshToken     string `json:"refresh_token"`
		RefreshExpiresIn int64  `json:"refresh_expires_in"`
		Scope            string `json:"scope"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "malformed identity provider response", err)
	}
	if decoded.Error != "" {
		switch decoded.Error {
		case "authorization_pending", "slow_down":
			return nil, apierrors.Unauthenticated("authorization pending")
		default:
			return nil, apierrors.Unauthenticated(decoded.ErrorDescription)
		}
	}

	now := s.now().Unix()
	out := &models.TokenResponse{
		AccessToken:  decoded.AccessToken,
		TokenType:    decoded.TokenType,
		Expires:      now + decoded.ExpiresIn,
		RefreshToken: decoded.RefreshToken,
		Scope:        decoded.Scope,
	}
	if decoded.RefreshExpiresIn > 0 {
		out.RefreshExpires = now + decoded.RefreshExpiresIn
	}
	return out, nil
}

// convertToken shapes an oauth2 token into the wire response.
func convertToken(token *oauth2.Token) *models.TokenResponse {
	out := &models.TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		Expires:      token.Expiry.Unix(),
		RefreshToken: token.RefreshToken,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		out.Scope = scope
	}
	if refreshExpires, ok := token.Extra("refresh_expires_in").(float64); ok && refreshExpires > 0 {
		out.RefreshExpires = time.Now().Unix() + int64(refreshExpires)
	}
	return out
}
