// Package auth mediates between HTTP clients and the OIDC provider: code and
// device flows, bearer validation against the provider's JWKS, and the claim
// filters that gate access.
package auth

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/models"
)

// discoveryTTL is how long a fetched discovery document stays fresh.
const discoveryTTL = 10 * time.Minute

// providerExtra carries the discovery endpoints go-oidc does not surface
// directly.
type providerExtra struct {
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	EndSessionEndpoint          string `json:"end_session_endpoint"`
	UserinfoEndpoint            string `json:"userinfo_endpoint"`
	TokenEndpoint               string `json:"token_endpoint"`
	AuthorizationEndpoint       string `json:"authorization_endpoint"`
	Issuer                      string `json:"issuer"`
	JwksURI                     string `json:"jwks_uri"`
}

// providerState is one immutable discovery snapshot. Readers load it
// atomically; the refresh routine is the single writer.
type providerState struct {
	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
	extra     providerExtra
	fetchedAt time.Time
}

// Service implements interfaces.AuthService.
type Service struct {
	config       *common.Config
	logger       arbor.ILogger
	state        atomic.Pointer[providerState]
	states       *stateStore
	tokenFilters []claimFilter
	adminFilters []claimFilter
	callbackURL  string
	now          func() time.Time
}

// NewService fetches the discovery document and prepares the validator.
// Discovery failure at startup is fatal for the caller (exit code 2).
func NewService(ctx context.Context, config *common.Config, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		config:       config,
		logger:       logger,
		states:       newStateStore(),
		tokenFilters: compileClaimFilters(config.OIDC.TokenClaims),
		adminFilters: compileClaimFilters(config.OIDC.AdminClaims),
		callbackURL:  config.ProxyURL() + "/auth/v2/callback",
		now:          time.Now,
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// issuerFromDiscovery strips the well-known suffix, which is what go-oidc
// expects as provider URL.
func issuerFromDiscovery(discoveryURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(discoveryURL, "/"), "/.well-known/openid-configuration")
}

// Refresh refetches the discovery document and JWKS handle, replacing the
// snapshot atomically. Also invoked by the maintenance cron.
func (s *Service) Refresh(ctx context.Context) error {
	issuer := issuerFromDiscovery(s.config.OIDC.DiscoveryURL)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "OIDC discovery failed", err)
	}
	var extra providerExtra
	if err := provider.Claims(&extra); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "malformed discovery document", err)
	}
	verifier := provider.Verifier(&oidc.Config{
		// Access tokens carry the audience of downstream services, not this
		// client; identity is established by signature, issuer and expiry.
		SkipClientIDCheck: true,
	})
	s.state.Store(&providerState{
		provider:  provider,
		verifier:  verifier,
		extra:     extra,
		fetchedAt: s.now(),
	})
	s.logger.Debug().Str("issuer", issuer).Msg("OIDC discovery refreshed")
	return nil
}

// current returns a fresh snapshot, refreshing past the TTL. A failed
// refresh keeps serving the stale snapshot rather than failing requests.
func (s *Service) current(ctx context.Context) (*providerState, error) {
	state := s.state.Load()
	if state == nil {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return s.state.Load(), nil
	}
	if s.now().Sub(state.fetchedAt) > discoveryTTL {
		if err := s.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("OIDC discovery refresh failed; serving cached document")
		} else {
			state = s.state.Load()
		}
	}
	return state, nil
}

func (s *Service) oauthConfig(state *providerState, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.config.OIDC.ClientID,
		ClientSecret: s.config.OIDC.ClientSecret,
		Endpoint:     state.provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
}

// ValidateToken verifies a bearer token (signature via JWKS, expiry, issuer)
// and applies the configured claim filters. Any failure maps to
// UNAUTHENTICATED.
func (s *Service) ValidateToken(ctx context.Context, rawToken string) (*models.Principal, error) {
	if rawToken == "" {
		return nil, apierrors.Unauthenticated("missing bearer token")
	}
	state, err := s.current(ctx)
	if err != nil {
		return nil, apierrors.Unauthenticated("token validation unavailable")
	}
	idToken, err := state.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, apierrors.Unauthenticated("invalid bearer token")
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, apierrors.Unauthenticated("invalid token claims")
	}
	for _, filter := range s.tokenFilters {
		if !filter.matches(claims) {
			return nil, apierrors.Unauthenticated("token claims do not satisfy access policy")
		}
	}

	principal := principalFromClaims(idToken.Subject, claims)
	principal.Expiry = idToken.Expiry.Unix()
	for _, filter := range s.adminFilters {
		if filter.matches(claims) {
			principal.IsAdmin = true
			break
		}
	}
	return principal, nil
}

func claimString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func principalFromClaims(subject string, claims map[string]interface{}) *models.Principal {
	username := claimString(claims, "preferred_username")
	if username == "" {
		username = subject
	}
	isGuest := false
	if v, ok := claims["is_guest"].(bool); ok {
		isGuest = v
	}
	home := claimString(claims, "home")
	if home == "" && username != "" {
		home = "/home/" + username
	}
	return &models.Principal{
		Subject:   subject,
		Username:  username,
		Email:     claimString(claims, "email"),
		FirstName: claimString(claims, "given_name"),
		LastName:  claimString(claims, "family_name"),
		Home:      home,
		IsGuest:   isGuest,
		Claims:    claims,
	}
}

// ValidateRedirect accepts a registered absolute URL or http://localhost:<p>
// with p among the configured auth ports.
func (s *Service) ValidateRedirect(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" {
		return apierrors.InvalidInput("invalid redirect_uri %q", uri)
	}
	for _, registered := range s.config.OIDC.RedirectURIs {
		if strings.HasPrefix(uri, registered) {
			return nil
		}
	}
	host := parsed.Hostname()
	if parsed.Scheme == "http" && (host == "localhost" || host == "127.0.0.1") {
		port, err := strconv.Atoi(parsed.Port())
		if err == nil {
			for _, allowed := range s.config.OIDC.AuthPorts {
				if port == allowed {
					return nil
				}
			}
		}
	}
	return apierrors.Forbidden("redirect_uri %q is not permitted", uri)
}

// IssueState creates a single-use login nonce bound to the client redirect.
func (s *Service) IssueState(redirectURI string) string {
	return s.states.Issue(redirectURI)
}

// ConsumeState redeems a login nonce.
func (s *Service) ConsumeState(state string) (string, bool) {
	return s.states.Consume(state)
}

// WellKnown returns the relevant discovery endpoints, with token and
// userinfo rewritten to the paths this service proxies.
func (s *Service) WellKnown(ctx context.Context) (map[string]interface{}, error) {
	state, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	base := s.config.ProxyURL()
	return map[string]interface{}{
		"issuer":                        state.extra.Issuer,
		"authorization_endpoint":        state.extra.AuthorizationEndpoint,
		"token_endpoint":                base + "/auth/v2/token",
		"userinfo_endpoint":             base + "/auth/v2/userinfo",
		"end_session_endpoint":          state.extra.EndSessionEndpoint,
		"device_authorization_endpoint": state.extra.DeviceAuthorizationEndpoint,
		"jwks_uri":                      state.extra.JwksURI,
	}, nil
}

// EndSessionURL builds the IdP logout URL with an optional post-logout
// redirect.
func (s *Service) EndSessionURL(postLogoutRedirect string) (string, error) {
	state := s.state.Load()
	if state == nil || state.extra.EndSessionEndpoint == "" {
		return "", apierrors.NotFound("the identity provider advertises no end-session endpoint")
	}
	endSession, err := url.Parse(state.extra.EndSessionEndpoint)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindInternal, "invalid end-session endpoint", err)
	}
	q := endSession.Query()
	q.Set("client_id", s.config.OIDC.ClientID)
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	endSession.RawQuery = q.Encode()
	return endSession.String(), nil
}

// UserInfoFor shapes the /auth/v2/userinfo payload from a principal.
func UserInfoFor(principal *models.Principal) models.UserInfo {
	return models.UserInfo{
		Username:  principal.Username,
		FirstName: principal.FirstName,
		LastName:  principal.LastName,
		Email:     principal.Email,
		Home:      principal.Home,
		IsGuest:   principal.IsGuest,
	}
}

func (s *Service) endpointOrError(endpoint, name string) (string, error) {
	if endpoint == "" {
		return "", apierrors.Newf(apierrors.KindBackendUnavailable, "the identity provider advertises no %s endpoint", name)
	}
	return endpoint, nil
}
