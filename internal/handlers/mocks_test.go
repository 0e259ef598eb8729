package handlers

import (
	"context"
	"time"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// sliceStream is a DocumentStream over a fixed document slice.
type sliceStream struct {
	docs []models.SearchDocument
	pos  int
}

func (s *sliceStream) Next(ctx context.Context) (models.SearchDocument, bool, error) {
	if s.pos >= len(s.docs) {
		return nil, false, nil
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, true, nil
}

func (s *sliceStream) Close()       {}
func (s *sliceStream) Total() int64 { return int64(len(s.docs)) }

// mockSearchService implements interfaces.SearchService for testing.
type mockSearchService struct {
	dataSearchFunc     func(ctx context.Context, params interfaces.SearchParams) (interfaces.DocumentStream, error)
	metadataSearchFunc func(ctx context.Context, params interfaces.SearchParams) (*interfaces.MetadataResult, error)
	stacItemsFunc      func(ctx context.Context, params interfaces.StacItemParams) (*interfaces.StacPage, error)
	stacItemFunc       func(ctx context.Context, collection, itemID string) (models.SearchDocument, error)
	intakeFunc         func(ctx context.Context, params interfaces.SearchParams) (*models.IntakeCatalogue, error)
}

func (m *mockSearchService) DataSearch(ctx context.Context, params interfaces.SearchParams) (interfaces.DocumentStream, error) {
	if m.dataSearchFunc != nil {
		return m.dataSearchFunc(ctx, params)
	}
	return &sliceStream{}, nil
}

func (m *mockSearchService) MetadataSearch(ctx context.Context, params interfaces.SearchParams) (*interfaces.MetadataResult, error) {
	if m.metadataSearchFunc != nil {
		return m.metadataSearchFunc(ctx, params)
	}
	return &interfaces.MetadataResult{Facets: map[string][]interfaces.FacetCount{}}, nil
}

func (m *mockSearchService) Count(ctx context.Context, params interfaces.SearchParams, detail bool) (int64, map[string]map[string]int64, error) {
	return 0, nil, nil
}

func (m *mockSearchService) IntakeCatalogue(ctx context.Context, params interfaces.SearchParams) (*models.IntakeCatalogue, error) {
	if m.intakeFunc != nil {
		return m.intakeFunc(ctx, params)
	}
	return &models.IntakeCatalogue{}, nil
}

func (m *mockSearchService) AddUserData(ctx context.Context, principal *models.Principal, entries []models.UserDataEntry, facets map[string]string) (*models.IngestResult, error) {
	return &models.IngestResult{Ingested: len(entries)}, nil
}

func (m *mockSearchService) DeleteUserData(ctx context.Context, principal *models.Principal, facets map[string][]string) (*models.DeleteResult, error) {
	return &models.DeleteResult{}, nil
}

func (m *mockSearchService) StacCollections(ctx context.Context) ([]string, error) {
	return []string{"observations"}, nil
}

func (m *mockSearchService) StacCollectionExtent(ctx context.Context, collection string) (*models.StacExtent, error) {
	return &models.StacExtent{
		Spatial:  models.StacSpatialExtent{Bbox: [][]float64{{-180, -90, 180, 90}}},
		Temporal: models.StacTemporalExtent{Interval: [][]*string{{nil, nil}}},
	}, nil
}

func (m *mockSearchService) StacItems(ctx context.Context, params interfaces.StacItemParams) (*interfaces.StacPage, error) {
	if m.stacItemsFunc != nil {
		return m.stacItemsFunc(ctx, params)
	}
	return &interfaces.StacPage{}, nil
}

func (m *mockSearchService) StacItem(ctx context.Context, collection, itemID string) (models.SearchDocument, error) {
	if m.stacItemFunc != nil {
		return m.stacItemFunc(ctx, collection, itemID)
	}
	return nil, apierrors.NotFound("item not found")
}

// mockFlavourService resolves built-in-like flavours with empty mappings.
type mockFlavourService struct {
	translateInErr error
}

func (m *mockFlavourService) Resolve(ctx context.Context, name, owner string) (*models.Flavour, error) {
	if name == "missing" {
		return nil, apierrors.NotFound("flavour %q not found", name)
	}
	return &models.Flavour{Name: name, Owner: models.GlobalOwner, Mapping: map[string]string{}}, nil
}

func (m *mockFlavourService) List(ctx context.Context, owner string) ([]*models.Flavour, error) {
	return []*models.Flavour{{Name: "freva", Owner: models.GlobalOwner, Mapping: map[string]string{}}}, nil
}

func (m *mockFlavourService) Create(ctx context.Context, principal *models.Principal, name string, req *models.FlavourRequest) (*models.Flavour, error) {
	return &models.Flavour{Name: name, Owner: principal.Username, Mapping: req.Mapping}, nil
}

func (m *mockFlavourService) Update(ctx context.Context, principal *models.Principal, name string, req *models.FlavourRequest) (*models.Flavour, error) {
	return &models.Flavour{Name: name, Owner: principal.Username, Mapping: req.Mapping}, nil
}

func (m *mockFlavourService) Delete(ctx context.Context, principal *models.Principal, name string, global bool) error {
	return nil
}

func (m *mockFlavourService) TranslateIn(flavour *models.Flavour, facets map[string][]string) (map[string][]string, error) {
	if m.translateInErr != nil {
		return nil, m.translateInErr
	}
	return facets, nil
}

func (m *mockFlavourService) TranslateOut(flavour *models.Flavour, doc models.SearchDocument) models.SearchDocument {
	return doc
}

// mockAuthService accepts the token "good" (and "admin" for admins).
type mockAuthService struct{}

func (m *mockAuthService) ValidateToken(ctx context.Context, rawToken string) (*models.Principal, error) {
	switch rawToken {
	case "good":
		return &models.Principal{Subject: "sub", Username: "jdoe", Expiry: time.Now().Add(time.Hour).Unix()}, nil
	case "admin":
		return &models.Principal{Subject: "sub", Username: "root", IsAdmin: true}, nil
	case "guest":
		return &models.Principal{Subject: "sub", Username: "guest", IsGuest: true}, nil
	}
	return nil, apierrors.Unauthenticated("invalid bearer token")
}

func (m *mockAuthService) ValidateRedirect(uri string) error {
	if uri == "http://localhost:54321/cb" {
		return nil
	}
	return apierrors.Forbidden("redirect_uri not permitted")
}

func (m *mockAuthService) IssueState(redirectURI string) string { return "state-1" }

func (m *mockAuthService) ConsumeState(state string) (string, bool) {
	if state == "state-1" {
		return "http://localhost:54321/cb", true
	}
	return "", false
}

func (m *mockAuthService) AuthorizeURL(ctx context.Context, state string, offline bool) (string, error) {
	return "https://idp.example.org/authorize?state=" + state, nil
}

func (m *mockAuthService) ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenResponse, error) {
	return &models.TokenResponse{AccessToken: "at", TokenType: "Bearer"}, nil
}

func (m *mockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	return &models.TokenResponse{AccessToken: "at2", TokenType: "Bearer"}, nil
}

func (m *mockAuthService) DeviceAuthorize(ctx context.Context) (*models.DeviceAuthResponse, error) {
	return &models.DeviceAuthResponse{DeviceCode: "dc", UserCode: "uc", VerificationURI: "https://idp/verify", Interval: 5}, nil
}

func (m *mockAuthService) DeviceToken(ctx context.Context, deviceCode string) (*models.TokenResponse, error) {
	return &models.TokenResponse{AccessToken: "at3", TokenType: "Bearer"}, nil
}

func (m *mockAuthService) WellKnown(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"issuer": "https://idp.example.org"}, nil
}

func (m *mockAuthService) EndSessionURL(postLogoutRedirect string) (string, error) {
	return "https://idp.example.org/logout", nil
}

func (m *mockAuthService) Refresh(ctx context.Context) error { return nil }

// mockZarrService implements interfaces.ZarrService.
type mockZarrService struct {
	convertFunc func(ctx context.Context, principal *models.Principal, req *models.ConvertRequest) (*models.ConvertResponse, error)
	jobFunc     func(ctx context.Context, token string) (*models.ZarrJob, error)
	verifyFunc  func(sig, token string, expires int64, now time.Time) error
	readFunc    func(ctx context.Context, token, key string) ([]byte, string, error)
}

func (m *mockZarrService) Convert(ctx context.Context, principal *models.Principal, req *models.ConvertRequest) (*models.ConvertResponse, error) {
	if m.convertFunc != nil {
		return m.convertFunc(ctx, principal, req)
	}
	return &models.ConvertResponse{URLs: []string{"https://x/data-portal/zarr/t1.zarr"}}, nil
}

func (m *mockZarrService) Status(ctx context.Context, token string) (*models.ZarrStatusResponse, error) {
	if token == "unknown" {
		return nil, apierrors.NotFound("unknown zarr token")
	}
	return &models.ZarrStatusResponse{Status: models.ZarrStatusQueued, Reason: "submitted"}, nil
}

func (m *mockZarrService) Job(ctx context.Context, token string) (*models.ZarrJob, error) {
	if m.jobFunc != nil {
		return m.jobFunc(ctx, token)
	}
	return nil, apierrors.NotFound("unknown zarr token")
}

func (m *mockZarrService) ReadKey(ctx context.Context, token, key string) ([]byte, string, error) {
	if m.readFunc != nil {
		return m.readFunc(ctx, token, key)
	}
	return []byte("{}"), "application/json", nil
}

func (m *mockZarrService) Share(ctx context.Context, req *models.ShareRequest) (*models.ShareGrant, error) {
	return &models.ShareGrant{URL: "https://x/share", Sig: "sig", Token: "t1", Expires: time.Now().Unix() + 60, Method: "GET"}, nil
}

func (m *mockZarrService) VerifyShare(sig, token string, expires int64, now time.Time) error {
	if m.verifyFunc != nil {
		return m.verifyFunc(sig, token, expires, now)
	}
	return apierrors.Unauthenticated("invalid share signature")
}

func (m *mockZarrService) HTMLPreview(ctx context.Context, token string) ([]byte, error) {
	return []byte("<html></html>"), nil
}

func (m *mockZarrService) SweepExpired(ctx context.Context) error { return nil }

// mockStatsService keeps every record it is given.
type mockStatsService struct {
	records []models.StatsRecord
}

func (m *mockStatsService) Record(rec models.StatsRecord) { m.records = append(m.records, rec) }
func (m *mockStatsService) Dropped() uint64               { return 0 }
