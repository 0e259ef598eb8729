// Package interfaces declares the service contracts the HTTP handlers are
// wired against. Handlers depend on these, never on concrete services, so
// tests can substitute function-field mocks.
package interfaces

import (
	"context"
	"time"

	"github.com/freva-org/freva-rest/internal/models"
)

// TimeSelect chooses between intersection and containment semantics for
// time-range filtering.
const (
	TimeSelectFlexible = "flexible"
	TimeSelectStrict   = "strict"
)

// SearchParams carries one canonicalised databrowser query.
type SearchParams struct {
	Flavour         *models.Flavour
	UniqKey         string
	Facets          map[string][]string // canonical keys -> raw values (wildcards preserved)
	TimeSpec        string
	TimeSelect      string
	Bbox            string
	BboxSelect      string
	MultiVersion    bool
	Start           int64
	BatchSize       int
	Extended        bool
	FacetFilter     []string // restrict metadata-search to these canonical facets
	MaxFacetResults int
}

// DocumentStream is a pull-based cursor over search results. Next returns
// io-ordered documents until exhaustion (ok=false). Close releases the
// backend cursor and is safe to call more than once.
type DocumentStream interface {
	Next(ctx context.Context) (models.SearchDocument, bool, error)
	Close()
	Total() int64
}

// FacetCount is one (value, count) pair within a facet.
type FacetCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// MetadataResult is the outcome of a metadata-search.
type MetadataResult struct {
	Total         int64
	Facets        map[string][]FacetCount
	PrimaryFacets []string
}

// SearchService is the databrowser query engine: flavour-translated search,
// faceting, streaming, catalogue synthesis and user-data maintenance.
type SearchService interface {
	DataSearch(ctx context.Context, params SearchParams) (DocumentStream, error)
	MetadataSearch(ctx context.Context, params SearchParams) (*MetadataResult, error)
	Count(ctx context.Context, params SearchParams, detail bool) (int64, map[string]map[string]int64, error)
	IntakeCatalogue(ctx context.Context, params SearchParams) (*models.IntakeCatalogue, error)
	AddUserData(ctx context.Context, principal *models.Principal, entries []models.UserDataEntry, facets map[string]string) (*models.IngestResult, error)
	DeleteUserData(ctx context.Context, principal *models.Principal, facets map[string][]string) (*models.DeleteResult, error)

	StacCollections(ctx context.Context) ([]string, error)
	StacCollectionExtent(ctx context.Context, collection string) (*models.StacExtent, error)
	StacItems(ctx context.Context, params StacItemParams) (*StacPage, error)
	StacItem(ctx context.Context, collection, itemID string) (models.SearchDocument, error)
}

// StacItemParams addresses one page of STAC items.
type StacItemParams struct {
	Collection string
	Limit      int
	Token      string // opaque pagination token, empty for the first page
	Bbox       []float64
	Datetime   string
	IDs        []string
	Query      map[string][]string // canonical facet constraints
}

// StacPage is one page of item documents plus cursor state.
type StacPage struct {
	Documents []models.SearchDocument
	Matched   int64
	NextToken string
	PrevToken string
}

// FlavourService canonicalises inbound query keys and de-canonicalises
// outbound document fields, and owns user-flavour CRUD.
type FlavourService interface {
	Resolve(ctx context.Context, name, owner string) (*models.Flavour, error)
	List(ctx context.Context, owner string) ([]*models.Flavour, error)
	Create(ctx context.Context, principal *models.Principal, name string, req *models.FlavourRequest) (*models.Flavour, error)
	Update(ctx context.Context, principal *models.Principal, name string, req *models.FlavourRequest) (*models.Flavour, error)
	Delete(ctx context.Context, principal *models.Principal, name string, global bool) error

	TranslateIn(flavour *models.Flavour, facets map[string][]string) (map[string][]string, error)
	TranslateOut(flavour *models.Flavour, doc models.SearchDocument) models.SearchDocument
}

// ZarrService brokers conversion jobs and serves chunk bytes.
type ZarrService interface {
	Convert(ctx context.Context, principal *models.Principal, req *models.ConvertRequest) (*models.ConvertResponse, error)
	Status(ctx context.Context, token string) (*models.ZarrStatusResponse, error)
	Job(ctx context.Context, token string) (*models.ZarrJob, error)
	ReadKey(ctx context.Context, token, key string) ([]byte, string, error)
	Share(ctx context.Context, req *models.ShareRequest) (*models.ShareGrant, error)
	VerifyShare(sig, token string, expires int64, now time.Time) error
	HTMLPreview(ctx context.Context, token string) ([]byte, error)
	SweepExpired(ctx context.Context) error
}

// AuthService mediates between clients and the OIDC provider.
type AuthService interface {
	ValidateToken(ctx context.Context, rawToken string) (*models.Principal, error)
	ValidateRedirect(uri string) error
	IssueState(redirectURI string) string
	ConsumeState(state string) (string, bool)
	AuthorizeURL(ctx context.Context, state string, offline bool) (string, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenResponse, error)
	DeviceAuthorize(ctx context.Context) (*models.DeviceAuthResponse, error)
	DeviceToken(ctx context.Context, deviceCode string) (*models.TokenResponse, error)
	WellKnown(ctx context.Context) (map[string]interface{}, error)
	EndSessionURL(postLogoutRedirect string) (string, error)
	Refresh(ctx context.Context) error
}

// StatsService records usage statistics off the critical path.
type StatsService interface {
	Record(rec models.StatsRecord)
	Dropped() uint64
}

// Cache is the byte-valued key/value + pub-sub surface the zarr broker needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndSwap(ctx context.Context, key string, update func(old []byte) ([]byte, error), ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// MetadataStore is the document-store surface: append-only stats, user
// flavours and auxiliary user-data metadata.
type MetadataStore interface {
	InsertStats(ctx context.Context, rec models.StatsRecord) error
	GetFlavour(ctx context.Context, name, owner string) (*models.Flavour, error)
	ListFlavours(ctx context.Context, owners []string) ([]*models.Flavour, error)
	UpsertFlavour(ctx context.Context, f *models.Flavour) error
	RenameFlavour(ctx context.Context, oldName, owner string, f *models.Flavour) error
	DeleteFlavour(ctx context.Context, name, owner string) error
	InsertUserDataMeta(ctx context.Context, username string, meta map[string]interface{}) error
	DeleteUserDataMeta(ctx context.Context, username string) error
	Close(ctx context.Context) error
}
