package zarr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
	"github.com/freva-org/freva-rest/internal/services/cache"
)

func newTestBroker(t *testing.T) (*Service, *cache.Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheSvc := cache.NewServiceWithClient(client, arbor.NewLogger())

	cfg := common.NewDefaultConfig()
	cfg.Cache.SigningKey = "test-secret"
	svc := NewService(cfg, cacheSvc, arbor.NewLogger())
	return svc, cacheSvc, mr
}

func testPrincipal() *models.Principal {
	return &models.Principal{Subject: "sub-1", Username: "jdoe"}
}

func TestDeriveTokenDeterministic(t *testing.T) {
	opts := models.ZarrOptions{}
	a := DeriveToken("sub-1", []string{"/a.nc", "/b.nc"}, opts)
	b := DeriveToken("sub-1", []string{"/b.nc", "/a.nc"}, opts)
	assert.Equal(t, a, b, "path order must not matter")

	c := DeriveToken("sub-2", []string{"/a.nc", "/b.nc"}, opts)
	assert.NotEqual(t, a, c, "different subjects must not collide")

	d := DeriveToken("sub-1", []string{"/a.nc", "/b.nc"}, models.ZarrOptions{Aggregate: "concat"})
	assert.NotEqual(t, a, d, "different options must not collide")
}

func TestConvertIdempotent(t *testing.T) {
	svc, cacheSvc, _ := newTestBroker(t)
	ctx := context.Background()
	req := &models.ConvertRequest{Path: []string{"/a.nc", "/b.nc"}}

	first, err := svc.Convert(ctx, testPrincipal(), req)
	require.NoError(t, err)
	require.Len(t, first.URLs, 2)

	second, err := svc.Convert(ctx, testPrincipal(), req)
	require.NoError(t, err)
	assert.Equal(t, first.URLs, second.URLs)

	// The job record is written exactly once per token.
	token := DeriveToken("sub-1", []string{"/a.nc"}, models.ZarrOptions{})
	raw, err := cacheSvc.Get(ctx, "zarr:"+token+":status")
	require.NoError(t, err)
	var job models.ZarrJob
	require.NoError(t, json.Unmarshal(raw, &job))
	assert.Equal(t, models.ZarrStatusQueued, job.Status)
	assert.Equal(t, "submitted", job.Reason)
	assert.Equal(t, "jdoe", job.Owner)
}

func TestConvertAggregatedSingleURL(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	response, err := svc.Convert(context.Background(), testPrincipal(), &models.ConvertRequest{
		Path:        []string{"/a.nc", "/b.nc"},
		ZarrOptions: models.ZarrOptions{Aggregate: "concat", Dim: "time"},
	})
	require.NoError(t, err)
	assert.Len(t, response.URLs, 1)
}

func TestConvertRequiresPrincipal(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	_, err := svc.Convert(context.Background(), nil, &models.ConvertRequest{Path: []string{"/a.nc"}})
	assert.True(t, apierrors.IsKind(err, apierrors.KindUnauthenticated))
}

func TestStatusUnknownToken(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	_, err := svc.Status(context.Background(), "no-such-token")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestStatusAfterConvert(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	ctx := context.Background()
	_, err := svc.Convert(ctx, testPrincipal(), &models.ConvertRequest{Path: []string{"/a.nc"}})
	require.NoError(t, err)

	token := DeriveToken("sub-1", []string{"/a.nc"}, models.ZarrOptions{})
	status, err := svc.Status(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.ZarrStatusQueued, status.Status)
	assert.Equal(t, "submitted", status.Reason)
}

func TestConvertRequeuesFailedJob(t *testing.T) {
	svc, cacheSvc, _ := newTestBroker(t)
	ctx := context.Background()
	req := &models.ConvertRequest{Path: []string{"/a.nc"}}
	_, err := svc.Convert(ctx, testPrincipal(), req)
	require.NoError(t, err)

	token := DeriveToken("sub-1", []string{"/a.nc"}, models.ZarrOptions{})
	failed := models.ZarrJob{
		Token:  token,
		Status: models.ZarrStatusFailed,
		Reason: "worker exploded",
		Expiry: time.Now().Add(time.Hour),
	}
	payload, _ := json.Marshal(&failed)
	require.NoError(t, cacheSvc.Set(ctx, "zarr:"+token+":status", payload, 0))

	_, err = svc.Convert(ctx, testPrincipal(), req)
	require.NoError(t, err)

	status, err := svc.Status(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.ZarrStatusQueued, status.Status)
	assert.Equal(t, "resubmitted", status.Reason)
}

func TestReadKeyContentTypes(t *testing.T) {
	svc, cacheSvc, _ := newTestBroker(t)
	ctx := context.Background()
	token := "feedfeed-0000-5000-8000-000000000000"

	require.NoError(t, cacheSvc.Set(ctx, "zarr:"+token+":blob:.zmetadata", []byte(`{"zarr_consolidated_format":1}`), 0))
	require.NoError(t, cacheSvc.Set(ctx, "zarr:"+token+":blob:tas/.zarray", []byte(`{"shape":[10]}`), 0))
	require.NoError(t, cacheSvc.Set(ctx, "zarr:"+token+":blob:tas/0.0.0", []byte{1, 2, 3}, 0))

	_, contentType, err := svc.ReadKey(ctx, token, ".zmetadata")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	_, contentType, err = svc.ReadKey(ctx, token, "tas/.zarray")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	data, contentType, err := svc.ReadKey(ctx, token, "tas/0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", contentType)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestReadKeyRootZarrayRejected(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	_, _, err := svc.ReadKey(context.Background(), "tok", ".zarray")
	assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput))
}

func TestReadKeyMiss(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	_, _, err := svc.ReadKey(context.Background(), "tok", "tas/0.0.1")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

// failingCache wraps the cache and fails publishes, to exercise rollback.
type failingCache struct {
	interfaces.Cache
}

func (f *failingCache) Publish(ctx context.Context, channel string, payload []byte) error {
	return apierrors.New(apierrors.KindBackendUnavailable, "broker unavailable")
}

func TestConvertRollsBackOnPublishFailure(t *testing.T) {
	_, cacheSvc, _ := newTestBroker(t)
	cfg := common.NewDefaultConfig()
	cfg.Cache.SigningKey = "test-secret"
	svc := NewService(cfg, &failingCache{Cache: cacheSvc}, arbor.NewLogger())

	ctx := context.Background()
	_, err := svc.Convert(ctx, testPrincipal(), &models.ConvertRequest{Path: []string{"/a.nc"}})
	assert.True(t, apierrors.IsKind(err, apierrors.KindBackendUnavailable))

	token := DeriveToken("sub-1", []string{"/a.nc"}, models.ZarrOptions{})
	_, err = svc.Status(ctx, token)
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound), "status key must be rolled back")
}

func TestSweepExpired(t *testing.T) {
	svc, cacheSvc, _ := newTestBroker(t)
	ctx := context.Background()

	expired := models.ZarrJob{
		Token:     "dead",
		Status:    models.ZarrStatusReady,
		CreatedAt: time.Now().Add(-48 * time.Hour),
		Expiry:    time.Now().Add(-24 * time.Hour),
	}
	payload, _ := json.Marshal(&expired)
	require.NoError(t, cacheSvc.Set(ctx, "zarr:dead:status", payload, 0))
	require.NoError(t, cacheSvc.Set(ctx, "zarr:dead:blob:.zmetadata", []byte("{}"), 0))

	require.NoError(t, svc.SweepExpired(ctx))

	_, err := cacheSvc.Get(ctx, "zarr:dead:status")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
	_, err = cacheSvc.Get(ctx, "zarr:dead:blob:.zmetadata")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestHTMLPreview(t *testing.T) {
	svc, cacheSvc, _ := newTestBroker(t)
	ctx := context.Background()
	_, err := svc.Convert(ctx, testPrincipal(), &models.ConvertRequest{Path: []string{"/a.nc"}})
	require.NoError(t, err)

	token := DeriveToken("sub-1", []string{"/a.nc"}, models.ZarrOptions{})
	require.NoError(t, cacheSvc.Set(ctx, "zarr:"+token+":blob:.zmetadata", []byte(`{"metadata":{}}`), 0))

	page, err := svc.HTMLPreview(ctx, token)
	require.NoError(t, err)
	assert.Contains(t, string(page), token)
	assert.Contains(t, string(page), "queued")
}
