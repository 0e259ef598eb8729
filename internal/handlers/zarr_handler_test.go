package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/models"
)

func newZarrHandler(zarr *mockZarrService) *ZarrHandler {
	return NewZarrHandler(zarr, &mockAuthService{}, common.NewDefaultConfig(), arbor.NewLogger())
}

func TestConvertRequiresAuth(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodPost, "/data-portal/zarr/convert", strings.NewReader(`{"path":["/a.nc"]}`))
	rec := httptest.NewRecorder()
	handler.ConvertHandler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConvertPost(t *testing.T) {
	zarr := &mockZarrService{
		convertFunc: func(ctx context.Context, principal *models.Principal, req *models.ConvertRequest) (*models.ConvertResponse, error) {
			assert.Equal(t, "jdoe", principal.Username)
			assert.Equal(t, []string{"/a.nc", "/b.nc"}, req.Path)
			return &models.ConvertResponse{URLs: []string{"u1", "u2"}}, nil
		},
	}
	handler := newZarrHandler(zarr)
	req := httptest.NewRequest(http.MethodPost, "/data-portal/zarr/convert", strings.NewReader(`{"path":["/a.nc","/b.nc"]}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ConvertHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"urls":["u1","u2"]`)
}

func TestConvertGetAlias(t *testing.T) {
	zarr := &mockZarrService{
		convertFunc: func(ctx context.Context, principal *models.Principal, req *models.ConvertRequest) (*models.ConvertResponse, error) {
			assert.Equal(t, []string{"/a.nc"}, req.Path)
			assert.Equal(t, "concat", req.Aggregate)
			return &models.ConvertResponse{URLs: []string{"u1"}}, nil
		},
	}
	handler := newZarrHandler(zarr)
	req := httptest.NewRequest(http.MethodGet, "/data-portal/zarr/convert?path=/a.nc&aggregate=concat", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.StoreRoutes("/data-portal/zarr")(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestConvertInvalidOptions(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodPost, "/data-portal/zarr/convert", strings.NewReader(`{"path":["/a.nc"],"aggregate":"sideways"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ConvertHandler(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConvertJoinWithoutAggregate(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodPost, "/data-portal/zarr/convert", strings.NewReader(`{"path":["/a.nc"],"join":"outer"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ConvertHandler(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodGet, "/data-portal/zarr-utils/status?token=t1", nil)
	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":1`)
	assert.Contains(t, rec.Body.String(), `"reason":"submitted"`)
}

func TestStatusUnknownToken(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodGet, "/data-portal/zarr-utils/status?token=unknown", nil)
	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChunkReadRequiresAuth(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodGet, "/data-portal/zarr/t1.zarr/.zmetadata", nil)
	rec := httptest.NewRecorder()
	handler.StoreRoutes("/data-portal/zarr")(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChunkReadPublicJob(t *testing.T) {
	zarr := &mockZarrService{
		jobFunc: func(ctx context.Context, token string) (*models.ZarrJob, error) {
			return &models.ZarrJob{Token: token, Public: true, Expiry: time.Now().Add(time.Hour)}, nil
		},
	}
	handler := newZarrHandler(zarr)
	req := httptest.NewRequest(http.MethodGet, "/data-portal/zarr/t1.zarr/.zmetadata", nil)
	rec := httptest.NewRecorder()
	handler.StoreRoutes("/data-portal/zarr")(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestChunkReadAuthenticated(t *testing.T) {
	zarr := &mockZarrService{
		readFunc: func(ctx context.Context, token, key string) ([]byte, string, error) {
			assert.Equal(t, "t1", token)
			assert.Equal(t, "tas/0.0.0", key)
			return []byte{1, 2}, "application/octet-stream", nil
		},
	}
	handler := newZarrHandler(zarr)
	req := httptest.NewRequest(http.MethodGet, "/data-portal/zarr/t1.zarr/tas/0.0.0", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.StoreRoutes("/data-portal/zarr")(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{1, 2}, rec.Body.Bytes())
}

func TestSharedRouteVerifies(t *testing.T) {
	verified := false
	zarr := &mockZarrService{
		verifyFunc: func(sig, token string, expires int64, now time.Time) error {
			verified = true
			assert.Equal(t, "sig-ok", sig)
			assert.Equal(t, "t1", token)
			return nil
		},
	}
	handler := newZarrHandler(zarr)
	expires := time.Now().Add(time.Minute).Unix()
	url := fmt.Sprintf("/data-portal/share/sig-ok/t1.zarr/.zmetadata?expires=%d", expires)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	handler.SharedRoutes("/data-portal/share")(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, verified, "share verification must run")
}

func TestSharedRouteRejectsBadSignature(t *testing.T) {
	zarr := &mockZarrService{
		verifyFunc: func(sig, token string, expires int64, now time.Time) error {
			return apierrors.Unauthenticated("invalid share signature")
		},
	}
	handler := newZarrHandler(zarr)
	url := fmt.Sprintf("/data-portal/share/bad/t1.zarr?expires=%d", time.Now().Add(time.Minute).Unix())
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	handler.SharedRoutes("/data-portal/share")(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSharedRouteMissingExpires(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodGet, "/data-portal/share/sig/t1.zarr", nil)
	rec := httptest.NewRecorder()
	handler.SharedRoutes("/data-portal/share")(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShareIssueRequiresAuth(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodPost, "/data-portal/zarr/share-zarr", strings.NewReader(`{"path":"/data-portal/zarr/t1.zarr"}`))
	rec := httptest.NewRecorder()
	handler.ShareHandler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShareIssue(t *testing.T) {
	handler := newZarrHandler(&mockZarrService{})
	req := httptest.NewRequest(http.MethodPost, "/data-portal/zarr/share-zarr", strings.NewReader(`{"path":"/data-portal/zarr/t1.zarr","ttl_seconds":60}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ShareHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"method":"GET"`)
}
