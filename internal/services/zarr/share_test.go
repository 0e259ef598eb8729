package zarr

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/models"
)

func TestShareGrantRoundTrip(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	ctx := context.Background()
	_, err := svc.Convert(ctx, testPrincipal(), &models.ConvertRequest{Path: []string{"/a.nc"}})
	require.NoError(t, err)
	token := DeriveToken("sub-1", []string{"/a.nc"}, models.ZarrOptions{})

	grant, err := svc.Share(ctx, &models.ShareRequest{
		Path:       fmt.Sprintf("/api/freva-nextgen/data-portal/zarr/%s.zarr", token),
		TTLSeconds: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, token, grant.Token)
	assert.Equal(t, "GET", grant.Method)
	assert.Contains(t, grant.URL, grant.Sig)
	assert.Contains(t, grant.URL, fmt.Sprintf("expires=%d", grant.Expires))

	assert.NoError(t, svc.VerifyShare(grant.Sig, grant.Token, grant.Expires, time.Now()))
}

func TestShareUnknownToken(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	_, err := svc.Share(context.Background(), &models.ShareRequest{
		Path: "/api/freva-nextgen/data-portal/zarr/ffffffff-0000-5000-8000-000000000000.zarr",
	})
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestShareInvalidPath(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	for _, path := range []string{"", "/somewhere/else", "/data-portal/zarr/notastore"} {
		_, err := svc.Share(context.Background(), &models.ShareRequest{Path: path})
		assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput), path)
	}
}

func TestVerifyShareTampering(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	token := "aaaaaaaa-0000-5000-8000-000000000000"
	expires := time.Now().Add(time.Hour).Unix()
	sig := svc.sign("GET", token, expires)

	now := time.Now()
	assert.NoError(t, svc.VerifyShare(sig, token, expires, now))

	// Any tampered byte of sig, token or expires fails verification.
	tamperedSig := "X" + sig[1:]
	assert.Error(t, svc.VerifyShare(tamperedSig, token, expires, now))
	tamperedToken := strings.Replace(token, "a", "b", 1)
	assert.Error(t, svc.VerifyShare(sig, tamperedToken, expires, now))
	assert.Error(t, svc.VerifyShare(sig, token, expires+1, now))
}

func TestVerifyShareExpiry(t *testing.T) {
	svc, _, _ := newTestBroker(t)
	token := "aaaaaaaa-0000-5000-8000-000000000000"
	expires := time.Now().Add(time.Minute).Unix()
	sig := svc.sign("GET", token, expires)

	assert.NoError(t, svc.VerifyShare(sig, token, expires, time.Now()))
	err := svc.VerifyShare(sig, token, expires, time.Unix(expires, 0))
	assert.True(t, apierrors.IsKind(err, apierrors.KindUnauthenticated))
	err = svc.VerifyShare(sig, token, expires, time.Unix(expires+100, 0))
	assert.True(t, apierrors.IsKind(err, apierrors.KindUnauthenticated))
}

func TestTokenFromPath(t *testing.T) {
	token, err := tokenFromPath("https://example.org/api/freva-nextgen/data-portal/zarr/abc.zarr")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = tokenFromPath("/api/freva-nextgen/data-portal/zarr/abc.zarr/tas/.zarray")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}
