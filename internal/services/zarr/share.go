package zarr

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/models"
)

// shareMethod is the only HTTP method share grants cover.
const shareMethod = "GET"

// sign computes base64url(HMAC-SHA256(key, "method|token|expires")).
func (s *Service) sign(method, token string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s|%s|%d", method, token, expires)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Share issues a pre-signed URL for an existing zarr token. The path must
// address a store below the zarr prefix; unknown tokens are rejected before
// signing.
func (s *Service) Share(ctx context.Context, req *models.ShareRequest) (*models.ShareGrant, error) {
	token, err := tokenFromPath(req.Path)
	if err != nil {
		return nil, err
	}
	if _, err := s.Job(ctx, token); err != nil {
		return nil, err
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if req.TTLSeconds <= 0 {
		ttl = time.Hour
	}
	expires := s.now().Add(ttl).Unix()
	sig := s.sign(shareMethod, token, expires)

	return &models.ShareGrant{
		URL:     fmt.Sprintf("%s/data-portal/share/%s/%s.zarr?expires=%d", s.baseURL, sig, token, expires),
		Sig:     sig,
		Token:   token,
		Expires: expires,
		Method:  shareMethod,
	}, nil
}

// VerifyShare recomputes the HMAC and checks expiry. The comparison is
// constant time; any tampering with sig, token or expires fails it.
func (s *Service) VerifyShare(sig, token string, expires int64, now time.Time) error {
	expected := s.sign(shareMethod, token, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return apierrors.Unauthenticated("invalid share signature")
	}
	if !now.Before(time.Unix(expires, 0)) {
		return apierrors.Unauthenticated("share link expired")
	}
	return nil
}

// tokenFromPath extracts the job token from a path or URL of the form
// .../data-portal/zarr/<token>.zarr[/...].
func tokenFromPath(path string) (string, error) {
	marker := "/data-portal/zarr/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return "", apierrors.InvalidInput("path %q does not address a zarr store", path)
	}
	rest := path[idx+len(marker):]
	store := strings.SplitN(rest, "/", 2)[0]
	token, ok := strings.CutSuffix(store, ".zarr")
	if !ok || token == "" {
		return "", apierrors.InvalidInput("path %q does not address a zarr store", path)
	}
	return token, nil
}
