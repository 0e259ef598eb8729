package zarr

import (
	"crypto/sha256"
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/freva-org/freva-rest/internal/models"
)

// serviceNamespace is the constant GUID the per-user token namespace is
// derived from. Changing it invalidates every outstanding token.
var serviceNamespace = uuid.MustParse("8b1dc146-0573-5c3f-9d42-f1d6f4a71f6e")

// tokenNamespace mixes the principal subject into the service GUID so equal
// requests from different users yield different tokens.
func tokenNamespace(subject string) uuid.UUID {
	digest := sha256.Sum256([]byte(subject))
	ns := serviceNamespace
	for i := range ns {
		ns[i] ^= digest[i]
	}
	return ns
}

// canonicalName renders (paths, options) deterministically: paths sorted,
// options in struct field order.
func canonicalName(paths []string, options models.ZarrOptions) []byte {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	payload, _ := json.Marshal(struct {
		Paths   []string           `json:"paths"`
		Options models.ZarrOptions `json:"options"`
	}{Paths: sorted, Options: options})
	return payload
}

// DeriveToken computes the deterministic UUIDv5 job token for a conversion
// request. Identical (subject, paths, options) triples collapse to the same
// token, making convert idempotent.
func DeriveToken(subject string, paths []string, options models.ZarrOptions) string {
	return uuid.NewSHA1(tokenNamespace(subject), canonicalName(paths, options)).String()
}
