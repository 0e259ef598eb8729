package search

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
)

func TestPageTokenRoundTrip(t *testing.T) {
	token := EncodePageToken("next", "observations", "42")
	decoded, err := decodePageToken(token)
	require.NoError(t, err)
	assert.Equal(t, "next", decoded.Direction)
	assert.Equal(t, "observations", decoded.Collection)
	assert.Equal(t, "42", decoded.ItemID)
}

func TestPageTokenInvalid(t *testing.T) {
	cases := []string{
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("sideways:obs:1")),
		base64.RawURLEncoding.EncodeToString([]byte("next:obs")),
		base64.RawURLEncoding.EncodeToString([]byte("next:obs:")),
	}
	for _, tc := range cases {
		_, err := decodePageToken(tc)
		assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput), tc)
	}
}

func TestStacItemsLimitValidation(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(3)}
	svc, _ := newTestSearch(t, solr)

	_, err := svc.StacItems(context.Background(), interfaces.StacItemParams{
		Collection: "observations",
		Limit:      5000,
	})
	assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput))
}

func TestStacItemsFirstPage(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(5)}
	svc, _ := newTestSearch(t, solr)

	page, err := svc.StacItems(context.Background(), interfaces.StacItemParams{
		Collection: "observations",
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, int64(5), page.Matched)
	assert.NotEmpty(t, page.NextToken)
	assert.Empty(t, page.PrevToken)

	decoded, err := decodePageToken(page.NextToken)
	require.NoError(t, err)
	assert.Equal(t, "next", decoded.Direction)
	assert.Equal(t, "observations", decoded.Collection)
	assert.Equal(t, "2", decoded.ItemID)
}

func TestStacItemsNextPageHasPrev(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(5)}
	svc, _ := newTestSearch(t, solr)

	page, err := svc.StacItems(context.Background(), interfaces.StacItemParams{
		Limit: 2,
		Token: EncodePageToken("next", "observations", "2"),
	})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.NotEmpty(t, page.PrevToken)

	decoded, err := decodePageToken(page.PrevToken)
	require.NoError(t, err)
	assert.Equal(t, "prev", decoded.Direction)
}

func TestStacItemMissing(t *testing.T) {
	solr := &fakeSolr{docs: nil}
	svc, _ := newTestSearch(t, solr)
	_, err := svc.StacItem(context.Background(), "observations", "99")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestStacCollections(t *testing.T) {
	solr := &fakeSolr{docs: testDocs(2)}
	svc, _ := newTestSearch(t, solr)
	collections, err := svc.StacCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"observations"}, collections)
}
