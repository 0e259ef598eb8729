package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newFlavourHandler() *FlavourHandler {
	return NewFlavourHandler(&mockFlavourService{}, &mockAuthService{}, arbor.NewLogger())
}

func TestFlavourListAnonymous(t *testing.T) {
	handler := newFlavourHandler()
	req := httptest.NewRequest(http.MethodGet, "/databrowser/flavours", nil)
	rec := httptest.NewRecorder()
	handler.FlavourRoutes("/databrowser/flavours")(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"flavour_name":"freva"`)
}

func TestFlavourCreateRequiresAuth(t *testing.T) {
	handler := newFlavourHandler()
	req := httptest.NewRequest(http.MethodPost, "/databrowser/flavours/my1", strings.NewReader(`{"mapping":{"model":"m1"}}`))
	rec := httptest.NewRecorder()
	handler.FlavourRoutes("/databrowser/flavours")(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFlavourCreateGuestForbidden(t *testing.T) {
	handler := newFlavourHandler()
	req := httptest.NewRequest(http.MethodPost, "/databrowser/flavours/my1", strings.NewReader(`{"mapping":{"model":"m1"}}`))
	req.Header.Set("Authorization", "Bearer guest")
	rec := httptest.NewRecorder()
	handler.FlavourRoutes("/databrowser/flavours")(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFlavourRename(t *testing.T) {
	handler := newFlavourHandler()
	req := httptest.NewRequest(http.MethodPut, "/databrowser/flavours/my1", strings.NewReader(`{"flavour_name":"my2","mapping":{"model":"m2"}}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.FlavourRoutes("/databrowser/flavours")(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mapping":{"model":"m2"}`)
}

func TestFlavourMissingMappingRejected(t *testing.T) {
	handler := newFlavourHandler()
	req := httptest.NewRequest(http.MethodPost, "/databrowser/flavours/my1", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.FlavourRoutes("/databrowser/flavours")(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFlavourDelete(t *testing.T) {
	handler := newFlavourHandler()
	req := httptest.NewRequest(http.MethodDelete, "/databrowser/flavours/my1", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.FlavourRoutes("/databrowser/flavours")(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
