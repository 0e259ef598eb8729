package server

import (
	"net/http"

	"github.com/freva-org/freva-rest/internal/common"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	prefix := s.app.Config.Server.Proxy

	// System routes
	mux.HandleFunc(prefix+"/ping", s.app.APIHandler.PingHandler)
	mux.HandleFunc(prefix+"/version", s.app.APIHandler.VersionHandler)

	// Auth mediator (always on; every other service depends on it)
	authPrefix := prefix + "/auth/v2"
	mux.HandleFunc(authPrefix+"/.well-known/openid-configuration", s.app.AuthHandler.WellKnownHandler)
	mux.HandleFunc(authPrefix+"/login", s.app.AuthHandler.LoginHandler)
	mux.HandleFunc(authPrefix+"/callback", s.app.AuthHandler.CallbackHandler)
	mux.HandleFunc(authPrefix+"/token", s.app.AuthHandler.TokenHandler)
	mux.HandleFunc(authPrefix+"/device", s.app.AuthHandler.DeviceHandler)
	mux.HandleFunc(authPrefix+"/status", s.app.AuthHandler.StatusHandler)
	mux.HandleFunc(authPrefix+"/userinfo", s.app.AuthHandler.UserinfoHandler)
	mux.HandleFunc(authPrefix+"/systemuser", s.app.AuthHandler.SystemUserHandler)
	mux.HandleFunc(authPrefix+"/checkuser", s.app.AuthHandler.CheckUserHandler)
	mux.HandleFunc(authPrefix+"/logout", s.app.AuthHandler.LogoutHandler)

	// Databrowser
	dbPrefix := prefix + "/databrowser"
	if s.app.Config.ServiceEnabled(common.ServiceDatabrowser) {
		mux.HandleFunc(dbPrefix+"/overview", s.app.DatabrowserHandler.OverviewHandler)
		mux.HandleFunc(dbPrefix+"/data-search/", s.app.DatabrowserHandler.DataSearchHandler(dbPrefix+"/data-search"))
		mux.HandleFunc(dbPrefix+"/metadata-search/", s.app.DatabrowserHandler.MetadataSearchHandler(dbPrefix+"/metadata-search", false))
		mux.HandleFunc(dbPrefix+"/extended-search/", s.app.DatabrowserHandler.MetadataSearchHandler(dbPrefix+"/extended-search", true))
		mux.HandleFunc(dbPrefix+"/data-count/", s.app.DatabrowserHandler.DataCountHandler(dbPrefix+"/data-count"))
		mux.HandleFunc(dbPrefix+"/intake-catalogue/", s.app.DatabrowserHandler.IntakeHandler(dbPrefix+"/intake-catalogue"))
		mux.HandleFunc(dbPrefix+"/userdata", s.app.DatabrowserHandler.UserDataHandler)
		mux.HandleFunc(dbPrefix+"/flavours", s.app.FlavourHandler.FlavourRoutes(dbPrefix+"/flavours"))
		mux.HandleFunc(dbPrefix+"/flavours/", s.app.FlavourHandler.FlavourRoutes(dbPrefix+"/flavours"))
	} else {
		mux.HandleFunc(dbPrefix+"/", s.app.APIHandler.ServiceDisabledHandler)
	}

	// STAC API (optionally rate limited)
	stacPrefix := prefix + "/stacapi"
	if s.app.Config.ServiceEnabled(common.ServiceStacAPI) {
		stac := http.NewServeMux()
		stac.HandleFunc(stacPrefix, s.app.StacHandler.LandingHandler)
		stac.HandleFunc(stacPrefix+"/conformance", s.app.StacHandler.ConformanceHandler)
		stac.HandleFunc(stacPrefix+"/collections", s.app.StacHandler.CollectionsHandler)
		stac.HandleFunc(stacPrefix+"/collections/", s.app.StacHandler.CollectionRoutes(stacPrefix+"/collections"))
		stac.HandleFunc(stacPrefix+"/search", s.app.StacHandler.SearchHandler)
		stac.HandleFunc(stacPrefix+"/queryables", s.app.StacHandler.QueryablesHandler)
		limited := s.rateLimitMiddleware(s.app.Config.Server.StacRate, stac)
		mux.Handle(stacPrefix, limited)
		mux.Handle(stacPrefix+"/", limited)
	} else {
		mux.HandleFunc(stacPrefix+"/", s.app.APIHandler.ServiceDisabledHandler)
	}

	// Zarr streaming
	dpPrefix := prefix + "/data-portal"
	if s.app.Config.ServiceEnabled(common.ServiceZarrStream) {
		mux.HandleFunc(dpPrefix+"/zarr/", s.app.ZarrHandler.StoreRoutes(dpPrefix+"/zarr"))
		mux.HandleFunc(dpPrefix+"/zarr-utils/status", s.app.ZarrHandler.StatusHandler)
		mux.HandleFunc(dpPrefix+"/zarr-utils/html", s.app.ZarrHandler.HTMLHandler)
		mux.HandleFunc(dpPrefix+"/share/", s.app.ZarrHandler.SharedRoutes(dpPrefix+"/share"))
	} else {
		mux.HandleFunc(dpPrefix+"/", s.app.APIHandler.ServiceDisabledHandler)
	}

	// 404 handler for unmatched routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
