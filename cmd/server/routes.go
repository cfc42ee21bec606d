package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/gateway"
	"github.com/MarkoPoloResearchLab/mantlz/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
)

const (
	routeHealth             = "/healthz"
	apiRoutePrefix          = "/api"
	apiRouteSession         = "/session"
	apiRouteMe              = "/me"
	apiRouteSearch          = "/search"
	apiRouteForms           = "/forms"
	apiRouteFormSubmissions = "/forms/:id/submissions"
	adminRoutePrefix        = "/api/admin"
	adminRouteAccounts      = "/accounts"
	adminRouteAccountPlan   = "/accounts/:id/plan"
	corsHeaderAuthorization = "Authorization"
	corsHeaderContentType   = "Content-Type"
	corsMaxAge              = 12 * time.Hour
	healthStatusKey         = "status"
	healthStatusValue       = "ok"
	logEventGatewayConfig   = "gateway_configuration"
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

// buildRouter wires the account repository, the forms gateway and the query cache into the
// gin engine. The returned func releases the cache store.
func buildRouter(serverConfig ServerConfig, accounts *storage.AccountRepository, logger *zap.Logger) (*gin.Engine, func(), error) {
	gatewayClient, gatewayErr := gateway.NewClient(gateway.Config{
		BaseURL: serverConfig.BackendBaseURL,
		APIKey:  serverConfig.BackendAPIKey,
		Logger:  logger,
	})
	if gatewayErr != nil {
		logger.Error(logEventGatewayConfig, zap.Error(gatewayErr))
		return nil, nil, gatewayErr
	}

	formsCache, closeCache, cacheErr := newFormsCache(serverConfig.RedisURL, logger)
	if cacheErr != nil {
		return nil, nil, cacheErr
	}

	authManager := httpapi.NewAuthManager(logger, accounts, []byte(serverConfig.SessionSecret), serverConfig.SecureCookies)
	dashboardHandlers := httpapi.NewDashboardHandlers(newBackendProvider(gatewayClient), formsCache, logger)
	adminHandlers := httpapi.NewAdminHandlers(accounts, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(newDashboardCORS(serverConfig.DashboardOrigin))
	router.GET(routeHealth, func(context *gin.Context) {
		context.JSON(http.StatusOK, gin.H{healthStatusKey: healthStatusValue})
	})

	registerAPIRoutes(router, authManager, dashboardHandlers)
	registerAdminRoutes(router, adminHandlers, serverConfig.AdminBearerToken)

	return router, closeCache, nil
}

// newDashboardCORS is installed on the engine so preflight requests for
// unregistered OPTIONS routes are still answered.
func newDashboardCORS(dashboardOrigin string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{dashboardOrigin},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})
}

func registerAPIRoutes(router *gin.Engine, authManager *httpapi.AuthManager, dashboardHandlers *httpapi.DashboardHandlers) {
	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.POST(apiRouteSession, authManager.CreateSession)
	apiGroup.DELETE(apiRouteSession, authManager.DeleteSession)

	authenticated := apiGroup.Group("")
	authenticated.Use(authManager.RequireAccountJSON())
	authenticated.GET(apiRouteMe, authManager.CurrentAccount)
	authenticated.GET(apiRouteSearch, dashboardHandlers.Search)
	authenticated.GET(apiRouteForms, dashboardHandlers.ListForms)
	authenticated.GET(apiRouteFormSubmissions, dashboardHandlers.FormSubmissions)
}

func registerAdminRoutes(router *gin.Engine, adminHandlers *httpapi.AdminHandlers, adminBearerToken string) {
	adminGroup := router.Group(adminRoutePrefix)
	adminGroup.Use(httpapi.AdminAuthMiddleware(adminBearerToken))
	adminGroup.POST(adminRouteAccounts, adminHandlers.CreateAccount)
	adminGroup.PATCH(adminRouteAccountPlan, adminHandlers.UpdateAccountPlan)
}
