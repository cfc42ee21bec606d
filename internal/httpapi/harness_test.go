package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/querycache"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
	"github.com/MarkoPoloResearchLab/mantlz/internal/testutil"
)

const (
	testAdminBearerToken    = "admin-token"
	testSessionSecret       = "0123456789abcdef0123456789abcdef"
	authorizationHeaderName = "Authorization"
	bearerTokenPrefix       = "Bearer "
)

type backendCall struct {
	endpoint   string
	parameters url.Values
	apiKey     string
}

// stubBackend records every backend call and answers with canned bodies.
type stubBackend struct {
	mutex         sync.Mutex
	calls         []backendCall
	logsBody      string
	globalBody    string
	forms         []model.Form
	logsErr       error
	formsErr      error
	formsRequests int
}

func (backend *stubBackend) record(call backendCall) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, call)
}

func (backend *stubBackend) Calls() []backendCall {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return append([]backendCall(nil), backend.calls...)
}

func (backend *stubBackend) FormsRequests() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.formsRequests
}

type boundBackend struct {
	backend *stubBackend
	apiKey  string
}

func (bound boundBackend) SubmissionLogs(_ context.Context, parameters url.Values) ([]byte, error) {
	bound.backend.record(backendCall{endpoint: "submissions", parameters: parameters, apiKey: bound.apiKey})
	if bound.backend.logsErr != nil {
		return nil, bound.backend.logsErr
	}
	return []byte(bound.backend.logsBody), nil
}

func (bound boundBackend) SearchSubmissions(_ context.Context, parameters url.Values) ([]byte, error) {
	bound.backend.record(backendCall{endpoint: "searchSubmissions", parameters: parameters, apiKey: bound.apiKey})
	if bound.backend.globalBody == "" {
		return nil, errors.New("global search unavailable")
	}
	return []byte(bound.backend.globalBody), nil
}

func (bound boundBackend) UserForms(_ context.Context, limit int) ([]model.Form, error) {
	bound.backend.mutex.Lock()
	bound.backend.formsRequests++
	bound.backend.mutex.Unlock()
	bound.backend.record(backendCall{endpoint: "userForms", parameters: url.Values{"limit": {strconv.Itoa(limit)}}, apiKey: bound.apiKey})
	if bound.backend.formsErr != nil {
		return nil, bound.backend.formsErr
	}
	return bound.backend.forms, nil
}

type apiHarness struct {
	router   *gin.Engine
	accounts *storage.AccountRepository
	backend  *stubBackend
}

func newAPIHarness(testingT *testing.T) *apiHarness {
	testingT.Helper()

	gin.SetMode(gin.TestMode)
	accounts := testutil.NewAccountStore(testingT).Accounts
	backend := &stubBackend{logsBody: `{"submissions":[]}`}
	provider := func(account model.Account) httpapi.Backend {
		return boundBackend{backend: backend, apiKey: account.APIKey}
	}

	logger := zap.NewNop()
	authManager := httpapi.NewAuthManager(logger, accounts, []byte(testSessionSecret), false)
	dashboardHandlers := httpapi.NewDashboardHandlers(provider, querycache.New(querycache.NewMemoryStore(querycache.DefaultTTL), logger), logger)
	adminHandlers := httpapi.NewAdminHandlers(accounts, logger)

	router := gin.New()
	router.Use(httpapi.RequestLogger(logger))
	router.POST("/api/session", authManager.CreateSession)
	router.DELETE("/api/session", authManager.DeleteSession)

	apiGroup := router.Group("/api")
	apiGroup.Use(authManager.RequireAccountJSON())
	apiGroup.GET("/me", authManager.CurrentAccount)
	apiGroup.GET("/search", dashboardHandlers.Search)
	apiGroup.GET("/forms", dashboardHandlers.ListForms)
	apiGroup.GET("/forms/:id/submissions", dashboardHandlers.FormSubmissions)

	adminGroup := router.Group("/api/admin")
	adminGroup.Use(httpapi.AdminAuthMiddleware(testAdminBearerToken))
	adminGroup.POST("/accounts", adminHandlers.CreateAccount)
	adminGroup.PATCH("/accounts/:id/plan", adminHandlers.UpdateAccountPlan)

	return &apiHarness{router: router, accounts: accounts, backend: backend}
}

func (harness *apiHarness) createAccount(testingT *testing.T, email string, plan string, premium bool) model.Account {
	testingT.Helper()
	account, accountErr := model.NewAccount(model.AccountInput{Email: email, Plan: plan, Premium: premium})
	require.NoError(testingT, accountErr)
	require.NoError(testingT, harness.accounts.Create(context.Background(), &account))
	return account
}

func (harness *apiHarness) do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func newJSONRequest(testingT *testing.T, method string, target string, payload any) *http.Request {
	testingT.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(testingT, json.NewEncoder(&body).Encode(payload))
	}
	request := httptest.NewRequest(method, target, &body)
	request.Header.Set("Content-Type", "application/json")
	return request
}

func withBearer(request *http.Request, token string) *http.Request {
	request.Header.Set(authorizationHeaderName, bearerTokenPrefix+token)
	return request
}

func decodeBody(testingT *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testingT.Helper()
	var payload map[string]any
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}
