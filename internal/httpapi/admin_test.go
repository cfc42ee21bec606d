package httpapi_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
)

func TestAdminCreatesAccountWithGeneratedKey(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	request := withBearer(newJSONRequest(testingT, http.MethodPost, "/api/admin/accounts", map[string]any{
		"email": "New@Example.com",
		"plan":  "pro",
	}), testAdminBearerToken)
	recorder := harness.do(request)
	require.Equal(testingT, http.StatusCreated, recorder.Code)

	payload := decodeBody(testingT, recorder)
	require.Equal(testingT, "new@example.com", payload["email"])
	require.Equal(testingT, "PRO", payload["plan"])
	apiKey, _ := payload["api_key"].(string)
	require.True(testingT, strings.HasPrefix(apiKey, "mk_"))

	stored, findErr := harness.accounts.FindByAPIKey(context.Background(), apiKey)
	require.NoError(testingT, findErr)
	require.Equal(testingT, model.PlanTierPro, stored.Tier())
}

func TestAdminCreateAccountValidation(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	harness.createAccount(testingT, "taken@example.com", "", false)

	testCases := []struct {
		name           string
		payload        map[string]any
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid email",
			payload:        map[string]any{"email": "not-an-email"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_email",
		},
		{
			name:           "invalid plan",
			payload:        map[string]any{"email": "plan@example.com", "plan": "enterprise"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_plan",
		},
		{
			name:           "duplicate email",
			payload:        map[string]any{"email": "taken@example.com"},
			expectedStatus: http.StatusConflict,
			expectedError:  "account_exists",
		},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			request := withBearer(newJSONRequest(testingT, http.MethodPost, "/api/admin/accounts", testCase.payload), testAdminBearerToken)
			recorder := harness.do(request)
			require.Equal(testingT, testCase.expectedStatus, recorder.Code)
			require.Equal(testingT, testCase.expectedError, decodeBody(testingT, recorder)["error"])
		})
	}
}

func TestAdminUpdatesAccountPlan(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "upgrade@example.com", "", false)

	request := withBearer(newJSONRequest(testingT, http.MethodPatch, "/api/admin/accounts/"+account.ID+"/plan", map[string]any{
		"plan":    "standard",
		"premium": true,
	}), testAdminBearerToken)
	recorder := harness.do(request)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	payload := decodeBody(testingT, recorder)
	require.Equal(testingT, "STANDARD", payload["plan"])
	require.Equal(testingT, "PRO", payload["effective_plan"])
	require.NotContains(testingT, payload, "api_key")

	stored, findErr := harness.accounts.FindByID(context.Background(), account.ID)
	require.NoError(testingT, findErr)
	require.Equal(testingT, model.PlanTierStandard, stored.Tier())
	require.True(testingT, stored.Premium)

	keepPremium := withBearer(newJSONRequest(testingT, http.MethodPatch, "/api/admin/accounts/"+account.ID+"/plan", map[string]any{
		"plan": "free",
	}), testAdminBearerToken)
	require.Equal(testingT, http.StatusOK, harness.do(keepPremium).Code)
	stored, findErr = harness.accounts.FindByID(context.Background(), account.ID)
	require.NoError(testingT, findErr)
	require.Equal(testingT, model.PlanTierFree, stored.Tier())
	require.True(testingT, stored.Premium)
}

func TestAdminUpdatePlanErrors(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "errors@example.com", "", false)

	unknown := withBearer(newJSONRequest(testingT, http.MethodPatch, "/api/admin/accounts/missing/plan", map[string]any{"plan": "pro"}), testAdminBearerToken)
	unknownRecorder := harness.do(unknown)
	require.Equal(testingT, http.StatusNotFound, unknownRecorder.Code)
	require.Equal(testingT, "unknown_account", decodeBody(testingT, unknownRecorder)["error"])

	badPlan := withBearer(newJSONRequest(testingT, http.MethodPatch, "/api/admin/accounts/"+account.ID+"/plan", map[string]any{"plan": "gold"}), testAdminBearerToken)
	badPlanRecorder := harness.do(badPlan)
	require.Equal(testingT, http.StatusBadRequest, badPlanRecorder.Code)
	require.Equal(testingT, "invalid_plan", decodeBody(testingT, badPlanRecorder)["error"])

	_, findErr := harness.accounts.FindByID(context.Background(), "missing")
	require.ErrorIs(testingT, findErr, storage.ErrAccountNotFound)
}

func TestAdminRoutesRequireBearerToken(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	missing := harness.do(newJSONRequest(testingT, http.MethodPost, "/api/admin/accounts", map[string]any{"email": "a@example.com"}))
	require.Equal(testingT, http.StatusUnauthorized, missing.Code)
	require.Equal(testingT, "missing_bearer", decodeBody(testingT, missing)["error"])

	wrong := harness.do(withBearer(newJSONRequest(testingT, http.MethodPost, "/api/admin/accounts", map[string]any{"email": "a@example.com"}), "nope"))
	require.Equal(testingT, http.StatusForbidden, wrong.Code)
	require.Equal(testingT, "forbidden", decodeBody(testingT, wrong)["error"])
}
