package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/plan"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
)

const (
	errorValueInvalidEmail  = "invalid_email"
	errorValueInvalidPlan   = "invalid_plan"
	errorValueAccountExists = "account_exists"
	errorValueUnknownAcct   = "unknown_account"
	errorValueSaveFailed    = "save_failed"
	logEventCreateAccount   = "create_account"
	logEventUpdatePlan      = "update_account_plan"
)

// AccountStore persists accounts for the admin API.
type AccountStore interface {
	Create(ctx context.Context, account *model.Account) error
	UpdatePlan(ctx context.Context, accountID string, tier model.PlanTier, premium bool) error
	FindByID(ctx context.Context, accountID string) (model.Account, error)
}

type AdminHandlers struct {
	accounts AccountStore
	logger   *zap.Logger
}

func NewAdminHandlers(accounts AccountStore, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{accounts: accounts, logger: logger}
}

type createAccountRequest struct {
	Email   string `json:"email"`
	Plan    string `json:"plan"`
	Premium bool   `json:"premium"`
	APIKey  string `json:"api_key"`
}

type updatePlanRequest struct {
	Plan    string `json:"plan"`
	Premium *bool  `json:"premium"`
}

type accountResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	APIKey        string `json:"api_key,omitempty"`
	Plan          string `json:"plan"`
	Premium       bool   `json:"premium"`
	EffectivePlan string `json:"effective_plan"`
}

func newAccountResponse(account model.Account, includeKey bool) accountResponse {
	response := accountResponse{
		ID:            account.ID,
		Email:         account.Email,
		Plan:          string(account.Tier()),
		Premium:       account.Premium,
		EffectivePlan: string(plan.Effective(account.Tier(), account.Premium)),
	}
	if includeKey {
		response.APIKey = account.APIKey
	}
	return response
}

func (handlers *AdminHandlers) CreateAccount(context *gin.Context) {
	var request createAccountRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	account, accountErr := model.NewAccount(model.AccountInput{
		Email:   request.Email,
		APIKey:  request.APIKey,
		Plan:    request.Plan,
		Premium: request.Premium,
	})
	if accountErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: accountErrorValue(accountErr)})
		return
	}

	if createErr := handlers.accounts.Create(context.Request.Context(), &account); createErr != nil {
		if errors.Is(createErr, storage.ErrDuplicateAccount) {
			context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueAccountExists})
			return
		}
		handlers.logger.Error(logEventCreateAccount, zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	context.JSON(http.StatusCreated, newAccountResponse(account, true))
}

func (handlers *AdminHandlers) UpdateAccountPlan(context *gin.Context) {
	accountID := strings.TrimSpace(context.Param("id"))
	var request updatePlanRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	existing, findErr := handlers.accounts.FindByID(context.Request.Context(), accountID)
	if findErr != nil {
		if errors.Is(findErr, storage.ErrAccountNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownAcct})
			return
		}
		handlers.logger.Error(logEventUpdatePlan, zap.Error(findErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	tier, tierErr := model.ParsePlanTier(request.Plan)
	if tierErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidPlan})
		return
	}
	premium := existing.Premium
	if request.Premium != nil {
		premium = *request.Premium
	}

	if updateErr := handlers.accounts.UpdatePlan(context.Request.Context(), accountID, tier, premium); updateErr != nil {
		handlers.logger.Error(logEventUpdatePlan, zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}
	existing.Plan = string(tier)
	existing.Premium = premium
	context.JSON(http.StatusOK, newAccountResponse(existing, false))
}

func accountErrorValue(accountErr error) string {
	switch {
	case errors.Is(accountErr, model.ErrInvalidAccountPlan):
		return errorValueInvalidPlan
	case errors.Is(accountErr, model.ErrInvalidAccountEmail):
		return errorValueInvalidEmail
	default:
		return errorValueInvalidKey
	}
}
