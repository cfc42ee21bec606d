package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
)

const (
	contextKeyAccount      = "httpapi_account"
	sessionName            = "mantlz_dashboard"
	sessionKeyAccountID    = "account_id"
	sessionMaxAgeSeconds   = 7 * 24 * 60 * 60
	authErrorUnauthorized  = "unauthorized"
	errorValueInvalidKey   = "invalid_api_key"
	errorValueSessionStore = "session_unavailable"
	logEventLoadSession    = "load_session"
	logEventLookupAccount  = "lookup_account"
	logEventSaveSession    = "save_session"
)

// AccountResolver looks up dashboard accounts.
type AccountResolver interface {
	FindByAPIKey(ctx context.Context, apiKey string) (model.Account, error)
	FindByID(ctx context.Context, accountID string) (model.Account, error)
}

// AuthManager authenticates dashboard requests by cookie session or by an
// account API key sent as a bearer token.
type AuthManager struct {
	logger       *zap.Logger
	accounts     AccountResolver
	sessionStore *sessions.CookieStore
}

func NewAuthManager(logger *zap.Logger, accounts AccountResolver, sessionSecret []byte, secureCookies bool) *AuthManager {
	store := sessions.NewCookieStore(sessionSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAgeSeconds,
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	return &AuthManager{
		logger:       logger,
		accounts:     accounts,
		sessionStore: store,
	}
}

func (authManager *AuthManager) RequireAccountJSON() gin.HandlerFunc {
	return func(context *gin.Context) {
		if _, ok := authManager.ensureAccount(context); !ok {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
			return
		}
		context.Next()
	}
}

type createSessionRequest struct {
	APIKey string `json:"api_key"`
}

// CreateSession exchanges an account API key for a cookie session.
func (authManager *AuthManager) CreateSession(context *gin.Context) {
	var request createSessionRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	account, lookupErr := authManager.accounts.FindByAPIKey(context.Request.Context(), request.APIKey)
	if lookupErr != nil {
		if !errors.Is(lookupErr, storage.ErrAccountNotFound) {
			authManager.logger.Warn(logEventLookupAccount, zap.Error(lookupErr))
		}
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueInvalidKey})
		return
	}

	sessionInstance, _ := authManager.sessionStore.Get(context.Request, sessionName)
	sessionInstance.Values[sessionKeyAccountID] = account.ID
	if saveErr := sessionInstance.Save(context.Request, context.Writer); saveErr != nil {
		authManager.logger.Error(logEventSaveSession, zap.Error(saveErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSessionStore})
		return
	}
	context.JSON(http.StatusOK, newAccountResponse(account, false))
}

// DeleteSession clears the dashboard session cookie.
func (authManager *AuthManager) DeleteSession(context *gin.Context) {
	sessionInstance, _ := authManager.sessionStore.Get(context.Request, sessionName)
	sessionInstance.Options.MaxAge = -1
	delete(sessionInstance.Values, sessionKeyAccountID)
	if saveErr := sessionInstance.Save(context.Request, context.Writer); saveErr != nil {
		authManager.logger.Error(logEventSaveSession, zap.Error(saveErr))
	}
	context.Status(http.StatusNoContent)
}

// CurrentAccount returns the authenticated account.
func (authManager *AuthManager) CurrentAccount(context *gin.Context) {
	account, ok := AccountFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}
	context.JSON(http.StatusOK, newAccountResponse(account, false))
}

func AccountFromContext(context *gin.Context) (model.Account, bool) {
	value, exists := context.Get(contextKeyAccount)
	if !exists {
		return model.Account{}, false
	}
	account, ok := value.(model.Account)
	return account, ok
}

func (authManager *AuthManager) ensureAccount(context *gin.Context) (model.Account, bool) {
	if account, exists := AccountFromContext(context); exists {
		return account, true
	}

	if apiKey, hasBearer := bearerToken(context); hasBearer {
		account, lookupErr := authManager.accounts.FindByAPIKey(context.Request.Context(), apiKey)
		if lookupErr != nil {
			if !errors.Is(lookupErr, storage.ErrAccountNotFound) {
				authManager.logger.Warn(logEventLookupAccount, zap.Error(lookupErr))
			}
			return model.Account{}, false
		}
		context.Set(contextKeyAccount, account)
		return account, true
	}

	sessionInstance, sessionErr := authManager.sessionStore.Get(context.Request, sessionName)
	if sessionErr != nil {
		authManager.logger.Warn(logEventLoadSession, zap.Error(sessionErr))
		return model.Account{}, false
	}
	accountID := extractString(sessionInstance.Values[sessionKeyAccountID])
	if accountID == "" {
		return model.Account{}, false
	}
	account, lookupErr := authManager.accounts.FindByID(context.Request.Context(), accountID)
	if lookupErr != nil {
		if !errors.Is(lookupErr, storage.ErrAccountNotFound) {
			authManager.logger.Warn(logEventLookupAccount, zap.Error(lookupErr))
		}
		return model.Account{}, false
	}
	context.Set(contextKeyAccount, account)
	return account, true
}

func extractString(value interface{}) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
