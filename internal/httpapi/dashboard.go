package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/normalize"
	"github.com/MarkoPoloResearchLab/mantlz/internal/plan"
	"github.com/MarkoPoloResearchLab/mantlz/internal/querycache"
	"github.com/MarkoPoloResearchLab/mantlz/internal/search"
	"github.com/MarkoPoloResearchLab/mantlz/pkg/mantlz"
)

const (
	jsonKeyError = "error"

	errorValueInvalidJSON     = "invalid_json"
	errorValueInvalidFilters  = "invalid_filters"
	errorValueUpgradeRequired = "upgrade_required"
	errorValueBackendFailed   = "backend_failed"
	errorValueMissingForm     = "missing_form"

	queryKeyTerm        = "term"
	queryKeyFormID      = "formId"
	queryKeyTimeFrame   = "timeFrame"
	queryKeySortOrder   = "sortOrder"
	queryKeyFrom        = "from"
	queryKeyTo          = "to"
	queryKeyHasEmail    = "hasEmail"
	queryKeyAttachments = "attachments"
	queryKeyBrowser     = "browser"
	queryKeyLocation    = "location"
	queryKeyLimit       = "limit"
	queryKeySearch      = "search"
	queryKeyPage        = "page"

	defaultFormsLimit = 20
	maxFormsLimit     = 100
	submissionsLimit  = 50

	logEventListForms       = "list_forms"
	logEventFormSubmissions = "form_submissions"
	logEventKnownForms      = "search_known_forms"
)

var errInvalidFilterValue = errors.New("invalid filter value")

// Backend is the forms backend as seen by one authenticated account.
type Backend interface {
	search.SubmissionLogFetcher
	search.GlobalSearcher
	UserForms(ctx context.Context, limit int) ([]model.Form, error)
}

// BackendProvider returns the backend bound to an account's credentials.
type BackendProvider func(account model.Account) Backend

type DashboardHandlers struct {
	backends   BackendProvider
	formsCache *querycache.Cache
	logger     *zap.Logger
	now        func() time.Time
}

func NewDashboardHandlers(backends BackendProvider, formsCache *querycache.Cache, logger *zap.Logger) *DashboardHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if formsCache == nil {
		formsCache = querycache.New(querycache.NewMemoryStore(querycache.DefaultTTL), logger)
	}
	return &DashboardHandlers{
		backends:   backends,
		formsCache: formsCache,
		logger:     logger,
		now:        time.Now,
	}
}

type searchResponse struct {
	Submissions []model.Submission `json:"submissions"`
	Forms       []model.Form       `json:"forms,omitempty"`
	Total       int                `json:"total"`
	Hidden      int                `json:"hidden"`
}

type formsResponse struct {
	Forms []model.Form `json:"forms"`
}

type formSubmissionsResponse struct {
	FormID      string             `json:"form_id"`
	Submissions []model.Submission `json:"submissions"`
	Total       int                `json:"total"`
}

// Search runs a plan-gated submission search for the current account.
func (handlers *DashboardHandlers) Search(context *gin.Context) {
	account, ok := AccountFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	formID := strings.TrimSpace(context.Query(queryKeyFormID))
	if authorizeErr := plan.AuthorizeSearch(account.Tier(), account.Premium, formID); authorizeErr != nil {
		context.JSON(http.StatusPaymentRequired, gin.H{jsonKeyError: errorValueUpgradeRequired})
		return
	}

	filters, filtersErr := parseAdvancedFilters(context.Request.URL.Query())
	if filtersErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidFilters})
		return
	}

	backend := handlers.backends(account)
	term := context.Query(queryKeyTerm)
	var knownForms []model.Form
	if formID == "" && strings.TrimSpace(term) != "" {
		knownForms = handlers.knownForms(context.Request.Context(), account, backend)
	}

	dispatcher := search.NewDispatcher(backend, backend, handlers.logger)
	result := dispatcher.Search(context.Request.Context(), term, formID, knownForms, filters)

	visible := plan.ApplyPlanLimits(result.Submissions, account.Tier(), account.Premium, handlers.now())
	page := plan.LimitSearchResults(visible, account.Tier(), account.Premium)
	context.JSON(http.StatusOK, searchResponse{
		Submissions: page.Visible,
		Forms:       result.Forms,
		Total:       page.Total,
		Hidden:      page.Hidden,
	})
}

// ListForms returns the account's forms through the query cache.
func (handlers *DashboardHandlers) ListForms(ginContext *gin.Context) {
	account, ok := AccountFromContext(ginContext)
	if !ok {
		ginContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}
	limit := parseLimit(ginContext.Query(queryKeyLimit))
	forms, formsErr := handlers.formsCache.Forms(ginContext.Request.Context(), querycache.FormsKey(account.ID, limit), func(ctx context.Context) ([]model.Form, error) {
		return handlers.backends(account).UserForms(ctx, limit)
	})
	if formsErr != nil {
		handlers.logger.Warn(logEventListForms, zap.String(logFieldAccountIdentifier, account.ID), zap.Error(formsErr))
		respondBackendError(ginContext, formsErr)
		return
	}
	ginContext.JSON(http.StatusOK, formsResponse{Forms: forms})
}

// FormSubmissions lists one form's submissions, limited by plan.
func (handlers *DashboardHandlers) FormSubmissions(context *gin.Context) {
	account, ok := AccountFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}
	formID := strings.TrimSpace(context.Param("id"))
	if formID == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingForm})
		return
	}

	parameters := url.Values{}
	parameters.Set(queryKeyFormID, formID)
	parameters.Set(queryKeyPage, "1")
	parameters.Set(queryKeyLimit, strconv.Itoa(submissionsLimit))
	if searchTerm := strings.TrimSpace(context.Query(queryKeySearch)); searchTerm != "" {
		parameters.Set(queryKeySearch, searchTerm)
	}

	body, fetchErr := handlers.backends(account).SubmissionLogs(context.Request.Context(), parameters)
	if fetchErr != nil {
		handlers.logger.Warn(logEventFormSubmissions, zap.String("form_id", formID), zap.Error(fetchErr))
		respondBackendError(context, fetchErr)
		return
	}
	envelope, decodeErr := normalize.DecodeEnvelope(body)
	if decodeErr != nil {
		handlers.logger.Warn(logEventFormSubmissions, zap.String("form_id", formID), zap.Error(decodeErr))
	}
	submissions := normalize.DecodeSubmissions(handlers.logger, envelope.Submissions, formID, "")
	visible := plan.ApplyPlanLimits(submissions, account.Tier(), account.Premium, handlers.now())
	context.JSON(http.StatusOK, formSubmissionsResponse{
		FormID:      formID,
		Submissions: visible,
		Total:       len(visible),
	})
}

func (handlers *DashboardHandlers) knownForms(ctx context.Context, account model.Account, backend Backend) []model.Form {
	forms, formsErr := handlers.formsCache.Forms(ctx, querycache.FormsKey(account.ID, defaultFormsLimit), func(loadCtx context.Context) ([]model.Form, error) {
		return backend.UserForms(loadCtx, defaultFormsLimit)
	})
	if formsErr != nil {
		handlers.logger.Warn(logEventKnownForms, zap.String(logFieldAccountIdentifier, account.ID), zap.Error(formsErr))
		return nil
	}
	return forms
}

func respondBackendError(context *gin.Context, backendErr error) {
	var apiErr *mantlz.Error
	if errors.As(backendErr, &apiErr) && apiErr.Code >= http.StatusBadRequest && apiErr.Code < http.StatusInternalServerError {
		context.JSON(apiErr.Code, gin.H{jsonKeyError: apiErr.UserMessage})
		return
	}
	context.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueBackendFailed})
}

func parseLimit(raw string) int {
	limit, parseErr := strconv.Atoi(strings.TrimSpace(raw))
	if parseErr != nil || limit <= 0 {
		return defaultFormsLimit
	}
	if limit > maxFormsLimit {
		return maxFormsLimit
	}
	return limit
}

func parseAdvancedFilters(query url.Values) (*model.AdvancedFilters, error) {
	filters := &model.AdvancedFilters{
		Browser:  strings.TrimSpace(query.Get(queryKeyBrowser)),
		Location: strings.TrimSpace(query.Get(queryKeyLocation)),
	}

	switch timeFrame := model.TimeFrame(strings.TrimSpace(query.Get(queryKeyTimeFrame))); timeFrame {
	case "", model.TimeFrameAll, model.TimeFrameLastDay, model.TimeFrameLastWeek, model.TimeFrameLastMonth:
		filters.TimeFrame = timeFrame
	default:
		return nil, errInvalidFilterValue
	}

	switch sortOrder := model.SortOrder(strings.TrimSpace(query.Get(queryKeySortOrder))); sortOrder {
	case "", model.SortOrderNewest, model.SortOrderOldest:
		filters.SortOrder = sortOrder
	default:
		return nil, errInvalidFilterValue
	}

	from, fromErr := parseFilterTime(query.Get(queryKeyFrom))
	if fromErr != nil {
		return nil, fromErr
	}
	to, toErr := parseFilterTime(query.Get(queryKeyTo))
	if toErr != nil {
		return nil, toErr
	}
	if from != nil || to != nil {
		filters.DateRange = &model.DateRange{From: from, To: to}
	}

	if rawHasEmail := strings.TrimSpace(query.Get(queryKeyHasEmail)); rawHasEmail != "" {
		hasEmail, parseErr := strconv.ParseBool(rawHasEmail)
		if parseErr != nil {
			return nil, errInvalidFilterValue
		}
		filters.HasEmail = &hasEmail
	}
	if rawAttachments := strings.TrimSpace(query.Get(queryKeyAttachments)); rawAttachments != "" {
		withAttachments, parseErr := strconv.ParseBool(rawAttachments)
		if parseErr != nil {
			return nil, errInvalidFilterValue
		}
		filters.ShowOnlyWithAttachments = withAttachments
	}
	return filters, nil
}

func parseFilterTime(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if parsed, parseErr := time.Parse(layout, trimmed); parseErr == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, errInvalidFilterValue
}
