// Package search dispatches submission searches to the forms backend and
// turns whatever comes back into a canonical, client-filtered result.
package search

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/normalize"
)

const (
	// FallbackFormLimit bounds how many forms are queried one by one when the
	// global search is unavailable.
	FallbackFormLimit = 3

	defaultPage     = 1
	defaultPageSize = 10

	parameterFormID    = "formId"
	parameterSearch    = "search"
	parameterQuery     = "query"
	parameterPage      = "page"
	parameterLimit     = "limit"
	parameterStartDate = "startDate"
	parameterEndDate   = "endDate"
	parameterHasEmail  = "hasEmail"
	parameterBrowser   = "browser"
	parameterLocation  = "location"
	parameterSortOrder = "sortOrder"
)

// SubmissionLogFetcher returns the raw body of a single-form submission query.
type SubmissionLogFetcher interface {
	SubmissionLogs(ctx context.Context, parameters url.Values) ([]byte, error)
}

// GlobalSearcher returns the raw body of a cross-form search.
type GlobalSearcher interface {
	SearchSubmissions(ctx context.Context, parameters url.Values) ([]byte, error)
}

// Dispatcher routes a search to the single-form or cross-form path.
type Dispatcher struct {
	logs   SubmissionLogFetcher
	global GlobalSearcher
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher builds a Dispatcher. global may be nil, in which case every
// cross-form search uses the per-form fallback.
func NewDispatcher(logs SubmissionLogFetcher, global GlobalSearcher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logs:   logs,
		global: global,
		logger: logger,
		now:    time.Now,
	}
}

// Search never fails: transport and decode problems are logged and degrade to
// an empty result. An empty formID selects cross-form search.
func (dispatcher *Dispatcher) Search(ctx context.Context, term string, formID string, knownForms []model.Form, filters *model.AdvancedFilters) model.SearchResult {
	trimmedTerm := strings.TrimSpace(term)
	if trimmedTerm == "" {
		return model.EmptySearchResult()
	}

	var result model.SearchResult
	if formID != "" {
		result = model.SearchResult{
			Submissions: dispatcher.searchForm(ctx, trimmedTerm, formID, formNameFor(knownForms, formID), filters),
		}
	} else {
		result = dispatcher.searchAllForms(ctx, trimmedTerm, knownForms, filters)
	}
	result.Submissions = ApplyClientFilters(result.Submissions, filters)
	return result
}

func (dispatcher *Dispatcher) searchForm(ctx context.Context, term string, formID string, formName string, filters *model.AdvancedFilters) []model.Submission {
	parameters := url.Values{}
	parameters.Set(parameterFormID, formID)
	parameters.Set(parameterSearch, term)
	parameters.Set(parameterPage, strconv.Itoa(defaultPage))
	parameters.Set(parameterLimit, strconv.Itoa(defaultPageSize))
	dispatcher.applyFilters(parameters, filters)

	if dispatcher.logs == nil {
		return []model.Submission{}
	}
	body, fetchErr := dispatcher.logs.SubmissionLogs(ctx, parameters)
	if fetchErr != nil {
		dispatcher.logger.Warn("search_form_failed", zap.String("form_id", formID), zap.Error(fetchErr))
		return []model.Submission{}
	}
	envelope, decodeErr := normalize.DecodeEnvelope(body)
	if decodeErr != nil {
		dispatcher.logger.Warn("search_form_undecodable", zap.String("form_id", formID), zap.Error(decodeErr))
		return []model.Submission{}
	}
	return normalize.DecodeSubmissions(dispatcher.logger, envelope.Submissions, formID, formName)
}

func (dispatcher *Dispatcher) searchAllForms(ctx context.Context, term string, knownForms []model.Form, filters *model.AdvancedFilters) model.SearchResult {
	if dispatcher.global == nil {
		return dispatcher.fallback(ctx, term, knownForms, filters)
	}

	parameters := url.Values{}
	parameters.Set(parameterQuery, term)
	dispatcher.applyFilters(parameters, filters)
	if HasOperators(term) {
		ParseAdvancedQuery(term).Apply(parameters)
	}

	body, searchErr := dispatcher.global.SearchSubmissions(ctx, parameters)
	if searchErr != nil {
		dispatcher.logger.Warn("search_global_failed", zap.Error(searchErr))
		return dispatcher.fallback(ctx, term, knownForms, filters)
	}
	envelope, decodeErr := normalize.DecodeEnvelope(body)
	if decodeErr != nil {
		dispatcher.logger.Warn("search_global_undecodable", zap.Error(decodeErr))
		return dispatcher.fallback(ctx, term, knownForms, filters)
	}
	return model.SearchResult{
		Submissions: normalize.DecodeSubmissions(dispatcher.logger, envelope.Submissions, "", ""),
		Forms:       normalize.DecodeForms(dispatcher.logger, envelope.Forms),
	}
}

// fallback queries at most FallbackFormLimit known forms concurrently and
// concatenates their submissions in known-form order.
func (dispatcher *Dispatcher) fallback(ctx context.Context, term string, knownForms []model.Form, filters *model.AdvancedFilters) model.SearchResult {
	candidates := knownForms
	if len(candidates) > FallbackFormLimit {
		candidates = candidates[:FallbackFormLimit]
	}
	if len(candidates) == 0 {
		return model.EmptySearchResult()
	}

	perForm := make([][]model.Submission, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, form := range candidates {
		group.Go(func() error {
			perForm[index] = dispatcher.searchForm(groupCtx, term, form.ID, form.Name, filters)
			return nil
		})
	}
	_ = group.Wait()

	submissions := make([]model.Submission, 0)
	for _, formSubmissions := range perForm {
		submissions = append(submissions, formSubmissions...)
	}
	queriedForms := make([]model.Form, len(candidates))
	copy(queriedForms, candidates)
	return model.SearchResult{Submissions: submissions, Forms: queriedForms}
}

// applyFilters translates filters into backend parameters. A time frame only
// becomes startDate when no explicit range start was given.
func (dispatcher *Dispatcher) applyFilters(parameters url.Values, filters *model.AdvancedFilters) {
	if filters == nil {
		return
	}
	hasExplicitStart := false
	if filters.DateRange != nil {
		if filters.DateRange.From != nil {
			parameters.Set(parameterStartDate, filters.DateRange.From.UTC().Format(time.RFC3339))
			hasExplicitStart = true
		}
		if filters.DateRange.To != nil {
			parameters.Set(parameterEndDate, filters.DateRange.To.UTC().Format(time.RFC3339))
		}
	}
	if window, hasWindow := filters.TimeFrame.Window(); hasWindow && !hasExplicitStart {
		parameters.Set(parameterStartDate, dispatcher.now().Add(-window).UTC().Format(time.RFC3339))
	}
	if filters.HasEmail != nil {
		parameters.Set(parameterHasEmail, strconv.FormatBool(*filters.HasEmail))
	}
	setIfPresent(parameters, parameterBrowser, filters.Browser)
	setIfPresent(parameters, parameterLocation, filters.Location)
	setIfPresent(parameters, parameterSortOrder, string(filters.SortOrder))
}

// ApplyClientFilters drops submissions without attachments when requested and
// stable-sorts by creation time when a sort order is given.
func ApplyClientFilters(submissions []model.Submission, filters *model.AdvancedFilters) []model.Submission {
	if submissions == nil {
		submissions = []model.Submission{}
	}
	if filters == nil {
		return submissions
	}
	if filters.ShowOnlyWithAttachments {
		withAttachments := make([]model.Submission, 0, len(submissions))
		for _, submission := range submissions {
			if submission.HasAttachments() {
				withAttachments = append(withAttachments, submission)
			}
		}
		submissions = withAttachments
	}
	switch filters.SortOrder {
	case model.SortOrderNewest:
		sort.SliceStable(submissions, func(left, right int) bool {
			return submissions[left].CreatedAt.After(submissions[right].CreatedAt)
		})
	case model.SortOrderOldest:
		sort.SliceStable(submissions, func(left, right int) bool {
			return submissions[left].CreatedAt.Before(submissions[right].CreatedAt)
		})
	}
	return submissions
}

func formNameFor(knownForms []model.Form, formID string) string {
	for _, form := range knownForms {
		if form.ID == formID {
			return form.Name
		}
	}
	return ""
}
