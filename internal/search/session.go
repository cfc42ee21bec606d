package search

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const fingerprintSeparator = "\x1f"

// Searcher is the subset of Dispatcher a Session needs.
type Searcher interface {
	Search(ctx context.Context, term string, formID string, knownForms []model.Form, filters *model.AdvancedFilters) model.SearchResult
}

// Request is one keystroke-level search intent.
type Request struct {
	Term       string
	FormID     string
	KnownForms []model.Form
	Filters    *model.AdvancedFilters
}

// Fingerprint identifies the request parameters that affect the result.
func Fingerprint(request Request) uint64 {
	parts := []string{strings.TrimSpace(request.Term), request.FormID}
	for _, form := range request.KnownForms {
		parts = append(parts, form.ID)
	}
	if filters := request.Filters; filters != nil {
		if filters.DateRange != nil {
			parts = append(parts, formatOptionalTime(filters.DateRange.From), formatOptionalTime(filters.DateRange.To))
		}
		hasEmail := ""
		if filters.HasEmail != nil {
			hasEmail = strconv.FormatBool(*filters.HasEmail)
		}
		parts = append(parts,
			string(filters.TimeFrame),
			string(filters.SortOrder),
			hasEmail,
			strconv.FormatBool(filters.ShowOnlyWithAttachments),
			filters.Browser,
			filters.Location,
		)
	}
	return xxhash.Sum64String(strings.Join(parts, fingerprintSeparator))
}

func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}

// Ticket marks one issued search.
type Ticket struct {
	sequence    uint64
	fingerprint uint64
}

func (ticket Ticket) Fingerprint() uint64 {
	return ticket.fingerprint
}

// LatestGuard tracks the most recently issued search so that responses to
// superseded requests can be dropped.
type LatestGuard struct {
	mutex    sync.Mutex
	sequence uint64
	latest   Ticket
}

func (guard *LatestGuard) Issue(fingerprint uint64) Ticket {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	guard.sequence++
	guard.latest = Ticket{sequence: guard.sequence, fingerprint: fingerprint}
	return guard.latest
}

// IsLatest reports whether no other ticket was issued after this one.
func (guard *LatestGuard) IsLatest(ticket Ticket) bool {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	return ticket.sequence == guard.sequence
}

// Latest returns the most recent ticket and whether one was issued.
func (guard *LatestGuard) Latest() (Ticket, bool) {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	return guard.latest, guard.sequence > 0
}

// Outcome is a search result that is still current when published.
type Outcome struct {
	Fingerprint uint64
	Term        string
	Result      model.SearchResult
}

type PublishFunc func(Outcome)

// Session turns a stream of keystroke requests into debounced searches and
// publishes only results whose request is still the latest one.
type Session struct {
	searcher  Searcher
	publish   PublishFunc
	guard     LatestGuard
	debouncer *Debouncer
	logger    *zap.Logger
	inFlight  sync.WaitGroup
}

func NewSession(searcher Searcher, delay time.Duration, publish PublishFunc, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	session := &Session{
		searcher: searcher,
		publish:  publish,
		logger:   logger,
	}
	session.debouncer = NewDebouncer(delay, session.run)
	return session
}

func (session *Session) Start(ctx context.Context) {
	session.debouncer.Start(ctx)
}

// Stop halts debouncing and waits for searches already running.
func (session *Session) Stop() {
	session.debouncer.Stop()
	session.inFlight.Wait()
}

// Submit queues a request. Only the last request in a burst is searched.
func (session *Session) Submit(request Request) {
	session.debouncer.Submit(request)
}

func (session *Session) run(ctx context.Context, request Request) {
	fingerprint := Fingerprint(request)
	if latest, hasLatest := session.guard.Latest(); hasLatest && latest.Fingerprint() == fingerprint {
		return
	}
	ticket := session.guard.Issue(fingerprint)

	session.inFlight.Add(1)
	go func() {
		defer session.inFlight.Done()
		result := session.searcher.Search(ctx, request.Term, request.FormID, request.KnownForms, request.Filters)
		if !session.guard.IsLatest(ticket) {
			session.logger.Debug("search_result_discarded", zap.Uint64("fingerprint", fingerprint))
			return
		}
		if session.publish != nil {
			session.publish(Outcome{Fingerprint: fingerprint, Term: request.Term, Result: result})
		}
	}()
}
