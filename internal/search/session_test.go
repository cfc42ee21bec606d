package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const (
	testDebounceDelay   = 20 * time.Millisecond
	testSessionTimeout  = 2 * time.Second
	testSessionInterval = 5 * time.Millisecond
)

type outcomeRecorder struct {
	mutex    sync.Mutex
	outcomes []Outcome
}

func (recorder *outcomeRecorder) Publish(outcome Outcome) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.outcomes = append(recorder.outcomes, outcome)
}

func (recorder *outcomeRecorder) Terms() []string {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	terms := make([]string, 0, len(recorder.outcomes))
	for _, outcome := range recorder.outcomes {
		terms = append(terms, outcome.Term)
	}
	return terms
}

type blockingSearcher struct {
	mutex    sync.Mutex
	calls    []string
	blockers map[string]chan struct{}
}

func (searcher *blockingSearcher) Search(_ context.Context, term string, _ string, _ []model.Form, _ *model.AdvancedFilters) model.SearchResult {
	searcher.mutex.Lock()
	searcher.calls = append(searcher.calls, term)
	blocker := searcher.blockers[term]
	searcher.mutex.Unlock()
	if blocker != nil {
		<-blocker
	}
	return model.SearchResult{Submissions: []model.Submission{{ID: term}}}
}

func (searcher *blockingSearcher) Calls() []string {
	searcher.mutex.Lock()
	defer searcher.mutex.Unlock()
	return append([]string(nil), searcher.calls...)
}

func TestDebouncerRunsOnlyLastRequestOfBurst(testingT *testing.T) {
	var runCount int64
	var lastTerm atomic.Value
	debouncer := NewDebouncer(testDebounceDelay, func(_ context.Context, request Request) {
		atomic.AddInt64(&runCount, 1)
		lastTerm.Store(request.Term)
	})
	debouncer.Start(context.Background())
	testingT.Cleanup(debouncer.Stop)

	for _, term := range []string{"a", "al", "ali", "alic", "alice"} {
		debouncer.Submit(Request{Term: term})
	}

	require.Eventually(testingT, func() bool {
		return atomic.LoadInt64(&runCount) == 1
	}, testSessionTimeout, testSessionInterval)
	require.Equal(testingT, "alice", lastTerm.Load())

	time.Sleep(3 * testDebounceDelay)
	require.Equal(testingT, int64(1), atomic.LoadInt64(&runCount))
}

func TestNewDebouncerDefaultsDelay(testingT *testing.T) {
	debouncer := NewDebouncer(0, func(context.Context, Request) {})
	require.Equal(testingT, DefaultDebounceDelay, debouncer.delay)
}

func TestDebouncerStopsRunning(testingT *testing.T) {
	var runCount int64
	debouncer := NewDebouncer(testDebounceDelay, func(context.Context, Request) {
		atomic.AddInt64(&runCount, 1)
	})
	debouncer.Start(context.Background())
	debouncer.Stop()
	debouncer.Submit(Request{Term: "late"})
	time.Sleep(3 * testDebounceDelay)
	require.Zero(testingT, atomic.LoadInt64(&runCount))
}

func TestSessionDiscardsSupersededResults(testingT *testing.T) {
	releaseSlow := make(chan struct{})
	searcher := &blockingSearcher{blockers: map[string]chan struct{}{"slow": releaseSlow}}
	recorder := &outcomeRecorder{}
	session := NewSession(searcher, testDebounceDelay, recorder.Publish, nil)
	session.Start(context.Background())

	session.Submit(Request{Term: "slow"})
	require.Eventually(testingT, func() bool {
		return len(searcher.Calls()) == 1
	}, testSessionTimeout, testSessionInterval)

	session.Submit(Request{Term: "fast"})
	require.Eventually(testingT, func() bool {
		return len(recorder.Terms()) == 1
	}, testSessionTimeout, testSessionInterval)

	close(releaseSlow)
	session.Stop()
	require.Equal(testingT, []string{"fast"}, recorder.Terms())
	require.Equal(testingT, []string{"slow", "fast"}, searcher.Calls())
}

func TestSessionSkipsUnchangedRequests(testingT *testing.T) {
	searcher := &blockingSearcher{}
	recorder := &outcomeRecorder{}
	session := NewSession(searcher, testDebounceDelay, recorder.Publish, nil)
	session.Start(context.Background())

	session.Submit(Request{Term: "alice", FormID: "form-1"})
	require.Eventually(testingT, func() bool {
		return len(recorder.Terms()) == 1
	}, testSessionTimeout, testSessionInterval)

	session.Submit(Request{Term: " alice ", FormID: "form-1"})
	time.Sleep(3 * testDebounceDelay)
	session.Stop()
	require.Len(testingT, searcher.Calls(), 1)
}

func TestFingerprintReflectsFilters(testingT *testing.T) {
	hasEmail := true
	base := Request{Term: "alice", FormID: "form-1"}
	filtered := Request{Term: "alice", FormID: "form-1", Filters: &model.AdvancedFilters{HasEmail: &hasEmail}}
	sorted := Request{Term: "alice", FormID: "form-1", Filters: &model.AdvancedFilters{SortOrder: model.SortOrderOldest}}

	require.Equal(testingT, Fingerprint(base), Fingerprint(Request{Term: "alice ", FormID: "form-1"}))
	require.NotEqual(testingT, Fingerprint(base), Fingerprint(filtered))
	require.NotEqual(testingT, Fingerprint(filtered), Fingerprint(sorted))
	require.NotEqual(testingT, Fingerprint(base), Fingerprint(Request{Term: "alice", FormID: "form-2"}))
}

func TestLatestGuardTracksNewestTicket(testingT *testing.T) {
	guard := &LatestGuard{}
	_, hasLatest := guard.Latest()
	require.False(testingT, hasLatest)

	first := guard.Issue(1)
	second := guard.Issue(1)
	require.False(testingT, guard.IsLatest(first))
	require.True(testingT, guard.IsLatest(second))

	latest, hasLatest := guard.Latest()
	require.True(testingT, hasLatest)
	require.Equal(testingT, second, latest)
}
