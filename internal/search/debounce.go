package search

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period after the last keystroke before a
// search runs.
const DefaultDebounceDelay = 150 * time.Millisecond

type DebouncedFunc func(context.Context, Request)

// Debouncer runs its function with the most recently submitted request once
// nothing new has arrived for the configured delay.
type Debouncer struct {
	delay        time.Duration
	runner       DebouncedFunc
	input        chan Request
	submitMutex  sync.Mutex
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewDebouncer(delay time.Duration, runner DebouncedFunc) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{
		delay:  delay,
		runner: runner,
		input:  make(chan Request, 1),
	}
}

func (debouncer *Debouncer) Start(ctx context.Context) {
	if debouncer == nil || debouncer.runner == nil {
		return
	}
	debouncer.controlMutex.Lock()
	if debouncer.cancel != nil {
		debouncer.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	debouncer.cancel = cancel
	done := make(chan struct{})
	debouncer.done = done
	debouncer.controlMutex.Unlock()

	go debouncer.loop(runtimeCtx, done)
}

// Submit replaces any request still waiting to be picked up and restarts the
// quiet period.
func (debouncer *Debouncer) Submit(request Request) {
	if debouncer == nil {
		return
	}
	debouncer.submitMutex.Lock()
	defer debouncer.submitMutex.Unlock()
	select {
	case debouncer.input <- request:
		return
	default:
	}
	select {
	case <-debouncer.input:
	default:
	}
	debouncer.input <- request
}

func (debouncer *Debouncer) Stop() {
	if debouncer == nil {
		return
	}
	debouncer.controlMutex.Lock()
	cancel := debouncer.cancel
	done := debouncer.done
	debouncer.cancel = nil
	debouncer.done = nil
	debouncer.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (debouncer *Debouncer) loop(ctx context.Context, done chan struct{}) {
	timer := time.NewTimer(debouncer.delay)
	stopTimer(timer)
	defer stopTimer(timer)
	defer close(done)

	var pending Request
	hasPending := false
	for {
		select {
		case <-ctx.Done():
			return
		case value := <-debouncer.input:
			pending = value
			hasPending = true
			stopTimer(timer)
			timer.Reset(debouncer.delay)
		case <-timer.C:
			if !hasPending {
				continue
			}
			value := pending
			pending = Request{}
			hasPending = false
			debouncer.runner(ctx, value)
		}
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
