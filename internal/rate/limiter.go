package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound API calls so we respect Gmail quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// DefaultPageDelay is the pause between listing pages.
const DefaultPageDelay = time.Second

// FixedDelay blocks for the same duration on every call. It does not look at
// quota headers or adapt to observed usage.
type FixedDelay struct {
	Delay time.Duration
	// Sleep is replaced in tests; nil means a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewFixedDelay returns a pacer that waits d on every call, or
// DefaultPageDelay when d is not positive.
func NewFixedDelay(d time.Duration) *FixedDelay {
	if d <= 0 {
		d = DefaultPageDelay
	}
	return &FixedDelay{Delay: d}
}

// Wait sleeps for the configured delay or until ctx is canceled.
func (f *FixedDelay) Wait(ctx context.Context) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, f.Delay)
	}
	timer := time.NewTimer(f.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("page delay canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// TokenBucket implements a simple fixed-rate token bucket limiter.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stopDone chan struct{}
	stop     chan struct{}
}

// NewTokenBucket returns a limiter that releases rps tokens per second.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, rps),
		stopDone: make(chan struct{}),
		stop:     make(chan struct{}),
	}
	// allow the first call to proceed immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases resources held by the limiter.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.stop)
	<-t.stopDone
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = (*FixedDelay)(nil)
)
