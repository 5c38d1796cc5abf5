package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Push is a queued push delivery.
type Push struct {
	UserID  string
	Content Content
	Data    map[string]string
}

// Async issues pushes in the background. Each push runs on its own
// goroutine with a context that outlives the caller's cancellation and is
// bounded by the configured timeout.
type Async struct {
	pusher  Pusher
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps pusher. timeout <= 0 means no bound.
func NewAsync(pusher Pusher, timeout time.Duration, log zerolog.Logger) *Async {
	return &Async{pusher: pusher, timeout: timeout, log: log}
}

// Go starts delivering p and returns immediately.
func (a *Async) Go(ctx context.Context, p Push) {
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				a.log.Error().Interface("panic", r).Str("user_id", p.UserID).Msg("Push dispatch panicked")
			}
		}()

		a.pusher.DispatchPush(ctx, p.UserID, p.Content, p.Data)
	}()
}

// Wait blocks until every started push finishes or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launcher starts pushes without waiting for them.
type Launcher interface {
	Go(ctx context.Context, p Push)
}

// Ensure Async implements Launcher.
var _ Launcher = (*Async)(nil)
