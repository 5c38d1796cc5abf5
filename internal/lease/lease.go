// Package lease provides short-lived exclusive leases used to keep two runs
// of the same job from overlapping.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("lease is held")

// ErrLost is returned by Renew once the lease expired or was taken over.
var ErrLost = errors.New("lease lost")

// Lease is an acquired lease.
type Lease interface {
	// Renew extends the lease to ttl from now while it is still ours.
	Renew(ctx context.Context, ttl time.Duration) error
	// Release gives the lease up. Releasing an expired or stolen lease is
	// not an error.
	Release(ctx context.Context) error
}

// Locker hands out leases keyed by name.
type Locker interface {
	// Acquire takes the lease for key for at most ttl, or returns ErrHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocal creates a Local locker.
func NewLocal(clk clock.Clock) *Local {
	return &Local{clock: clk, leases: make(map[string]localEntry)}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if e, ok := l.leases[key]; ok && now.Before(e.expires) {
		return nil, ErrHeld
	}

	token := uuid.New().String()
	l.leases[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: token}, nil
}

type localLease struct {
	locker *Local
	key    string
	token  string
}

func (l *localLease) Renew(ctx context.Context, ttl time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	now := l.locker.clock.Now()
	e, ok := l.locker.leases[l.key]
	if !ok || e.token != l.token || !now.Before(e.expires) {
		return ErrLost
	}
	e.expires = now.Add(ttl)
	l.locker.leases[l.key] = e
	return nil
}

func (l *localLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if e, ok := l.locker.leases[l.key]; ok && e.token == l.token {
		delete(l.locker.leases, l.key)
	}
	return nil
}

var _ Locker = (*Local)(nil)
