package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/juju/clock/testclock"
)

func TestLocal_ExclusiveUntilReleased(t *testing.T) {
	clk := testclock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewLocal(clk)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := l.Acquire(ctx, "job", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("Expected ErrHeld, got %v", err)
	}
	if _, err := l.Acquire(ctx, "other", time.Minute); err != nil {
		t.Errorf("Expected independent key to be free, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := l.Acquire(ctx, "job", time.Minute); err != nil {
		t.Errorf("Expected lease to be free after release, got %v", err)
	}
}

func TestLocal_Expiry(t *testing.T) {
	clk := testclock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewLocal(clk)
	ctx := context.Background()

	stale, _ := l.Acquire(ctx, "job", time.Minute)
	clk.Advance(2 * time.Minute)

	fresh, err := l.Acquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("Expected expired lease to be reacquirable, got %v", err)
	}

	// Releasing the stale lease must not free the new holder's lease.
	_ = stale.Release(ctx)
	if _, err := l.Acquire(ctx, "job", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected ErrHeld after stale release, got %v", err)
	}
	_ = fresh.Release(ctx)
}

func TestLocal_Renew(t *testing.T) {
	clk := testclock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewLocal(clk)
	ctx := context.Background()

	held, _ := l.Acquire(ctx, "job", time.Minute)
	clk.Advance(50 * time.Second)
	if err := held.Renew(ctx, time.Minute); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	clk.Advance(50 * time.Second)
	if _, err := l.Acquire(ctx, "job", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected renewed lease to still be held, got %v", err)
	}

	clk.Advance(time.Minute)
	if err := held.Renew(ctx, time.Minute); !errors.Is(err, ErrLost) {
		t.Errorf("Expected ErrLost for an expired lease, got %v", err)
	}
	other, err := l.Acquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("Expected expired lease to be reacquirable, got %v", err)
	}
	if err := held.Renew(ctx, time.Minute); !errors.Is(err, ErrLost) {
		t.Errorf("Expected ErrLost after takeover, got %v", err)
	}
	_ = other.Release(ctx)
}

// mockRedis overrides the commands the locker uses. Any other call panics
// on the nil embedded interface.
type mockRedis struct {
	redis.Cmdable
	held     map[string]string
	setErr   error
	released []string
	renewed  []int64
}

func (m *mockRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	if m.setErr != nil {
		return redis.NewBoolResult(false, m.setErr)
	}
	if _, ok := m.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.held[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	if m.held[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	if sha1 == renewScript.Hash() {
		m.renewed = append(m.renewed, args[1].(int64))
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(m.held, keys[0])
	m.released = append(m.released, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	m := &mockRedis{held: map[string]string{}}
	r := NewRedis(m)
	ctx := context.Background()

	l, err := r.Acquire(ctx, "status", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, ok := m.held[Key("status")]; !ok {
		t.Fatalf("Expected key %s to be set", Key("status"))
	}
	if _, err := r.Acquire(ctx, "status", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected ErrHeld, got %v", err)
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(m.released) != 1 {
		t.Errorf("Expected one release, got %v", m.released)
	}
}

func TestRedis_AcquireError(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewRedis(&mockRedis{held: map[string]string{}, setErr: boom})

	if _, err := r.Acquire(context.Background(), "status", time.Minute); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped redis error, got %v", err)
	}
}

func TestRedis_Renew(t *testing.T) {
	m := &mockRedis{held: map[string]string{}}
	r := NewRedis(m)
	ctx := context.Background()

	l, err := r.Acquire(ctx, "status", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Renew(ctx, 90*time.Second); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if len(m.renewed) != 1 || m.renewed[0] != 90000 {
		t.Errorf("Expected one renewal to 90000ms, got %v", m.renewed)
	}
	if len(m.released) != 0 {
		t.Error("Expected renewal to keep the key")
	}

	m.held[Key("status")] = "someone-else"
	if err := l.Renew(ctx, time.Minute); !errors.Is(err, ErrLost) {
		t.Errorf("Expected ErrLost once the token changed, got %v", err)
	}
}
