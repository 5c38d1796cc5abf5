package devicetoken

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/store"
	"github.com/dvloznov/budget-tracker/internal/store/memory"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedUser(s *memory.Store, id string, meta map[string]domain.TokenMetadata) {
	tokens := make([]interface{}, 0, len(meta))
	encoded := map[string]interface{}{}
	keys := make([]string, 0, len(meta))
	for tok := range meta {
		keys = append(keys, tok)
	}
	sort.Strings(keys)
	for _, tok := range keys {
		tokens = append(tokens, tok)
		encoded[tok] = domain.EncodeTokenMetadata(meta[tok])
	}
	s.Put(store.CollectionUsers, id, map[string]interface{}{
		domain.FieldTokens:         tokens,
		domain.FieldDeviceMetadata: encoded,
	})
}

func TestRegister_StampsMetadata(t *testing.T) {
	s := memory.New()
	clk := testclock.NewClock(epoch)
	r := NewRegistry(s, clk, 0, zerolog.Nop())
	ctx := context.Background()

	md, err := r.Register(ctx, "u1", "tok", DeviceInfo{Name: "Pixel", Type: "android"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !md.CreatedAt.Equal(epoch) || !md.LastUsed.Equal(epoch) || md.InteractionCount != 1 {
		t.Errorf("Unexpected metadata after first registration: %+v", md)
	}

	clk.Advance(time.Hour)
	md, err = r.Register(ctx, "u1", "tok", DeviceInfo{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !md.CreatedAt.Equal(epoch) {
		t.Errorf("Expected createdAt to be preserved, got %v", md.CreatedAt)
	}
	if !md.LastUsed.Equal(epoch.Add(time.Hour)) {
		t.Errorf("Expected lastUsed to advance, got %v", md.LastUsed)
	}
	if md.InteractionCount != 2 || md.DeviceName != "Pixel" {
		t.Errorf("Unexpected metadata after re-registration: %+v", md)
	}

	tokens, err := r.Tokens(ctx, "u1")
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "tok" {
		t.Errorf("Expected single token, got %v", tokens)
	}
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry(memory.New(), testclock.NewClock(epoch), 0, zerolog.Nop())

	if _, err := r.Register(context.Background(), "", "tok", DeviceInfo{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for empty user, got %v", err)
	}
	if _, err := r.Register(context.Background(), "u1", "", DeviceInfo{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestRegister_EnforcesLimit(t *testing.T) {
	s := memory.New()
	clk := testclock.NewClock(epoch)
	r := NewRegistry(s, clk, 2, zerolog.Nop())
	ctx := context.Background()

	for _, tok := range []string{"a", "b", "c"} {
		if _, err := r.Register(ctx, "u1", tok, DeviceInfo{}); err != nil {
			t.Fatalf("Register(%s) failed: %v", tok, err)
		}
		clk.Advance(time.Minute)
	}

	tokens, _ := r.Tokens(ctx, "u1")
	sort.Strings(tokens)
	if len(tokens) != 2 || tokens[0] != "b" || tokens[1] != "c" {
		t.Errorf("Expected [b c], got %v", tokens)
	}
}

func TestCleanup_KeepsMostRecent(t *testing.T) {
	s := memory.New()
	seedUser(s, "u1", map[string]domain.TokenMetadata{
		"t1": {CreatedAt: epoch, LastUsed: epoch.Add(5 * time.Hour)},
		"t2": {CreatedAt: epoch, LastUsed: epoch.Add(1 * time.Hour)},
		// Never used: ranked by createdAt.
		"t3": {CreatedAt: epoch.Add(4 * time.Hour)},
		// Same lastUsed as t5, newer createdAt wins the tie.
		"t4": {CreatedAt: epoch.Add(2 * time.Hour), LastUsed: epoch.Add(3 * time.Hour)},
		"t5": {CreatedAt: epoch.Add(1 * time.Hour), LastUsed: epoch.Add(3 * time.Hour)},
	})
	r := NewRegistry(s, testclock.NewClock(epoch), 0, zerolog.Nop())
	ctx := context.Background()

	removed, err := r.Cleanup(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	sort.Strings(removed)
	if len(removed) != 2 || removed[0] != "t2" || removed[1] != "t5" {
		t.Errorf("Expected t2 and t5 removed, got %v", removed)
	}

	user, _, _ := s.GetUser(ctx, "u1")
	kept := append([]string(nil), user.Tokens...)
	sort.Strings(kept)
	if len(kept) != 3 || kept[0] != "t1" || kept[1] != "t3" || kept[2] != "t4" {
		t.Errorf("Expected t1, t3, t4 kept, got %v", kept)
	}
	for _, tok := range []string{"t2", "t5"} {
		if _, ok := user.TokenMetadata[tok]; ok {
			t.Errorf("Expected metadata for %s to be removed", tok)
		}
	}
	if len(user.TokenMetadata) != 3 {
		t.Errorf("Expected 3 metadata entries, got %d", len(user.TokenMetadata))
	}
}

func TestCleanup_NoOp(t *testing.T) {
	s := memory.New()
	seedUser(s, "u1", map[string]domain.TokenMetadata{"a": {CreatedAt: epoch}})
	r := NewRegistry(s, testclock.NewClock(epoch), 0, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		max    int
	}{
		{"under limit", "u1", 3},
		{"missing user", "ghost", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writes := s.Writes()
			removed, err := r.Cleanup(ctx, tt.userID, tt.max)
			if err != nil || len(removed) != 0 {
				t.Errorf("Expected no-op, got removed=%v err=%v", removed, err)
			}
			if s.Writes() != writes {
				t.Error("Expected no store write")
			}
		})
	}

	if _, err := r.Cleanup(ctx, "u1", -1); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("Expected ErrInvalidLimit, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := memory.New()
	seedUser(s, "u1", map[string]domain.TokenMetadata{
		"a": {CreatedAt: epoch},
		"b": {CreatedAt: epoch},
	})
	r := NewRegistry(s, testclock.NewClock(epoch), 0, zerolog.Nop())
	ctx := context.Background()

	if err := r.Remove(ctx, "u1", "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	user, _, _ := s.GetUser(ctx, "u1")
	if len(user.Tokens) != 1 || user.Tokens[0] != "b" {
		t.Errorf("Expected only b left, got %v", user.Tokens)
	}
	if _, ok := user.TokenMetadata["a"]; ok {
		t.Error("Expected metadata for a to be removed")
	}

	if err := r.Remove(ctx, "ghost", "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing user, got %v", err)
	}
}
