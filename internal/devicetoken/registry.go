// Package devicetoken manages the per-user set of push tokens and the
// metadata kept for each token.
package devicetoken

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/store"
)

// DefaultMaxTokens is the number of tokens kept per user when no limit is
// configured.
const DefaultMaxTokens = 10

var (
	// ErrInvalidToken is returned for an empty user id or token.
	ErrInvalidToken = errors.New("invalid device token")
	// ErrInvalidLimit is returned by Cleanup for a negative limit.
	ErrInvalidLimit = errors.New("invalid token limit")
)

// DeviceInfo describes the device registering a token.
type DeviceInfo struct {
	Name string
	Type string
}

// Registry reads and writes device tokens through the user store. Nothing
// is cached between calls.
type Registry struct {
	users     store.UserStore
	clock     clock.Clock
	maxTokens int
	log       zerolog.Logger
}

// NewRegistry creates a Registry. maxTokens <= 0 disables the automatic
// cleanup after Register.
func NewRegistry(users store.UserStore, clk clock.Clock, maxTokens int, log zerolog.Logger) *Registry {
	return &Registry{
		users:     users,
		clock:     clk,
		maxTokens: maxTokens,
		log:       log,
	}
}

// Register upserts token for userID. The first registration stamps
// createdAt; every registration stamps lastUsed and bumps interactionCount.
// When a token limit is configured the user's oldest tokens beyond it are
// removed afterwards.
func (r *Registry) Register(ctx context.Context, userID, token string, info DeviceInfo) (domain.TokenMetadata, error) {
	if userID == "" || token == "" {
		return domain.TokenMetadata{}, ErrInvalidToken
	}

	user, found, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("Register: loading user: %w", err)
	}

	now := r.clock.Now()
	md := domain.TokenMetadata{CreatedAt: now}
	if found {
		if existing, ok := user.TokenMetadata[token]; ok {
			md = existing
			if md.CreatedAt.IsZero() {
				md.CreatedAt = now
			}
		}
	}
	if info.Name != "" {
		md.DeviceName = info.Name
	}
	if info.Type != "" {
		md.DeviceType = info.Type
	}
	md.LastUsed = now
	md.InteractionCount++

	if err := r.users.UpsertDeviceToken(ctx, userID, token, md); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("Register: saving token: %w", err)
	}

	r.log.Info().
		Str("user_id", userID).
		Str("device_type", md.DeviceType).
		Int("interaction_count", md.InteractionCount).
		Msg("Device token registered")

	if r.maxTokens > 0 {
		if _, err := r.Cleanup(ctx, userID, r.maxTokens); err != nil {
			return md, fmt.Errorf("Register: %w", err)
		}
	}

	return md, nil
}

// Tokens returns the user's token set. A missing user has no tokens.
func (r *Registry) Tokens(ctx context.Context, userID string) ([]string, error) {
	user, found, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Tokens: loading user: %w", err)
	}
	if !found {
		return nil, nil
	}
	return user.Tokens, nil
}

// Remove deletes one token and its metadata.
func (r *Registry) Remove(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return ErrInvalidToken
	}
	return r.RemoveMany(ctx, userID, []string{token})
}

// RemoveMany deletes tokens and their metadata in a single write.
func (r *Registry) RemoveMany(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := r.users.RemoveDeviceTokens(ctx, userID, tokens); err != nil {
		return fmt.Errorf("RemoveMany: removing %d tokens: %w", len(tokens), err)
	}
	r.log.Info().Str("user_id", userID).Int("count", len(tokens)).Msg("Device tokens removed")
	return nil
}

// Cleanup keeps the maxTokens most recently used tokens of userID and
// removes the rest. It returns the removed tokens.
func (r *Registry) Cleanup(ctx context.Context, userID string, maxTokens int) ([]string, error) {
	if maxTokens < 0 {
		return nil, ErrInvalidLimit
	}

	user, found, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Cleanup: loading user: %w", err)
	}
	if !found || len(user.Tokens) <= maxTokens {
		return nil, nil
	}

	ranked := Rank(user.Tokens, user.TokenMetadata)
	stale := ranked[maxTokens:]

	if err := r.RemoveMany(ctx, userID, stale); err != nil {
		return nil, fmt.Errorf("Cleanup: %w", err)
	}
	return stale, nil
}

// Rank orders tokens most recent first: by lastUsed (createdAt when never
// used), then createdAt, then token value. Tokens without metadata rank
// last.
func Rank(tokens []string, meta map[string]domain.TokenMetadata) []string {
	ranked := append([]string(nil), tokens...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := meta[ranked[i]], meta[ranked[j]]
		if ra, rb := a.Recency(), b.Recency(); !ra.Equal(rb) {
			return ra.After(rb)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}
