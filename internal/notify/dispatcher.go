// Package notify persists notification records and fans pushes out to a
// user's devices.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/metrics"
	"github.com/dvloznov/budget-tracker/internal/push"
	"github.com/dvloznov/budget-tracker/internal/store"
)

// Content is the visible part of a push.
type Content struct {
	Title string
	Body  string
}

// TokenRegistry is the part of devicetoken.Registry the dispatcher uses.
type TokenRegistry interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
	RemoveMany(ctx context.Context, userID string, tokens []string) error
}

// Pusher delivers a push to a user. It never fails; the result reports
// whether at least one device accepted it.
type Pusher interface {
	DispatchPush(ctx context.Context, userID string, content Content, data map[string]string) bool
}

// Dispatcher creates notifications and delivers pushes.
type Dispatcher struct {
	notifications store.NotificationStore
	users         store.UserStore
	tokens        TokenRegistry
	gateway       push.Gateway
	clock         clock.Clock
	metrics       *metrics.Collector
	log           zerolog.Logger
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(
	notifications store.NotificationStore,
	users store.UserStore,
	tokens TokenRegistry,
	gateway push.Gateway,
	clk clock.Clock,
	m *metrics.Collector,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		users:         users,
		tokens:        tokens,
		gateway:       gateway,
		clock:         clk,
		metrics:       m,
		log:           log,
	}
}

// Create persists n with createdAt stamped now and returns its id. An id
// is generated when n has none.
func (d *Dispatcher) Create(ctx context.Context, n domain.Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.UserID == "" {
		return "", fmt.Errorf("Create: notification %s has no user", n.ID)
	}
	if !n.Type.Valid() {
		return "", fmt.Errorf("Create: unknown notification type %q", n.Type)
	}
	n.CreatedAt = d.clock.Now()
	n.Read = false

	if err := d.notifications.CreateNotification(ctx, n); err != nil {
		return "", fmt.Errorf("Create: %w", err)
	}
	return n.ID, nil
}

// DispatchPush sends content to every device of userID. It returns false
// when the user is missing, has notifications disabled, has no tokens, or
// when delivery failed outright; failures are logged, never returned.
// Tokens rejected with a permanent error are removed from the registry.
func (d *Dispatcher) DispatchPush(ctx context.Context, userID string, content Content, data map[string]string) bool {
	log := d.log.With().Str("user_id", userID).Logger()

	user, found, err := d.users.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load user for push")
		return false
	}
	if !found {
		log.Info().Msg("User not found, skipping push")
		return false
	}
	if !user.NotificationsEnabled {
		log.Info().Msg("Notifications disabled, skipping push")
		return false
	}

	tokens, err := d.tokens.Tokens(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load device tokens")
		return false
	}
	if len(tokens) == 0 {
		log.Info().Msg("No device tokens, skipping push")
		return false
	}

	resp, err := d.gateway.SendMulticast(ctx, push.Message{
		Title:  content.Title,
		Body:   content.Body,
		Data:   data,
		Tokens: tokens,
	})
	if err != nil {
		log.Error().Err(err).Int("tokens", len(tokens)).Msg("Push delivery failed")
		if resp == nil {
			d.metrics.AddPushResults(metrics.PushTransient, len(tokens))
			return false
		}
	}

	var stale []string
	successes, transient := 0, 0
	if unsent := len(tokens) - len(resp.Responses); unsent > 0 {
		transient = unsent
	}
	for i, r := range resp.Responses {
		token := r.Token
		if token == "" && i < len(tokens) {
			token = tokens[i]
		}
		switch {
		case r.Success:
			successes++
		case push.IsPermanent(r.ErrorCode):
			stale = append(stale, token)
		default:
			transient++
			log.Warn().Err(r.Err).Str("code", r.ErrorCode).Msg("Transient push failure, keeping token")
		}
	}
	d.metrics.AddPushResults(metrics.PushSuccess, successes)
	d.metrics.AddPushResults(metrics.PushPermanent, len(stale))
	d.metrics.AddPushResults(metrics.PushTransient, transient)

	if len(stale) > 0 {
		if err := d.tokens.RemoveMany(ctx, userID, stale); err != nil {
			log.Error().Err(err).Int("tokens", len(stale)).Msg("Failed to remove invalid device tokens")
		} else {
			d.metrics.AddTokensRemoved(len(stale))
			log.Info().Int("tokens", len(stale)).Msg("Removed invalid device tokens")
		}
	}

	log.Debug().
		Int("success", successes).
		Int("failure", len(resp.Responses)-successes).
		Msg("Push dispatched")

	return successes > 0
}

// Ensure Dispatcher implements Pusher.
var _ Pusher = (*Dispatcher)(nil)
