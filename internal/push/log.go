package push

import (
	"context"

	"github.com/rs/zerolog"
)

// LogGateway logs pushes instead of delivering them. Every token succeeds.
type LogGateway struct {
	log zerolog.Logger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(log zerolog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

// SendMulticast implements Gateway.
func (g *LogGateway) SendMulticast(ctx context.Context, msg Message) (*BatchResponse, error) {
	g.log.Info().
		Str("title", msg.Title).
		Int("tokens", len(msg.Tokens)).
		Interface("data", msg.Data).
		Msg("Push (log gateway)")

	resp := &BatchResponse{SuccessCount: len(msg.Tokens)}
	for _, t := range msg.Tokens {
		resp.Responses = append(resp.Responses, SendResponse{Token: t, Success: true})
	}
	return resp, nil
}

var _ Gateway = (*LogGateway)(nil)
