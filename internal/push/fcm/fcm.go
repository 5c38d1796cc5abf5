// Package fcm delivers pushes through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/dvloznov/budget-tracker/internal/push"
)

// Sender is the subset of *messaging.Client used by the gateway.
type Sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Gateway implements push.Gateway on FCM.
type Gateway struct {
	sender Sender
}

// New creates a Firebase app for projectID and returns a gateway using its
// messaging client.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Gateway, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("New: failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("New: failed to create messaging client: %w", err)
	}
	return NewWithSender(client), nil
}

// NewWithSender wraps an existing sender.
func NewWithSender(s Sender) *Gateway {
	return &Gateway{sender: s}
}

// SendMulticast implements push.Gateway. Token lists longer than
// push.MaxTokensPerCall are sent in several calls. A failing call counts its
// tokens as failures without per-token responses; the remaining calls still
// go out and the joined call errors are returned with the partial response.
func (g *Gateway) SendMulticast(ctx context.Context, msg push.Message) (*push.BatchResponse, error) {
	out := &push.BatchResponse{}
	var errs []error

	for _, chunk := range push.Chunk(msg.Tokens, push.MaxTokensPerCall) {
		resp, err := g.sender.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Data:   msg.Data,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("SendMulticast: sending to %d tokens: %w", len(chunk), err))
			out.FailureCount += len(chunk)
			continue
		}

		for i, r := range resp.Responses {
			sr := push.SendResponse{Success: r.Success, MessageID: r.MessageID}
			if i < len(chunk) {
				sr.Token = chunk[i]
			}
			if !r.Success {
				sr.Err = r.Error
				sr.ErrorCode = ErrorCode(r.Error)
			}
			out.Responses = append(out.Responses, sr)
		}
		out.SuccessCount += resp.SuccessCount
		out.FailureCount += resp.FailureCount
	}

	return out, errors.Join(errs...)
}

// ErrorCode maps an FCM send error to a push error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case messaging.IsUnregistered(err):
		return push.CodeUnregistered
	case messaging.IsInvalidArgument(err):
		return push.CodeInvalidArgument
	case messaging.IsSenderIDMismatch(err):
		return push.CodeSenderIDMismatch
	case messaging.IsQuotaExceeded(err):
		return push.CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		return push.CodeUnavailable
	case messaging.IsInternal(err):
		return push.CodeInternal
	case messaging.IsThirdPartyAuthError(err):
		return push.CodeThirdPartyAuth
	}
	return push.CodeUnknown
}

// Ensure Gateway implements push.Gateway.
var _ push.Gateway = (*Gateway)(nil)
