// Package push defines the push gateway abstraction and the classification
// of per-token delivery errors.
package push

import (
	"context"
)

// MaxTokensPerCall is the number of tokens a gateway accepts in one
// multicast call.
const MaxTokensPerCall = 500

// Error codes reported per token.
const (
	CodeUnregistered     = "messaging/registration-token-not-registered"
	CodeInvalidToken     = "messaging/invalid-registration-token"
	CodeInvalidArgument  = "messaging/invalid-argument"
	CodeUnavailable      = "messaging/unavailable"
	CodeInternal         = "messaging/internal-error"
	CodeQuotaExceeded    = "messaging/quota-exceeded"
	CodeSenderIDMismatch = "messaging/sender-id-mismatch"
	CodeThirdPartyAuth   = "messaging/third-party-auth-error"
	CodeUnknown          = "messaging/unknown-error"
)

// Message is one notification fanned out to a set of device tokens.
type Message struct {
	Title  string
	Body   string
	Data   map[string]string
	Tokens []string
}

// SendResponse is the outcome for one token. Responses are in the same
// order as Message.Tokens.
type SendResponse struct {
	Token     string
	Success   bool
	MessageID string
	// ErrorCode is set when Success is false.
	ErrorCode string
	Err       error
}

// BatchResponse is the outcome of a multicast send.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []SendResponse
}

// Gateway sends multicast pushes. Per-token failures are reported in the
// BatchResponse. An error means a call itself failed; a non-nil
// BatchResponse returned with it still covers the tokens that were sent.
type Gateway interface {
	SendMulticast(ctx context.Context, msg Message) (*BatchResponse, error)
}

// IsPermanent reports whether code means the token itself is no longer
// valid and should be discarded.
func IsPermanent(code string) bool {
	switch code {
	case CodeUnregistered, CodeInvalidToken, CodeInvalidArgument:
		return true
	}
	return false
}

// Chunk splits tokens into slices of at most size tokens.
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 {
		size = MaxTokensPerCall
	}
	var chunks [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}
