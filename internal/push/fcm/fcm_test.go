package fcm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"github.com/dvloznov/budget-tracker/internal/push"
)

type mockSender struct {
	calls    [][]string
	sendFunc func(msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

func (m *mockSender) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	m.calls = append(m.calls, msg.Tokens)
	if m.sendFunc != nil {
		return m.sendFunc(msg)
	}
	resp := &messaging.BatchResponse{SuccessCount: len(msg.Tokens)}
	for range msg.Tokens {
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "m"})
	}
	return resp, nil
}

func TestSendMulticast_ChunksTokens(t *testing.T) {
	sender := &mockSender{}
	g := NewWithSender(sender)

	tokens := make([]string, 501)
	for i := range tokens {
		tokens[i] = fmt.Sprint("tok-", i)
	}

	resp, err := g.SendMulticast(context.Background(), push.Message{Title: "t", Body: "b", Tokens: tokens})
	if err != nil {
		t.Fatalf("SendMulticast failed: %v", err)
	}
	if len(sender.calls) != 2 || len(sender.calls[0]) != 500 || len(sender.calls[1]) != 1 {
		t.Errorf("Expected calls of 500 and 1 tokens, got %d calls", len(sender.calls))
	}
	if resp.SuccessCount != 501 || len(resp.Responses) != 501 {
		t.Errorf("Unexpected aggregate response: success=%d responses=%d", resp.SuccessCount, len(resp.Responses))
	}
	if resp.Responses[500].Token != "tok-500" {
		t.Errorf("Expected responses aligned with tokens, got %q", resp.Responses[500].Token)
	}
}

func TestSendMulticast_PerTokenFailure(t *testing.T) {
	sender := &mockSender{
		sendFunc: func(msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			return &messaging.BatchResponse{
				SuccessCount: 1,
				FailureCount: 1,
				Responses: []*messaging.SendResponse{
					{Success: true, MessageID: "m1"},
					{Success: false, Error: errors.New("opaque failure")},
				},
			}, nil
		},
	}
	g := NewWithSender(sender)

	resp, err := g.SendMulticast(context.Background(), push.Message{Tokens: []string{"ok", "bad"}})
	if err != nil {
		t.Fatalf("SendMulticast failed: %v", err)
	}
	bad := resp.Responses[1]
	if bad.Success || bad.Token != "bad" || bad.ErrorCode != push.CodeUnknown {
		t.Errorf("Unexpected failed response: %+v", bad)
	}
	if push.IsPermanent(bad.ErrorCode) {
		t.Error("Expected unclassified error to be transient")
	}
}

func TestSendMulticast_CallError(t *testing.T) {
	boom := errors.New("network down")
	g := NewWithSender(&mockSender{
		sendFunc: func(msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			return nil, boom
		},
	})

	resp, err := g.SendMulticast(context.Background(), push.Message{Tokens: []string{"a"}})
	if !errors.Is(err, boom) {
		t.Errorf("Expected call error to propagate, got %v", err)
	}
	if resp == nil || resp.FailureCount != 1 || len(resp.Responses) != 0 {
		t.Errorf("Expected the failed call counted as one failure, got %+v", resp)
	}
}

func TestSendMulticast_FailedChunkKeepsOtherResults(t *testing.T) {
	tokens := make([]string, 1001)
	for i := range tokens {
		tokens[i] = fmt.Sprint("tok-", i)
	}

	tests := []struct {
		name        string
		failCall    int
		wantSuccess int
		wantFirst   string
	}{
		{"first call fails", 0, 501, "tok-500"},
		{"middle call fails", 1, 501, "tok-0"},
		{"last call fails", 2, 1000, "tok-0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boom := errors.New("deadline exceeded")
			sender := &mockSender{}
			sender.sendFunc = func(msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
				if len(sender.calls)-1 == tt.failCall {
					return nil, boom
				}
				resp := &messaging.BatchResponse{SuccessCount: len(msg.Tokens)}
				for range msg.Tokens {
					resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "m"})
				}
				return resp, nil
			}
			g := NewWithSender(sender)

			resp, err := g.SendMulticast(context.Background(), push.Message{Tokens: tokens})
			if !errors.Is(err, boom) {
				t.Fatalf("Expected call error, got %v", err)
			}
			if len(sender.calls) != 3 {
				t.Errorf("Expected every chunk to be attempted, got %d calls", len(sender.calls))
			}
			if resp == nil {
				t.Fatal("Expected partial response")
			}
			if resp.SuccessCount != tt.wantSuccess || len(resp.Responses) != tt.wantSuccess {
				t.Errorf("Expected %d successes, got %d (%d responses)", tt.wantSuccess, resp.SuccessCount, len(resp.Responses))
			}
			if resp.SuccessCount+resp.FailureCount != len(tokens) {
				t.Errorf("Expected every token accounted for, got %d+%d", resp.SuccessCount, resp.FailureCount)
			}
			if resp.Responses[0].Token != tt.wantFirst {
				t.Errorf("Expected first response for %s, got %s", tt.wantFirst, resp.Responses[0].Token)
			}
		})
	}
}

func TestErrorCode_Nil(t *testing.T) {
	if ErrorCode(nil) != "" {
		t.Error("Expected empty code for nil error")
	}
}
