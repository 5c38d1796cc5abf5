package firestore

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/budget-tracker/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", status.Error(codes.NotFound, "no doc"), store.ErrNotFound},
		{"already exists", status.Error(codes.AlreadyExists, "dup"), store.ErrAlreadyExists},
		{"other", status.Error(codes.Unavailable, "down"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			if tt.want == nil {
				if errors.Is(got, store.ErrNotFound) || errors.Is(got, store.ErrAlreadyExists) {
					t.Errorf("Expected unmapped error, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestToUpdates_StableOrder(t *testing.T) {
	updates := toUpdates(map[string]interface{}{
		"updatedAt": 2,
		"status":    "overdue",
		"amount":    1.5,
	})

	want := []string{"amount", "status", "updatedAt"}
	if len(updates) != len(want) {
		t.Fatalf("Expected %d updates, got %d", len(want), len(updates))
	}
	for i, u := range updates {
		if u.Path != want[i] {
			t.Errorf("updates[%d].Path = %q, want %q", i, u.Path, want[i])
		}
	}
}
