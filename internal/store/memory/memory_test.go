package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/store"
)

func seedTx(s *Store, id string, status domain.TransactionStatus, date time.Time) {
	s.Put(store.CollectionTransactions, id, domain.EncodeTransaction(domain.Transaction{
		UserID: "u1",
		Status: status,
		Date:   date,
		Type:   domain.TypeExpense,
	}))
}

func TestUpcomingQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	seedTx(s, "past", domain.StatusUpcoming, day.AddDate(0, 0, -2))
	seedTx(s, "today", domain.StatusUpcoming, day)
	seedTx(s, "paid-past", domain.StatusPaid, day.AddDate(0, 0, -2))
	seedTx(s, "later", domain.StatusUpcoming, day.AddDate(0, 0, 5))
	// Upcoming but without an owner: must be rejected, not returned.
	s.Put(store.CollectionTransactions, "broken", map[string]interface{}{
		domain.FieldStatus: "upcoming",
		domain.FieldDate:   day.AddDate(0, 0, -1),
	})

	before, err := s.UpcomingBefore(ctx, day)
	if err != nil {
		t.Fatalf("UpcomingBefore failed: %v", err)
	}
	if len(before.Records) != 1 || before.Records[0].ID != "past" {
		t.Errorf("Expected only 'past', got %+v", before.Records)
	}
	if len(before.Rejected) != 1 || !errors.Is(before.Rejected[0], domain.ErrInvalidRecord) {
		t.Errorf("Expected one rejected record, got %v", before.Rejected)
	}

	between, err := s.UpcomingBetween(ctx, day, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("UpcomingBetween failed: %v", err)
	}
	if len(between.Records) != 1 || between.Records[0].ID != "today" {
		t.Errorf("Expected only 'today', got %+v", between.Records)
	}
}

func TestBatchCommit_IsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Put(store.CollectionNotifications, "exists", map[string]interface{}{"userId": "u1"})

	b := s.NewBatch()
	b.Add(store.CreateOp(store.CollectionNotifications, "fresh", map[string]interface{}{"userId": "u1"}))
	b.Add(store.CreateOp(store.CollectionNotifications, "exists", map[string]interface{}{"userId": "u2"}))

	err := b.Commit(ctx)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	if _, ok := s.Get(store.CollectionNotifications, "fresh"); ok {
		t.Error("Expected no op of a failed batch to be applied")
	}
	if s.Commits() != 0 || s.Writes() != 0 {
		t.Errorf("Expected no commits or writes, got %d/%d", s.Commits(), s.Writes())
	}
}

func TestBatchCommit_UpdateMissing(t *testing.T) {
	s := New()
	b := s.NewBatch()
	b.Add(store.UpdateOp(store.CollectionTransactions, "nope", map[string]interface{}{"status": "overdue"}))

	if err := b.Commit(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBatchCommit_SeesEarlierOpsInBatch(t *testing.T) {
	const coll = store.CollectionNotifications
	tests := []struct {
		name    string
		ops     []store.Op
		wantErr error
		want    map[string]interface{}
	}{
		{
			name: "duplicate create",
			ops: []store.Op{
				store.CreateOp(coll, "n1", map[string]interface{}{"title": "a"}),
				store.CreateOp(coll, "n1", map[string]interface{}{"title": "b"}),
			},
			wantErr: store.ErrAlreadyExists,
		},
		{
			name: "set then create",
			ops: []store.Op{
				store.SetOp(coll, "n1", map[string]interface{}{"title": "a"}),
				store.CreateOp(coll, "n1", map[string]interface{}{"title": "b"}),
			},
			wantErr: store.ErrAlreadyExists,
		},
		{
			name: "create then update",
			ops: []store.Op{
				store.CreateOp(coll, "n1", map[string]interface{}{"title": "a", "read": false}),
				store.UpdateOp(coll, "n1", map[string]interface{}{"read": true}),
			},
			want: map[string]interface{}{"title": "a", "read": true},
		},
		{
			name: "set then update",
			ops: []store.Op{
				store.SetOp(coll, "n1", map[string]interface{}{"title": "a"}),
				store.UpdateOp(coll, "n1", map[string]interface{}{"title": "b"}),
			},
			want: map[string]interface{}{"title": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			b := s.NewBatch()
			for _, op := range tt.ops {
				b.Add(op)
			}

			err := b.Commit(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				if s.Count(coll) != 0 {
					t.Error("Expected failed batch to leave the store untouched")
				}
				return
			}
			if err != nil {
				t.Fatalf("Commit failed: %v", err)
			}
			doc, ok := s.Get(coll, "n1")
			if !ok {
				t.Fatal("Expected n1 to exist")
			}
			for k, v := range tt.want {
				if doc[k] != v {
					t.Errorf("Expected %s=%v, got %v", k, v, doc[k])
				}
			}
		})
	}
}

func TestCommitHook(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.SetCommitHook(func(ops []store.Op) error { return boom })

	b := s.NewBatch()
	b.Add(store.SetOp(store.CollectionTransactions, "a", map[string]interface{}{}))
	if err := b.Commit(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected hook error, got %v", err)
	}
}

func TestDeviceTokens_LockStep(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	for _, tok := range []string{"a", "b", "a"} {
		if err := s.UpsertDeviceToken(ctx, "u1", tok, domain.TokenMetadata{CreatedAt: now}); err != nil {
			t.Fatalf("UpsertDeviceToken failed: %v", err)
		}
	}

	u, found, err := s.GetUser(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("GetUser: found=%v err=%v", found, err)
	}
	if len(u.Tokens) != 2 || len(u.TokenMetadata) != 2 {
		t.Fatalf("Expected 2 tokens with metadata, got %v / %v", u.Tokens, u.TokenMetadata)
	}

	if err := s.RemoveDeviceTokens(ctx, "u1", []string{"a"}); err != nil {
		t.Fatalf("RemoveDeviceTokens failed: %v", err)
	}
	u, _, _ = s.GetUser(ctx, "u1")
	if len(u.Tokens) != 1 || u.Tokens[0] != "b" {
		t.Errorf("Expected only token b, got %v", u.Tokens)
	}
	if _, ok := u.TokenMetadata["a"]; ok {
		t.Error("Expected metadata for removed token to be gone")
	}
}

func TestGetUser_Missing(t *testing.T) {
	s := New()
	_, found, err := s.GetUser(context.Background(), "ghost")
	if err != nil || found {
		t.Errorf("Expected not found without error, got found=%v err=%v", found, err)
	}
}
