// Package firestore implements store.Store on Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/store"
)

// scanPageSize is the number of documents read per page by ScanTransactions.
const scanPageSize = 500

// Store is a Firestore-backed store.Store.
type Store struct {
	client *firestore.Client
}

// New creates a Firestore client for projectID and wraps it.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("New: failed to create Firestore client: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Firestore client.
func NewWithClient(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// mapError translates gRPC status codes into store sentinels.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%v: %w", err, store.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%v: %w", err, store.ErrAlreadyExists)
	}
	return err
}

func (s *Store) queryTransactions(ctx context.Context, q firestore.Query) (store.Decoded[domain.Transaction], error) {
	var out store.Decoded[domain.Transaction]

	it := q.Documents(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return out, fmt.Errorf("queryTransactions: iterating results: %w", err)
		}
		tx, err := domain.DecodeTransaction(snap.Ref.ID, snap.Data())
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		out.Records = append(out.Records, tx)
	}

	return out, nil
}

func (s *Store) upcoming() firestore.Query {
	return s.client.Collection(store.CollectionTransactions).
		Where(domain.FieldStatus, "==", string(domain.StatusUpcoming))
}

// UpcomingBefore implements store.TransactionStore.
func (s *Store) UpcomingBefore(ctx context.Context, t time.Time) (store.Decoded[domain.Transaction], error) {
	return s.queryTransactions(ctx, s.upcoming().Where(domain.FieldDate, "<", t))
}

// UpcomingBetween implements store.TransactionStore.
func (s *Store) UpcomingBetween(ctx context.Context, from, to time.Time) (store.Decoded[domain.Transaction], error) {
	return s.queryTransactions(ctx, s.upcoming().
		Where(domain.FieldDate, ">=", from).
		Where(domain.FieldDate, "<=", to))
}

// RecurringRules implements store.TransactionStore.
func (s *Store) RecurringRules(ctx context.Context) (store.Decoded[domain.RecurringRule], error) {
	var out store.Decoded[domain.RecurringRule]

	txs, err := s.queryTransactions(ctx, s.client.Collection(store.CollectionTransactions).
		Where(domain.FieldIsRecurring, "==", true))
	if err != nil {
		return out, fmt.Errorf("RecurringRules: %w", err)
	}
	out.Rejected = txs.Rejected

	for _, tx := range txs.Records {
		rule, err := domain.RuleFromTransaction(tx)
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		out.Records = append(out.Records, rule)
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, collection, id string) (bool, error) {
	_, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: reading %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// TransactionExists implements store.TransactionStore.
func (s *Store) TransactionExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, store.CollectionTransactions, id)
}

// ScanTransactions implements store.TransactionStore. Documents are read in
// pages ordered by document id.
func (s *Store) ScanTransactions(ctx context.Context, fn func(store.Document) error) error {
	base := s.client.Collection(store.CollectionTransactions).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(scanPageSize)

	var last *firestore.DocumentSnapshot
	for {
		q := base
		if last != nil {
			q = q.StartAfter(last)
		}

		it := q.Documents(ctx)
		n := 0
		for {
			snap, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				it.Stop()
				return fmt.Errorf("ScanTransactions: iterating page: %w", err)
			}
			n++
			last = snap
			if err := fn(store.Document{ID: snap.Ref.ID, Data: snap.Data()}); err != nil {
				it.Stop()
				return err
			}
		}
		it.Stop()

		if n < scanPageSize {
			return nil
		}
	}
}

// CreateNotification implements store.NotificationStore.
func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := s.client.Collection(store.CollectionNotifications).Doc(n.ID).
		Create(ctx, domain.EncodeNotification(n))
	if err != nil {
		return fmt.Errorf("CreateNotification: %w", mapError(err))
	}
	return nil
}

// NotificationExists implements store.NotificationStore.
func (s *Store) NotificationExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, store.CollectionNotifications, id)
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	snap, err := s.client.Collection(store.CollectionUsers).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("GetUser: reading user %s: %w", id, err)
	}

	u, err := domain.DecodeUser(id, snap.Data())
	if err != nil {
		return domain.User{}, false, fmt.Errorf("GetUser: %w", err)
	}
	return u, true, nil
}

// UpsertDeviceToken implements store.UserStore. The token joins the
// fcmTokens array and its metadata is merged under deviceMetadata in the
// same write.
func (s *Store) UpsertDeviceToken(ctx context.Context, userID, token string, md domain.TokenMetadata) error {
	_, err := s.client.Collection(store.CollectionUsers).Doc(userID).Set(ctx, map[string]interface{}{
		domain.FieldTokens: firestore.ArrayUnion(token),
		domain.FieldDeviceMetadata: map[string]interface{}{
			token: domain.EncodeTokenMetadata(md),
		},
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("UpsertDeviceToken: %w", mapError(err))
	}
	return nil
}

// RemoveDeviceTokens implements store.UserStore.
func (s *Store) RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	values := make([]interface{}, len(tokens))
	for i, t := range tokens {
		values[i] = t
	}

	updates := []firestore.Update{
		{Path: domain.FieldTokens, Value: firestore.ArrayRemove(values...)},
	}
	for _, t := range tokens {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{domain.FieldDeviceMetadata, t},
			Value:     firestore.Delete,
		})
	}

	if _, err := s.client.Collection(store.CollectionUsers).Doc(userID).Update(ctx, updates); err != nil {
		return fmt.Errorf("RemoveDeviceTokens: %w", mapError(err))
	}
	return nil
}

// NewBatch implements store.Batcher.
func (s *Store) NewBatch() store.Batch {
	return &batch{client: s.client}
}

type batch struct {
	client *firestore.Client
	ops    []store.Op
}

func (b *batch) Add(op store.Op) {
	b.ops = append(b.ops, op)
}

func (b *batch) Len() int {
	return len(b.ops)
}

func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	if len(b.ops) > store.MaxBatchOps {
		return fmt.Errorf("Commit: batch of %d ops exceeds limit of %d", len(b.ops), store.MaxBatchOps)
	}

	wb := b.client.Batch()
	for _, op := range b.ops {
		ref := b.client.Collection(op.Collection).Doc(op.DocID)
		switch op.Kind {
		case store.OpCreate:
			wb.Create(ref, op.Data)
		case store.OpSet:
			wb.Set(ref, op.Data)
		case store.OpUpdate:
			wb.Update(ref, toUpdates(op.Data))
		default:
			return fmt.Errorf("Commit: unsupported op kind %v", op.Kind)
		}
	}

	if _, err := wb.Commit(ctx); err != nil {
		return fmt.Errorf("Commit: committing %d ops: %w", len(b.ops), mapError(err))
	}
	b.ops = nil
	return nil
}

// toUpdates converts a top-level field map into Firestore updates in a
// stable order.
func toUpdates(fields map[string]interface{}) []firestore.Update {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}
	return updates
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
