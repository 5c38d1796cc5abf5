// Package memory is an in-memory document store. It keeps documents as
// field maps, exactly like the hosted store, so records with missing or
// malformed fields can be represented. It is safe for concurrent use and
// is meant for tests and local runs; data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}

	commitHook func(ops []store.Op) error
	commits    int
	writes     int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]interface{}),
	}
}

// Put stores a raw document, replacing any existing one. It is a seeding
// helper and is not counted as a write.
func (s *Store) Put(collection, id string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection)[id] = copyMap(data)
}

// Get returns a copy of a raw document.
func (s *Store) Get(collection, id string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, false
	}
	return copyMap(doc), true
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// SetCommitHook installs fn to observe every batch commit before it is
// applied. A non-nil error from fn fails the commit.
func (s *Store) SetCommitHook(fn func(ops []store.Op) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// Commits returns the number of successful batch commits.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Writes returns the number of document writes applied, batched or direct.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) coll(name string) map[string]map[string]interface{} {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]map[string]interface{})
		s.collections[name] = c
	}
	return c
}

// sortedDocs returns copies of a collection's documents in id order.
func (s *Store) sortedDocs(collection string) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.collections[collection]
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, store.Document{ID: id, Data: copyMap(c[id])})
	}
	return docs
}

func (s *Store) queryTransactions(match func(date time.Time) bool) store.Decoded[domain.Transaction] {
	var out store.Decoded[domain.Transaction]
	for _, doc := range s.sortedDocs(store.CollectionTransactions) {
		// Filter on the raw fields first, like an indexed query would, so
		// malformed records outside the candidate set are not reported.
		if st, _ := doc.Data[domain.FieldStatus].(string); st != string(domain.StatusUpcoming) {
			continue
		}
		if date, ok := doc.Data[domain.FieldDate].(time.Time); !ok || !match(date) {
			continue
		}
		tx, err := domain.DecodeTransaction(doc.ID, doc.Data)
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		out.Records = append(out.Records, tx)
	}
	return out
}

// UpcomingBefore implements store.TransactionStore.
func (s *Store) UpcomingBefore(ctx context.Context, t time.Time) (store.Decoded[domain.Transaction], error) {
	return s.queryTransactions(func(date time.Time) bool {
		return date.Before(t)
	}), nil
}

// UpcomingBetween implements store.TransactionStore.
func (s *Store) UpcomingBetween(ctx context.Context, from, to time.Time) (store.Decoded[domain.Transaction], error) {
	return s.queryTransactions(func(date time.Time) bool {
		return !date.Before(from) && !date.After(to)
	}), nil
}

// RecurringRules implements store.TransactionStore.
func (s *Store) RecurringRules(ctx context.Context) (store.Decoded[domain.RecurringRule], error) {
	var out store.Decoded[domain.RecurringRule]
	for _, doc := range s.sortedDocs(store.CollectionTransactions) {
		if recurring, _ := doc.Data[domain.FieldIsRecurring].(bool); !recurring {
			continue
		}
		tx, err := domain.DecodeTransaction(doc.ID, doc.Data)
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		rule, err := domain.RuleFromTransaction(tx)
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		out.Records = append(out.Records, rule)
	}
	return out, nil
}

// TransactionExists implements store.TransactionStore.
func (s *Store) TransactionExists(ctx context.Context, id string) (bool, error) {
	_, ok := s.Get(store.CollectionTransactions, id)
	return ok, nil
}

// ScanTransactions implements store.TransactionStore.
func (s *Store) ScanTransactions(ctx context.Context, fn func(store.Document) error) error {
	for _, doc := range s.sortedDocs(store.CollectionTransactions) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// CreateNotification implements store.NotificationStore.
func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(store.CollectionNotifications)
	if _, exists := c[n.ID]; exists {
		return fmt.Errorf("notification %s: %w", n.ID, store.ErrAlreadyExists)
	}
	c[n.ID] = copyMap(domain.EncodeNotification(n))
	s.writes++
	return nil
}

// NotificationExists implements store.NotificationStore.
func (s *Store) NotificationExists(ctx context.Context, id string) (bool, error) {
	_, ok := s.Get(store.CollectionNotifications, id)
	return ok, nil
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	doc, ok := s.Get(store.CollectionUsers, id)
	if !ok {
		return domain.User{}, false, nil
	}
	u, err := domain.DecodeUser(id, doc)
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}

// UpsertDeviceToken implements store.UserStore.
func (s *Store) UpsertDeviceToken(ctx context.Context, userID, token string, md domain.TokenMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.coll(store.CollectionUsers)
	doc, ok := users[userID]
	if !ok {
		doc = map[string]interface{}{}
		users[userID] = doc
	}

	tokens := toStrings(doc[domain.FieldTokens])
	found := false
	for _, t := range tokens {
		if t == token {
			found = true
			break
		}
	}
	if !found {
		tokens = append(tokens, token)
	}
	doc[domain.FieldTokens] = toInterfaces(tokens)

	meta, _ := doc[domain.FieldDeviceMetadata].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta[token] = domain.EncodeTokenMetadata(md)
	doc[domain.FieldDeviceMetadata] = meta

	s.writes++
	return nil
}

// RemoveDeviceTokens implements store.UserStore.
func (s *Store) RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.coll(store.CollectionUsers)[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}

	remove := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		remove[t] = true
	}

	var kept []string
	for _, t := range toStrings(doc[domain.FieldTokens]) {
		if !remove[t] {
			kept = append(kept, t)
		}
	}
	doc[domain.FieldTokens] = toInterfaces(kept)

	if meta, ok := doc[domain.FieldDeviceMetadata].(map[string]interface{}); ok {
		for t := range remove {
			delete(meta, t)
		}
	}

	s.writes++
	return nil
}

// NewBatch implements store.Batcher.
func (s *Store) NewBatch() store.Batch {
	return &batch{store: s}
}

type batch struct {
	store *Store
	ops   []store.Op
}

func (b *batch) Add(op store.Op) {
	op.Data = copyMap(op.Data)
	b.ops = append(b.ops, op)
}

func (b *batch) Len() int {
	return len(b.ops)
}

// Commit validates every op against current state and the ops before it
// before applying any of them, so a failing op leaves the store untouched.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) > store.MaxBatchOps {
		return fmt.Errorf("batch of %d ops exceeds limit of %d", len(b.ops), store.MaxBatchOps)
	}

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitHook != nil {
		if err := s.commitHook(b.ops); err != nil {
			return err
		}
	}

	// Ops see the writes queued before them in the same batch.
	written := make(map[[2]string]bool, len(b.ops))
	for _, op := range b.ops {
		key := [2]string{op.Collection, op.DocID}
		_, exists := s.coll(op.Collection)[op.DocID]
		exists = exists || written[key]
		written[key] = true
		switch op.Kind {
		case store.OpCreate:
			if exists {
				return fmt.Errorf("%s/%s: %w", op.Collection, op.DocID, store.ErrAlreadyExists)
			}
		case store.OpUpdate:
			if !exists {
				return fmt.Errorf("%s/%s: %w", op.Collection, op.DocID, store.ErrNotFound)
			}
		}
	}

	for _, op := range b.ops {
		c := s.coll(op.Collection)
		switch op.Kind {
		case store.OpCreate, store.OpSet:
			c[op.DocID] = copyMap(op.Data)
		case store.OpUpdate:
			doc := c[op.DocID]
			for k, v := range op.Data {
				doc[k] = copyValue(v)
			}
		}
	}

	s.commits++
	s.writes += len(b.ops)
	b.ops = nil
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return toInterfaces(val)
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

func toStrings(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return nil
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
