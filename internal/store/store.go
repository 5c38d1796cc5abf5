// Package store defines the document-store abstractions the scheduled jobs
// and the notification subsystem are written against.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/budget-tracker/internal/domain"
)

// Collection names.
const (
	CollectionTransactions  = "transactions"
	CollectionNotifications = "notifications"
	CollectionUsers         = "users"
)

// MaxBatchOps is the number of writes the document store accepts in one
// atomic batch commit.
const MaxBatchOps = 500

var (
	// ErrNotFound is returned when a document targeted by an update is missing.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned when a create targets an existing document.
	ErrAlreadyExists = errors.New("document already exists")
)

// OpKind is the kind of a batched write.
type OpKind int

const (
	// OpCreate fails the batch when the document already exists.
	OpCreate OpKind = iota
	// OpSet creates or overwrites the document.
	OpSet
	// OpUpdate patches top-level fields of an existing document.
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	}
	return "unknown"
}

// Op is one write queued into a batch.
type Op struct {
	Kind       OpKind
	Collection string
	DocID      string
	Data       map[string]interface{}
}

// CreateOp builds an OpCreate.
func CreateOp(collection, id string, data map[string]interface{}) Op {
	return Op{Kind: OpCreate, Collection: collection, DocID: id, Data: data}
}

// SetOp builds an OpSet.
func SetOp(collection, id string, data map[string]interface{}) Op {
	return Op{Kind: OpSet, Collection: collection, DocID: id, Data: data}
}

// UpdateOp builds an OpUpdate.
func UpdateOp(collection, id string, fields map[string]interface{}) Op {
	return Op{Kind: OpUpdate, Collection: collection, DocID: id, Data: fields}
}

// Batch is an atomic group of writes.
type Batch interface {
	Add(op Op)
	Len() int
	// Commit applies every queued op or none of them.
	Commit(ctx context.Context) error
}

// Batcher creates empty batches.
type Batcher interface {
	NewBatch() Batch
}

// Document is an undecoded stored document.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// Decoded pairs the records that passed schema validation with the errors
// for the ones that did not.
type Decoded[T any] struct {
	Records  []T
	Rejected []error
}

// TransactionStore reads transaction candidates for the scheduled jobs.
type TransactionStore interface {
	// UpcomingBefore returns upcoming transactions dated strictly before t.
	UpcomingBefore(ctx context.Context, t time.Time) (Decoded[domain.Transaction], error)
	// UpcomingBetween returns upcoming transactions dated within [from, to].
	UpcomingBetween(ctx context.Context, from, to time.Time) (Decoded[domain.Transaction], error)
	// RecurringRules returns every transaction flagged isRecurring as a rule.
	RecurringRules(ctx context.Context) (Decoded[domain.RecurringRule], error)
	// TransactionExists reports whether a transaction document exists.
	TransactionExists(ctx context.Context, id string) (bool, error)
	// ScanTransactions calls fn for every stored transaction document in id
	// order, undecoded. Returning an error from fn stops the scan.
	ScanTransactions(ctx context.Context, fn func(Document) error) error
}

// NotificationStore persists notification records.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n domain.Notification) error
	NotificationExists(ctx context.Context, id string) (bool, error)
}

// UserStore reads users and maintains their device tokens.
type UserStore interface {
	// GetUser returns the user and whether it exists.
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	// UpsertDeviceToken adds token to the user's set and writes its metadata
	// in the same update.
	UpsertDeviceToken(ctx context.Context, userID, token string, md domain.TokenMetadata) error
	// RemoveDeviceTokens removes tokens and their metadata in one update.
	RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) error
}

// Store is the full document store.
type Store interface {
	TransactionStore
	NotificationStore
	UserStore
	Batcher
	Close() error
}
