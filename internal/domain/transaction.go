package domain

import (
	"time"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusDraft    TransactionStatus = "draft"
	StatusUpcoming TransactionStatus = "upcoming"
	StatusOverdue  TransactionStatus = "overdue"
	StatusPaid     TransactionStatus = "paid"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusUpcoming, StatusOverdue, StatusPaid:
		return true
	}
	return false
}

// TransactionType distinguishes money in from money out.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// Transaction document field names.
const (
	FieldAmount          = "amount"
	FieldDescription     = "description"
	FieldDate            = "date"
	FieldType            = "type"
	FieldCategoryID      = "categoryId"
	FieldUserID          = "userId"
	FieldGroupID         = "groupId"
	FieldShoppingListID  = "shoppingListId"
	FieldStatus          = "status"
	FieldIsRecurring     = "isRecurring"
	FieldRecurringDate   = "recurringDate"
	FieldRecurringRuleID = "recurringRuleId"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
)

// Transaction is an income or expense record. Records with IsRecurring set
// are recurring rules; see RecurringRule.
type Transaction struct {
	ID             string
	Amount         float64
	Description    string
	Date           time.Time
	Type           TransactionType
	CategoryID     string
	UserID         string
	GroupID        string
	ShoppingListID string
	Status         TransactionStatus
	IsRecurring    bool
	// RecurringDate is the day of month (1-31) a rule fires on; 0 when unset.
	RecurringDate int
	// RecurringRuleID links a generated occurrence to the rule it came from.
	RecurringRuleID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EncodeTransaction converts tx to document fields. The ID is not part of
// the document body.
func EncodeTransaction(tx Transaction) map[string]interface{} {
	m := map[string]interface{}{
		FieldAmount:      tx.Amount,
		FieldDescription: tx.Description,
		FieldDate:        tx.Date,
		FieldType:        string(tx.Type),
		FieldCategoryID:  tx.CategoryID,
		FieldUserID:      tx.UserID,
		FieldStatus:      string(tx.Status),
		FieldIsRecurring: tx.IsRecurring,
		FieldCreatedAt:   tx.CreatedAt,
		FieldUpdatedAt:   tx.UpdatedAt,
	}
	if tx.GroupID != "" {
		m[FieldGroupID] = tx.GroupID
	}
	if tx.ShoppingListID != "" {
		m[FieldShoppingListID] = tx.ShoppingListID
	}
	if tx.RecurringDate > 0 {
		m[FieldRecurringDate] = int64(tx.RecurringDate)
	}
	if tx.RecurringRuleID != "" {
		m[FieldRecurringRuleID] = tx.RecurringRuleID
	}
	return m
}

// DecodeTransaction validates a stored document and maps it to a
// Transaction. A missing status decodes as paid and a missing isRecurring
// as false, matching the backfill defaults.
func DecodeTransaction(id string, m map[string]interface{}) (Transaction, error) {
	tx := Transaction{ID: id}

	userID, ok := stringField(m, FieldUserID)
	if !ok || userID == "" {
		return Transaction{}, invalid("transaction", id, "missing %s", FieldUserID)
	}
	tx.UserID = userID

	date, ok := timeField(m, FieldDate)
	if !ok {
		return Transaction{}, invalid("transaction", id, "missing or malformed %s", FieldDate)
	}
	tx.Date = date

	tx.Status = StatusPaid
	if s, present := stringField(m, FieldStatus); present {
		tx.Status = TransactionStatus(s)
		if !tx.Status.Valid() {
			return Transaction{}, invalid("transaction", id, "unknown status %q", s)
		}
	}

	if t, present := stringField(m, FieldType); present {
		tx.Type = TransactionType(t)
		if tx.Type != TypeIncome && tx.Type != TypeExpense {
			return Transaction{}, invalid("transaction", id, "unknown type %q", t)
		}
	}

	tx.Amount, _ = floatField(m, FieldAmount)
	tx.Description, _ = stringField(m, FieldDescription)
	tx.CategoryID, _ = stringField(m, FieldCategoryID)
	tx.GroupID, _ = stringField(m, FieldGroupID)
	tx.ShoppingListID, _ = stringField(m, FieldShoppingListID)
	tx.IsRecurring, _ = boolField(m, FieldIsRecurring)
	tx.RecurringRuleID, _ = stringField(m, FieldRecurringRuleID)
	if day, ok := intField(m, FieldRecurringDate); ok {
		if day < 1 || day > 31 {
			return Transaction{}, invalid("transaction", id, "recurringDate %d out of range", day)
		}
		tx.RecurringDate = day
	}
	tx.CreatedAt, _ = timeField(m, FieldCreatedAt)
	tx.UpdatedAt, _ = timeField(m, FieldUpdatedAt)

	return tx, nil
}
