package domain

import (
	"fmt"
	"time"
)

// RecurringRule describes a transaction that repeats monthly. Rules are
// stored as transactions with isRecurring set; every occurrence generated
// from a rule is a separate Transaction carrying RecurringRuleID.
type RecurringRule struct {
	ID         string
	UserID     string
	DayOfMonth int
	Template   Transaction
}

// RuleFromTransaction builds a rule from its stored template record.
func RuleFromTransaction(tx Transaction) (RecurringRule, error) {
	if !tx.IsRecurring {
		return RecurringRule{}, invalid("recurring rule", tx.ID, "transaction is not recurring")
	}
	day := tx.RecurringDate
	if day == 0 {
		day = 1
	}
	return RecurringRule{
		ID:         tx.ID,
		UserID:     tx.UserID,
		DayOfMonth: day,
		Template:   tx,
	}, nil
}

// OccurrenceID is the deterministic id of the occurrence a rule produces for
// a given month. Reruns within the same month map to the same document.
func OccurrenceID(ruleID string, year int, month time.Month) string {
	return fmt.Sprintf("%s-%04d-%02d", ruleID, year, int(month))
}

// Occurrence materializes the rule on date. The result is an upcoming,
// non-recurring transaction linked back to the rule.
func (r RecurringRule) Occurrence(date, now time.Time) Transaction {
	t := r.Template
	return Transaction{
		ID:              OccurrenceID(r.ID, date.Year(), date.Month()),
		Amount:          t.Amount,
		Description:     t.Description,
		Date:            date,
		Type:            t.Type,
		CategoryID:      t.CategoryID,
		UserID:          t.UserID,
		GroupID:         t.GroupID,
		ShoppingListID:  t.ShoppingListID,
		Status:          StatusUpcoming,
		IsRecurring:     false,
		RecurringRuleID: r.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
