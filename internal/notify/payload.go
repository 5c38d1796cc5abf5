package notify

import (
	"strconv"
	"time"

	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/timeutil"
)

// Payload keys.
const (
	DataTransactionID   = "transactionId"
	DataAmount          = "amount"
	DataDescription     = "description"
	DataDate            = "date"
	DataGroupID         = "groupId"
	DataRecurringRuleID = "recurringRuleId"
	DataType            = "type"
)

// FormatAmount renders an amount with two decimals.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// TransactionPayload builds the data payload shared by a transaction's
// notification record and its push. groupId is only present when set.
func TransactionPayload(tx domain.Transaction, loc *time.Location) map[string]string {
	data := map[string]string{
		DataTransactionID: tx.ID,
		DataAmount:        FormatAmount(tx.Amount),
		DataDescription:   tx.Description,
		DataDate:          timeutil.DayKey(timeutil.DateOf(tx.Date, loc)),
	}
	if tx.GroupID != "" {
		data[DataGroupID] = tx.GroupID
	}
	return data
}

// MessageParams are the translation parameters for a transaction.
func MessageParams(data map[string]string) map[string]string {
	return map[string]string{
		"description": data[DataDescription],
		"amount":      data[DataAmount],
		"date":        data[DataDate],
	}
}
