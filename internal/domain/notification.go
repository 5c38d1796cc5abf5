package domain

import (
	"time"
)

// NotificationType tags a notification with what it is about.
type NotificationType string

const (
	NotificationTransactionUpcoming NotificationType = "transaction_upcoming"
	NotificationTransactionOverdue  NotificationType = "transaction_overdue"
	NotificationTransactionReminder NotificationType = "transaction_reminder"
	NotificationGroupInvitation     NotificationType = "group_invitation"
	NotificationShoppingListShared  NotificationType = "shopping_list_shared"
	NotificationSystem              NotificationType = "system"
)

// Valid reports whether t belongs to the notification vocabulary.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTransactionUpcoming, NotificationTransactionOverdue,
		NotificationTransactionReminder, NotificationGroupInvitation,
		NotificationShoppingListShared, NotificationSystem:
		return true
	}
	return false
}

// Notification document field names.
const (
	FieldTitle    = "title"
	FieldBody     = "body"
	FieldRead     = "read"
	FieldData     = "data"
	FieldLanguage = "language"
)

// Notification is an in-app notification record. Only Read ever changes
// after creation.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Type      NotificationType
	Read      bool
	CreatedAt time.Time
	Data      map[string]string
	Language  string
}

// EncodeNotification converts n to document fields.
func EncodeNotification(n Notification) map[string]interface{} {
	m := map[string]interface{}{
		FieldUserID:    n.UserID,
		FieldTitle:     n.Title,
		FieldBody:      n.Body,
		FieldType:      string(n.Type),
		FieldRead:      n.Read,
		FieldCreatedAt: n.CreatedAt,
	}
	if len(n.Data) > 0 {
		data := make(map[string]interface{}, len(n.Data))
		for k, v := range n.Data {
			data[k] = v
		}
		m[FieldData] = data
	}
	if n.Language != "" {
		m[FieldLanguage] = n.Language
	}
	return m
}

// DecodeNotification validates a stored notification document.
func DecodeNotification(id string, m map[string]interface{}) (Notification, error) {
	n := Notification{ID: id}

	userID, ok := stringField(m, FieldUserID)
	if !ok || userID == "" {
		return Notification{}, invalid("notification", id, "missing %s", FieldUserID)
	}
	n.UserID = userID

	t, _ := stringField(m, FieldType)
	n.Type = NotificationType(t)
	if !n.Type.Valid() {
		return Notification{}, invalid("notification", id, "unknown type %q", t)
	}

	n.Title, _ = stringField(m, FieldTitle)
	n.Body, _ = stringField(m, FieldBody)
	n.Read, _ = boolField(m, FieldRead)
	n.CreatedAt, _ = timeField(m, FieldCreatedAt)
	n.Data = stringMapField(m, FieldData)
	n.Language, _ = stringField(m, FieldLanguage)

	return n, nil
}
