package domain

import (
	"time"
)

// User document field names consumed by the notification subsystem.
const (
	FieldEmail                = "email"
	FieldSettings             = "settings"
	FieldNotificationsEnabled = "notificationsEnabled"
	FieldTokens               = "fcmTokens"
	FieldDeviceMetadata       = "deviceMetadata"

	FieldDeviceName       = "deviceName"
	FieldDeviceType       = "deviceType"
	FieldLastUsed         = "lastUsed"
	FieldInteractionCount = "interactionCount"
)

// TokenMetadata describes the device behind a push token.
type TokenMetadata struct {
	DeviceName       string
	DeviceType       string
	CreatedAt        time.Time
	LastUsed         time.Time
	InteractionCount int
}

// Recency is the timestamp used to rank tokens: LastUsed, or CreatedAt when
// the token was never used.
func (m TokenMetadata) Recency() time.Time {
	if !m.LastUsed.IsZero() {
		return m.LastUsed
	}
	return m.CreatedAt
}

// EncodeTokenMetadata converts m to the nested map stored under
// deviceMetadata.<token>.
func EncodeTokenMetadata(m TokenMetadata) map[string]interface{} {
	return map[string]interface{}{
		FieldDeviceName:       m.DeviceName,
		FieldDeviceType:       m.DeviceType,
		FieldCreatedAt:        m.CreatedAt,
		FieldLastUsed:         m.LastUsed,
		FieldInteractionCount: int64(m.InteractionCount),
	}
}

func decodeTokenMetadata(m map[string]interface{}) TokenMetadata {
	var md TokenMetadata
	md.DeviceName, _ = stringField(m, FieldDeviceName)
	md.DeviceType, _ = stringField(m, FieldDeviceType)
	md.CreatedAt, _ = timeField(m, FieldCreatedAt)
	md.LastUsed, _ = timeField(m, FieldLastUsed)
	md.InteractionCount, _ = intField(m, FieldInteractionCount)
	return md
}

// User is the slice of a user profile the scheduler and dispatcher need.
type User struct {
	ID                   string
	Email                string
	NotificationsEnabled bool
	Language             string
	Tokens               []string
	TokenMetadata        map[string]TokenMetadata
}

// DecodeUser maps a stored user document. Notifications are enabled unless
// settings.notificationsEnabled is explicitly false. The language comes from
// settings.language, then the top-level language field.
func DecodeUser(id string, m map[string]interface{}) (User, error) {
	if id == "" {
		return User{}, invalid("user", id, "empty id")
	}
	u := User{
		ID:                   id,
		NotificationsEnabled: true,
		TokenMetadata:        map[string]TokenMetadata{},
	}
	u.Email, _ = stringField(m, FieldEmail)
	u.Language, _ = stringField(m, FieldLanguage)

	if settings, ok := mapField(m, FieldSettings); ok {
		if enabled, present := boolField(settings, FieldNotificationsEnabled); present && !enabled {
			u.NotificationsEnabled = false
		}
		if lang, ok := stringField(settings, FieldLanguage); ok && lang != "" {
			u.Language = lang
		}
	}

	seen := make(map[string]bool)
	for _, token := range stringSliceField(m, FieldTokens) {
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		u.Tokens = append(u.Tokens, token)
	}

	if meta, ok := mapField(m, FieldDeviceMetadata); ok {
		for token, raw := range meta {
			if entry, ok := raw.(map[string]interface{}); ok {
				u.TokenMetadata[token] = decodeTokenMetadata(entry)
			}
		}
	}

	return u, nil
}
