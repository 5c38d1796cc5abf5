// Package i18n looks up localized notification titles and messages.
package i18n

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/gcs"
	"github.com/dvloznov/budget-tracker/internal/store"
)

// DefaultLanguage is used when a user's language cannot be resolved.
const DefaultLanguage = "en"

// Catalog keys.
const (
	KeyTransactionOverdue     = "transaction_overdue"
	KeyTransactionDueToday    = "transaction_due_today"
	KeyTransactionDueTomorrow = "transaction_due_tomorrow"
	KeyRecurringCreated       = "recurring_transaction_created"
	KeyTestNotification       = "test_notification"
)

//go:embed catalog.json
var embeddedCatalog []byte

// Entry is one translated title/message pair.
type Entry struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Bundle maps language → key → entry.
type Bundle map[string]map[string]Entry

// Translator resolves catalog entries and user languages.
type Translator interface {
	Title(key, lang string) string
	Message(key, lang string, params map[string]string) string
	UserLanguage(ctx context.Context, userID string) string
}

// Catalog is a Translator backed by an in-memory bundle.
type Catalog struct {
	mu       sync.RWMutex
	bundle   Bundle
	fallback string
	users    store.UserStore
	log      zerolog.Logger
}

// ParseBundle decodes a JSON bundle.
func ParseBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("ParseBundle: %w", err)
	}
	return b, nil
}

// New creates a Catalog from the embedded bundle. users may be nil, in
// which case UserLanguage always returns the fallback.
func New(fallback string, users store.UserStore, log zerolog.Logger) (*Catalog, error) {
	b, err := ParseBundle(embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("New: embedded catalog: %w", err)
	}
	if fallback == "" {
		fallback = DefaultLanguage
	}
	return &Catalog{bundle: b, fallback: fallback, users: users, log: log}, nil
}

// Merge overlays b onto the catalog. Entries in b replace existing ones.
func (c *Catalog) Merge(b Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for lang, entries := range b {
		lang = normalize(lang)
		if c.bundle[lang] == nil {
			c.bundle[lang] = map[string]Entry{}
		}
		for key, e := range entries {
			c.bundle[lang][key] = e
		}
	}
}

// LoadOverride reads a bundle from a local path or a gs:// URI and merges
// it into the catalog.
func (c *Catalog) LoadOverride(ctx context.Context, uri string, storage gcs.StorageService) error {
	var (
		data []byte
		err  error
	)
	if gcs.IsURI(uri) {
		if storage == nil {
			return fmt.Errorf("LoadOverride: no storage service for %s", uri)
		}
		data, err = storage.Fetch(ctx, uri)
	} else {
		data, err = os.ReadFile(uri)
	}
	if err != nil {
		return fmt.Errorf("LoadOverride: reading %s: %w", uri, err)
	}

	b, err := ParseBundle(data)
	if err != nil {
		return fmt.Errorf("LoadOverride: %w", err)
	}
	c.Merge(b)
	c.log.Info().Str("uri", uri).Int("languages", len(b)).Msg("Translation bundle loaded")
	return nil
}

// lookup resolves key for lang, then its base language, then the fallback.
func (c *Catalog) lookup(key, lang string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lang = normalize(lang)
	candidates := []string{lang}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		candidates = append(candidates, lang[:i])
	}
	candidates = append(candidates, c.fallback)

	for _, l := range candidates {
		if e, ok := c.bundle[l][key]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Title returns the localized title for key, or key itself when unknown.
func (c *Catalog) Title(key, lang string) string {
	e, ok := c.lookup(key, lang)
	if !ok || e.Title == "" {
		return key
	}
	return e.Title
}

// Message returns the localized message for key with every {param}
// placeholder replaced. Placeholders without a value are left as is.
func (c *Catalog) Message(key, lang string, params map[string]string) string {
	e, ok := c.lookup(key, lang)
	if !ok || e.Message == "" {
		return key
	}
	return Format(e.Message, params)
}

// UserLanguage returns the user's preferred language, or the fallback when
// the user is missing, has no preference, or cannot be read.
func (c *Catalog) UserLanguage(ctx context.Context, userID string) string {
	if c.users == nil {
		return c.fallback
	}
	u, found, err := c.users.GetUser(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to resolve user language, using fallback")
		return c.fallback
	}
	if !found || u.Language == "" {
		return c.fallback
	}
	return normalize(u.Language)
}

// Format substitutes {name} placeholders in s.
func Format(s string, params map[string]string) string {
	if len(params) == 0 {
		return s
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func normalize(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// Ensure Catalog implements Translator.
var _ Translator = (*Catalog)(nil)
