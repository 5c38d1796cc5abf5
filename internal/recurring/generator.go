// Package recurring materializes the next occurrence of every recurring
// transaction rule.
package recurring

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/juju/clock"

	"github.com/dvloznov/budget-tracker/internal/batch"
	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/i18n"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/logger"
	"github.com/dvloznov/budget-tracker/internal/notify"
	"github.com/dvloznov/budget-tracker/internal/store"
	"github.com/dvloznov/budget-tracker/internal/timeutil"
)

// Store is the part of the document store the generator needs.
type Store interface {
	store.Batcher
	RecurringRules(ctx context.Context) (store.Decoded[domain.RecurringRule], error)
	TransactionExists(ctx context.Context, id string) (bool, error)
}

// NotificationID is the id of the notice announcing an occurrence.
func NotificationID(occurrenceID string) string {
	return "upcoming-" + occurrenceID
}

// NextOccurrence returns the date the rule fires next, as seen from today:
// day of the current month, or of the next month when that day has
// already passed. Days beyond a month's end are clamped to its last day.
func NextOccurrence(today civil.Date, day int) civil.Date {
	candidate := timeutil.MonthDay(today.Year, today.Month, day)
	if candidate.Before(today) {
		year, month := timeutil.NextMonth(today.Year, today.Month)
		candidate = timeutil.MonthDay(year, month, day)
	}
	return candidate
}

// Generator is the recurring transaction job.
type Generator struct {
	store      Store
	translator i18n.Translator
	pushes     notify.Launcher
	clock      clock.Clock
	loc        *time.Location
}

// New creates a Generator evaluating days in loc.
func New(s Store, translator i18n.Translator, pushes notify.Launcher, clk clock.Clock, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		store:      s,
		translator: translator,
		pushes:     pushes,
		clock:      clk,
		loc:        loc,
	}
}

// Run implements jobs.Task. Each rule yields at most one occurrence per
// month; a rule whose occurrence already exists is skipped. The occurrence
// and its notification are committed together, and the push starts after
// that commit.
func (g *Generator) Run(ctx context.Context) (jobs.Result, error) {
	log := logger.FromContext(ctx)
	var res jobs.Result

	rules, err := g.store.RecurringRules(ctx)
	if err != nil {
		return res, fmt.Errorf("Run: querying recurring rules: %w", err)
	}

	res.Candidates = len(rules.Records) + len(rules.Rejected)
	for _, err := range rules.Rejected {
		res.Failed++
		log.Warn().Err(err).Msg("Skipping malformed recurring rule")
	}

	now := g.clock.Now()
	today := timeutil.DateOf(now, g.loc)
	w := batch.NewWriter(g.store)

	for _, rule := range rules.Records {
		var (
			ops     []store.Op
			p       *notify.Push
			skipped bool
		)
		err := jobs.Guard(func() error {
			var err error
			ops, p, skipped, err = g.generate(ctx, rule, today, now)
			return err
		})
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to generate occurrence")
			continue
		}
		if skipped {
			res.Skipped++
			continue
		}

		push := *p
		err = w.EnqueueGroup(ctx, ops, func() {
			g.pushes.Go(ctx, push)
			res.Pushes++
		})
		if err != nil {
			res.Ops, res.Commits = w.Stats().Ops, w.Stats().Commits
			return res, fmt.Errorf("Run: %w", err)
		}
		res.Processed++
	}

	err = w.Commit(ctx)
	res.Ops, res.Commits = w.Stats().Ops, w.Stats().Commits
	if err != nil {
		return res, fmt.Errorf("Run: %w", err)
	}

	return res, nil
}

// generate builds the writes for rule's next occurrence and the push that
// announces it.
func (g *Generator) generate(ctx context.Context, rule domain.RecurringRule, today civil.Date, now time.Time) ([]store.Op, *notify.Push, bool, error) {
	date := NextOccurrence(today, rule.DayOfMonth)
	occ := rule.Occurrence(timeutil.StartOfDay(date, g.loc), now)

	exists, err := g.store.TransactionExists(ctx, occ.ID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("generate: checking occurrence %s: %w", occ.ID, err)
	}
	if exists {
		return nil, nil, true, nil
	}

	lang := g.translator.UserLanguage(ctx, occ.UserID)
	data := notify.TransactionPayload(occ, g.loc)
	data[notify.DataRecurringRuleID] = rule.ID
	params := notify.MessageParams(data)

	n := domain.Notification{
		ID:        NotificationID(occ.ID),
		UserID:    occ.UserID,
		Title:     g.translator.Title(i18n.KeyRecurringCreated, lang),
		Body:      g.translator.Message(i18n.KeyRecurringCreated, lang, params),
		Type:      domain.NotificationTransactionUpcoming,
		CreatedAt: now,
		Data:      data,
		Language:  lang,
	}

	pushData := make(map[string]string, len(data)+1)
	for k, v := range data {
		pushData[k] = v
	}
	pushData[notify.DataType] = string(n.Type)

	ops := []store.Op{
		store.CreateOp(store.CollectionTransactions, occ.ID, domain.EncodeTransaction(occ)),
		store.SetOp(store.CollectionNotifications, n.ID, domain.EncodeNotification(n)),
	}
	p := &notify.Push{
		UserID:  occ.UserID,
		Content: notify.Content{Title: n.Title, Body: n.Body},
		Data:    pushData,
	}
	return ops, p, false, nil
}

// Ensure Generator implements jobs.Task.
var _ jobs.Task = (*Generator)(nil)
