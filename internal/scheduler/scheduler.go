// Package scheduler implements the daily transaction status job: upcoming
// transactions dated before today become overdue, and those due today or
// tomorrow get a reminder.
package scheduler

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

// Store is the part of the document store the scheduler needs.
type Store interface {
	store.Batcher
	UpcomingBefore(ctx context.Context, t time.Time) (store.Decoded[domain.Transaction], error)
	UpcomingBetween(ctx context.Context, from, to time.Time) (store.Decoded[domain.Transaction], error)
	NotificationExists(ctx context.Context, id string) (bool, error)
}

// OverdueNotificationID is the id of the overdue notice for a transaction.
func OverdueNotificationID(txID string) string {
	return "overdue-" + txID
}

// ReminderNotificationID is the id of the reminder sent for a transaction
// on a given day.
func ReminderNotificationID(txID string, day civil.Date) string {
	return fmt.Sprintf("reminder-%s-%s", txID, timeutil.DayKey(day))
}

// Scheduler is the transaction status job.
type Scheduler struct {
	store      Store
	translator i18n.Translator
	pushes     notify.Launcher
	clock      clock.Clock
	loc        *time.Location
}

// New creates a Scheduler evaluating days in loc.
func New(s Store, translator i18n.Translator, pushes notify.Launcher, clk clock.Clock, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:      s,
		translator: translator,
		pushes:     pushes,
		clock:      clk,
		loc:        loc,
	}
}

// work is what processing one candidate produced.
type work struct {
	ops  []store.Op
	push *notify.Push
	// skipped is set when the candidate was already handled.
	skipped bool
}

// Run implements jobs.Task. Records that fail to decode or process are
// counted and logged; query and commit failures abort the run. A record's
// writes always share one batch, and its push starts once that batch has
// committed.
func (s *Scheduler) Run(ctx context.Context) (jobs.Result, error) {
	log := logger.FromContext(ctx)
	var res jobs.Result

	now := s.clock.Now()
	today := timeutil.DateOf(now, s.loc)
	startOfToday := timeutil.StartOfDay(today, s.loc)
	endOfTomorrow := timeutil.EndOfDay(today.AddDays(1), s.loc)

	w := batch.NewWriter(s.store)

	sweep := func(name string, candidates store.Decoded[domain.Transaction], process func(domain.Transaction) (work, error)) error {
		res.Candidates += len(candidates.Records) + len(candidates.Rejected)
		for _, err := range candidates.Rejected {
			res.Failed++
			log.Warn().Err(err).Str("sweep", name).Msg("Skipping malformed transaction")
		}

		for _, tx := range candidates.Records {
			var out work
			err := jobs.Guard(func() error {
				var err error
				out, err = process(tx)
				return err
			})
			if err != nil {
				res.Failed++
				log.Error().Err(err).Str("sweep", name).Str("transaction_id", tx.ID).Msg("Failed to process transaction")
				continue
			}

			var onCommit func()
			if out.push != nil {
				p := *out.push
				onCommit = func() {
					s.pushes.Go(ctx, p)
					res.Pushes++
				}
			}
			if err := w.EnqueueGroup(ctx, out.ops, onCommit); err != nil {
				return err
			}
			if out.skipped {
				res.Skipped++
			} else {
				res.Processed++
			}
		}
		return nil
	}

	overdue, err := s.store.UpcomingBefore(ctx, startOfToday)
	if err != nil {
		return res, fmt.Errorf("Run: querying overdue transactions: %w", err)
	}
	if err := sweep("overdue", overdue, func(tx domain.Transaction) (work, error) {
		return s.overdue(ctx, tx, now)
	}); err != nil {
		res.Ops, res.Commits = w.Stats().Ops, w.Stats().Commits
		return res, fmt.Errorf("Run: overdue sweep: %w", err)
	}

	reminders, err := s.store.UpcomingBetween(ctx, startOfToday, endOfTomorrow)
	if err != nil {
		res.Ops, res.Commits = w.Stats().Ops, w.Stats().Commits
		return res, fmt.Errorf("Run: querying reminder candidates: %w", err)
	}
	if err := sweep("reminder", reminders, func(tx domain.Transaction) (work, error) {
		return s.reminder(ctx, tx, today, now)
	}); err != nil {
		res.Ops, res.Commits = w.Stats().Ops, w.Stats().Commits
		return res, fmt.Errorf("Run: reminder sweep: %w", err)
	}

	err = w.Commit(ctx)
	res.Ops, res.Commits = w.Stats().Ops, w.Stats().Commits
	if err != nil {
		return res, fmt.Errorf("Run: %w", err)
	}

	return res, nil
}

// overdue marks tx overdue and prepares its overdue notice. When the notice
// already exists only the status update is queued.
func (s *Scheduler) overdue(ctx context.Context, tx domain.Transaction, now time.Time) (work, error) {
	update := store.UpdateOp(store.CollectionTransactions, tx.ID, map[string]interface{}{
		domain.FieldStatus:    string(domain.StatusOverdue),
		domain.FieldUpdatedAt: now,
	})

	id := OverdueNotificationID(tx.ID)
	exists, err := s.store.NotificationExists(ctx, id)
	if err != nil {
		return work{}, fmt.Errorf("overdue: checking notification %s: %w", id, err)
	}
	if exists {
		return work{ops: []store.Op{update}, skipped: true}, nil
	}

	n, p := s.notification(ctx, id, tx, domain.NotificationTransactionOverdue, i18n.KeyTransactionOverdue, now)
	return work{
		ops:  []store.Op{update, store.SetOp(store.CollectionNotifications, n.ID, domain.EncodeNotification(n))},
		push: p,
	}, nil
}

// reminder prepares today's reminder for tx, flavoured by whether it is due
// today or tomorrow.
func (s *Scheduler) reminder(ctx context.Context, tx domain.Transaction, today civil.Date, now time.Time) (work, error) {
	id := ReminderNotificationID(tx.ID, today)
	exists, err := s.store.NotificationExists(ctx, id)
	if err != nil {
		return work{}, fmt.Errorf("reminder: checking notification %s: %w", id, err)
	}
	if exists {
		return work{skipped: true}, nil
	}

	key := i18n.KeyTransactionDueTomorrow
	if timeutil.DateOf(tx.Date, s.loc) == today {
		key = i18n.KeyTransactionDueToday
	}

	n, p := s.notification(ctx, id, tx, domain.NotificationTransactionReminder, key, now)
	return work{
		ops:  []store.Op{store.SetOp(store.CollectionNotifications, n.ID, domain.EncodeNotification(n))},
		push: p,
	}, nil
}

// notification builds a localized notification for tx and the push that
// mirrors it.
func (s *Scheduler) notification(ctx context.Context, id string, tx domain.Transaction, typ domain.NotificationType, key string, now time.Time) (domain.Notification, *notify.Push) {
	lang := s.translator.UserLanguage(ctx, tx.UserID)
	data := notify.TransactionPayload(tx, s.loc)
	params := notify.MessageParams(data)

	n := domain.Notification{
		ID:        id,
		UserID:    tx.UserID,
		Title:     s.translator.Title(key, lang),
		Body:      s.translator.Message(key, lang, params),
		Type:      typ,
		CreatedAt: now,
		Data:      data,
		Language:  lang,
	}

	pushData := make(map[string]string, len(data)+1)
	for k, v := range data {
		pushData[k] = v
	}
	pushData[notify.DataType] = string(typ)

	return n, &notify.Push{
		UserID:  tx.UserID,
		Content: notify.Content{Title: n.Title, Body: n.Body},
		Data:    pushData,
	}
}

// Ensure Scheduler implements jobs.Task.
var _ jobs.Task = (*Scheduler)(nil)

