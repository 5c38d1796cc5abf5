// Package trigger fires jobs once a day at a configured wall-clock time.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/jobs"
)

// ErrInvalidTime is returned for a time of day that is not HH:MM.
var ErrInvalidTime = errors.New("invalid time of day")

// Schedule fires Job daily at At ("HH:MM") in the trigger's location.
type Schedule struct {
	Job jobs.JobType
	At  string
}

// RunFactory creates pending runs.
type RunFactory interface {
	NewRun(job jobs.JobType, trigger jobs.Trigger) (*jobs.Run, error)
}

type entry struct {
	job          jobs.JobType
	hour, minute int
}

// Trigger publishes a scheduled run of each job when its time comes round.
type Trigger struct {
	entries   []entry
	runs      RunFactory
	publisher jobs.Publisher
	clock     clock.Clock
	loc       *time.Location
	log       zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	return hour, minute, nil
}

// NextFire returns the first hour:minute in loc strictly after now.
func NextFire(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// New validates schedules and creates a Trigger.
func New(schedules []Schedule, runs RunFactory, publisher jobs.Publisher, clk clock.Clock, loc *time.Location, log zerolog.Logger) (*Trigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	t := &Trigger{
		runs:      runs,
		publisher: publisher,
		clock:     clk,
		loc:       loc,
		log:       log,
	}
	for _, s := range schedules {
		h, m, err := ParseTimeOfDay(s.At)
		if err != nil {
			return nil, fmt.Errorf("New: schedule for %s: %w", s.Job, err)
		}
		t.entries = append(t.entries, entry{job: s.Job, hour: h, minute: m})
	}
	return t, nil
}

// Start launches one timer loop per schedule. It returns immediately.
func (t *Trigger) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	for _, e := range t.entries {
		t.wg.Add(1)
		go t.loop(ctx, e)
	}
	t.log.Info().Int("schedules", len(t.entries)).Str("timezone", t.loc.String()).Msg("Trigger started")
}

// Stop cancels the timer loops and waits for them to exit.
func (t *Trigger) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Trigger) loop(ctx context.Context, e entry) {
	defer t.wg.Done()

	for {
		now := t.clock.Now()
		next := NextFire(now, e.hour, e.minute, t.loc)
		t.log.Debug().Str("job", string(e.job)).Time("next_fire", next).Msg("Scheduled next run")

		select {
		case <-ctx.Done():
			return
		case <-t.clock.After(next.Sub(now)):
		}

		t.fire(ctx, e.job)
	}
}

func (t *Trigger) fire(ctx context.Context, job jobs.JobType) {
	run, err := t.runs.NewRun(job, jobs.TriggerScheduled)
	if err != nil {
		t.log.Error().Err(err).Str("job", string(job)).Msg("Failed to create scheduled run")
		return
	}
	if err := t.publisher.Publish(ctx, run); err != nil {
		t.log.Error().Err(err).Str("job", string(job)).Str("run_id", run.RunID).Msg("Failed to publish scheduled run")
		return
	}
	t.log.Info().Str("job", string(job)).Str("run_id", run.RunID).Msg("Published scheduled run")
}
