package jobs

import (
	"context"

	"github.com/rs/zerolog"
)

// LedgerStore is a JobStore that also hands every terminal run to a
// Ledger. Ledger failures are logged and never fail the save.
type LedgerStore struct {
	JobStore
	ledger Ledger
	log    zerolog.Logger
}

// NewLedgerStore wraps inner.
func NewLedgerStore(inner JobStore, ledger Ledger, log zerolog.Logger) *LedgerStore {
	return &LedgerStore{JobStore: inner, ledger: ledger, log: log}
}

// SaveRun implements JobStore.
func (s *LedgerStore) SaveRun(ctx context.Context, run *Run) error {
	if err := s.JobStore.SaveRun(ctx, run); err != nil {
		return err
	}
	if run.Terminal() {
		if err := s.ledger.RecordRun(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to record job run in ledger")
		}
	}
	return nil
}

var _ JobStore = (*LedgerStore)(nil)
