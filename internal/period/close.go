package period

import (
	"context"
	"fmt"
	"slices"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/closing"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

var unpostedStatuses = []model.VoucherStatus{model.VoucherDraft, model.VoucherPendingApproval, model.VoucherApproved}

// Close runs the period close:
//
//  1. open → closing, which stops new postings into the period;
//  2. refuse while vouchers or external documents in the range are unposted;
//  3. validate the trial balance at the period end;
//  4. in one transaction: post closing entries when the period type calls
//     for them, re-validate the trial balance, and mark the period closed
//     with its statistics.
//
// Any failure after step 1 returns the period to open; closing entries
// roll back with the failed transaction.
func (s *Service) Close(ctx context.Context, periodID, actor, notes string) (model.Period, error) {
	p, err := s.transition(ctx, periodID, func(p *model.Period) error {
		if p.Status != model.PeriodOpen {
			return invalidMove(*p, model.PeriodClosing)
		}
		p.Status = model.PeriodClosing
		return nil
	})
	if err != nil {
		return model.Period{}, err
	}
	s.log.Info().Str("period", p.Name).Str("actor", actor).Msg("closing period")

	closed, err := s.finishClose(ctx, p, actor, notes)
	if err != nil {
		s.revert(ctx, p, err)
		return model.Period{}, err
	}

	s.log.Info().
		Str("period", closed.Name).
		Int("transactions", closed.Stats.TransactionCount).
		Str("debits", closed.Stats.TotalDebits.StringFixed(2)).
		Msg("period closed")
	s.record(ctx, actor, auditlog.ActionPeriodClose, closed, notes)
	return closed, nil
}

func (s *Service) finishClose(ctx context.Context, p model.Period, actor, notes string) (model.Period, error) {
	n, err := s.countUnposted(ctx, p)
	if err != nil {
		return model.Period{}, err
	}
	if n > 0 {
		return model.Period{}, &ledgererr.UnpostedError{Period: p.Name, Count: n}
	}

	if _, err := s.trial.Validate(ctx, p.End); err != nil {
		return model.Period{}, fmt.Errorf("closing %s: %w", p.Name, err)
	}

	generate := s.closer != nil && slices.Contains(s.closingFor, p.Type)
	var targets closing.Targets
	if generate {
		if targets, err = s.closer.Targets(ctx); err != nil {
			return model.Period{}, fmt.Errorf("closing entries for %s: %w", p.Name, err)
		}
	}

	var (
		out model.Period
		res closing.Result
		set *model.TransactionSet
	)
	err = store.RunInTx(ctx, s.store, s.retry, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetPeriod(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.Status != model.PeriodClosing {
			return invalidMove(cur, model.PeriodClosed)
		}
		res, set = closing.Result{}, nil
		if generate {
			if res, set, err = s.closer.GenerateTx(ctx, tx, cur, targets, actor); err != nil {
				return fmt.Errorf("closing entries for %s: %w", cur.Name, err)
			}
		}
		if _, err := s.trial.ValidateTx(ctx, tx, cur.End); err != nil {
			return fmt.Errorf("closing %s: %w", cur.Name, err)
		}
		stats, err := periodStats(ctx, tx, cur)
		if err != nil {
			return err
		}
		cur.Status = model.PeriodClosed
		cur.ClosedBy = actor
		cur.ClosedAt = s.now()
		cur.ClosingNote = notes
		cur.Stats = stats
		out, err = tx.UpdatePeriod(ctx, cur)
		return err
	})
	if err != nil {
		return model.Period{}, err
	}
	if generate {
		s.closer.Committed(ctx, res, set, actor)
		s.log.Info().Str("period", p.Name).Str("result", res.Message).Msg("closing entries")
	}
	return out, nil
}

func (s *Service) countUnposted(ctx context.Context, p model.Period) (int, error) {
	vs, err := s.listVouchers(ctx, store.VoucherFilter{From: p.Start, To: p.End, Statuses: unpostedStatuses})
	if err != nil {
		return 0, err
	}
	n := len(vs)
	if s.pending != nil {
		ext, err := s.pending.CountUnposted(ctx, p.Start, p.End)
		if err != nil {
			return 0, fmt.Errorf("counting unposted documents: %w", err)
		}
		n += ext
	}
	return n, nil
}

func (s *Service) listVouchers(ctx context.Context, f store.VoucherFilter) ([]model.Voucher, error) {
	var out []model.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListVouchers(ctx, f)
		return err
	})
	return out, err
}

func periodStats(ctx context.Context, tx store.Tx, p model.Period) (model.PeriodStats, error) {
	sets, err := tx.ListSets(ctx, store.SetFilter{From: p.Start, To: p.End})
	if err != nil {
		return model.PeriodStats{}, err
	}
	lines, err := tx.ListLines(ctx, store.LineFilter{From: p.Start, To: p.End, Status: model.LineCompleted})
	if err != nil {
		return model.PeriodStats{}, err
	}
	debits, credits := model.SumLines(lines)
	return model.PeriodStats{TransactionCount: len(sets), TotalDebits: debits, TotalCredits: credits}, nil
}

// revert returns a period stuck in closing to open after a failed close.
func (s *Service) revert(ctx context.Context, p model.Period, cause error) {
	_, err := s.transition(ctx, p.ID, func(p *model.Period) error {
		if p.Status != model.PeriodClosing {
			return invalidMove(*p, model.PeriodOpen)
		}
		p.Status = model.PeriodOpen
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("period", p.Name).Msg("could not reopen period after failed close")
		return
	}
	s.log.Warn().Err(cause).Str("period", p.Name).Msg("period close failed, period reopened")
}

// ClosingEntries returns the closing voucher posted for the period, or nil.
func (s *Service) ClosingEntries(ctx context.Context, periodID string) (*model.Voucher, error) {
	vs, err := s.listVouchers(ctx, store.VoucherFilter{PeriodID: periodID, ClosingOnly: true})
	if err != nil || len(vs) == 0 {
		return nil, err
	}
	return &vs[0], nil
}
