package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Outcome is the result of a manual reconciliation.
type Outcome struct {
	Reconciled  bool
	Discrepancy decimal.Decimal
	Reason      string
}

// LockStatus describes an account's reconciliation state at a point in time.
type LockStatus struct {
	Code      string
	Status    model.ReconciliationStatus
	Holder    string
	LockedAt  time.Time
	ExpiresAt time.Time
	Active    bool
}

// LockForReconciliation takes the account's reconciliation lock for holder.
// A zero ttl selects the default. The lock is compare-and-set on the account
// version; an unexpired lock held by someone else yields ErrAlreadyLocked,
// while the same holder re-locking extends the expiry.
func (s *Service) LockForReconciliation(ctx context.Context, code, holder string, ttl time.Duration) (model.Account, error) {
	if holder == "" {
		return model.Account{}, ledgererr.Invalid("lock holder is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		return model.Account{}, ledgererr.Invalid("lock duration %s exceeds maximum %s", ttl, s.maxTTL)
	}

	var out model.Account
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := resolve(ctx, tx, code)
		if err != nil {
			return err
		}
		now := s.now()
		r := a.Reconciliation
		if r.BlocksActor(holder, now) {
			return &ledgererr.LockedError{Code: a.Code, Holder: r.LockedBy, ExpiresAt: r.LockExpiresAt, Err: ledgererr.ErrAlreadyLocked}
		}
		if !r.Active(now) || r.LockedBy != holder {
			r.LockedAt = now
		}
		r.Status = model.ReconInProgress
		r.LockedBy = holder
		r.LockExpiresAt = now.Add(ttl)
		a.Reconciliation = r
		a.UpdatedAt = now
		out, err = tx.UpdateAccount(ctx, a)
		return err
	})
	if err != nil {
		return model.Account{}, err
	}

	s.log.Info().Str("account", out.Code).Str("holder", holder).
		Time("expires_at", out.Reconciliation.LockExpiresAt).Msg("reconciliation lock acquired")
	s.record(ctx, holder, auditlog.ActionReconLock, out.Code, "ttl="+ttl.String())
	return out, nil
}

// UnlockAfterReconciliation releases holder's lock and records the outcome.
// A discrepancy outcome needs a non-zero amount and a reason.
func (s *Service) UnlockAfterReconciliation(ctx context.Context, code, holder string, out Outcome) (model.Account, error) {
	if !out.Reconciled {
		if out.Discrepancy.IsZero() {
			return model.Account{}, ledgererr.Invalid("a discrepancy outcome needs a non-zero amount")
		}
		if out.Reason == "" {
			return model.Account{}, ledgererr.Invalid("a discrepancy outcome needs a reason")
		}
	}

	var acct model.Account
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := resolve(ctx, tx, code)
		if err != nil {
			return err
		}
		now := s.now()
		r := a.Reconciliation
		if !r.Active(now) || r.LockedBy != holder {
			return &ledgererr.LockedError{Code: a.Code, Holder: r.LockedBy, ExpiresAt: r.LockExpiresAt, Err: ledgererr.ErrNotLockHolder}
		}

		if out.Reconciled {
			r.Status = model.ReconReconciled
			r.ReconciledAt = now
			r.DiscrepancyAmount = decimal.Zero
			r.DiscrepancyReason = ""
		} else {
			r.Status = model.ReconDiscrepancy
			r.DiscrepancyAmount = out.Discrepancy
			r.DiscrepancyReason = out.Reason
		}
		r.LockedBy = ""
		r.LockExpiresAt = time.Time{}
		a.Reconciliation = r
		a.UpdatedAt = now
		acct, err = tx.UpdateAccount(ctx, a)
		return err
	})
	if err != nil {
		return model.Account{}, err
	}

	details := string(acct.Reconciliation.Status)
	if !out.Reconciled {
		details = fmt.Sprintf("%s %s: %s", details, out.Discrepancy.StringFixed(2), out.Reason)
	}
	s.log.Info().Str("account", acct.Code).Str("holder", holder).
		Str("status", string(acct.Reconciliation.Status)).Msg("reconciliation lock released")
	s.record(ctx, holder, auditlog.ActionReconUnlock, acct.Code, details)
	return acct, nil
}

// ReconciliationStatus reports the account's reconciliation state now.
func (s *Service) ReconciliationStatus(ctx context.Context, code string) (LockStatus, error) {
	a, err := s.Resolve(ctx, code)
	if err != nil {
		return LockStatus{}, err
	}
	r := a.Reconciliation
	st := LockStatus{
		Code:      a.Code,
		Status:    r.Status,
		Holder:    r.LockedBy,
		LockedAt:  r.LockedAt,
		ExpiresAt: r.LockExpiresAt,
		Active:    r.Active(s.now()),
	}
	if !st.Active {
		st.Holder = ""
	}
	return st, nil
}
