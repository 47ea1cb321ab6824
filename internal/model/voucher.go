package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VoucherStatus represents the approval lifecycle of a journal voucher.
type VoucherStatus string

const (
	VoucherDraft           VoucherStatus = "draft"
	VoucherPendingApproval VoucherStatus = "pending_approval"
	VoucherApproved        VoucherStatus = "approved"
	VoucherRejected        VoucherStatus = "rejected"
	VoucherPosted          VoucherStatus = "posted"
)

// VoucherEntry is one line of a manual journal voucher.
type VoucherEntry struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Approval records one approver's decision.
type Approval struct {
	Approver string
	At       time.Time
}

// ApprovalWorkflow tracks the ordered approver chain of a voucher.
type ApprovalWorkflow struct {
	RequiredApprovers []string
	CurrentIndex      int
	Approvals         []Approval
	ApprovedAt        time.Time
	RejectedBy        string
	RejectedAt        time.Time
	RejectionReason   string
}

// CurrentApprover returns the approver whose decision is awaited, if any.
func (w ApprovalWorkflow) CurrentApprover() (string, bool) {
	if w.CurrentIndex < len(w.RequiredApprovers) {
		return w.RequiredApprovers[w.CurrentIndex], true
	}
	return "", false
}

// Voucher is a manual multi-line journal posting.
type Voucher struct {
	ID               string
	Number           string
	Date             time.Time
	Description      string
	Reference        string
	Entries          []VoucherEntry
	Status           VoucherStatus
	Workflow         ApprovalWorkflow
	CreatedBy        string
	CreatedAt        time.Time
	PostedBy         string
	PostedAt         time.Time
	TransactionSetID string
	IsClosingEntry   bool
	PeriodID         string
	Version          int64
}

// Totals sums the debit and credit sides of the voucher entries.
func (v Voucher) Totals() (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, e := range v.Entries {
		debits = debits.Add(e.Debit)
		credits = credits.Add(e.Credit)
	}
	return debits, credits
}

// Unposted reports whether the voucher is still waiting to hit the ledger.
func (v Voucher) Unposted() bool {
	switch v.Status {
	case VoucherDraft, VoucherPendingApproval, VoucherApproved:
		return true
	}
	return false
}
