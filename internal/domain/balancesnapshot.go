package domain

import "time"

// BalanceSnapshot is the account balance observed at a point in time.
// Amount is a decimal string so web consumers never see float rounding.
type BalanceSnapshot struct {
	Timestamp time.Time `json:"ts"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Fallback  bool      `json:"fallback,omitempty"`
}

// NewBalanceSnapshot creates a snapshot of b taken at ts.
func NewBalanceSnapshot(ts time.Time, b Balance) BalanceSnapshot {
	return BalanceSnapshot{
		Timestamp: ts.UTC(),
		Amount:    b.Amount.String(),
		Currency:  b.Currency,
		Fallback:  b.Fallback,
	}
}

// BalanceSnapshotRecord bundles a snapshot with its journal index.
type BalanceSnapshotRecord struct {
	Index    uint64          `json:"index"`
	Snapshot BalanceSnapshot `json:"snapshot"`
}
