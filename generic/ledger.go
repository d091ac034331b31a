/*
ledger.go - Append-only log of volume transfers

PURPOSE:
  The Ledger records every movement of volume made during an allocation
  pass. Each entry says how much moved, where it came from (a submission
  line, or a due return's assumed liability) and where it landed (a charge
  element under a charge reference). Allocated quantities on the model are
  running totals; the ledger is the trail that explains them.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. POSITIVE: Every entry moves a strictly positive amount
  3. ORDERED: Sequence numbers increase in append order

CONSERVATION CHECK:
  For line transfers, the amount recorded against a source equals the drop
  in that line's unallocated volume. Tests replay the ledger to prove it:

    taken := ledger.TotalFromSource(line.ID)
    taken == line.Quantity - line.Unallocated

SEE ALSO:
  - twopart/allocate.go: Appends a Transfer for every allocation
  - store/sqlite/sqlite.go: Persists transfers with the review results
*/
package generic

import "errors"

// TransferKind says what backs the volume being moved.
type TransferKind string

const (
	TransferLine     TransferKind = "line"     // Submitted return line volume
	TransferDue      TransferKind = "due"      // Assumed volume for an unsubmitted return
	TransferFallback TransferKind = "fallback" // Authorised volume with no return behind it
)

// Transfer is one immutable ledger entry.
type Transfer struct {
	Sequence  int
	Kind      TransferKind
	SourceID  string // line id, or return id for due transfers
	CarrierID string // return id the volume is credited to
	TargetID  string // charge element id
	PoolID    string // charge reference id
	Amount    Amount
}

// ErrNonPositiveTransfer is returned when appending a zero or negative amount.
var ErrNonPositiveTransfer = errors.New("transfer amount must be positive")

// =============================================================================
// LEDGER - Append-only transfer log
// =============================================================================

// Ledger is the source of truth for volume movements within a pass.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, transfers cannot be modified.
type Ledger interface {
	// Append adds a transfer and returns it with its sequence set.
	Append(t Transfer) (Transfer, error)

	// Transfers returns all transfers in append order. Read-only.
	Transfers() []Transfer
}

// MemoryLedger keeps transfers in a slice. It is owned by a single licence
// pass and is not safe for concurrent use.
type MemoryLedger struct {
	entries []Transfer
}

func NewLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(t Transfer) (Transfer, error) {
	if !t.Amount.IsPositive() {
		return Transfer{}, ErrNonPositiveTransfer
	}
	t.Sequence = len(l.entries) + 1
	l.entries = append(l.entries, t)
	return t, nil
}

func (l *MemoryLedger) Transfers() []Transfer {
	out := make([]Transfer, len(l.entries))
	copy(out, l.entries)
	return out
}

// TotalFromSource sums everything taken from a source.
func (l *MemoryLedger) TotalFromSource(sourceID string) Amount {
	total := ZeroMegalitres()
	for _, t := range l.entries {
		if t.SourceID == sourceID {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// TotalToTarget sums everything credited to a target.
func (l *MemoryLedger) TotalToTarget(targetID string) Amount {
	total := ZeroMegalitres()
	for _, t := range l.entries {
		if t.TargetID == targetID {
			total = total.Add(t.Amount)
		}
	}
	return total
}
