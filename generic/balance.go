/*
balance.go - Headroom under a ceiling

PURPOSE:
  Every allocation target in the engine has a ceiling: a charge element
  has its authorised annual quantity, a charge reference has its volume.
  Allowance answers "how much more can this target take?" and clamps
  requests to that answer.

KEY INSIGHT:
  Allocation is clamped, never rejected. Asking for more than the headroom
  yields exactly the headroom; asking when the ceiling is reached yields
  zero.

  Remaining = Ceiling - Allocated (never negative)

EXAMPLE:
  element := generic.Allowance{Ceiling: Megalitres(32), Allocated: Megalitres(30)}
  element.Clamp(Megalitres(4)) // 2

SEE ALSO:
  - ledger.go: Records the transfers that move Allocated
*/
package generic

// =============================================================================
// ALLOWANCE - Ceiling and what has been taken against it
// =============================================================================

type Allowance struct {
	Ceiling   Amount
	Allocated Amount
}

// Remaining returns the headroom left under the ceiling.
func (a Allowance) Remaining() Amount {
	remaining := a.Ceiling.Sub(a.Allocated)
	if remaining.IsNegative() {
		return remaining.Zero()
	}
	return remaining
}

// Exhausted is true once nothing more can be taken.
func (a Allowance) Exhausted() bool {
	return !a.Remaining().IsPositive()
}

// Clamp limits a request to the remaining headroom.
func (a Allowance) Clamp(requested Amount) Amount {
	return requested.Min(a.Remaining())
}

// Headroom returns the smallest remaining headroom across allowances.
func Headroom(allowances ...Allowance) Amount {
	if len(allowances) == 0 {
		return ZeroMegalitres()
	}
	headroom := allowances[0].Remaining()
	for _, a := range allowances[1:] {
		headroom = headroom.Min(a.Remaining())
	}
	return headroom
}
