/*
Package generic provides the domain-agnostic primitives of the billing engine.

PURPOSE:
  This package contains the types and algorithms that the two-part tariff
  engine builds on but that know nothing about licences or returns: dated
  periods, day/month abstraction rules, fixed-point volumes, ceiling
  headroom, and an append-only ledger of volume transfers.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A volume with a unit (e.g., 4 megalitres, 4000 cubic metres)
  - Unit: Megalitres for all allocation maths, cubic metres on ingestion

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so allocation conserves volume exactly
  2. Immutability: Amount values are never modified in place
  3. Unit safety: Conversions are explicit (ToMegalitres)

USAGE:
  line := generic.NewAmountFromInt(4000, generic.UnitCubicMetres)
  ml := line.ToMegalitres() // 4 Ml

SEE ALSO:
  - period.go: Period and abstraction-period resolution
  - balance.go: Headroom under a ceiling
  - ledger.go: Transfer persistence interface
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Volume with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitMegalitres  Unit = "Ml"
	UnitCubicMetres Unit = "m3"
)

// cubicMetresPerMegalitre is the divisor applied to submitted line volumes.
var cubicMetresPerMegalitre = decimal.NewFromInt(1000)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// Megalitres is shorthand for the unit every allocation runs in.
func Megalitres(value float64) Amount {
	return NewAmount(value, UnitMegalitres)
}

// ZeroMegalitres returns an empty volume.
func ZeroMegalitres() Amount {
	return Amount{Value: decimal.Zero, Unit: UnitMegalitres}
}

// ParseAmount parses a decimal string such as "12.5".
func ParseAmount(s string, unit Unit) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, ErrInvalidQuantity)
	}
	return Amount{Value: d, Unit: unit}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ToMegalitres converts a cubic metre volume to megalitres. Megalitre
// amounts are returned unchanged.
func (a Amount) ToMegalitres() Amount {
	if a.Unit == UnitCubicMetres {
		return Amount{Value: a.Value.Div(cubicMetresPerMegalitre), Unit: UnitMegalitres}
	}
	return Amount{Value: a.Value, Unit: UnitMegalitres}
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) String() string            { return a.Value.String() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Float64 is for presentation only; allocation never goes through floats.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// Sum adds amounts, returning zero megalitres for an empty list.
func Sum(amounts ...Amount) Amount {
	total := ZeroMegalitres()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
