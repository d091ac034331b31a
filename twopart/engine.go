package twopart

import (
	"fmt"

	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// ENGINE - One licence through match and allocate
// =============================================================================

// Policy holds the switches that vary allocation behaviour.
type Policy struct {
	// AuthorisedFallback gives a charge reference its authorised volume
	// when none of its elements matched a return.
	AuthorisedFallback bool
}

func DefaultPolicy() Policy {
	return Policy{AuthorisedFallback: true}
}

type Engine struct {
	Policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{Policy: policy}
}

// Process runs the pipeline for one licence and returns the ledger of
// every transfer made.
//
// ORDER:
//  1. Prepare return logs against the billing period
//  2. Per charge version: prepare, then match and allocate completed
//     returns element by element, highest subsistence charge first
//  3. Allocate for due returns once all submitted volume is placed
//  4. Fall back to authorised volume for references with no matches
//  5. Classify issues
//
// The licence is validated first and left untouched if invalid.
func (e *Engine) Process(licence *Licence, billingPeriod generic.Period) (*generic.MemoryLedger, error) {
	if err := billingPeriod.Validate(); err != nil {
		return nil, fmt.Errorf("billing period: %w", err)
	}
	if err := licence.Validate(); err != nil {
		return nil, err
	}

	ledger := generic.NewLedger()
	allocator := NewAllocator(ledger)

	PrepareReturnLogs(licence, billingPeriod)

	for _, cv := range licence.ChargeVersions {
		PrepareChargeVersion(licence, cv, billingPeriod)
		if cv.ChargePeriod == nil {
			continue
		}
		for _, ref := range cv.ChargeReferences {
			for _, el := range ref.ChargeElements {
				matched := MatchReturnsToElement(el, licence.ReturnLogs)
				if len(matched) == 0 {
					continue
				}
				if err := allocator.Allocate(el, matched, *cv.ChargePeriod, ref); err != nil {
					return nil, fmt.Errorf("licence %s: %w", licence.LicenceRef, err)
				}
			}
		}
	}

	var err error
	licence.Elements(func(cv *ChargeVersion, ref *ChargeReference, el *ChargeElement) {
		if err != nil || cv.ChargePeriod == nil {
			return
		}
		err = allocator.AllocateDue(el, licence.matchedReturns(el), ref)
	})
	if err != nil {
		return nil, fmt.Errorf("licence %s: %w", licence.LicenceRef, err)
	}

	if e.Policy.AuthorisedFallback {
		for _, cv := range licence.ChargeVersions {
			if cv.ChargePeriod == nil {
				continue
			}
			for _, ref := range cv.ChargeReferences {
				if ref.hasMatches() {
					continue
				}
				if err := allocator.AllocateFallback(ref); err != nil {
					return nil, fmt.Errorf("licence %s: %w", licence.LicenceRef, err)
				}
			}
		}
	}

	ClassifyLicence(licence)
	return ledger, nil
}
