// Package risk evaluates transaction events against tenant compliance
// policies. Assessment is a pure function of its inputs: the same event,
// policy, and running total always produce the same result, which makes
// it safe to re-run under at-least-once replay without a dedup key.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/copperline/txgate/model"
)

// Assess evaluates event against policy and returns the first violation
// found, or nil when the transaction is clean. Rules are checked in a
// fixed order and short-circuit on the first match:
//
//  1. per-transaction threshold (strict >; equality is clean)
//  2. daily velocity limit against priorDayTotal + amount
//  3. sanctioned source or destination country
//
// priorDayTotal is the cumulative same-day amount already recorded for the
// account, tracked by an external collaborator. Pass decimal.Zero when no
// tracker is wired; the velocity rule then degrades to a single-transaction
// check against the daily limit.
func Assess(event model.TransactionEvent, policy model.TenantPolicy, priorDayTotal decimal.Decimal) *model.Violation {
	if event.Amount.GreaterThan(policy.PerTransactionThreshold) {
		return &model.Violation{
			Type:          model.ViolationThresholdExceeded,
			Message:       fmt.Sprintf("transaction amount %s exceeds the per-transaction threshold %s", event.Amount, policy.PerTransactionThreshold),
			CorrelationID: event.CorrelationID,
		}
	}

	if policy.DailyVelocityLimit.IsPositive() {
		dayTotal := priorDayTotal.Add(event.Amount)
		if dayTotal.GreaterThan(policy.DailyVelocityLimit) {
			return &model.Violation{
				Type:          model.ViolationVelocityExceeded,
				Message:       fmt.Sprintf("cumulative daily amount %s exceeds the velocity limit %s", dayTotal, policy.DailyVelocityLimit),
				CorrelationID: event.CorrelationID,
			}
		}
	}

	if policy.SourceCountrySanctions.Contains(event.SourceAccount.CountryCode) {
		return &model.Violation{
			Type:          model.ViolationSanctionedCountry,
			Message:       fmt.Sprintf("source country %s is sanctioned", event.SourceAccount.CountryCode),
			CorrelationID: event.CorrelationID,
		}
	}
	if policy.DestCountrySanctions.Contains(event.DestinationAccount.CountryCode) {
		return &model.Violation{
			Type:          model.ViolationSanctionedCountry,
			Message:       fmt.Sprintf("destination country %s is sanctioned", event.DestinationAccount.CountryCode),
			CorrelationID: event.CorrelationID,
		}
	}

	return nil
}
