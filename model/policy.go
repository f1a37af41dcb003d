package model

import "github.com/shopspring/decimal"

// CountrySet is a list of ISO-3166 alpha-3 country codes subject to
// sanctions screening.
type CountrySet []string

// Contains reports whether code is in the set.
func (s CountrySet) Contains(code string) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

// TenantPolicy is the compliance policy for a single tenant. It is an
// immutable snapshot: the workflow fetches it once per run and never
// writes it back.
type TenantPolicy struct {
	TenantID                string          `json:"tenant_id" yaml:"tenant_id"`
	PerTransactionThreshold decimal.Decimal `json:"per_transaction_threshold" yaml:"per_transaction_threshold"`
	DailyVelocityLimit      decimal.Decimal `json:"daily_velocity_limit" yaml:"daily_velocity_limit"`
	SourceCountrySanctions  CountrySet      `json:"source_country_sanctions" yaml:"source_country_sanctions"`
	DestCountrySanctions    CountrySet      `json:"dest_country_sanctions" yaml:"dest_country_sanctions"`
}

// Violation type constants.
const (
	ViolationThresholdExceeded = "ThresholdExceeded"
	ViolationVelocityExceeded  = "VelocityExceeded"
	ViolationSanctionedCountry = "SanctionedCountry"
)

// Violation describes a compliance rule breach found by the risk assessor.
// Never mutated after creation.
type Violation struct {
	Type          string `json:"violationType"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}
