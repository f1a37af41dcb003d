package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Transaction direction constants.
const (
	DirectionCredit = "Credit"
	DirectionDebit  = "Debit"
)

// BankAccount identifies one side of a transaction.
type BankAccount struct {
	AccountNo   string `json:"accountno"`
	SortCode    string `json:"sortcode"`
	CountryCode string `json:"countrycode"`
}

// TransactionEvent is an incoming financial transaction to be evaluated.
// It is immutable once ingested; the workflow never mutates it.
type TransactionEvent struct {
	CorrelationID      string          `json:"correlationId"`
	TenantID           string          `json:"tenantId"`
	TransactionID      string          `json:"transactionId"`
	TransactionDate    string          `json:"transactionDate"`
	Direction          string          `json:"direction"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Description        string          `json:"description"`
	SourceAccount      BankAccount     `json:"sourceaccount"`
	DestinationAccount BankAccount     `json:"destinationaccount"`
}

// Validate checks that the event carries the fields the workflow depends on.
// The correlation ID is the stable key for all downstream deduplication, so
// it is required up front.
func (e *TransactionEvent) Validate() error {
	var details []FieldError

	if strings.TrimSpace(e.CorrelationID) == "" {
		details = append(details, FieldError{Field: "correlationId", Code: "required", Message: "correlationId is required"})
	}
	if strings.TrimSpace(e.TenantID) == "" {
		details = append(details, FieldError{Field: "tenantId", Code: "required", Message: "tenantId is required"})
	}
	if strings.TrimSpace(e.TransactionID) == "" {
		details = append(details, FieldError{Field: "transactionId", Code: "required", Message: "transactionId is required"})
	}
	if e.Direction != DirectionCredit && e.Direction != DirectionDebit {
		details = append(details, FieldError{Field: "direction", Code: "invalid", Message: "direction must be Credit or Debit"})
	}
	if e.Amount.IsNegative() {
		details = append(details, FieldError{Field: "amount", Code: "invalid", Message: "amount must not be negative"})
	}
	if len(e.Currency) != 3 {
		details = append(details, FieldError{Field: "currency", Code: "invalid", Message: "currency must be a 3-letter ISO code"})
	}

	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}
