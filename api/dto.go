/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication. These decouple the internal domain
  model from the external contract; validation happens in handlers, DTOs
  are pure data carriers.
*/
package api

import (
	"github.com/strata/billing-engine/billing"
)

// =============================================================================
// PAYMENT TYPES
// =============================================================================

// PaymentRequest previews or commits one payment for a unit. Amounts are in
// minor currency units.
type PaymentRequest struct {
	Amount        int64  `json:"amount"`
	AsOf          string `json:"as_of"` // "YYYY-MM-DD"; empty = today
	CreditBalance int64  `json:"credit_balance"`
	ThroughPeriod string `json:"through_period,omitempty"` // "YYYY-MM" obligation bound

	// ExpectedTotal is required on commit: the TotalApplied of the preview
	// the caller is acting on.
	ExpectedTotal int64 `json:"expected_total"`
}

// CommitResponse is returned by a successful commit.
type CommitResponse struct {
	TransactionID string                     `json:"transaction_id"`
	Result        billing.DistributionResult `json:"result"`
}

// =============================================================================
// OBLIGATION TYPES
// =============================================================================

// ObligationDTO is one open obligation in API responses.
type ObligationDTO struct {
	ID             string `json:"id"`
	Module         string `json:"module"`
	Period         string `json:"period"`
	OriginalBase   int64  `json:"original_base"`
	Penalty        int64  `json:"penalty"`
	BasePaid       int64  `json:"base_paid"`
	PenaltyPaid    int64  `json:"penalty_paid"`
	TotalRemaining int64  `json:"total_remaining"`
	DueDate        string `json:"due_date"`
	Status         string `json:"status"`
	PriorityClass  int    `json:"priority_class"`
}

func toObligationDTO(o billing.Obligation) ObligationDTO {
	return ObligationDTO{
		ID:             o.ID,
		Module:         string(o.Module),
		Period:         string(o.Period),
		OriginalBase:   o.OriginalBase,
		Penalty:        o.Penalty,
		BasePaid:       o.BasePaid,
		PenaltyPaid:    o.PenaltyPaid,
		TotalRemaining: o.TotalRemaining(),
		DueDate:        o.DueDate.String(),
		Status:         string(o.Status()),
		PriorityClass:  o.PriorityClass,
	}
}

// =============================================================================
// RECORD CREATION TYPES
// =============================================================================

// CreateDuesRecordRequest bills a unit for a fiscal year of recurring dues.
type CreateDuesRecordRequest struct {
	FiscalYear    int   `json:"fiscal_year"`
	MonthlyCharge int64 `json:"monthly_charge"`
	DueDay        int   `json:"due_day"`
	PriorClosed   bool  `json:"prior_closed"`
}

// MeterReadingRequest posts one period's meter reading, which bills the
// period.
type MeterReadingRequest struct {
	Period      string `json:"period"` // "YYYY-MM"
	Consumption int64  `json:"consumption"`
	Tariff      int64  `json:"tariff"`
	DueDate     string `json:"due_date"` // "YYYY-MM-DD"
	PriorClosed bool   `json:"prior_closed"`
}

// =============================================================================
// CREDIT TYPES
// =============================================================================

// CreditHistoryResponse lists a unit's credit ledger with the folded
// running balance.
type CreditHistoryResponse struct {
	Balance int64            `json:"balance"`
	Entries []CreditEntryDTO `json:"entries"`
}

type CreditEntryDTO struct {
	Seq           int    `json:"seq"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"`
	Note          string `json:"note,omitempty"`
}

// CreditAdjustmentRequest appends a manual signed correction to the credit
// ledger.
type CreditAdjustmentRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
