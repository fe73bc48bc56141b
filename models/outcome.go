package models

import "time"

// Severity levels used in webhook notifications.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// CycleOutcome aggregates the result of one polling cycle. It is the payload
// posted to the notification webhook and the source of audit records.
type CycleOutcome struct {
	CycleID       string                `json:"cycle_id"`
	Network       string                `json:"network"`
	Accumulator   string                `json:"accumulator"`
	Severity      string                `json:"severity"`
	Skipped       bool                  `json:"skipped"`
	Liquidations  []*LiquidationAttempt `json:"liquidations,omitempty"`
	Transfer      *TransferAttempt      `json:"transfer,omitempty"`
	Error         string                `json:"error,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
}

// Failed reports whether any attempt in the cycle ended in failure.
func (o *CycleOutcome) Failed() bool {
	if o.Error != "" {
		return true
	}
	for _, l := range o.Liquidations {
		if l.Status == AttemptFailed {
			return true
		}
	}
	if o.Transfer != nil && o.Transfer.Status == AttemptFailed {
		return true
	}
	return false
}
