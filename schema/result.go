package schema

import (
	"time"
)

// LiquidationResult is the outcome of one (user, token) settlement attempt.
// Appended to a batch report, never mutated afterward.
type LiquidationResult struct {
	UserAddress string `json:"userAddress"`
	Token       string `json:"token"`
	Success     bool   `json:"success"`
	Outcome     string `json:"outcome"`
	TxHash      string `json:"txHash,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Fee         string `json:"fee,omitempty"`
	Bridged     string `json:"bridged,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchReport aggregates per-token outcomes of one scan pass.
// One token's failure never masks another token's success.
type BatchReport struct {
	BatchId    string              `json:"batchId"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Candidates int                 `json:"candidates"`
	Results    []LiquidationResult `json:"results"`
}

// AnySettled reports whether at least one result in the slice settled.
func AnySettled(results []LiquidationResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}
