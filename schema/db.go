package schema

import (
	"time"
)

const (
	OutcomeSettled   = "settled"
	OutcomeSkipped   = "skipped"
	OutcomeReverted  = "reverted"
	OutcomeRouteDown = "route_down"
	OutcomeRejected  = "security_rejected"
)

// LiquidationRecord is the durable form of a LiquidationResult.
type LiquidationRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	BatchId     string `gorm:"index:idx_batch" json:"batchId"`
	UserAddress string `gorm:"index:idx_user" json:"userAddress"`
	Token       string `json:"token"`
	Outcome     string `json:"outcome"` // "settled","skipped","reverted","route_down","security_rejected"
	TxHash      string `json:"txHash"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Bridged     string `json:"bridged"`
	ErrMsg      string `json:"errMsg"`
}

// VaultEventRecord logs Deposited/Claimed vault events.
type VaultEventRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	Kind        string `json:"kind"` // "Deposited","Claimed"
	Beneficiary string `gorm:"index:idx_beneficiary" json:"beneficiary"`
	Depositor   string `json:"depositor,omitempty"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
}
