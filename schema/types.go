package schema

import (
	"time"
)

const (
	// HeartbeatFreshness bounds |now - msg.timestamp| for a relayed heartbeat.
	HeartbeatFreshness = 5 * time.Minute

	// DefaultMinPeriod is the floor for a user's inactivity period.
	DefaultMinPeriod = 30 * time.Second

	// DefaultFeeBps is the protocol fee taken from every liquidation, in basis points.
	DefaultFeeBps = 100

	// DefaultConfirmTimeout bounds waiting for a settlement tx confirmation.
	DefaultConfirmTimeout = 3 * time.Minute

	// DefaultScanInterval is the inactivity scanner tick.
	DefaultScanInterval = 60 * time.Second

	// DefaultScanConcurrency is the candidate fan-out inside one scan pass.
	DefaultScanConcurrency = 10
)

// HeartbeatMessage is the typed payload a user signs to prove liveness.
type HeartbeatMessage struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix ms
	Nonce     int64  `json:"nonce"`
}

// HeartbeatRecord mirrors the ledger's notion of "last seen" in the local cache.
type HeartbeatRecord struct {
	Address          string `json:"address"` // lowercased, primary key
	LastSeen         int64  `json:"lastSeen"` // unix ms
	Signature        string `json:"signature"`
	Nonce            int64  `json:"nonce"`
	InactivityPeriod int64  `json:"inactivityPeriod"` // seconds
	CreatedAt        int64  `json:"createdAt"`        // unix ms
	UpdatedAt        int64  `json:"updatedAt"`        // unix ms
}

// Deadline is the moment the record becomes a liquidation candidate.
func (r HeartbeatRecord) Deadline() time.Time {
	return time.UnixMilli(r.LastSeen).Add(time.Duration(r.InactivityPeriod) * time.Second)
}

// RouteRequest is the opaque quote request sent to the route-instruction source.
type RouteRequest struct {
	FromChain   int64  `json:"fromChain"`
	ToChain     int64  `json:"toChain"`
	FromToken   string `json:"fromToken"`
	ToToken     string `json:"toToken"`
	Amount      string `json:"amount"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Slippage    string `json:"slippage"`
}
