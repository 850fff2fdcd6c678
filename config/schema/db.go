package schema

type EngineParam struct {
	ID                uint   `gorm:"primarykey" json:"-"`
	FeeBps            int64  `json:"feeBps"`            // protocol fee in basis points
	ScanIntervalSec   int64  `json:"scanIntervalSec"`   // inactivity scanner tick
	ConfirmTimeoutSec int64  `json:"confirmTimeoutSec"` // hard cap on settlement confirmation
	DestChain         int64  `json:"destChain"`         // bridge destination chain id
	DestToken         string `json:"destToken"`         // settlement token on the destination chain
	Slippage          string `json:"slippage"`
}

type SupportedToken struct {
	Address     string `gorm:"primarykey"` // lowercased token contract address
	Symbol      string
	Decimals    int
	Available   bool `gorm:"index:idx1"` // true means the scanner sweeps it
	Description string
}

type IpRateWhitelist struct {
	ID          uint   `gorm:"primarykey"`
	OriginOrIP  string // e.g "188.0.2.2"
	Available   bool   `gorm:"index:idx3"` // true means effective
	Description string
}
