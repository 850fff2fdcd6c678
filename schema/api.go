package schema

type RespErr struct {
	Err string `json:"error"`
}

func (r RespErr) Error() string {
	return r.Err
}

// HeartbeatReq is the relay's POST /heartbeat body.
type HeartbeatReq struct {
	Address   string           `json:"address"`
	Message   HeartbeatMessage `json:"message"`
	Signature string           `json:"signature"`
}

type HeartbeatResp struct {
	Success  bool  `json:"success"`
	LastSeen int64 `json:"lastSeen"`
}

// StatusResp is GET /status/:address.
type StatusResp struct {
	Address       string `json:"address"`
	Registered    bool   `json:"registered"`
	Dead          bool   `json:"dead"`
	CanLiquidate  bool   `json:"canLiquidate"`
	TimeRemaining int64  `json:"timeRemaining"` // seconds
	LastSeen      int64  `json:"lastSeen"`      // ms, from cache; 0 if never relayed
}
