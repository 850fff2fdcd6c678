package heirkeep

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/heirkeep/heirkeep/schema"
)

const (
	heartbeatDomainName    = "Heirkeep"
	heartbeatDomainVersion = "1"
)

// heartbeatTypedData binds the signed liveness proof to this ledger's chain id
// so a heartbeat for one deployment cannot be replayed against another.
func heartbeatTypedData(msg schema.HeartbeatMessage, chainId int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Heartbeat": []apitypes.Type{
				{Name: "message", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "Heartbeat",
		Domain: apitypes.TypedDataDomain{
			Name:    heartbeatDomainName,
			Version: heartbeatDomainVersion,
			ChainId: math.NewHexOrDecimal256(chainId),
		},
		Message: apitypes.TypedDataMessage{
			"message":   msg.Message,
			"timestamp": math.NewHexOrDecimal256(msg.Timestamp),
			"nonce":     math.NewHexOrDecimal256(msg.Nonce),
		},
	}
}

// HeartbeatDigest is the EIP-712 hash a user signs to prove liveness.
func HeartbeatDigest(msg schema.HeartbeatMessage, chainId int64) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(heartbeatTypedData(msg, chainId))
	return hash, err
}

// VerifyHeartbeat recovers the signer from the typed-data signature and
// checks it against the claimed address.
func VerifyHeartbeat(req schema.HeartbeatReq, chainId int64) error {
	if !common.IsHexAddress(req.Address) {
		return schema.ErrBadAddress
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return schema.ErrBadSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte{}, sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest, err := HeartbeatDigest(req.Message, chainId)
	if err != nil {
		return schema.ErrBadSignature
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return schema.ErrBadSignature
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(req.Address) {
		return schema.ErrBadSignature
	}
	return nil
}

// processHeartbeat verifies a relayed liveness proof and upserts the cache
// record keyed by the lowercased address. Last writer wins for concurrent
// heartbeats of the same user; the nonce must strictly increase so a captured
// proof cannot be replayed.
func (h *Heirkeep) processHeartbeat(req schema.HeartbeatReq) (schema.HeartbeatRecord, error) {
	now := time.Now()

	// freshness window blocks stale and far-future replays
	drift := now.UnixMilli() - req.Message.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > schema.HeartbeatFreshness.Milliseconds() {
		return schema.HeartbeatRecord{}, schema.ErrStaleHeartbeat
	}

	if err := VerifyHeartbeat(req, h.backend.ChainId()); err != nil {
		return schema.HeartbeatRecord{}, err
	}

	addr := strings.ToLower(req.Address)
	rec, err := h.store.LoadHeartbeat(addr)
	known := err == nil
	if known && req.Message.Nonce <= rec.Nonce {
		return schema.HeartbeatRecord{}, schema.ErrReplayedNonce
	}

	period := rec.InactivityPeriod
	if !known {
		// first sight of this user: the period comes from the ledger and is
		// carried forward until a period-change signal is observed
		info, err := h.backend.GetUserInfo(common.HexToAddress(req.Address))
		if err != nil {
			return schema.HeartbeatRecord{}, err
		}
		period = info.InactivityPeriod
		rec.Address = addr
		rec.CreatedAt = now.UnixMilli()
	}

	rec.LastSeen = now.UnixMilli()
	rec.Signature = req.Signature
	rec.Nonce = req.Message.Nonce
	rec.InactivityPeriod = period
	rec.UpdatedAt = now.UnixMilli()

	if err := h.store.SaveHeartbeat(rec); err != nil {
		return schema.HeartbeatRecord{}, err
	}
	return rec, nil
}
