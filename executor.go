package heirkeep

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	hcommon "github.com/heirkeep/heirkeep/common"
	"github.com/heirkeep/heirkeep/schema"
	"github.com/shopspring/decimal"
)

// inflightSet serializes liquidation per user: the same address is never
// processed by two concurrent scan workers.
type inflightSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{m: make(map[string]struct{})}
}

func (s *inflightSet) tryAcquire(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[addr]; ok {
		return false
	}
	s.m[addr] = struct{}{}
	return true
}

func (s *inflightSet) release(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, addr)
}

// processCandidate drives settlement for one user past their deadline:
// per supported token it aggregates the liquidatable amount, obtains route
// instructions, simulates, submits and records an outcome. Tokens are
// independent; one failure never blocks the others. The user leaves the cache
// only when at least one token settled — a dead user holding nothing stays
// monitored in case they hold liquidatable assets later.
func (h *Heirkeep) processCandidate(ctx context.Context, rec schema.HeartbeatRecord) []schema.LiquidationResult {
	if !h.inflight.tryAcquire(rec.Address) {
		log.Warn("candidate already in flight", "addr", rec.Address)
		return nil
	}
	defer h.inflight.release(rec.Address)

	user := common.HexToAddress(rec.Address)

	// reconfirm against the authoritative ledger before acting
	canLiquidate, remaining, err := h.backend.CheckStatus(user)
	if err != nil {
		log.Error("h.backend.CheckStatus(user)", "err", err, "addr", rec.Address)
		return nil
	}
	if !canLiquidate {
		log.Debug("candidate not yet eligible on ledger", "addr", rec.Address, "remaining", remaining)
		return nil
	}
	info, err := h.backend.GetUserInfo(user)
	if err != nil {
		log.Error("h.backend.GetUserInfo(user)", "err", err, "addr", rec.Address)
		return nil
	}

	results := make([]schema.LiquidationResult, 0)
	for _, token := range h.config.GetTokens() {
		select {
		case <-ctx.Done():
			return results
		default:
		}
		res := h.liquidateToken(ctx, user, info.Beneficiary, token)
		if res == nil {
			continue // nothing of this token, expected non-error outcome
		}
		results = append(results, *res)
	}

	if schema.AnySettled(results) {
		// the ledger's dead flag is permanent now, cache staleness is harmless
		if err := h.store.DeleteHeartbeat(rec.Address); err != nil {
			log.Error("h.store.DeleteHeartbeat(rec.Address)", "err", err, "addr", rec.Address)
		}
	}
	return results
}

// liquidateToken settles one (user, token) pair. Returns nil when the user
// holds none of the token.
func (h *Heirkeep) liquidateToken(ctx context.Context, user, beneficiary, token common.Address) *schema.LiquidationResult {
	res := &schema.LiquidationResult{
		UserAddress: toLower(user),
		Token:       toLower(token),
	}

	amount, err := h.backend.AmountToLiquidate(user, token)
	if err != nil {
		res.Error = err.Error()
		res.Outcome = schema.OutcomeReverted
		hcommon.LiquidationCounter.WithLabelValues("aggregate_error").Inc()
		return res
	}
	if amount.Sign() == 0 {
		hcommon.LiquidationCounter.WithLabelValues(schema.OutcomeSkipped).Inc()
		return nil
	}
	res.Amount = amount.String()
	fee, bridged := splitFee(amount, h.config.GetFeeBps())
	res.Fee = fee.String()
	res.Bridged = bridged.String()

	payload, err := h.fetchRoute(user, beneficiary, token, res)
	if err != nil {
		res.Error = err.Error()
		res.Outcome = schema.OutcomeRouteDown
		hcommon.LiquidationCounter.WithLabelValues(schema.OutcomeRouteDown).Inc()
		return res
	}

	// surface revert causes before spending gas; a simulation failure is
	// retried on the next scan cycle
	if err := h.backend.SimulateLiquidate(ctx, user, token, payload); err != nil {
		res.Error = err.Error()
		outcome := schema.OutcomeReverted
		if errors.Is(err, schema.ErrBeneficiaryAbsent) {
			// a route that does not name the beneficiary is an operator-level
			// alarm, not a transient failure
			log.Error("route payload rejected, beneficiary absent", "addr", res.UserAddress, "token", res.Token)
			outcome = schema.OutcomeRejected
		}
		res.Outcome = outcome
		hcommon.LiquidationCounter.WithLabelValues(outcome).Inc()
		return res
	}

	subCtx, cancel := context.WithTimeout(ctx, h.config.GetConfirmTimeout())
	defer cancel()
	txHash, err := h.backend.Liquidate(subCtx, user, token, payload)
	if err != nil {
		// a delegation failure leaves the bridged amount in ledger custody;
		// it is reported distinctly, never silently absorbed
		res.TxHash = txHash
		res.Error = err.Error()
		res.Outcome = schema.OutcomeReverted
		hcommon.LiquidationCounter.WithLabelValues(schema.OutcomeReverted).Inc()
		return res
	}

	res.Success = true
	res.Outcome = schema.OutcomeSettled
	res.TxHash = txHash
	hcommon.LiquidationCounter.WithLabelValues(schema.OutcomeSettled).Inc()
	log.Info("liquidation settled", "addr", res.UserAddress, "token", res.Token, "amount", res.Amount, "tx", txHash)
	return res
}

func (h *Heirkeep) fetchRoute(user, beneficiary, token common.Address, res *schema.LiquidationResult) ([]byte, error) {
	req := schema.RouteRequest{
		FromChain:   h.backend.ChainId(),
		ToChain:     h.config.GetDestChain(),
		FromToken:   toLower(token),
		ToToken:     h.config.GetDestToken(),
		Amount:      res.Bridged,
		FromAddress: res.UserAddress,
		ToAddress:   toLower(beneficiary),
		Slippage:    h.config.GetSlippage(),
	}
	return h.routeSource.FetchRoute(req)
}

func splitFee(amount *big.Int, feeBps int64) (fee, bridged *big.Int) {
	amt := decimal.NewFromBigInt(amount, 0)
	fee = amt.Mul(decimal.NewFromInt(feeBps)).Div(decimal.NewFromInt(10000)).Floor().BigInt()
	bridged = new(big.Int).Sub(amount, fee)
	return
}

func toLower(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
