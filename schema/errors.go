package schema

import (
	"errors"
)

var (
	ErrNotExist = errors.New("not_exist_record")

	// registration & liveness
	ErrAlreadyRegistered = errors.New("already_registered")
	ErrNotRegistered     = errors.New("not_registered")
	ErrAlreadyDead       = errors.New("already_dead")
	ErrZeroBeneficiary   = errors.New("zero_beneficiary")
	ErrSelfBeneficiary   = errors.New("self_beneficiary")
	ErrPeriodTooShort    = errors.New("inactivity_period_below_floor")

	// heartbeat verification
	ErrBadSignature   = errors.New("bad_signature")
	ErrStaleHeartbeat = errors.New("heartbeat_outside_freshness_window")
	ErrReplayedNonce  = errors.New("replayed_nonce")
	ErrBadAddress     = errors.New("malformed_address")

	// liquidation
	ErrNotYetEligible     = errors.New("deadline_not_passed")
	ErrNothingToLiquidate = errors.New("nothing_to_liquidate")
	ErrRouteUnavailable   = errors.New("route_source_unavailable")
	ErrSimulationFailed   = errors.New("simulation_reverted")
	ErrDelegationFailed   = errors.New("route_delegation_failed")
	ErrBeneficiaryAbsent  = errors.New("beneficiary_not_in_route_payload")
	ErrUnauthorized       = errors.New("unauthorized_caller")

	// funds
	ErrInsufficientDeposit = errors.New("amount_exceeds_deposit")
	ErrInsufficientBalance = errors.New("amount_exceeds_balance")
	ErrZeroAmount          = errors.New("zero_amount")
	ErrVaultUnderfunded    = errors.New("vault_balance_below_tracked")
)
