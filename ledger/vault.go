package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/heirkeep/heirkeep/schema"
)

const EventClaimed = "Claimed"

// Vault is the destination-side ledger of claimable balances per beneficiary.
// It tracks a single settlement token; totalTracked never exceeds the actual
// held balance, and rescue of foreign dust can never cut into obligations.
type Vault struct {
	mu sync.Mutex

	self  common.Address
	owner common.Address
	token common.Address // tracked settlement token

	tokens   TokenBackend
	relayers map[common.Address]bool // authorized for DepositAuthorized

	balances     map[common.Address]*big.Int
	totalTracked *big.Int

	feed *EventFeed
}

func NewVault(self, owner, token common.Address, tokens TokenBackend) *Vault {
	return &Vault{
		self:         self,
		owner:        owner,
		token:        token,
		tokens:       tokens,
		relayers:     make(map[common.Address]bool),
		balances:     make(map[common.Address]*big.Int),
		totalTracked: new(big.Int),
		feed:         NewEventFeed(),
	}
}

func (v *Vault) Feed() *EventFeed {
	return v.feed
}

func (v *Vault) AuthorizeRelayer(caller, relayer common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return schema.ErrUnauthorized
	}
	v.relayers[relayer] = true
	return nil
}

// Deposit pulls amount from the caller and credits the beneficiary.
func (v *Vault) Deposit(caller, beneficiary common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return schema.ErrZeroAmount
	}
	if err := v.tokens.TransferFrom(v.token, v.self, caller, v.self, amount); err != nil {
		return err
	}
	v.credit(caller, beneficiary, amount)
	return nil
}

// DepositAuthorized credits a beneficiary for tokens that arrived by another
// path (a bridge delivery). The held balance must already cover the new
// obligation; the credit never runs ahead of the funds.
func (v *Vault) DepositAuthorized(caller, beneficiary common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.relayers[caller] {
		return schema.ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return schema.ErrZeroAmount
	}
	held, err := v.tokens.BalanceOf(v.token, v.self)
	if err != nil {
		return err
	}
	need := new(big.Int).Add(v.totalTracked, amount)
	if held.Cmp(need) < 0 {
		return schema.ErrVaultUnderfunded
	}
	v.credit(caller, beneficiary, amount)
	return nil
}

// Claim transfers the caller's full credited balance out.
func (v *Vault) Claim(caller common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balance(caller)
	amount := new(big.Int).Set(bal)
	if amount.Sign() == 0 {
		return nil, schema.ErrZeroAmount
	}
	if err := v.debit(caller, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// ClaimAmount transfers part of the caller's credited balance out.
func (v *Vault) ClaimAmount(caller common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return schema.ErrZeroAmount
	}
	if v.balance(caller).Cmp(amount) < 0 {
		return schema.ErrInsufficientBalance
	}
	return v.debit(caller, amount)
}

// BalanceOf returns the beneficiary's claimable balance.
func (v *Vault) BalanceOf(beneficiary common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance(beneficiary))
}

func (v *Vault) TotalTracked() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalTracked)
}

// RescueToken sweeps non-tracked dust to the owner. For the tracked token
// only the excess over totalTracked is sweepable, outstanding obligations
// stay covered.
func (v *Vault) RescueToken(caller, token common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return nil, schema.ErrUnauthorized
	}
	held, err := v.tokens.BalanceOf(token, v.self)
	if err != nil {
		return nil, err
	}
	sweepable := new(big.Int).Set(held)
	if token == v.token {
		sweepable.Sub(sweepable, v.totalTracked)
	}
	if sweepable.Sign() <= 0 {
		return nil, schema.ErrZeroAmount
	}
	if err := v.tokens.Transfer(token, v.self, v.owner, sweepable); err != nil {
		return nil, err
	}
	return sweepable, nil
}

// credit records an obligation; lock held by caller.
func (v *Vault) credit(depositor, beneficiary common.Address, amount *big.Int) {
	bal := v.balance(beneficiary)
	bal.Add(bal, amount)
	v.totalTracked.Add(v.totalTracked, amount)
	v.feed.emit(Event{Kind: EventDeposited, User: beneficiary, From: depositor, Token: v.token, Amount: new(big.Int).Set(amount)})
}

// debit pays out an obligation; lock held by caller.
func (v *Vault) debit(beneficiary common.Address, amount *big.Int) error {
	if err := v.tokens.Transfer(v.token, v.self, beneficiary, amount); err != nil {
		return err
	}
	bal := v.balance(beneficiary)
	bal.Sub(bal, amount)
	v.totalTracked.Sub(v.totalTracked, amount)
	v.feed.emit(Event{Kind: EventClaimed, User: beneficiary, Token: v.token, Amount: new(big.Int).Set(amount)})
	return nil
}

func (v *Vault) balance(addr common.Address) *big.Int {
	b, ok := v.balances[addr]
	if !ok {
		b = new(big.Int)
		v.balances[addr] = b
	}
	return b
}
