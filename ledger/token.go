package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/heirkeep/heirkeep/schema"
)

// TokenBackend is the ERC20-shaped surface the ledger and vault move funds
// through. TransferFrom spends the allowance from granted to spender.
type TokenBackend interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// RouteTarget is the external swap/bridge execution venue the bridged amount
// is delegated to, together with the opaque route payload.
type RouteTarget interface {
	Address() common.Address
	Execute(token common.Address, amount *big.Int, routeInstructions []byte) error
}

// SinkTarget is a RouteTarget that accepts every delegation; dev and test use.
type SinkTarget struct {
	addr common.Address
}

func NewSinkTarget(addr common.Address) *SinkTarget {
	return &SinkTarget{addr: addr}
}

func (t *SinkTarget) Address() common.Address {
	return t.addr
}

func (t *SinkTarget) Execute(token common.Address, amount *big.Int, routeInstructions []byte) error {
	return nil
}

// MemTokens is an in-process TokenBackend used by the dev backend and tests.
type MemTokens struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*big.Int                // token -> holder -> amount
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int // token -> owner -> spender -> amount
}

func NewMemTokens() *MemTokens {
	return &MemTokens{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

func (m *MemTokens) Mint(token, holder common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balance(token, holder)
	b.Add(b, amount)
}

func (m *MemTokens) Approve(token, owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byToken, ok := m.allowances[token]
	if !ok {
		byToken = make(map[common.Address]map[common.Address]*big.Int)
		m.allowances[token] = byToken
	}
	byOwner, ok := byToken[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		byToken[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
}

func (m *MemTokens) BalanceOf(token, holder common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(token, holder)), nil
}

func (m *MemTokens) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.allowance(token, owner, spender)), nil
}

func (m *MemTokens) Transfer(token, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(token, from, to, amount)
}

func (m *MemTokens) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowance := m.allowance(token, from, spender)
	if allowance.Cmp(amount) < 0 {
		return schema.ErrInsufficientBalance
	}
	if err := m.move(token, from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// move transfers balance; lock held by caller.
func (m *MemTokens) move(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return schema.ErrZeroAmount
	}
	fromBal := m.balance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return schema.ErrInsufficientBalance
	}
	fromBal.Sub(fromBal, amount)
	toBal := m.balance(token, to)
	toBal.Add(toBal, amount)
	return nil
}

func (m *MemTokens) balance(token, holder common.Address) *big.Int {
	byToken, ok := m.balances[token]
	if !ok {
		byToken = make(map[common.Address]*big.Int)
		m.balances[token] = byToken
	}
	b, ok := byToken[holder]
	if !ok {
		b = new(big.Int)
		byToken[holder] = b
	}
	return b
}

func (m *MemTokens) allowance(token, owner, spender common.Address) *big.Int {
	byToken, ok := m.allowances[token]
	if !ok {
		byToken = make(map[common.Address]map[common.Address]*big.Int)
		m.allowances[token] = byToken
	}
	byOwner, ok := byToken[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		byToken[owner] = byOwner
	}
	a, ok := byOwner[spender]
	if !ok {
		a = new(big.Int)
		byOwner[spender] = a
	}
	return a
}
