package ledger

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/heirkeep/heirkeep/schema"
)

// Ledger is the authoritative, single-writer record of registration,
// liveness and per-token custody. Every state-changing call is atomic
// relative to all others.
type Ledger struct {
	mu sync.Mutex

	self     common.Address // custody identity funds are pulled into
	owner    common.Address
	relayer  common.Address // authorized for PingFor
	executor common.Address // authorized for Liquidate and RescueStranded

	minPeriod int64 // seconds
	feeBps    int64
	chainId   int64

	users  map[common.Address]*userRecord
	tokens TokenBackend
	router RouteTarget
	feed   *EventFeed

	now func() time.Time
}

type userRecord struct {
	beneficiary      common.Address
	lastHeartbeat    int64 // unix seconds
	inactivityPeriod int64 // seconds
	dead             bool
	deposits         map[common.Address]*big.Int
	stranded         map[common.Address]*big.Int // bridged amounts held back after a delegation failure
}

// UserInfo is the view form of a user record.
type UserInfo struct {
	Beneficiary      common.Address
	LastHeartbeat    int64
	InactivityPeriod int64
	Dead             bool
}

func New(self, owner, relayer, executor common.Address, chainId int64, tokens TokenBackend, router RouteTarget) *Ledger {
	return &Ledger{
		self:      self,
		owner:     owner,
		relayer:   relayer,
		executor:  executor,
		minPeriod: int64(schema.DefaultMinPeriod / time.Second),
		feeBps:    schema.DefaultFeeBps,
		chainId:   chainId,
		users:     make(map[common.Address]*userRecord),
		tokens:    tokens,
		router:    router,
		feed:      NewEventFeed(),
		now:       time.Now,
	}
}

// SetClock overrides the wall clock; test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Ledger) SetMinPeriod(seconds int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minPeriod = seconds
}

func (l *Ledger) SetFeeBps(bps int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeBps = bps
}

func (l *Ledger) ChainId() int64 {
	return l.chainId
}

func (l *Ledger) Feed() *EventFeed {
	return l.feed
}

func (l *Ledger) Register(caller, beneficiary common.Address, inactivityPeriod int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if beneficiary == (common.Address{}) {
		return schema.ErrZeroBeneficiary
	}
	if beneficiary == caller {
		return schema.ErrSelfBeneficiary
	}
	if inactivityPeriod < l.minPeriod {
		return schema.ErrPeriodTooShort
	}
	if _, ok := l.users[caller]; ok {
		return schema.ErrAlreadyRegistered
	}

	now := l.now().Unix()
	l.users[caller] = &userRecord{
		beneficiary:      beneficiary,
		lastHeartbeat:    now,
		inactivityPeriod: inactivityPeriod,
		deposits:         make(map[common.Address]*big.Int),
		stranded:         make(map[common.Address]*big.Int),
	}
	l.feed.emit(Event{Kind: EventRegistered, User: caller, Time: now, Period: inactivityPeriod})
	return nil
}

func (l *Ledger) Ping(caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.beat(caller)
}

// PingFor lets the authorized relay identity reset a user's deadline on their behalf.
func (l *Ledger) PingFor(caller, user common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.relayer {
		return schema.ErrUnauthorized
	}
	return l.beat(user)
}

// beat resets the deadline; lock held by caller.
func (l *Ledger) beat(user common.Address) error {
	u, ok := l.users[user]
	if !ok {
		return schema.ErrNotRegistered
	}
	if u.dead {
		return schema.ErrAlreadyDead
	}
	now := l.now().Unix()
	if now > u.lastHeartbeat { // lastHeartbeat never decreases
		u.lastHeartbeat = now
	}
	l.feed.emit(Event{Kind: EventHeartbeat, User: user, Time: u.lastHeartbeat, Period: u.inactivityPeriod})
	return nil
}

// DepositFunds moves amount of token from the caller's wallet into internal
// custody. Counts as a heartbeat.
func (l *Ledger) DepositFunds(caller, token common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[caller]
	if !ok {
		return schema.ErrNotRegistered
	}
	if u.dead {
		return schema.ErrAlreadyDead
	}
	if amount == nil || amount.Sign() <= 0 {
		return schema.ErrZeroAmount
	}
	if err := l.tokens.TransferFrom(token, l.self, caller, l.self, amount); err != nil {
		return err
	}
	dep := u.deposit(token)
	dep.Add(dep, amount)
	if err := l.beat(caller); err != nil {
		return err
	}
	l.feed.emit(Event{Kind: EventDeposited, User: caller, Token: token, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawFunds moves amount of token out of internal custody back to the
// caller's wallet. Counts as a heartbeat.
func (l *Ledger) WithdrawFunds(caller, token common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[caller]
	if !ok {
		return schema.ErrNotRegistered
	}
	if u.dead {
		return schema.ErrAlreadyDead
	}
	if amount == nil || amount.Sign() <= 0 {
		return schema.ErrZeroAmount
	}
	dep := u.deposit(token)
	if dep.Cmp(amount) < 0 {
		return schema.ErrInsufficientDeposit
	}
	if err := l.tokens.Transfer(token, l.self, caller, amount); err != nil {
		return err
	}
	dep.Sub(dep, amount)
	if err := l.beat(caller); err != nil {
		return err
	}
	l.feed.emit(Event{Kind: EventWithdrawn, User: caller, Token: token, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) UpdateBeneficiary(caller, beneficiary common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[caller]
	if !ok {
		return schema.ErrNotRegistered
	}
	if u.dead {
		return schema.ErrAlreadyDead
	}
	if beneficiary == (common.Address{}) {
		return schema.ErrZeroBeneficiary
	}
	if beneficiary == caller {
		return schema.ErrSelfBeneficiary
	}
	u.beneficiary = beneficiary
	l.feed.emit(Event{Kind: EventBeneficiaryUpdated, User: caller})
	return nil
}

func (l *Ledger) UpdateInactivityPeriod(caller common.Address, inactivityPeriod int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[caller]
	if !ok {
		return schema.ErrNotRegistered
	}
	if u.dead {
		return schema.ErrAlreadyDead
	}
	if inactivityPeriod < l.minPeriod {
		return schema.ErrPeriodTooShort
	}
	u.inactivityPeriod = inactivityPeriod
	l.feed.emit(Event{Kind: EventPeriodUpdated, User: caller, Period: inactivityPeriod})
	return nil
}

// CheckStatus reports liquidation eligibility and the seconds remaining until
// the deadline. canLiquidate stays true once the deadline passes; the dead
// flag does not reset it, additional tokens of a dead user remain sweepable.
func (l *Ledger) CheckStatus(user common.Address) (canLiquidate bool, timeRemaining int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[user]
	if !ok {
		return false, 0, schema.ErrNotRegistered
	}
	now := l.now().Unix()
	deadline := u.lastHeartbeat + u.inactivityPeriod
	if now > deadline {
		return true, 0, nil
	}
	return false, deadline - now, nil
}

func (l *Ledger) GetUserInfo(user common.Address) (UserInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[user]
	if !ok {
		return UserInfo{}, schema.ErrNotRegistered
	}
	return UserInfo{
		Beneficiary:      u.beneficiary,
		LastHeartbeat:    u.lastHeartbeat,
		InactivityPeriod: u.inactivityPeriod,
		Dead:             u.dead,
	}, nil
}

// DepositOf returns the internally held amount for (user, token).
func (l *Ledger) DepositOf(user, token common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[user]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(u.deposit(token))
}

// StrandedOf returns bridged funds retained after a delegation failure.
func (l *Ledger) StrandedOf(user, token common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[user]
	if !ok {
		return new(big.Int)
	}
	if s, ok := u.stranded[token]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// AmountToLiquidate aggregates the liquidatable amount for (user, token):
// min(walletAllowance, walletBalance) + internalDeposit. Zero is a valid,
// non-error outcome.
func (l *Ledger) AmountToLiquidate(user, token common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[user]
	if !ok {
		return nil, schema.ErrNotRegistered
	}
	return l.aggregate(u, user, token)
}

// aggregate computes the liquidatable amount; lock held by caller.
func (l *Ledger) aggregate(u *userRecord, user, token common.Address) (*big.Int, error) {
	allowance, err := l.tokens.Allowance(token, user, l.self)
	if err != nil {
		return nil, err
	}
	balance, err := l.tokens.BalanceOf(token, user)
	if err != nil {
		return nil, err
	}
	pullable := allowance
	if balance.Cmp(allowance) < 0 {
		pullable = balance
	}
	total := new(big.Int).Set(pullable)
	total.Add(total, u.deposit(token))
	return total, nil
}

// FeeSplit computes (fee, bridged) such that fee+bridged == amount exactly.
func (l *Ledger) FeeSplit(amount *big.Int) (fee, bridged *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(l.feeBps))
	fee.Div(fee, big.NewInt(10000))
	bridged = new(big.Int).Sub(amount, fee)
	return fee, bridged
}

// SimulateLiquidate runs every Liquidate check without mutating state or
// moving funds. Surfaces revert causes before gas is spent.
func (l *Ledger) SimulateLiquidate(caller, user, token common.Address, routeInstructions []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, err := l.checkLiquidate(caller, user, token, routeInstructions)
	return err
}

// LiquidationOutcome reports the amounts of one settled (user, token) pair.
type LiquidationOutcome struct {
	Amount  *big.Int
	Fee     *big.Int
	Bridged *big.Int
}

// Liquidate settles one (user, token) pair: validates the route payload
// against the stored beneficiary, marks the user dead on the first call,
// sweeps custody, pays the executor fee and delegates the bridged remainder
// to the route target. A delegation failure is an explicit error; the bridged
// amount stays in ledger custody, recoverable via RescueStranded.
func (l *Ledger) Liquidate(caller, user, token common.Address, routeInstructions []byte) (*LiquidationOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, amount, err := l.checkLiquidate(caller, user, token, routeInstructions)
	if err != nil {
		return nil, err
	}

	firstCall := !u.dead
	u.dead = true

	// sweep internal custody first, then the wallet portion
	dep := u.deposit(token)
	depositBefore := new(big.Int).Set(dep)
	walletPortion := new(big.Int).Sub(amount, dep)
	dep.SetInt64(0)
	if walletPortion.Sign() > 0 {
		if err := l.tokens.TransferFrom(token, l.self, user, l.self, walletPortion); err != nil {
			// nothing moved, revert the whole call
			dep.Set(depositBefore)
			if firstCall {
				u.dead = false
			}
			return nil, err
		}
	}

	fee, bridged := l.FeeSplit(amount)
	if fee.Sign() > 0 {
		if err := l.tokens.Transfer(token, l.self, caller, fee); err != nil {
			// the swept amount already sits in ledger custody; park it for
			// rescue instead of leaving it untracked
			u.strand(token, amount)
			return nil, err
		}
	}

	out := &LiquidationOutcome{Amount: amount, Fee: fee, Bridged: bridged}
	if err := l.delegate(u, user, token, bridged, routeInstructions); err != nil {
		return out, err
	}
	l.feed.emit(Event{Kind: EventLiquidated, User: user, Token: token, Amount: new(big.Int).Set(bridged)})
	return out, nil
}

// checkLiquidate runs the eligibility, security and funds checks; lock held.
func (l *Ledger) checkLiquidate(caller, user, token common.Address, routeInstructions []byte) (*userRecord, *big.Int, error) {
	if caller != l.executor {
		return nil, nil, schema.ErrUnauthorized
	}
	u, ok := l.users[user]
	if !ok {
		return nil, nil, schema.ErrNotRegistered
	}
	if l.now().Unix() <= u.lastHeartbeat+u.inactivityPeriod {
		return nil, nil, schema.ErrNotYetEligible
	}
	// fail closed: the route payload must visibly name the beneficiary
	if !ContainsBeneficiary(routeInstructions, u.beneficiary) {
		return nil, nil, schema.ErrBeneficiaryAbsent
	}
	amount, err := l.aggregate(u, user, token)
	if err != nil {
		return nil, nil, err
	}
	if amount.Sign() == 0 {
		return nil, nil, schema.ErrNothingToLiquidate
	}
	return u, amount, nil
}

// delegate hands the bridged amount to the route target. On failure the funds
// are parked as stranded custody instead of being lost; lock held.
func (l *Ledger) delegate(u *userRecord, user, token common.Address, bridged *big.Int, routeInstructions []byte) error {
	if err := l.tokens.Transfer(token, l.self, l.router.Address(), bridged); err != nil {
		return err
	}
	if err := l.router.Execute(token, bridged, routeInstructions); err != nil {
		// claw the transfer back and park the amount for rescue
		if rb := l.tokens.Transfer(token, l.router.Address(), l.self, bridged); rb != nil {
			return rb
		}
		u.strand(token, bridged)
		return schema.ErrDelegationFailed
	}
	return nil
}

// RescueStranded moves bridged funds parked by a delegation failure back into
// the user's internal deposit, where the normal accounting can reach them.
func (l *Ledger) RescueStranded(caller, user, token common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner && caller != l.executor {
		return nil, schema.ErrUnauthorized
	}
	u, ok := l.users[user]
	if !ok {
		return nil, schema.ErrNotRegistered
	}
	s, ok := u.stranded[token]
	if !ok || s.Sign() == 0 {
		return nil, schema.ErrNotExist
	}
	rescued := new(big.Int).Set(s)
	dep := u.deposit(token)
	dep.Add(dep, rescued)
	s.SetInt64(0)
	return rescued, nil
}

func (u *userRecord) deposit(token common.Address) *big.Int {
	d, ok := u.deposits[token]
	if !ok {
		d = new(big.Int)
		u.deposits[token] = d
	}
	return d
}

// strand parks an amount held by the ledger but no longer tracked by any
// deposit, pending RescueStranded.
func (u *userRecord) strand(token common.Address, amount *big.Int) {
	s, ok := u.stranded[token]
	if !ok {
		s = new(big.Int)
		u.stranded[token] = s
	}
	s.Add(s, amount)
}
