package ledger

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/heirkeep/heirkeep/schema"
	"github.com/stretchr/testify/assert"
)

var (
	selfAddr     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	ownerAddr    = common.HexToAddress("0x1000000000000000000000000000000000000002")
	relayerAddr  = common.HexToAddress("0x1000000000000000000000000000000000000003")
	executorAddr = common.HexToAddress("0x1000000000000000000000000000000000000004")
	routerAddr   = common.HexToAddress("0x1000000000000000000000000000000000000005")

	userAddr = common.HexToAddress("0x2000000000000000000000000000000000000001")
	benAddr  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenX   = common.HexToAddress("0x3000000000000000000000000000000000000001")
	tokenY   = common.HexToAddress("0x3000000000000000000000000000000000000002")
)

type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newTestLedger() (*Ledger, *MemTokens, *testClock) {
	tokens := NewMemTokens()
	l := New(selfAddr, ownerAddr, relayerAddr, executorAddr, 1, tokens, NewSinkTarget(routerAddr))
	clock := &testClock{cur: time.Unix(1700000000, 0)}
	l.SetClock(clock.now)
	return l, tokens, clock
}

func validRoute(beneficiary common.Address) []byte {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	payload = append(payload, make([]byte, 12)...)
	payload = append(payload, beneficiary.Bytes()...)
	payload = append(payload, make([]byte, 64)...)
	return payload
}

func TestRegisterValidation(t *testing.T) {
	l, _, _ := newTestLedger()

	err := l.Register(userAddr, common.Address{}, 3600)
	assert.ErrorIs(t, err, schema.ErrZeroBeneficiary)

	err = l.Register(userAddr, userAddr, 3600)
	assert.ErrorIs(t, err, schema.ErrSelfBeneficiary)

	err = l.Register(userAddr, benAddr, 10) // below 30s floor
	assert.ErrorIs(t, err, schema.ErrPeriodTooShort)

	err = l.Register(userAddr, benAddr, 3600)
	assert.NoError(t, err)

	err = l.Register(userAddr, benAddr, 3600)
	assert.ErrorIs(t, err, schema.ErrAlreadyRegistered)
}

func TestCheckStatusSevenDayPeriod(t *testing.T) {
	l, _, clock := newTestLedger()
	period := int64(7 * 24 * 3600)
	assert.NoError(t, l.Register(userAddr, benAddr, period))

	canLiquidate, remaining, err := l.CheckStatus(userAddr)
	assert.NoError(t, err)
	assert.False(t, canLiquidate)
	assert.Equal(t, period, remaining)

	// 6d23h in: still alive
	clock.advance(6*24*time.Hour + 23*time.Hour)
	canLiquidate, remaining, err = l.CheckStatus(userAddr)
	assert.NoError(t, err)
	assert.False(t, canLiquidate)
	assert.Equal(t, int64(3600), remaining)

	// 7d + 1s: eligible
	clock.advance(time.Hour + time.Second)
	canLiquidate, remaining, err = l.CheckStatus(userAddr)
	assert.NoError(t, err)
	assert.True(t, canLiquidate)
	assert.Equal(t, int64(0), remaining)
}

func TestHeartbeatResetsDeadlineAndNeverDecreases(t *testing.T) {
	l, tokens, clock := newTestLedger()
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))

	clock.advance(30 * time.Minute)
	assert.NoError(t, l.Ping(userAddr))
	info, err := l.GetUserInfo(userAddr)
	assert.NoError(t, err)
	first := info.LastHeartbeat
	assert.Equal(t, clock.now().Unix(), first)

	// deposit and withdraw both count as heartbeats
	tokens.Mint(tokenX, userAddr, big.NewInt(500))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(500))
	clock.advance(10 * time.Minute)
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(200)))
	info, _ = l.GetUserInfo(userAddr)
	assert.Greater(t, info.LastHeartbeat, first)

	clock.advance(10 * time.Minute)
	assert.NoError(t, l.WithdrawFunds(userAddr, tokenX, big.NewInt(50)))
	info2, _ := l.GetUserInfo(userAddr)
	assert.Greater(t, info2.LastHeartbeat, info.LastHeartbeat)

	// relay-assisted heartbeat requires the relayer identity
	assert.ErrorIs(t, l.PingFor(userAddr, userAddr), schema.ErrUnauthorized)
	assert.NoError(t, l.PingFor(relayerAddr, userAddr))
}

func TestWithdrawBounds(t *testing.T) {
	l, tokens, _ := newTestLedger()
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))
	tokens.Mint(tokenX, userAddr, big.NewInt(100))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(100))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))

	err := l.WithdrawFunds(userAddr, tokenX, big.NewInt(101))
	assert.ErrorIs(t, err, schema.ErrInsufficientDeposit)
	assert.NoError(t, l.WithdrawFunds(userAddr, tokenX, big.NewInt(100)))
	bal, _ := tokens.BalanceOf(tokenX, userAddr)
	assert.Equal(t, int64(100), bal.Int64())
}

func TestUpdateBeneficiaryAndPeriod(t *testing.T) {
	l, _, _ := newTestLedger()
	assert.ErrorIs(t, l.UpdateBeneficiary(userAddr, benAddr), schema.ErrNotRegistered)
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))

	assert.ErrorIs(t, l.UpdateBeneficiary(userAddr, userAddr), schema.ErrSelfBeneficiary)
	newBen := common.HexToAddress("0x2000000000000000000000000000000000000009")
	assert.NoError(t, l.UpdateBeneficiary(userAddr, newBen))
	info, _ := l.GetUserInfo(userAddr)
	assert.Equal(t, newBen, info.Beneficiary)

	assert.ErrorIs(t, l.UpdateInactivityPeriod(userAddr, 5), schema.ErrPeriodTooShort)
	assert.NoError(t, l.UpdateInactivityPeriod(userAddr, 7200))
	info, _ = l.GetUserInfo(userAddr)
	assert.Equal(t, int64(7200), info.InactivityPeriod)
}

func TestAmountToLiquidateAggregation(t *testing.T) {
	l, tokens, _ := newTestLedger()
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))

	// deposit 100, wallet 70 with allowance 50: min(50,70)+100 = 150
	tokens.Mint(tokenX, userAddr, big.NewInt(170))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(170))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(50))

	amount, err := l.AmountToLiquidate(userAddr, tokenX)
	assert.NoError(t, err)
	assert.Equal(t, int64(150), amount.Int64())

	// a token the user never touched aggregates to zero, not an error
	amount, err = l.AmountToLiquidate(userAddr, tokenY)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), amount.Int64())
}

func TestFeeSplitExact(t *testing.T) {
	l, _, _ := newTestLedger()
	for _, amount := range []int64{1, 99, 100, 101, 10000, 123456789} {
		fee, bridged := l.FeeSplit(big.NewInt(amount))
		assert.Equal(t, amount*100/10000, fee.Int64())
		assert.Equal(t, amount, new(big.Int).Add(fee, bridged).Int64())
	}
}

func TestLiquidateDepositOnly(t *testing.T) {
	l, tokens, clock := newTestLedger()
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))

	// deposit 100 of tokenX, no wallet allowance afterwards
	tokens.Mint(tokenX, userAddr, big.NewInt(100))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(100))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))

	route := validRoute(benAddr)

	// not yet past the deadline
	_, err := l.Liquidate(executorAddr, userAddr, tokenX, route)
	assert.ErrorIs(t, err, schema.ErrNotYetEligible)

	clock.advance(3601 * time.Second)

	// only the executor identity may liquidate
	_, err = l.Liquidate(ownerAddr, userAddr, tokenX, route)
	assert.ErrorIs(t, err, schema.ErrUnauthorized)

	out, err := l.Liquidate(executorAddr, userAddr, tokenX, route)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), out.Amount.Int64())
	assert.Equal(t, int64(1), out.Fee.Int64())
	assert.Equal(t, int64(99), out.Bridged.Int64())

	// fee went to the executor, bridged went to the route target
	feeBal, _ := tokens.BalanceOf(tokenX, executorAddr)
	assert.Equal(t, int64(1), feeBal.Int64())
	routedBal, _ := tokens.BalanceOf(tokenX, routerAddr)
	assert.Equal(t, int64(99), routedBal.Int64())
	assert.Equal(t, int64(0), l.DepositOf(userAddr, tokenX).Int64())

	info, _ := l.GetUserInfo(userAddr)
	assert.True(t, info.Dead)

	// dead is terminal for liveness operations
	assert.ErrorIs(t, l.Ping(userAddr), schema.ErrAlreadyDead)
	assert.ErrorIs(t, l.DepositFunds(userAddr, tokenX, big.NewInt(1)), schema.ErrAlreadyDead)
	assert.ErrorIs(t, l.UpdateBeneficiary(userAddr, relayerAddr), schema.ErrAlreadyDead)
}

func TestLiquidateSecondTokenOnDeadUser(t *testing.T) {
	l, tokens, clock := newTestLedger()
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))

	tokens.Mint(tokenX, userAddr, big.NewInt(100))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(100))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))
	// tokenY stays in the wallet, covered by allowance
	tokens.Mint(tokenY, userAddr, big.NewInt(200))
	tokens.Approve(tokenY, userAddr, selfAddr, big.NewInt(200))

	clock.advance(3601 * time.Second)
	route := validRoute(benAddr)

	_, err := l.Liquidate(executorAddr, userAddr, tokenX, route)
	assert.NoError(t, err)

	// second sweep on an already-dead user proceeds independently
	out, err := l.Liquidate(executorAddr, userAddr, tokenY, route)
	assert.NoError(t, err)
	assert.Equal(t, int64(200), out.Amount.Int64())

	// nothing left for a third call on the same token
	_, err = l.Liquidate(executorAddr, userAddr, tokenY, route)
	assert.ErrorIs(t, err, schema.ErrNothingToLiquidate)
}

func TestLiquidateRejectsForeignRoute(t *testing.T) {
	l, tokens, clock := newTestLedger()
	assert.NoError(t, l.Register(userAddr, benAddr, 3600))
	tokens.Mint(tokenX, userAddr, big.NewInt(100))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(100))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))
	clock.advance(3601 * time.Second)

	// payload names some other address, never the beneficiary
	stranger := common.HexToAddress("0x4000000000000000000000000000000000000004")
	_, err := l.Liquidate(executorAddr, userAddr, tokenX, validRoute(stranger))
	assert.ErrorIs(t, err, schema.ErrBeneficiaryAbsent)

	// no funds moved, deposit intact, user not marked dead
	assert.Equal(t, int64(100), l.DepositOf(userAddr, tokenX).Int64())
	info, _ := l.GetUserInfo(userAddr)
	assert.False(t, info.Dead)
}

type failingTarget struct {
	addr common.Address
}

func (t *failingTarget) Address() common.Address { return t.addr }
func (t *failingTarget) Execute(common.Address, *big.Int, []byte) error {
	return schema.ErrDelegationFailed
}

func TestDelegationFailureRetainsCustody(t *testing.T) {
	tokens := NewMemTokens()
	l := New(selfAddr, ownerAddr, relayerAddr, executorAddr, 1, tokens, &failingTarget{addr: routerAddr})
	clock := &testClock{cur: time.Unix(1700000000, 0)}
	l.SetClock(clock.now)

	assert.NoError(t, l.Register(userAddr, benAddr, 3600))
	tokens.Mint(tokenX, userAddr, big.NewInt(100))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(100))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))
	clock.advance(3601 * time.Second)

	out, err := l.Liquidate(executorAddr, userAddr, tokenX, validRoute(benAddr))
	assert.ErrorIs(t, err, schema.ErrDelegationFailed)
	assert.NotNil(t, out)

	// bridged amount never left ledger custody
	selfBal, _ := tokens.BalanceOf(tokenX, selfAddr)
	assert.Equal(t, int64(99), selfBal.Int64())
	assert.Equal(t, int64(99), l.StrandedOf(userAddr, tokenX).Int64())

	// rescue surfaces it back through the deposit accounting
	rescued, err := l.RescueStranded(ownerAddr, userAddr, tokenX)
	assert.NoError(t, err)
	assert.Equal(t, int64(99), rescued.Int64())
	assert.Equal(t, int64(99), l.DepositOf(userAddr, tokenX).Int64())
	assert.Equal(t, int64(0), l.StrandedOf(userAddr, tokenX).Int64())
}

var errFeePayoutBlocked = errors.New("fee payout blocked")

// feeBlockingTokens fails any transfer toward one address, everything else
// passes through.
type feeBlockingTokens struct {
	*MemTokens
	blocked common.Address
}

func (f *feeBlockingTokens) Transfer(token, from, to common.Address, amount *big.Int) error {
	if to == f.blocked {
		return errFeePayoutBlocked
	}
	return f.MemTokens.Transfer(token, from, to, amount)
}

func TestFeePayoutFailureRetainsCustody(t *testing.T) {
	tokens := &feeBlockingTokens{MemTokens: NewMemTokens(), blocked: executorAddr}
	l := New(selfAddr, ownerAddr, relayerAddr, executorAddr, 1, tokens, NewSinkTarget(routerAddr))
	clock := &testClock{cur: time.Unix(1700000000, 0)}
	l.SetClock(clock.now)

	assert.NoError(t, l.Register(userAddr, benAddr, 3600))
	tokens.Mint(tokenX, userAddr, big.NewInt(100))
	tokens.Approve(tokenX, userAddr, selfAddr, big.NewInt(100))
	assert.NoError(t, l.DepositFunds(userAddr, tokenX, big.NewInt(100)))
	clock.advance(3601 * time.Second)

	_, err := l.Liquidate(executorAddr, userAddr, tokenX, validRoute(benAddr))
	assert.ErrorIs(t, err, errFeePayoutBlocked)

	// the full swept amount stays in ledger custody, parked for rescue
	selfBal, _ := tokens.BalanceOf(tokenX, selfAddr)
	assert.Equal(t, int64(100), selfBal.Int64())
	assert.Equal(t, int64(0), l.DepositOf(userAddr, tokenX).Int64())
	assert.Equal(t, int64(100), l.StrandedOf(userAddr, tokenX).Int64())

	rescued, err := l.RescueStranded(ownerAddr, userAddr, tokenX)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), rescued.Int64())
	assert.Equal(t, int64(100), l.DepositOf(userAddr, tokenX).Int64())
}

func TestEventFeedLivenessSignals(t *testing.T) {
	l, _, _ := newTestLedger()
	sub := l.Feed().Subscribe()

	assert.NoError(t, l.Register(userAddr, benAddr, 3600))
	assert.NoError(t, l.Ping(userAddr))
	assert.NoError(t, l.UpdateInactivityPeriod(userAddr, 7200))

	kinds := []string{}
	for i := 0; i < 3; i++ {
		ev := <-sub
		kinds = append(kinds, ev.Kind)
		assert.Equal(t, userAddr, ev.User)
	}
	assert.Equal(t, []string{EventRegistered, EventHeartbeat, EventPeriodUpdated}, kinds)
	l.Feed().Unsubscribe(sub)
}
