package ledger

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/heirkeep/heirkeep/schema"
	"github.com/stretchr/testify/assert"
)

var (
	vaultAddr   = common.HexToAddress("0x5000000000000000000000000000000000000001")
	vaultOwner  = common.HexToAddress("0x5000000000000000000000000000000000000002")
	vaultToken  = common.HexToAddress("0x5000000000000000000000000000000000000003")
	relayerA    = common.HexToAddress("0x5000000000000000000000000000000000000004")
	depositorA  = common.HexToAddress("0x5000000000000000000000000000000000000005")
	claimantOne = common.HexToAddress("0x5000000000000000000000000000000000000006")
	claimantTwo = common.HexToAddress("0x5000000000000000000000000000000000000007")
)

func newTestVault() (*Vault, *MemTokens) {
	tokens := NewMemTokens()
	v := NewVault(vaultAddr, vaultOwner, vaultToken, tokens)
	return v, tokens
}

func TestVaultDepositAndClaim(t *testing.T) {
	v, tokens := newTestVault()
	tokens.Mint(vaultToken, depositorA, big.NewInt(1000))
	tokens.Approve(vaultToken, depositorA, vaultAddr, big.NewInt(1000))

	assert.NoError(t, v.Deposit(depositorA, claimantOne, big.NewInt(300)))
	assert.Equal(t, int64(300), v.BalanceOf(claimantOne).Int64())
	assert.Equal(t, int64(300), v.TotalTracked().Int64())

	// partial claim
	assert.NoError(t, v.ClaimAmount(claimantOne, big.NewInt(100)))
	assert.Equal(t, int64(200), v.BalanceOf(claimantOne).Int64())
	bal, _ := tokens.BalanceOf(vaultToken, claimantOne)
	assert.Equal(t, int64(100), bal.Int64())

	// over-claim rejected
	assert.ErrorIs(t, v.ClaimAmount(claimantOne, big.NewInt(201)), schema.ErrInsufficientBalance)

	// full claim drains the credit
	amount, err := v.Claim(claimantOne)
	assert.NoError(t, err)
	assert.Equal(t, int64(200), amount.Int64())
	assert.Equal(t, int64(0), v.TotalTracked().Int64())

	_, err = v.Claim(claimantOne)
	assert.ErrorIs(t, err, schema.ErrZeroAmount)
}

func TestVaultDepositAuthorized(t *testing.T) {
	v, tokens := newTestVault()

	err := v.DepositAuthorized(relayerA, claimantOne, big.NewInt(100))
	assert.ErrorIs(t, err, schema.ErrUnauthorized)
	assert.ErrorIs(t, v.AuthorizeRelayer(relayerA, relayerA), schema.ErrUnauthorized)
	assert.NoError(t, v.AuthorizeRelayer(vaultOwner, relayerA))

	// tokens have not arrived: the credit must not run ahead of the funds
	err = v.DepositAuthorized(relayerA, claimantOne, big.NewInt(100))
	assert.ErrorIs(t, err, schema.ErrVaultUnderfunded)

	// bridge delivery lands by another path, now the credit is covered
	tokens.Mint(vaultToken, vaultAddr, big.NewInt(100))
	assert.NoError(t, v.DepositAuthorized(relayerA, claimantOne, big.NewInt(100)))
	assert.Equal(t, int64(100), v.BalanceOf(claimantOne).Int64())
}

func TestVaultRescueNeverCutsObligations(t *testing.T) {
	v, tokens := newTestVault()
	assert.NoError(t, v.AuthorizeRelayer(vaultOwner, relayerA))
	tokens.Mint(vaultToken, vaultAddr, big.NewInt(150))
	assert.NoError(t, v.DepositAuthorized(relayerA, claimantOne, big.NewInt(100)))

	// only the 50 of untracked excess is sweepable
	swept, err := v.RescueToken(vaultOwner, vaultToken)
	assert.NoError(t, err)
	assert.Equal(t, int64(50), swept.Int64())

	_, err = v.RescueToken(vaultOwner, vaultToken)
	assert.ErrorIs(t, err, schema.ErrZeroAmount)

	// foreign dust is fully sweepable
	dust := common.HexToAddress("0x5000000000000000000000000000000000000099")
	tokens.Mint(dust, vaultAddr, big.NewInt(7))
	swept, err = v.RescueToken(vaultOwner, dust)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), swept.Int64())

	// obligations still claimable in full
	assert.NoError(t, v.ClaimAmount(claimantOne, big.NewInt(100)))
}

func TestVaultTrackedNeverExceedsHeld(t *testing.T) {
	v, tokens := newTestVault()
	assert.NoError(t, v.AuthorizeRelayer(vaultOwner, relayerA))
	tokens.Mint(vaultToken, depositorA, big.NewInt(1_000_000))
	tokens.Approve(vaultToken, depositorA, vaultAddr, big.NewInt(1_000_000))

	rnd := rand.New(rand.NewSource(42))
	claimants := []common.Address{claimantOne, claimantTwo}
	for i := 0; i < 500; i++ {
		who := claimants[rnd.Intn(len(claimants))]
		amount := big.NewInt(rnd.Int63n(1000) + 1)
		switch rnd.Intn(4) {
		case 0:
			v.Deposit(depositorA, who, amount)
		case 1:
			// cover some authorized deposits with a prior delivery
			if rnd.Intn(2) == 0 {
				tokens.Mint(vaultToken, vaultAddr, amount)
			}
			v.DepositAuthorized(relayerA, who, amount)
		case 2:
			v.ClaimAmount(who, amount)
		case 3:
			v.Claim(who)
		}

		held, _ := tokens.BalanceOf(vaultToken, vaultAddr)
		tracked := v.TotalTracked()
		assert.LessOrEqual(t, tracked.Cmp(held), 0, "tracked %s exceeds held %s at step %d", tracked, held, i)

		sum := new(big.Int).Add(v.BalanceOf(claimantOne), v.BalanceOf(claimantTwo))
		assert.Equal(t, 0, sum.Cmp(tracked))
	}
}
