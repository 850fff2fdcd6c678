package heirkeep

import (
	"context"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/heirkeep/heirkeep/ledger"
)

// Backend is the executor's view of the authoritative ledger. Production runs
// against a deployed contract (chain.LedgerClient); dev and test modes run
// against the in-process ledger via LocalBackend.
type Backend interface {
	ChainId() int64
	GetUserInfo(user common.Address) (ledger.UserInfo, error)
	CheckStatus(user common.Address) (canLiquidate bool, timeRemaining int64, err error)
	AmountToLiquidate(user, token common.Address) (*big.Int, error)
	SimulateLiquidate(ctx context.Context, user, token common.Address, routeInstructions []byte) error
	Liquidate(ctx context.Context, user, token common.Address, routeInstructions []byte) (txHash string, err error)
	SubscribeEvents(ctx context.Context) (<-chan ledger.Event, error)
}

// LocalBackend adapts the in-process ledger to the Backend surface. The
// executor identity is fixed at construction, mirroring the single signing
// key of the production backend.
type LocalBackend struct {
	ledger   *ledger.Ledger
	executor common.Address
}

func NewLocalBackend(l *ledger.Ledger, executor common.Address) *LocalBackend {
	return &LocalBackend{ledger: l, executor: executor}
}

func (b *LocalBackend) ChainId() int64 {
	return b.ledger.ChainId()
}

func (b *LocalBackend) GetUserInfo(user common.Address) (ledger.UserInfo, error) {
	return b.ledger.GetUserInfo(user)
}

func (b *LocalBackend) CheckStatus(user common.Address) (bool, int64, error) {
	return b.ledger.CheckStatus(user)
}

func (b *LocalBackend) AmountToLiquidate(user, token common.Address) (*big.Int, error) {
	return b.ledger.AmountToLiquidate(user, token)
}

func (b *LocalBackend) SimulateLiquidate(ctx context.Context, user, token common.Address, routeInstructions []byte) error {
	if err := b.ledger.SimulateLiquidate(b.executor, user, token, routeInstructions); err != nil {
		return err
	}
	return ctx.Err()
}

func (b *LocalBackend) Liquidate(ctx context.Context, user, token common.Address, routeInstructions []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := b.ledger.Liquidate(b.executor, user, token, routeInstructions); err != nil {
		return "", err
	}
	return localTxHash(user, token), nil
}

func (b *LocalBackend) SubscribeEvents(ctx context.Context) (<-chan ledger.Event, error) {
	sub := b.ledger.Feed().Subscribe()
	go func() {
		<-ctx.Done()
		b.ledger.Feed().Unsubscribe(sub)
	}()
	return sub, nil
}

// localTxHash fabricates a settlement hash for in-process execution so the
// result records keep the same shape in every mode.
func localTxHash(user, token common.Address) string {
	buf := make([]byte, 0, 48)
	buf = append(buf, user.Bytes()...)
	buf = append(buf, token.Bytes()...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))
	buf = append(buf, ts[:]...)
	return hexutil.Encode(crypto.Keccak256(buf))
}

var _ Backend = (*LocalBackend)(nil)
