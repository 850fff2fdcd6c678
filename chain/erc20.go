package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20AbiJson = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ERC20Reader serves the fund aggregator's wallet-side inputs.
type ERC20Reader struct {
	cli *ethclient.Client
	abi abi.ABI
}

func NewERC20Reader(cli *ethclient.Client) (*ERC20Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20AbiJson))
	if err != nil {
		return nil, err
	}
	return &ERC20Reader{cli: cli, abi: parsed}, nil
}

func (r *ERC20Reader) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return r.callUint(ctx, token, "balanceOf", holder)
}

func (r *ERC20Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return r.callUint(ctx, token, "allowance", owner, spender)
}

func (r *ERC20Reader) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := r.cli.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}
