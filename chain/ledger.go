package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	hcommon "github.com/heirkeep/heirkeep/common"
	"github.com/heirkeep/heirkeep/ledger"
	"github.com/heirkeep/heirkeep/schema"
)

var log = hcommon.NewLog("chain")

const ledgerAbiJson = `[
	{"inputs":[{"name":"user","type":"address"}],"name":"checkStatus","outputs":[{"name":"canLiquidate","type":"bool"},{"name":"timeRemaining","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"user","type":"address"}],"name":"getUserInfo","outputs":[{"name":"beneficiary","type":"address"},{"name":"lastHeartbeat","type":"uint256"},{"name":"inactivityPeriod","type":"uint256"},{"name":"dead","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],"name":"getDeposit","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"routeInstructions","type":"bytes"}],"name":"liquidate","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"inactivityPeriod","type":"uint256"}],"name":"Registered","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"timestamp","type":"uint256"},{"indexed":false,"name":"inactivityPeriod","type":"uint256"}],"name":"Heartbeat","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"newPeriod","type":"uint256"}],"name":"PeriodUpdated","type":"event"}
]`

const receiptPollInterval = 3 * time.Second

// LedgerClient is the production ledger backend: a deployed contract driven
// through one signing identity. Submission is serialized so the single
// account never races its own nonce.
type LedgerClient struct {
	cli      *ethclient.Client
	caller   ethereum.ContractCaller
	erc20    *ERC20Reader
	abi      abi.ABI
	contract common.Address

	key      *ecdsa.PrivateKey
	executor common.Address
	chainId  *big.Int
	signer   types.Signer

	txMu sync.Mutex // one pending submission at a time

	eventPollInterval time.Duration
}

func NewLedgerClient(rpcUrl string, contract common.Address, executorKeyHex string) (*LedgerClient, error) {
	cli, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, err
	}
	chainId, err := cli.ChainID(context.Background())
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(executorKeyHex, "0x"))
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(ledgerAbiJson))
	if err != nil {
		return nil, err
	}
	erc20, err := NewERC20Reader(cli)
	if err != nil {
		return nil, err
	}
	c := &LedgerClient{
		cli:               cli,
		caller:            cli,
		erc20:             erc20,
		abi:               parsed,
		contract:          contract,
		key:               key,
		executor:          crypto.PubkeyToAddress(key.PublicKey),
		chainId:           chainId,
		signer:            types.LatestSignerForChainID(chainId),
		eventPollInterval: 10 * time.Second,
	}
	log.Info("ledger client ready", "contract", contract.Hex(), "executor", c.executor.Hex(), "chainId", chainId)
	return c, nil
}

func (c *LedgerClient) ChainId() int64 {
	return c.chainId.Int64()
}

// call packs and runs one read-only contract method, returning the unpacked
// outputs.
func (c *LedgerClient) call(method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return c.abi.Unpack(method, out)
}

func (c *LedgerClient) Executor() common.Address {
	return c.executor
}

func (c *LedgerClient) GetUserInfo(user common.Address) (ledger.UserInfo, error) {
	out, err := c.call("getUserInfo", user)
	if err != nil {
		return ledger.UserInfo{}, err
	}
	info := ledger.UserInfo{
		Beneficiary:      out[0].(common.Address),
		LastHeartbeat:    out[1].(*big.Int).Int64(),
		InactivityPeriod: out[2].(*big.Int).Int64(),
		Dead:             out[3].(bool),
	}
	if info.LastHeartbeat == 0 {
		return ledger.UserInfo{}, schema.ErrNotRegistered
	}
	return info, nil
}

func (c *LedgerClient) CheckStatus(user common.Address) (bool, int64, error) {
	out, err := c.call("checkStatus", user)
	if err != nil {
		return false, 0, err
	}
	return out[0].(bool), out[1].(*big.Int).Int64(), nil
}

// AmountToLiquidate aggregates min(allowance, balance) from the wallet plus
// the internal deposit, the same rule the contract applies.
func (c *LedgerClient) AmountToLiquidate(user, token common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	allowance, err := c.erc20.Allowance(ctx, token, user, c.contract)
	if err != nil {
		return nil, err
	}
	balance, err := c.erc20.BalanceOf(ctx, token, user)
	if err != nil {
		return nil, err
	}
	out, err := c.call("getDeposit", user, token)
	if err != nil {
		return nil, err
	}
	deposit := out[0].(*big.Int)

	pullable := allowance
	if balance.Cmp(allowance) < 0 {
		pullable = balance
	}
	return new(big.Int).Add(pullable, deposit), nil
}

// SimulateLiquidate dry-runs the call from the executor identity so revert
// causes surface before gas is spent.
func (c *LedgerClient) SimulateLiquidate(ctx context.Context, user, token common.Address, routeInstructions []byte) error {
	data, err := c.abi.Pack("liquidate", user, token, routeInstructions)
	if err != nil {
		return err
	}
	_, err = c.cli.CallContract(ctx, ethereum.CallMsg{
		From: c.executor,
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrSimulationFailed, err)
	}
	return nil
}

// Liquidate submits the settlement transaction and waits for its receipt.
// The nonce lock is held until the node acknowledges the submission; the
// confirmation wait runs outside it, bounded by ctx.
func (c *LedgerClient) Liquidate(ctx context.Context, user, token common.Address, routeInstructions []byte) (string, error) {
	data, err := c.abi.Pack("liquidate", user, token, routeInstructions)
	if err != nil {
		return "", err
	}

	tx, err := c.submit(ctx, data)
	if err != nil {
		return "", err
	}

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return tx.Hash().Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), schema.ErrDelegationFailed
	}
	return tx.Hash().Hex(), nil
}

func (c *LedgerClient) submit(ctx context.Context, data []byte) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.cli.PendingNonceAt(ctx, c.executor)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.cli.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := c.cli.EstimateGas(ctx, ethereum.CallMsg{
		From: c.executor,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrSimulationFailed, err)
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, err
	}
	if err := c.cli.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// waitMined polls for the receipt until ctx expires. A timed-out confirmation
// is a distinct outcome, never a silent drop.
func (c *LedgerClient) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.cli.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirmation timed out: %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// SubscribeEvents polls contract logs and replays liveness signals as ledger
// events. The channel closes on a poll failure; the watcher resubscribes with
// backoff.
func (c *LedgerClient) SubscribeEvents(ctx context.Context) (<-chan ledger.Event, error) {
	start, err := c.cli.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan ledger.Event, 128)
	go c.pollEvents(ctx, start, ch)
	return ch, nil
}

func (c *LedgerClient) pollEvents(ctx context.Context, fromBlock uint64, ch chan<- ledger.Event) {
	defer close(ch)
	ticker := time.NewTicker(c.eventPollInterval)
	defer ticker.Stop()

	topics := [][]common.Hash{{
		c.abi.Events["Registered"].ID,
		c.abi.Events["Heartbeat"].ID,
		c.abi.Events["PeriodUpdated"].ID,
	}}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := c.cli.BlockNumber(ctx)
		if err != nil {
			log.Error("c.cli.BlockNumber(ctx)", "err", err)
			return
		}
		if head < fromBlock {
			continue
		}
		logs, err := c.cli.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(head),
			Addresses: []common.Address{c.contract},
			Topics:    topics,
		})
		if err != nil {
			log.Error("c.cli.FilterLogs(ctx, query)", "err", err)
			return
		}
		for _, lg := range logs {
			ev, ok := c.decodeEvent(lg)
			if !ok {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		fromBlock = head + 1
	}
}

func (c *LedgerClient) decodeEvent(lg types.Log) (ledger.Event, bool) {
	if len(lg.Topics) < 2 {
		return ledger.Event{}, false
	}
	user := common.BytesToAddress(lg.Topics[1].Bytes())
	switch lg.Topics[0] {
	case c.abi.Events["Registered"].ID:
		vals, err := c.abi.Unpack("Registered", lg.Data)
		if err != nil {
			return ledger.Event{}, false
		}
		return ledger.Event{Kind: ledger.EventRegistered, User: user, Time: time.Now().Unix(), Period: vals[0].(*big.Int).Int64()}, true
	case c.abi.Events["Heartbeat"].ID:
		vals, err := c.abi.Unpack("Heartbeat", lg.Data)
		if err != nil {
			return ledger.Event{}, false
		}
		return ledger.Event{Kind: ledger.EventHeartbeat, User: user, Time: vals[0].(*big.Int).Int64(), Period: vals[1].(*big.Int).Int64()}, true
	case c.abi.Events["PeriodUpdated"].ID:
		vals, err := c.abi.Unpack("PeriodUpdated", lg.Data)
		if err != nil {
			return ledger.Event{}, false
		}
		return ledger.Event{Kind: ledger.EventPeriodUpdated, User: user, Period: vals[0].(*big.Int).Int64()}, true
	}
	return ledger.Event{}, false
}
