package config

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron"
	hcommon "github.com/heirkeep/heirkeep/common"
)

var log = hcommon.NewLog("config")

// Config holds the engine's dynamic settings, refreshed from its own db on a
// schedule so fee, token list and timing changes land without a restart.
type Config struct {
	mu  sync.RWMutex
	wdb *Wdb

	feeBps         int64
	scanInterval   time.Duration
	confirmTimeout time.Duration
	destChain      int64
	destToken      string
	slippage       string
	tokens         []common.Address
	ipWhiteList    map[string]struct{}

	scheduler *gocron.Scheduler
}

func New(dsn string, sqliteDir string, useSqlite bool) *Config {
	wdb := &Wdb{}
	if useSqlite {
		wdb = NewSqliteWdb(sqliteDir)
	} else {
		wdb = NewWdb(dsn)
	}
	if err := wdb.Migrate(); err != nil {
		panic(err)
	}
	c := &Config{
		wdb:         wdb,
		ipWhiteList: make(map[string]struct{}),
		scheduler:   gocron.NewScheduler(time.UTC),
	}
	c.updateParam()
	c.updateTokens()
	c.updateIPWhiteList()
	return c
}

func (c *Config) Run() {
	go c.runJobs()
}

func (c *Config) Close() {
	c.scheduler.Stop()
	c.wdb.Close()
}

func (c *Config) GetFeeBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeBps
}

func (c *Config) GetScanInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanInterval
}

func (c *Config) GetConfirmTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirmTimeout
}

func (c *Config) GetDestChain() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destChain
}

func (c *Config) GetDestToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destToken
}

func (c *Config) GetSlippage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slippage
}

// GetTokens is the supported-token list the executor sweeps per user.
func (c *Config) GetTokens() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tokens := make([]common.Address, len(c.tokens))
	copy(tokens, c.tokens)
	return tokens
}

// SetTokens overrides the token list directly; used when no config db rows
// exist yet and by tests.
func (c *Config) SetTokens(tokens []common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
}

func (c *Config) GetIPWhiteList() *map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &c.ipWhiteList
}

func (c *Config) runJobs() {
	c.scheduler.Every(10).Seconds().SingletonMode().Do(c.updateParam)
	c.scheduler.Every(1).Minute().SingletonMode().Do(c.updateTokens)
	c.scheduler.Every(1).Minute().SingletonMode().Do(c.updateIPWhiteList)

	c.scheduler.StartAsync()
}

func (c *Config) updateParam() {
	param, err := c.wdb.GetParam()
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeBps = param.FeeBps
	c.scanInterval = time.Duration(param.ScanIntervalSec) * time.Second
	c.confirmTimeout = time.Duration(param.ConfirmTimeoutSec) * time.Second
	c.destChain = param.DestChain
	c.destToken = param.DestToken
	c.slippage = param.Slippage
}

func (c *Config) updateTokens() {
	rows, err := c.wdb.GetSupportedTokens()
	if err != nil {
		return
	}
	if len(rows) == 0 {
		return // keep whatever was seeded
	}
	tokens := make([]common.Address, 0, len(rows))
	for _, row := range rows {
		if !common.IsHexAddress(row.Address) {
			log.Warn("skip malformed supported token", "addr", row.Address)
			continue
		}
		tokens = append(tokens, common.HexToAddress(strings.ToLower(row.Address)))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
}

func (c *Config) updateIPWhiteList() {
	ips, err := c.wdb.GetAllAvailableIpRateWhitelist()
	if err != nil {
		return
	}
	ipWhiteList := make(map[string]struct{}, 0)
	for _, ip := range ips {
		ipWhiteList[ip.OriginOrIP] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ipWhiteList = ipWhiteList
}
