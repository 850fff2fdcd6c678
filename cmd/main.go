package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/heirkeep/heirkeep"
	"github.com/heirkeep/heirkeep/chain"
	hcommon "github.com/heirkeep/heirkeep/common"
	"github.com/heirkeep/heirkeep/ledger"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name: "heirkeep",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db_dir", Value: "./data/bolt", Usage: "bolt db dir path", EnvVars: []string{"DB_DIR"}},
			&cli.StringFlag{Name: "mysql", Value: "root@tcp(127.0.0.1:3306)/heirkeep?charset=utf8mb4&parseTime=True&loc=Local", Usage: "mysql dsn", EnvVars: []string{"MYSQL"}},
			&cli.StringFlag{Name: "sqlite", Value: "./data/heirkeep.sqlite", Usage: "sqlite file path", EnvVars: []string{"SQLITE"}},
			&cli.BoolFlag{Name: "use_sqlite", Value: false, Usage: "run with sqlite instead of mysql", EnvVars: []string{"USE_SQLITE"}},

			&cli.StringFlag{Name: "rpc", Value: "http://127.0.0.1:8545", Usage: "ledger chain rpc url", EnvVars: []string{"RPC"}},
			&cli.StringFlag{Name: "ledger_contract", Value: "", Usage: "deployed ledger contract address", EnvVars: []string{"LEDGER_CONTRACT"}},
			&cli.StringFlag{Name: "executor_key", Value: "", Usage: "executor private key hex", EnvVars: []string{"EXECUTOR_KEY"}},
			&cli.StringFlag{Name: "route_api", Value: "", Usage: "route-instruction source url", EnvVars: []string{"ROUTE_API"}},
			&cli.Int64Flag{Name: "chain_id", Value: 1, Usage: "chain id for dev mode", EnvVars: []string{"CHAIN_ID"}},

			&cli.BoolFlag{Name: "s3_flag", Value: false, Usage: "run with s3 store", EnvVars: []string{"S3_FLAG"}},
			&cli.StringFlag{Name: "s3_acc_key", Value: "", Usage: "s3 access key", EnvVars: []string{"S3_ACC_KEY"}},
			&cli.StringFlag{Name: "s3_secret_key", Value: "", Usage: "s3 secret key", EnvVars: []string{"S3_SECRET_KEY"}},
			&cli.StringFlag{Name: "s3_prefix", Value: "heirkeep", Usage: "s3 bucket name prefix", EnvVars: []string{"S3_PREFIX"}},
			&cli.StringFlag{Name: "s3_region", Value: "ap-northeast-1", Usage: "s3 bucket region", EnvVars: []string{"S3_REGION"}},
			&cli.StringFlag{Name: "s3_endpoint", Value: "", Usage: "s3 endpoint", EnvVars: []string{"S3_ENDPOINT"}},

			&cli.StringFlag{Name: "kafka", Value: "", Usage: "kafka broker uri, empty disables export", EnvVars: []string{"KAFKA"}},
			&cli.StringFlag{Name: "port", Value: ":8080", EnvVars: []string{"PORT"}},
			&cli.BoolFlag{Name: "dev", Value: false, Usage: "in-process ledger and stubbed route source", EnvVars: []string{"DEV"}},
		},
		Action: run,
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	backend, routeSource, vault, err := buildBackend(c)
	if err != nil {
		return err
	}

	h := heirkeep.New(
		c.String("db_dir"), c.String("mysql"), c.String("sqlite"), c.Bool("use_sqlite"),
		c.Bool("s3_flag"), c.String("s3_acc_key"), c.String("s3_secret_key"), c.String("s3_prefix"), c.String("s3_region"), c.String("s3_endpoint"),
		c.String("kafka"), c.Bool("dev"),
		backend, routeSource,
	)
	if vault != nil {
		h.AttachVault(vault)
	}
	h.Run(c.String("port"))
	hcommon.NewMetricServer()

	<-signals
	h.Close()

	return nil
}

// buildBackend wires the production chain backend, or the in-process ledger
// plus a destination vault when running with --dev. Production never silently
// substitutes the stub route source.
func buildBackend(c *cli.Context) (heirkeep.Backend, heirkeep.RouteSource, *ledger.Vault, error) {
	if c.Bool("dev") {
		executor := common.HexToAddress("0x00000000000000000000000000000000000e9ec0")
		self := common.HexToAddress("0x000000000000000000000000000000000001edde")
		tokens := ledger.NewMemTokens()
		l := ledger.New(self, executor, executor, executor, c.Int64("chain_id"), tokens,
			ledger.NewSinkTarget(common.HexToAddress("0x0000000000000000000000000000000000b41d9e")))

		vaultAddr := common.HexToAddress("0x000000000000000000000000000000000000a171")
		settlement := common.HexToAddress("0x00000000000000000000000000000000005e771e")
		vault := ledger.NewVault(vaultAddr, executor, settlement, tokens)
		if err := vault.AuthorizeRelayer(executor, executor); err != nil {
			return nil, nil, nil, err
		}
		return heirkeep.NewLocalBackend(l, executor), heirkeep.NewStubRouteSource(), vault, nil
	}

	key := c.String("executor_key")
	if key == "" {
		return nil, nil, nil, cli.Exit("executor_key is required outside dev mode", 1)
	}
	if c.String("route_api") == "" {
		return nil, nil, nil, cli.Exit("route_api is required outside dev mode", 1)
	}
	cli2, err := chain.NewLedgerClient(c.String("rpc"), common.HexToAddress(c.String("ledger_contract")), key)
	if err != nil {
		return nil, nil, nil, err
	}
	return cli2, heirkeep.NewRouteClient(c.String("route_api")), nil, nil
}
