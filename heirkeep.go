package heirkeep

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/heirkeep/heirkeep/config"
	"github.com/heirkeep/heirkeep/ledger"
)

// Heirkeep ties the engine together: the heartbeat relay, the cache store,
// the inactivity scanner and the liquidation executor, all driven against one
// ledger backend and one signing identity.
type Heirkeep struct {
	store  *Store
	engine *gin.Engine
	srv    *http.Server

	backend     Backend
	routeSource RouteSource
	vault       *ledger.Vault

	scheduler  *gocron.Scheduler
	inflight   *inflightSet
	scanFlight sync.Mutex

	wdb    *Wdb
	config *config.Config
	kw     *KWriter

	devMode bool

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(
	boltDirPath, mySqlDsn string, sqliteDir string, useSqlite bool,
	useS3 bool, s3AccKey, s3SecretKey, s3BucketPrefix, s3Region, s3Endpoint string,
	kafkaUri string, devMode bool,
	backend Backend, routeSource RouteSource,
) *Heirkeep {
	var err error
	KVDb := &Store{}
	if useS3 {
		KVDb, err = NewS3Store(s3AccKey, s3SecretKey, s3Region, s3BucketPrefix, s3Endpoint)
	} else {
		KVDb, err = NewBoltStore(boltDirPath)
	}
	if err != nil {
		panic(err)
	}

	wdb := &Wdb{}
	if useSqlite {
		wdb = NewSqliteDb(sqliteDir)
	} else {
		wdb = NewMysqlDb(mySqlDsn)
	}
	if err = wdb.Migrate(); err != nil {
		panic(err)
	}

	var kw *KWriter
	if kafkaUri != "" {
		kw, err = NewKWriter(LiquidationTopic, kafkaUri)
		if err != nil {
			panic(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Heirkeep{
		store:       KVDb,
		engine:      gin.Default(),
		backend:     backend,
		routeSource: routeSource,
		scheduler:   gocron.NewScheduler(time.UTC),
		inflight:    newInflightSet(),
		wdb:         wdb,
		config:      config.New(mySqlDsn, sqliteDir, useSqlite),
		kw:          kw,
		devMode:     devMode,
		runCtx:      ctx,
		runCancel:   cancel,
	}
	return h
}

// AttachVault hooks up a destination-side vault; must be called before Run.
// Its events are recorded durably and its balances served over the API.
func (h *Heirkeep) AttachVault(v *ledger.Vault) {
	h.vault = v
}

func (h *Heirkeep) Run(port string) {
	h.config.Run()
	go h.runAPI(port)
	go h.runJobs()
	go h.runWatcher()
	if h.vault != nil {
		go h.runVaultRecorder()
	}
}

// Config exposes the dynamic settings handle for seeding token lists.
func (h *Heirkeep) Config() *config.Config {
	return h.config
}

// Close stops accepting scheduler ticks, drains in-flight HTTP requests and
// closes the stores.
func (h *Heirkeep) Close() {
	h.runCancel()
	h.scheduler.Stop()

	if h.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.srv.Shutdown(ctx); err != nil {
			log.Error("h.srv.Shutdown(ctx)", "err", err)
		}
	}

	if h.kw != nil {
		h.kw.Close()
	}
	h.config.Close()
	h.wdb.Close()
	if err := h.store.Close(); err != nil {
		log.Error("h.store.Close()", "err", err)
	}
	log.Info("heirkeep closed")
}
