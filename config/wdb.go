package config

import (
	"time"

	"github.com/heirkeep/heirkeep/config/schema"
	coreSchema "github.com/heirkeep/heirkeep/schema"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Wdb struct {
	Db *gorm.DB
}

func NewWdb(dsn string) *Wdb {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:          logger.Default.LogMode(logger.Error),
		CreateBatchSize: 10,
	})
	if err != nil {
		panic(err)
	}
	log.Info("connect config db success")
	return &Wdb{Db: db}
}

func NewSqliteWdb(dbPath string) *Wdb {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		panic(err)
	}
	log.Info("connect config db success")
	return &Wdb{Db: db}
}

func (w *Wdb) Migrate() error {
	return w.Db.AutoMigrate(&schema.EngineParam{}, &schema.SupportedToken{}, &schema.IpRateWhitelist{})
}

func (w *Wdb) GetParam() (param schema.EngineParam, err error) {
	err = w.Db.First(&param).Error
	if err == gorm.ErrRecordNotFound {
		param = schema.EngineParam{
			FeeBps:            coreSchema.DefaultFeeBps,
			ScanIntervalSec:   int64(coreSchema.DefaultScanInterval / time.Second),
			ConfirmTimeoutSec: int64(coreSchema.DefaultConfirmTimeout / time.Second),
			Slippage:          "0.5",
		}
		return param, nil
	}
	return
}

func (w *Wdb) GetSupportedTokens() (tokens []schema.SupportedToken, err error) {
	err = w.Db.Where("available = ?", true).Find(&tokens).Error
	return
}

func (w *Wdb) GetAllAvailableIpRateWhitelist() (ips []schema.IpRateWhitelist, err error) {
	err = w.Db.Where("available = ?", true).Find(&ips).Error
	return
}

func (w *Wdb) Close() {
	sql, err := w.Db.DB()
	if err == nil {
		sql.Close()
	}
}
