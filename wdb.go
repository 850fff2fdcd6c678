package heirkeep

import (
	"github.com/heirkeep/heirkeep/schema"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Wdb is the durable bookkeeping side: liquidation outcomes and vault events.
type Wdb struct {
	Db *gorm.DB
}

func NewMysqlDb(dsn string) *Wdb {
	logLevel := logger.Error
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:          logger.Default.LogMode(logLevel),
		CreateBatchSize: 200,
	})
	if err != nil {
		panic(err)
	}
	log.Info("connect mysql db success")
	return &Wdb{Db: db}
}

func NewSqliteDb(dbDir string) *Wdb {
	db, err := gorm.Open(sqlite.Open(dbDir), &gorm.Config{
		CreateBatchSize: 200,
	})
	if err != nil {
		panic(err)
	}
	log.Info("connect sqlite db success")
	return &Wdb{Db: db}
}

func (w *Wdb) Migrate() error {
	return w.Db.AutoMigrate(&schema.LiquidationRecord{}, &schema.VaultEventRecord{})
}

func (w *Wdb) Close() {
	sql, err := w.Db.DB()
	if err == nil {
		sql.Close()
	}
}

func (w *Wdb) InsertLiquidations(batchId string, results []schema.LiquidationResult) error {
	if len(results) == 0 {
		return nil
	}
	records := make([]schema.LiquidationRecord, 0, len(results))
	for _, r := range results {
		records = append(records, schema.LiquidationRecord{
			BatchId:     batchId,
			UserAddress: r.UserAddress,
			Token:       r.Token,
			Outcome:     r.Outcome,
			TxHash:      r.TxHash,
			Amount:      r.Amount,
			Fee:         r.Fee,
			Bridged:     r.Bridged,
			ErrMsg:      r.Error,
		})
	}
	return w.Db.Create(&records).Error
}

func (w *Wdb) GetLiquidations(userAddr string) ([]schema.LiquidationRecord, error) {
	res := make([]schema.LiquidationRecord, 0)
	err := w.Db.Where("user_address = ?", userAddr).Order("id desc").Find(&res).Error
	return res, err
}

func (w *Wdb) InsertVaultEvent(rec schema.VaultEventRecord) error {
	return w.Db.Create(&rec).Error
}
