package heirkeep

import (
	"encoding/json"
	"strings"

	"github.com/heirkeep/heirkeep/rawdb"
	"github.com/heirkeep/heirkeep/schema"
)

// Store is the heartbeat cache over a KeyValueDB backend. Records mirror the
// ledger's notion of "last seen"; the scanner reads them, the relay and the
// event watcher write them.
type Store struct {
	KVDb rawdb.KeyValueDB
}

func NewBoltStore(boltDirPath string) (*Store, error) {
	boltDb, err := rawdb.NewBoltDB(boltDirPath)
	if err != nil {
		return nil, err
	}
	return &Store{KVDb: boltDb}, nil
}

func NewS3Store(accKey, secretKey, region, bucketPrefix, endpoint string) (*Store, error) {
	s3Db, err := rawdb.NewS3DB(accKey, secretKey, region, bucketPrefix, endpoint)
	if err != nil {
		return nil, err
	}
	return &Store{KVDb: s3Db}, nil
}

func (s *Store) SaveHeartbeat(rec schema.HeartbeatRecord) error {
	key := strings.ToLower(rec.Address)
	val, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.KVDb.Put(schema.HeartbeatBucket, key, val)
}

func (s *Store) LoadHeartbeat(addr string) (rec schema.HeartbeatRecord, err error) {
	data, err := s.KVDb.Get(schema.HeartbeatBucket, strings.ToLower(addr))
	if err != nil {
		return
	}
	err = json.Unmarshal(data, &rec)
	return
}

func (s *Store) IsExistHeartbeat(addr string) bool {
	return s.KVDb.Exist(schema.HeartbeatBucket, strings.ToLower(addr))
}

func (s *Store) DeleteHeartbeat(addr string) error {
	return s.KVDb.Delete(schema.HeartbeatBucket, strings.ToLower(addr))
}

// LoadAllHeartbeats returns every cached record; scan passes iterate this.
func (s *Store) LoadAllHeartbeats() ([]schema.HeartbeatRecord, error) {
	keys, err := s.KVDb.GetAllKey(schema.HeartbeatBucket)
	if err != nil {
		return nil, err
	}
	recs := make([]schema.HeartbeatRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := s.LoadHeartbeat(key)
		if err != nil {
			log.Error("load heartbeat record", "err", err, "addr", key)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) Close() error {
	return s.KVDb.Close()
}
