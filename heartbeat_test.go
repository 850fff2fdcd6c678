package heirkeep

import (
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/heirkeep/heirkeep/ledger"
	"github.com/heirkeep/heirkeep/schema"
	"github.com/stretchr/testify/assert"
)

func signHeartbeat(t *testing.T, keyHex string, msg schema.HeartbeatMessage, chainId int64) string {
	key, err := crypto.HexToECDSA(keyHex)
	assert.NoError(t, err)
	digest, err := HeartbeatDigest(msg, chainId)
	assert.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	assert.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func newTestRelay(t *testing.T, dbPath string) (*Heirkeep, *ledger.Ledger, common.Address, string) {
	keyHex := "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	key, err := crypto.HexToECDSA(keyHex)
	assert.NoError(t, err)
	userAddr := crypto.PubkeyToAddress(key.PublicKey)

	executor := common.HexToAddress("0x1000000000000000000000000000000000000004")
	self := common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokens := ledger.NewMemTokens()
	l := ledger.New(self, executor, executor, executor, 1, tokens,
		ledger.NewSinkTarget(common.HexToAddress("0x1000000000000000000000000000000000000005")))

	store, err := NewBoltStore(dbPath)
	assert.NoError(t, err)

	h := &Heirkeep{
		store:    store,
		backend:  NewLocalBackend(l, executor),
		inflight: newInflightSet(),
	}
	return h, l, userAddr, keyHex
}

func TestProcessHeartbeat(t *testing.T) {
	dbPath := "./data/tmp-relay"
	h, l, userAddr, keyHex := newTestRelay(t, dbPath)
	defer func() {
		h.store.Close()
		os.RemoveAll(dbPath)
	}()

	ben := common.HexToAddress("0x2000000000000000000000000000000000000002")
	assert.NoError(t, l.Register(userAddr, ben, 3600))

	msg := schema.HeartbeatMessage{Message: "I'm alive", Timestamp: time.Now().UnixMilli(), Nonce: 1}
	req := schema.HeartbeatReq{
		Address:   userAddr.Hex(),
		Message:   msg,
		Signature: signHeartbeat(t, keyHex, msg, 1),
	}

	rec, err := h.processHeartbeat(req)
	assert.NoError(t, err)
	assert.Equal(t, toLower(userAddr), rec.Address)
	// period fetched from the ledger on first sight
	assert.Equal(t, int64(3600), rec.InactivityPeriod)
	assert.Greater(t, rec.LastSeen, int64(0))

	// replaying the same nonce is rejected
	_, err = h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrReplayedNonce)

	// next nonce goes through and advances lastSeen
	msg2 := schema.HeartbeatMessage{Message: "still here", Timestamp: time.Now().UnixMilli(), Nonce: 2}
	req2 := schema.HeartbeatReq{Address: userAddr.Hex(), Message: msg2, Signature: signHeartbeat(t, keyHex, msg2, 1)}
	rec2, err := h.processHeartbeat(req2)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, rec2.LastSeen, rec.LastSeen)
}

func TestProcessHeartbeatRejections(t *testing.T) {
	dbPath := "./data/tmp-relay-rej"
	h, l, userAddr, keyHex := newTestRelay(t, dbPath)
	defer func() {
		h.store.Close()
		os.RemoveAll(dbPath)
	}()

	ben := common.HexToAddress("0x2000000000000000000000000000000000000002")
	assert.NoError(t, l.Register(userAddr, ben, 3600))

	// stale: timestamp beyond the freshness window
	stale := schema.HeartbeatMessage{Message: "old", Timestamp: time.Now().Add(-6 * time.Minute).UnixMilli(), Nonce: 1}
	req := schema.HeartbeatReq{Address: userAddr.Hex(), Message: stale, Signature: signHeartbeat(t, keyHex, stale, 1)}
	_, err := h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrStaleHeartbeat)

	// far-future timestamps are equally rejected
	future := schema.HeartbeatMessage{Message: "soon", Timestamp: time.Now().Add(6 * time.Minute).UnixMilli(), Nonce: 1}
	req = schema.HeartbeatReq{Address: userAddr.Hex(), Message: future, Signature: signHeartbeat(t, keyHex, future, 1)}
	_, err = h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrStaleHeartbeat)

	// signature from a different key
	msg := schema.HeartbeatMessage{Message: "hello", Timestamp: time.Now().UnixMilli(), Nonce: 1}
	otherKey := "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	req = schema.HeartbeatReq{Address: userAddr.Hex(), Message: msg, Signature: signHeartbeat(t, otherKey, msg, 1)}
	_, err = h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrBadSignature)

	// signature bound to another chain id
	req = schema.HeartbeatReq{Address: userAddr.Hex(), Message: msg, Signature: signHeartbeat(t, keyHex, msg, 5)}
	_, err = h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrBadSignature)

	// malformed address
	req = schema.HeartbeatReq{Address: "not-an-address", Message: msg, Signature: signHeartbeat(t, keyHex, msg, 1)}
	_, err = h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrBadAddress)

	// unregistered signer: the ledger has no period to mirror
	unregKey := "4646464646464646464646464646464646464646464646464646464646464646"
	unreg, err := crypto.HexToECDSA(unregKey)
	assert.NoError(t, err)
	unregAddr := crypto.PubkeyToAddress(unreg.PublicKey)
	req = schema.HeartbeatReq{Address: unregAddr.Hex(), Message: msg, Signature: signHeartbeat(t, unregKey, msg, 1)}
	_, err = h.processHeartbeat(req)
	assert.ErrorIs(t, err, schema.ErrNotRegistered)
}
