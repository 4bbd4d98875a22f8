package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/decloud-network/validator/types"
)

var ownedPrefix = []byte("owned/")

// ownedRound is the engine's bookkeeping for a round it claimed.
type ownedRound struct {
	ID            uint64
	Status        uint32
	Dataset       string
	Reward        uint64
	ClaimedAt     int64
	Started       bool
	Finalized     bool
	RewardClaimed bool
}

func (o *ownedRound) status() types.RoundStatus {
	return types.RoundStatus(o.Status)
}

type database struct {
	db *leveldb.DB
}

// newDatabase opens the owned-round database at dbPath. An empty path keeps
// it in memory.
func newDatabase(dbPath string) (*database, error) {
	if dbPath == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory database: %w", err)
		}
		return &database{db}, nil
	}
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}
	return &database{db}, nil
}

func (db *database) Close() error {
	return db.db.Close()
}

func ownedKey(id uint64) []byte {
	key := make([]byte, len(ownedPrefix)+8)
	copy(key, ownedPrefix)
	binary.BigEndian.PutUint64(key[len(ownedPrefix):], id)
	return key
}

func (db *database) Save(o ownedRound) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &o); err != nil {
		return fmt.Errorf("serializing owned round: %w", err)
	}
	if err := db.db.Put(ownedKey(o.ID), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing owned round %d: %w", o.ID, err)
	}
	return nil
}

func (db *database) Delete(id uint64) error {
	if err := db.db.Delete(ownedKey(id), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("deleting owned round %d: %w", id, err)
	}
	return nil
}

func (db *database) All() ([]ownedRound, error) {
	iter := db.db.NewIterator(util.BytesPrefix(ownedPrefix), nil)
	defer iter.Release()

	var rounds []ownedRound
	for iter.Next() {
		var o ownedRound
		if _, err := xdr.Unmarshal(bytes.NewReader(iter.Value()), &o); err != nil {
			return nil, fmt.Errorf("deserializing owned round: %w", err)
		}
		rounds = append(rounds, o)
	}
	return rounds, iter.Error()
}
