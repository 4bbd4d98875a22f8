package datasets

import (
	"bytes"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const recordPrefix = "installed/"

// installRecord is what is persisted about an installed dataset.
type installRecord struct {
	Name        string
	LocalPath   string
	Size        uint64
	Digest      []byte
	Gateway     string
	InstalledAt int64
}

type database struct {
	db *leveldb.DB
}

func newDatabase(dbPath string) (*database, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}
	return &database{db}, nil
}

func (db *database) Close() error {
	return db.db.Close()
}

func (db *database) Put(rec installRecord) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &rec); err != nil {
		return fmt.Errorf("serializing record: %w", err)
	}
	if err := db.db.Put([]byte(recordPrefix+rec.Name), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing record of %s: %w", rec.Name, err)
	}
	return nil
}

func (db *database) Delete(name string) error {
	if err := db.db.Delete([]byte(recordPrefix+name), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("deleting record of %s: %w", name, err)
	}
	return nil
}

func (db *database) All() ([]installRecord, error) {
	iter := db.db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer iter.Release()

	var records []installRecord
	for iter.Next() {
		var rec installRecord
		if _, err := xdr.Unmarshal(bytes.NewReader(iter.Value()), &rec); err != nil {
			return nil, fmt.Errorf("deserializing record %s: %w", iter.Key(), err)
		}
		records = append(records, rec)
	}
	return records, iter.Error()
}
