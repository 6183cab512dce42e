package kv

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is the default on-device backend. Writes are synced so a value is
// on disk when Put returns.
type LevelDB struct {
	db *leveldb.DB
	wo *opt.WriteOptions
}

func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", dir, err)
	}
	log.Printf("kv: opened leveldb at %s", dir)
	return &LevelDB{db: db, wo: &opt.WriteOptions{Sync: true}}, nil
}

func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, ErrClosed
	}
	return v, err
}

func (l *LevelDB) Put(_ context.Context, key string, value []byte) error {
	err := l.db.Put([]byte(key), value, l.wo)
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (l *LevelDB) Delete(_ context.Context, key string) error {
	err := l.db.Delete([]byte(key), l.wo)
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
