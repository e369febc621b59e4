// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/hwdag/hwnode/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// EraDB is the secondary era index (§6: "era add/get/children"), backed by
// goleveldb rather than pebble: the era keyspace is tiny and narrow
// compared to the message log, so a second, simpler KV engine is used for
// it instead of sharing pebble's keyspace — exercising both storage
// dependencies the teacher's go.mod carries.
type EraDB struct {
	db *leveldb.DB
}

// OpenEraDB opens (creating if absent) a goleveldb database at dir.
func OpenEraDB(dir string) (*EraDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("dag: open era db: %w", err)
	}
	return &EraDB{db: db}, nil
}

const eraChildPrefix = 'k'

func eraKey(keyBlockHash common.Hash) []byte {
	return append([]byte{'e'}, keyBlockHash.Bytes()...)
}

func eraChildKey(parent, child common.Hash) []byte {
	k := make([]byte, 0, 1+2*common.HashLength)
	k = append(k, eraChildPrefix)
	k = append(k, parent.Bytes()...)
	return append(k, child.Bytes()...)
}

func (e *EraDB) PutEra(ctx context.Context, era *Era) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(era); err != nil {
		return fmt.Errorf("dag: encode era: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(eraKey(era.KeyBlockHash), buf.Bytes())
	if !era.ParentKeyBlockHash.IsZero() {
		batch.Put(eraChildKey(era.ParentKeyBlockHash, era.KeyBlockHash), nil)
	}
	return e.db.Write(batch, nil)
}

func (e *EraDB) GetEra(ctx context.Context, keyBlockHash common.Hash) (*Era, error) {
	val, err := e.db.Get(eraKey(keyBlockHash), nil)
	if err == leveldb.ErrNotFound {
		return nil, notFound(keyBlockHash)
	}
	if err != nil {
		return nil, err
	}
	var era Era
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&era); err != nil {
		return nil, fmt.Errorf("dag: decode era: %w", err)
	}
	return &era, nil
}

func (e *EraDB) ChildEras(ctx context.Context, keyBlockHash common.Hash) ([]common.Hash, error) {
	prefix := append([]byte{eraChildPrefix}, keyBlockHash.Bytes()...)
	iter := e.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var out []common.Hash
	for iter.Next() {
		out = append(out, common.BytesToHash(iter.Key()[len(prefix):]))
	}
	return out, iter.Error()
}

func (e *EraDB) Close() error { return e.db.Close() }
