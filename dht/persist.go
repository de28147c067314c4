// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package dht

import (
	"encoding/binary"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/veilmesh/meshcore/merr"
)

// WriteBehindLog persists DHT puts to an on-disk LevelDB instance so a
// restarted node can repopulate its store without waiting to relearn
// every record from the network. Once attached with Store.AttachLog,
// Store.Put appends each record to it synchronously, under the store's
// lock, after the in-memory write; an append error is ignored and does
// not fail the put.
type WriteBehindLog struct {
	db *leveldb.DB
}

// OpenWriteBehindLog opens (creating if necessary) a LevelDB instance at
// path for DHT record persistence.
func OpenWriteBehindLog(path string) (*WriteBehindLog, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, merr.Wrap(merr.Validation, "failed to open dht write-behind log", err)
	}
	return &WriteBehindLog{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (l *WriteBehindLog) Close() error {
	return l.db.Close()
}

// recordKey packs a DHT key and a monotonically increasing sequence
// number into a LevelDB key so replicas for the same DHT key sort
// together in insertion order.
func recordKey(key NodeID, seq uint64) []byte {
	out := make([]byte, NodeIDLen+8)
	copy(out, key[:])
	binary.BigEndian.PutUint64(out[NodeIDLen:], seq)
	return out
}

// Append writes one record replica to the log.
func (l *WriteBehindLog) Append(key NodeID, seq uint64, value []byte, ttl time.Duration, storedAt time.Time) error {
	buf := make([]byte, 8+8+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(ttl))
	binary.BigEndian.PutUint64(buf[8:16], uint64(storedAt.UnixNano()))
	copy(buf[16:], value)
	return l.db.Put(recordKey(key, seq), buf, nil)
}

// LoadAll replays every persisted record back into store, skipping any
// that have already expired by wall-clock time. It is meant to be called
// once at startup, before the node starts accepting DHT traffic.
func (l *WriteBehindLog) LoadAll(store *Store) error {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	now := store.now()
	for iter.Next() {
		k := iter.Key()
		if len(k) != NodeIDLen+8 {
			continue
		}
		var key NodeID
		copy(key[:], k[:NodeIDLen])

		v := iter.Value()
		if len(v) < 16 {
			continue
		}
		ttl := time.Duration(binary.BigEndian.Uint64(v[0:8]))
		storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(v[8:16])))
		value := append([]byte(nil), v[16:]...)

		if now.After(storedAt.Add(ttl)) {
			continue
		}
		remaining := ttl - now.Sub(storedAt)
		if remaining < MinTTL {
			remaining = MinTTL
		}
		store.Put(key, value, remaining)
	}
	return iter.Error()
}
