// Package cache keeps a local copy of each room's messages so a
// reopened room can paint its last known history before the server
// replay arrives. Cached entries are display-only; they are replaced
// wholesale by the live history and never merged into it.
package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/casaline/casachat/internal/store"
)

var roomsBucket = []byte("rooms")

// Cache is a bbolt-backed room message cache.
type Cache struct {
	db *bbolt.DB
}

// Open opens or creates the cache file.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// SaveRoom stores a room's current messages, replacing any previous
// snapshot. Pending and failed entries are skipped; they belong to a
// live session only.
func (c *Cache) SaveRoom(roomID string, msgs []store.Message) error {
	durable := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Status == store.StatusPending || m.Status == store.StatusFailed {
			continue
		}
		durable = append(durable, m)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(durable); err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(roomsBucket).Put([]byte(roomID), buf.Bytes())
	})
}

// LoadRoom returns the cached snapshot for a room, or nil when none
// exists.
func (c *Cache) LoadRoom(roomID string) ([]store.Message, error) {
	var msgs []store.Message
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(roomsBucket).Get([]byte(roomID))
		if data == nil {
			return nil
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&msgs)
	})
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return msgs, nil
}

// DeleteRoom drops a room's snapshot, e.g. after the room was deleted
// server-side.
func (c *Cache) DeleteRoom(roomID string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(roomsBucket).Delete([]byte(roomID))
	})
}

// Rooms lists the room ids with cached snapshots.
func (c *Cache) Rooms() ([]string, error) {
	var ids []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(roomsBucket).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close releases the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}
