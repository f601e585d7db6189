// Package journal persists queued changes in a local bbolt file so edits that never
// reached the remote survive a crash. A clean session end purges its entries.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.etcd.io/bbolt"

	"github.com/and161185/cafe-collab/internal/crypto"
	"github.com/and161185/cafe-collab/internal/model"
)

var (
	bucketMeta    = []byte("meta")
	bucketChanges = []byte("changes")
	keySalt       = []byte("salt")
)

type record struct {
	ID         string    `json:"id"`
	Content    []byte    `json:"content"`
	Operation  string    `json:"op"`
	OriginUser string    `json:"user"`
	CreatedAt  time.Time `json:"createdAt"`
	Attempts   int       `json:"attempts"`
}

// Journal is a bbolt-backed store of pending changes, one entry per (workspace, file).
type Journal struct {
	db     *bbolt.DB
	sealer *crypto.Sealer
}

// Open opens or creates the journal at path. A non-empty passphrase seals every value.
func Open(path, passphrase string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}

	var salt []byte
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketChanges); err != nil {
			return fmt.Errorf("create changes bucket: %w", err)
		}
		salt = append([]byte(nil), meta.Get(keySalt)...)
		if len(salt) == 0 {
			if salt, err = crypto.RandBytes(crypto.SaltLen); err != nil {
				return err
			}
			return meta.Put(keySalt, salt)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if passphrase != "" {
		if j.sealer, err = crypto.NewSealer(passphrase, salt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return j, nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func wsKey(ws model.WorkspaceID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ws))
	return b
}

func fileKey(id model.FileID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(id))
	return b
}

func recordKey(ws model.WorkspaceID, id model.FileID) []byte {
	return append(wsKey(ws), fileKey(id)...)
}

// Put stores ch, replacing any earlier entry for the same file.
func (j *Journal) Put(ch model.PendingChange) error {
	data, err := json.Marshal(record{
		ID:         ch.ID.String(),
		Content:    ch.Content,
		Operation:  string(ch.Operation),
		OriginUser: ch.OriginUser,
		CreatedAt:  ch.CreatedAt,
		Attempts:   ch.Attempts,
	})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if j.sealer != nil {
		if data, err = j.sealer.Seal(recordKey(ch.WorkspaceID, ch.FileID), data); err != nil {
			return fmt.Errorf("seal change: %w", err)
		}
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketChanges).CreateBucketIfNotExists(wsKey(ch.WorkspaceID))
		if err != nil {
			return err
		}
		return b.Put(fileKey(ch.FileID), data)
	})
}

// Delete removes the entry for a file. Missing entries are not an error.
func (j *Journal) Delete(ws model.WorkspaceID, id model.FileID) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChanges).Bucket(wsKey(ws))
		if b == nil {
			return nil
		}
		return b.Delete(fileKey(id))
	})
}

// Load returns every entry stored for ws in file id order.
func (j *Journal) Load(ws model.WorkspaceID) ([]model.PendingChange, error) {
	var out []model.PendingChange
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChanges).Bucket(wsKey(ws))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return fmt.Errorf("corrupt journal key %x", k)
			}
			id := model.FileID(binary.BigEndian.Uint32(k))
			data := v
			if j.sealer != nil {
				var err error
				if data, err = j.sealer.Open(recordKey(ws, id), v); err != nil {
					return fmt.Errorf("open change %d: %w", id, err)
				}
			}
			var rec record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("unmarshal change %d: %w", id, err)
			}
			ch := model.PendingChange{
				WorkspaceID: ws,
				FileID:      id,
				Content:     rec.Content,
				Operation:   model.Operation(rec.Operation),
				OriginUser:  rec.OriginUser,
				CreatedAt:   rec.CreatedAt,
				Attempts:    rec.Attempts,
			}
			if uid, err := uuid.FromString(rec.ID); err == nil {
				ch.ID = uid
			}
			out = append(out, ch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Purge drops every entry of ws.
func (j *Journal) Purge(ws model.WorkspaceID) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		changes := tx.Bucket(bucketChanges)
		if changes.Bucket(wsKey(ws)) == nil {
			return nil
		}
		return changes.DeleteBucket(wsKey(ws))
	})
}
