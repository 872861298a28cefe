package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"onion-alerts/internal/domain"
	logging "onion-alerts/internal/infra/log"
	"onion-alerts/internal/state"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketUsers    = []byte("users")
	bucketTokens   = []byte("tokens")
	bucketPayments = []byte("payments")
	bucketMeta     = []byte("meta")

	keySavedAt = []byte("saved_at")
	keyVersion = []byte("version")
)

// BoltStore keeps the snapshot in a bbolt file, one bucket per map.
// Save replaces every bucket inside a single transaction.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load() (*state.Snapshot, error) {
	snap := state.NewSnapshot()
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		found = true
		if raw := meta.Get(keySavedAt); raw != nil {
			if err := snap.SavedAt.UnmarshalText(raw); err != nil {
				return fmt.Errorf("meta saved_at: %w", err)
			}
		}
		if raw := meta.Get(keyVersion); raw != nil {
			if v, err := strconv.Atoi(string(raw)); err == nil {
				snap.Version = v
			}
		}

		if b := tx.Bucket(bucketUsers); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				id, err := strconv.ParseInt(string(k), 10, 64)
				if err != nil {
					return fmt.Errorf("user key %q: %w", k, err)
				}
				var u domain.User
				if err := json.Unmarshal(v, &u); err != nil {
					return fmt.Errorf("user %d: %w", id, err)
				}
				snap.Users[id] = u
				return nil
			}); err != nil {
				return err
			}
		}

		if b := tx.Bucket(bucketTokens); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				var ts state.TokenState
				if err := json.Unmarshal(v, &ts); err != nil {
					return fmt.Errorf("token %s: %w", k, err)
				}
				snap.Tokens[string(k)] = ts
				return nil
			}); err != nil {
				return err
			}
		}

		if b := tx.Bucket(bucketPayments); b != nil {
			return b.ForEach(func(k, v []byte) error {
				id, err := strconv.ParseInt(string(v), 10, 64)
				if err != nil {
					return fmt.Errorf("payment %s: %w", k, err)
				}
				snap.UsedPayments[string(k)] = id
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load state from bolt: %w", err)
	}
	if !found {
		logging.LogDebug("Bolt store is empty, starting empty", zap.String("file", s.db.Path()))
		return nil, nil
	}
	return snap, nil
}

func (s *BoltStore) Save(snap *state.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketTokens, bucketPayments, bucketMeta} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("drop bucket %s: %w", name, err)
				}
			}
		}

		users, err := tx.CreateBucket(bucketUsers)
		if err != nil {
			return err
		}
		for id, u := range snap.Users {
			data, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("marshal user %d: %w", id, err)
			}
			if err := users.Put([]byte(strconv.FormatInt(id, 10)), data); err != nil {
				return err
			}
		}

		tokens, err := tx.CreateBucket(bucketTokens)
		if err != nil {
			return err
		}
		for key, ts := range snap.Tokens {
			data, err := json.Marshal(ts)
			if err != nil {
				return fmt.Errorf("marshal token %s: %w", key, err)
			}
			if err := tokens.Put([]byte(key), data); err != nil {
				return err
			}
		}

		payments, err := tx.CreateBucket(bucketPayments)
		if err != nil {
			return err
		}
		for hash, id := range snap.UsedPayments {
			if err := payments.Put([]byte(hash), []byte(strconv.FormatInt(id, 10))); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		savedAt, err := snap.SavedAt.MarshalText()
		if err != nil {
			return err
		}
		if err := meta.Put(keySavedAt, savedAt); err != nil {
			return err
		}
		return meta.Put(keyVersion, []byte(strconv.Itoa(snap.Version)))
	})
	if err != nil {
		return fmt.Errorf("failed to save state to bolt: %w", err)
	}

	logging.LogDebug("Saved state to bolt",
		zap.String("file", s.db.Path()),
		zap.Int("users", len(snap.Users)),
		zap.Int("tokens", len(snap.Tokens)))
	return nil
}
