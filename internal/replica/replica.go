// Package replica keeps a client's confirmed shadow and its unconfirmed
// events in an embedded badger database, so a restarted client can resume a
// board from the serial it last saw instead of downloading it again.
package replica

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"boardsync-backend/internal/session"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "board/"

type Config struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements session.Replica. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("replica path is required")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create replica directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(boardID string) []byte {
	return []byte(keyPrefix + boardID)
}

// Load returns the saved snapshot of a board; false when none exists.
func (s *Store) Load(boardID string) (session.Snapshot, bool, error) {
	var snap session.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(boardID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("load replica %s: %w", boardID, err)
	}
	return snap, true, nil
}

func (s *Store) Save(snap session.Snapshot) error {
	if snap.BoardID == "" {
		return errors.New("snapshot has no board id")
	}
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode replica %s: %w", snap.BoardID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.BoardID), val)
	})
}

func (s *Store) Delete(boardID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(boardID))
	})
}

// Boards lists the ids of all saved boards.
func (s *Store) Boards() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return ids, err
}
