// Package kvstore persists protocol aggregates in an embedded BadgerDB.
//
// Every aggregate lives under its own key prefix and is stored as JSON:
//
//	guardian\x00<address>
//	trust\x00<truster>\x00<trustee>
//	config\x00<account>
//	recovery\x00<id>
//	account-recovery\x00<account>\x00<id>   (index, empty value)
//
// Addresses never contain control characters, so NUL is a safe separator.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// Config holds BadgerDB settings
type Config struct {
	Path           string        `koanf:"path"`
	InMemory       bool          `koanf:"in_memory"`
	SyncWrites     bool          `koanf:"sync_writes"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// InMemoryConfig is used by tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store implements protocol.Store. Writers are serialized by a mutex so each
// WithinTx observes every earlier commit; readers use badger snapshots.
type Store struct {
	db     *badger.DB
	logger *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ protocol.Store = (*Store)(nil)

// Open opens or creates the database described by cfg
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		go s.runGC(cfg.GCInterval, ratio)
	} else {
		close(s.done)
	}
	return s, nil
}

// WithinTx runs fn in a read-write transaction. fn's error aborts the commit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx protocol.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return fn(ctx, &tx{txn: txn})
	})
}

// View runs fn against a read-only snapshot
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx protocol.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(ctx, &tx{txn: txn})
	})
}

// Ping reports whether the database is open
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("badger is closed")
	}
	return nil
}

// Close stops value log GC and closes the database
func (s *Store) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// one call rewrites at most one file; loop until nothing is left
			for {
				if err := s.db.RunValueLogGC(ratio); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("badger value log gc failed", zap.Error(err))
					}
					break
				}
			}
		}
	}
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
