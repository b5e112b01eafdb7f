package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
)

const (
	backendNameBadger   = "badger"
	battleSequenceKey   = "seq/battle"
	battleSequenceBatch = 128
)

// BadgerStore is a Store on an embedded badger database. Transactions use
// badger's optimistic concurrency and are retried on ErrConflict.
type BadgerStore struct {
	db   *badger.DB
	seq  *badger.Sequence
	opts options
}

// NewBadgerStore opens a badger database at the configured path, or an
// in-memory one when the path is empty.
func NewBadgerStore(opts ...Option) (*BadgerStore, error) {
	o := newOptions(opts)

	bopts := badger.DefaultOptions(o.badgerPath)
	if o.badgerPath == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(badgerLogger{log: o.logger.Named("badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", o.badgerPath, err)
	}
	seq, err := db.GetSequence([]byte(battleSequenceKey), battleSequenceBatch)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("battle sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, opts: o}, nil
}

// GetImage implements Store.
func (s *BadgerStore) GetImage(_ context.Context, id string) (model.ImageRecord, error) {
	var img model.ImageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		img, err = getImage(txn, id)
		return err
	})
	return img, mapBadgerErr(err)
}

// PutImage implements Store.
func (s *BadgerStore) PutImage(ctx context.Context, img model.ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return putImage(txn, img)
	})
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn, seq: s.seq})
	})
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	err := retryConflicts(ctx, s.opts, backendNameBadger, isBadgerConflict, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			if err := fn(txn); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("commit aborted: %w", err)
			}
			return nil
		})
	})
	return mapBadgerErr(err)
}

type badgerTx struct {
	txn *badger.Txn
	seq *badger.Sequence
}

func (t *badgerTx) GetImage(_ context.Context, id string) (model.ImageRecord, error) {
	img, err := getImage(t.txn, id)
	return img, mapBadgerErr(err)
}

func (t *badgerTx) PutImage(_ context.Context, img model.ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	return putImage(t.txn, img)
}

func (t *badgerTx) AppendBattle(_ context.Context, b model.BattleRecord) error {
	if b.ID == "" {
		return fmt.Errorf("%w: battle without id", ErrInvalidImage)
	}
	n, err := t.seq.Next()
	if err != nil {
		return fmt.Errorf("battle sequence: %w", err)
	}
	return setJSON(t.txn, battleKey(n, b.ID), b)
}

// ScanPool implements Store.
func (s *BadgerStore) ScanPool(_ context.Context, after model.PoolCursor, limit int) ([]model.ImageRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	prefix := []byte(prefixSeed)
	// The smallest key strictly greater than the cursor key.
	start := append(seedKey(after.Seed, after.ID), 0)

	out := make([]model.ImageRecord, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			id := idFromIndexKey(it.Item().Key(), len(prefix))
			img, err := getImage(txn, id)
			if err != nil {
				return fmt.Errorf("pool entry %s: %w", id, err)
			}
			out = append(out, img)
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

// CountPool implements Store.
func (s *BadgerStore) CountPool(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixSeed)
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, mapBadgerErr(err)
}

// QueryRanked implements Store.
func (s *BadgerStore) QueryRanked(_ context.Context, gender model.Gender, dir model.Direction, limit int) ([]model.ImageRecord, error) {
	if err := validateRankQuery(gender, dir, limit); err != nil {
		return nil, err
	}
	prefix := ratingPrefix(gender)
	reverse := dir == model.DirectionTop

	out := make([]model.ImageRecord, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = prefix
		iopts.Reverse = reverse
		it := txn.NewIterator(iopts)
		defer it.Close()

		seek := prefix
		if reverse {
			seek = append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, floatLen+1)...)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			id := idFromIndexKey(it.Item().Key(), len(prefix))
			img, err := getImage(txn, id)
			if err != nil {
				return fmt.Errorf("rank entry %s: %w", id, err)
			}
			out = append(out, img)
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

// ListBattles implements Store.
func (s *BadgerStore) ListBattles(_ context.Context, limit int) ([]model.BattleRecord, error) {
	var out []model.BattleRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixBattle)
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var b model.BattleRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return fmt.Errorf("decode battle: %w", err)
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

// GetLeaderboard implements Store.
func (s *BadgerStore) GetLeaderboard(_ context.Context, key string) (model.LeaderboardDocument, error) {
	var doc model.LeaderboardDocument
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, leaderboardKey(key), &doc)
	})
	if err != nil {
		return model.LeaderboardDocument{}, fmt.Errorf("leaderboard %s: %w", key, mapBadgerErr(err))
	}
	return doc, nil
}

// PutLeaderboard implements Store.
func (s *BadgerStore) PutLeaderboard(ctx context.Context, doc model.LeaderboardDocument) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, leaderboardKey(doc.Key), doc)
	})
}

// GetMetadata implements Store.
func (s *BadgerStore) GetMetadata(_ context.Context) (model.GlobalMetadata, error) {
	var meta model.GlobalMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(keyMetadata), &meta)
	})
	if err != nil {
		return model.GlobalMetadata{}, fmt.Errorf("global metadata: %w", mapBadgerErr(err))
	}
	return meta, nil
}

// PutMetadata implements Store.
func (s *BadgerStore) PutMetadata(ctx context.Context, meta model.GlobalMetadata) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, []byte(keyMetadata), meta)
	})
}

// Close releases the battle sequence and closes the database.
func (s *BadgerStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

func getImage(txn *badger.Txn, id string) (model.ImageRecord, error) {
	var img model.ImageRecord
	if err := getJSON(txn, imageKey(id), &img); err != nil {
		return model.ImageRecord{}, fmt.Errorf("image %s: %w", id, err)
	}
	return img, nil
}

// putImage writes the record and moves its index keys. Reading the old
// record adds it to the transaction's conflict set.
func putImage(txn *badger.Txn, img model.ImageRecord) error {
	old, err := getImage(txn, img.ID)
	switch {
	case err == nil:
		for _, k := range indexKeys(old) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	if err := setJSON(txn, imageKey(img.ID), img); err != nil {
		return err
	}
	for _, k := range indexKeys(img) {
		if err := txn.Set(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func isBadgerConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// badgerLogger routes badger's printf-style logs into the service logger.
type badgerLogger struct {
	log logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), trimLine(format, args))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), trimLine(format, args))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), trimLine(format, args))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), trimLine(format, args))
}

func trimLine(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
