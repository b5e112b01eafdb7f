package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/duel/internal/domain/model"
)

const (
	backendNamePostgres = "postgres"
	metadataRowKey      = "global"

	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

//go:embed schema.sql
var postgresSchema string

// ErrMissingDSN is returned when the postgres backend has no connection string.
var ErrMissingDSN = errors.New("postgres dsn not configured")

// queryer is the subset of pgx shared by the pool and transactions.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store on PostgreSQL. Update runs at SERIALIZABLE
// isolation and retries serialization failures.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresStore connects, pings and applies the schema.
func NewPostgresStore(ctx context.Context, opts ...Option) (*PostgresStore, error) {
	o := newOptions(opts)
	if o.postgresDSN == "" {
		return nil, ErrMissingDSN
	}
	pool, err := pgxpool.New(ctx, o.postgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, opts: o}, nil
}

// GetImage implements Store.
func (s *PostgresStore) GetImage(ctx context.Context, id string) (model.ImageRecord, error) {
	return pgGetImage(ctx, s.pool, id, false)
}

// PutImage implements Store.
func (s *PostgresStore) PutImage(ctx context.Context, img model.ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	return pgPutImage(ctx, s.pool, img)
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return retryConflicts(ctx, s.opts, backendNamePostgres, isPostgresConflict, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(&postgresTx{tx: tx}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetImage(ctx context.Context, id string) (model.ImageRecord, error) {
	return pgGetImage(ctx, t.tx, id, true)
}

func (t *postgresTx) PutImage(ctx context.Context, img model.ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	return pgPutImage(ctx, t.tx, img)
}

func (t *postgresTx) AppendBattle(ctx context.Context, b model.BattleRecord) error {
	if b.ID == "" {
		return fmt.Errorf("%w: battle without id", ErrInvalidImage)
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode battle: %w", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO battles (id, doc) VALUES ($1, $2)`, b.ID, doc)
	return err
}

// ScanPool implements Store.
func (s *PostgresStore) ScanPool(ctx context.Context, after model.PoolCursor, limit int) ([]model.ImageRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM images
		 WHERE eligible AND (random_seed, id) > ($1, $2)
		 ORDER BY random_seed, id
		 LIMIT $3`, after.Seed, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	return collectImages(rows)
}

// CountPool implements Store.
func (s *PostgresStore) CountPool(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM images WHERE eligible`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pool: %w", err)
	}
	return n, nil
}

// QueryRanked implements Store.
func (s *PostgresStore) QueryRanked(ctx context.Context, gender model.Gender, dir model.Direction, limit int) ([]model.ImageRecord, error) {
	if err := validateRankQuery(gender, dir, limit); err != nil {
		return nil, err
	}
	order := "rating ASC, id ASC"
	if dir == model.DirectionTop {
		order = "rating DESC, id DESC"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM images
		 WHERE eligible AND ($1 = '' OR gender = $1)
		 ORDER BY `+order+`
		 LIMIT $2`, string(gender), limit)
	if err != nil {
		return nil, fmt.Errorf("query ranked: %w", err)
	}
	return collectImages(rows)
}

// ListBattles implements Store.
func (s *PostgresStore) ListBattles(ctx context.Context, limit int) ([]model.BattleRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `SELECT doc FROM battles ORDER BY seq LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	defer rows.Close()

	var out []model.BattleRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var b model.BattleRecord
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode battle: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetLeaderboard implements Store.
func (s *PostgresStore) GetLeaderboard(ctx context.Context, key string) (model.LeaderboardDocument, error) {
	var doc model.LeaderboardDocument
	if err := pgGetDoc(ctx, s.pool, `SELECT doc FROM leaderboards WHERE key = $1`, key, &doc); err != nil {
		return model.LeaderboardDocument{}, fmt.Errorf("leaderboard %s: %w", key, err)
	}
	return doc, nil
}

// PutLeaderboard implements Store.
func (s *PostgresStore) PutLeaderboard(ctx context.Context, doc model.LeaderboardDocument) error {
	return pgPutDoc(ctx, s.pool, `
		INSERT INTO leaderboards (key, doc) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc`, doc.Key, doc)
}

// GetMetadata implements Store.
func (s *PostgresStore) GetMetadata(ctx context.Context) (model.GlobalMetadata, error) {
	var meta model.GlobalMetadata
	if err := pgGetDoc(ctx, s.pool, `SELECT doc FROM metadata WHERE key = $1`, metadataRowKey, &meta); err != nil {
		return model.GlobalMetadata{}, fmt.Errorf("global metadata: %w", err)
	}
	return meta, nil
}

// PutMetadata implements Store.
func (s *PostgresStore) PutMetadata(ctx context.Context, meta model.GlobalMetadata) error {
	return pgPutDoc(ctx, s.pool, `
		INSERT INTO metadata (key, doc) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc`, metadataRowKey, meta)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgGetImage(ctx context.Context, q queryer, id string, forUpdate bool) (model.ImageRecord, error) {
	sql := `SELECT doc FROM images WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var img model.ImageRecord
	if err := pgGetDoc(ctx, q, sql, id, &img); err != nil {
		return model.ImageRecord{}, fmt.Errorf("image %s: %w", id, err)
	}
	return img, nil
}

func pgPutImage(ctx context.Context, q queryer, img model.ImageRecord) error {
	doc, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("encode image %s: %w", img.ID, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO images (id, gender, eligible, random_seed, rating, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			gender = EXCLUDED.gender,
			eligible = EXCLUDED.eligible,
			random_seed = EXCLUDED.random_seed,
			rating = EXCLUDED.rating,
			doc = EXCLUDED.doc`,
		img.ID, string(img.Gender), img.Eligible(), img.RandomSeed, img.Rating.Rating, doc)
	if err != nil {
		return fmt.Errorf("put image %s: %w", img.ID, err)
	}
	return nil
}

func pgGetDoc(ctx context.Context, q queryer, sql, key string, v any) error {
	var raw []byte
	if err := q.QueryRow(ctx, sql, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}
	return json.Unmarshal(raw, v)
}

func pgPutDoc(ctx context.Context, q queryer, sql, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = q.Exec(ctx, sql, key, raw)
	return err
}

func collectImages(rows pgx.Rows) ([]model.ImageRecord, error) {
	defer rows.Close()
	var out []model.ImageRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var img model.ImageRecord
		if err := json.Unmarshal(raw, &img); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func isPostgresConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
