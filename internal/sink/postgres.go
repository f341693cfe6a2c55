package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS sensor_readings (
	time  TIMESTAMPTZ      NOT NULL,
	field TEXT             NOT NULL,
	value DOUBLE PRECISION NOT NULL
)`
	insertSQL = `INSERT INTO sensor_readings (time, field, value) VALUES ($1, $2, $3)`

	lastValueTTL = 24 * time.Hour
)

// HistoryRepository keeps every measurement in Postgres and the latest value
// per field in Redis. Either backend may be nil.
type HistoryRepository struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewHistoryRepository connects to the configured backends. Empty settings
// disable that backend.
func NewHistoryRepository(ctx context.Context, postgresURL, redisAddr string) (*HistoryRepository, error) {
	repo := &HistoryRepository{}

	if postgresURL != "" {
		pool, err := pgxpool.New(ctx, postgresURL)
		if err != nil {
			return nil, fmt.Errorf("configure postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if _, err := pool.Exec(ctx, schemaSQL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create sensor_readings: %w", err)
		}
		repo.pool = pool
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			repo.Close()
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		repo.redis = rdb
	}

	return repo, nil
}

// LastValueKey is the Redis key holding the latest value of field.
func LastValueKey(field string) string {
	return "sensor:last:" + field
}

// SaveReading inserts one row per measurement and refreshes the last values.
func (r *HistoryRepository) SaveReading(ctx context.Context, at time.Time, values []Measurement) error {
	if r.pool != nil {
		batch := &pgx.Batch{}
		for _, m := range values {
			batch.Queue(insertSQL, at, m.Field, m.Value)
		}
		if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert readings: %w", err)
		}
	}

	if r.redis != nil {
		pipe := r.redis.Pipeline()
		for _, m := range values {
			pipe.Set(ctx, LastValueKey(m.Field), m.Value, lastValueTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("update last values: %w", err)
		}
	}
	return nil
}

// Close releases both backends.
func (r *HistoryRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
	if r.redis != nil {
		r.redis.Close()
	}
}
