package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/brojonat/nftactivity/service/solana"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Watched mint statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
	StatusError  = "error"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics records query durations on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate creates the tables the service needs if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(operation, table string, start time.Time, errp *error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), *errp)
	}
}

// Transaction cache

// GetTransactionRecord returns the cached record for signature, or nil on a miss.
func (s *Store) GetTransactionRecord(ctx context.Context, signature string) (record *solana.TransactionRecord, err error) {
	defer s.observe("get", "transaction_records", time.Now(), &err)

	var raw []byte
	err = s.pool.QueryRow(ctx,
		`SELECT record FROM transaction_records WHERE signature = $1`,
		signature,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record = &solana.TransactionRecord{}
	if err = json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("failed to decode cached transaction %s: %w", signature, err)
	}
	return record, nil
}

// PutTransactionRecord caches record. Existing rows are left untouched.
func (s *Store) PutTransactionRecord(ctx context.Context, record *solana.TransactionRecord) (err error) {
	defer s.observe("insert", "transaction_records", time.Now(), &err)

	signature := record.Signature()
	if signature == "" {
		return fmt.Errorf("transaction record has no signature")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", signature, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO transaction_records (signature, slot, block_time, record)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (signature) DO NOTHING`,
		signature,
		int64(record.Slot),
		pgTimestamptzFromTimePtr(record.BlockTime),
		raw,
	)
	return err
}

// TransactionCacheStats summarizes the transaction cache.
type TransactionCacheStats struct {
	Count           int64      `json:"count"`
	OldestFetchedAt *time.Time `json:"oldest_fetched_at,omitempty"`
	NewestFetchedAt *time.Time `json:"newest_fetched_at,omitempty"`
}

// GetTransactionCacheStats returns row count and fetch time range of the cache.
func (s *Store) GetTransactionCacheStats(ctx context.Context) (stats *TransactionCacheStats, err error) {
	defer s.observe("stats", "transaction_records", time.Now(), &err)

	var oldest, newest pgtype.Timestamptz
	stats = &TransactionCacheStats{}
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(fetched_at), MAX(fetched_at) FROM transaction_records`,
	).Scan(&stats.Count, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	stats.OldestFetchedAt = timePtrFromPgTimestamptz(oldest)
	stats.NewestFetchedAt = timePtrFromPgTimestamptz(newest)
	return stats, nil
}

// DeleteTransactionRecordsOlderThan evicts records fetched before cutoff and
// returns how many were removed.
func (s *Store) DeleteTransactionRecordsOlderThan(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer s.observe("delete", "transaction_records", time.Now(), &err)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transaction_records WHERE fetched_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Watched mints

// WatchedMint is a mint whose history is refreshed on a schedule.
type WatchedMint struct {
	Mint           string
	PollInterval   time.Duration
	Status         string
	LastPollTime   *time.Time
	LastEventCount *int
	LastSlot       *uint64 // highest slot published; nil until the first event
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertWatchedMintParams contains the parameters for watching a mint.
type UpsertWatchedMintParams struct {
	Mint         string
	PollInterval time.Duration
	Status       string
}

const watchedMintColumns = `mint, poll_interval, status, last_poll_time, last_event_count, last_slot, created_at, updated_at`

// UpsertWatchedMint starts watching a mint, or updates the poll interval and
// status of one already watched.
func (s *Store) UpsertWatchedMint(ctx context.Context, params UpsertWatchedMintParams) (mint *WatchedMint, err error) {
	defer s.observe("upsert", "watched_mints", time.Now(), &err)

	status := params.Status
	if status == "" {
		status = StatusActive
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO watched_mints (mint, poll_interval, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (mint) DO UPDATE
		 SET poll_interval = EXCLUDED.poll_interval,
		     status = EXCLUDED.status,
		     updated_at = NOW()
		 RETURNING `+watchedMintColumns,
		params.Mint,
		pgIntervalFromDuration(params.PollInterval),
		status,
	)
	return scanWatchedMint(row)
}

// GetWatchedMint returns a watched mint or ErrNotFound.
func (s *Store) GetWatchedMint(ctx context.Context, mint string) (m *WatchedMint, err error) {
	defer s.observe("get", "watched_mints", time.Now(), &err)

	row := s.pool.QueryRow(ctx,
		`SELECT `+watchedMintColumns+` FROM watched_mints WHERE mint = $1`,
		mint,
	)
	return scanWatchedMint(row)
}

// ListWatchedMints returns every watched mint, oldest first.
func (s *Store) ListWatchedMints(ctx context.Context) (mints []*WatchedMint, err error) {
	defer s.observe("list", "watched_mints", time.Now(), &err)

	rows, err := s.pool.Query(ctx,
		`SELECT `+watchedMintColumns+` FROM watched_mints ORDER BY created_at, mint`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mints = make([]*WatchedMint, 0)
	for rows.Next() {
		m, err := scanWatchedMint(rows)
		if err != nil {
			return nil, err
		}
		mints = append(mints, m)
	}
	return mints, rows.Err()
}

// UpdateWatchedMintStatus sets the status of a watched mint.
func (s *Store) UpdateWatchedMintStatus(ctx context.Context, mint, status string) (m *WatchedMint, err error) {
	defer s.observe("update", "watched_mints", time.Now(), &err)

	row := s.pool.QueryRow(ctx,
		`UPDATE watched_mints SET status = $2, updated_at = NOW()
		 WHERE mint = $1
		 RETURNING `+watchedMintColumns,
		mint,
		status,
	)
	return scanWatchedMint(row)
}

// RecordMintPoll stores the outcome of a scheduled refresh. The slot
// watermark only moves forward; a nil lastSlot leaves it unchanged.
func (s *Store) RecordMintPoll(ctx context.Context, mint string, pollTime time.Time, eventCount int, lastSlot *uint64) (m *WatchedMint, err error) {
	defer s.observe("update", "watched_mints", time.Now(), &err)

	var slot pgtype.Int8
	if lastSlot != nil {
		slot = pgtype.Int8{Int64: int64(*lastSlot), Valid: true}
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE watched_mints
		 SET last_poll_time = $2, last_event_count = $3,
		     last_slot = GREATEST(last_slot, $4::BIGINT), updated_at = NOW()
		 WHERE mint = $1
		 RETURNING `+watchedMintColumns,
		mint,
		pollTime,
		eventCount,
		slot,
	)
	return scanWatchedMint(row)
}

// DeleteWatchedMint stops watching a mint. Deleting an unknown mint is not an error.
func (s *Store) DeleteWatchedMint(ctx context.Context, mint string) (err error) {
	defer s.observe("delete", "watched_mints", time.Now(), &err)

	_, err = s.pool.Exec(ctx, `DELETE FROM watched_mints WHERE mint = $1`, mint)
	return err
}

// WatchedMintExists reports whether mint is watched.
func (s *Store) WatchedMintExists(ctx context.Context, mint string) (exists bool, err error) {
	defer s.observe("exists", "watched_mints", time.Now(), &err)

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM watched_mints WHERE mint = $1)`,
		mint,
	).Scan(&exists)
	return exists, err
}

// Helper functions

func scanWatchedMint(row pgx.Row) (*WatchedMint, error) {
	var (
		m          WatchedMint
		interval   pgtype.Interval
		lastPoll   pgtype.Timestamptz
		eventCount pgtype.Int4
		lastSlot   pgtype.Int8
	)
	err := row.Scan(&m.Mint, &interval, &m.Status, &lastPoll, &eventCount, &lastSlot, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.PollInterval = durationFromPgInterval(interval)
	m.LastPollTime = timePtrFromPgTimestamptz(lastPoll)
	if eventCount.Valid {
		n := int(eventCount.Int32)
		m.LastEventCount = &n
	}
	if lastSlot.Valid {
		slot := uint64(lastSlot.Int64)
		m.LastSlot = &slot
	}
	return &m, nil
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	days := time.Duration(i.Days) * 24 * time.Hour
	months := time.Duration(i.Months) * 30 * 24 * time.Hour
	return time.Duration(i.Microseconds)*time.Microsecond + days + months
}

func pgTimestamptzFromTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
