package cache

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// TableName is the idempotency table used by SQLStore.
const TableName = "ocr_idempotency"

// SQLStore keeps entries in a relational table, one row per key, with the
// expiry stored as unix milliseconds. Queries are built with ent's SQL builder
// so the same code serves sqlite and postgres.
type SQLStore struct {
	drv     *entsql.Driver
	b       *entsql.DialectBuilder
	now     func() time.Time
	release func() // extra cleanup after the driver closes, e.g. a pgx pool
}

func NewSQLStore(drv *entsql.Driver) *SQLStore {
	return &SQLStore{drv: drv, b: entsql.Dialect(drv.Dialect()), now: time.Now}
}

// Migrate creates the table when it does not exist. ent's builder has no
// CREATE TABLE, so the DDL is written out with dialect-quoted identifiers.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.drv.Exec(ctx, s.createTableDDL(), []any{}, nil); err != nil {
		return fmt.Errorf("create %s: %w", TableName, err)
	}
	return nil
}

func (s *SQLStore) createTableDDL() string {
	b := &entsql.Builder{}
	b.SetDialect(s.drv.Dialect())
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s varchar(512) NOT NULL, %s text NOT NULL, %s bigint NOT NULL, PRIMARY KEY (%s))",
		b.Quote(TableName), b.Quote("key"), b.Quote("payload"), b.Quote("expires_at"), b.Quote("key"),
	)
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	q, args := s.b.Select("payload").
		From(s.b.Table(TableName)).
		Where(entsql.And(
			entsql.EQ("key", key),
			entsql.GT("expires_at", s.now().UnixMilli()),
		)).
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("select %s: %w", TableName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select %s: %w", TableName, err)
		}
		return nil, ErrMiss
	}
	var payload string
	if err := rows.Scan(&payload); err != nil {
		return nil, fmt.Errorf("scan %s: %w", TableName, err)
	}
	return []byte(payload), nil
}

// Set upserts the row so a later write replaces the payload and restarts the TTL.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	q, args := s.b.Insert(TableName).
		Columns("key", "payload", "expires_at").
		Values(key, string(value), s.now().Add(ttl).UnixMilli()).
		OnConflict(
			entsql.ConflictColumns("key"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := s.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("upsert %s: %w", TableName, err)
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed and returns the count.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	q, args := s.b.Delete(TableName).
		Where(entsql.LTE("expires_at", s.now().UnixMilli())).
		Query()
	var res entsql.Result
	if err := s.drv.Exec(ctx, q, args, &res); err != nil {
		return 0, fmt.Errorf("purge %s: %w", TableName, err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	err := s.drv.Close()
	if s.release != nil {
		s.release()
	}
	return err
}
