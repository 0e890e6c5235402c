package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// opTimeout bounds a single persistence round trip.
const opTimeout = 5 * time.Second

type fieldRow struct {
	bun.BaseModel `bun:"table:owner_fields,alias:f"`

	Owner     string    `bun:"owner,pk,type:varchar(128)"`
	Field     string    `bun:"field,pk,type:varchar(128)"`
	Value     string    `bun:"value,type:text,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLStore keeps owner fields in a single owner_fields table.
type SQLStore struct {
	db *bun.DB
}

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// OpenSQLStore opens dsn with the driver for dbType ("sqlite", "postgres"
// or "mysql") and creates the schema if needed.
func OpenSQLStore(dbType, dsn string) (*SQLStore, error) {
	var (
		driverName string
		dial       schema.Dialect
	)
	switch dbType {
	case "sqlite":
		driverName, dial = "sqlite", sqlitedialect.New()
	case "postgres":
		// The pgx stdlib registers driver name "pgx".
		driverName, dial = "pgx", pgdialect.New()
	case "mysql":
		driverName, dial = "mysql", mysqldialect.New()
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// In-memory SQLite is per connection; keep a single one so the schema
	// stays visible.
	if dbType == "sqlite" && dsn == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	s := &SQLStore{db: bun.NewDB(sqlDB, dial)}
	if err := s.migrate(); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.NewCreateTable().Model((*fieldRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create owner_fields: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(owner, field string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var row fieldRow
	err := s.db.NewSelect().Model(&row).
		Where("owner = ?", owner).
		Where("field = ?", field).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFieldNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(row.Value), nil
}

func (s *SQLStore) Put(owner, field string, val json.RawMessage) error {
	if err := checkKeys(owner, field); err != nil {
		return err
	}
	if err := checkValue(val); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := &fieldRow{Owner: owner, Field: field, Value: string(val), UpdatedAt: time.Now().UTC()}
	q := s.db.NewInsert().Model(row)
	if s.db.Dialect().Name() == dialect.MySQL {
		q = q.On("DUPLICATE KEY UPDATE").
			Set("value = VALUES(value)").
			Set("updated_at = VALUES(updated_at)")
	} else {
		q = q.On("CONFLICT (owner, field) DO UPDATE").
			Set("value = EXCLUDED.value").
			Set("updated_at = EXCLUDED.updated_at")
	}
	_, err := q.Exec(ctx)
	return err
}

func (s *SQLStore) Delete(owner, field string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.NewDelete().Model((*fieldRow)(nil)).
		Where("owner = ?", owner).
		Where("field = ?", field).
		Exec(ctx)
	return err
}

func (s *SQLStore) Purge(owner string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.NewDelete().Model((*fieldRow)(nil)).
		Where("owner = ?", owner).
		Exec(ctx)
	return err
}

func (s *SQLStore) Owners() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	owners := []string{}
	err := s.db.NewSelect().Model((*fieldRow)(nil)).
		Column("owner").
		Distinct().
		Order("owner").
		Scan(ctx, &owners)
	return owners, err
}

func (s *SQLStore) Fields(owner string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	fields := []string{}
	err := s.db.NewSelect().Model((*fieldRow)(nil)).
		Column("field").
		Where("owner = ?", owner).
		Order("field").
		Scan(ctx, &fields)
	return fields, err
}

func (s *SQLStore) Dump(owner string) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rows []fieldRow
	if err := s.db.NewSelect().Model(&rows).Where("owner = ?", owner).Scan(ctx); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrOwnerNotFound
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.Field] = json.RawMessage(r.Value)
	}
	return out, nil
}
