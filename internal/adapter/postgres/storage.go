// Package postgres implements the storage capability contract on PostgreSQL
// via pgx. Each data element becomes one row; value and metadata are stored
// as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/provider"
)

// Name is the registry key of this provider.
const Name = "postgres"

const defaultTable = "data_elements"

// Storage persists data elements into a PostgreSQL table.
type Storage struct {
	pool  *pgxpool.Pool
	table string
}

// Register adds the provider to a registry under its canonical name.
func Register(r *provider.Registry) error {
	return r.RegisterStorage(Name, func() provider.StorageProvider {
		return &Storage{}
	})
}

// Connect establishes the connection pool. The config map must carry a "dsn"
// entry; "table" optionally overrides the target table.
func (s *Storage) Connect(ctx context.Context, config map[string]any) error {
	dsn, _ := config["dsn"].(string)
	if dsn == "" {
		return fmt.Errorf("%w: postgres provider requires a dsn", provider.ErrStorage)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("%w: connecting to postgres: %v", provider.ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: pinging postgres: %v", provider.ErrStorage, err)
	}
	s.pool = pool
	if table, _ := config["table"].(string); table != "" {
		s.table = table
	}
	return nil
}

// Store upserts the elements into the target table, creating it on first use.
// The schema hint selects the table name when the provider config does not.
func (s *Storage) Store(ctx context.Context, elements []entity.DataElement, schema *entity.SchemaHint) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("%w: not connected", provider.ErrStorage)
	}
	table := s.tableName(schema)

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			element_type  TEXT NOT NULL,
			value         JSONB NOT NULL,
			selector      TEXT,
			source_url    TEXT,
			extracted_at  TIMESTAMPTZ
		);
	`, table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("%w: ensuring table %s: %v", provider.ErrStorage, table, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, element_type, value, selector, source_url, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			element_type = EXCLUDED.element_type,
			value        = EXCLUDED.value,
			selector     = EXCLUDED.selector,
			source_url   = EXCLUDED.source_url,
			extracted_at = EXCLUDED.extracted_at;
	`, table)

	for _, e := range elements {
		valueJSON, err := json.Marshal(e.Value)
		if err != nil {
			return "", fmt.Errorf("%w: encoding element %s: %v", provider.ErrStorage, e.ID, err)
		}
		if _, err := s.pool.Exec(ctx, query,
			e.ID,
			string(e.Type),
			valueJSON,
			e.Metadata.Selector,
			e.Metadata.SourceURL,
			e.Metadata.ExtractedAt,
		); err != nil {
			return "", fmt.Errorf("%w: inserting element %s: %v", provider.ErrStorage, e.ID, err)
		}
	}
	return "postgres://" + table, nil
}

// Disconnect closes the pool.
func (s *Storage) Disconnect(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// HealthCheck pings the database.
func (s *Storage) HealthCheck(ctx context.Context) bool {
	return s.pool != nil && s.pool.Ping(ctx) == nil
}

func (s *Storage) tableName(schema *entity.SchemaHint) string {
	if s.table != "" {
		return s.table
	}
	if schema != nil && schema.Name != "" {
		return schema.Name
	}
	return defaultTable
}
