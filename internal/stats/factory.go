package stats

import (
	"context"
	"fmt"

	"gatekeeper/internal/models"

	"github.com/redis/go-redis/v9"
)

// Factory creates stats stores from configuration.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates the store named by config.Type.
// Supported stores:
//   - memory: process-local counters
//   - json: counters persisted to a local file (dsn is the path)
//   - redis: counters shared by all instances using the same Redis
//   - sqlite: local database file
//   - postgres: PostgreSQL database
func (f *Factory) Create(ctx context.Context, config models.StatsConfig) (Store, error) {
	switch config.Type {
	case models.StatsTypeMemory:
		return NewMemoryStore(), nil
	case models.StatsTypeJSON:
		return NewJSONStore(config.DSN)
	case models.StatsTypeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Addr, err)
		}
		return NewRedisStore(rdb, config.Redis.Prefix), nil
	case models.StatsTypeSQLite:
		return NewSQLiteStore(config.DSN)
	case models.StatsTypePostgres:
		return NewPostgresStore(ctx, config.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, config.Type)
	}
}

// GetSupportedProviders returns a list of all supported store types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StatsTypeMemory, models.StatsTypeJSON, models.StatsTypeRedis, models.StatsTypeSQLite, models.StatsTypePostgres}
}
