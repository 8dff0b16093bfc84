package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-booking/internal/models"
)

// VehicleDirectory answers which vehicle types a driver may operate.
type VehicleDirectory interface {
	ApprovedTypes(ctx context.Context, driverID string) ([]string, error)
}

type PostgresVehicles struct {
	db *sql.DB
}

func NewPostgresVehicles(db *sql.DB) *PostgresVehicles {
	return &PostgresVehicles{db: db}
}

func (p *PostgresVehicles) ApprovedTypes(ctx context.Context, driverID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT type FROM vehicles WHERE driver_id = $1 AND status = $2 AND deleted = FALSE`,
		driverID, models.VehicleApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// CachedVehicles fronts a VehicleDirectory with a short-TTL redis cache.
// Cache errors fall through to the wrapped directory; the cache is never
// allowed to fail a lookup.
type CachedVehicles struct {
	next   VehicleDirectory
	client *redis.Client
	ttl    time.Duration
}

func NewCachedVehicles(next VehicleDirectory, client *redis.Client, ttl time.Duration) *CachedVehicles {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedVehicles{next: next, client: client, ttl: ttl}
}

func (c *CachedVehicles) ApprovedTypes(ctx context.Context, driverID string) ([]string, error) {
	key := vehicleCacheKey(driverID)
	if v, err := c.client.Get(ctx, key).Result(); err == nil {
		if v == "" {
			return nil, nil
		}
		return strings.Split(v, ","), nil
	}
	types, err := c.next.ApprovedTypes(ctx, driverID)
	if err != nil {
		return nil, err
	}
	_ = c.client.Set(ctx, key, strings.Join(types, ","), c.ttl).Err()
	return types, nil
}

// Invalidate drops the cached entry, for callers that mutate vehicle state.
func (c *CachedVehicles) Invalidate(ctx context.Context, driverID string) {
	_ = c.client.Del(ctx, vehicleCacheKey(driverID)).Err()
}

func vehicleCacheKey(driverID string) string { return "driver:vehicles:" + driverID }
