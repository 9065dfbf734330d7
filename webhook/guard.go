package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Guard remembers which gateway events already produced their side effects
type Guard interface {
	// Claim reports true the first time it sees eventID, false afterwards
	Claim(ctx context.Context, eventID string) (bool, error)
}

const redisGuardPrefix = "webhook:event:"

// RedisGuard claims event ids with SETNX. Claims expire after TTL, which must outlive the
// gateway's retry schedule.
type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisGuard returns a Guard backed by Redis
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration) (*RedisGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("nil redisClient is invalid")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("non-positive ttl is invalid")
	}
	return &RedisGuard{
		client: client,
		ttl:    ttl,
	}, nil
}

// Claim implements Guard
func (g *RedisGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := g.client.SetNX(redisGuardPrefix+eventID, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot claim event in redis")
	}
	return ok, nil
}

// ProcessedEvent is a gateway event whose side effects were produced
type ProcessedEvent struct {
	EventID     string `gorm:"primaryKey"`
	ProcessedAt time.Time
}

// DBGuard claims event ids by inserting into a table with a primary key on the id
type DBGuard struct {
	db *gorm.DB
}

// NewDBGuard returns a Guard backed by the database
func NewDBGuard(db *gorm.DB) (*DBGuard, error) {
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := db.AutoMigrate(&ProcessedEvent{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize webhook.DBGuard")
	}
	return &DBGuard{db: db}, nil
}

// Claim implements Guard
func (g *DBGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	result := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProcessedEvent{EventID: eventID, ProcessedAt: time.Now().UTC()})
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot claim event in database")
	}
	return result.RowsAffected == 1, nil
}
