package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/redis/go-redis/v9"
)

const keySearch = "users:search:"

// SearchCache caches user search pages in Redis.
type SearchCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSearchCache returns a new SearchCache.
func NewSearchCache(rdb *redis.Client, ttl time.Duration) *SearchCache {
	return &SearchCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached page. The bool is false on a miss.
func (c *SearchCache) Get(ctx context.Context, filter models.UserFilter, page models.PageRequest) ([]*models.User, bool, error) {
	key, err := searchKey(filter, page)
	if err != nil {
		return nil, false, err
	}

	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var users []*models.User
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, false, err
	}
	return users, true, nil
}

// Set stores a page for the cache TTL.
func (c *SearchCache) Set(ctx context.Context, filter models.UserFilter, page models.PageRequest, users []*models.User) error {
	key, err := searchKey(filter, page)
	if err != nil {
		return err
	}
	b, err := json.Marshal(users)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// Invalidate removes every cached search page.
func (c *SearchCache) Invalidate(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keySearch+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// searchKey derives a stable key from the filter and page.
func searchKey(filter models.UserFilter, page models.PageRequest) (string, error) {
	b, err := json.Marshal(struct {
		Filter models.UserFilter  `json:"f"`
		Page   models.PageRequest `json:"p"`
	}{filter, page})
	if err != nil {
		return "", fmt.Errorf("failed to build cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return keySearch + hex.EncodeToString(sum[:]), nil
}
