package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheKey identifies one cached check result. The team id is part of the
// key, so a result computed under one scope can never answer for another.
type CacheKey struct {
	TeamID int64
	UserID int64
	Name   string
	Guard  string
}

// PermissionCache stores resolved check results. Implementations must treat
// invalidation as a correctness operation: a stale entry answering after a
// grant mutation is an authorization bug.
type PermissionCache interface {
	Get(ctx context.Context, key CacheKey) (allowed bool, ok bool)
	Set(ctx context.Context, key CacheKey, allowed bool)
	InvalidateTeam(ctx context.Context, teamID int64)
	InvalidateUser(ctx context.Context, userID int64)
	Flush(ctx context.Context)
}

// NoopCache disables caching; every check goes to the store.
type NoopCache struct{}

func (NoopCache) Get(context.Context, CacheKey) (bool, bool) { return false, false }
func (NoopCache) Set(context.Context, CacheKey, bool)        {}
func (NoopCache) InvalidateTeam(context.Context, int64)      {}
func (NoopCache) InvalidateUser(context.Context, int64)      {}
func (NoopCache) Flush(context.Context)                      {}

// LRUCache is an in-process cache with per-entry TTL.
type LRUCache struct {
	lru *expirable.LRU[CacheKey, bool]
}

// NewLRUCache creates an LRU permission cache holding up to size entries
// for at most ttl each.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{
		lru: expirable.NewLRU[CacheKey, bool](size, nil, ttl),
	}
}

func (c *LRUCache) Get(_ context.Context, key CacheKey) (bool, bool) {
	return c.lru.Get(key)
}

func (c *LRUCache) Set(_ context.Context, key CacheKey, allowed bool) {
	c.lru.Add(key, allowed)
}

func (c *LRUCache) InvalidateTeam(_ context.Context, teamID int64) {
	for _, key := range c.lru.Keys() {
		if key.TeamID == teamID {
			c.lru.Remove(key)
		}
	}
}

func (c *LRUCache) InvalidateUser(_ context.Context, userID int64) {
	for _, key := range c.lru.Keys() {
		if key.UserID == userID {
			c.lru.Remove(key)
		}
	}
}

func (c *LRUCache) Flush(_ context.Context) {
	c.lru.Purge()
}

// RedisCache shares check results across processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed permission cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(k CacheKey) string {
	return fmt.Sprintf("teamgate:perm:t%d:u%d:%s:%s", k.TeamID, k.UserID, k.Guard, k.Name)
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) (bool, bool) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	c.client.Set(ctx, c.key(key), val, c.ttl)
}

func (c *RedisCache) InvalidateTeam(ctx context.Context, teamID int64) {
	c.deletePattern(ctx, fmt.Sprintf("teamgate:perm:t%d:*", teamID))
}

func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) {
	c.deletePattern(ctx, fmt.Sprintf("teamgate:perm:t*:u%d:*", userID))
}

func (c *RedisCache) Flush(ctx context.Context) {
	c.deletePattern(ctx, "teamgate:perm:*")
}

func (c *RedisCache) deletePattern(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}
