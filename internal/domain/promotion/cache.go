package promotion

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

var _ Repository = (*CachedRepository)(nil)

// CachedRepository caches active promotions per channel for a fixed TTL.
// Cached promotions are shared between callers and must be treated as
// read-only.
type CachedRepository struct {
	repo  Repository
	cache *cache.Cache
}

// NewCachedRepository wraps repo with a cache whose entries live for ttl.
func NewCachedRepository(repo Repository, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

// ListActiveByChannel returns the cached promotions for the channel, loading
// them from the underlying repository on a miss.
func (r *CachedRepository) ListActiveByChannel(ctx context.Context, channelCode string) ([]*Promotion, error) {
	if v, ok := r.cache.Get(channelCode); ok {
		return v.([]*Promotion), nil
	}

	promotions, err := r.repo.ListActiveByChannel(ctx, channelCode)
	if err != nil {
		return nil, err
	}
	r.cache.Set(channelCode, promotions, cache.DefaultExpiration)
	return promotions, nil
}

// Invalidate drops the cached promotions of the channel.
func (r *CachedRepository) Invalidate(channelCode string) {
	r.cache.Delete(channelCode)
}
