package postService

import (
	"context"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/cacheService"
)

// CachedStore - read-through redis cache in front of another store
// Reads are served from cache when possible, successful writes drop the affected keys.
// A read racing a write may refill the cache with the old post, the cache TTL bounds that staleness
type CachedStore struct {
	Store
	cache *cacheService.PostsCache
}

func NewCachedStore(store Store, cache *cacheService.PostsCache) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: cache,
	}
}

func (s *CachedStore) List(ctx context.Context) ([]models.Post, error) {
	if posts, ok := s.cache.GetPosts(ctx); ok {
		return posts, nil
	}
	posts, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetPosts(ctx, posts)
	return posts, nil
}

func (s *CachedStore) Get(ctx context.Context, id int64) (*models.Post, error) {
	if post, ok := s.cache.GetPost(ctx, id); ok {
		return post, nil
	}
	post, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetPost(ctx, post)
	return post, nil
}

func (s *CachedStore) Create(ctx context.Context, request *SaveRequest) (*models.Post, error) {
	post, err := s.Store.Create(ctx, request)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, post.ID)
	return post, nil
}

func (s *CachedStore) Update(ctx context.Context, request *UpdateRequest) (*models.Post, error) {
	post, err := s.Store.Update(ctx, request)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, post.ID)
	return post, nil
}

func (s *CachedStore) Delete(ctx context.Context, id int64) ([]models.Block, error) {
	blocks, err := s.Store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, id)
	return blocks, nil
}

func (s *CachedStore) AppendComment(ctx context.Context, id int64, comment models.Comment) (*models.Post, error) {
	post, err := s.Store.AppendComment(ctx, id, comment)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, id)
	return post, nil
}
