package cacheService

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
)

const PostRedisKeyPrefix = "board:posts:"
const PostListRedisKey = "board:posts:list"

// PostsCache - redis cache of encoded posts and of the full post list
// Every method is best effort: redis failures are logged and reported as a miss
type PostsCache struct {
	redisClient *redis.Client
	expiration  time.Duration
}

func NewPostsCache(redisClient *redis.Client, expiration time.Duration) *PostsCache {
	return &PostsCache{
		redisClient: redisClient,
		expiration:  expiration,
	}
}

func postKey(id int64) string {
	return PostRedisKeyPrefix + strconv.FormatInt(id, 10)
}

func (c *PostsCache) GetPost(ctx context.Context, id int64) (*models.Post, bool) {
	raw, err := c.redisClient.Get(ctx, postKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("Could not read post %d from cache: %v", id, err)
		}
		return nil, false
	}

	var post models.Post
	if err = json.Unmarshal(raw, &post); err != nil {
		log.Errorf("Could not decode cached post %d: %v", id, err)
		return nil, false
	}
	return &post, true
}

func (c *PostsCache) SetPost(ctx context.Context, post *models.Post) {
	encoded, err := json.Marshal(post)
	if err != nil {
		log.Errorf("Could not encode post %d for cache: %v", post.ID, err)
		return
	}
	if err = c.redisClient.Set(ctx, postKey(post.ID), encoded, c.expiration).Err(); err != nil {
		log.Warnf("Could not cache post %d: %v", post.ID, err)
	}
}

func (c *PostsCache) GetPosts(ctx context.Context) ([]models.Post, bool) {
	raw, err := c.redisClient.Get(ctx, PostListRedisKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("Could not read post list from cache: %v", err)
		}
		return nil, false
	}

	posts := make([]models.Post, 0)
	if err = json.Unmarshal(raw, &posts); err != nil {
		log.Errorf("Could not decode cached post list: %v", err)
		return nil, false
	}
	return posts, true
}

func (c *PostsCache) SetPosts(ctx context.Context, posts []models.Post) {
	encoded, err := json.Marshal(posts)
	if err != nil {
		log.Errorf("Could not encode post list for cache: %v", err)
		return
	}
	if err = c.redisClient.Set(ctx, PostListRedisKey, encoded, c.expiration).Err(); err != nil {
		log.Warnf("Could not cache post list: %v", err)
	}
}

// Invalidate - drops the cached post and the list containing it
func (c *PostsCache) Invalidate(ctx context.Context, id int64) {
	if err := c.redisClient.Del(ctx, postKey(id), PostListRedisKey).Err(); err != nil {
		log.Warnf("Could not invalidate cached post %d: %v", id, err)
	}
}

func (c *PostsCache) Ping(ctx context.Context) error {
	return c.redisClient.Ping(ctx).Err()
}
