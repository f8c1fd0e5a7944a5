package postService

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gotest.tools/v3/assert"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/cacheService"
)

func newTestCachedStore(t *testing.T) (*CachedStore, *FileStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := newTestFileStore(t, filepath.Join(t.TempDir(), "posts.json"))
	return NewCachedStore(inner, cacheService.NewPostsCache(client, time.Minute)), inner, server
}

func TestCachedStoreReadThrough(t *testing.T) {
	store, inner, server := newTestCachedStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, &SaveRequest{Title: "cached", Extra: map[string]interface{}{"rating": "5"}})
	assert.NilError(t, err)

	post, err := store.Get(ctx, created.ID)
	assert.NilError(t, err)
	assert.Equal(t, post.Title, "cached")
	assert.Assert(t, server.Exists("board:posts:1"))

	// served from cache even though the inner store no longer has it
	_, err = inner.Delete(ctx, created.ID)
	assert.NilError(t, err)
	cached, err := store.Get(ctx, created.ID)
	assert.NilError(t, err)
	assert.Equal(t, cached.Title, "cached")
	assert.Equal(t, cached.Extra["rating"], json.Number("5"))
}

func TestCachedStoreInvalidatesOnWrite(t *testing.T) {
	store, _, server := newTestCachedStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, &SaveRequest{Title: "before"})
	assert.NilError(t, err)

	posts, err := store.List(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(posts), 1)
	assert.Assert(t, server.Exists(cacheService.PostListRedisKey))

	_, err = store.Get(ctx, created.ID)
	assert.NilError(t, err)

	title := "after"
	_, err = store.Update(ctx, &UpdateRequest{ID: created.ID, Title: &title})
	assert.NilError(t, err)
	assert.Assert(t, !server.Exists(cacheService.PostListRedisKey))

	post, err := store.Get(ctx, created.ID)
	assert.NilError(t, err)
	assert.Equal(t, post.Title, "after")

	_, err = store.AppendComment(ctx, created.ID, models.Comment{Author: "a", Text: "b"})
	assert.NilError(t, err)
	post, err = store.Get(ctx, created.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(post.Comments), 1)

	_, err = store.Delete(ctx, created.ID)
	assert.NilError(t, err)
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNoSuchPost)
}

func TestCachedStoreSurvivesRedisOutage(t *testing.T) {
	store, _, server := newTestCachedStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, &SaveRequest{Title: "t"})
	assert.NilError(t, err)

	server.Close()

	post, err := store.Get(ctx, created.ID)
	assert.NilError(t, err)
	assert.Equal(t, post.ID, created.ID)
}
