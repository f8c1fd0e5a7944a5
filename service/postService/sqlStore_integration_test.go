package postService

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/schemaService"
)

// newIntegrationStore - store over a real database, skipped unless TEST_DATABASE_URL is set
func newIntegrationStore(t *testing.T) (*SQLStore, *sqlx.DB) {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := Connect(DBConfig{URL: dbURL})
	assert.NilError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.NilError(t, MigrationsUp(db))

	evolver := schemaService.NewEvolver(10, 1000, testLogger())
	return NewSQLStore(db, evolver, testLogger()), db
}

// uniqueColumn - column name no other test run uses, dropped on cleanup
func uniqueColumn(t *testing.T, db *sqlx.DB, prefix string) string {
	name := prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	t.Cleanup(func() {
		_, _ = db.Exec("ALTER TABLE posts DROP COLUMN IF EXISTS " + pq.QuoteIdentifier(name))
	})
	return name
}

func TestIntegrationPostLifecycle(t *testing.T) {
	store, db := newIntegrationStore(t)
	ctx := context.Background()
	rating := uniqueColumn(t, db, "rating")

	created, err := store.Create(ctx, &SaveRequest{
		Title: "integration",
		ContentBlocks: []models.Block{
			{Type: models.BlockText, Content: "hi"},
			{Type: models.BlockImage, URL: "/uploads/a.png", Filename: "a.png"},
		},
		Extra: map[string]interface{}{rating: "5"},
	})
	assert.NilError(t, err)
	defer func() { _, _ = store.Delete(ctx, created.ID) }()

	assert.Assert(t, created.ID > 0)
	assert.Assert(t, created.CreatedAt.Equal(created.UpdatedAt))
	assert.DeepEqual(t, created.Comments, []models.Comment{})
	assert.Equal(t, created.Extra[rating], int64(5))

	var columnType string
	assert.NilError(t, db.Get(&columnType,
		"select data_type from information_schema.columns where table_name = 'posts' and column_name = $1", rating))
	assert.Equal(t, columnType, "bigint")

	comments := []models.Comment{{Author: "a", Text: "b"}}
	updated, err := store.Update(ctx, &UpdateRequest{ID: created.ID, Comments: &comments})
	assert.NilError(t, err)
	assert.Equal(t, updated.Title, created.Title)
	assert.DeepEqual(t, updated.ContentBlocks, created.ContentBlocks)
	assert.Assert(t, updated.UpdatedAt.After(created.UpdatedAt))

	media, err := store.Delete(ctx, created.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(media), 1)

	_, err = store.Get(ctx, created.ID)
	assert.Assert(t, errors.Is(err, ErrNoSuchPost))
}

func TestIntegrationColumnLimit(t *testing.T) {
	store, db := newIntegrationStore(t)
	ctx := context.Background()

	title := "limit-" + uuid.New().String()
	extra := make(map[string]interface{})
	names := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		name := uniqueColumn(t, db, fmt.Sprintf("c%d", i))
		names = append(names, name)
		extra[name] = fmt.Sprint(i)
	}

	_, err := store.Create(ctx, &SaveRequest{Title: title, Extra: extra})
	assert.Assert(t, errors.Is(err, schemaService.ErrLimitExceeded))

	var count int
	assert.NilError(t, db.Get(&count, "select count(*) from posts where title = $1", title))
	assert.Equal(t, count, 0)
	assert.NilError(t, db.Get(&count,
		"select count(*) from information_schema.columns where table_name = 'posts' and column_name = any($1)",
		pq.Array(names)))
	assert.Equal(t, count, 0)
}

func TestIntegrationConcurrentUpdatesAddingColumns(t *testing.T) {
	store, db := newIntegrationStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, &SaveRequest{Title: "concurrent"})
	assert.NilError(t, err)
	defer func() { _, _ = store.Delete(ctx, created.ID) }()

	const writers = 4
	columns := make([]string, writers)
	for i := range columns {
		columns[i] = uniqueColumn(t, db, fmt.Sprintf("w%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Update(ctx, &UpdateRequest{
				ID:    created.ID,
				Extra: map[string]interface{}{columns[i]: fmt.Sprint(i)},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NilError(t, err, "writer %d", i)
	}

	post, err := store.Get(ctx, created.ID)
	assert.NilError(t, err)
	for i, column := range columns {
		assert.Equal(t, post.Extra[column], int64(i))
	}

	gone := uniqueColumn(t, db, "gone")
	_, err = store.Update(ctx, &UpdateRequest{ID: -1, Extra: map[string]interface{}{gone: "x"}})
	assert.Assert(t, errors.Is(err, ErrNoSuchPost))

	var count int
	assert.NilError(t, db.Get(&count,
		"select count(*) from information_schema.columns where table_name = 'posts' and column_name = $1", gone))
	assert.Equal(t, count, 0)
}
