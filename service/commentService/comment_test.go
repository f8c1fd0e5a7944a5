package commentService

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/postService"
	"github.com/bulletin/board/service/schemaService"
)

func newTestStore(t *testing.T) postService.Store {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := log.NewEntry(logger)
	store, err := postService.NewFileStore(filepath.Join(t.TempDir(), "posts.json"),
		schemaService.NewEvolver(0, 0, entry), entry)
	assert.NilError(t, err)
	return store
}

func TestPrepare(t *testing.T) {
	comment, err := Prepare(&models.CreateCommentRequest{Text: "  <b>hi</b> "})
	assert.NilError(t, err)
	assert.Equal(t, comment.Author, models.DefaultAuthor)
	assert.Equal(t, comment.Text, "&lt;b&gt;hi&lt;/b&gt;")

	var validationError *postService.ValidationError
	_, err = Prepare(&models.CreateCommentRequest{Author: "kim", Text: "  "})
	assert.Assert(t, errors.As(err, &validationError))
	assert.Equal(t, validationError.Code, InvalidComment)

	_, err = Prepare(&models.CreateCommentRequest{Text: strings.Repeat("x", MaxCommentLen+1)})
	assert.Assert(t, errors.As(err, &validationError))
}

func TestSaveAppendsInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	post, err := store.Create(ctx, &postService.SaveRequest{Title: "t"})
	assert.NilError(t, err)

	_, err = Save(ctx, store, post.ID, &models.CreateCommentRequest{Author: "a", Text: "first"})
	assert.NilError(t, err)
	_, err = Save(ctx, store, post.ID, &models.CreateCommentRequest{Author: "b", Text: "second"})
	assert.NilError(t, err)

	comments, err := GetAllByPostID(ctx, store, post.ID)
	assert.NilError(t, err)
	assert.DeepEqual(t, comments, []models.Comment{{Author: "a", Text: "first"}, {Author: "b", Text: "second"}})

	_, err = Save(ctx, store, 999, &models.CreateCommentRequest{Text: "x"})
	assert.Assert(t, errors.Is(err, postService.ErrNoSuchPost))
}
