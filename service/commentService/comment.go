package commentService

import (
	"context"
	"html"
	"strings"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/postService"
)

// MaxCommentLen - maximum comment length in characters
const MaxCommentLen = 2000

// error codes of comment validation
var (
	// InvalidComment - comment text is missing or too long
	InvalidComment = models.NewRequestErrorCode("INVALID_COMMENT")
)

// Prepare - validates a new comment and escapes it for rendering
// Author defaults to anonymous
func Prepare(request *models.CreateCommentRequest) (models.Comment, error) {
	text := strings.TrimSpace(request.Text)
	if text == "" {
		return models.Comment{}, postService.NewValidationError(InvalidComment, "comment text is required")
	}
	if len([]rune(text)) > MaxCommentLen {
		return models.Comment{}, postService.NewValidationError(InvalidComment, "comment text is too long")
	}

	author := strings.TrimSpace(request.Author)
	if author == "" {
		author = models.DefaultAuthor
	}

	return models.Comment{
		Author: html.EscapeString(author),
		Text:   html.EscapeString(text),
	}, nil
}

// Save - appends a new comment to the post with the given ID
// returns the updated post and error
func Save(ctx context.Context, store postService.Store, postID int64, request *models.CreateCommentRequest) (*models.Post, error) {
	comment, err := Prepare(request)
	if err != nil {
		return nil, err
	}
	return store.AppendComment(ctx, postID, comment)
}

// GetAllByPostID - returns all comments of the post with the given ID in submission order
func GetAllByPostID(ctx context.Context, store postService.Store, postID int64) ([]models.Comment, error) {
	post, err := store.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	return post.Comments, nil
}
