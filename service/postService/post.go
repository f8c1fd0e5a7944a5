package postService

import (
	"context"
	"strings"
	"time"

	"github.com/bulletin/board/models"
)

// Store - persistence of board posts
// Implementations are safe for concurrent use. Concurrent updates of the same post follow last-write-wins
type Store interface {
	// List - all posts, newest first
	List(ctx context.Context) ([]models.Post, error)
	// Get - post by ID or ErrNoSuchPost
	Get(ctx context.Context, id int64) (*models.Post, error)
	// Create - saves a new post, assigning ID and timestamps
	Create(ctx context.Context, request *SaveRequest) (*models.Post, error)
	// Update - changes only the fields present in request
	Update(ctx context.Context, request *UpdateRequest) (*models.Post, error)
	// Delete - removes post and returns its media blocks so the caller can reclaim files
	Delete(ctx context.Context, id int64) ([]models.Block, error)
	// AppendComment - adds comment to the end of the post comments
	AppendComment(ctx context.Context, id int64, comment models.Comment) (*models.Post, error)
	// Ping - checks that storage is reachable
	Ping(ctx context.Context) error
}

// validateSaveRequest - trims and defaults request fields in place
func validateSaveRequest(request *SaveRequest) error {
	request.Title = strings.TrimSpace(request.Title)
	if request.Title == "" {
		return NewValidationError(InvalidTitle, "title is required")
	}
	request.Author = strings.TrimSpace(request.Author)
	if request.Author == "" {
		request.Author = models.DefaultAuthor
	}
	if request.ContentBlocks == nil {
		request.ContentBlocks = []models.Block{}
	}
	return nil
}

// validateUpdateRequest - trims and defaults present fields in place
// Absence of any recognized field is checked by stores once dynamic fields are planned
func validateUpdateRequest(request *UpdateRequest) error {
	if request.Title != nil {
		title := strings.TrimSpace(*request.Title)
		if title == "" {
			return NewValidationError(InvalidTitle, "title must not be empty")
		}
		request.Title = &title
	}
	if request.Author != nil {
		author := strings.TrimSpace(*request.Author)
		if author == "" {
			author = models.DefaultAuthor
		}
		request.Author = &author
	}
	if request.ContentBlocks != nil && *request.ContentBlocks == nil {
		blocks := []models.Block{}
		request.ContentBlocks = &blocks
	}
	if request.Comments != nil {
		comments := make([]models.Comment, 0, len(*request.Comments))
		for _, comment := range *request.Comments {
			if comment.Author == "" {
				comment.Author = models.DefaultAuthor
			}
			comments = append(comments, comment)
		}
		request.Comments = &comments
	}
	return nil
}

// nextUpdatedAt - modification time strictly after previous, even when the clock did not advance
func nextUpdatedAt(previous, now time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Microsecond)
}

// mediaBlocks - blocks referencing stored media
func mediaBlocks(blocks []models.Block) []models.Block {
	post := models.Post{ContentBlocks: blocks}
	return post.MediaBlocks()
}
