package postService

import (
	"github.com/bulletin/board/models"
)

// UpdateRequest - partial post update. Nil fields stay unchanged
// AppendBlocks is appended to the stored blocks when ContentBlocks is nil
type UpdateRequest struct {
	ID            int64
	Title         *string
	Author        *string
	ContentBlocks *[]models.Block
	AppendBlocks  []models.Block
	Comments      *[]models.Comment
	Extra         map[string]interface{}
}

// hasFixedFields - reports whether request changes any field of the fixed schema
func (r *UpdateRequest) hasFixedFields() bool {
	return r.Title != nil || r.Author != nil || r.ContentBlocks != nil || len(r.AppendBlocks) > 0 || r.Comments != nil
}
