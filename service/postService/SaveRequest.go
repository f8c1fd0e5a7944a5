package postService

import (
	"github.com/bulletin/board/models"
)

// SaveRequest - post creation request
// Extra holds fields outside the fixed post schema, candidates for schema evolution
type SaveRequest struct {
	Title         string
	Author        string
	ContentBlocks []models.Block
	Extra         map[string]interface{}
}
