package uploadService

import (
	"strings"

	"github.com/bulletin/board/models"
)

// Reconcile - pairs media blocks lacking a url with stored files by position
// Files are consumed in order, at most once each. Text blocks and blocks that already have a url are kept as is.
// Media blocks left without a file keep an empty url. Files left without a block are returned as unused
func Reconcile(blocks []models.Block, files []StoredFile) ([]models.Block, []StoredFile) {
	resolved := make([]models.Block, len(blocks))
	next := 0
	for i, block := range blocks {
		if block.NeedsUpload() && next < len(files) {
			block.URL = files[next].URL
			block.Filename = files[next].OriginalName
			next++
		}
		resolved[i] = block
	}
	return resolved, files[next:]
}

// BlocksFromFiles - media blocks for files uploaded without block descriptors
func BlocksFromFiles(files []StoredFile) []models.Block {
	blocks := make([]models.Block, 0, len(files))
	for _, file := range files {
		blockType := models.BlockImage
		if strings.HasPrefix(file.ContentType, "video/") {
			blockType = models.BlockVideo
		}
		blocks = append(blocks, models.Block{Type: blockType, URL: file.URL, Filename: file.OriginalName})
	}
	return blocks
}
