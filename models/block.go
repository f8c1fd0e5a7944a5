package models

import (
	"encoding/json"
	"fmt"
)

// BlockType - kind of a content block
type BlockType string

// content block kinds
const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
	BlockVideo BlockType = "video"
)

// Block - one ordered unit of a post body
// Text blocks carry Content. Image and video blocks carry URL and Filename; URL stays empty until a file is matched
type Block struct {
	Type     BlockType
	Content  string
	URL      string
	Filename string
}

// IsMedia - reports whether block references an uploaded file
func (b Block) IsMedia() bool {
	return b.Type == BlockImage || b.Type == BlockVideo
}

// NeedsUpload - reports whether block is a media block still waiting for a file
func (b Block) NeedsUpload() bool {
	return b.IsMedia() && b.URL == ""
}

type textBlockJSON struct {
	Type    BlockType `json:"type"`
	Content string    `json:"content"`
}

type mediaBlockJSON struct {
	Type     BlockType `json:"type"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
}

// blockJSON - accepts any shape the client sends. Content may be null
type blockJSON struct {
	Type     BlockType `json:"type"`
	Content  *string   `json:"content"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	if b.IsMedia() {
		return json.Marshal(mediaBlockJSON{Type: b.Type, URL: b.URL, Filename: b.Filename})
	}
	return json.Marshal(textBlockJSON{Type: b.Type, Content: b.Content})
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case BlockText:
		content := ""
		if raw.Content != nil {
			content = *raw.Content
		}
		*b = Block{Type: BlockText, Content: content}
	case BlockImage, BlockVideo:
		*b = Block{Type: raw.Type, URL: raw.URL, Filename: raw.Filename}
	default:
		return fmt.Errorf("unknown content block type %q", raw.Type)
	}
	return nil
}

// ParseBlocks - decodes a JSON array of content blocks. Empty input yields an empty slice
func ParseBlocks(data []byte) ([]Block, error) {
	blocks := make([]Block, 0)
	if len(data) == 0 {
		return blocks, nil
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = make([]Block, 0)
	}
	return blocks, nil
}
