package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// DefaultAuthor - author used when a post or comment is submitted without one
const DefaultAuthor = "anonymous"

// Post - represents board post
// @ID - ID assigned by the store
// @Title - title, never empty
// @Author - author name
// @ContentBlocks - ordered body of the post
// @Comments - ordered comments, appended only
// @CreatedAt - creation time, immutable
// @UpdatedAt - last modification time
// @Extra - dynamic fields added by schema evolution. Flattened into the top level of JSON
type Post struct {
	ID            int64
	Title         string
	Author        string
	ContentBlocks []Block
	Comments      []Comment
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Extra         map[string]interface{}
}

// fixed JSON field names of a post
const (
	FieldID            = "id"
	FieldTitle         = "title"
	FieldAuthor        = "author"
	FieldContentBlocks = "contentBlocks"
	FieldComments      = "comments"
	FieldCreatedAt     = "createdAt"
	FieldUpdatedAt     = "updatedAt"
)

// postFixedFields - wire shape of the fixed part of a post
type postFixedFields struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	ContentBlocks []Block   `json:"contentBlocks"`
	Comments      []Comment `json:"comments"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

var postFixedFieldNames = map[string]bool{
	FieldID:            true,
	FieldTitle:         true,
	FieldAuthor:        true,
	FieldContentBlocks: true,
	FieldComments:      true,
	FieldCreatedAt:     true,
	FieldUpdatedAt:     true,
}

// IsFixedField - reports whether name is one of the fixed JSON fields of a post
func IsFixedField(name string) bool {
	return postFixedFieldNames[name]
}

// Normalize - replaces nil slices with empty ones and fills the default author
func (p *Post) Normalize() {
	if p.ContentBlocks == nil {
		p.ContentBlocks = []Block{}
	}
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	if p.Author == "" {
		p.Author = DefaultAuthor
	}
}

// MediaBlocks - returns blocks of the post that reference media
func (p *Post) MediaBlocks() []Block {
	media := make([]Block, 0)
	for _, block := range p.ContentBlocks {
		if block.IsMedia() && block.URL != "" {
			media = append(media, block)
		}
	}
	return media
}

// MarshalJSON - encodes fixed fields and flattens dynamic ones into the same object. Fixed fields win
func (p Post) MarshalJSON() ([]byte, error) {
	p.Normalize()
	fixed, err := json.Marshal(postFixedFields{
		ID:            p.ID,
		Title:         p.Title,
		Author:        p.Author,
		ContentBlocks: p.ContentBlocks,
		Comments:      p.Comments,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	})
	if err != nil || len(p.Extra) == 0 {
		return fixed, err
	}

	extra := make(map[string]interface{}, len(p.Extra))
	for name, value := range p.Extra {
		if !IsFixedField(name) {
			extra[name] = value
		}
	}
	if len(extra) == 0 {
		return fixed, nil
	}
	encodedExtra, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}

	// both are JSON objects: join "{fixed...}" and "{extra...}" into one
	var buf bytes.Buffer
	buf.Write(fixed[:len(fixed)-1])
	buf.WriteByte(',')
	buf.Write(encodedExtra[1:])
	return buf.Bytes(), nil
}

// UnmarshalJSON - decodes fixed fields and collects unknown keys into Extra
func (p *Post) UnmarshalJSON(b []byte) error {
	var fixed postFixedFields
	if err := json.Unmarshal(b, &fixed); err != nil {
		return err
	}

	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.UseNumber()
	var all map[string]interface{}
	if err := decoder.Decode(&all); err != nil {
		return err
	}

	*p = Post{
		ID:            fixed.ID,
		Title:         fixed.Title,
		Author:        fixed.Author,
		ContentBlocks: fixed.ContentBlocks,
		Comments:      fixed.Comments,
		CreatedAt:     fixed.CreatedAt,
		UpdatedAt:     fixed.UpdatedAt,
	}
	for name, value := range all {
		if IsFixedField(name) {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]interface{})
		}
		p.Extra[name] = value
	}
	return nil
}
