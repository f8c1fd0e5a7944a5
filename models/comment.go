package models

import "encoding/json"

// Comment - represents user's comment on a post
type Comment struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// CreateCommentRequest - represents comment creation request
type CreateCommentRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// ParseComments - decodes a JSON array of comments. Empty input yields an empty slice
func ParseComments(data []byte) ([]Comment, error) {
	comments := make([]Comment, 0)
	if len(data) == 0 {
		return comments, nil
	}
	if err := json.Unmarshal(data, &comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = make([]Comment, 0)
	}
	return comments, nil
}
