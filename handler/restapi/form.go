package restapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"

	"github.com/pkg/errors"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/postService"
)

// request field names with fixed meaning
const (
	fieldTitle         = "title"
	fieldAuthor        = "author"
	fieldContentBlocks = "contentBlocks"
	fieldComments      = "comments"
	fieldMedia         = "media"
	fieldMediaArray    = "media[]"
)

// multipartMemory - part of a multipart body kept in memory, the rest is spooled to temp files
const multipartMemory = 8 << 20

// error codes of post body parsing
var (
	// InvalidContentBlocks - contentBlocks is not a JSON array of known blocks
	InvalidContentBlocks = models.NewRequestErrorCode("INVALID_CONTENT_BLOCKS")
	// InvalidComments - comments is not a JSON array of comments
	InvalidComments = models.NewRequestErrorCode("INVALID_COMMENTS")
	// UnsupportedBody - body has a content type the API does not read
	UnsupportedBody = models.NewRequestErrorCode("UNSUPPORTED_BODY")
)

// formError - body could not be turned into a post form
type formError struct {
	code  models.RequestErrorCode
	cause error
}

func (e *formError) Error() string {
	if e.cause == nil {
		return string(e.code)
	}
	return string(e.code) + ": " + e.cause.Error()
}

func (e *formError) Unwrap() error {
	return e.cause
}

// postForm - post fields read from a request body. Nil fields were not sent
type postForm struct {
	Title         *string
	Author        *string
	ContentBlocks *[]models.Block
	Comments      *[]models.Comment
	Extra         map[string]interface{}
	Files         []*multipart.FileHeader
}

// parsePostForm - reads multipart, urlencoded or JSON bodies into the same form
func parsePostForm(r *http.Request) (*postForm, error) {
	form := &postForm{Extra: make(map[string]interface{})}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		if r.ContentLength > 0 {
			return nil, &formError{code: UnsupportedBody}
		}
		return form, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &formError{code: UnsupportedBody, cause: err}
	}

	switch mediaType {
	case "multipart/form-data":
		if err = r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, bodyError(err)
		}
		if err = form.setValues(r.MultipartForm.Value); err != nil {
			return nil, err
		}
		form.Files = append(form.Files, r.MultipartForm.File[fieldMedia]...)
		form.Files = append(form.Files, r.MultipartForm.File[fieldMediaArray]...)
	case "application/x-www-form-urlencoded":
		if err = r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		if err = form.setValues(r.PostForm); err != nil {
			return nil, err
		}
	case "application/json":
		if err = form.decodeJSON(r.Body); err != nil {
			return nil, err
		}
	default:
		return nil, &formError{code: UnsupportedBody}
	}
	return form, nil
}

// bodyError - keeps size limit errors recognizable, everything else is a bad body
func bodyError(err error) error {
	var maxBytesError *http.MaxBytesError
	if errors.As(err, &maxBytesError) {
		return err
	}
	return &formError{code: BadRequestBody, cause: err}
}

// setValues - form fields carry strings, contentBlocks and comments are JSON strings
func (f *postForm) setValues(values map[string][]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(values[name]) == 0 {
			continue
		}
		value := values[name][0]
		switch name {
		case fieldTitle:
			f.Title = &value
		case fieldAuthor:
			f.Author = &value
		case fieldContentBlocks:
			blocks, err := models.ParseBlocks([]byte(value))
			if err != nil {
				return &formError{code: InvalidContentBlocks, cause: err}
			}
			f.ContentBlocks = &blocks
		case fieldComments:
			comments, err := models.ParseComments([]byte(value))
			if err != nil {
				return &formError{code: InvalidComments, cause: err}
			}
			f.Comments = &comments
		case fieldMedia, fieldMediaArray:
		default:
			f.Extra[name] = value
		}
	}
	return nil
}

// decodeJSON - JSON bodies keep value types. contentBlocks and comments may be arrays or JSON strings
func (f *postForm) decodeJSON(body io.Reader) error {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()

	var fields map[string]json.RawMessage
	if err := decoder.Decode(&fields); err != nil {
		return bodyError(err)
	}

	for name, raw := range fields {
		if isJSONNull(raw) {
			continue
		}
		switch name {
		case fieldTitle, fieldAuthor:
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				if name == fieldTitle {
					return &formError{code: postService.InvalidTitle, cause: err}
				}
				return &formError{code: BadRequestBody, cause: err}
			}
			if name == fieldTitle {
				f.Title = &value
			} else {
				f.Author = &value
			}
		case fieldContentBlocks:
			blocks, err := models.ParseBlocks(unquoteJSON(raw))
			if err != nil {
				return &formError{code: InvalidContentBlocks, cause: err}
			}
			f.ContentBlocks = &blocks
		case fieldComments:
			comments, err := models.ParseComments(unquoteJSON(raw))
			if err != nil {
				return &formError{code: InvalidComments, cause: err}
			}
			f.Comments = &comments
		case fieldMedia, fieldMediaArray:
		default:
			valueDecoder := json.NewDecoder(bytes.NewReader(raw))
			valueDecoder.UseNumber()
			var value interface{}
			if err := valueDecoder.Decode(&value); err != nil {
				return &formError{code: BadRequestBody, cause: err}
			}
			f.Extra[name] = value
		}
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// unquoteJSON - content of a JSON string holding JSON, or raw itself
func unquoteJSON(raw json.RawMessage) []byte {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return []byte(encoded)
	}
	return raw
}
