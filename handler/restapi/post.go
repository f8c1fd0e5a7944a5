package restapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/postService"
	"github.com/bulletin/board/service/uploadService"
)

// PostAPIHandler - used for dependency injection
type PostAPIHandler struct {
	store       postService.Store
	uploader    *uploadService.Uploader
	maxBodySize int64
	errorResponder
}

// NewPostAPIHandler - maxBodySize bounds whole request bodies, files included
func NewPostAPIHandler(store postService.Store, uploader *uploadService.Uploader, maxBodySize int64,
	hideDetails bool, logger *log.Entry) *PostAPIHandler {
	return &PostAPIHandler{
		store:       store,
		uploader:    uploader,
		maxBodySize: maxBodySize,
		errorResponder: errorResponder{
			hideDetails: hideDetails,
			logger:      logger,
		},
	}
}

// readForm - parses the size limited body. Temporary multipart files are removed by the returned cleanup
func (api *PostAPIHandler) readForm(w http.ResponseWriter, r *http.Request) (*postForm, func(), error) {
	if api.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, api.maxBodySize)
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}
	form, err := parsePostForm(r)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return form, cleanup, nil
}

// GetPostsHandler - serves all posts, newest first
func (api *PostAPIHandler) GetPostsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts, err := api.store.List(r.Context())
		if err != nil {
			api.respondWithServiceError(w, err, "retrieve posts")
			return
		}

		RespondWithBody(w, http.StatusOK, posts)
	})
}

// GetPostHandler - serves GET request for single post
func (api *PostAPIHandler) GetPostHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := mux.Vars(r)["id"]
		postID, valid := ParsePostID(rawID)
		if !valid {
			api.logger.Infof("Can't retrieve post: invalid post ID. Post ID: %s", rawID)
			RespondWithError(w, http.StatusBadRequest, InvalidID)
			return
		}

		post, err := api.store.Get(r.Context(), postID)
		if err != nil {
			api.respondWithServiceError(w, err, "retrieve post")
			return
		}

		RespondWithBody(w, http.StatusOK, post)
	})
}

// CreatePostHandler - this handler serves post creation requests
func (api *PostAPIHandler) CreatePostHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form, cleanup, err := api.readForm(w, r)
		defer cleanup()
		if err != nil {
			api.respondWithServiceError(w, err, "create post")
			return
		}

		api.logger.Infof("Got new post creation request. Files: %d, dynamic fields: %d", len(form.Files), len(form.Extra))

		// nothing is written to disk for a request that fails anyway
		if form.Title == nil || strings.TrimSpace(*form.Title) == "" {
			api.logger.Info("Can't create post: title is missing")
			RespondWithErrorMessage(w, http.StatusBadRequest, postService.InvalidTitle, "title is required")
			return
		}

		if form.ContentBlocks != nil && !api.ownsUploads(w, *form.ContentBlocks, nil, "create post") {
			return
		}

		stored, err := api.uploader.SaveAll(form.Files)
		if err != nil {
			api.respondWithServiceError(w, err, "create post")
			return
		}

		var blocks []models.Block
		if form.ContentBlocks != nil {
			var unused []uploadService.StoredFile
			blocks, unused = uploadService.Reconcile(*form.ContentBlocks, stored)
			if len(unused) > 0 {
				api.logger.Infof("Discarding %d uploaded files without matching content block", len(unused))
				api.uploader.Discard(unused)
				stored = stored[:len(stored)-len(unused)]
			}
		} else {
			blocks = uploadService.BlocksFromFiles(stored)
		}

		saveRequest := &postService.SaveRequest{
			Title:         *form.Title,
			ContentBlocks: blocks,
			Extra:         form.Extra,
		}
		if form.Author != nil {
			saveRequest.Author = *form.Author
		}

		createdPost, err := api.store.Create(r.Context(), saveRequest)
		if err != nil {
			api.uploader.Discard(stored)
			api.respondWithServiceError(w, err, "create post")
			return
		}

		api.logger.Infof("Post saved. Post ID: %d", createdPost.ID)
		RespondWithBody(w, http.StatusCreated, createdPost)
	})
}

// UpdatePostHandler - this handler serves post update requests
// Only fields present in the body change. Files sent without contentBlocks are appended as new media blocks
func (api *PostAPIHandler) UpdatePostHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := mux.Vars(r)["id"]
		api.logger.Infof("Got new post update request. Post ID: %s", rawID)

		postID, valid := ParsePostID(rawID)
		if !valid {
			api.logger.Infof("Can't update post: invalid post ID. Post ID: %s", rawID)
			RespondWithError(w, http.StatusBadRequest, InvalidID)
			return
		}

		form, cleanup, err := api.readForm(w, r)
		defer cleanup()
		if err != nil {
			api.respondWithServiceError(w, err, "update post")
			return
		}

		// media of replaced blocks is reclaimed after a successful update
		var previousMedia []models.Block
		if form.ContentBlocks != nil {
			previous, err := api.store.Get(r.Context(), postID)
			if err != nil {
				api.respondWithServiceError(w, err, "update post")
				return
			}
			previousMedia = previous.MediaBlocks()
			if !api.ownsUploads(w, *form.ContentBlocks, previousMedia, "update post") {
				return
			}
		}

		stored, err := api.uploader.SaveAll(form.Files)
		if err != nil {
			api.respondWithServiceError(w, err, "update post")
			return
		}

		updateRequest := &postService.UpdateRequest{
			ID:       postID,
			Title:    form.Title,
			Author:   form.Author,
			Comments: form.Comments,
			Extra:    form.Extra,
		}
		if form.ContentBlocks != nil {
			blocks, unused := uploadService.Reconcile(*form.ContentBlocks, stored)
			if len(unused) > 0 {
				api.logger.Infof("Discarding %d uploaded files without matching content block. Post ID: %d",
					len(unused), postID)
				api.uploader.Discard(unused)
				stored = stored[:len(stored)-len(unused)]
			}
			updateRequest.ContentBlocks = &blocks
		} else {
			updateRequest.AppendBlocks = uploadService.BlocksFromFiles(stored)
		}

		updatedPost, err := api.store.Update(r.Context(), updateRequest)
		if err != nil {
			api.uploader.Discard(stored)
			api.respondWithServiceError(w, err, "update post")
			return
		}

		if orphaned := orphanedMedia(previousMedia, updatedPost.ContentBlocks); len(orphaned) > 0 {
			api.logger.Infof("Removing %d media files no longer referenced. Post ID: %d", len(orphaned), postID)
			api.uploader.RemoveBlocks(orphaned)
		}

		api.logger.Infof("Post updated. Post ID: %d", updatedPost.ID)
		RespondWithBody(w, http.StatusOK, updatedPost)
	})
}

// DeletePostHandler - this handler serves post deletion requests
func (api *PostAPIHandler) DeletePostHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := mux.Vars(r)["id"]
		api.logger.Infof("Got new post deletion request. Post ID: %s", rawID)

		postID, valid := ParsePostID(rawID)
		if !valid {
			api.logger.Infof("Can't delete post: invalid post ID. Post ID: %s", rawID)
			RespondWithError(w, http.StatusBadRequest, InvalidID)
			return
		}

		media, err := api.store.Delete(r.Context(), postID)
		if err != nil {
			api.respondWithServiceError(w, err, "delete post")
			return
		}
		api.uploader.RemoveBlocks(media)

		api.logger.Infof("Post deleted. Post ID: %d", postID)
		RespondWithBody(w, http.StatusOK, &models.DeleteResponse{
			Message: "Post deleted",
			ID:      postID,
		})
	})
}

// ownsUploads - rejects blocks pointing at uploaded files the post does not already reference
func (api *PostAPIHandler) ownsUploads(w http.ResponseWriter, blocks, owned []models.Block, action string) bool {
	foreign := api.uploader.ForeignUploads(blocks, owned)
	if len(foreign) == 0 {
		return true
	}
	api.logger.Infof("Can't %s: content blocks reference uploads of other posts. URLs: %v", action, foreign)
	RespondWithErrorMessage(w, http.StatusBadRequest, InvalidContentBlocks,
		fmt.Sprintf("content block references an upload that does not belong to this post: %s", foreign[0]))
	return false
}

// orphanedMedia - previous media blocks whose files no current block references
func orphanedMedia(previous, current []models.Block) []models.Block {
	if len(previous) == 0 {
		return nil
	}
	referenced := make(map[string]bool, len(current))
	for _, block := range current {
		if block.URL != "" {
			referenced[block.URL] = true
		}
	}
	var orphaned []models.Block
	for _, block := range previous {
		if block.URL != "" && !referenced[block.URL] {
			orphaned = append(orphaned, block)
		}
	}
	return orphaned
}
