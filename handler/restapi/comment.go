package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/commentService"
	"github.com/bulletin/board/service/postService"
)

// maxCommentBodySize - comment bodies are small JSON documents
const maxCommentBodySize = 64 << 10

// CommentAPIHandler - used for dependency injection
type CommentAPIHandler struct {
	store postService.Store
	errorResponder
}

func NewCommentAPIHandler(store postService.Store, hideDetails bool, logger *log.Entry) *CommentAPIHandler {
	return &CommentAPIHandler{
		store: store,
		errorResponder: errorResponder{
			hideDetails: hideDetails,
			logger:      logger,
		},
	}
}

// GetCommentsHandler - serves comments of a post in submission order
func (api *CommentAPIHandler) GetCommentsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := mux.Vars(r)["id"]
		postID, valid := ParsePostID(rawID)
		if !valid {
			api.logger.Infof("Can't retrieve comments: invalid post ID. Post ID: %s", rawID)
			RespondWithError(w, http.StatusBadRequest, InvalidID)
			return
		}

		comments, err := commentService.GetAllByPostID(r.Context(), api.store, postID)
		if err != nil {
			api.respondWithServiceError(w, err, "retrieve comments")
			return
		}

		RespondWithBody(w, http.StatusOK, comments)
	})
}

// CreateCommentHandler - serves comment creation requests, responds with the updated post
func (api *CommentAPIHandler) CreateCommentHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := mux.Vars(r)["id"]
		api.logger.Infof("Got new comment creation request. Post ID: %s", rawID)

		postID, valid := ParsePostID(rawID)
		if !valid {
			api.logger.Infof("Can't create comment: invalid post ID. Post ID: %s", rawID)
			RespondWithError(w, http.StatusBadRequest, InvalidID)
			return
		}

		var request models.CreateCommentRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxCommentBodySize)
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			api.respondWithServiceError(w, bodyError(err), "create comment")
			return
		}

		post, err := commentService.Save(r.Context(), api.store, postID, &request)
		if err != nil {
			api.respondWithServiceError(w, err, "create comment")
			return
		}

		api.logger.Infof("Comment saved. Post ID: %d, comments: %d", post.ID, len(post.Comments))
		RespondWithBody(w, http.StatusCreated, post)
	})
}
