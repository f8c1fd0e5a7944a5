package restapi

import (
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware"
	"github.com/gorilla/mux"

	"github.com/bulletin/board/models"
)

// Handlers - API handlers served under /api
type Handlers struct {
	Posts         *PostAPIHandler
	Comments      *CommentAPIHandler
	Users         *UserAPIHandler
	JWTMiddleware *jwtmiddleware.JWTMiddleware
}

// secured - token check, role extraction and role requirement in front of handler
func (h *Handlers) secured(required models.UserRole, handler http.Handler) http.Handler {
	return h.JWTMiddleware.Handler(h.Users.RoleAuthentication(h.Users.RequireRole(required, handler)))
}

// RegisterRoutes - sets rest api handlers on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/posts", h.Posts.GetPostsHandler()).Methods("GET")
	router.Handle("/api/posts/{id}", h.Posts.GetPostHandler()).Methods("GET")
	router.Handle("/api/posts",
		h.secured(models.RoleAuthor, h.Posts.CreatePostHandler())).Methods("POST")
	router.Handle("/api/posts/{id}",
		h.secured(models.RoleAuthor, h.Posts.UpdatePostHandler())).Methods("PUT")
	router.Handle("/api/posts/{id}",
		h.secured(models.RoleAdmin, h.Posts.DeletePostHandler())).Methods("DELETE")

	router.Handle("/api/posts/{id}/comments", h.Comments.GetCommentsHandler()).Methods("GET")
	router.Handle("/api/posts/{id}/comments",
		h.secured(models.RoleAuthor, h.Comments.CreateCommentHandler())).Methods("POST")

	router.Handle("/api/user/login", h.Users.LoginUserHandler()).Methods("POST")
}
