package restapi

import (
	"context"
	"encoding/json"
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware"
	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/userService"
)

// ctxRoleKey - special type for getting user's role from request context
type ctxRoleKey string

const (
	// CtxRoleKey - used to get user's role from request context
	CtxRoleKey = ctxRoleKey("role")
)

// error codes for this API
var (
	// WrongCredentials - user inputs wrong username or password while logging in
	WrongCredentials = models.NewRequestErrorCode("WRONG_CREDENTIALS")
	// IncompleteCredentials - username or password is missing
	IncompleteCredentials = models.NewRequestErrorCode("INCOMPLETE_CREDENTIALS")
	// InvalidToken - token is malformed, expired or signed with another key
	InvalidToken = models.NewRequestErrorCode("INVALID_TOKEN")
)

// maxLoginBodySize - login bodies carry two short strings
const maxLoginBodySize = 4 << 10

// UserAPIHandler - environment container struct to declare all auth handlers as methods
type UserAPIHandler struct {
	accounts        *userService.Accounts
	jwtSecret       []byte
	jwtUserProperty string
	enforced        bool
	errorResponder
}

// NewUserAPIHandler - enforced switches on role checks of RequireRole
func NewUserAPIHandler(accounts *userService.Accounts, jwtSecret []byte, jwtUserProperty string, enforced bool,
	hideDetails bool, logger *log.Entry) *UserAPIHandler {
	return &UserAPIHandler{
		accounts:        accounts,
		jwtSecret:       jwtSecret,
		jwtUserProperty: jwtUserProperty,
		enforced:        enforced,
		errorResponder: errorResponder{
			hideDetails: hideDetails,
			logger:      logger,
		},
	}
}

// NewJWTMiddleware - checks bearer tokens when present. Requests without a token pass as anonymous
func NewJWTMiddleware(jwtSecret []byte, jwtUserProperty string, logger *log.Entry) *jwtmiddleware.JWTMiddleware {
	return jwtmiddleware.New(jwtmiddleware.Options{
		UserProperty: jwtUserProperty,
		ValidationKeyGetter: func(token *jwt.Token) (interface{}, error) {
			return jwtSecret, nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err string) {
			logger.Infof("Error checking JWT token: %s", err)
			RespondWithError(w, http.StatusUnauthorized, InvalidToken)
		},
		SigningMethod:       jwt.SigningMethodHS256,
		CredentialsOptional: true,
	})
}

// RoleAuthentication - middleware putting the role of the checked token into request context
// This handler should be a next step after JWT token checking
func (api *UserAPIHandler) RoleAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := r.Context().Value(api.jwtUserProperty).(*jwt.Token)
		userRole := userService.RoleFromToken(token)

		// create a new context with user role in it. We will pass this context to the next handler
		ctx := context.WithValue(r.Context(), CtxRoleKey, userRole)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RoleFromContext - role set by RoleAuthentication, anonymous when absent
func RoleFromContext(ctx context.Context) models.UserRole {
	if role, ok := ctx.Value(CtxRoleKey).(models.UserRole); ok {
		return role
	}
	return models.RoleAnonymous
}

// RequireRole - rejects requests whose role is below required. Passes everything when checks are not enforced
func (api *UserAPIHandler) RequireRole(required models.UserRole, next http.Handler) http.Handler {
	if !api.enforced {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userRole := RoleFromContext(r.Context())
		if userRole.Allows(required) {
			next.ServeHTTP(w, r)
			return
		}

		if userRole == models.RoleAnonymous {
			api.logger.Infof("Anonymous user can't access %s %s", r.Method, r.URL.Path)
			RespondWithError(w, http.StatusUnauthorized, Unauthorized)
			return
		}
		api.logger.Infof("User role doesn't have permissions to access %s %s. User role: %s",
			r.Method, r.URL.Path, userRole)
		RespondWithError(w, http.StatusForbidden, NoPermissions)
	})
}

// LoginUserHandler - checks credentials of a configured account and issues a token
func (api *UserAPIHandler) LoginUserHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request models.LoginRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodySize)
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			api.respondWithServiceError(w, bodyError(err), "login user")
			return
		}

		api.logger.Infof("Got new user login request. Username: %s", request.Username)

		if request.Username == "" || request.Password == "" {
			api.logger.Info("Can't login user: incomplete credentials")
			RespondWithError(w, http.StatusBadRequest, IncompleteCredentials)
			return
		}

		account, err := api.accounts.Authenticate(request.Username, request.Password)
		if err != nil {
			if errors.Is(err, userService.ErrWrongCredentials) {
				api.logger.Infof("Can't login user: wrong credentials. Username: %s", request.Username)
				RespondWithError(w, http.StatusUnauthorized, WrongCredentials)
				return
			}
			api.respondWithServiceError(w, err, "login user")
			return
		}

		token, err := userService.GenerateToken(api.jwtSecret, account)
		if err != nil {
			api.respondWithServiceError(w, errors.Wrap(err, "error signing token"), "login user")
			return
		}

		api.logger.Infof("User logged in. Username: %s, role: %s", account.Username, account.Role)
		RespondWithBody(w, http.StatusOK, &models.LoginResponse{
			Token: token,
			Role:  account.Role,
		})
	})
}
