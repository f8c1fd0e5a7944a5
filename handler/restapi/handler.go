package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/postService"
	"github.com/bulletin/board/service/schemaService"
	"github.com/bulletin/board/service/uploadService"
)

// general error codes
var (
	// TechnicalError - internal server error
	TechnicalError = models.NewRequestErrorCode("TECHNICAL_ERROR")
	// BadRequestBody - invalid body
	BadRequestBody = models.NewRequestErrorCode("BAD_BODY")
	// BodyTooLarge - body exceeds the upload limits
	BodyTooLarge = models.NewRequestErrorCode("BODY_TOO_LARGE")
	// NoPermissions - user doesn't have permissions to create/update/delete resource
	NoPermissions = models.NewRequestErrorCode("NO_PERMISSIONS")
	// Unauthorized - action requires login
	Unauthorized = models.NewRequestErrorCode("UNAUTHORIZED")
	// InvalidID - id path parameter is not a positive integer
	InvalidID = models.NewRequestErrorCode("INVALID_ID")
	// NoSuchPost - post does not exist
	NoSuchPost = models.NewRequestErrorCode("NO_SUCH_POST")
	// ColumnLimit - request would create too many dynamic fields
	ColumnLimit = models.NewRequestErrorCode("COLUMN_LIMIT")
	// TooManyFiles - request carries too many files
	TooManyFiles = models.NewRequestErrorCode("TOO_MANY_FILES")
	// FileTooLarge - uploaded file exceeds the size limit
	FileTooLarge = models.NewRequestErrorCode("FILE_TOO_LARGE")
	// Timeout - request did not finish in time, retry later
	Timeout = models.NewRequestErrorCode("TIMEOUT")
)

// Respond - helper function for responding with only status code
func Respond(w http.ResponseWriter, code int) {
	w.WriteHeader(code)
}

func respondWithJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// RespondWithError - helper function for responding with error code in body
func RespondWithError(w http.ResponseWriter, code int, errorCode models.RequestErrorCode) {
	RespondWithErrorMessage(w, code, errorCode, "")
}

// RespondWithErrorMessage - helper function for responding with error code and human readable detail
func RespondWithErrorMessage(w http.ResponseWriter, code int, errorCode models.RequestErrorCode, message string) {
	encodedResponse, err := json.Marshal(&models.ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, code, encodedResponse)
}

// RespondWithBody - helper function for responding with payload in body
func RespondWithBody(w http.ResponseWriter, code int, payload interface{}) {
	encodedResponse, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, code, encodedResponse)
}

// errorResponder - maps service errors onto HTTP responses
// Details of internal errors are sent only when hideDetails is off
type errorResponder struct {
	hideDetails bool
	logger      *log.Entry
}

// respondWithServiceError - responds with status matching err. action describes what failed, for the log
func (e errorResponder) respondWithServiceError(w http.ResponseWriter, err error, action string) {
	var validationError *postService.ValidationError
	var limitError *schemaService.LimitError
	var maxBytesError *http.MaxBytesError
	var invalidBody *formError

	switch {
	case errors.As(err, &invalidBody):
		e.logger.Infof("Can't %s: invalid request body. Error: %s", action, err)
		message := ""
		if invalidBody.cause != nil {
			message = invalidBody.cause.Error()
		}
		RespondWithErrorMessage(w, http.StatusBadRequest, invalidBody.code, message)
	case errors.As(err, &validationError):
		e.logger.Infof("Can't %s: invalid request. Error: %s", action, err)
		RespondWithErrorMessage(w, http.StatusBadRequest, validationError.Code, validationError.Message)
	case errors.As(err, &limitError):
		e.logger.Infof("Can't %s: dynamic column limit exceeded. Error: %s", action, err)
		RespondWithErrorMessage(w, http.StatusBadRequest, ColumnLimit, limitError.Error())
	case errors.Is(err, postService.ErrNoSuchPost):
		e.logger.Infof("Can't %s: post does not exist", action)
		RespondWithError(w, http.StatusNotFound, NoSuchPost)
	case errors.Is(err, uploadService.ErrTooManyFiles):
		e.logger.Infof("Can't %s: too many files. Error: %s", action, err)
		RespondWithErrorMessage(w, http.StatusBadRequest, TooManyFiles, err.Error())
	case errors.Is(err, uploadService.ErrFileTooLarge):
		e.logger.Infof("Can't %s: file too large. Error: %s", action, err)
		RespondWithErrorMessage(w, http.StatusBadRequest, FileTooLarge, err.Error())
	case errors.As(err, &maxBytesError):
		e.logger.Infof("Can't %s: body exceeds %d bytes", action, maxBytesError.Limit)
		RespondWithError(w, http.StatusRequestEntityTooLarge, BodyTooLarge)
	case errors.Is(err, context.DeadlineExceeded):
		e.logger.Warnf("Can't %s: request timed out", action)
		RespondWithError(w, http.StatusServiceUnavailable, Timeout)
	default:
		e.logger.Errorf("Can't %s: %+v", action, err)
		e.respondWithTechnicalError(w, err)
	}
}

func (e errorResponder) respondWithTechnicalError(w http.ResponseWriter, err error) {
	if e.hideDetails {
		RespondWithError(w, http.StatusInternalServerError, TechnicalError)
		return
	}
	RespondWithErrorMessage(w, http.StatusInternalServerError, TechnicalError, err.Error())
}

// ParsePostID - post IDs are positive integers
func ParsePostID(id string) (int64, bool) {
	if id == "" {
		return 0, false
	}
	num, err := strconv.ParseInt(id, 10, 64)
	if err != nil || num <= 0 {
		return 0, false
	}
	return num, true
}
