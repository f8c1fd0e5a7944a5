package postService

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/schemaService"
)

// ErrNoSuchPost - post with the given ID does not exist
var ErrNoSuchPost = errors.New("no such post")

// validation error codes
var (
	// InvalidTitle - title is missing or blank
	InvalidTitle = models.NewRequestErrorCode("INVALID_TITLE")
	// NoFields - update request carries no recognized field
	NoFields = models.NewRequestErrorCode("NO_FIELDS")
	// InvalidField - value does not fit the type of an existing column
	InvalidField = models.NewRequestErrorCode("INVALID_FIELD")
)

// ValidationError - request is malformed and must not be retried as is
type ValidationError struct {
	Code    models.RequestErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewValidationError - creates validation error
func NewValidationError(code models.RequestErrorCode, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// postgres error codes caused by client values
const (
	pqInvalidTextRepresentation = "22P02"
	pqNumericValueOutOfRange    = "22003"
	pqInvalidJSON               = "22032"
	pqCheckViolation            = "23514"
)

// asValidationError - turns errors caused by client-supplied values into ValidationError, leaves other errors alone
func asValidationError(err error) error {
	var conversionError *schemaService.ConversionError
	if errors.As(err, &conversionError) {
		return NewValidationError(InvalidField, conversionError.Error())
	}

	var pqError *pq.Error
	if errors.As(err, &pqError) {
		switch pqError.Code {
		case pqInvalidTextRepresentation, pqNumericValueOutOfRange, pqInvalidJSON:
			return NewValidationError(InvalidField, pqError.Message)
		case pqCheckViolation:
			return NewValidationError(InvalidTitle, pqError.Message)
		}
	}
	return err
}
