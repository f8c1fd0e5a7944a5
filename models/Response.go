package models

// RequestErrorCode - special type for error codes sent to clients
type RequestErrorCode string

// NewRequestErrorCode - creates error code
func NewRequestErrorCode(code string) RequestErrorCode {
	return RequestErrorCode(code)
}

// ErrorResponse - struct for sending info about occurred error
// Message is omitted when the server hides internal details
type ErrorResponse struct {
	Error   RequestErrorCode `json:"error"`
	Message string           `json:"message,omitempty"`
}

// DeleteResponse - body of successful deletion
type DeleteResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// LoginResponse - body of successful login
type LoginResponse struct {
	Token string   `json:"token"`
	Role  UserRole `json:"role"`
}
