// Package response writes the JSON envelopes shared by every endpoint:
// {success, message?, data?} on success and {error, message, details?} on failure.
package response

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes carried in the "error" field.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeTokenMissing       = "TOKEN_MISSING"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeIncorrectPassword  = "INCORRECT_PASSWORD"
	CodeInvalidJSON        = "INVALID_JSON"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

type Success struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Failure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Success{Success: true, Message: message, Data: data})
}

func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Failure{Error: code, Message: message})
}

func ErrorWithDetails(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, Failure{Error: code, Message: message, Details: details})
}
