package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/storage/diskmanager"
)

// Error codes produced by the transport layer itself
const (
	ErrorCodeInvalidRequest      = "INVALID_REQUEST"
	ErrorCodeInsufficientStorage = "INSUFFICIENT_STORAGE"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	ErrorCodeIdempotencyMismatch = "IDEMPOTENCY_KEY_MISMATCH"
)

// ErrorResponse is the JSON body of every failed HTTP call
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HTTPStatus maps a rent error code to an HTTP status
func HTTPStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeOK:
		return http.StatusOK
	case errors.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInsufficientBalance, errors.ErrCodePositiveBalance:
		return http.StatusConflict
	case errors.ErrCodeOverflow:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeNotOwner:
		return http.StatusForbidden
	case errors.ErrCodeContractPaused:
		return http.StatusServiceUnavailable
	}

	switch errors.NewRentError(code, "", nil).Kind() {
	case errors.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorBody converts any error into a status and response body
func errorBody(err error, requestID string) (int, *ErrorResponse) {
	if diskmanager.IsDiskSpaceError(err) {
		return http.StatusInsufficientStorage, &ErrorResponse{
			Status:    "error",
			ErrorCode: ErrorCodeInsufficientStorage,
			Message:   err.Error(),
			RequestID: requestID,
		}
	}

	code := errors.GetCode(err)
	resp := &ErrorResponse{
		Status:    "error",
		ErrorCode: code.Name(),
		Message:   err.Error(),
		RequestID: requestID,
	}

	var re *errors.RentError
	if stderrors.As(err, &re) {
		if len(re.Details) > 0 {
			resp.Details = re.Details
		}
		if re.Kind() == errors.KindInternal {
			// Internal causes are logged, not returned
			resp.Message = re.Message
		}
	} else {
		resp.Message = "internal error"
	}
	return HTTPStatus(code), resp
}

// writeErrorResponse writes a transport-level error
func writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, requestID string) {
	writeJSON(w, statusCode, &ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeRaw writes an already encoded JSON body
func writeRaw(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}
