package httpx

import (
	"fmt"
	"net/http"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
)

// Error represents an HTTP error response with status code and description.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

// Failure represents the error result code in error responses.
const Failure int = 0

// Send writes the error response. A nil writer is ignored.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rspJson, err := json.Marshal(&errorRsp{Result: Failure, Error: e.Description})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to parse error"))
		return
	}
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

// SendError sends an application error as an HTTP error response.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	(&Error{StatusCode: statusCode, Description: err.ErrorAll()}).Send(w)
}

func orDefault(str []string, def string) string {
	if len(str) > 0 && str[0] != "" {
		return str[0]
	}
	return def
}

// ErrReqMethodNotSupported returns an error for unsupported HTTP methods.
func ErrReqMethodNotSupported() *Error {
	return &Error{Description: "request method not supported", StatusCode: http.StatusMethodNotAllowed}
}

// ErrUnableToParseReqData returns an error when request data cannot be parsed.
func ErrUnableToParseReqData() *Error {
	return &Error{Description: "unable to parse request data", StatusCode: http.StatusBadRequest}
}

// ErrApplicationError returns an error for application-level failures.
func ErrApplicationError(str ...string) *Error {
	return &Error{Description: orDefault(str, "unable to process request"), StatusCode: http.StatusInternalServerError}
}

// ErrUnAuthorized returns an error for unauthenticated requests.
func ErrUnAuthorized(str ...string) *Error {
	return &Error{Description: orDefault(str, "unable to authenticate request"), StatusCode: http.StatusUnauthorized}
}

// ErrForbidden returns an error for authenticated requests outside the caller's scope.
func ErrForbidden(str ...string) *Error {
	return &Error{Description: orDefault(str, "forbidden"), StatusCode: http.StatusForbidden}
}

// ErrInvalidRequest returns an error for invalid request data.
func ErrInvalidRequest(str ...string) *Error {
	return &Error{Description: orDefault(str, "invalid request data or empty request values"), StatusCode: http.StatusBadRequest}
}

// ErrServiceUnavailable returns an error when a dependency is down.
func ErrServiceUnavailable(str ...string) *Error {
	return &Error{Description: orDefault(str, "service unavailable"), StatusCode: http.StatusServiceUnavailable}
}

// ErrRequestTimeout returns an error for request timeout.
func ErrRequestTimeout() *Error {
	return &Error{Description: "request timed out", StatusCode: http.StatusRequestTimeout}
}

// ErrRequestTooLarge returns an error when request body exceeds size limit.
func ErrRequestTooLarge(limit int64) *Error {
	return &Error{
		Description: fmt.Sprintf("request body too large (limit: %d bytes)", limit),
		StatusCode:  http.StatusRequestEntityTooLarge,
	}
}
