// Package httpx provides request decoding and response writing for the key server's HTTP
// handlers. Handlers return a Response or an error; WrapHttpRsp turns both into HTTP.
package httpx

import (
	"errors"
	"net/http"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ContentTypeJSON     = "application/json"
	ContentTypeText     = "text/plain"
	ContentTypeProtobuf = "application/x-protobuf"
)

// GetRequestData parses a JSON request body of at most limit bytes into data.
// Only supports POST and PUT methods. A limit of zero disables the size check.
func GetRequestData(r *http.Request, limit int64, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil || r.Body == http.NoBody {
		log.Ctx(r.Context()).Debug().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(nil, r.Body, limit)
	}
	if err := json.NewDecoder(body).Decode(data); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrRequestTooLarge(limit)
		}
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response represents an HTTP response with configurable status code, content type
// and extra headers. Binary bodies are passed as []byte.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
	Header      http.Header
}

// RequestHandler defines a function type for handling HTTP requests.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp wraps a RequestHandler to provide standardized HTTP response handling,
// including error handling and content type management.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendErr(w, r, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		for k, v := range rsp.Header {
			w.Header()[k] = v
		}

		if rsp.ContentType == "" {
			rsp.ContentType = ContentTypeJSON
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		switch rsp.ContentType {
		case ContentTypeJSON:
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		case ContentTypeText:
			s, _ := rsp.Response.(string)
			w.Header().Set("Content-Type", ContentTypeText)
			w.WriteHeader(rsp.StatusCode)
			w.Write([]byte(s))
		case ContentTypeProtobuf:
			b, ok := rsp.Response.([]byte)
			if !ok && rsp.Response != nil {
				ErrApplicationError("unsupported response body").Send(w)
				return
			}
			w.Header().Set("Content-Type", ContentTypeProtobuf)
			w.WriteHeader(rsp.StatusCode)
			if len(b) > 0 {
				w.Write(b)
			}
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

func sendErr(w http.ResponseWriter, r *http.Request, err error) {
	var httperror *Error
	if errors.As(err, &httperror) {
		httperror.Send(w)
		return
	}
	if appErr, ok := err.(apperrors.Error); ok {
		statusCode := appErr.StatusCode()
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		if statusCode >= http.StatusInternalServerError {
			log.Ctx(r.Context()).Error().Str("error", appErr.ErrorAll()).Msg("request failed")
			// internal causes are not leaked to clients
			(&Error{StatusCode: statusCode, Description: appErr.Error()}).Send(w)
			return
		}
		(&Error{StatusCode: statusCode, Description: appErr.ErrorAll()}).Send(w)
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	ErrApplicationError().Send(w)
}
