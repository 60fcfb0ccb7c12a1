package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"hlsrelay/core/signer"
	"hlsrelay/core/upstream"
	"hlsrelay/logger"
	"hlsrelay/model"
)

var (
	errMissingParam = errors.New("missing required parameter")
	errBadParam     = errors.New("invalid parameter")
	errBadBody      = errors.New("invalid request body")
)

const genericFailure = "Woops! Something went wrong with the request; Please report us!"

// statusFor maps the error taxonomy to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errMissingParam):
		return http.StatusBadRequest, "URL parameter is missing"
	case errors.Is(err, errBadParam), errors.Is(err, errBadBody), errors.Is(err, upstream.ErrForeignLocator):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, signer.ErrMalformedRequest):
		return http.StatusBadRequest, "Malformed signed URL"
	case errors.Is(err, signer.ErrExpired):
		return http.StatusUnauthorized, "URL has expired"
	case errors.Is(err, signer.ErrInvalidSignature):
		return http.StatusUnauthorized, "Invalid signature"
	default:
		return http.StatusInternalServerError, genericFailure
	}
}

// writeError 客户端只看到通用信息，详细错误写入日志
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	reqID := RequestIDFromContext(r.Context())

	fields := []logger.Field{
		logger.String("request_id", reqID),
		logger.String("path", r.URL.Path),
		logger.Int("status", status),
		logger.ErrorField(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败", fields...)
	} else {
		logger.Warn("请求被拒绝", fields...)
	}

	writeJSON(w, status, errorBody(r, message))
}

func errorBody(r *http.Request, message string) model.ErrorResponse {
	return model.ErrorResponse{Error: message, RequestID: RequestIDFromContext(r.Context())}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}
