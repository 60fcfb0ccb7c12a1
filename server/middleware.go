package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"hlsrelay/core/auth"
	"hlsrelay/core/signer"
	"hlsrelay/logger"
	"hlsrelay/metrics"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	signedRequestKey
	operatorKey
)

const requestIDHeader = "X-Request-ID"

// RequestIDFromContext returns the id assigned by requestLogger, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// SignedRequestFromContext returns the verified request stored by RequireSignature.
func SignedRequestFromContext(ctx context.Context) (*signer.SignedRequest, bool) {
	sr, ok := ctx.Value(signedRequestKey).(*signer.SignedRequest)
	return sr, ok
}

// statusRecorder 记录状态码和写出字节数，并透传 Flush
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += int64(n)
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack 供 websocket 升级使用
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// requestLogger assigns a request id and logs one line per request.
// The query string is never logged because it carries signatures.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))

		logger.Info("request",
			logger.String("request_id", reqID),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Int64("bytes", rec.bytes),
			logger.Duration("duration", time.Since(start)))
	})
}

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireSignature verifies the signed URL before next runs.
func (h *APIHandler) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr, err := h.signer.VerifyParts(r.URL.Path, r.URL.RawQuery)
		h.metrics.SignatureVerified(verifyResult(err))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), signedRequestKey, sr)))
	})
}

func verifyResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, signer.ErrExpired):
		return metrics.ResultExpired
	case errors.Is(err, signer.ErrInvalidSignature):
		return metrics.ResultInvalid
	default:
		return metrics.ResultBadReq
	}
}

// RequireOperator checks the bearer operator token on admin routes.
func (h *APIHandler) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody(r, "Authorization header is required"))
			return
		}

		claims, err := h.tokens.Parse(token)
		if err != nil {
			logger.Warn("运维令牌无效",
				logger.String("request_id", RequestIDFromContext(r.Context())),
				logger.ErrorField(err))
			writeJSON(w, http.StatusUnauthorized, errorBody(r, "Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, claims)))
	})
}

// OperatorFromContext returns the claims stored by RequireOperator.
func OperatorFromContext(ctx context.Context) (*auth.OperatorClaims, bool) {
	c, ok := ctx.Value(operatorKey).(*auth.OperatorClaims)
	return c, ok
}
