package server

import (
	"encoding/json"
	"net/http"
	"time"

	"hlsrelay/core/signer"
	"hlsrelay/logger"
)

const protectedPayload = "This is a protected route"

// ProtectedHandler GET /protected (signed). Responses are cached per request URI.
func (h *APIHandler) ProtectedHandler(w http.ResponseWriter, r *http.Request) {
	key := "response-" + r.URL.RequestURI()

	if cached, ok := h.cacheGet(r.Context(), key); ok {
		logger.Debug("Cache hit", logger.String("request_id", RequestIDFromContext(r.Context())))
		writeText(w, cached)
		return
	}

	data := []byte(protectedPayload)
	h.cacheSet(r.Context(), key, data, h.cfg.CacheTTL)
	logger.Debug("Cache miss, data processed", logger.String("request_id", RequestIDFromContext(r.Context())))
	writeText(w, data)
}

// GenerateSignedURLHandler GET /generate-signed-url
// Returns a signed /protected link, reusing a cached one while it keeps at
// least half of its validity window.
func (h *APIHandler) GenerateSignedURLHandler(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{"param1": "value1"}
	encoded, _ := json.Marshal(params)
	key := "signed-url-" + string(encoded)

	if cached, ok := h.cacheGet(r.Context(), key); ok {
		writeText(w, []byte("Visit this URL: "+string(cached)))
		return
	}

	signed, _, err := h.signer.Sign("/protected", signer.FromMap(params), h.cfg.SignedURLTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	full := h.cfg.PublicBaseURL + signed
	h.cacheSet(r.Context(), key, []byte(full), signedURLCacheTTL(h.cfg.CacheTTL, h.cfg.SignedURLTTL))

	writeText(w, []byte("Visit this URL: "+full))
}

// signedURLCacheTTL caps the cache lifetime at half the signature window.
func signedURLCacheTTL(cacheTTL, signedTTL time.Duration) time.Duration {
	if half := signedTTL / 2; half < cacheTTL {
		return half
	}
	return cacheTTL
}

func writeText(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
