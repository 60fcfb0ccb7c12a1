package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hlsrelay/cache"
	"hlsrelay/config"
	"hlsrelay/core/assembler"
	"hlsrelay/core/auth"
	"hlsrelay/core/credential"
	"hlsrelay/core/manifest"
	"hlsrelay/core/signer"
	"hlsrelay/logger"
	"hlsrelay/metrics"
	"hlsrelay/model"
)

// ManifestFetcher resolves a locator into its segment list.
type ManifestFetcher interface {
	Fetch(ctx context.Context, locator string) (*manifest.Manifest, error)
}

// TrackInfoClient looks up track metadata with a given credential.
type TrackInfoClient interface {
	GetTrackInfo(ctx context.Context, trackURL, clientID string) (*model.TrackInfo, error)
}

// 输出方式，签名时写入 outputType 参数
const (
	outputStreaming = ""       // 边拉边发，附件下载
	outputInline    = "stream" // 整体组装后内联返回
	outputFile      = "file"   // 整体组装后作为附件返回
)

const (
	paramURL        = "url"
	paramOutputType = "outputType"
	audioMimeType   = "audio/mpeg"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	cfg       *config.Config
	signer    *signer.Signer
	tokens    *auth.TokenIssuer
	cache     cache.Store
	fetcher   ManifestFetcher
	assembler *assembler.Assembler
	tracks    TrackInfoClient
	pool      *credential.Pool
	metrics   *metrics.Metrics
}

// Deps 构造 APIHandler 所需的组件
type Deps struct {
	Config    *config.Config
	Signer    *signer.Signer
	Tokens    *auth.TokenIssuer
	Cache     cache.Store
	Fetcher   ManifestFetcher
	Assembler *assembler.Assembler
	Tracks    TrackInfoClient
	Pool      *credential.Pool
	Metrics   *metrics.Metrics
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{
		cfg:       d.Config,
		signer:    d.Signer,
		tokens:    d.Tokens,
		cache:     d.Cache,
		fetcher:   d.Fetcher,
		assembler: d.Assembler,
		tracks:    d.Tracks,
		pool:      d.Pool,
		metrics:   d.Metrics,
	}
}

// HealthHandler GET /healthz
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DownloadHandler checks that the locator resolves to a usable manifest and
// issues signed /stream and /ws/stream links for it.
// GET /download?url=<locator>[&outputType=stream|file]
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locator := q.Get(paramURL)
	if locator == "" {
		writeError(w, r, errMissingParam)
		return
	}
	outputType := q.Get(paramOutputType)
	if !validOutputType(outputType) {
		writeError(w, r, fmt.Errorf("%w: outputType %q", errBadParam, outputType))
		return
	}

	m, err := h.fetcher.Fetch(r.Context(), locator)
	if err != nil {
		writeError(w, r, err)
		return
	}

	params := signer.Params{{Key: paramURL, Value: locator}}
	if outputType != outputStreaming {
		params = params.With(paramOutputType, outputType)
	}

	streamPath, expiresAt, err := h.signer.Sign("/stream", params, h.cfg.SignedURLTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	wsPath, _, err := h.signer.Sign("/ws/stream", params, h.cfg.SignedURLTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("签发下载链接",
		logger.String("request_id", RequestIDFromContext(r.Context())),
		logger.Int("segments", m.Len()),
		logger.Int64("expires_at", expiresAt))

	writeJSON(w, http.StatusOK, model.DownloadResponse{
		DownloadURL:  h.cfg.PublicBaseURL + streamPath,
		WebsocketURL: websocketBase(h.cfg.PublicBaseURL) + wsPath,
		ExpiresAt:    expiresAt,
	})
}

// StreamHandler redeems a signed /stream link.
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	sr, _ := SignedRequestFromContext(r.Context())
	locator, ok := sr.Params.Get(paramURL)
	if !ok || locator == "" {
		writeError(w, r, errMissingParam)
		return
	}
	outputType, _ := sr.Params.Get(paramOutputType)

	m, err := h.fetcher.Fetch(r.Context(), locator)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch outputType {
	case outputInline:
		h.serveBuffered(w, r, m, "")
	case outputFile:
		h.serveBuffered(w, r, m, "audio_nice.mp3")
	default:
		h.serveStreaming(w, r, m, "audio.mp3")
	}
}

// serveStreaming writes segments as they arrive. Headers go out with the first
// byte, so a failure before that is a 500 and a later one truncates the body.
func (h *APIHandler) serveStreaming(w http.ResponseWriter, r *http.Request, m *manifest.Manifest, filename string) {
	sink := &lazyAudioWriter{w: w, filename: filename}
	written, err := h.assembler.Assemble(r.Context(), m, sink)
	if err == nil {
		sink.start()
		return
	}
	if !sink.started {
		writeError(w, r, err)
		return
	}
	logger.Warn("流式响应已截断",
		logger.String("request_id", RequestIDFromContext(r.Context())),
		logger.Int64("bytes", written),
		logger.ErrorField(err))
}

// serveBuffered assembles the full payload before sending anything.
// An empty filename serves the audio inline.
func (h *APIHandler) serveBuffered(w http.ResponseWriter, r *http.Request, m *manifest.Manifest, filename string) {
	payload, err := h.assembler.AssembleBytes(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", audioMimeType)
	w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
	if filename != "" {
		w.Header().Set("Content-Disposition", attachment(filename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		logger.Warn("写入音频失败", logger.ErrorField(err))
	}
}

// lazyAudioWriter 延迟到第一个字节再发送响应头
type lazyAudioWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (l *lazyAudioWriter) start() {
	if l.started {
		return
	}
	l.started = true
	l.w.Header().Set("Content-Type", audioMimeType)
	if l.filename != "" {
		l.w.Header().Set("Content-Disposition", attachment(l.filename))
	}
	l.w.WriteHeader(http.StatusOK)
}

func (l *lazyAudioWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	l.start()
	return l.w.Write(p)
}

func (l *lazyAudioWriter) Flush() {
	if !l.started {
		return
	}
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}

func validOutputType(t string) bool {
	return t == outputStreaming || t == outputInline || t == outputFile
}

// cacheGet 缓存故障按未命中处理
func (h *APIHandler) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("缓存读取失败", logger.String("key", key), logger.ErrorField(err))
		ok = false
	}
	h.metrics.CacheLookup(ok)
	return value, ok
}

func (h *APIHandler) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := h.cache.Set(ctx, key, value, ttl); err != nil {
		logger.Warn("缓存写入失败", logger.String("key", key), logger.ErrorField(err))
	}
}
