package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"hlsrelay/cache"
	"hlsrelay/config"
	"hlsrelay/core/assembler"
	"hlsrelay/core/auth"
	"hlsrelay/core/credential"
	"hlsrelay/core/manifest"
	"hlsrelay/core/resolver"
	"hlsrelay/core/signer"
	"hlsrelay/core/upstream"
	"hlsrelay/db"
	"hlsrelay/logger"
	"hlsrelay/metrics"
	"hlsrelay/model"
	"hlsrelay/repository"
	"hlsrelay/storage"
)

// NewRouter 注册所有路由
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	// 下载链接与兑换
	router.HandleFunc("/download", h.DownloadHandler).Methods(http.MethodGet)
	router.Handle("/stream", h.RequireSignature(http.HandlerFunc(h.StreamHandler))).Methods(http.MethodGet)
	router.Handle("/ws/stream", h.RequireSignature(http.HandlerFunc(h.WebSocketStreamHandler))).Methods(http.MethodGet)

	// 曲目信息
	router.HandleFunc("/getInfo", h.GetInfoHandler).Methods(http.MethodPost)
	router.Handle("/downloadTrack", h.RequireSignature(http.HandlerFunc(h.DownloadTrackHandler))).Methods(http.MethodGet)

	router.Handle("/protected", h.RequireSignature(http.HandlerFunc(h.ProtectedHandler))).Methods(http.MethodGet)
	router.HandleFunc("/generate-signed-url", h.GenerateSignedURLHandler).Methods(http.MethodGet)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.RequireOperator)
	admin.HandleFunc("/credentials", h.ListCredentialsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/credentials/{id}/health", h.SetCredentialHealthHandler).Methods(http.MethodPut)

	return requestLogger(corsMiddleware(router))
}

// Start wires every component from cfg and serves until ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	urlKey, err := signer.DeriveKey([]byte(cfg.SigningSecret), signer.LabelURLSigning)
	if err != nil {
		return err
	}
	opKey, err := signer.DeriveKey([]byte(cfg.SigningSecret), signer.LabelOperatorToken)
	if err != nil {
		return err
	}

	m := metrics.New()

	store, closeStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return err
	}
	defer db.CloseGormDB(gdb)

	pool, err := newCredentialPool(ctx, cfg, gdb)
	if err != nil {
		return err
	}

	client := upstream.NewClient(cfg.UpstreamAPIURL, cfg.UpstreamTimeout, cfg.UpstreamRateLimit, m)
	schemes := resolver.NewSchemeResolver(resolver.NewPoolResolver(client, pool))

	minioClient, err := storage.NewMinioClient(cfg)
	if err != nil {
		return err
	}
	if minioClient != nil {
		schemes.Register(resolver.SchemeMinio, resolver.NewMinioResolver(minioClient, cfg.MinioPresignTTL))
	}

	handler := NewAPIHandler(Deps{
		Config:    cfg,
		Signer:    signer.New(urlKey),
		Tokens:    auth.NewTokenIssuer(opKey),
		Cache:     store,
		Fetcher:   manifest.NewFetcher(schemes, &http.Client{Timeout: cfg.UpstreamTimeout}, cfg.ManifestContentTypes),
		Assembler: assembler.New(&http.Client{Timeout: cfg.SegmentTimeout}, m),
		Tracks:    client,
		Pool:      pool,
		Metrics:   m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// 流式响应不设写超时
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", srv.Addr), logger.String("public_base_url", cfg.PublicBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("服务已关闭")
	return nil
}

func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.CacheBackend == "redis" {
		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedisStore(client), func() { closeRedis(client) }, nil
	}

	mem := cache.NewMemoryStore()
	sweepCtx, cancel := context.WithCancel(ctx)
	go mem.Run(sweepCtx, cfg.CacheSweepInterval)
	return mem, cancel, nil
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
	}
}

// newCredentialPool 合并环境变量和凭证文件中的 client_id，可选持久化和文件监听
func newCredentialPool(ctx context.Context, cfg *config.Config, gdb *gorm.DB) (*credential.Pool, error) {
	ids := append([]string(nil), cfg.ClientIDs...)
	if cfg.ClientIDsFile != "" {
		fromFile, err := credential.ReadIDFile(cfg.ClientIDsFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", cfg.ClientIDsFile, err)
		}
		ids = append(ids, fromFile...)
	}

	var store credential.Store
	if gdb != nil {
		if err := db.AutoMigrateModels(gdb, &model.ClientCredential{}); err != nil {
			return nil, err
		}
		store = repository.NewGormCredentialRepository(gdb)
	}

	pool := credential.NewPool(ids, store)
	if err := pool.Load(ctx); err != nil {
		logger.Warn("加载凭证状态失败，使用默认状态", logger.ErrorField(err))
	}
	if len(ids) == 0 {
		logger.Warn("未配置任何 client_id，上游解析将全部失败")
	}

	if cfg.ClientIDsFile != "" {
		w, err := credential.NewWatcher(cfg.ClientIDsFile, pool, cfg.ClientIDs)
		if err != nil {
			return nil, err
		}
		go w.Run(ctx)
	}
	return pool, nil
}
