package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filecollection/internal/api"
	"filecollection/internal/auth"
	"filecollection/internal/config"
	"filecollection/internal/database"
	"filecollection/internal/logging"
	"filecollection/internal/migrations"
	"filecollection/internal/publication"
	"filecollection/internal/repository"
	"filecollection/internal/repository/memory"
	"filecollection/internal/repository/postgres"
	"filecollection/internal/service"
	"filecollection/internal/storage"
	"filecollection/internal/storage/local"
	"filecollection/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("配置加载失败", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("配置加载完成，开始启动服务", "collection", cfg.CollectionName, "auth_mode", cfg.AuthMode)

	if err := run(cfg, logger); err != nil {
		logger.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
	logger.Info("服务已停止")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	authn, closeAuth, err := openAuthenticator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	hub := publication.NewHub(cfg.CollectionName, repo, logger.With("component", "publication"))
	files := service.NewFileService(repo, store, service.Options{
		Publisher:      hub,
		Logger:         logger.With("component", "files"),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	files.StartCleanup(ctx, cfg.CleanupInterval, cfg.ChunkTTL)

	router := api.NewRouter(cfg, authn,
		api.NewFileHandler(files, logger),
		api.NewLiveHandler(hub, authn, cfg.CORSAllowedOrigins, logger),
		logger,
	)

	// 分片与整文件上传可能持续较久，写超时按上传上限放宽
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务监听端口", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("监听失败: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("优雅关闭失败", "error", err)
	}
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.FileRepository, func(), error) {
	if cfg.MetadataDriver == "memory" {
		logger.Warn("使用内存元数据存储，重启后数据丢失")
		return memory.NewFileRepository(), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if _, err := migrations.Apply(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("执行迁移失败: %w", err)
	}
	return postgres.NewFileRepository(db), func() { db.Close() }, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 S3 存储失败: %w", err)
		}
		return store, nil
	case "local", "":
		return local.New(cfg.StorageDir, ""), nil
	default:
		return nil, fmt.Errorf("不支持的 STORAGE_DRIVER: %s", cfg.StorageDriver)
	}
}

func openAuthenticator(cfg *config.Config, logger *slog.Logger) (auth.Authenticator, func(), error) {
	switch cfg.AuthMode {
	case "jwt":
		v, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWKSURL, logger.With("component", "auth"))
		if err != nil {
			return nil, nil, fmt.Errorf("初始化 JWT 校验失败: %w", err)
		}
		return v, v.Close, nil
	case "apikey":
		return auth.NewAPIKeys(cfg.APIKeys), func() {}, nil
	default:
		logger.Warn("鉴权已关闭，令牌内容直接作为用户身份")
		return auth.Insecure{}, func() {}, nil
	}
}
