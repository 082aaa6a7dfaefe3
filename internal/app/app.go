// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/docman/internal/auth"
	"github.com/hitoshi/docman/internal/config"
	"github.com/hitoshi/docman/internal/database"
	"github.com/hitoshi/docman/internal/document"
	"github.com/hitoshi/docman/internal/handler"
	"github.com/hitoshi/docman/internal/logger"
	"github.com/hitoshi/docman/internal/metrics"
	"github.com/hitoshi/docman/internal/middleware"
	"github.com/hitoshi/docman/internal/migration"
	"github.com/hitoshi/docman/internal/repository"
	"github.com/hitoshi/docman/internal/security"
	"github.com/hitoshi/docman/internal/storage"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, cmdArgs := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandMigrateLegacy:
		return runMigrateLegacy(cfg)
	case CommandBackfillOwner:
		return runBackfillOwner(cfg, cmdArgs)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	docRepo := repository.NewPostgresDocumentRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge:         cfg.SessionMaxAge,
			RequireStorageConsent: cfg.RequireStorageConsent(),
		},
	)

	storageClient, err := newStorageClient(cfg, oauthProvider)
	if err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}

	sanitizer := security.NewNoteSanitizer()
	docService := document.NewService(
		docRepo, storageClient, sanitizer, collector,
		document.ServiceConfig{RequireStorageCredential: cfg.RequireStorageConsent()},
	)

	// 5. レート制限の初期化（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.UploadRate = rate.Limit(float64(cfg.RateLimitUpload) / 60.0)
	rateLimiterCfg.UploadBurst = cfg.RateLimitUpload

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		DocumentService: docService,
		DocumentConfig: handler.DocumentHandlerConfig{
			UploadMaxSize:  cfg.UploadMaxSize,
			UploadMaxFiles: cfg.UploadMaxFiles,
		},

		Collector: collector,
		Gatherer:  registry,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// 大容量ファイルのアップロード・ダウンロードを跨ぐため、
	// 読み書きタイムアウトは長めに取る。
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Minute,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("storage_backend", cfg.StorageBackend),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newStorageClient は設定されたバックエンドに応じたストレージクライアントを生成する。
func newStorageClient(cfg *config.Config, refresher storage.TokenRefresher) (storage.Client, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendDrive:
		return storage.NewDriveClient(storage.DriveConfig{}, refresher), nil
	case config.StorageBackendS3:
		return storage.NewS3Client(context.Background(), storage.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.StorageBackend)
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runMigrateLegacy はレガシースキーマのドキュメントをdocument_files行へ畳み込む。
// 何度実行しても安全で、2回目以降は対象0件で終了する。
func runMigrateLegacy(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store := migration.NewPostgresStore(db)
	result, err := migration.NewLegacyMigrator(store).Run(context.Background())
	if err != nil {
		return fmt.Errorf("legacy migration failed: %w", err)
	}

	slog.Info("legacy migration completed",
		slog.Int("scanned", result.Scanned),
		slog.Int("migrated", result.Migrated),
		slog.Int("skipped", result.Skipped),
	)
	return nil
}

// runBackfillOwner は所有者未設定のドキュメントに所有者を割り当てる。
// 対象ユーザーは-emailフラグで指定し、未指定時はDEFAULT_OWNER_EMAILを使う。
func runBackfillOwner(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backfill-owner", flag.ContinueOnError)
	email := fs.String("email", "", "email address of the user to assign ownerless documents to")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse backfill-owner flags: %w", err)
	}

	target := *email
	if target == "" {
		target = cfg.DefaultOwnerEmail
	}
	if target == "" {
		return fmt.Errorf("owner email is required: pass -email or set DEFAULT_OWNER_EMAIL")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	users := repository.NewPostgresUserRepo(db)
	store := migration.NewPostgresStore(db)

	result, err := migration.NewOwnerBackfill(users, store).Run(context.Background(), target)
	if err != nil {
		return fmt.Errorf("owner backfill failed: %w", err)
	}

	slog.Info("owner backfill completed",
		slog.String("email", target),
		slog.Int("scanned", result.Scanned),
		slog.Int64("assigned", result.Assigned),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
