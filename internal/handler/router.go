package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/docman/internal/metrics"
	"github.com/hitoshi/docman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドキュメント
	DocumentService DocumentServiceInterface
	DocumentConfig  DocumentHandlerConfig

	// メトリクス
	Collector middleware.HTTPStatusRecorder
	Gatherer  prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Metrics → Recovery → Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）とヘルスチェック・メトリクスは認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェア。CORSを最上位に適用する。
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Collector))
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	docHandler := NewDocumentHandler(deps.DocumentService, deps.DocumentConfig)

	// --- 認証不要のルート ---

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
	})

	// CSRFトークン配布
	r.Method(http.MethodGet, "/auth/csrf", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 死活監視
	r.Get("/health", healthHandler)

	// Prometheusメトリクス
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.UserFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ログインユーザー情報
		r.Get("/api/user", authHandler.Me)

		// ドキュメント管理
		r.Route("/api/documents", func(r chi.Router) {
			r.Get("/", docHandler.List)

			// POST /api/documents - アップロード（専用レート制限を追加）
			r.With(deps.RateLimiter.UploadMiddleware()).Post("/", docHandler.Upload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", docHandler.Get)
				r.Put("/", docHandler.Update)
				r.Delete("/", docHandler.Delete)

				// 添付ファイル操作
				r.Delete("/files/{fileId}", docHandler.RemoveFile)
				r.Get("/files/{fileId}/download", docHandler.Download)
			})
		})
	})

	return r
}

// healthHandler は死活監視用の固定レスポンスを返す。
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
