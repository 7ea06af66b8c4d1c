package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/duoflow/internal/middleware"
)

// mountAuthRoutes はOAuthフローとセッション管理のルートを登録する。
// これらはセッションミドルウェアの外に置く。
func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	StatusRecorder    middleware.StatusRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// パートナーシップ・招待
	PairingService PairingServiceInterface
	HarmonyService HarmonyServiceInterface

	// タスク
	TaskService TaskServiceInterface

	// プッシュ通知
	PushService PushServiceInterface

	// リアルタイム配信
	SnapshotService SnapshotServiceInterface
	Changes         ChangeSubscriber
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Session → RateLimit(General) → CSRF
//
// 認証ルート（/auth/*）とヘルスチェックはセッション以降のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	partnershipHandler := NewPartnershipHandler(deps.PairingService, deps.HarmonyService)
	taskHandler := NewTaskHandler(deps.TaskService)
	pushHandler := NewPushHandler(deps.PushService)
	streamHandler := NewStreamHandler(deps.SnapshotService, deps.Changes, logger)

	// --- 認証不要のルート ---

	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	mountAuthRoutes(r, authHandler)

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Get("/me", userHandler.Me)
			r.Delete("/me", userHandler.Withdraw)
		})

		// パートナーシップ
		r.Route("/api/partnership", func(r chi.Router) {
			r.Get("/", partnershipHandler.GetPartnership)
			r.Get("/harmony", partnershipHandler.GetHarmony)
			r.Post("/harmony/reset", partnershipHandler.ResetHarmony)
		})

		// 招待
		r.Route("/api/invitations", func(r chi.Router) {
			r.Get("/", partnershipHandler.ListInvitations)
			// POST /api/invitations - 招待の作成（招待専用レート制限を追加）
			r.With(deps.RateLimiter.InvitationMiddleware()).Post("/", partnershipHandler.Invite)
			r.Post("/{id}/accept", partnershipHandler.AcceptInvitation)
			r.Post("/{id}/decline", partnershipHandler.DeclineInvitation)
		})

		// タスク
		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)
			r.Post("/", taskHandler.CreateTask)
			r.Get("/calendar", taskHandler.Calendar)
			r.Get("/day", taskHandler.Day)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.GetTask)
				r.Put("/", taskHandler.UpdateTask)
				r.Delete("/", taskHandler.DeleteTask)
				r.Put("/status", taskHandler.SetTaskStatus)
			})
		})

		// プッシュ通知
		r.Route("/api/push", func(r chi.Router) {
			r.Get("/vapid-public-key", pushHandler.VAPIDPublicKey)
			r.Post("/subscriptions", pushHandler.Register)
			r.Delete("/subscriptions", pushHandler.Unregister)
		})

		// リアルタイム配信
		r.Get("/api/stream", streamHandler.Stream)
	})

	return r
}
