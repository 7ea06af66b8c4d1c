package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/duoflow/internal/auth"
	"github.com/hitoshi/duoflow/internal/config"
	"github.com/hitoshi/duoflow/internal/database"
	"github.com/hitoshi/duoflow/internal/handler"
	"github.com/hitoshi/duoflow/internal/harmony"
	"github.com/hitoshi/duoflow/internal/logger"
	"github.com/hitoshi/duoflow/internal/metrics"
	"github.com/hitoshi/duoflow/internal/middleware"
	"github.com/hitoshi/duoflow/internal/pairing"
	"github.com/hitoshi/duoflow/internal/photo"
	"github.com/hitoshi/duoflow/internal/push"
	"github.com/hitoshi/duoflow/internal/realtime"
	"github.com/hitoshi/duoflow/internal/repository"
	"github.com/hitoshi/duoflow/internal/schedule"
	"github.com/hitoshi/duoflow/internal/security"
	"github.com/hitoshi/duoflow/internal/task"
	"github.com/hitoshi/duoflow/internal/user"
	"github.com/hitoshi/duoflow/internal/worker/cleanup"
	"github.com/hitoshi/duoflow/internal/worker/reminder"
)

// Init は設定を読み込み、ログ出力先をwにしたJSONロガーを既定のロガーにする。
// 設定の読み込みエラーもログに残せるよう、ロガーは読み込み前に一度作る。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが指定されている場合に備えて再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はos.Args[1:]を解析し、serve・worker・migrate・healthcheckのいずれかを実行する。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheckはDATABASE_URL等がなくても動く必要がある
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

	slog.Info("duoflow starting",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("timezone", cfg.Location.String()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv.Migrate)
	default:
		return runServe(cfg)
	}
}

// shutdownContext はSIGINTかSIGTERMを受けるとキャンセルされるコンテキストを返す。
func shutdownContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, 10*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newRegistry はアプリケーションのメトリクスとGoランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

func vapidConfig(cfg *config.Config) push.VAPIDConfig {
	return push.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}
}

// runServe はAPIサーバーとリアルタイム配信を起動し、シグナルを受けるまでブロックする。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to database", slog.String("mode", "serve"))

	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	partnershipRepo := repository.NewPostgresPartnershipRepo(db)
	invitationRepo := repository.NewPostgresInvitationRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)
	pushRepo := repository.NewPostgresPushSubscriptionRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()
	reg, collector := newRegistry()

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	photoCacher := photo.NewCacher(ssrfGuard, slog.Default())
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo, photoCacher,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	userService := user.NewService(userRepo, sessionRepo, pushRepo)
	pairingService := pairing.NewService(
		userRepo, partnershipRepo, invitationRepo, collector, slog.Default(),
		pairing.ServiceConfig{DedupePending: cfg.InvitationDedupe},
	)
	harmonyService := harmony.NewService(
		pairingService, partnershipRepo, sanitizer, collector, slog.Default(), cfg.Location,
	)
	taskService := task.NewService(pairingService, taskRepo, sanitizer, task.ServiceConfig{
		Grid: schedule.GridOptions{
			WeekStart:       cfg.CalendarWeekStart,
			MaxTasksPerCell: cfg.CalendarMaxTasksPerCell,
		},
		Location: cfg.Location,
	})
	pushService := push.NewService(pushRepo, ssrfGuard, vapidConfig(cfg), slog.Default())

	ctx, stop := shutdownContext()
	defer stop()

	hub := realtime.NewHub(slog.Default())
	listener, err := realtime.Listen(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to start change listener: %w", err)
	}
	defer listener.Close()
	go hub.Run(ctx, listener)

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitInvitation),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		StatusRecorder: collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService:    userService,
		PairingService: handler.NewPairingServiceAdapter(userService, pairingService),
		HarmonyService: harmonyService,
		TaskService:    taskService,
		PushService:    pushService,

		SnapshotService: handler.NewSnapshotServiceAdapter(userService, pairingService, harmonyService, taskService),
		Changes:         hub,
	}

	// SSEはハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		return fmt.Errorf("server listen failed: %w", err)
	}
	slog.Info("shutting down API server")

	// ctxのキャンセルでSSE接続はShutdownを待たずに閉じる
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped")
	return nil
}

// runWorker は期限リマインダーと期限切れデータの掃除を定期実行する。
// メトリクスは専用ポートで公開する。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to database", slog.String("mode", "worker"))

	partnershipRepo := repository.NewPostgresPartnershipRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)
	pushRepo := repository.NewPostgresPushSubscriptionRepo(db)

	reg, collector := newRegistry()
	ssrfGuard := security.NewSSRFGuard()
	sender := push.NewWebPushSender(vapidConfig(cfg), ssrfGuard.NewSafeClient(cfg.PushTimeout), 0)

	scheduler := reminder.NewScheduler(
		partnershipRepo, taskRepo, pushRepo, sender, collector, slog.Default(),
		reminder.Config{
			Location:       cfg.Location,
			TimeOfDay:      cfg.ReminderTimeOfDay,
			MaxConcurrency: cfg.ReminderMaxConcurrent,
		},
	)

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.SessionRetentionDays = cfg.SessionRetentionDays
	cleanupJob.DeclinedInvitationRetentionDays = cfg.DeclinedInvitationRetentionDays

	ctx, stop := shutdownContext()
	defer stop()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("reminder_interval", cfg.ReminderInterval),
		slog.Duration("reminder_time_of_day", cfg.ReminderTimeOfDay),
		slog.Bool("push_configured", sender.Configured()),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("max_concurrent", cfg.ReminderMaxConcurrent),
		slog.String("metrics_port", cfg.MetricsPort),
	)

	go runPeriodically(ctx, cfg.CleanupInterval, "cleanup", cleanupJob.Run)
	scheduler.Start(ctx, cfg.ReminderInterval)

	slog.Info("worker stopped")
	return nil
}

// runPeriodically は起動直後と以降interval間隔でjobを実行する。
// ctxがキャンセルされると終了する。
func runPeriodically(ctx context.Context, interval time.Duration, name string, job func(context.Context) error) {
	run := func() {
		if err := job(ctx); err != nil {
			slog.Error("periodic job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// runMigrate はデータベースマイグレーションを操作する。
// upは未適用分をすべて適用し、downは直近の1つを戻し、versionは現在のバージョンを表示する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", redactDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("rolled back the latest migration")
	case MigrateVersion:
		version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("schema version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runHealthcheck はローカルの/healthを叩く。シェルのないdistrolessイメージの
// HEALTHCHECKから呼ばれる。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// redactDatabaseURL はログ出力用にパスワードを伏せたURLを返す。
func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid url)"
	}
	return u.Redacted()
}
