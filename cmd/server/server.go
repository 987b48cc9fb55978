package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/modhub/internal/compress"
	"github.com/maynagashev/modhub/internal/config"
	"github.com/maynagashev/modhub/internal/handlers"
	"github.com/maynagashev/modhub/internal/identity"
	"github.com/maynagashev/modhub/internal/jobs"
	"github.com/maynagashev/modhub/internal/locks"
	"github.com/maynagashev/modhub/internal/manifest"
	"github.com/maynagashev/modhub/internal/metrics"
	appmiddleware "github.com/maynagashev/modhub/internal/middleware"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/maynagashev/modhub/internal/schema"
	"github.com/maynagashev/modhub/internal/services"
	"github.com/maynagashev/modhub/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	shutdownTimeout     = 15 * time.Second
	identityHTTPTimeout = 10 * time.Second
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db       *sqlx.DB      // nil для драйвера memory
	redis    *redis.Client // nil, если блокировки в процессе
	store    repository.Store
	files    storage.FileStorage
	locker   locks.Locker
	schemas  *schema.Registry
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	auth     *appmiddleware.Auth

	modHandler   *handlers.ModHandler
	adminHandler *handlers.AdminHandler
	verifier     *services.Verifier
	reconciler   *services.Reconciler
	notifier     *jobs.Notifier

	log *zap.Logger
}

// close освобождает соединения с внешними системами.
func (d *dependencies) close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.log.Error("Ошибка закрытия соединения с Redis", zap.Error(err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.Error("Ошибка закрытия соединения с БД", zap.Error(err))
		}
	}
}

// setupDependencies инициализирует и возвращает все зависимости сервиса.
// При ошибке уже открытые соединения закрываются.
func setupDependencies(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{log: log}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	// 1. Хранилище документов.
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if deps.db, err = repository.NewPostgresDB(ctx, cfg.Database.DSN, log); err != nil {
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		if err = repository.Migrate(ctx, deps.db); err != nil {
			return nil, fmt.Errorf("ошибка применения миграций: %w", err)
		}
		deps.store = repository.NewPostgresStore(deps.db, log)
	default:
		log.Warn("Используется хранилище документов в памяти, данные не сохраняются между запусками")
		deps.store = repository.NewMemoryStore()
	}

	// 2. Хранилище архивов.
	switch cfg.Storage.Driver {
	case config.DriverMinio:
		if deps.files, err = storage.NewMinioClient(ctx, cfg.Minio, log); err != nil {
			return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
		}
	default:
		log.Warn("Используется хранилище архивов в памяти")
		deps.files = storage.NewMemoryStorage()
	}

	// 3. Блокировки модов.
	if cfg.Redis.URL != "" {
		if deps.redis, err = locks.NewRedisClient(ctx, cfg.Redis.URL); err != nil {
			return nil, err
		}
		deps.locker = locks.NewRedisLocker(deps.redis, cfg.Redis.LockTTL, log)
	} else {
		deps.locker = locks.NewLocalLocker()
	}

	// 4. Схема манифеста.
	if deps.schemas, err = schema.NewRegistry(log); err != nil {
		return nil, err
	}
	if cfg.Schema.File != "" {
		if err = deps.schemas.LoadFile(cfg.Schema.File); err != nil {
			return nil, err
		}
	}
	policy, err := schema.ParseUnknownKeyPolicy(cfg.Schema.UnknownKeys)
	if err != nil {
		return nil, err
	}
	extractor := manifest.NewExtractor(deps.schemas, schema.NewValidator(schema.WithUnknownKeys(policy)))

	// 5. Проверка личности.
	sessions := identity.NewJWTProvider(cfg.Auth.JWTSecret)
	var provider identity.Provider = sessions
	if cfg.Identity.Provider == config.IdentityHTTP {
		provider = identity.NewHTTPProvider(cfg.Identity.UserinfoURL, &http.Client{Timeout: identityHTTPTimeout})
	}

	// 6. Метрики.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.gatherer = reg
	deps.metrics = metrics.New(reg)

	// 7. Сервисы.
	svcDeps := services.ModServiceDeps{
		Store:            deps.store,
		Files:            deps.files,
		Locker:           deps.locker,
		Identity:         provider,
		Extractor:        extractor,
		Compressor:       compress.Zstd{},
		CompressionLevel: cfg.Compression.Level,
		Timeouts:         cfg.Timeouts,
		Metrics:          deps.metrics,
		Log:              log,
	}
	modService := services.NewModService(svcDeps)
	adminService := services.NewAdminService(svcDeps)
	deps.verifier = services.NewVerifier(deps.store, cfg.Verification, cfg.Timeouts, nil, deps.metrics, log)
	deps.reconciler = services.NewReconciler(deps.store, deps.locker, cfg.Jobs.ReconcilePageSize,
		cfg.Timeouts, nil, deps.metrics, log)
	deps.notifier = jobs.NewNotifier(deps.store.Actions(), cfg.Notifier, nil, deps.metrics, log)

	// 8. Обработчики.
	deps.auth = appmiddleware.NewAuth(sessions, deps.store.Authors(), cfg.Auth.ServiceKeyHash, log)
	deps.modHandler = handlers.NewModHandler(modService, cfg.Server.MaxUploadBytes, log)
	deps.adminHandler = handlers.NewAdminHandler(adminService, log)

	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(deps *dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{}))

	mods := deps.modHandler
	admin := deps.adminHandler
	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты. Личность загружающего проверяется в сервисе.
		r.With(deps.auth.ServiceKey).Post("/mods/upload", mods.Upload)
		r.Get("/mods", mods.Search)
		r.Get("/mods/versions", mods.VersionsBatch)
		r.Get("/mods/{modID}", mods.GetMod)
		r.Get("/mods/{modID}/versions", mods.ListVersions)
		r.Get("/mods/{modID}/versions/{version}", mods.GetVersion)
		r.Get("/mods/{modID}/versions/{version}/download", mods.Download)
		r.With(deps.auth.Authenticator).Post("/mods/{modID}/vote", mods.Vote)
		r.Get("/authors/{authorID}", mods.AuthorProfile)

		// Администрирование (сессия + роль admin).
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.auth.Authenticator)
			r.Use(deps.auth.RequireAdmin)

			r.Post("/mods/{modID}/verify", admin.Verify)
			r.Post("/mods/{modID}/deny", admin.Deny)
			r.Delete("/mods/{modID}/versions/{version}", admin.DeleteVersion)
			r.Post("/authors/{authorID}/ban", admin.Ban)
			r.Post("/authors/{authorID}/unban", admin.Unban)
			r.Post("/authors/{authorID}/roles/{role}", admin.GrantRole)
			r.Delete("/authors/{authorID}/roles/{role}", admin.RevokeRole)
		})
	})
	return r
}

// setupScheduler регистрирует фоновые задачи.
func setupScheduler(cfg *config.Config, deps *dependencies) (*jobs.Scheduler, error) {
	sched := jobs.NewScheduler(cfg.Jobs.Policy, deps.metrics, deps.log)
	for _, job := range []jobs.Job{
		{Name: "verifier", Schedule: cfg.Jobs.SweepSchedule, Run: deps.verifier.Sweep},
		{Name: "reconciler", Schedule: cfg.Jobs.ReconcileSchedule, Run: deps.reconciler.Reconcile},
		{Name: "notifier", Schedule: cfg.Jobs.NotifySchedule, Run: deps.notifier.Flush},
	} {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// serve запускает HTTP-сервер и планировщик до отмены ctx.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Запуск сервера modhub...")

	deps, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer deps.close()

	if cfg.Schema.File != "" {
		if err = deps.schemas.Watch(ctx, cfg.Schema.File); err != nil {
			log.Warn("Горячая перезагрузка схемы недоступна", zap.Error(err))
		}
	}

	sched, err := setupScheduler(cfg, deps)
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      setupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSCertFile != "" {
			log.Info("Запуск HTTPS-сервера",
				zap.String("port", cfg.Server.Port), zap.String("cert", cfg.Server.TLSCertFile))
			errCh <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			return
		}
		log.Info("Запуск HTTP-сервера", zap.String("port", cfg.Server.Port))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Остановка сервера...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	log.Info("Сервер остановлен")
	return nil
}
