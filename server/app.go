package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vouch/config"
	"vouch/internal/admin"
	"vouch/internal/claims"
	"vouch/internal/clock"
	"vouch/internal/db"
	"vouch/internal/health"
	"vouch/internal/heartbeat"
	"vouch/internal/logs"
	"vouch/internal/middleware"
	"vouch/internal/models"
	"vouch/internal/registry"
	"vouch/internal/repo"
	"vouch/internal/streak"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// store — объединённый контракт хранилища; обе реализации (gorm и in-memory)
// его закрывают целиком.
type store interface {
	registry.Store
	streak.DaySource
	heartbeat.DayStore
	claims.CodeStore
	admin.Store
}

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД (опционально; без драйвера работаем на in-memory store)
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d
	}

	// ---- DB migrations (only if DB is connected) ----
	if a.db != nil {
		if err := a.db.AutoMigrate(
			&models.Gig{},
			&models.Tester{},
			&models.DayBucket{},
			&models.Device{},
			&models.DeviceBinding{},
			&models.Install{},
			&models.ClaimCode{},
		); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
		if err := db.EnsureIndexes(a.db); err != nil {
			logs.Logger.Warnf("ensure indexes: %v", err)
		}
	}

	// 3) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	// 4) Health маршруты
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz и /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	// 5) Хранилище: gorm или in-memory fallback
	var st store
	if a.db != nil {
		st = repo.NewStore(a.db)
	} else {
		logs.Logger.Warn("no database configured, using in-memory store")
		st = repo.NewMemory()
	}

	// 6) Ядро верификации
	clk := clock.System{}
	reg := registry.New(st, clk)
	evaluator := streak.NewEvaluator(st, clk)
	processor := heartbeat.NewProcessor(st, reg, st, evaluator, clk)
	binder := claims.NewBinder(st, reg, clk)

	api := a.Router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(a.cfg.Auth.APISecret))
	heartbeat.NewHTTP(processor).RegisterRoutes(api)
	claims.NewHTTP(binder).RegisterRoutes(api)

	adm := a.Router.PathPrefix("/api/v1").Subrouter()
	adm.Use(middleware.Auth(a.cfg.Auth.AdminSecret))
	admin.NewHTTP(st, clk).RegisterRoutes(adm)

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	return nil
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
