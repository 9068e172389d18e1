package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ghosttrack/config"
	"ghosttrack/internal/accounts"
	"ghosttrack/internal/api"
	"ghosttrack/internal/auth"
	"ghosttrack/internal/checkin"
	"ghosttrack/internal/commands"
	"ghosttrack/internal/db"
	"ghosttrack/internal/evidence"
	"ghosttrack/internal/geoip"
	"ghosttrack/internal/health"
	"ghosttrack/internal/identity"
	"ghosttrack/internal/ledger"
	"ghosttrack/internal/lifecycle"
	"ghosttrack/internal/logs"
	"ghosttrack/internal/middleware"
	"ghosttrack/internal/recovery"
	"ghosttrack/internal/repo"
	"ghosttrack/internal/whereabouts"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	geo    *geoip.Locator
	ctx    context.Context
	cancel context.CancelFunc
}

// stores: набор хранилищ ядра: gorm при подключённой БД, иначе in-memory.
type stores struct {
	devices  identity.Store
	stolen   lifecycle.Store
	ledger   ledger.Store
	commands commands.Store
	photos   evidence.Store
	accounts accounts.Store
	places   whereabouts.Store
}

func memoryStores() stores {
	return stores{
		devices:  identity.NewMemStore(),
		stolen:   lifecycle.NewMemStore(),
		ledger:   ledger.NewMemStore(),
		commands: commands.NewMemStore(),
		photos:   evidence.NewMemStore(),
		accounts: accounts.NewMemStore(),
		places:   whereabouts.NewMemStore(),
	}
}

func gormStores(d *gorm.DB) stores {
	return stores{
		devices:  repo.NewDeviceStore(d),
		stolen:   repo.NewStolenStore(d),
		ledger:   repo.NewLocationStore(d),
		commands: repo.NewCommandStore(d),
		photos:   repo.NewPhotoStore(d),
		accounts: repo.NewAccountStore(d),
		places:   repo.NewOwnerLocationStore(d),
	}
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД (опционально)
	st := memoryStores()
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d
		if err := db.Migrate(a.db); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
		st = gormStores(a.db)
	} else {
		logs.Logger.Warn("database.driver is empty: state is kept in memory and lost on restart")
	}

	// 3) GeoIP (опционально)
	proxies := a.cfg.Server.TrustedProxies
	geo, err := geoip.Open(a.cfg.GeoIP.Database, proxies)
	if err != nil {
		logs.Logger.Warnf("geoip disabled: %v", err)
		// без базы доверенные прокси всё равно нужны; список уже проверен в config
		geo, _ = geoip.Open("", proxies)
	}
	a.geo = geo

	// 4) Ядро
	secret := a.cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logs.Logger.Warn("auth.jwt_secret is empty: using an ephemeral secret, tokens die with the process")
	}
	tokens := auth.NewTokens(secret, a.cfg.Auth.TokenTTL)
	accountSvc := accounts.NewService(st.accounts, tokens)

	registry := identity.NewRegistry(st.devices, identity.WithMaxChainHops(a.cfg.Tracking.MaxChainHops))
	machine := lifecycle.NewMachine(registry, st.stolen)
	led := ledger.New(st.ledger, a.cfg.Tracking.HistoryLimit, a.cfg.Tracking.HistoryMax)
	queue := commands.NewQueue(st.commands, registry, accountSvc)
	photos := evidence.NewLocker(st.photos, a.cfg.Tracking.MaxPhotoBytes)
	coord := recovery.NewCoordinator(registry, machine, led, queue, photos)

	// 5) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db)
	} else {
		health.RegisterRoutes(a.Router)
	}

	// 6) Служебные ручки устройства, затем owner API (порядок важен: /api/__system__ раньше /api)
	checkin.RegisterRoutes(a.Router, coord, a.geo)
	api.NewHTTP(coord, accountSvc, whereabouts.NewBook(st.places), tokens, a.geo).RegisterRoutes(a.Router)

	_ = a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		logs.Logger.Debugf("route: %-6v %s", methods, path)
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
		Addr:    bind,
		Handler: a.Router,
		// фото приходят base64 до нескольких МБ
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.geo.Close(); err != nil {
		logs.Logger.Warnf("geoip close: %v", err)
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("random secret: %v", err)
	}
	return hex.EncodeToString(b)
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
