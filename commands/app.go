package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/thc1967/codex-quest-manager-sub000/api/rest"
	"github.com/thc1967/codex-quest-manager-sub000/api/sse"
	"github.com/thc1967/codex-quest-manager-sub000/api/ws"
	"github.com/thc1967/codex-quest-manager-sub000/audit"
	"github.com/thc1967/codex-quest-manager-sub000/cache"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	dbadapter "github.com/thc1967/codex-quest-manager-sub000/db"
	"github.com/thc1967/codex-quest-manager-sub000/docstore"
	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"github.com/thc1967/codex-quest-manager-sub000/metrics"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"github.com/thc1967/codex-quest-manager-sub000/players"
	"github.com/thc1967/codex-quest-manager-sub000/quest"
	"github.com/thc1967/codex-quest-manager-sub000/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// systemUser is the identity background jobs act as.
var systemUser = quest.User{ID: "system", Director: true}

// app holds every long-lived component of a running server.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	events  *hook.DocumentEvents
	journal *audit.Service
	metrics *metrics.Metrics // nil when disabled
	mgr     *quest.Manager
	players *players.Directory
	sched   *scheduler.Scheduler
	sse     *sse.Handler
	ws      *ws.Handler
}

// newApp opens storage and wires the listeners, the quest manager and the
// background jobs. Call close when done.
func newApp(cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	db, err := dbadapter.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.db = db
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	if a.cache, err = cache.NewCache(cfg.Cache); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.pubsub, err = cache.NewPubSub(cfg.Cache); err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// Listeners run in priority order after every commit.
	a.events = hook.NewDocumentEvents()
	a.journal = audit.New(db, logger)
	a.events.Register(0, "journal", a.journal)
	a.events.Register(20, "sse", sse.NewPublisher(a.pubsub))

	opts := []quest.Option{
		quest.WithCampaignName(cfg.Quest.CampaignName),
		quest.WithRepairPolicy(quest.RepairPolicy(cfg.Quest.RepairPolicy)),
	}
	if cfg.Quest.StrictPermissions {
		opts = append(opts, quest.WithStrictPermissions())
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.events.Register(10, "metrics", a.metrics)
		opts = append(opts, quest.OnRepair(a.metrics.RecordRepair))
	}

	store := docstore.NewGormStore(db, cfg.Quest.DocumentPath, a.events, logger)
	a.mgr = quest.NewManager(store, logger, opts...)
	a.players = players.NewDirectory(db, a.cache, cfg.Cache.PlayerTTL, logger)
	a.sse = sse.NewHandler(a.pubsub, cfg.Quest.DocumentPath, cfg.Security.AllowedOrigins, logger)
	a.ws = ws.NewHandler(a.pubsub, cfg.Quest.DocumentPath, cfg.Security.AllowedOrigins, logger)

	a.sched = scheduler.New(logger, 0)
	if a.metrics != nil {
		system := a.mgr.ForUser(systemUser)
		err := a.sched.AddTicker("quest_gauge", cfg.Metrics.RefreshInterval, true, func(ctx context.Context) error {
			return a.metrics.RefreshQuests(ctx, system)
		})
		if err != nil {
			return nil, fmt.Errorf("metrics refresh: %w", err)
		}
	}
	return a, nil
}

// close stops background work and flushes the journal.
func (a *app) close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.journal != nil {
		a.journal.Stop(context.Background())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// router builds the HTTP handler tree.
func (a *app) router() *gin.Engine {
	cfg := a.cfg
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(a.logger), mw.Recovery(a.logger))
	if a.metrics != nil {
		r.Use(a.metrics.Middleware())
	}
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if a.metrics != nil {
		r.GET("/metrics", a.metrics.Handler())
	}

	auth := mw.Auth(cfg.Security, a.cache, false)
	authH := apirest.NewAuthHandler(a.db, a.cache, cfg.Security, cfg.Quest.DirectorAccounts, a.logger)
	questH := apirest.NewQuestHandler(a.mgr, a.players, a.logger)
	docH := apirest.NewDocumentHandler(questH, a.journal)
	playerH := apirest.NewPlayerHandler(a.players, a.logger)
	adminH := apirest.NewAdminHandler(questH, a.sched, a.sse, a.logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		questH.Register(api.Group("/quests", auth))
		docH.Register(api.Group("/document", auth))
		playerH.Register(api.Group("/players", auth))
		adminH.Register(api.Group("/admin",
			mw.IPWhitelist(cfg.Server.AdminIPs),
			mw.AdminAuth(cfg.Server.AdminKey)))
	}

	streamAuth := mw.Auth(cfg.Security, a.cache, true)
	r.GET("/sse", streamAuth, a.sse.ServeSSE)
	r.GET("/ws", streamAuth, a.ws.ServeWS)
	return r
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (a *app) serve(ctx context.Context) error {
	// Streams end when baseCtx is cancelled, so Shutdown is not held up by
	// open SSE connections.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
