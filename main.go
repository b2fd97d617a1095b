package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/mmosocial/api/rest"
	"github.com/kasuganosora/mmosocial/api/sse"
	apows "github.com/kasuganosora/mmosocial/api/ws"
	"github.com/kasuganosora/mmosocial/audit"
	"github.com/kasuganosora/mmosocial/cache"
	"github.com/kasuganosora/mmosocial/config"
	dbadapter "github.com/kasuganosora/mmosocial/db"
	"github.com/kasuganosora/mmosocial/game/friend"
	"github.com/kasuganosora/mmosocial/game/group"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/plugin/hook"
	"github.com/kasuganosora/mmosocial/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	// No argument: defaults plus MMOSOCIAL_* environment.
	cfgPath := ""
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database, logger)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	var sinks []audit.Sink
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sinks = append(sinks, audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic))
		logger.Info("audit mirrored to kafka", zap.String("topic", cfg.Audit.KafkaTopic))
	}
	auditSvc := audit.New(db, logger, sinks...)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	defer pubsub.Close()
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Notification fan-out ----
	hub := notify.NewHub(pubsub, logger)
	if err := hub.Start(ctx); err != nil {
		log.Fatalf("notify: %v", err)
	}
	defer hub.Stop()

	// ---- Social services ----
	sm := player.NewSessionManager(c, cfg.Social.PresenceTTL, logger)
	dir := player.NewDirectory(db)
	friendSvc := friend.NewService(db, hub, auditSvc, logger)
	groupSvc := group.NewService(db, hub, auditSvc, group.Limits{
		MaxMembers:    cfg.Social.MaxGroupMembers,
		MaxNameLen:    cfg.Social.MaxGroupNameLen,
		MaxMessageLen: cfg.Social.MaxMessageLen,
	}, logger)

	// ---- Message filters ----
	hooks := hook.NewHookCenter()
	if len(cfg.Social.BlockedWords) > 0 {
		hooks.Register(hook.BeforeMessagePost, 10, "blocked_words", hook.MaskWords(cfg.Social.BlockedWords))
		hooks.Register(hook.BeforeMessagePost, 20, "reject_blank", hook.RejectBlank())
	}
	groupSvc.SetHooks(hooks)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	scheduler.RegisterSocialTasks(sched,
		groupSvc, cfg.Social.MuteExpiryInterval,
		sm, cfg.Social.PresenceRefreshEach,
		logger)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.RegisterChatHandlers(wsRouter, groupSvc)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	verifier := mw.NewJWTVerifier(cfg.Security.JWTSecret)
	handlers := &apirest.Handlers{
		Friends: apirest.NewFriendHandler(friendSvc, dir, sm, logger),
		Groups:  apirest.NewGroupHandler(groupSvc),
		Players: apirest.NewPlayerHandler(dir, sm),
		Admin:   apirest.NewAdminHandler(sm, hub, sched, logger),
	}
	handlers.Register(r.Group("/api"),
		mw.Auth(verifier),
		mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst),
		apirest.AdminGuard{Key: cfg.Server.AdminKey, IPs: cfg.Server.AdminIPs})

	// ---- WebSocket ----
	wsH := apows.NewHandler(verifier, cfg.Security.AllowedOrigins, sm, hub, groupSvc, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(verifier, sm, hub, groupSvc, logger)
	r.GET("/sse", sseH.ServeSSE)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sm.CloseAllSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
