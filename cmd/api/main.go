package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/auth"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/config"
	"callcenter-dispatch/internal/dispatch"
	"callcenter-dispatch/internal/events"
	"callcenter-dispatch/internal/httpapi"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/internal/realtime"
	"callcenter-dispatch/internal/reporting"
	"callcenter-dispatch/internal/routing"
	"callcenter-dispatch/internal/telephony"
	"callcenter-dispatch/pkg/logger"
	"callcenter-dispatch/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ContinueOnError)
	envFile := flags.String("env-file", "", "load environment variables from this file first")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	st, err := openStores(rootCtx, cfg, log)
	if err != nil {
		log.Error("storage init failed", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	agentSvc := agents.NewService(st.agents)
	callSvc := calls.NewService(st.calls)
	queueSvc := queues.NewService(st.queues)
	activitySvc := activity.NewService(st.activity)
	router := routing.NewRouter(queueSvc, agentSvc, callSvc, rand.New(rand.NewSource(time.Now().UnixNano())))

	var controller telephony.Controller = telephony.NoopController{Log: log}
	if cfg.Telephony.BaseURL != "" {
		controller = telephony.NewHTTPController(cfg.Telephony.BaseURL, cfg.Telephony.APIToken, cfg.Telephony.Timeout, log)
	}

	checks := map[string]healthCheck{}
	if st.db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return utils.HealthCheck(ctx, st.db, 2*time.Second)
		}
	}

	hub := realtime.NewHub(log)
	publisher := events.Multi{hub}
	if cfg.Realtime.Relay == config.RelayRedis {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error {
			return utils.RedisHealthCheck(ctx, rdb, 2*time.Second)
		}

		relay := realtime.NewRedisRelay(rdb, cfg.Realtime.RelayChannel, hub, log)
		publisher = append(publisher, relay)
		go func() {
			if err := relay.Run(rootCtx); err != nil {
				log.Error("event relay stopped", "err", err)
			}
		}()
	}

	dispatcher := dispatch.NewService(dispatch.Deps{
		Agents:        agentSvc,
		Calls:         callSvc,
		Router:        router,
		Queues:        queueSvc,
		Activity:      activitySvc,
		Contacts:      st.contacts,
		Telephony:     controller,
		Events:        publisher,
		Log:           log,
		SIPDomain:     cfg.Telephony.SIPDomain,
		DefaultWrapUp: cfg.Dispatch.DefaultWrapUp,
	})
	defer dispatcher.Close()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, cfg, dispatcher, checks)
	registerRealtimeRoutes(r, cfg, &realtime.Handler{
		Hub:        hub,
		Auth:       authManager,
		Agents:     agentSvc,
		Dispatcher: dispatcher,
	})
	registerProtectedRoutes(r, auth.RequireAccessToken(authManager), httpapi.Handlers{
		Dispatch: dispatcher,
		Agents:   agentSvc,
		Calls:    callSvc,
		Queues:   queueSvc,
		Router:   router,
		Reports:  reporting.NewService(callSvc, agentSvc, activitySvc),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           corsHandler(cfg.Realtime.AllowedOrigins)(r),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"storage", cfg.Storage.Driver,
			"telephony", controller.Name(),
			"relay", cfg.Realtime.Relay,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if n := dispatcher.PendingWrapUps(); n > 0 {
		log.Warn("dropping pending wrap-up timers", "count", n)
	}
}

func corsHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler
}
