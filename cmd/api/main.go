package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fingerattend/internal/app"
	"fingerattend/internal/attendance"
	"fingerattend/internal/auth"
	"fingerattend/internal/config"
	"fingerattend/internal/handler"
	"fingerattend/internal/httpmiddleware"
	"fingerattend/internal/ledger"
	"fingerattend/internal/matchclient"
	"fingerattend/internal/metrics"
	"fingerattend/internal/notify"
	"fingerattend/internal/roster"
	"fingerattend/internal/scanner"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("attendance service failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Default()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	dir, err := roster.Load(cfg.RosterPath, logger)
	if err != nil {
		return err
	}
	log.Printf("roster %s: %d identities, next id %d", cfg.RosterPath, dir.Len(), dir.NextID())

	led := ledger.NewStore(cfg.LedgerRoot, cfg.LedgerExt, logger)

	backends := &app.Backends{}
	defer backends.Close()
	mir, err := backends.OpenMirror(ctx, cfg, cfg.MirrorBackend, logger)
	if err != nil {
		log.Printf("warning: mirror %q unavailable, mirroring disabled: %v", cfg.MirrorBackend, err)
		mir = nil
	}

	met := metrics.New(prometheus.DefaultRegisterer)
	engine := attendance.NewEngine(dir, led, mir,
		attendance.WithLogger(logger),
		attendance.WithMetrics(met),
		attendance.WithMirrorTimeout(cfg.MirrorTimeout),
	)

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if cfg.MQTTBroker != "" {
		client, err := notify.Connect(cfg.MQTTBroker, "")
		if err != nil {
			log.Printf("warning: outcome feed disabled: %v", err)
		} else {
			defer client.Disconnect(250)
			notifiers = append(notifiers, notify.NewMQTT(client, cfg.MQTTTopic, logger))
			log.Printf("publishing scan outcomes to %s on %s", cfg.MQTTTopic, cfg.MQTTBroker)
		}
	}

	match := matchclient.New(cfg.MatchServiceURL, cfg.MatchSkip)
	deps := handler.Deps{
		Engine:   engine,
		Ledger:   led,
		Roster:   dir,
		Mirror:   mir,
		Sensor:   match,
		Notifier: notifiers,
		Issuer:   auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Location: loc,
		Health:   backends.Health(),
		Logger:   logger,
	}

	if !cfg.MatchSkip {
		if err := match.Health(ctx); err != nil {
			log.Printf("WARNING: match service not available: %v", err)
		}
		loop := scanner.New(match, engine,
			scanner.WithInterval(cfg.ScanInterval),
			scanner.WithLocation(loc),
			scanner.WithLogger(logger),
			scanner.WithNotifier(notifiers),
		)
		deps.Scanner = loop
		go func() {
			if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("scan loop exited: %v", err)
			}
		}()
	} else {
		log.Println("MATCH_SKIP set, local scan loop disabled; scans arrive over HTTP only")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(deps).Routes(r, cfg.AdminToken)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
