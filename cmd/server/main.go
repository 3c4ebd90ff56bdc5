package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"agegate/internal/imagequality"
	"agegate/internal/monitoring"
	"agegate/internal/platform/config"
	"agegate/internal/platform/httpserver"
	"agegate/internal/platform/logger"
	rlmiddleware "agegate/internal/ratelimit/middleware"
	httptransport "agegate/internal/transport/http"
	"agegate/internal/verification/adapters/botscore"
	"agegate/internal/verification/adapters/ocr"
	"agegate/internal/verification/handler"
	vmetrics "agegate/internal/verification/metrics"
	"agegate/internal/verification/service"
	"agegate/pkg/platform/circuit"
	"agegate/pkg/platform/middleware/auth"
	"agegate/pkg/platform/middleware/metadata"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agegate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel, "agegate", cfg.Server.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close(log)

	g, gctx := errgroup.WithContext(ctx)

	auditor, closeAudit, err := buildAudit(gctx, g, cfg, deps, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	monitor, closeAlerts, err := buildMonitor(cfg, deps, auditor, log)
	if err != nil {
		return err
	}
	defer closeAlerts()
	reg.MustRegister(monitoring.NewCollector(monitor))

	limiter, err := buildLimiter(cfg, deps, auditor, reg, log)
	if err != nil {
		return err
	}

	subjects, err := buildSubjectStore(ctx, cfg, deps)
	if err != nil {
		return err
	}
	photoStore, err := buildPhotoStore(cfg, deps)
	if err != nil {
		return err
	}
	if cfg.OCR.URL == "" {
		return errors.New("OCR_URL is required")
	}
	ocrClient, err := ocr.New(cfg.OCR.URL,
		ocr.WithAPIKey(cfg.OCR.APIKey),
		ocr.WithHTTPClient(&http.Client{Timeout: cfg.OCR.Timeout}),
		ocr.WithRateLimit(cfg.OCR.RequestsPerSec, cfg.OCR.Burst),
		ocr.WithBreaker(circuit.New("ocr",
			circuit.WithFailureThreshold(cfg.OCR.BreakerFailures),
			circuit.WithCooldown(cfg.OCR.BreakerCooldown),
		)),
		ocr.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("ocr client: %w", err)
	}

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(vmetrics.New(reg)),
		service.WithAuditPublisher(auditor),
		service.WithAnalyzer(imagequality.NewAnalyzer(
			imagequality.WithThreshold(cfg.Verification.BlurThreshold),
			imagequality.WithMaxPixels(cfg.Verification.MaxPhotoPixels),
		)),
		service.WithConfig(service.Config{
			MinimumAge:                 cfg.Verification.MinimumAge,
			GatingEnabled:              cfg.Verification.GatingEnabled && cfg.Recaptcha.Enabled,
			BotScoreThreshold:          cfg.Recaptcha.ScoreThreshold,
			ExpectedAction:             cfg.Recaptcha.ExpectedAction,
			AllowResubmitAfterApproval: cfg.Verification.AllowResubmitAfterApproval,
			MaxPhotoBytes:              int(cfg.Verification.MaxPhotoBytes),
			SubjectLockTTL:             cfg.Verification.SubjectLockTTL,
			TokenHashCost:              cfg.Verification.TokenHashCost,
		}),
	}
	if cfg.Recaptcha.Enabled {
		bot, err := botscore.New(cfg.Recaptcha.SecretKey,
			botscore.WithVerifyURL(cfg.Recaptcha.VerifyURL),
			botscore.WithHTTPClient(&http.Client{Timeout: cfg.Recaptcha.Timeout}),
		)
		if err != nil {
			return fmt.Errorf("bot score client: %w", err)
		}
		svcOpts = append(svcOpts, service.WithBotScorer(bot))
	}
	if cfg.Verification.SubjectLock {
		svcOpts = append(svcOpts, service.WithLocker(buildLocker(deps, log)))
	}

	svc, err := service.New(subjects, photoStore, ocrClient, limiter, monitor, svcOpts...)
	if err != nil {
		return fmt.Errorf("verification service: %w", err)
	}

	validator, err := auth.NewHMACValidator([]byte(cfg.Server.JWTSigningKey), cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	if err != nil {
		return fmt.Errorf("jwt validator: %w", err)
	}
	rlm := rlmiddleware.New(limiter, log, rlmiddleware.WithDisabled(cfg.RateLimit.Disabled))
	verificationHandler := handler.New(svc, monitor, validator, log,
		handler.WithRateLimit(rlm),
		handler.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		handler.WithAuditPublisher(auditor),
	)

	proxies, err := metadata.NewProxyResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	routerOpts := []httptransport.Option{
		httptransport.WithMetrics(reg),
		httptransport.WithTrustedProxies(proxies),
		httptransport.WithModules(verificationHandler),
	}
	if deps.db != nil {
		routerOpts = append(routerOpts, httptransport.WithHealthCheck("postgres", deps.db.PingContext))
	}
	if deps.redis != nil {
		routerOpts = append(routerOpts, httptransport.WithHealthCheck("redis", deps.redis.Health))
	}
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(log, routerOpts...))

	g.Go(func() error {
		log.Info("starting agegate", "addr", cfg.Server.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
