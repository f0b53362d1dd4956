package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/event-admission/internal/config"
	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/database"
	"github.com/iliyamo/event-admission/internal/handler"
	"github.com/iliyamo/event-admission/internal/lifecycle"
	"github.com/iliyamo/event-admission/internal/metrics"
	"github.com/iliyamo/event-admission/internal/middleware"
	"github.com/iliyamo/event-admission/internal/nfc"
	"github.com/iliyamo/event-admission/internal/queue"
	"github.com/iliyamo/event-admission/internal/repository"
	"github.com/iliyamo/event-admission/internal/router"
	"github.com/iliyamo/event-admission/internal/service"
	"github.com/iliyamo/event-admission/internal/validation"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Load(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the schema before serving")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	config.SetupLogging(cfg.Env, cfg.LogLevel)

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	keys, err := credential.ParseKeyRing(cfg.CredentialKeys, cfg.CredentialActiveKey)
	if err != nil {
		return err
	}
	signer, err := credential.NewSigner(keys)
	if err != nil {
		return err
	}

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}
	publisher := service.NewPublisher(cfg.RabbitURL)

	tickets := repository.NewTicketRepo(db)
	nonces := repository.NewNonceRepo(db)
	scans := repository.NewScanRepo(db)
	audit := repository.NewAuditRepo(db)
	bands := repository.NewBandRepo(db)
	sessions := repository.NewSessionRepo(db)
	rules := repository.NewCachedRuleRepo(repository.NewRuleRepo(db), rdb, config.LoadRuleCacheConfig())

	machine := lifecycle.NewMachine(db, tickets, audit, publisher)
	qr := validation.New(signer, nonces, tickets, rules, validation.NewSQLLedger(db, tickets, scans, machine), publisher)

	// A nil interface, not a nil *Limiter, marks NFC validation unavailable.
	var limiter nfc.RateChecker
	if rdb != nil {
		limiter = nfc.NewLimiter(rdb, config.LoadNFCRateConfig())
	}
	tokens := nfc.NewTokenService(keys, bands, cfg.BandTokenTTL)
	tracker := nfc.NewTracker(bands, sessions, publisher)
	bandValidator := nfc.NewValidator(tokens, bands, limiter, tracker, scans, publisher)
	binder := nfc.NewBinder(rdb, bands, tokens, signer, []byte(cfg.BandSecretMaster), cfg.BindingTTL, cfg.TagPayloadTTL)

	var redisPing func(context.Context) error
	if rdb != nil {
		redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	h := router.Handlers{
		Health:  handler.NewHealthHandler(db, redisPing),
		Scans:   handler.NewScanHandler(qr, scans),
		NFC:     handler.NewNFCHandler(bandValidator, tracker),
		Binding: handler.NewBindingHandler(binder),
		Tickets: handler.NewTicketHandler(machine, tickets, nonces, signer),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	router.RegisterRoutes(e, h)
	router.RegisterAPI(e, h, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdown)
	})
	g.Go(func() error {
		tracker.RunSweeper(ctx, cfg.SessionSweepInterval, cfg.SessionMaxAge)
		return nil
	})
	g.Go(func() error {
		metrics.CollectRuntime(15*time.Second, ctx.Done())
		return nil
	})
	if cfg.RabbitURL != "" {
		g.Go(func() error {
			err := queue.StartAlertConsumer(ctx, cfg.RabbitURL, queue.AlertLogWriter(cfg.AlertLogDir))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
