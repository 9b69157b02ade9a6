package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	httpx "github.com/simonpeter880/uganda-electronic-platform/internal/http"
	"github.com/simonpeter880/uganda-electronic-platform/internal/notify"
	"github.com/simonpeter880/uganda-electronic-platform/internal/payments"
	"github.com/simonpeter880/uganda-electronic-platform/internal/poller"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider/airtel"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider/mtn"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store/postgres"
	"github.com/simonpeter880/uganda-electronic-platform/internal/webhook"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := postgres.MustOpen(ctx, cfg.DB.DSN)
	defer pool.Close()
	txnStore := postgres.NewStore(pool)

	// Redis when configured; the in-process cache still gives single-node
	// deployments working dedup.
	var kv cache.Cache
	if cfg.Redis.Addr != "" {
		kv = cache.NewRedisCache(cfg.Redis.Addr)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-process cache")
		kv = cache.NewMemoryCache()
	}

	mtnAdapter := mtn.New(cfg.MTN, kv)
	airtelAdapter := airtel.New(cfg.Airtel, kv)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.SMS.APIKey != "" {
		notifier = notify.NewSMSClient(cfg.SMS)
	} else {
		log.Warn().Msg("sms credentials not set, notifications disabled")
	}

	svc := payments.NewService(cfg.Payment, txnStore, mtnAdapter, airtelAdapter)
	rec := webhook.NewReconciler(kv, txnStore, notifier)

	go poller.New(txnStore, rec, mtnAdapter, airtelAdapter).Run(ctx)

	r := httpx.NewRouter(httpx.RouterDependencies{
		Config:     cfg,
		Payments:   svc,
		Reconciler: rec,
		MTN:        mtnAdapter,
		Airtel:     airtelAdapter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("payment api listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
}
