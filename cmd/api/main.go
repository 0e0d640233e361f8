package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"freightfloo/api"
	"freightfloo/auth"
	"freightfloo/bid"
	"freightfloo/config"
	"freightfloo/db"
	"freightfloo/logger"
	"freightfloo/notify"
	"freightfloo/payment"
	"freightfloo/refund"
	"freightfloo/shipment"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		l.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		l.Fatal("invalid redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		l.Fatal("redis connection failed", zap.Error(err))
	}

	emitter := notify.NewEmitter()
	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey)
	guard := payment.NewGuard(rdb)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	shipmentSvc := shipment.NewService(pool, shipment.NewRepository(pool), emitter)
	bidSvc := bid.NewService(pool, bid.NewRepository(pool), emitter)
	paymentSvc := payment.NewService(pool, payment.NewRepository(pool), gateway, guard, emitter)
	refundSvc := refund.NewService(pool, refund.NewRepository(pool), gateway, emitter, l)

	publisher := notify.NewKafkaPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic)
	defer publisher.Close()
	relay := notify.NewRelay(pool, publisher, l)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error("outbox relay stopped", zap.Error(err))
		}
	}()

	srv := api.New(cfg, authSvc, api.Handlers{
		Auth:          api.NewAuthHandler(authSvc),
		Shipments:     api.NewShipmentHandler(shipmentSvc),
		Bids:          api.NewBidHandler(bidSvc),
		Payments:      api.NewPaymentHandler(paymentSvc, cfg.Stripe.WebhookSecret),
		Refunds:       api.NewRefundHandler(refundSvc),
		Notifications: api.NewNotificationHandler(pool),
	})

	go func() {
		<-ctx.Done()
		l.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			l.Error("server shutdown failed", zap.Error(err))
		}
	}()

	if err := srv.Run(); err != nil {
		l.Fatal("server failed", zap.Error(err))
	}
	l.Info("shutdown complete")
}
