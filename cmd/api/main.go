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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/flora-backend/internal/config"
	"github.com/shinyyama/flora-backend/internal/db"
	"github.com/shinyyama/flora-backend/internal/event"
	"github.com/shinyyama/flora-backend/internal/lock"
	"github.com/shinyyama/flora-backend/internal/logger"
	appmw "github.com/shinyyama/flora-backend/internal/middleware"
	"github.com/shinyyama/flora-backend/internal/payment"
	"github.com/shinyyama/flora-backend/internal/repository"
	"github.com/shinyyama/flora-backend/internal/server"
	"github.com/shinyyama/flora-backend/internal/service"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zlog := logger.New(cfg.AppEnv, cfg.LogLevel)
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func newLocker(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		zlog.Info("using in-process order locks")
		return lock.NewKeyedMutex(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zlog.Info("using redis order locks", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedisLocker(client, "flora:lock:", cfg.Redis.LockTTL), func() { _ = client.Close() }, nil
}

func newPublisher(cfg *config.Config, zlog *zap.Logger) (event.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		return event.NewLogPublisher(zlog.Named("events")), func() {}
	}
	p := event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	zlog.Info("publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	return p, func() {
		if err := p.Close(); err != nil {
			zlog.Warn("kafka writer close", zap.Error(err))
		}
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (appmw.TokenVerifier, error) {
	if cfg.Auth.JWTSecret != "" {
		return appmw.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
	return appmw.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredFile)
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(conn); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	locker, closeLocker, err := newLocker(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, closePublisher := newPublisher(cfg, zlog)
	defer closePublisher()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	provider := payment.NewPesapalClient(payment.PesapalConfig{
		BaseURL:        cfg.Payment.PesapalBaseURL,
		ConsumerKey:    cfg.Payment.PesapalConsumerKey,
		ConsumerSecret: cfg.Payment.PesapalConsumerSecret,
		NotificationID: cfg.Payment.PesapalNotificationID,
		CallbackURL:    cfg.Payment.CallbackURL,
		Timeout:        cfg.Payment.ProviderTimeout,
	})

	orderRepo := repository.NewOrderRepository(conn)
	intentRepo := repository.NewPaymentIntentRepository(conn)
	messageRepo := repository.NewMessageRepository(conn)
	flowerRepo := repository.NewFlowerRepository(conn)
	notificationRepo := repository.NewNotificationRepository(conn)

	notifySvc := service.NewNotificationService(notificationRepo, zlog.Named("notify"))
	orderSvc := service.NewOrderService(orderRepo, service.NewFlowerCatalog(flowerRepo), notifySvc, publisher, zlog.Named("orders"))
	paymentSvc := service.NewPaymentService(orderRepo, intentRepo, provider, locker, service.PaymentOptions{
		Currency:        cfg.Payment.Currency,
		ProviderTimeout: cfg.Payment.ProviderTimeout,
	}, notifySvc, publisher, zlog.Named("payments"))
	messageSvc := service.NewMessageService(orderRepo, messageRepo, notifySvc, publisher, zlog.Named("messages"))
	poller := service.NewPaymentPoller(paymentSvc, cfg.Payment.PollInterval, cfg.Payment.PollMaxAttempts, zlog.Named("poller"))

	reaper := service.NewPaymentReaper(paymentSvc, cfg.Payment.IntentTTL, cfg.Payment.ReaperInterval, zlog.Named("reaper"))
	if reaper.Enabled() {
		zlog.Info("payment reaper enabled", zap.Duration("ttl", cfg.Payment.IntentTTL))
		go reaper.Run(ctx)
	}

	srv := server.New(server.Services{
		Orders:        orderSvc,
		Payments:      paymentSvc,
		Poller:        poller,
		Messages:      messageSvc,
		Notifications: notifySvc,
	}, appmw.NewAuthMiddleware(verifier), zlog.Named("http"), cfg.GitSHA, cfg.Build)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("starting server", zap.String("addr", addr))
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
