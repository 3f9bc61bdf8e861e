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

	"marketplace/internal/app"
	"marketplace/internal/catalog"
	"marketplace/internal/config"
	"marketplace/internal/credentials"
	"marketplace/internal/events"
	"marketplace/internal/idempotency"
	"marketplace/internal/ledger"
	"marketplace/internal/pkg/auth"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/upload"
	"marketplace/internal/service"
	"marketplace/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func openStorage(l *logger.Logger) (storage.Storage, error) {
	switch config.StorageBackend {
	case "file":
		return storage.NewFileStorage(config.DataDir, l)
	case "postgres":
		return storage.NewPostgreSQL(config.DatabaseURI, l)
	default:
		return nil, errors.New("unknown STORAGE_BACKEND " + config.StorageBackend + ", want file or postgres")
	}
}

func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	if config.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(config.OTLPEndpoint))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func main() {
	var l *logger.Logger
	var err error
	if l, err = logger.CreateLogger(config.LogLevel); err != nil {
		log.Fatal("Failed to create logger:", err)
	}

	ctx := context.Background()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		log.Fatal("Failed to set up tracing:", err)
	}
	defer shutdownTracing(context.Background())

	db, err := openStorage(l)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// A corrupt snapshot stops the process here rather than serving partial data.
	accounts, err := ledger.New(ctx, db, l, config.LockTimeout)
	if err != nil {
		l.Fatal("Failed to restore ledger", zap.Error(err))
	}
	items, err := catalog.New(ctx, db, l, config.LockTimeout)
	if err != nil {
		l.Fatal("Failed to restore catalog", zap.Error(err))
	}
	creds, err := credentials.New(ctx, db, l)
	if err != nil {
		l.Fatal("Failed to restore credentials", zap.Error(err))
	}

	var receipts idempotency.Store = idempotency.NewMemory(idempotency.DefaultTTL)
	if config.RedisAddr != "" {
		redisStore, err := idempotency.NewRedis(ctx, config.RedisAddr, idempotency.DefaultTTL)
		if err != nil {
			l.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisStore.Close()
		receipts = redisStore
	}

	var publisher events.Publisher = events.Nop{}
	if config.NatsURL != "" {
		bus, err := events.ConnectNats(config.NatsURL)
		if err != nil {
			l.Fatal("Failed to connect to nats", zap.Error(err))
		}
		defer bus.Close()
		publisher = bus
	}

	uploads, err := upload.NewStore(config.UploadDir)
	if err != nil {
		log.Fatal(err)
	}

	signer := auth.NewSigner(config.JWTSecret)
	app := app.NewApp(accounts, items, creds, signer, receipts, publisher, app.Options{
		InitialCoins:        config.InitialCoins,
		SingleUnit:          config.SingleUnitItems,
		LockTimeout:         config.LockTimeout,
		RegistrationLimit:   rate.NewLimiter(rate.Every(time.Second), 10),
		RequireRegistration: config.RequireRegistration,
	}, l)
	service := service.NewService(app, uploads, signer, config.ServerRunAddress, l)

	const readHeaderTimeout = 5 * time.Second
	server := &http.Server{Addr: config.ServerRunAddress, Handler: service.NewRouter(), ReadHeaderTimeout: readHeaderTimeout}

	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		const shutdownTimeout = 30 * time.Second
		shutdownCtx, cancel := context.WithTimeout(serverCtx, shutdownTimeout)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	l.Info("marketplace listening", zap.String("address", config.ServerRunAddress), zap.String("storage", config.StorageBackend))
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	<-serverCtx.Done()
}
