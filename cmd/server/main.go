package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/go-zookeeper/zk"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rl1809/cart-service/internal/adapter/handler"
	"github.com/rl1809/cart-service/internal/adapter/messaging"
	"github.com/rl1809/cart-service/internal/adapter/storage"
	"github.com/rl1809/cart-service/internal/config"
	"github.com/rl1809/cart-service/internal/core/service"
	"github.com/rl1809/cart-service/internal/logger"
	"github.com/rl1809/cart-service/internal/platform/tracing"
	"github.com/rl1809/cart-service/internal/port"
	"github.com/rl1809/cart-service/migrations"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ServiceName, cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	tracer, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatal("failed to set up tracing", zap.Error(err))
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql")

	if cfg.MySQL.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			log.Fatal("failed to apply schema", zap.Error(err))
		}
		log.Info("schema applied")
	}

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatal("failed to open gorm", zap.Error(err))
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	log.Info("connected to redis")

	// Initialize lock service
	lockOpts := storage.LockOptions{
		RetryCount:  cfg.Lock.RetryCount,
		RetryDelay:  cfg.Lock.RetryDelay,
		RetryJitter: cfg.Lock.RetryJitter,
	}
	var (
		locker port.Locker
		zkConn *zk.Conn
	)
	switch cfg.Lock.Backend {
	case config.LockBackendZookeeper:
		zkConn, _, err = zk.Connect(cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal("failed to connect zookeeper", zap.Error(err))
		}
		locker = storage.NewZookeeperLocker(zkConn, lockOpts)
		log.Info("using zookeeper lock backend", zap.Strings("servers", cfg.Zookeeper.Servers))
	default:
		locker = storage.NewRedisLocker(rdb, lockOpts)
		log.Info("using redis lock backend")
	}

	// Initialize event publisher
	var publisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("publishing checkout events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	} else {
		publisher = messaging.NewLogPublisher(log)
		log.Info("no kafka brokers configured, checkout events are logged")
	}

	// Initialize adapters
	cartRepo := storage.NewMySQLAdapter(db)
	productRepo := storage.NewProductGormAdapter(gdb)
	cache := storage.NewRedisAdapter(rdb)

	// Initialize services
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := service.Telemetry{
		Logger:  log,
		Metrics: service.NewMetrics(registry),
		Tracer:  tracer,
	}

	guard := service.NewLeaseGuard(locker, tel)
	reservations := service.NewReservationEngine(productRepo, guard, service.ReservationConfig{
		LeaseTTL:       cfg.Lock.TTL,
		MaxConcurrency: cfg.Cart.ReserveConcurrency,
	}, tel)
	store := service.NewCartStore(cartRepo, cache, cfg.Cache.CartTTL, tel)
	cartService := service.NewCartService(store, productRepo, reservations, service.CartServiceConfig{
		MaxMutationRetries: cfg.Cart.MaxMutationRetries,
		PricingConcurrency: cfg.Cart.PricingConcurrency,
		EventQueueSize:     cfg.Cart.EventQueueSize,
	}, tel)
	productService := service.NewProductService(productRepo, guard, cfg.Lock.TTL, tel)

	// Start publisher workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.Kafka.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			messaging.Dispatch(id, cartService.GetEventQueue(), publisher, log)
		}(i)
	}
	log.Info("started publisher workers", zap.Int("count", cfg.Kafka.Workers))

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	probes := map[string]handler.Probe{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	if zkConn != nil {
		probes["zookeeper"] = func(context.Context) error {
			if zkConn.State() != zk.StateHasSession {
				return fmt.Errorf("zookeeper session state %s", zkConn.State())
			}
			return nil
		}
	}
	reporter := handler.NewHealthReporter(healthServer, probes, cfg.GRPC.HealthInterval, log)
	healthCtx, stopHealth := context.WithCancel(ctx)
	go reporter.Run(healthCtx)

	// Start gRPC server
	grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", grpcAddr), zap.Error(err))
	}

	go func() {
		log.Info("gRPC server listening", zap.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	handler.NewHTTPHandler(cartService, productService, log).RegisterRoutes(router)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info("shutting down", zap.String("signal", sig.String()))

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	// Stop gRPC server
	stopHealth()
	reporter.Shutdown()
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Close event queue and wait for workers
	cartService.Close()
	wg.Wait()
	if err := publisher.Close(); err != nil {
		log.Error("failed to close publisher", zap.Error(err))
	}
	log.Info("workers stopped")

	// Close connections
	if zkConn != nil {
		zkConn.Close()
	}
	rdb.Close()
	db.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("failed to flush traces", zap.Error(err))
	}
	log.Info("connections closed")
}
