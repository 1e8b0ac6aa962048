package appServer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odamigo/eurotrain-booking/config"
	"github.com/odamigo/eurotrain-booking/internal/cache"
	repository "github.com/odamigo/eurotrain-booking/internal/database/postgres"
	"github.com/odamigo/eurotrain-booking/internal/gateway"
	"github.com/odamigo/eurotrain-booking/internal/provider"
	"github.com/odamigo/eurotrain-booking/internal/service"
	"github.com/odamigo/eurotrain-booking/internal/transport"
	"github.com/odamigo/eurotrain-booking/internal/worker"

	"github.com/odamigo/eurotrain-booking/pkg/postgres"
	"github.com/odamigo/eurotrain-booking/pkg/queue"
	"github.com/odamigo/eurotrain-booking/pkg/rabbitMQ"
	"github.com/odamigo/eurotrain-booking/pkg/redis"
	"github.com/odamigo/eurotrain-booking/pkg/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.Idle_timeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func NewServer(cfg *config.Config) {

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)

	// Initialize database
	db, err := postgres.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := postgres.RunMigrations(db); err != nil {
		logrus.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	paymentRepo := repository.NewPaymentRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)

	// Initialize offer/session cache
	var appCache cache.Cache
	if cfg.Cache.Backend == "redis" {
		redisClient, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		appCache, err = cache.NewRedisCache(redisClient, "eurotrain:cache:")
		if err != nil {
			logrus.Fatalf("Failed to initialize Redis cache: %v", err)
		}
		logrus.Info("Redis cache initialized")
	} else {
		appCache = cache.NewMemoryCache(cfg.Cache.SweepInterval)
		logrus.Info("In-memory cache initialized")
	}
	defer appCache.Close()

	// Initialize inventory provider
	var inventoryProvider provider.InventoryProvider
	if cfg.Provider.Mode == "api" {
		inventoryProvider = provider.NewAPIProvider(&cfg.Provider)
		logrus.Infof("API inventory provider initialized: %s", cfg.Provider.BaseURL)
	} else {
		inventoryProvider = provider.NewMockProvider(cfg.Provider.QuoteTTL)
		logrus.Info("Mock inventory provider initialized")
	}

	// Initialize payment gateway
	paymentGateway := gateway.NewHTTPGateway(&cfg.Gateway)

	// Initialize notification publisher
	var notifier rabbitMQ.Publisher
	if cfg.RabbitMQ.Enabled {
		rmq, err := rabbitMQ.NewRabbitMQ(rabbitMQ.RabbitMQConfig{
			URL:       cfg.RabbitMQ.URL,
			QueueName: cfg.RabbitMQ.QueueName,
		})
		if err != nil {
			logrus.Errorf("Failed to connect to RabbitMQ: %v. Continuing without notifications...", err)
		} else {
			notifier = rmq
			defer rmq.Close()
			logrus.Info("RabbitMQ notification publisher initialized")
		}
	} else {
		logrus.Warn("RabbitMQ disabled, notifications will not be published")
	}

	// Initialize task queue
	var redisQueue *queue.RedisQueue
	var taskPublisher service.TaskPublisher

	if cfg.Queue.Enabled {
		redisConfig := queue.DefaultRedisQueueConfig()
		redisConfig.Addr = fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		redisConfig.Password = cfg.Redis.Password
		redisConfig.DB = cfg.Redis.DB
		redisConfig.MainQueue = cfg.Queue.MainQueue
		redisConfig.DelayedQueue = cfg.Queue.DelayedQueue
		redisConfig.DLQ = cfg.Queue.DLQ
		redisConfig.MaxRetries = cfg.Queue.MaxRetries
		redisConfig.BaseDelay = cfg.Queue.BaseDelay

		retryManager := queue.NewRetryManager(cfg.Queue.MaxRetries, cfg.Queue.BaseDelay)

		redisQueue, err = queue.NewRedisQueue(redisConfig, retryManager, nil)
		if err != nil {
			logrus.Errorf("Failed to initialize Redis queue: %v. Continuing without queue...", err)
		} else {
			defer redisQueue.Close()
			logrus.Info("Redis task queue initialized")
			taskPublisher = service.NewQueueAdapter(redisQueue)
		}
	}

	// Initialize services
	searchService := service.NewSearchService(inventoryProvider, appCache, cfg.Cache.OfferTTL)
	checkoutService := service.NewCheckoutService(appCache, searchService, campaignRepo,
		cfg.Pricing.ServiceFeePercent, cfg.Cache.SessionTTL, cfg.Cache.TokenLength)
	settlementService := service.NewSettlementService(paymentRepo, bookingRepo,
		inventoryProvider, paymentGateway, checkoutService, taskPublisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize task handler if queue is available
	if redisQueue != nil {
		taskHandler := queue.NewTaskHandler(settlementService, appCache, notifier, cfg.Worker.BatchSize)

		// Start queue consumer
		go func() {
			if err := redisQueue.Subscribe(ctx, taskHandler.HandleTask); err != nil {
				logrus.Errorf("Queue subscriber error: %v", err)
			}
		}()
		logrus.Info("Queue subscriber started")

		// Периодические задачи сверки и уборки идут через очередь
		reconcileScheduler := scheduler.NewScheduler(redisQueue, cfg.Worker.CleanupInterval)
		go reconcileScheduler.Start(ctx)
		logrus.Info("Reconciliation scheduler started")
	} else {
		// Без очереди брошенные платежи закрывает локальный воркер
		cleanupWorker := worker.NewCleanupWorker(settlementService, appCache,
			cfg.Worker.CleanupInterval, cfg.Worker.BatchSize)
		go cleanupWorker.Start(ctx)
		logrus.Info("Cleanup worker started")
	}

	// Initialize handlers
	searchHandler := transport.NewSearchHandler(searchService)
	checkoutHandler := transport.NewCheckoutHandler(checkoutService)
	settlementHandler := transport.NewSettlementHandler(settlementService)

	var opsHandler *transport.OpsHandler
	if redisQueue != nil && redisQueue.DLQ() != nil {
		opsHandler = transport.NewOpsHandler(redisQueue, redisQueue.DLQ())
		logrus.Info("Queue ops handler initialized")
	}

	// Setup HTTP server
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := new(Server)
	go func() {
		if err := srv.Run(cfg, transport.InitRoutes(searchHandler, checkoutHandler, settlementHandler, opsHandler)); err != nil {
			logrus.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logrus.Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logrus.Print("App Shutting Down")

	if err := srv.Shutdown(context.Background()); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}
}
