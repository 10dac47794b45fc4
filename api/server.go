package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"rauction/adapters/ledger"
	"rauction/adapters/metrics"
	"rauction/adapters/oidc"
	redisAdapter "rauction/adapters/redis"
	"rauction/adapters/sse"
	"rauction/auction"
)

type ServerImpl struct {
	engine      *auction.Engine
	sseManager  sse.IConnectionManager[auction.UpdateEvent]
	producer    redisAdapter.IProducer[sse.PublishRequest[auction.UpdateEvent]]
	htmlChecker *bluemonday.Policy
	redisClient *redis.Client
	db          *gorm.DB
	registry    *prometheus.Registry
	metrics     *metrics.AuctionMetrics
	verifier    tokenVerifier
	router      *gin.Engine
	logger      *slog.Logger
	wg          sync.WaitGroup
	cancelFunc  context.CancelFunc
	closeOnce   sync.Once

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"
	logger := slog.Default().With(slog.String("caller", "Server"))
	if config.ID != "" {
		logger = logger.With(slog.String("serverID", config.ID))
	}

	// 初始化 token 驗證器
	verifier, err := newTokenVerifier(config.Auth)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create token verifier, err=%w", op, err)
	}

	// 初始化指標
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auctionMetrics := metrics.New(registry)

	impl := &ServerImpl{
		htmlChecker: bluemonday.StrictPolicy(),
		registry:    registry,
		metrics:     auctionMetrics,
		verifier:    verifier,
		logger:      logger,
		config:      config,
	}

	// 初始化帳本
	auctionLedger, err := impl.openLedger()
	if err != nil {
		impl.release()
		return nil, fmt.Errorf("[%s] Fail to open ledger, err=%w", op, err)
	}

	// 初始化SSE管理器與鎖；設定 Redis 時改用 Redis Stream 在節點間同步事件
	var locker auction.Locker = auction.NewLocalLocker()
	managerOpts := []sse.ManagerOption[auction.UpdateEvent]{
		sse.WithLogger[auction.UpdateEvent](slog.Default()),
		sse.WithMetrics[auction.UpdateEvent](auctionMetrics),
	}
	if config.SSE.BufferSize > 0 {
		managerOpts = append(managerOpts, sse.WithBufferSize[auction.UpdateEvent](config.SSE.BufferSize))
	}
	if config.Redis.Addr != "" {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		producer, consumer, err := newEventStream(impl.redisClient, config.Redis)
		if err != nil {
			impl.release()
			return nil, fmt.Errorf("[%s] Fail to create event stream, err=%w", op, err)
		}
		impl.producer = producer
		managerOpts = append(managerOpts,
			sse.WithPublisher[auction.UpdateEvent](producer),
			sse.WithSubscriber[auction.UpdateEvent](consumer),
		)

		redisLocker, err := redisAdapter.NewLocker(impl.redisClient, config.Redis.KeyPrefix, slog.Default())
		if err != nil {
			impl.release()
			return nil, fmt.Errorf("[%s] Fail to create redis locker, err=%w", op, err)
		}
		locker = auction.ChainLocker{locker, redisLocker}
	}
	sseManager, err := sse.NewConnectionManager(managerOpts...)
	if err != nil {
		impl.release()
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}
	impl.sseManager = sseManager

	// 初始化拍賣引擎
	engineOpts := []auction.EngineOption{
		auction.WithLogger(slog.Default()),
		auction.WithLocker(locker),
		auction.WithNotifier(broadcastNotifier{manager: sseManager}),
		auction.WithMetrics(auctionMetrics),
	}
	if config.Bids.MaxAttempts > 0 {
		engineOpts = append(engineOpts, auction.WithMaxAttempts(config.Bids.MaxAttempts))
	}
	if config.Scheduler.SweepInterval > 0 {
		engineOpts = append(engineOpts, auction.WithSchedulerOptions(
			auction.WithSchedulerSweepInterval(config.Scheduler.SweepInterval),
		))
	}
	engine, err := auction.NewEngine(auctionLedger, engineOpts...)
	if err != nil {
		impl.release()
		return nil, fmt.Errorf("[%s] Fail to create auction engine, err=%w", op, err)
	}
	impl.engine = engine
	impl.router = impl.newRouter()
	return impl, nil
}

// newTokenVerifier 設定 OIDC issuer 時使用 issuer 的 JWKS，否則使用設定的 EdDSA 公鑰
func newTokenVerifier(cfg AuthConfig) (tokenVerifier, error) {
	if cfg.OIDC.IssuerURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		provider, err := oidc.NewProvider(ctx, cfg.OIDC.IssuerURL)
		if err != nil {
			return nil, err
		}
		var opts []oidc.VerifierOption
		if cfg.OIDC.RoleClaim != "" {
			opts = append(opts, oidc.WithRoleClaim(cfg.OIDC.RoleClaim))
		}
		return issuerVerifier{verifier: oidc.NewAccessTokenVerifier(provider, cfg.OIDC.Audience, opts...)}, nil
	}
	if len(cfg.PublicKeyPEM) == 0 {
		return nil, errors.New("auth public key or oidc issuer is required")
	}
	publicKey, err := jwt.ParseEdPublicKeyFromPEM(cfg.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("fail to parse auth public key, err=%w", err)
	}
	return publicKeyVerifier{publicKey: publicKey}, nil
}

func (impl *ServerImpl) openLedger() (auction.Ledger, error) {
	cfg := impl.config.Ledger
	var dialector gorm.Dialector
	gormConfig := &gorm.Config{TranslateError: true}
	switch cfg.Driver {
	case "memory":
		return ledger.NewMemoryLedger(), nil
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	case "", "postgres":
		db := impl.config.DB
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", db.User, db.Password, db.Host, db.Port, db.Database)
		if db.Schema != "" {
			dsn += "&search_path=" + db.Schema
			gormConfig.NamingStrategy = schema.NamingStrategy{TablePrefix: db.Schema + "."}
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("fail to connect to database, err=%w", err)
	}
	impl.db = db
	if cfg.Driver == "sqlite" {
		// SQLite 不支援列鎖，以單一連線序列化所有交易
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("fail to get sql.DB, err=%w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.AutoMigrate {
		if err := ledger.Migrate(db); err != nil {
			return nil, err
		}
	}
	return ledger.NewGormLedger(db)
}

func newEventStream(client *redis.Client, cfg RedisConfig) (*redisAdapter.Producer[sse.PublishRequest[auction.UpdateEvent]], redisAdapter.IConsumer[sse.PublishRequest[auction.UpdateEvent]], error) {
	stream := cfg.KeyPrefix + cfg.StreamKeys.Events
	producerOpts := []redisAdapter.ProducerOption[sse.PublishRequest[auction.UpdateEvent]]{
		redisAdapter.WithProducerLogger[sse.PublishRequest[auction.UpdateEvent]](slog.Default()),
	}
	if cfg.StreamMaxLen > 0 {
		producerOpts = append(producerOpts, redisAdapter.WithProducerMaxLen[sse.PublishRequest[auction.UpdateEvent]](cfg.StreamMaxLen))
	}
	producer, err := redisAdapter.NewProducer(client, stream, producerOpts...)
	if err != nil {
		return nil, nil, err
	}
	consumer, err := redisAdapter.NewConsumer(
		client,
		stream,
		redisAdapter.WithConsumerLogger[sse.PublishRequest[auction.UpdateEvent]](slog.Default()),
	)
	if err != nil {
		return nil, nil, err
	}
	return producer, consumer, nil
}

// Handler 回傳處理所有路由的 http.Handler
func (impl *ServerImpl) Handler() http.Handler {
	return impl.router
}

// Engine 回傳拍賣引擎
func (impl *ServerImpl) Engine() *auction.Engine {
	return impl.engine
}

func (impl *ServerImpl) Start() {
	// 啟動事件發布者與SSE connection manager
	if impl.producer != nil {
		impl.producer.Start()
	}
	impl.sseManager.Start()

	// 啟動排程器，先重建所有 LIVE 拍賣的截止時間
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	impl.wg.Add(1)
	go func() {
		defer impl.wg.Done()
		if err := impl.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			impl.logger.Error("scheduler stopped unexpectedly", slog.Any("error", err))
		}
	}()
	impl.logger.Info("server started", slog.String("ledger", impl.config.Ledger.Driver))
}

// StopStreams 關閉所有 SSE 串流，讓 http.Server.Shutdown 不必等待長連線
func (impl *ServerImpl) StopStreams() {
	impl.sseManager.Done()
}

func (impl *ServerImpl) Close() {
	impl.closeOnce.Do(func() {
		// 停止排程器
		if impl.cancelFunc != nil {
			impl.cancelFunc()
		}
		impl.wg.Wait()
		impl.engine.Shutdown()
		// 關閉sse connection manager與事件發布者
		impl.sseManager.Done()
		if impl.producer != nil {
			impl.producer.Close()
		}
		impl.release()
		impl.logger.Info("server closed")
	})
}

func (impl *ServerImpl) release() {
	if impl.redisClient != nil {
		if err := impl.redisClient.Close(); err != nil {
			impl.logger.Warn("fail to close redis client", slog.Any("error", err))
		}
	}
	if impl.db != nil {
		if sqlDB, err := impl.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				impl.logger.Warn("fail to close database", slog.Any("error", err))
			}
		}
	}
}

type broadcastNotifier struct {
	manager sse.IConnectionManager[auction.UpdateEvent]
}

func (n broadcastNotifier) Publish(_ context.Context, event auction.UpdateEvent) error {
	return n.manager.Publish(event.AuctionID.String(), event)
}
